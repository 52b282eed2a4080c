package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"school-library/library"
)

const principalKey = "principal"

func (s *Server) registerMiddlewares(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(accessLog(s.log))
}

func accessLog(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.Info("http",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"req_id", requestID(c),
				"ip", c.RealIP(),
			)
			return nil
		}
	}
}

// authenticate resolves the bearer token to a Principal for the handlers.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := s.tokens.Parse(c.Request().Header.Get(echo.HeaderAuthorization))
		if err != nil {
			s.log.Debug("token rejected", "err", err, "req_id", requestID(c))
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid token")
		}
		c.Set(principalKey, p)
		return next(c)
	}
}

func principal(c echo.Context) library.Principal {
	p, _ := c.Get(principalKey).(library.Principal)
	return p
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
