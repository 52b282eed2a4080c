package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"school-library/library"
)

var kindStatus = map[library.Kind]int{
	library.KindValidation:    http.StatusBadRequest,
	library.KindAuthorization: http.StatusForbidden,
	library.KindNotFound:      http.StatusNotFound,
	library.KindConflict:      http.StatusConflict,
	library.KindPersistence:   http.StatusInternalServerError,
}

type errorBody struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Kind    library.Kind `json:"kind"`
	Message string       `json:"message"`
}

// fail writes a library error. Anything else is a 500 with a generic
// message; the cause only goes to the log.
func (s *Server) fail(c echo.Context, err error) error {
	var le *library.Error
	if !errors.As(err, &le) {
		s.log.Error("unexpected error", "err", err, "path", c.Path(), "req_id", requestID(c))
		return c.JSON(http.StatusInternalServerError, errorBody{
			Error: library.ErrPersistence.Code, Kind: library.KindPersistence, Message: library.ErrPersistence.Message,
		})
	}
	status, ok := kindStatus[le.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		s.log.Error("request failed", "code", le.Code, "err", le.Err, "path", c.Path(), "req_id", requestID(c))
	} else {
		s.log.Debug("request rejected", "code", le.Code, "msg", le.Message, "path", c.Path())
	}
	return c.JSON(status, errorBody{Error: le.Code, Kind: le.Kind, Message: le.Message})
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// errorHandler keeps echo's own errors (404 routes, 401 from the auth
// middleware, panics) in the same envelope.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = s.fail(c, err)
		return
	}
	msg := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok {
		msg = m
	}
	body := errorBody{Error: "HTTP_ERROR", Message: msg}
	switch he.Code {
	case http.StatusBadRequest:
		body.Error, body.Kind = library.ErrInvalidInput.Code, library.KindValidation
	case http.StatusUnauthorized:
		body.Error, body.Kind = "UNAUTHENTICATED", library.KindAuthorization
	case http.StatusNotFound:
		body.Error, body.Kind = "ROUTE_NOT_FOUND", library.KindNotFound
	case http.StatusMethodNotAllowed:
		body.Error = "METHOD_NOT_ALLOWED"
	}
	_ = c.JSON(he.Code, body)
}
