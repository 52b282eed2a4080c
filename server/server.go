// Package server exposes the library over a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"school-library/library"
)

type Server struct {
	lm     *library.LibraryManager
	tokens *Tokens
	v      *validator.Validate
	log    *slog.Logger
	e      *echo.Echo
}

func New(lm *library.LibraryManager, tokens *Tokens, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	s := &Server{lm: lm, tokens: tokens, v: v, log: log}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.errorHandler
	s.registerMiddlewares(e)
	s.routes(e)
	s.e = e
	return s
}

func (s *Server) routes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	pub := e.Group("/v1")
	pub.POST("/auth/login", s.login)
	pub.POST("/setup", s.setup)

	v1 := e.Group("/v1", s.authenticate)
	v1.GET("/me", s.me)
	v1.GET("/me/dashboard", s.dashboard)
	v1.POST("/me/password", s.changePassword)

	v1.GET("/users", s.listUsers)
	v1.POST("/users", s.createUser)
	v1.GET("/users/:id", s.getUser)
	v1.PUT("/users/:id/status", s.setUserStatus)

	v1.GET("/books", s.searchBooks)
	v1.POST("/books", s.createBook)
	v1.POST("/books/import", s.importBooks)
	v1.GET("/books/code/:code", s.findBookByCode)
	v1.GET("/books/:id", s.getBook)
	v1.PUT("/books/:id/status", s.setBookStatus)

	v1.GET("/borrows", s.listBorrows)
	v1.POST("/borrows", s.borrow)
	v1.POST("/returns", s.returnBook)
	v1.POST("/borrows/:id/renew", s.renew)
	v1.POST("/borrows/:id/lost", s.markLost)
	v1.GET("/borrows/:id/fine", s.overdueFine)
	v1.POST("/borrows/:id/assess", s.assessFine)

	v1.GET("/reservations", s.listReservations)
	v1.POST("/reservations", s.reserve)
	v1.GET("/reservations/:id", s.getReservation)
	v1.POST("/reservations/:id/fulfill", s.fulfill)
	v1.POST("/reservations/:id/cancel", s.cancelReservation)

	v1.GET("/fines", s.listFines)
	v1.GET("/fines/:id", s.getFine)
	v1.POST("/payments", s.pay)
	v1.GET("/receipts/:number", s.getReceipt)
	v1.POST("/letters", s.generateLetter)

	v1.GET("/notifications", s.listNotifications)
	v1.POST("/notifications/:id/read", s.markRead)

	v1.GET("/stats/circulation", s.circulationStats)
	v1.GET("/stats/reservations", s.reservationStats)
	v1.GET("/stats/fines", s.fineStats)
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("starting server", "addr", addr)
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, echo.Map{"success": true, "data": data})
}
