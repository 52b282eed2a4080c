package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"school-library/library"
)

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid " + name)
	}
	return id, nil
}

func int64Query(c echo.Context, name string) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}

func dateQuery(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, badRequest(name + " must be a date (YYYY-MM-DD)")
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// accounts
// ---------------------------------------------------------------------------

func (s *Server) login(c echo.Context) error {
	var req loginReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	p, err := s.lm.Authenticate(c.Request().Context(), req.LoginID, req.Password)
	if err != nil {
		return s.fail(c, err)
	}
	token, exp, err := s.tokens.Issue(p)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"token": token, "expires_at": exp, "user_id": p.UserID, "role": p.Role})
}

// setup creates the first librarian on an empty database.
func (s *Server) setup(c echo.Context) error {
	var req createUserReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	id, err := s.lm.AddUser(c.Request().Context(), library.Principal{}, req.toNewUser())
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, echo.Map{"user_id": id})
}

func (s *Server) me(c echo.Context) error {
	p := principal(c)
	u, err := s.lm.GetUser(c.Request().Context(), p, p.UserID)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, u)
}

func (s *Server) dashboard(c echo.Context) error {
	d, err := s.lm.Dashboard(c.Request().Context(), principal(c))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, d)
}

func (s *Server) changePassword(c echo.Context) error {
	var req changePasswordReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.lm.ChangePassword(c.Request().Context(), principal(c), req.Current, req.New); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"message": "password changed"})
}

func (s *Server) listUsers(c echo.Context) error {
	users, err := s.lm.ListUsers(c.Request().Context(), principal(c), library.Role(c.QueryParam("role")))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, users)
}

func (s *Server) createUser(c echo.Context) error {
	var req createUserReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	id, err := s.lm.AddUser(c.Request().Context(), principal(c), req.toNewUser())
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, echo.Map{"user_id": id})
}

func (s *Server) getUser(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	u, err := s.lm.GetUser(c.Request().Context(), principal(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, u)
}

func (s *Server) setUserStatus(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req userStatusReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.lm.SetUserStatus(c.Request().Context(), principal(c), id, req.Status); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"user_id": id, "status": req.Status})
}

// ---------------------------------------------------------------------------
// catalogue
// ---------------------------------------------------------------------------

func (s *Server) searchBooks(c echo.Context) error {
	q := library.BookQuery{
		Title:    c.QueryParam("title"),
		Author:   c.QueryParam("author"),
		ISBN:     c.QueryParam("isbn"),
		Category: c.QueryParam("category"),
	}
	if y := c.QueryParam("year"); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil {
			return badRequest("invalid year")
		}
		q.Year = year
	}
	books, err := s.lm.SearchBooks(c.Request().Context(), q)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, books)
}

func (s *Server) createBook(c echo.Context) error {
	var req createBookReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	id, err := s.lm.AddBook(c.Request().Context(), principal(c), library.NewBook{
		Title: req.Title, Author: req.Author, ISBN: req.ISBN, Barcode: req.Barcode,
		Category: req.Category, ShelfLocation: req.ShelfLocation, PublicationYear: req.PublicationYear,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, echo.Map{"book_id": id})
}

// importBooks takes a CSV catalogue as the raw request body.
func (s *Server) importBooks(c echo.Context) error {
	n, err := s.lm.ImportBooks(c.Request().Context(), principal(c), c.Request().Body)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, echo.Map{"imported": n})
}

func (s *Server) getBook(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	b, err := s.lm.GetBook(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, b)
}

func (s *Server) findBookByCode(c echo.Context) error {
	b, err := s.lm.FindBookByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, b)
}

func (s *Server) setBookStatus(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req bookStatusReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.lm.SetBookStatus(c.Request().Context(), principal(c), id, req.Status); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"book_id": id, "status": req.Status})
}

// ---------------------------------------------------------------------------
// circulation
// ---------------------------------------------------------------------------

func (s *Server) borrow(c echo.Context) error {
	var req loanReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	p := principal(c)
	res, err := s.lm.Borrow(c.Request().Context(), p, req.user(p), req.BookID)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, res)
}

func (s *Server) returnBook(c echo.Context) error {
	var req loanReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	p := principal(c)
	res, err := s.lm.ReturnBook(c.Request().Context(), p, req.user(p), req.BookID)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

func (s *Server) renew(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	due, err := s.lm.Renew(c.Request().Context(), principal(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"borrow_id": id, "due_date": due.Format("2006-01-02")})
}

func (s *Server) markLost(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req lostReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	fine, err := s.lm.MarkLost(c.Request().Context(), principal(c), id, req.ReplacementCost)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, fine)
}

func (s *Server) overdueFine(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	amt, err := s.lm.ComputeOverdueFine(c.Request().Context(), principal(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"borrow_id": id, "fine": amt})
}

func (s *Server) assessFine(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	fine, err := s.lm.AssessOverdueFine(c.Request().Context(), principal(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, fine)
}

func (s *Server) listBorrows(c echo.Context) error {
	var (
		f   = library.BorrowFilter{Status: c.QueryParam("status")}
		err error
	)
	if f.From, err = dateQuery(c, "from"); err != nil {
		return err
	}
	if f.To, err = dateQuery(c, "to"); err != nil {
		return err
	}
	if f.UserID, err = int64Query(c, "user_id"); err != nil {
		return err
	}
	if f.BookID, err = int64Query(c, "book_id"); err != nil {
		return err
	}
	rows, err := s.lm.ListBorrows(c.Request().Context(), principal(c), f)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, rows)
}

// ---------------------------------------------------------------------------
// reservations
// ---------------------------------------------------------------------------

func (s *Server) reserve(c echo.Context) error {
	var req loanReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	p := principal(c)
	r, err := s.lm.Reserve(c.Request().Context(), p, req.user(p), req.BookID)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, r)
}

func (s *Server) getReservation(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	r, err := s.lm.GetReservation(c.Request().Context(), principal(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, r)
}

func (s *Server) listReservations(c echo.Context) error {
	var (
		f   = library.ReservationFilter{Status: library.ReservationStatus(c.QueryParam("status"))}
		err error
	)
	if f.UserID, err = int64Query(c, "user_id"); err != nil {
		return err
	}
	if f.BookID, err = int64Query(c, "book_id"); err != nil {
		return err
	}
	rows, err := s.lm.ListReservations(c.Request().Context(), principal(c), f)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, rows)
}

func (s *Server) fulfill(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req fulfillReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	res, err := s.lm.FulfillReservation(c.Request().Context(), principal(c), id, req.BookID, req.BorrowPeriodDays)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, res)
}

func (s *Server) cancelReservation(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req cancelReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if err := s.lm.CancelReservation(c.Request().Context(), principal(c), id, req.Reason); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"reservation_id": id, "status": library.ReservationCancelled})
}

// ---------------------------------------------------------------------------
// fines
// ---------------------------------------------------------------------------

func (s *Server) listFines(c echo.Context) error {
	userID, err := int64Query(c, "user_id")
	if err != nil {
		return err
	}
	outstanding := c.QueryParam("outstanding") == "true"
	fines, err := s.lm.ListFines(c.Request().Context(), principal(c), userID, outstanding)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, fines)
}

func (s *Server) getFine(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f, err := s.lm.GetFine(c.Request().Context(), principal(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, f)
}

func (s *Server) pay(c echo.Context) error {
	var req paymentReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	rc, err := s.lm.ProcessPayment(c.Request().Context(), principal(c), req.toRequest())
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, rc)
}

func (s *Server) getReceipt(c echo.Context) error {
	rc, err := s.lm.GetReceipt(c.Request().Context(), principal(c), c.Param("number"))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, rc)
}

func (s *Server) generateLetter(c echo.Context) error {
	var req letterReq
	if err := s.bind(c, &req); err != nil {
		return err
	}
	l, err := s.lm.GenerateLetter(c.Request().Context(), principal(c), library.LetterRequest{
		UserID: req.UserID, FineIDs: req.FineIDs, Type: req.Type,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusCreated, l)
}

// ---------------------------------------------------------------------------
// notifications and statistics
// ---------------------------------------------------------------------------

func (s *Server) listNotifications(c echo.Context) error {
	list, err := s.lm.ListNotifications(c.Request().Context(), principal(c), c.QueryParam("unread") == "true")
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, list)
}

func (s *Server) markRead(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := s.lm.MarkNotificationRead(c.Request().Context(), principal(c), id); err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, echo.Map{"notification_id": id, "read": true})
}

func (s *Server) circulationStats(c echo.Context) error {
	st, err := s.lm.CirculationStats(c.Request().Context(), principal(c))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, st)
}

func (s *Server) reservationStats(c echo.Context) error {
	st, err := s.lm.ReservationStats(c.Request().Context(), principal(c))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, st)
}

func (s *Server) fineStats(c echo.Context) error {
	st, err := s.lm.FineStats(c.Request().Context(), principal(c))
	if err != nil {
		return s.fail(c, err)
	}
	return ok(c, http.StatusOK, st)
}
