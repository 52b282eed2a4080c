package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-library/library"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
	Message string          `json:"message"`
}

type testAPI struct {
	t   *testing.T
	srv *Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	lm, err := library.NewLibraryManager(filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testAPI{t: t, srv: New(lm, NewTokens("test-secret", time.Hour), log)}
}

func (a *testAPI) call(method, path, token string, body any) (int, envelope) {
	a.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if _, isJSON := body.(string); !isJSON && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(rec, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func (a *testAPI) data(env envelope, dst any) {
	a.t.Helper()
	require.NoError(a.t, json.Unmarshal(env.Data, dst))
}

func (a *testAPI) login(id, password string) string {
	a.t.Helper()
	code, env := a.call(http.MethodPost, "/v1/auth/login", "", map[string]string{"login_id": id, "password": password})
	require.Equal(a.t, http.StatusOK, code, env.Message)
	var out struct {
		Token string `json:"token"`
	}
	a.data(env, &out)
	return out.Token
}

// bootstrap creates the librarian account and returns its token.
func (a *testAPI) bootstrap() string {
	a.t.Helper()
	code, env := a.call(http.MethodPost, "/v1/setup", "", map[string]string{
		"login_id": "admin", "password": "secret1", "role": "librarian", "first_name": "Aminah",
	})
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	return a.login("admin", "secret1")
}

func (a *testAPI) createUser(admin, login string, role library.Role) int64 {
	a.t.Helper()
	code, env := a.call(http.MethodPost, "/v1/users", admin, map[string]any{
		"login_id": login, "password": "password", "role": role, "email": login + "@school.test",
	})
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	var out struct {
		UserID int64 `json:"user_id"`
	}
	a.data(env, &out)
	return out.UserID
}

func (a *testAPI) createBook(admin, title string) int64 {
	a.t.Helper()
	code, env := a.call(http.MethodPost, "/v1/books", admin, map[string]any{"title": title, "author": "Someone"})
	require.Equal(a.t, http.StatusCreated, code, env.Message)
	var out struct {
		BookID int64 `json:"book_id"`
	}
	a.data(env, &out)
	return out.BookID
}

func TestSetupLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()

	code, env := api.call(http.MethodPost, "/v1/setup", "", map[string]string{
		"login_id": "intruder", "password": "secret1", "role": "librarian",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", env.Error)

	code, env = api.call(http.MethodGet, "/v1/me", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var u library.User
	api.data(env, &u)
	assert.Equal(t, "admin", u.LoginID)
	assert.Equal(t, library.RoleLibrarian, u.Role)

	code, env = api.call(http.MethodPost, "/v1/auth/login", "", map[string]string{"login_id": "admin", "password": "nope"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error)
	assert.Equal(t, "authorization", env.Kind)
}

func TestUnauthenticatedRequests(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.call(http.MethodGet, "/v1/books", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, env.Success)
	assert.Equal(t, "UNAUTHENTICATED", env.Error)

	code, _ = api.call(http.MethodGet, "/v1/books", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	other := NewTokens("another-secret", time.Hour)
	forged, _, err := other.Issue(library.Principal{UserID: 1, Role: library.RoleLibrarian})
	require.NoError(t, err)
	code, _ = api.call(http.MethodGet, "/v1/books", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestBorrowReturnOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()
	api.createUser(admin, "s1", library.RoleStudent)
	api.createUser(admin, "s2", library.RoleStudent)
	book := api.createBook(admin, "Hikayat Hang Tuah")
	s1 := api.login("s1", "password")
	s2 := api.login("s2", "password")

	code, env := api.call(http.MethodPost, "/v1/borrows", s1, map[string]any{"book_id": book})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var res library.BorrowResult
	api.data(env, &res)
	assert.Equal(t, "Hikayat Hang Tuah", res.BookTitle)
	assert.NotZero(t, res.BorrowID)

	code, env = api.call(http.MethodPost, "/v1/borrows", s2, map[string]any{"book_id": book})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "BOOK_UNAVAILABLE", env.Error)
	assert.Equal(t, "conflict", env.Kind)

	code, env = api.call(http.MethodPost, "/v1/reservations", s2, map[string]any{"book_id": book})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var r library.Reservation
	api.data(env, &r)
	assert.Equal(t, 1, r.QueuePosition)

	code, env = api.call(http.MethodPost, "/v1/returns", s1, map[string]any{"book_id": book})
	require.Equal(t, http.StatusOK, code, env.Message)
	var ret library.ReturnResult
	api.data(env, &ret)
	assert.Equal(t, library.BookReserved, ret.BookStatus)
	require.NotNil(t, ret.ReservationID)
	assert.Equal(t, r.ID, *ret.ReservationID)

	code, env = api.call(http.MethodGet, "/v1/notifications?unread=true", s2, nil)
	require.Equal(t, http.StatusOK, code)
	var notes []library.Notification
	api.data(env, &notes)
	require.Len(t, notes, 1)
	assert.Equal(t, library.NotifyReservationReady, notes[0].Type)

	code, env = api.call(http.MethodGet, "/v1/borrows?status=returned", s1, nil)
	require.Equal(t, http.StatusOK, code)
	var rows []library.BorrowRecord
	api.data(env, &rows)
	assert.Len(t, rows, 1)
}

func TestValidationErrors(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()

	code, env := api.call(http.MethodPost, "/v1/borrows", admin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", env.Error)
	assert.Equal(t, "validation", env.Kind)
	assert.Contains(t, env.Message, "book_id is required")

	code, env = api.call(http.MethodPost, "/v1/users", admin, map[string]any{"login_id": "x", "password": "password", "role": "visitor"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "role must be one of")

	code, _ = api.call(http.MethodGet, "/v1/books/abc", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = api.call(http.MethodGet, "/v1/borrows?from=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.call(http.MethodGet, "/v1/books/9999", admin, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "BOOK_NOT_FOUND", env.Error)
}

func TestLibrarianOnlyEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()
	api.createUser(admin, "s1", library.RoleStudent)
	s1 := api.login("s1", "password")

	for _, path := range []string{"/v1/stats/circulation", "/v1/stats/reservations", "/v1/stats/fines", "/v1/users"} {
		code, env := api.call(http.MethodGet, path, s1, nil)
		assert.Equal(t, http.StatusForbidden, code, path)
		assert.Equal(t, "FORBIDDEN", env.Error, path)
	}
	code, _ := api.call(http.MethodPost, "/v1/books", s1, map[string]any{"title": "T", "author": "A"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = api.call(http.MethodGet, "/v1/stats/circulation", admin, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestLostBookPaymentAndLetter(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()
	sid := api.createUser(admin, "s1", library.RoleStudent)
	book := api.createBook(admin, "Atlas Dunia")

	code, env := api.call(http.MethodPost, "/v1/borrows", admin, map[string]any{"user_id": sid, "book_id": book})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var res library.BorrowResult
	api.data(env, &res)

	code, env = api.call(http.MethodPost, "/v1/borrows/"+itoa(res.BorrowID)+"/lost", admin, map[string]any{"replacement_cost": "50.00"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var fine library.Fine
	api.data(env, &fine)
	assert.Equal(t, library.Money(5000), fine.FineAmount)

	code, env = api.call(http.MethodPost, "/v1/letters", admin, map[string]any{
		"user_id": sid, "fine_ids": []int64{fine.ID}, "letter_type": "replacement_demand",
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var letter library.FineLetter
	api.data(env, &letter)
	assert.Contains(t, letter.Content, "RM 50.00")

	code, env = api.call(http.MethodPost, "/v1/payments", admin, map[string]any{
		"user_id": sid, "payments": []map[string]any{{"fine_id": fine.ID, "amount": 50}}, "cash_received": 40,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INSUFFICIENT_PAYMENT", env.Error)

	code, env = api.call(http.MethodPost, "/v1/payments", admin, map[string]any{
		"user_id": sid, "payments": []map[string]any{{"fine_id": fine.ID, "amount": 50}}, "cash_received": 50,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var rc library.Receipt
	api.data(env, &rc)
	assert.Equal(t, library.Money(0), rc.Change)

	s1 := api.login("s1", "password")
	code, env = api.call(http.MethodGet, "/v1/receipts/"+rc.Number, s1, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = api.call(http.MethodGet, "/v1/fines/"+itoa(fine.ID), s1, nil)
	require.Equal(t, http.StatusOK, code)
	api.data(env, &fine)
	assert.Equal(t, library.FinePaid, fine.PaymentStatus)
	assert.Equal(t, library.Money(0), fine.BalanceDue)
}

func TestImportBooksEndpoint(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()

	code, env := api.call(http.MethodPost, "/v1/books/import", admin, "title,author,barcode\nDune,Frank Herbert,D-1\nEmma,Jane Austen,E-1\n")
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = api.call(http.MethodGet, "/v1/books/code/E-1", admin, nil)
	require.Equal(t, http.StatusOK, code)
	var b library.Book
	api.data(env, &b)
	assert.Equal(t, "Emma", b.Title)
}

func TestTokenRoundTrip(t *testing.T) {
	tokens := NewTokens("k", time.Hour)
	p := library.Principal{UserID: 42, Role: library.RoleStaff}
	raw, exp, err := tokens.Issue(p)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	got, err := tokens.Parse("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	tokens.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tokens.Parse(raw)
	assert.Error(t, err, "expired")

	_, err = tokens.Parse("")
	assert.Error(t, err)
}

func TestDeactivatedLibrarianTokenStopsWorking(t *testing.T) {
	api := newTestAPI(t)
	admin := api.bootstrap()
	id := api.createUser(admin, "lib2", library.RoleLibrarian)
	lib2 := api.login("lib2", "password")

	code, _ := api.call(http.MethodGet, "/v1/stats/fines", lib2, nil)
	require.Equal(t, http.StatusOK, code)

	code, env := api.call(http.MethodPut, "/v1/users/"+itoa(id)+"/status", admin, map[string]string{"status": "inactive"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = api.call(http.MethodGet, "/v1/stats/fines", lib2, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "USER_INACTIVE", env.Error)

	code, env = api.call(http.MethodPost, "/v1/books", lib2, map[string]any{"title": "Late Entry", "author": "Someone"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "USER_INACTIVE", env.Error)
}
