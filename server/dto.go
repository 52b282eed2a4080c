package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"school-library/library"
)

type loginReq struct {
	LoginID  string `json:"login_id" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type changePasswordReq struct {
	Current string `json:"current_password" validate:"required"`
	New     string `json:"new_password" validate:"required,min=6"`
}

type createUserReq struct {
	LoginID     string       `json:"login_id" validate:"required,max=64"`
	Password    string       `json:"password" validate:"required,min=6"`
	Role        library.Role `json:"role" validate:"required,oneof=student staff librarian"`
	FirstName   string       `json:"first_name" validate:"max=100"`
	LastName    string       `json:"last_name" validate:"max=100"`
	Email       string       `json:"email" validate:"omitempty,email"`
	IDNumber    string       `json:"id_number"`
	ClassOrDept string       `json:"class_or_dept"`
}

func (r createUserReq) toNewUser() library.NewUser {
	return library.NewUser{
		LoginID: r.LoginID, Password: r.Password, Role: r.Role,
		FirstName: r.FirstName, LastName: r.LastName, Email: r.Email,
		IDNumber: r.IDNumber, ClassOrDept: r.ClassOrDept,
	}
}

type userStatusReq struct {
	Status library.AccountStatus `json:"status" validate:"required,oneof=active inactive"`
}

type createBookReq struct {
	Title           string `json:"title" validate:"required"`
	Author          string `json:"author" validate:"required"`
	ISBN            string `json:"isbn"`
	Barcode         string `json:"barcode"`
	Category        string `json:"category"`
	ShelfLocation   string `json:"shelf_location"`
	PublicationYear int    `json:"publication_year" validate:"gte=0"`
}

type bookStatusReq struct {
	Status library.BookStatus `json:"status" validate:"required,oneof=available maintenance disposed"`
}

// loanReq is shared by borrow, return and reserve. UserID defaults to the
// caller; librarians may act for someone else at the counter.
type loanReq struct {
	UserID int64 `json:"user_id" validate:"gte=0"`
	BookID int64 `json:"book_id" validate:"required,gt=0"`
}

func (r loanReq) user(p library.Principal) int64 {
	if r.UserID == 0 {
		return p.UserID
	}
	return r.UserID
}

type fulfillReq struct {
	BookID           int64 `json:"book_id" validate:"required,gt=0"`
	BorrowPeriodDays int   `json:"borrow_period_days" validate:"gte=0,lte=365"`
}

type cancelReq struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type lostReq struct {
	ReplacementCost library.Money `json:"replacement_cost" validate:"gt=0"`
}

type paymentLine struct {
	FineID int64         `json:"fine_id" validate:"required,gt=0"`
	Amount library.Money `json:"amount" validate:"gt=0"`
}

type paymentReq struct {
	UserID       int64         `json:"user_id" validate:"required,gt=0"`
	Payments     []paymentLine `json:"payments" validate:"required,min=1,dive"`
	CashReceived library.Money `json:"cash_received" validate:"gt=0"`
}

func (r paymentReq) toRequest() library.PaymentRequest {
	out := library.PaymentRequest{
		UserID:       r.UserID,
		Amounts:      make(map[int64]library.Money, len(r.Payments)),
		CashReceived: r.CashReceived,
	}
	for _, l := range r.Payments {
		out.FineIDs = append(out.FineIDs, l.FineID)
		out.Amounts[l.FineID] = l.Amount
	}
	return out
}

type letterReq struct {
	UserID  int64              `json:"user_id" validate:"required,gt=0"`
	FineIDs []int64            `json:"fine_ids" validate:"required,min=1,dive,gt=0"`
	Type    library.LetterType `json:"letter_type" validate:"required,oneof=warning final_notice replacement_demand"`
}

// bind decodes and validates the request body into dst.
func (s *Server) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return badRequest("invalid request body")
	}
	if err := s.v.Struct(dst); err != nil {
		return badRequest(validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "validation error"
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s%s", fe.Field(), fe.Tag(), paramSuffix(fe.Param())))
		}
	}
	return strings.Join(parts, "; ")
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}
