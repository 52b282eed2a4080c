package library

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is the stable category of a failure, used by callers to decide how to
// present it.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindPersistence   Kind = "persistence"
)

// Error is the only error type that leaves the package. Message is safe to
// show to a person; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so that sentinels work with errors.Is even when the
// returned error carries a more specific message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of the sentinel with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

var (
	ErrUserInactive          = &Error{Kind: KindAuthorization, Code: "USER_INACTIVE", Message: "user not found or account inactive"}
	ErrForbidden             = &Error{Kind: KindAuthorization, Code: "FORBIDDEN", Message: "not allowed for this account"}
	ErrInvalidCredentials    = &Error{Kind: KindAuthorization, Code: "INVALID_CREDENTIALS", Message: "invalid login id or password"}
	ErrBorrowLimitExceeded   = &Error{Kind: KindConflict, Code: "BORROW_LIMIT_EXCEEDED", Message: "borrowing limit reached"}
	ErrBookUnavailable       = &Error{Kind: KindConflict, Code: "BOOK_UNAVAILABLE", Message: "book is not available for borrowing"}
	ErrAlreadyBorrowed       = &Error{Kind: KindConflict, Code: "ALREADY_BORROWED", Message: "you have already borrowed this book"}
	ErrNotBorrowed           = &Error{Kind: KindConflict, Code: "NOT_BORROWED", Message: "you have not borrowed this book"}
	ErrReservationNotAllowed = &Error{Kind: KindConflict, Code: "RESERVATION_NOT_ALLOWED", Message: "only borrowed books can be reserved"}
	ErrAlreadyReserved       = &Error{Kind: KindConflict, Code: "ALREADY_RESERVED", Message: "you already have a reservation for this book"}
	ErrReservationNotActive  = &Error{Kind: KindConflict, Code: "RESERVATION_NOT_ACTIVE", Message: "reservation is no longer active"}
	ErrReservationNotReady   = &Error{Kind: KindConflict, Code: "RESERVATION_NOT_READY", Message: "book is not held for this reservation"}
	ErrInsufficientPayment   = &Error{Kind: KindConflict, Code: "INSUFFICIENT_PAYMENT", Message: "cash received is less than the amount to pay"}
	ErrFineAlreadyPaid       = &Error{Kind: KindConflict, Code: "FINE_ALREADY_PAID", Message: "fine is already paid"}
	ErrFineAlreadyAssessed   = &Error{Kind: KindConflict, Code: "FINE_ALREADY_ASSESSED", Message: "loan already has an outstanding fine"}
	ErrNothingToAssess       = &Error{Kind: KindConflict, Code: "NOTHING_TO_ASSESS", Message: "loan is not overdue"}
	ErrRenewalNotAllowed     = &Error{Kind: KindConflict, Code: "RENEWAL_NOT_ALLOWED", Message: "loan cannot be renewed"}
	ErrBookInCirculation     = &Error{Kind: KindConflict, Code: "BOOK_IN_CIRCULATION", Message: "book is on loan or held for a reservation"}
	ErrLoginTaken            = &Error{Kind: KindConflict, Code: "LOGIN_TAKEN", Message: "login id already exists"}
	ErrBarcodeTaken          = &Error{Kind: KindConflict, Code: "BARCODE_TAKEN", Message: "barcode is already assigned to another copy"}
	ErrInvalidInput          = &Error{Kind: KindValidation, Code: "INVALID_INPUT", Message: "invalid input"}
	ErrUserNotFound          = &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrBookNotFound          = &Error{Kind: KindNotFound, Code: "BOOK_NOT_FOUND", Message: "book not found"}
	ErrBorrowNotFound        = &Error{Kind: KindNotFound, Code: "BORROW_NOT_FOUND", Message: "borrow record not found"}
	ErrReservationNotFound   = &Error{Kind: KindNotFound, Code: "RESERVATION_NOT_FOUND", Message: "reservation not found"}
	ErrFineNotFound          = &Error{Kind: KindNotFound, Code: "FINE_NOT_FOUND", Message: "fine not found"}
	ErrReceiptNotFound       = &Error{Kind: KindNotFound, Code: "RECEIPT_NOT_FOUND", Message: "receipt not found"}
	ErrNotificationNotFound  = &Error{Kind: KindNotFound, Code: "NOTIFICATION_NOT_FOUND", Message: "notification not found"}
	ErrPersistence           = &Error{Kind: KindPersistence, Code: "PERSISTENCE", Message: "operation failed, please try again"}
)

func invalid(format string, args ...any) error {
	return ErrInvalidInput.WithMessage(format, args...)
}

// storeErr wraps a driver failure. The caller sees the generic message; the
// wrapped cause names the statement that failed.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		Kind:    KindPersistence,
		Code:    ErrPersistence.Code,
		Message: ErrPersistence.Message,
		Err:     pkgerrors.Wrap(err, op),
	}
}

// KindOf returns the Kind of err, or "" when err is not from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the stable error code.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
