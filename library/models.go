package library

import "time"

// Role is the kind of account a user holds. It also selects the borrowing
// rule applied to the user's loans.
type Role string

const (
	RoleStudent   Role = "student"
	RoleStaff     Role = "staff"
	RoleLibrarian Role = "librarian"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleStaff, RoleLibrarian:
		return true
	}
	return false
}

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
)

// User is a library account. Accounts are never deleted; they are flipped
// to inactive instead.
type User struct {
	ID           int64         `json:"id"`
	LoginID      string        `json:"login_id"`
	Role         Role          `json:"role"`
	Status       AccountStatus `json:"status"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Email        string        `json:"email,omitempty"`
	IDNumber     string        `json:"id_number,omitempty"`
	ClassOrDept  string        `json:"class_or_dept,omitempty"`
	PasswordHash string        `json:"-"` // Don't serialize password hash
}

// FullName joins the display name fields.
func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

type BookStatus string

const (
	BookAvailable   BookStatus = "available"
	BookBorrowed    BookStatus = "borrowed"
	BookReserved    BookStatus = "reserved"
	BookMaintenance BookStatus = "maintenance"
	BookDisposed    BookStatus = "disposed"
)

// Book is a single physical copy in the catalogue.
type Book struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	ISBN            string     `json:"isbn,omitempty"`
	Barcode         string     `json:"barcode,omitempty"`
	Category        string     `json:"category,omitempty"`
	ShelfLocation   string     `json:"shelf_location,omitempty"`
	PublicationYear int        `json:"publication_year,omitempty"`
	Status          BookStatus `json:"status"`
}

type BorrowStatus string

const (
	BorrowBorrowed BorrowStatus = "borrowed"
	BorrowReturned BorrowStatus = "returned"
	BorrowLost     BorrowStatus = "lost"
)

// Borrow is one loan of a copy to a user.
type Borrow struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	BookID       int64        `json:"book_id"`
	BorrowDate   time.Time    `json:"borrow_date"`
	DueDate      time.Time    `json:"due_date"`
	ReturnDate   *time.Time   `json:"return_date,omitempty"`
	Status       BorrowStatus `json:"status"`
	RenewalCount int          `json:"renewal_count"`
}

// BorrowRecord is a Borrow joined with its user and book for listings,
// plus the overdue figures derived at read time.
type BorrowRecord struct {
	Borrow
	BookTitle      string `json:"book_title"`
	BookAuthor     string `json:"book_author"`
	BorrowerName   string `json:"borrower_name"`
	BorrowerLogin  string `json:"borrower_login"`
	BorrowerRole   Role   `json:"borrower_role"`
	DaysOverdue    int    `json:"days_overdue"`
	CalculatedFine Money  `json:"calculated_fine"`
	DisplayStatus  string `json:"display_status"`
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation is a queue entry for a copy that is currently out.
//
// Status is the stored, authoritative state. A fulfilled reservation with no
// BorrowID is waiting for pickup; once a librarian issues the copy BorrowID
// is set.
type Reservation struct {
	ID                     int64             `json:"id"`
	UserID                 int64             `json:"user_id"`
	BookID                 int64             `json:"book_id"`
	ReservationDate        time.Time         `json:"reservation_date"`
	ExpiryDate             time.Time         `json:"expiry_date"`
	QueuePosition          int               `json:"queue_position"`
	Status                 ReservationStatus `json:"status"`
	NotificationSent       bool              `json:"notification_sent"`
	SelfPickupDeadline     *time.Time        `json:"self_pickup_deadline,omitempty"`
	PickupNotificationDate *time.Time        `json:"pickup_notification_date,omitempty"`
	CancellationReason     string            `json:"cancellation_reason,omitempty"`
	BorrowID               *int64            `json:"borrow_id,omitempty"`
}

// EffectiveStatus derives the status shown to people: an active
// reservation whose expiry date has passed reads as expired.
func (r *Reservation) EffectiveStatus(today time.Time) ReservationStatus {
	if r.Status == ReservationActive && r.ExpiryDate.Before(dateOf(today)) {
		return ReservationExpired
	}
	return r.Status
}

// ReadyForPickup reports whether the copy is being held for this reservation.
func (r *Reservation) ReadyForPickup() bool {
	return r.Status == ReservationFulfilled && r.BorrowID == nil
}

// ReservationRecord is a Reservation joined with user and book details.
type ReservationRecord struct {
	Reservation
	BookTitle       string            `json:"book_title"`
	BookStatus      BookStatus        `json:"book_status"`
	ReserverName    string            `json:"reserver_name"`
	ReserverLogin   string            `json:"reserver_login"`
	EffectiveStatus ReservationStatus `json:"effective_status"`
	DaysUntilExpiry int               `json:"days_until_expiry"`
}

type PaymentStatus string

const (
	FineUnpaid PaymentStatus = "unpaid"
	FinePaid   PaymentStatus = "paid"
)

// Fine is a monetary penalty tied to a loan.
// BalanceDue always equals FineAmount - AmountPaid.
type Fine struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"user_id"`
	BorrowID      int64         `json:"borrow_id"`
	FineAmount    Money         `json:"fine_amount"`
	AmountPaid    Money         `json:"amount_paid"`
	BalanceDue    Money         `json:"balance_due"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	FineReason    string        `json:"fine_reason"`
	FineDate      time.Time     `json:"fine_date"`
	PaymentDate   *time.Time    `json:"payment_date,omitempty"`
	CollectedBy   *int64        `json:"collected_by,omitempty"`
	BookTitle     string        `json:"book_title,omitempty"`
}

// applyPayment records a tendered amount and recomputes balance and status.
func (f *Fine) applyPayment(amount Money) {
	f.AmountPaid += amount
	f.BalanceDue = f.FineAmount - f.AmountPaid
	if f.BalanceDue <= 0 {
		f.PaymentStatus = FinePaid
	} else {
		f.PaymentStatus = FineUnpaid
	}
}

// BorrowingRule is per-role circulation policy. It is reference data.
type BorrowingRule struct {
	UserType          Role  `json:"user_type"`
	MaxBooksAllowed   int   `json:"max_books_allowed"`
	BorrowPeriodDays  int   `json:"borrow_period_days"`
	OverdueFinePerDay Money `json:"overdue_fine_per_day"`
}

const (
	DefaultMaxBooks          = 3
	DefaultBorrowPeriodDays  = 14
	DefaultOverdueFinePerDay = Money(20)
	ReservationValidDays     = 30
	PickupWindow             = 48 * time.Hour
	MaxRenewals              = 2
)

var defaultRule = BorrowingRule{
	MaxBooksAllowed:   DefaultMaxBooks,
	BorrowPeriodDays:  DefaultBorrowPeriodDays,
	OverdueFinePerDay: DefaultOverdueFinePerDay,
}

// ReceiptLine is the amount applied to one fine in a payment.
type ReceiptLine struct {
	FineID     int64  `json:"fine_id"`
	Amount     Money  `json:"amount"`
	BookTitle  string `json:"book_title,omitempty"`
	BalanceDue Money  `json:"balance_due"`
}

// Receipt is the immutable record of a cash payment.
type Receipt struct {
	ID              int64         `json:"id"`
	Number          string        `json:"receipt_number"`
	UserID          int64         `json:"user_id"`
	LibrarianID     int64         `json:"librarian_id"`
	TotalPaid       Money         `json:"total_paid"`
	CashReceived    Money         `json:"cash_received"`
	Change          Money         `json:"change"`
	TransactionDate time.Time     `json:"transaction_date"`
	Lines           []ReceiptLine `json:"lines"`
}

type LetterType string

const (
	LetterWarning           LetterType = "warning"
	LetterFinalNotice       LetterType = "final_notice"
	LetterReplacementDemand LetterType = "replacement_demand"
)

func (t LetterType) Valid() bool {
	switch t {
	case LetterWarning, LetterFinalNotice, LetterReplacementDemand:
		return true
	}
	return false
}

// FineLetter is an issued fine letter. Created once, never updated.
type FineLetter struct {
	ID          int64      `json:"id"`
	Number      string     `json:"letter_number"`
	UserID      int64      `json:"user_id"`
	LibrarianID int64      `json:"librarian_id"`
	Type        LetterType `json:"letter_type"`
	TotalAmount Money      `json:"total_amount"`
	FineIDs     []int64    `json:"fine_ids"`
	Content     string     `json:"letter_content"`
	IssueDate   time.Time  `json:"issue_date"`
}

type NotificationType string

const (
	NotifyReservationReady     NotificationType = "reservation_ready"
	NotifyReservationCancelled NotificationType = "reservation_cancelled"
	NotifyOverdueReminder      NotificationType = "overdue_reminder"
)

// Notification is a message addressed to one user. Email is filled in by
// the sender for delivery and is not stored.
type Notification struct {
	ID            int64            `json:"id"`
	UserID        int64            `json:"user_id"`
	Type          NotificationType `json:"type"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	ReservationID *int64           `json:"reservation_id,omitempty"`
	BorrowID      *int64           `json:"borrow_id,omitempty"`
	SentDate      time.Time        `json:"sent_date"`
	Read          bool             `json:"read"`
	Email         string           `json:"-"`
}
