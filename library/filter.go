package library

import (
	"fmt"
	"strings"
	"time"
)

// Op is a comparison a Condition applies to a field.
type Op string

const (
	OpEq       Op = "="
	OpNe       Op = "<>"
	OpLt       Op = "<"
	OpLe       Op = "<="
	OpGt       Op = ">"
	OpGe       Op = ">="
	OpContains Op = "contains"
)

// Condition is one (field, operator, value) term. Fields are logical names
// resolved against a whitelist, values are always bound as parameters.
type Condition struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// fieldSet maps logical field names to SQL column expressions.
type fieldSet map[string]string

// where renders the conditions as " AND ..." terms with their arguments.
func (fs fieldSet) where(conds []Condition) (string, []any, error) {
	var (
		sb   strings.Builder
		args []any
	)
	for _, c := range conds {
		col, ok := fs[c.Field]
		if !ok {
			return "", nil, invalid("unknown filter field %q", c.Field)
		}
		switch c.Op {
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			fmt.Fprintf(&sb, " AND %s %s ?", col, c.Op)
			args = append(args, c.Value)
		case OpContains:
			fmt.Fprintf(&sb, " AND %s LIKE ? ESCAPE '\\'", col)
			args = append(args, "%"+escapeLike(fmt.Sprint(c.Value))+"%")
		default:
			return "", nil, invalid("unsupported filter operator %q", c.Op)
		}
	}
	return sb.String(), args, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var borrowFields = fieldSet{
	"status":      "br.status",
	"user_id":     "br.user_id",
	"book_id":     "br.book_id",
	"borrow_date": "br.borrow_date",
	"due_date":    "br.due_date",
}

var reservationFields = fieldSet{
	"status":  "r.status",
	"user_id": "r.user_id",
	"book_id": "r.book_id",
}

var bookFields = fieldSet{
	"title":    "b.title",
	"author":   "b.author",
	"isbn":     "b.isbn",
	"category": "b.category",
	"year":     "b.publication_year",
	"status":   "b.status",
}

// BorrowFilter selects loans for listings. Status is one of "", "all",
// "borrowed", "returned", "overdue" or "lost"; From/To bound borrow_date.
type BorrowFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	UserID int64
	BookID int64
}

func (f BorrowFilter) conditions(today time.Time) ([]Condition, error) {
	var conds []Condition
	switch f.Status {
	case "", "all":
	case "overdue":
		conds = append(conds,
			Where("status", OpEq, string(BorrowBorrowed)),
			Where("due_date", OpLt, formatDate(today)))
	case string(BorrowBorrowed), string(BorrowReturned), string(BorrowLost):
		conds = append(conds, Where("status", OpEq, f.Status))
	default:
		return nil, invalid("unknown borrow status filter %q", f.Status)
	}
	if f.From != nil {
		conds = append(conds, Where("borrow_date", OpGe, formatDate(*f.From)))
	}
	if f.To != nil {
		conds = append(conds, Where("borrow_date", OpLe, formatDate(*f.To)))
	}
	if f.UserID != 0 {
		conds = append(conds, Where("user_id", OpEq, f.UserID))
	}
	if f.BookID != 0 {
		conds = append(conds, Where("book_id", OpEq, f.BookID))
	}
	return conds, nil
}

// ReservationFilter selects reservations. Status matches the effective
// status, so "expired" includes active reservations past their expiry date.
type ReservationFilter struct {
	Status ReservationStatus
	UserID int64
	BookID int64
}

func (f ReservationFilter) conditions() ([]Condition, error) {
	var conds []Condition
	switch f.Status {
	case "", ReservationActive, ReservationFulfilled, ReservationExpired, ReservationCancelled:
	default:
		return nil, invalid("unknown reservation status filter %q", f.Status)
	}
	if f.UserID != 0 {
		conds = append(conds, Where("user_id", OpEq, f.UserID))
	}
	if f.BookID != 0 {
		conds = append(conds, Where("book_id", OpEq, f.BookID))
	}
	return conds, nil
}

// BookQuery is the catalogue search form. Empty fields are ignored.
type BookQuery struct {
	Title    string
	Author   string
	ISBN     string
	Category string
	Year     int
}

func (q BookQuery) conditions() []Condition {
	conds := []Condition{Where("status", OpNe, string(BookDisposed))}
	if s := strings.TrimSpace(q.Title); s != "" {
		conds = append(conds, Where("title", OpContains, s))
	}
	if s := strings.TrimSpace(q.Author); s != "" {
		conds = append(conds, Where("author", OpContains, s))
	}
	if s := strings.TrimSpace(q.ISBN); s != "" {
		conds = append(conds, Where("isbn", OpContains, s))
	}
	if s := strings.TrimSpace(q.Category); s != "" {
		conds = append(conds, Where("category", OpContains, s))
	}
	if q.Year != 0 {
		conds = append(conds, Where("year", OpEq, q.Year))
	}
	return conds
}
