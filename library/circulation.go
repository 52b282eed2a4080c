package library

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// BorrowResult is returned by a successful borrow.
type BorrowResult struct {
	BorrowID  int64     `json:"borrow_id"`
	BookTitle string    `json:"book_title"`
	DueDate   time.Time `json:"due_date"`
}

// ReturnResult describes what happened to the copy after a return.
type ReturnResult struct {
	BorrowID  int64  `json:"borrow_id"`
	BookTitle string `json:"book_title"`
	// ReservationID is set when the copy was put on hold for the head of
	// the reservation queue.
	ReservationID *int64     `json:"reservation_id,omitempty"`
	ReservedFor   int64      `json:"reserved_for,omitempty"`
	BookStatus    BookStatus `json:"book_status"`
	Notified      bool       `json:"notified"`
}

// Borrow lends an available copy to a user. Preconditions are checked in a
// fixed order and each failure has its own error.
func (lm *LibraryManager) Borrow(ctx context.Context, p Principal, userID, bookID int64) (*BorrowResult, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, userID); err != nil {
		return nil, err
	}
	today := lm.today()
	var out *BorrowResult
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, userID)
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserInactive.WithMessage("user %d not found", userID)
		}
		if err != nil {
			return err
		}
		if u.Status != AccountActive {
			return ErrUserInactive.WithMessage("account %q is inactive", u.LoginID)
		}

		rule, err := ruleFor(ctx, tx, u.Role)
		if err != nil {
			return err
		}
		n, err := countOpenBorrows(ctx, tx, userID)
		if err != nil {
			return err
		}
		if n >= rule.MaxBooksAllowed {
			return ErrBorrowLimitExceeded.WithMessage("borrowing limit of %d books reached", rule.MaxBooksAllowed)
		}

		b, err := getBook(ctx, tx, bookID)
		if errors.Is(err, ErrBookNotFound) {
			return ErrBookUnavailable.WithMessage("book %d not found", bookID)
		}
		if err != nil {
			return err
		}
		if b.Status != BookAvailable {
			return ErrBookUnavailable.WithMessage("%q is %s", b.Title, b.Status)
		}

		if _, err := openBorrowFor(ctx, tx, userID, bookID); err == nil {
			return ErrAlreadyBorrowed
		} else if !errors.Is(err, ErrNotBorrowed) {
			return err
		}

		ok, err := transitionBook(ctx, tx, bookID, BookAvailable, BookBorrowed)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBookUnavailable.WithMessage("%q was just borrowed by someone else", b.Title)
		}
		due := today.AddDate(0, 0, rule.BorrowPeriodDays)
		id, err := insertBorrow(ctx, tx, userID, bookID, today, due)
		if err != nil {
			return err
		}
		out = &BorrowResult{BorrowID: id, BookTitle: b.Title, DueDate: due}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("book borrowed", "user_id", userID, "book_id", bookID, "borrow_id", out.BorrowID, "due", formatDate(out.DueDate))
	return out, nil
}

// ReturnBook closes the user's open loan of the copy. If someone is queued
// for it the copy is held for the head of the queue and that user is
// notified; otherwise it goes back on the shelf.
func (lm *LibraryManager) ReturnBook(ctx context.Context, p Principal, userID, bookID int64) (*ReturnResult, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, userID); err != nil {
		return nil, err
	}
	now := lm.now()
	today := dateOf(now)
	var (
		out    ReturnResult
		holder *Reservation
	)
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		br, err := openBorrowFor(ctx, tx, userID, bookID)
		if err != nil {
			return err
		}
		b, err := getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		out.BorrowID = br.ID
		out.BookTitle = b.Title

		if _, err := tx.ExecContext(ctx, `UPDATE borrows SET status=?, return_date=? WHERE id=? AND status=?`,
			BorrowReturned, formatDate(today), br.ID, BorrowBorrowed); err != nil {
			return storeErr(err, "mark borrow returned")
		}

		holder, err = holdForNext(ctx, tx, bookID, now)
		if err != nil {
			return err
		}
		out.BookStatus = BookAvailable
		if holder != nil {
			out.BookStatus = BookReserved
			out.ReservationID = &holder.ID
			out.ReservedFor = holder.UserID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("book returned", "user_id", userID, "book_id", bookID, "borrow_id", out.BorrowID, "book_status", out.BookStatus)

	if holder != nil {
		out.Notified = lm.notifyReady(ctx, holder)
	}
	return &out, nil
}

// Renew extends an open loan by one borrowing period. Overdue loans, loans
// with someone queued for the copy and loans renewed MaxRenewals times
// cannot be renewed.
func (lm *LibraryManager) Renew(ctx context.Context, p Principal, borrowID int64) (time.Time, error) {
	today := lm.today()
	var due time.Time
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		br, err := getBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if err := lm.requireSelfOrLibrarian(ctx, p, br.UserID); err != nil {
			return err
		}
		if br.Status != BorrowBorrowed {
			return ErrRenewalNotAllowed.WithMessage("loan is %s", br.Status)
		}
		if br.DueDate.Before(today) {
			return ErrRenewalNotAllowed.WithMessage("overdue loans cannot be renewed")
		}
		if br.RenewalCount >= MaxRenewals {
			return ErrRenewalNotAllowed.WithMessage("loan has already been renewed %d times", br.RenewalCount)
		}
		var queued int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE book_id=? AND status=? AND expiry_date >= ?`,
			br.BookID, ReservationActive, formatDate(today)).Scan(&queued); err != nil {
			return storeErr(err, "count queued reservations")
		}
		if queued > 0 {
			return ErrRenewalNotAllowed.WithMessage("other users are waiting for this book")
		}
		u, err := getUser(ctx, tx, br.UserID)
		if err != nil {
			return err
		}
		rule, err := ruleFor(ctx, tx, u.Role)
		if err != nil {
			return err
		}
		due = br.DueDate.AddDate(0, 0, rule.BorrowPeriodDays)
		_, err = tx.ExecContext(ctx, `UPDATE borrows SET due_date=?, renewal_count=renewal_count+1 WHERE id=?`,
			formatDate(due), br.ID)
		return storeErr(err, "renew borrow")
	})
	if err != nil {
		return time.Time{}, err
	}
	lm.log.Info("loan renewed", "borrow_id", borrowID, "due", formatDate(due))
	return due, nil
}

// MarkLost records an open loan as lost. The copy is disposed, a
// replacement fine is raised and every queued reservation for the copy is
// cancelled.
func (lm *LibraryManager) MarkLost(ctx context.Context, p Principal, borrowID int64, replacementCost Money) (*Fine, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	if replacementCost <= 0 {
		return nil, invalid("replacement cost must be greater than zero")
	}
	today := lm.today()
	var (
		fine      *Fine
		cancelled []*Reservation
	)
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		br, err := getBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if br.Status != BorrowBorrowed {
			return ErrNotBorrowed.WithMessage("loan %d is %s", br.ID, br.Status)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE borrows SET status=? WHERE id=?`, BorrowLost, br.ID); err != nil {
			return storeErr(err, "mark borrow lost")
		}
		if err := setBookStatus(ctx, tx, br.BookID, BookDisposed); err != nil {
			return err
		}
		fine = &Fine{
			UserID:        br.UserID,
			BorrowID:      br.ID,
			FineAmount:    replacementCost,
			BalanceDue:    replacementCost,
			PaymentStatus: FineUnpaid,
			FineReason:    "Lost book replacement",
			FineDate:      today,
		}
		if fine.ID, err = insertFine(ctx, tx, fine); err != nil {
			return err
		}

		cancelled, err = listReservations(ctx, tx, []Condition{
			Where("book_id", OpEq, br.BookID),
			Where("status", OpEq, string(ReservationActive)),
		})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE reservations SET status=?, cancellation_reason=? WHERE book_id=? AND status=?`,
			ReservationCancelled, lostReason, br.BookID, ReservationActive)
		return storeErr(err, "cancel reservations for lost book")
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("book marked lost", "borrow_id", borrowID, "fine_id", fine.ID, "cancelled_reservations", len(cancelled))
	for _, r := range cancelled {
		lm.notify(ctx, &Notification{
			UserID:        r.UserID,
			Type:          NotifyReservationCancelled,
			Title:         "Reservation cancelled",
			Message:       "Your reservation was cancelled: " + lostReason + ".",
			ReservationID: &r.ID,
		})
	}
	return fine, nil
}

const lostReason = "Book reported lost"

// ComputeOverdueFine is the overdue fine a loan has accrued, derived from
// the borrower's rule. Open loans accrue up to today, returned loans up to
// their return date, lost loans not at all.
func (lm *LibraryManager) ComputeOverdueFine(ctx context.Context, p Principal, borrowID int64) (Money, error) {
	br, err := getBorrow(ctx, lm.db.db, borrowID)
	if err != nil {
		return 0, err
	}
	if err := lm.requireSelfOrLibrarian(ctx, p, br.UserID); err != nil {
		return 0, err
	}
	u, err := getUser(ctx, lm.db.db, br.UserID)
	if err != nil {
		return 0, err
	}
	rule, err := ruleFor(ctx, lm.db.db, u.Role)
	if err != nil {
		return 0, err
	}
	_, fine := overdue(br, rule, lm.today())
	return fine, nil
}

// overdue returns the days a loan is past due and the fine for them.
func overdue(br *Borrow, rule BorrowingRule, today time.Time) (int, Money) {
	var end time.Time
	switch br.Status {
	case BorrowBorrowed:
		end = today
	case BorrowReturned:
		if br.ReturnDate == nil {
			return 0, 0
		}
		end = *br.ReturnDate
	default:
		return 0, 0
	}
	days := daysBetween(br.DueDate, end)
	if days <= 0 {
		return 0, 0
	}
	return days, rule.OverdueFinePerDay.Times(days)
}

// ListBorrows lists loans matching f with their overdue figures. Patrons
// only ever see their own loans.
func (lm *LibraryManager) ListBorrows(ctx context.Context, p Principal, f BorrowFilter) ([]*BorrowRecord, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, p.UserID); err != nil {
		return nil, err
	}
	if !p.IsLibrarian() {
		f.UserID = p.UserID
	}
	today := lm.today()
	conds, err := f.conditions(today)
	if err != nil {
		return nil, err
	}
	where, args, err := borrowFields.where(conds)
	if err != nil {
		return nil, err
	}
	rules, err := loadRules(ctx, lm.db.db)
	if err != nil {
		return nil, err
	}

	rows, err := lm.db.db.QueryContext(ctx, `SELECT `+borrowColumns+`,
            b.title, b.author, u.first_name, u.last_name, u.login_id, u.role
        FROM borrows br
        JOIN books b ON b.id = br.book_id
        JOIN users u ON u.id = br.user_id
        WHERE 1=1`+where+`
        ORDER BY br.borrow_date DESC, br.id DESC`, args...)
	if err != nil {
		return nil, storeErr(err, "list borrows")
	}
	defer rows.Close()

	var out []*BorrowRecord
	for rows.Next() {
		var (
			rec         BorrowRecord
			first, last string
		)
		if err := scanBorrowInto(rows, &rec.Borrow,
			&rec.BookTitle, &rec.BookAuthor, &first, &last, &rec.BorrowerLogin, &rec.BorrowerRole); err != nil {
			return nil, storeErr(err, "scan borrow")
		}
		rec.BorrowerName = (&User{FirstName: first, LastName: last}).FullName()
		rec.DaysOverdue, rec.CalculatedFine = overdue(&rec.Borrow, rules.get(rec.BorrowerRole), today)
		rec.DisplayStatus = string(rec.Status)
		if rec.Status == BorrowBorrowed && rec.DaysOverdue > 0 {
			rec.DisplayStatus = "overdue"
		}
		out = append(out, &rec)
	}
	return out, storeErr(rows.Err(), "list borrows")
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

const borrowColumns = `br.id, br.user_id, br.book_id, br.borrow_date, br.due_date, br.return_date, br.status, br.renewal_count`

func scanBorrowInto(s rowScanner, br *Borrow, extra ...any) error {
	var (
		borrowed, due string
		returned      sql.NullString
	)
	dest := append([]any{&br.ID, &br.UserID, &br.BookID, &borrowed, &due, &returned, &br.Status, &br.RenewalCount}, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}
	var err error
	if br.BorrowDate, err = parseDate(borrowed); err != nil {
		return err
	}
	if br.DueDate, err = parseDate(due); err != nil {
		return err
	}
	br.ReturnDate, err = nullDate(returned)
	return err
}

func getBorrow(ctx context.Context, q querier, id int64) (*Borrow, error) {
	var br Borrow
	err := scanBorrowInto(q.QueryRowContext(ctx, `SELECT `+borrowColumns+` FROM borrows br WHERE br.id=?`, id), &br)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBorrowNotFound.WithMessage("borrow record %d not found", id)
	}
	if err != nil {
		return nil, storeErr(err, "get borrow")
	}
	return &br, nil
}

// openBorrowFor finds the user's open loan of the copy or ErrNotBorrowed.
func openBorrowFor(ctx context.Context, q querier, userID, bookID int64) (*Borrow, error) {
	var br Borrow
	err := scanBorrowInto(q.QueryRowContext(ctx, `SELECT `+borrowColumns+` FROM borrows br
        WHERE br.user_id=? AND br.book_id=? AND br.status=?`, userID, bookID, BorrowBorrowed), &br)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotBorrowed
	}
	if err != nil {
		return nil, storeErr(err, "find open borrow")
	}
	return &br, nil
}

func countOpenBorrows(ctx context.Context, q querier, userID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM borrows WHERE user_id=? AND status=?`, userID, BorrowBorrowed).Scan(&n)
	return n, storeErr(err, "count open borrows")
}

func insertBorrow(ctx context.Context, q querier, userID, bookID int64, borrowed, due time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO borrows(user_id, book_id, borrow_date, due_date, status, renewal_count)
        VALUES(?,?,?,?,?,0)`, userID, bookID, formatDate(borrowed), formatDate(due), BorrowBorrowed)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrBookUnavailable.WithMessage("book %d is already on loan", bookID)
		}
		return 0, storeErr(err, "insert borrow")
	}
	id, err := res.LastInsertId()
	return id, storeErr(err, "insert borrow id")
}

type ruleSet map[Role]BorrowingRule

func (rs ruleSet) get(role Role) BorrowingRule {
	if r, ok := rs[role]; ok {
		return r
	}
	d := defaultRule
	d.UserType = role
	return d
}

func loadRules(ctx context.Context, q querier) (ruleSet, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_type, max_books_allowed, borrow_period_days, overdue_fine_per_day FROM borrowing_rules`)
	if err != nil {
		return nil, storeErr(err, "load borrowing rules")
	}
	defer rows.Close()
	rs := ruleSet{}
	for rows.Next() {
		var r BorrowingRule
		if err := rows.Scan(&r.UserType, &r.MaxBooksAllowed, &r.BorrowPeriodDays, &r.OverdueFinePerDay); err != nil {
			return nil, storeErr(err, "scan borrowing rule")
		}
		rs[r.UserType] = r
	}
	return rs, storeErr(rows.Err(), "load borrowing rules")
}
