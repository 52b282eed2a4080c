package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Reserve queues the user for a copy that is currently on loan. The new
// reservation goes to the back of the queue and is valid for
// ReservationValidDays.
func (lm *LibraryManager) Reserve(ctx context.Context, p Principal, userID, bookID int64) (*Reservation, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, userID); err != nil {
		return nil, err
	}
	today := lm.today()
	var out *Reservation
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

		b, err := getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if b.Status != BookBorrowed {
			return ErrReservationNotAllowed.WithMessage("%q is %s; only borrowed books can be reserved", b.Title, b.Status)
		}
		if _, err := openBorrowFor(ctx, tx, userID, bookID); err == nil {
			return ErrReservationNotAllowed.WithMessage("you are currently borrowing %q", b.Title)
		} else if !errors.Is(err, ErrNotBorrowed) {
			return err
		}

		existing, err := listReservations(ctx, tx, []Condition{
			Where("user_id", OpEq, userID),
			Where("book_id", OpEq, bookID),
			Where("status", OpEq, string(ReservationActive)),
		})
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.EffectiveStatus(today) == ReservationActive {
				return ErrAlreadyReserved.WithMessage("you are already number %d in the queue for %q", r.QueuePosition, b.Title)
			}
			// A lapsed entry is retired so the user can rejoin at the back.
			if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status=? WHERE id=?`, ReservationExpired, r.ID); err != nil {
				return storeErr(err, "expire lapsed reservation")
			}
		}

		var pos int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(queue_position), 0) + 1 FROM reservations
            WHERE book_id=? AND status=?`, bookID, ReservationActive).Scan(&pos); err != nil {
			return storeErr(err, "next queue position")
		}
		r := &Reservation{
			UserID:          userID,
			BookID:          bookID,
			ReservationDate: today,
			ExpiryDate:      today.AddDate(0, 0, ReservationValidDays),
			QueuePosition:   pos,
			Status:          ReservationActive,
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO reservations(user_id, book_id, reservation_date, expiry_date, queue_position, status)
            VALUES(?,?,?,?,?,?)`, r.UserID, r.BookID, formatDate(r.ReservationDate), formatDate(r.ExpiryDate), r.QueuePosition, r.Status)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyReserved
			}
			return storeErr(err, "insert reservation")
		}
		if r.ID, err = res.LastInsertId(); err != nil {
			return storeErr(err, "insert reservation id")
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("book reserved", "user_id", userID, "book_id", bookID, "reservation_id", out.ID, "queue_position", out.QueuePosition)
	return out, nil
}

// FulfillReservation issues the copy to the reservation holder. The
// reservation must either be active with the copy back on the shelf, or be
// the one the copy is currently held for. A borrowPeriodDays of zero uses
// the holder's borrowing rule.
func (lm *LibraryManager) FulfillReservation(ctx context.Context, p Principal, reservationID, bookID int64, borrowPeriodDays int) (*BorrowResult, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	if borrowPeriodDays < 0 {
		return nil, invalid("borrow period cannot be negative")
	}
	today := lm.today()
	var out *BorrowResult
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		r, err := getReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if r.BookID != bookID {
			return invalid("reservation %d is not for book %d", r.ID, bookID)
		}
		b, err := getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}

		var from BookStatus
		switch {
		case r.Status == ReservationActive && r.EffectiveStatus(today) != ReservationActive:
			return ErrReservationNotActive.WithMessage("reservation expired on %s", formatDate(r.ExpiryDate))
		case r.Status == ReservationActive && b.Status == BookAvailable:
			from = BookAvailable
		case r.ReadyForPickup() && b.Status == BookReserved:
			from = BookReserved
		case r.Status == ReservationActive || r.ReadyForPickup():
			return ErrReservationNotReady.WithMessage("%q is %s", b.Title, b.Status)
		default:
			return ErrReservationNotActive.WithMessage("reservation is %s", r.Status)
		}

		u, err := getUser(ctx, tx, r.UserID)
		if err != nil {
			return err
		}
		if u.Status != AccountActive {
			return ErrUserInactive.WithMessage("account %q is inactive", u.LoginID)
		}
		if borrowPeriodDays == 0 {
			rule, err := ruleFor(ctx, tx, u.Role)
			if err != nil {
				return err
			}
			borrowPeriodDays = rule.BorrowPeriodDays
		}

		ok, err := transitionBook(ctx, tx, bookID, from, BookBorrowed)
		if err != nil {
			return err
		}
		if !ok {
			return ErrReservationNotReady.WithMessage("%q changed status, try again", b.Title)
		}
		due := today.AddDate(0, 0, borrowPeriodDays)
		borrowID, err := insertBorrow(ctx, tx, r.UserID, bookID, today, due)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status=?, borrow_id=? WHERE id=?`,
			ReservationFulfilled, borrowID, r.ID); err != nil {
			return storeErr(err, "fulfil reservation")
		}
		out = &BorrowResult{BorrowID: borrowID, BookTitle: b.Title, DueDate: due}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("reservation fulfilled", "reservation_id", reservationID, "book_id", bookID, "borrow_id", out.BorrowID, "by", p.UserID)
	return out, nil
}

// CancelReservation ends a reservation with a recorded reason. Active
// reservations, including ones past their expiry date, and reservations
// whose copy is being held can be cancelled. A held copy passes to the next
// person in the queue.
func (lm *LibraryManager) CancelReservation(ctx context.Context, p Principal, reservationID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalid("a cancellation reason is required")
	}
	now := lm.now()
	var (
		r    *Reservation
		next *Reservation
	)
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if r, err = getReservation(ctx, tx, reservationID); err != nil {
			return err
		}
		if err := lm.requireSelfOrLibrarian(ctx, p, r.UserID); err != nil {
			return err
		}
		held := r.ReadyForPickup()
		if r.Status != ReservationActive && !held {
			return ErrReservationNotActive.WithMessage("reservation is %s", r.Status)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status=?, cancellation_reason=? WHERE id=?`,
			ReservationCancelled, reason, r.ID); err != nil {
			return storeErr(err, "cancel reservation")
		}
		if held {
			next, err = holdForNext(ctx, tx, r.BookID, now)
		}
		return err
	})
	if err != nil {
		return err
	}
	lm.log.Info("reservation cancelled", "reservation_id", reservationID, "by", p.UserID, "reason", reason)

	if p.UserID != r.UserID {
		lm.notify(ctx, &Notification{
			UserID:        r.UserID,
			Type:          NotifyReservationCancelled,
			Title:         "Reservation cancelled",
			Message:       "Your reservation was cancelled: " + reason + ".",
			ReservationID: &r.ID,
		})
	}
	if next != nil {
		lm.notifyReady(ctx, next)
	}
	return nil
}

// ReleaseLapsedHolds expires held reservations whose pickup deadline has
// passed and passes each copy on to the next person in its queue.
func (lm *LibraryManager) ReleaseLapsedHolds(ctx context.Context) (int, error) {
	now := lm.now()
	var (
		released int
		ready    []*Reservation
	)
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		held, err := listReservations(ctx, tx, []Condition{Where("status", OpEq, string(ReservationFulfilled))})
		if err != nil {
			return err
		}
		for _, r := range held {
			if !r.ReadyForPickup() || r.SelfPickupDeadline == nil || !r.SelfPickupDeadline.Before(now) {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE reservations SET status=?, cancellation_reason=? WHERE id=?`,
				ReservationExpired, "Not collected before pickup deadline", r.ID); err != nil {
				return storeErr(err, "expire hold")
			}
			next, err := holdForNext(ctx, tx, r.BookID, now)
			if err != nil {
				return err
			}
			if next != nil {
				ready = append(ready, next)
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		lm.log.Info("lapsed holds released", "count", released)
	}
	for _, r := range ready {
		lm.notifyReady(ctx, r)
	}
	return released, nil
}

func (lm *LibraryManager) GetReservation(ctx context.Context, p Principal, reservationID int64) (*Reservation, error) {
	r, err := getReservation(ctx, lm.db.db, reservationID)
	if err != nil {
		return nil, err
	}
	if err := lm.requireSelfOrLibrarian(ctx, p, r.UserID); err != nil {
		return nil, err
	}
	return r, nil
}

// ListReservations lists reservations with their effective status. A status
// filter matches the effective status, so "expired" also returns active
// reservations whose expiry date has passed.
func (lm *LibraryManager) ListReservations(ctx context.Context, p Principal, f ReservationFilter) ([]*ReservationRecord, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, p.UserID); err != nil {
		return nil, err
	}
	if !p.IsLibrarian() {
		f.UserID = p.UserID
	}
	conds, err := f.conditions()
	if err != nil {
		return nil, err
	}
	where, args, err := reservationFields.where(conds)
	if err != nil {
		return nil, err
	}
	rows, err := lm.db.db.QueryContext(ctx, `SELECT `+reservationColumns+`,
            b.title, b.status, u.first_name, u.last_name, u.login_id
        FROM reservations r
        JOIN books b ON b.id = r.book_id
        JOIN users u ON u.id = r.user_id
        WHERE 1=1`+where+`
        ORDER BY r.book_id, r.queue_position, r.id`, args...)
	if err != nil {
		return nil, storeErr(err, "list reservations")
	}
	defer rows.Close()

	today := lm.today()
	var out []*ReservationRecord
	for rows.Next() {
		var (
			rec         ReservationRecord
			first, last string
		)
		if err := scanReservationInto(rows, &rec.Reservation,
			&rec.BookTitle, &rec.BookStatus, &first, &last, &rec.ReserverLogin); err != nil {
			return nil, storeErr(err, "scan reservation")
		}
		rec.EffectiveStatus = rec.Reservation.EffectiveStatus(today)
		if f.Status != "" && rec.EffectiveStatus != f.Status {
			continue
		}
		rec.ReserverName = (&User{FirstName: first, LastName: last}).FullName()
		rec.DaysUntilExpiry = daysBetween(today, rec.ExpiryDate)
		out = append(out, &rec)
	}
	return out, storeErr(rows.Err(), "list reservations")
}

// holdForNext puts a copy on hold for the head of its queue, or back on the
// shelf when nobody is waiting. Lapsed entries are skipped, not changed.
func holdForNext(ctx context.Context, tx *sql.Tx, bookID int64, now time.Time) (*Reservation, error) {
	head, err := headOfQueue(ctx, tx, bookID, dateOf(now))
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, setBookStatus(ctx, tx, bookID, BookAvailable)
	}
	if err := setBookStatus(ctx, tx, bookID, BookReserved); err != nil {
		return nil, err
	}
	deadline := now.Add(PickupWindow)
	if _, err := tx.ExecContext(ctx, `UPDATE reservations
        SET status=?, self_pickup_deadline=?, pickup_notification_date=? WHERE id=?`,
		ReservationFulfilled, formatTimestamp(deadline), formatTimestamp(now), head.ID); err != nil {
		return nil, storeErr(err, "hold reservation")
	}
	head.Status = ReservationFulfilled
	head.SelfPickupDeadline = &deadline
	head.PickupNotificationDate = &now
	return head, nil
}

// notifyReady tells a holder their copy is waiting and flags the
// reservation once delivery succeeded.
func (lm *LibraryManager) notifyReady(ctx context.Context, r *Reservation) bool {
	title := "your reserved book"
	if b, err := getBook(ctx, lm.db.db, r.BookID); err == nil {
		title = b.Title
	}
	ok := lm.notify(ctx, &Notification{
		UserID:        r.UserID,
		Type:          NotifyReservationReady,
		Title:         "Reserved book ready for pickup",
		Message:       pickupMessage(title, *r.SelfPickupDeadline),
		ReservationID: &r.ID,
	})
	if !ok {
		return false
	}
	if _, err := lm.db.db.ExecContext(ctx, `UPDATE reservations SET notification_sent=1 WHERE id=?`, r.ID); err != nil {
		lm.log.Warn("flag reservation notified", "reservation_id", r.ID, "err", err)
	}
	return true
}

func pickupMessage(title string, deadline time.Time) string {
	return fmt.Sprintf("%q is now available for you. Please collect it from the library before %s.",
		title, deadline.Format("2006-01-02 15:04"))
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

const reservationColumns = `r.id, r.user_id, r.book_id, r.reservation_date, r.expiry_date, r.queue_position, r.status,
    r.notification_sent, r.self_pickup_deadline, r.pickup_notification_date, r.cancellation_reason, r.borrow_id`

func scanReservationInto(s rowScanner, r *Reservation, extra ...any) error {
	var (
		reserved, expiry   string
		deadline, notified sql.NullString
		borrowID           sql.NullInt64
	)
	dest := append([]any{&r.ID, &r.UserID, &r.BookID, &reserved, &expiry, &r.QueuePosition, &r.Status,
		&r.NotificationSent, &deadline, &notified, &r.CancellationReason, &borrowID}, extra...)
	if err := s.Scan(dest...); err != nil {
		return err
	}
	var err error
	if r.ReservationDate, err = parseDate(reserved); err != nil {
		return err
	}
	if r.ExpiryDate, err = parseDate(expiry); err != nil {
		return err
	}
	if r.SelfPickupDeadline, err = nullTimestamp(deadline); err != nil {
		return err
	}
	if r.PickupNotificationDate, err = nullTimestamp(notified); err != nil {
		return err
	}
	r.BorrowID = nullInt64(borrowID)
	return nil
}

func getReservation(ctx context.Context, q querier, id int64) (*Reservation, error) {
	var r Reservation
	err := scanReservationInto(q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations r WHERE r.id=?`, id), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound.WithMessage("reservation %d not found", id)
	}
	if err != nil {
		return nil, storeErr(err, "get reservation")
	}
	return &r, nil
}

func listReservations(ctx context.Context, q querier, conds []Condition) ([]*Reservation, error) {
	where, args, err := reservationFields.where(conds)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+reservationColumns+` FROM reservations r WHERE 1=1`+where+
		` ORDER BY r.queue_position, r.id`, args...)
	if err != nil {
		return nil, storeErr(err, "list reservations")
	}
	defer rows.Close()
	var out []*Reservation
	for rows.Next() {
		var r Reservation
		if err := scanReservationInto(rows, &r); err != nil {
			return nil, storeErr(err, "scan reservation")
		}
		out = append(out, &r)
	}
	return out, storeErr(rows.Err(), "list reservations")
}

// headOfQueue is the earliest active reservation for the copy that has not
// passed its expiry date, or nil.
func headOfQueue(ctx context.Context, q querier, bookID int64, today time.Time) (*Reservation, error) {
	var r Reservation
	err := scanReservationInto(q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations r
        WHERE r.book_id=? AND r.status=? AND r.expiry_date >= ?
        ORDER BY r.queue_position, r.id LIMIT 1`, bookID, ReservationActive, formatDate(today)), &r)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "head of reservation queue")
	}
	return &r, nil
}
