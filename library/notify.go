package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Notifier delivers a notification to its user. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n *Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error { return f(ctx, n) }

// MultiNotifier delivers through every notifier in order and reports all
// failures together.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n *Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoreNotifier records notifications in the notifications table, which is
// what users see in the application.
type StoreNotifier struct {
	db *Database
}

func NewStoreNotifier(db *Database) *StoreNotifier { return &StoreNotifier{db: db} }

func (s *StoreNotifier) Notify(ctx context.Context, n *Notification) error {
	res, err := s.db.db.ExecContext(ctx, `INSERT INTO notifications(user_id, notification_type, title, message, reservation_id, borrow_id, sent_date, read_status)
        VALUES(?,?,?,?,?,?,?,0)`, n.UserID, n.Type, n.Title, n.Message, n.ReservationID, n.BorrowID, formatTimestamp(n.SentDate))
	if err != nil {
		return storeErr(err, "insert notification")
	}
	n.ID, err = res.LastInsertId()
	return storeErr(err, "insert notification id")
}

// ListNotifications returns the principal's own notifications, newest first.
func (lm *LibraryManager) ListNotifications(ctx context.Context, p Principal, unreadOnly bool) ([]*Notification, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, p.UserID); err != nil {
		return nil, err
	}
	q := `SELECT id, user_id, notification_type, title, message, reservation_id, borrow_id, sent_date, read_status
        FROM notifications WHERE user_id=?`
	if unreadOnly {
		q += ` AND read_status=0`
	}
	rows, err := lm.db.db.QueryContext(ctx, q+` ORDER BY sent_date DESC, id DESC`, p.UserID)
	if err != nil {
		return nil, storeErr(err, "list notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var (
			n             Notification
			sent          string
			resID, borrID sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &resID, &borrID, &sent, &n.Read); err != nil {
			return nil, storeErr(err, "scan notification")
		}
		if n.SentDate, err = parseTimestamp(sent); err != nil {
			return nil, storeErr(err, "parse notification date")
		}
		n.ReservationID = nullInt64(resID)
		n.BorrowID = nullInt64(borrID)
		out = append(out, &n)
	}
	return out, storeErr(rows.Err(), "list notifications")
}

func (lm *LibraryManager) MarkNotificationRead(ctx context.Context, p Principal, notificationID int64) error {
	if err := lm.requireSelfOrLibrarian(ctx, p, p.UserID); err != nil {
		return err
	}
	res, err := lm.db.db.ExecContext(ctx, `UPDATE notifications SET read_status=1 WHERE id=? AND user_id=?`, notificationID, p.UserID)
	if err != nil {
		return storeErr(err, "mark notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// SendOverdueReminders notifies the borrower of every overdue loan, at most
// once per loan per day. It returns how many reminders were delivered.
func (lm *LibraryManager) SendOverdueReminders(ctx context.Context) (int, error) {
	now := lm.now()
	today := dateOf(now)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	rows, err := lm.db.db.QueryContext(ctx, `SELECT `+borrowColumns+`, b.title, u.role
        FROM borrows br
        JOIN books b ON b.id = br.book_id
        JOIN users u ON u.id = br.user_id
        WHERE br.status=? AND br.due_date < ?
          AND NOT EXISTS (
            SELECT 1 FROM notifications n
            WHERE n.borrow_id = br.id AND n.notification_type=? AND n.sent_date >= ?)
        ORDER BY br.due_date, br.id`,
		BorrowBorrowed, formatDate(today), NotifyOverdueReminder, formatTimestamp(startOfDay))
	if err != nil {
		return 0, storeErr(err, "list overdue loans")
	}
	type due struct {
		br    Borrow
		title string
		role  Role
	}
	var pending []due
	for rows.Next() {
		var d due
		if err := scanBorrowInto(rows, &d.br, &d.title, &d.role); err != nil {
			rows.Close()
			return 0, storeErr(err, "scan overdue loan")
		}
		pending = append(pending, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storeErr(err, "list overdue loans")
	}

	rules, err := loadRules(ctx, lm.db.db)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := range pending {
		d := &pending[i]
		days, fine := overdue(&d.br, rules.get(d.role), today)
		ok := lm.notify(ctx, &Notification{
			UserID:   d.br.UserID,
			Type:     NotifyOverdueReminder,
			Title:    "Overdue book",
			Message:  fmt.Sprintf("%q was due on %s and is %d day(s) overdue. Fine so far: RM %s.", d.title, formatDate(d.br.DueDate), days, fine),
			BorrowID: &d.br.ID,
			SentDate: now,
		})
		if ok {
			sent++
		}
	}
	return sent, nil
}
