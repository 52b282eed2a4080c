package library

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"time"
)

// LibraryManager is the circulation and fines service. Every operation takes
// the acting Principal explicitly and runs its writes in one transaction.
type LibraryManager struct {
	db       *Database
	now      func() time.Time
	log      *slog.Logger
	notifier Notifier
	extra    []Notifier
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(lm *LibraryManager) { lm.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(lm *LibraryManager) { lm.log = l }
}

// WithNotifier adds a delivery channel after the notifications table, e.g.
// e-mail.
func WithNotifier(n Notifier) Option {
	return func(lm *LibraryManager) { lm.extra = append(lm.extra, n) }
}

// NewLibraryManager opens (or creates) the SQLite database at dbPath.
func NewLibraryManager(dbPath string, opts ...Option) (*LibraryManager, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}
	lm := &LibraryManager{
		db:  db,
		now: time.Now,
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(lm)
	}
	lm.notifier = MultiNotifier(append([]Notifier{NewStoreNotifier(db)}, lm.extra...))
	return lm, nil
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

func (lm *LibraryManager) today() time.Time { return dateOf(lm.now()) }

// BorrowingRule returns the circulation policy for a role, falling back to
// the defaults when no rule is configured.
func (lm *LibraryManager) BorrowingRule(ctx context.Context, role Role) (BorrowingRule, error) {
	return ruleFor(ctx, lm.db.db, role)
}

// notify delivers n after the primary transaction has committed. Failures
// are logged and never returned.
func (lm *LibraryManager) notify(ctx context.Context, n *Notification) bool {
	if u, err := getUser(ctx, lm.db.db, n.UserID); err == nil {
		n.Email = u.Email
	}
	if n.SentDate.IsZero() {
		n.SentDate = lm.now()
	}
	if err := lm.notifier.Notify(ctx, n); err != nil {
		lm.log.Warn("notification failed",
			"user_id", n.UserID, "type", n.Type, "reservation_id", n.ReservationID, "borrow_id", n.BorrowID, "err", err)
		return false
	}
	return true
}

func ruleFor(ctx context.Context, q querier, role Role) (BorrowingRule, error) {
	r := BorrowingRule{UserType: role}
	err := q.QueryRowContext(ctx, `SELECT max_books_allowed, borrow_period_days, overdue_fine_per_day
        FROM borrowing_rules WHERE user_type=?`, role).
		Scan(&r.MaxBooksAllowed, &r.BorrowPeriodDays, &r.OverdueFinePerDay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			d := defaultRule
			d.UserType = role
			return d, nil
		}
		return BorrowingRule{}, storeErr(err, "get borrowing rule")
	}
	return r, nil
}
