package library

import (
	"context"
)

type CirculationStats struct {
	Borrowed int `json:"borrowed"`
	Overdue  int `json:"overdue"`
	Returned int `json:"returned"`
	Lost     int `json:"lost"`
	Total    int `json:"total"`
}

// ReservationStats counts by effective status.
type ReservationStats struct {
	Active    int `json:"active"`
	Ready     int `json:"ready_for_pickup"`
	Fulfilled int `json:"fulfilled"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

type FineStats struct {
	Unpaid         int   `json:"unpaid"`
	Partial        int   `json:"partial"`
	Paid           int   `json:"paid"`
	UsersWithFines int   `json:"users_with_fines"`
	Outstanding    Money `json:"outstanding"`
	Collected      Money `json:"collected"`
}

// Dashboard is the per-user summary shown after login.
type Dashboard struct {
	Borrowed            int   `json:"borrowed"`
	Overdue             int   `json:"overdue"`
	ActiveReservations  int   `json:"active_reservations"`
	ReadyForPickup      int   `json:"ready_for_pickup"`
	OutstandingFines    Money `json:"outstanding_fines"`
	UnreadNotifications int   `json:"unread_notifications"`
}

func (lm *LibraryManager) CirculationStats(ctx context.Context, p Principal) (*CirculationStats, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	var s CirculationStats
	err := lm.db.db.QueryRowContext(ctx, `SELECT
            COUNT(CASE WHEN status='borrowed' AND due_date >= ?1 THEN 1 END),
            COUNT(CASE WHEN status='borrowed' AND due_date < ?1 THEN 1 END),
            COUNT(CASE WHEN status='returned' THEN 1 END),
            COUNT(CASE WHEN status='lost' THEN 1 END),
            COUNT(*)
        FROM borrows`, formatDate(lm.today())).
		Scan(&s.Borrowed, &s.Overdue, &s.Returned, &s.Lost, &s.Total)
	if err != nil {
		return nil, storeErr(err, "circulation stats")
	}
	return &s, nil
}

func (lm *LibraryManager) ReservationStats(ctx context.Context, p Principal) (*ReservationStats, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	var s ReservationStats
	err := lm.db.db.QueryRowContext(ctx, `SELECT
            COUNT(CASE WHEN status='active' AND expiry_date >= ?1 THEN 1 END),
            COUNT(CASE WHEN status='fulfilled' AND borrow_id IS NULL THEN 1 END),
            COUNT(CASE WHEN status='fulfilled' AND borrow_id IS NOT NULL THEN 1 END),
            COUNT(CASE WHEN status='expired' OR (status='active' AND expiry_date < ?1) THEN 1 END),
            COUNT(CASE WHEN status='cancelled' THEN 1 END),
            COUNT(*)
        FROM reservations`, formatDate(lm.today())).
		Scan(&s.Active, &s.Ready, &s.Fulfilled, &s.Expired, &s.Cancelled, &s.Total)
	if err != nil {
		return nil, storeErr(err, "reservation stats")
	}
	return &s, nil
}

func (lm *LibraryManager) FineStats(ctx context.Context, p Principal) (*FineStats, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	var s FineStats
	err := lm.db.db.QueryRowContext(ctx, `SELECT
            COUNT(CASE WHEN payment_status='unpaid' THEN 1 END),
            COUNT(CASE WHEN payment_status='unpaid' AND amount_paid > 0 THEN 1 END),
            COUNT(CASE WHEN payment_status='paid' THEN 1 END),
            COUNT(DISTINCT CASE WHEN payment_status='unpaid' THEN user_id END),
            COALESCE(SUM(CASE WHEN payment_status='unpaid' THEN balance_due END), 0),
            COALESCE(SUM(amount_paid), 0)
        FROM fines`).
		Scan(&s.Unpaid, &s.Partial, &s.Paid, &s.UsersWithFines, &s.Outstanding, &s.Collected)
	if err != nil {
		return nil, storeErr(err, "fine stats")
	}
	return &s, nil
}

// Dashboard summarises the principal's own loans, reservations, fines and
// notifications.
func (lm *LibraryManager) Dashboard(ctx context.Context, p Principal) (*Dashboard, error) {
	if err := lm.requireSelfOrLibrarian(ctx, p, p.UserID); err != nil {
		return nil, err
	}
	var d Dashboard
	err := lm.db.db.QueryRowContext(ctx, `SELECT
            (SELECT COUNT(*) FROM borrows WHERE user_id=?1 AND status='borrowed'),
            (SELECT COUNT(*) FROM borrows WHERE user_id=?1 AND status='borrowed' AND due_date < ?2),
            (SELECT COUNT(*) FROM reservations WHERE user_id=?1 AND status='active' AND expiry_date >= ?2),
            (SELECT COUNT(*) FROM reservations WHERE user_id=?1 AND status='fulfilled' AND borrow_id IS NULL),
            (SELECT COALESCE(SUM(balance_due), 0) FROM fines WHERE user_id=?1 AND payment_status='unpaid'),
            (SELECT COUNT(*) FROM notifications WHERE user_id=?1 AND read_status=0)`,
		p.UserID, formatDate(lm.today())).
		Scan(&d.Borrowed, &d.Overdue, &d.ActiveReservations, &d.ReadyForPickup, &d.OutstandingFines, &d.UnreadNotifications)
	if err != nil {
		return nil, storeErr(err, "dashboard")
	}
	return &d, nil
}
