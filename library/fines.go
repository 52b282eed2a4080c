package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentRequest is one cash payment against a user's fines. Amounts holds
// the tendered amount for every id in FineIDs; fines are settled in FineIDs
// order.
type PaymentRequest struct {
	UserID       int64
	FineIDs      []int64
	Amounts      map[int64]Money
	CashReceived Money
}

// total validates the request and sums the tendered amounts.
func (r PaymentRequest) total() (Money, error) {
	if r.UserID == 0 {
		return 0, invalid("user is required")
	}
	if len(r.FineIDs) == 0 {
		return 0, invalid("select at least one fine to pay")
	}
	if r.CashReceived <= 0 {
		return 0, invalid("cash received must be greater than zero")
	}
	seen := make(map[int64]bool, len(r.FineIDs))
	var sum Money
	for _, id := range r.FineIDs {
		if seen[id] {
			return 0, invalid("fine %d selected twice", id)
		}
		seen[id] = true
		amt, ok := r.Amounts[id]
		if !ok || amt <= 0 {
			return 0, invalid("enter an amount greater than zero for fine %d", id)
		}
		sum += amt
	}
	return sum, nil
}

// ProcessPayment applies a cash payment to the selected fines and records a
// receipt. Cash short of the total fails before anything is written.
func (lm *LibraryManager) ProcessPayment(ctx context.Context, p Principal, req PaymentRequest) (*Receipt, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	total, err := req.total()
	if err != nil {
		return nil, err
	}
	if req.CashReceived < total {
		return nil, ErrInsufficientPayment.WithMessage("need RM %s more", total-req.CashReceived)
	}

	now := lm.now()
	rc := &Receipt{
		Number:          documentNumber("REC", now),
		UserID:          req.UserID,
		LibrarianID:     p.UserID,
		TotalPaid:       total,
		CashReceived:    req.CashReceived,
		Change:          req.CashReceived - total,
		TransactionDate: now,
	}
	err = lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range req.FineIDs {
			f, err := getFine(ctx, tx, id)
			if err != nil {
				return err
			}
			if f.UserID != req.UserID {
				return ErrFineNotFound.WithMessage("fine %d does not belong to this user", id)
			}
			if f.PaymentStatus == FinePaid {
				return ErrFineAlreadyPaid.WithMessage("fine %d is already paid", id)
			}
			amt := req.Amounts[id]
			f.applyPayment(amt)
			var paidOn any
			if f.PaymentStatus == FinePaid {
				paidOn = formatDate(now)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE fines
                SET amount_paid=?, balance_due=?, payment_status=?, payment_date=COALESCE(?, payment_date), collected_by=?
                WHERE id=?`, f.AmountPaid, f.BalanceDue, f.PaymentStatus, paidOn, p.UserID, f.ID); err != nil {
				return storeErr(err, "update fine payment")
			}
			rc.Lines = append(rc.Lines, ReceiptLine{FineID: f.ID, Amount: amt, BookTitle: f.BookTitle, BalanceDue: f.BalanceDue})
		}

		items, err := json.Marshal(rc.Lines)
		if err != nil {
			return storeErr(err, "encode receipt lines")
		}
		res, err := tx.ExecContext(ctx, `INSERT INTO receipts(receipt_number, user_id, librarian_id, total_amount_paid, cash_received, change_given, transaction_date, items)
            VALUES(?,?,?,?,?,?,?,?)`, rc.Number, rc.UserID, rc.LibrarianID, rc.TotalPaid, rc.CashReceived, rc.Change,
			formatTimestamp(rc.TransactionDate), string(items))
		if err != nil {
			return storeErr(err, "insert receipt")
		}
		rc.ID, err = res.LastInsertId()
		return storeErr(err, "insert receipt id")
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("payment processed", "receipt", rc.Number, "user_id", rc.UserID, "total", rc.TotalPaid.String(), "change", rc.Change.String(), "by", p.UserID)
	return rc, nil
}

// GetReceipt loads a stored receipt by number.
func (lm *LibraryManager) GetReceipt(ctx context.Context, p Principal, number string) (*Receipt, error) {
	var (
		rc         Receipt
		when, item string
	)
	err := lm.db.db.QueryRowContext(ctx, `SELECT id, receipt_number, user_id, librarian_id, total_amount_paid, cash_received, change_given, transaction_date, items
        FROM receipts WHERE receipt_number=?`, strings.TrimSpace(number)).
		Scan(&rc.ID, &rc.Number, &rc.UserID, &rc.LibrarianID, &rc.TotalPaid, &rc.CashReceived, &rc.Change, &when, &item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound.WithMessage("receipt %q not found", number)
	}
	if err != nil {
		return nil, storeErr(err, "get receipt")
	}
	if err := lm.requireSelfOrLibrarian(ctx, p, rc.UserID); err != nil {
		return nil, err
	}
	if rc.TransactionDate, err = parseTimestamp(when); err != nil {
		return nil, storeErr(err, "parse receipt date")
	}
	if err := json.Unmarshal([]byte(item), &rc.Lines); err != nil {
		return nil, storeErr(err, "decode receipt lines")
	}
	return &rc, nil
}

// AssessOverdueFine turns the overdue fine a loan has accrued into a Fine
// record. Amounts already assessed for the loan are deducted, and a loan
// with an unpaid overdue fine must be settled first.
func (lm *LibraryManager) AssessOverdueFine(ctx context.Context, p Principal, borrowID int64) (*Fine, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return nil, err
	}
	today := lm.today()
	var fine *Fine
	err := lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		br, err := getBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		u, err := getUser(ctx, tx, br.UserID)
		if err != nil {
			return err
		}
		rule, err := ruleFor(ctx, tx, u.Role)
		if err != nil {
			return err
		}
		days, accrued := overdue(br, rule, today)
		if accrued <= 0 {
			return ErrNothingToAssess
		}

		var (
			unpaid   int
			assessed Money
		)
		if err := tx.QueryRowContext(ctx, `SELECT
                COUNT(CASE WHEN payment_status = ? THEN 1 END),
                COALESCE(SUM(fine_amount), 0)
            FROM fines WHERE borrow_id=? AND fine_reason LIKE 'Overdue%'`, FineUnpaid, br.ID).Scan(&unpaid, &assessed); err != nil {
			return storeErr(err, "existing overdue fines")
		}
		if unpaid > 0 {
			return ErrFineAlreadyAssessed
		}
		amount := accrued - assessed
		if amount <= 0 {
			return ErrNothingToAssess.WithMessage("overdue fine for this loan is already assessed")
		}

		fine = &Fine{
			UserID:        br.UserID,
			BorrowID:      br.ID,
			FineAmount:    amount,
			BalanceDue:    amount,
			PaymentStatus: FineUnpaid,
			FineReason:    fmt.Sprintf("Overdue %d day(s)", days),
			FineDate:      today,
		}
		fine.ID, err = insertFine(ctx, tx, fine)
		return err
	})
	if err != nil {
		return nil, err
	}
	lm.log.Info("overdue fine assessed", "borrow_id", borrowID, "fine_id", fine.ID, "amount", fine.FineAmount.String())
	return fine, nil
}

func (lm *LibraryManager) GetFine(ctx context.Context, p Principal, fineID int64) (*Fine, error) {
	f, err := getFine(ctx, lm.db.db, fineID)
	if err != nil {
		return nil, err
	}
	if err := lm.requireSelfOrLibrarian(ctx, p, f.UserID); err != nil {
		return nil, err
	}
	return f, nil
}

// ListFines lists a user's fines, newest first. Librarians may pass userID 0
// for every user.
func (lm *LibraryManager) ListFines(ctx context.Context, p Principal, userID int64, outstandingOnly bool) ([]*Fine, error) {
	if userID == 0 && !p.IsLibrarian() {
		userID = p.UserID
	}
	if err := lm.requireSelfOrLibrarian(ctx, p, userID); err != nil {
		return nil, err
	}
	q := `SELECT ` + fineColumns + ` FROM fines f
        LEFT JOIN borrows br ON br.id = f.borrow_id
        LEFT JOIN books b ON b.id = br.book_id
        WHERE 1=1`
	var args []any
	if userID != 0 {
		q += ` AND f.user_id=?`
		args = append(args, userID)
	}
	if outstandingOnly {
		q += ` AND f.payment_status=?`
		args = append(args, FineUnpaid)
	}
	rows, err := lm.db.db.QueryContext(ctx, q+` ORDER BY f.fine_date DESC, f.id DESC`, args...)
	if err != nil {
		return nil, storeErr(err, "list fines")
	}
	defer rows.Close()
	var out []*Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, storeErr(err, "scan fine")
		}
		out = append(out, f)
	}
	return out, storeErr(rows.Err(), "list fines")
}

// documentNumber builds receipt and letter numbers such as
// REC-2025-03-1A2B3C4D.
func documentNumber(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("2006-01"), suffix)
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

const fineColumns = `f.id, f.user_id, f.borrow_id, f.fine_amount, f.amount_paid, f.balance_due, f.payment_status,
    f.fine_reason, f.fine_date, f.payment_date, f.collected_by, COALESCE(b.title, '')`

func scanFine(s rowScanner) (*Fine, error) {
	var (
		f           Fine
		fined       string
		paidOn      sql.NullString
		collectedBy sql.NullInt64
	)
	if err := s.Scan(&f.ID, &f.UserID, &f.BorrowID, &f.FineAmount, &f.AmountPaid, &f.BalanceDue, &f.PaymentStatus,
		&f.FineReason, &fined, &paidOn, &collectedBy, &f.BookTitle); err != nil {
		return nil, err
	}
	var err error
	if f.FineDate, err = parseDate(fined); err != nil {
		return nil, err
	}
	if f.PaymentDate, err = nullDate(paidOn); err != nil {
		return nil, err
	}
	f.CollectedBy = nullInt64(collectedBy)
	return &f, nil
}

func getFine(ctx context.Context, q querier, id int64) (*Fine, error) {
	f, err := scanFine(q.QueryRowContext(ctx, `SELECT `+fineColumns+` FROM fines f
        LEFT JOIN borrows br ON br.id = f.borrow_id
        LEFT JOIN books b ON b.id = br.book_id
        WHERE f.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFineNotFound.WithMessage("fine %d not found", id)
	}
	if err != nil {
		return nil, storeErr(err, "get fine")
	}
	return f, nil
}

func insertFine(ctx context.Context, q querier, f *Fine) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO fines(user_id, borrow_id, fine_amount, amount_paid, balance_due, payment_status, fine_reason, fine_date)
        VALUES(?,?,?,?,?,?,?,?)`, f.UserID, f.BorrowID, f.FineAmount, f.AmountPaid, f.BalanceDue, f.PaymentStatus,
		f.FineReason, formatDate(f.FineDate))
	if err != nil {
		return 0, storeErr(err, "insert fine")
	}
	id, err := res.LastInsertId()
	return id, storeErr(err, "insert fine id")
}
