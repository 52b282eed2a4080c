package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Every transaction starts as BEGIN IMMEDIATE: writers queue on the
	// database lock (up to busy_timeout) instead of failing on upgrade.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db}, nil
}

// Close closes the DB.
func (d *Database) Close() error {
	return d.db.Close()
}

// WithTx runs fn inside one transaction. It commits when fn returns nil and
// rolls back on any error or panic.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = storeErr(cerr, "commit transaction")
		}
	}()
	return fn(tx)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            login_id TEXT NOT NULL UNIQUE,
            role TEXT NOT NULL CHECK (role IN ('student','staff','librarian')),
            status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active','inactive')),
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            id_number TEXT NOT NULL DEFAULT '',
            class_dept TEXT NOT NULL DEFAULT '',
            password_hash TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL,
            author TEXT NOT NULL,
            isbn TEXT NOT NULL DEFAULT '',
            barcode TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            shelf_location TEXT NOT NULL DEFAULT '',
            publication_year INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL DEFAULT 'available'
                CHECK (status IN ('available','borrowed','reserved','maintenance','disposed'))
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_books_barcode ON books(barcode) WHERE barcode <> '';`,
		`CREATE TABLE IF NOT EXISTS borrowing_rules (
            user_type TEXT PRIMARY KEY,
            max_books_allowed INTEGER NOT NULL,
            borrow_period_days INTEGER NOT NULL,
            overdue_fine_per_day INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS borrows (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            book_id INTEGER NOT NULL REFERENCES books(id),
            borrow_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT,
            status TEXT NOT NULL CHECK (status IN ('borrowed','returned','lost')),
            renewal_count INTEGER NOT NULL DEFAULT 0
        );`,
		// At most one open loan per copy, enforced by the store as well.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_borrows_open_book ON borrows(book_id) WHERE status = 'borrowed';`,
		`CREATE INDEX IF NOT EXISTS idx_borrows_user ON borrows(user_id, status);`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            book_id INTEGER NOT NULL REFERENCES books(id),
            reservation_date TEXT NOT NULL,
            expiry_date TEXT NOT NULL,
            queue_position INTEGER NOT NULL,
            status TEXT NOT NULL CHECK (status IN ('active','fulfilled','expired','cancelled')),
            notification_sent INTEGER NOT NULL DEFAULT 0,
            self_pickup_deadline TEXT,
            pickup_notification_date TEXT,
            cancellation_reason TEXT NOT NULL DEFAULT '',
            borrow_id INTEGER REFERENCES borrows(id)
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_user ON reservations(user_id, book_id) WHERE status = 'active';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reservations_active_queue ON reservations(book_id, queue_position) WHERE status = 'active';`,
		`CREATE TABLE IF NOT EXISTS fines (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            borrow_id INTEGER NOT NULL REFERENCES borrows(id),
            fine_amount INTEGER NOT NULL,
            amount_paid INTEGER NOT NULL DEFAULT 0,
            balance_due INTEGER NOT NULL,
            payment_status TEXT NOT NULL CHECK (payment_status IN ('unpaid','paid')),
            fine_reason TEXT NOT NULL DEFAULT '',
            fine_date TEXT NOT NULL,
            payment_date TEXT,
            collected_by INTEGER REFERENCES users(id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_fines_user ON fines(user_id, payment_status);`,
		`CREATE TABLE IF NOT EXISTS receipts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            receipt_number TEXT NOT NULL UNIQUE,
            user_id INTEGER NOT NULL REFERENCES users(id),
            librarian_id INTEGER NOT NULL REFERENCES users(id),
            total_amount_paid INTEGER NOT NULL,
            cash_received INTEGER NOT NULL,
            change_given INTEGER NOT NULL,
            transaction_date TEXT NOT NULL,
            items TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS fine_letters (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            letter_number TEXT NOT NULL UNIQUE,
            user_id INTEGER NOT NULL REFERENCES users(id),
            librarian_id INTEGER NOT NULL REFERENCES users(id),
            letter_type TEXT NOT NULL CHECK (letter_type IN ('warning','final_notice','replacement_demand')),
            total_fine_amount INTEGER NOT NULL,
            fine_ids TEXT NOT NULL,
            letter_content TEXT NOT NULL,
            issue_date TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id),
            notification_type TEXT NOT NULL,
            title TEXT NOT NULL,
            message TEXT NOT NULL,
            reservation_id INTEGER REFERENCES reservations(id),
            borrow_id INTEGER REFERENCES borrows(id),
            sent_date TEXT NOT NULL,
            read_status INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read_status);`,
		`INSERT OR IGNORE INTO borrowing_rules(user_type, max_books_allowed, borrow_period_days, overdue_fine_per_day) VALUES
            ('student', 3, 14, 20),
            ('staff', 5, 21, 20),
            ('librarian', 5, 30, 0);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
        ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}
