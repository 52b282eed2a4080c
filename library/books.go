package library

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const searchLimit = 50

// NewBook is the input for cataloguing a copy.
type NewBook struct {
	Title           string
	Author          string
	ISBN            string
	Barcode         string
	Category        string
	ShelfLocation   string
	PublicationYear int
}

func (b *NewBook) normalize() error {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.ISBN = strings.TrimSpace(b.ISBN)
	b.Barcode = strings.TrimSpace(b.Barcode)
	b.Category = strings.TrimSpace(b.Category)
	b.ShelfLocation = strings.TrimSpace(b.ShelfLocation)
	if b.Title == "" || b.Author == "" {
		return invalid("title and author are required")
	}
	if b.PublicationYear < 0 {
		return invalid("publication year cannot be negative")
	}
	return nil
}

// AddBook catalogues a new copy as available.
func (lm *LibraryManager) AddBook(ctx context.Context, p Principal, b NewBook) (int64, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return 0, err
	}
	if err := b.normalize(); err != nil {
		return 0, err
	}
	id, err := insertBook(ctx, lm.db.db, b)
	if err != nil {
		return 0, err
	}
	lm.log.Info("book added", "book_id", id, "title", b.Title)
	return id, nil
}

// ImportBooks reads a CSV catalogue with a header row and adds every copy in
// one transaction. Recognised columns: title, author, isbn, barcode,
// category, shelf_location, publication_year. Title and author are required.
func (lm *LibraryManager) ImportBooks(ctx context.Context, p Principal, r io.Reader) (int, error) {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return 0, err
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return 0, invalid("read csv header: %v", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range []string{"title", "author"} {
		if _, ok := cols[req]; !ok {
			return 0, invalid("csv is missing the %q column", req)
		}
	}
	field := func(rec []string, name string) string {
		if i, ok := cols[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var books []NewBook
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, invalid("csv line %d: %v", line, err)
		}
		b := NewBook{
			Title:         field(rec, "title"),
			Author:        field(rec, "author"),
			ISBN:          field(rec, "isbn"),
			Barcode:       field(rec, "barcode"),
			Category:      field(rec, "category"),
			ShelfLocation: field(rec, "shelf_location"),
		}
		if y := strings.TrimSpace(field(rec, "publication_year")); y != "" {
			if b.PublicationYear, err = strconv.Atoi(y); err != nil {
				return 0, invalid("csv line %d: bad publication year %q", line, y)
			}
		}
		if err := b.normalize(); err != nil {
			return 0, invalid("csv line %d: %v", line, err)
		}
		books = append(books, b)
	}

	err = lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, b := range books {
			if _, err := insertBook(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	lm.log.Info("books imported", "count", len(books), "by", p.UserID)
	return len(books), nil
}

func (lm *LibraryManager) GetBook(ctx context.Context, bookID int64) (*Book, error) {
	return getBook(ctx, lm.db.db, bookID)
}

// FindBookByCode looks a copy up by barcode or ISBN. Disposed copies are not
// returned.
func (lm *LibraryManager) FindBookByCode(ctx context.Context, code string) (*Book, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, invalid("barcode or ISBN is required")
	}
	b, err := scanBook(lm.db.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books b
        WHERE (b.barcode=? OR b.isbn=?) AND b.status <> ?
        ORDER BY CASE b.status WHEN 'available' THEN 0 ELSE 1 END, b.id LIMIT 1`,
		code, code, BookDisposed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound.WithMessage("no copy with code %q", code)
	}
	return b, storeErr(err, "find book by code")
}

// SearchBooks matches catalogue fields by substring. Disposed copies are
// excluded.
func (lm *LibraryManager) SearchBooks(ctx context.Context, q BookQuery) ([]*Book, error) {
	where, args, err := bookFields.where(q.conditions())
	if err != nil {
		return nil, err
	}
	rows, err := lm.db.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM books b WHERE 1=1`+where+` ORDER BY b.title, b.id LIMIT `+strconv.Itoa(searchLimit),
		args...)
	if err != nil {
		return nil, storeErr(err, "search books")
	}
	defer rows.Close()
	var out []*Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, storeErr(err, "scan book")
		}
		out = append(out, b)
	}
	return out, storeErr(rows.Err(), "search books")
}

// SetBookStatus moves a copy between shelf states. Copies that are on loan
// or held for a reservation change status only through circulation.
func (lm *LibraryManager) SetBookStatus(ctx context.Context, p Principal, bookID int64, status BookStatus) error {
	if err := lm.requireLibrarian(ctx, p); err != nil {
		return err
	}
	switch status {
	case BookAvailable, BookMaintenance, BookDisposed:
	default:
		return invalid("status %q cannot be set directly", status)
	}
	return lm.db.WithTx(ctx, func(tx *sql.Tx) error {
		b, err := getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if b.Status == BookBorrowed || b.Status == BookReserved {
			return ErrBookInCirculation.WithMessage("%q is %s", b.Title, b.Status)
		}
		return setBookStatus(ctx, tx, bookID, status)
	})
}

// ---------------------------------------------------------------------------
// SQL
// ---------------------------------------------------------------------------

const bookColumns = `b.id, b.title, b.author, b.isbn, b.barcode, b.category, b.shelf_location, b.publication_year, b.status`

func scanBook(s rowScanner) (*Book, error) {
	var b Book
	if err := s.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Barcode, &b.Category,
		&b.ShelfLocation, &b.PublicationYear, &b.Status); err != nil {
		return nil, err
	}
	return &b, nil
}

func getBook(ctx context.Context, q querier, id int64) (*Book, error) {
	b, err := scanBook(q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books b WHERE b.id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound.WithMessage("book %d not found", id)
	}
	return b, storeErr(err, "get book")
}

func insertBook(ctx context.Context, q querier, b NewBook) (int64, error) {
	res, err := q.ExecContext(ctx, `INSERT INTO books(title, author, isbn, barcode, category, shelf_location, publication_year, status)
        VALUES(?,?,?,?,?,?,?,?)`,
		b.Title, b.Author, b.ISBN, b.Barcode, b.Category, b.ShelfLocation, b.PublicationYear, BookAvailable)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrBarcodeTaken.WithMessage("barcode %q is already in use", b.Barcode)
		}
		return 0, storeErr(err, "insert book")
	}
	id, err := res.LastInsertId()
	return id, storeErr(err, "insert book id")
}

func setBookStatus(ctx context.Context, q querier, bookID int64, status BookStatus) error {
	_, err := q.ExecContext(ctx, `UPDATE books SET status=? WHERE id=?`, status, bookID)
	return storeErr(err, fmt.Sprintf("set book %d %s", bookID, status))
}

// transitionBook moves a copy from one status to another only if it is
// still in the expected status. It reports whether the row changed, which
// is how concurrent borrowers of the same copy are told apart.
func transitionBook(ctx context.Context, q querier, bookID int64, from, to BookStatus) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE books SET status=? WHERE id=? AND status=?`, to, bookID, from)
	if err != nil {
		return false, storeErr(err, "transition book status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err, "transition book status")
	}
	return n == 1, nil
}
