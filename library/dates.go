package library

import (
	"database/sql"
	"time"
)

// Calendar dates are stored as TEXT "2006-01-02" and timestamps as RFC3339
// so that SQL comparisons on them are plain string comparisons.
const (
	dateLayout      = "2006-01-02"
	timestampLayout = time.RFC3339
)

// dateOf truncates t to its calendar day in t's own location, returned as
// midnight UTC so that day arithmetic is exact.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatDate(t time.Time) string { return dateOf(t).Format(dateLayout) }

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func formatTimestamp(t time.Time) string { return t.UTC().Format(timestampLayout) }

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// daysBetween is the number of calendar days from a to b (negative if b is
// earlier).
func daysBetween(a, b time.Time) int {
	return int(dateOf(b).Sub(dateOf(a)).Hours() / 24)
}

func nullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
