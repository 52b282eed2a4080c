package library

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in cents. Balances are integer arithmetic so they
// never drift; the string form always carries two decimal places.
type Money int64

// Cents builds a Money from a whole number of cents.
func Cents(c int64) Money { return Money(c) }

func (m Money) String() string {
	sign := ""
	v := uint64(m)
	if m < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// maxWhole is the largest whole-ringgit part that still fits in cents.
const maxWhole = (math.MaxInt64 - 99) / 100

// Times multiplies by a whole count, e.g. days overdue.
func (m Money) Times(n int) Money { return m * Money(n) }

// ParseMoney accepts "50", "50.5", "50.50", "-1.25" and an optional "RM"
// prefix. More than two decimal places is rejected rather than rounded.
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(s), "RM"))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if hasDot && len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	var units int64
	if whole != "" {
		v, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || v > maxWhole {
			return 0, fmt.Errorf("amount %q is too large", s)
		}
		units = v
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)

	total := units*100 + cents
	if neg {
		total = -total
	}
	return Money(total), nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MarshalJSON writes a plain JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted amount.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		return nil
	}
	v, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
