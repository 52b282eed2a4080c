package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldSetWhere(t *testing.T) {
	sql, args, err := borrowFields.where([]Condition{
		Where("status", OpEq, "borrowed"),
		Where("due_date", OpLt, "2025-03-10"),
	})
	require.NoError(t, err)
	assert.Equal(t, " AND br.status = ? AND br.due_date < ?", sql)
	assert.Equal(t, []any{"borrowed", "2025-03-10"}, args)
}

func TestFieldSetWhereRejectsUnknownFieldsAndOps(t *testing.T) {
	_, _, err := borrowFields.where([]Condition{Where("status; DROP TABLE borrows", OpEq, "x")})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = borrowFields.where([]Condition{Where("status", Op("LIKE"), "x")})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestContainsEscapesWildcards(t *testing.T) {
	sql, args, err := bookFields.where([]Condition{Where("title", OpContains, `100%_off\`)})
	require.NoError(t, err)
	assert.Equal(t, ` AND b.title LIKE ? ESCAPE '\'`, sql)
	assert.Equal(t, []any{`%100\%\_off\\%`}, args)
}

func TestBorrowFilterConditions(t *testing.T) {
	today := testDay(2025, 3, 10)

	conds, err := BorrowFilter{Status: "overdue", UserID: 4}.conditions(today)
	require.NoError(t, err)
	assert.Equal(t, []Condition{
		Where("status", OpEq, "borrowed"),
		Where("due_date", OpLt, "2025-03-10"),
		Where("user_id", OpEq, int64(4)),
	}, conds)

	from := testDay(2025, 1, 1)
	conds, err = BorrowFilter{Status: "all", From: &from}.conditions(today)
	require.NoError(t, err)
	assert.Equal(t, []Condition{Where("borrow_date", OpGe, "2025-01-01")}, conds)

	_, err = BorrowFilter{Status: "late"}.conditions(today)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReservationFilterValidatesStatus(t *testing.T) {
	_, err := ReservationFilter{Status: "waiting"}.conditions()
	assert.ErrorIs(t, err, ErrInvalidInput)

	conds, err := ReservationFilter{Status: ReservationExpired, BookID: 9}.conditions()
	require.NoError(t, err)
	assert.Equal(t, []Condition{Where("book_id", OpEq, int64(9))}, conds)
}

func TestBookQueryAlwaysExcludesDisposed(t *testing.T) {
	conds := BookQuery{Title: "  Dune ", Year: 1965}.conditions()
	assert.Equal(t, []Condition{
		Where("status", OpNe, "disposed"),
		Where("title", OpContains, "Dune"),
		Where("year", OpEq, 1965),
	}, conds)
}
