package library

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveOnlyBorrowedBooks(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")
	book := f.book(t, "On Shelf")

	_, err := f.lm.Reserve(f.ctx, s, s.UserID, book)
	assert.ErrorIs(t, err, ErrReservationNotAllowed)

	_, err = f.lm.Reserve(f.ctx, s, s.UserID, 404)
	assert.ErrorIs(t, err, ErrBookNotFound)

	f.lend(t, s, book)
	_, err = f.lm.Reserve(f.ctx, s, s.UserID, book)
	assert.ErrorIs(t, err, ErrReservationNotAllowed, "cannot queue for your own loan")
}

func TestReserveQueuePositions(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	book := f.book(t, "Queue")
	f.lend(t, holder, book)

	var last int
	for _, login := range []string{"q1", "q2", "q3", "q4"} {
		u := f.student(t, login)
		r, err := f.lm.Reserve(f.ctx, u, u.UserID, book)
		require.NoError(t, err)
		assert.Greater(t, r.QueuePosition, last)
		assert.Equal(t, ReservationActive, r.Status)
		assert.Equal(t, testDay(2025, 4, 9), r.ExpiryDate)
		last = r.QueuePosition
	}
	assert.Equal(t, 4, last)

	q1, err := f.lm.GetUserByLogin(f.ctx, f.admin, "q1")
	require.NoError(t, err)
	p1 := Principal{UserID: q1.ID, Role: RoleStudent}
	_, err = f.lm.Reserve(f.ctx, p1, p1.UserID, book)
	assert.ErrorIs(t, err, ErrAlreadyReserved)

	// Cancelling and rejoining puts the user at the back.
	list, err := f.lm.ListReservations(f.ctx, p1, ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NoError(t, f.lm.CancelReservation(f.ctx, p1, list[0].ID, "changed my mind"))
	r, err := f.lm.Reserve(f.ctx, p1, p1.UserID, book)
	require.NoError(t, err)
	assert.Equal(t, 5, r.QueuePosition)

	all, err := f.lm.ListReservations(f.ctx, f.admin, ReservationFilter{BookID: book, Status: ReservationActive})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].QueuePosition, all[i-1].QueuePosition)
	}
}

func TestExpiredReservationDisplaysExpiredAndCanBeCancelled(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	s := f.student(t, "s1")
	book := f.book(t, "Slow Return")
	f.lend(t, holder, book)
	r, err := f.lm.Reserve(f.ctx, s, s.UserID, book)
	require.NoError(t, err)

	f.clock.AddDays(ReservationValidDays + 1)

	list, err := f.lm.ListReservations(f.ctx, s, ReservationFilter{Status: ReservationExpired})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ReservationActive, list[0].Status, "stored status is untouched")
	assert.Equal(t, ReservationExpired, list[0].EffectiveStatus)
	assert.Equal(t, -1, list[0].DaysUntilExpiry)

	active, err := f.lm.ListReservations(f.ctx, s, ReservationFilter{Status: ReservationActive})
	require.NoError(t, err)
	assert.Empty(t, active)

	stats, err := f.lm.ReservationStats(f.ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, stats.Active)

	assert.ErrorIs(t, f.lm.CancelReservation(f.ctx, s, r.ID, ""), ErrInvalidInput)
	require.NoError(t, f.lm.CancelReservation(f.ctx, s, r.ID, "No longer needed"))
	got, err := f.lm.GetReservation(f.ctx, s, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationCancelled, got.Status)
	assert.Equal(t, "No longer needed", got.CancellationReason)

	assert.ErrorIs(t, f.lm.CancelReservation(f.ctx, s, r.ID, "again"), ErrReservationNotActive)
}

func TestReturnSkipsLapsedReservations(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	early := f.student(t, "early")
	late := f.student(t, "late")
	book := f.book(t, "Skip")
	f.lend(t, holder, book)

	lapsed, err := f.lm.Reserve(f.ctx, early, early.UserID, book)
	require.NoError(t, err)
	f.clock.AddDays(20)
	fresh, err := f.lm.Reserve(f.ctx, late, late.UserID, book)
	require.NoError(t, err)
	f.clock.AddDays(11) // first reservation has lapsed, second has not

	res, err := f.lm.ReturnBook(f.ctx, holder, holder.UserID, book)
	require.NoError(t, err)
	require.NotNil(t, res.ReservationID)
	assert.Equal(t, fresh.ID, *res.ReservationID)

	got, err := f.lm.GetReservation(f.ctx, f.admin, lapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationActive, got.Status)
	assert.Equal(t, ReservationExpired, got.EffectiveStatus(f.clock.Now()))
}

func TestRereserveAfterLapse(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	s := f.student(t, "s1")
	book := f.book(t, "Again")
	f.lend(t, holder, book)
	old, err := f.lm.Reserve(f.ctx, s, s.UserID, book)
	require.NoError(t, err)
	f.clock.AddDays(ReservationValidDays + 2)

	r, err := f.lm.Reserve(f.ctx, s, s.UserID, book)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, r.ID)

	got, err := f.lm.GetReservation(f.ctx, s, old.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationExpired, got.Status)
}

func TestFulfillHeldReservation(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	waiting := f.student(t, "waiting")
	book := f.book(t, "Fulfil")
	f.lend(t, holder, book)
	r, err := f.lm.Reserve(f.ctx, waiting, waiting.UserID, book)
	require.NoError(t, err)

	_, err = f.lm.FulfillReservation(f.ctx, f.admin, r.ID, book, 7)
	assert.ErrorIs(t, err, ErrReservationNotReady, "copy still on loan")

	_, err = f.lm.ReturnBook(f.ctx, holder, holder.UserID, book)
	require.NoError(t, err)

	_, err = f.lm.FulfillReservation(f.ctx, waiting, r.ID, book, 7)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.lm.FulfillReservation(f.ctx, f.admin, r.ID, book, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.lm.FulfillReservation(f.ctx, f.admin, r.ID, book+1, 7)
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, err := f.lm.FulfillReservation(f.ctx, f.admin, r.ID, book, 7)
	require.NoError(t, err)
	assert.Equal(t, testDay(2025, 3, 17), res.DueDate)
	assert.Equal(t, BookBorrowed, f.bookStatus(t, book))

	got, err := f.lm.GetReservation(f.ctx, waiting, r.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationFulfilled, got.Status)
	require.NotNil(t, got.BorrowID)
	assert.Equal(t, res.BorrowID, *got.BorrowID)
	assert.False(t, got.ReadyForPickup())

	_, err = f.lm.FulfillReservation(f.ctx, f.admin, r.ID, book, 7)
	assert.ErrorIs(t, err, ErrReservationNotActive)

	rows, err := f.lm.ListBorrows(f.ctx, waiting, BorrowFilter{Status: "borrowed"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestFulfillActiveReservationWithCopyOnShelf(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	waiting := f.student(t, "waiting")
	book := f.book(t, "Shelf Fulfil")
	f.lend(t, holder, book)
	r, err := f.lm.Reserve(f.ctx, waiting, waiting.UserID, book)
	require.NoError(t, err)

	// The copy was checked in outside the normal return flow.
	_, err = f.lm.db.db.Exec(`UPDATE borrows SET status='returned', return_date='2025-03-10' WHERE book_id=?`, book)
	require.NoError(t, err)
	_, err = f.lm.db.db.Exec(`UPDATE books SET status='available' WHERE id=?`, book)
	require.NoError(t, err)

	res, err := f.lm.FulfillReservation(f.ctx, f.admin, r.ID, book, 0)
	require.NoError(t, err)
	assert.Equal(t, testDay(2025, 3, 24), res.DueDate, "zero period uses the borrowing rule")
}

func TestCancelHeldReservationPassesCopyOn(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	first := f.student(t, "first")
	second := f.student(t, "second")
	book := f.book(t, "Pass On")
	f.lend(t, holder, book)
	r1, err := f.lm.Reserve(f.ctx, first, first.UserID, book)
	require.NoError(t, err)
	r2, err := f.lm.Reserve(f.ctx, second, second.UserID, book)
	require.NoError(t, err)
	_, err = f.lm.ReturnBook(f.ctx, holder, holder.UserID, book)
	require.NoError(t, err)

	assert.ErrorIs(t, f.lm.CancelReservation(f.ctx, second, r1.ID, "not mine"), ErrForbidden)
	require.NoError(t, f.lm.CancelReservation(f.ctx, f.admin, r1.ID, "Not collected"))

	got, err := f.lm.GetReservation(f.ctx, second, r2.ID)
	require.NoError(t, err)
	assert.True(t, got.ReadyForPickup())
	assert.Equal(t, BookReserved, f.bookStatus(t, book))

	var types []NotificationType
	for _, n := range f.sent.all() {
		types = append(types, n.Type)
	}
	assert.Equal(t, []NotificationType{NotifyReservationReady, NotifyReservationCancelled, NotifyReservationReady}, types)

	require.NoError(t, f.lm.CancelReservation(f.ctx, second, r2.ID, "Bought my own"))
	assert.Equal(t, BookAvailable, f.bookStatus(t, book))
}

func TestReleaseLapsedHolds(t *testing.T) {
	f := newFixture(t)
	holder := f.student(t, "holder")
	first := f.student(t, "first")
	second := f.student(t, "second")
	book := f.book(t, "Uncollected")
	f.lend(t, holder, book)
	r1, err := f.lm.Reserve(f.ctx, first, first.UserID, book)
	require.NoError(t, err)
	r2, err := f.lm.Reserve(f.ctx, second, second.UserID, book)
	require.NoError(t, err)
	_, err = f.lm.ReturnBook(f.ctx, holder, holder.UserID, book)
	require.NoError(t, err)

	n, err := f.lm.ReleaseLapsedHolds(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "deadline not reached")

	f.clock.Advance(PickupWindow + time.Minute)
	n, err = f.lm.ReleaseLapsedHolds(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.lm.GetReservation(f.ctx, first, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, ReservationExpired, got.Status)

	next, err := f.lm.GetReservation(f.ctx, second, r2.ID)
	require.NoError(t, err)
	assert.True(t, next.ReadyForPickup())
	assert.Equal(t, BookReserved, f.bookStatus(t, book))
}
