package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstAccountMustBeLibrarian(t *testing.T) {
	lm := newManager(t)
	ctx := context.Background()

	_, err := lm.AddUser(ctx, Principal{}, NewUser{LoginID: "s1", Password: "password", Role: RoleStudent})
	require.ErrorIs(t, err, ErrInvalidInput)

	id, err := lm.AddUser(ctx, Principal{}, NewUser{LoginID: "lib", Password: "password", Role: RoleLibrarian})
	require.NoError(t, err)
	assert.NotZero(t, id)

	// Once an account exists, provisioning needs a librarian.
	_, err = lm.AddUser(ctx, Principal{}, NewUser{LoginID: "lib2", Password: "password", Role: RoleLibrarian})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAddUserValidation(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")

	_, err := f.lm.AddUser(f.ctx, s, NewUser{LoginID: "s2", Password: "password", Role: RoleStudent})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.lm.AddUser(f.ctx, f.admin, NewUser{LoginID: "  ", Password: "password", Role: RoleStudent})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.AddUser(f.ctx, f.admin, NewUser{LoginID: "s3", Password: "short", Role: RoleStudent})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.AddUser(f.ctx, f.admin, NewUser{LoginID: "s4", Password: "password", Role: "visitor"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.AddUser(f.ctx, f.admin, NewUser{LoginID: "s1", Password: "password", Role: RoleStudent})
	assert.ErrorIs(t, err, ErrLoginTaken)
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")

	p, err := f.lm.Authenticate(f.ctx, "s1", "password")
	require.NoError(t, err)
	assert.Equal(t, s, p)

	_, err = f.lm.Authenticate(f.ctx, "s1", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.lm.Authenticate(f.ctx, "nobody", "password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.lm.SetUserStatus(f.ctx, f.admin, s.UserID, AccountInactive))
	_, err = f.lm.Authenticate(f.ctx, "s1", "password")
	assert.ErrorIs(t, err, ErrUserInactive)
	assert.Equal(t, KindAuthorization, KindOf(err))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")

	assert.ErrorIs(t, f.lm.ChangePassword(f.ctx, s, "password", "12345"), ErrInvalidInput)
	assert.ErrorIs(t, f.lm.ChangePassword(f.ctx, s, "password", "password"), ErrInvalidInput)
	assert.ErrorIs(t, f.lm.ChangePassword(f.ctx, s, "not-it", "new-password"), ErrInvalidCredentials)

	require.NoError(t, f.lm.ChangePassword(f.ctx, s, "password", "new-password"))
	_, err := f.lm.Authenticate(f.ctx, "s1", "new-password")
	require.NoError(t, err)
}

func TestUserLookupsRespectRoles(t *testing.T) {
	f := newFixture(t)
	s1 := f.student(t, "s1")
	s2 := f.student(t, "s2")
	f.user(t, "t1", RoleStaff)

	u, err := f.lm.GetUser(f.ctx, s1, s1.UserID)
	require.NoError(t, err)
	assert.Equal(t, "s1@school.test", u.Email)
	assert.Equal(t, "s1 Test", u.FullName())

	_, err = f.lm.GetUser(f.ctx, s1, s2.UserID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.lm.GetUserByLogin(f.ctx, s1, "s2")
	assert.ErrorIs(t, err, ErrForbidden)

	u, err = f.lm.GetUserByLogin(f.ctx, f.admin, "s2")
	require.NoError(t, err)
	assert.Equal(t, s2.UserID, u.ID)

	students, err := f.lm.ListUsers(f.ctx, f.admin, RoleStudent)
	require.NoError(t, err)
	assert.Len(t, students, 2)

	all, err := f.lm.ListUsers(f.ctx, f.admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	assert.ErrorIs(t, f.lm.SetUserStatus(f.ctx, f.admin, 999, AccountInactive), ErrUserNotFound)
	assert.ErrorIs(t, f.lm.SetUserStatus(f.ctx, s1, s2.UserID, AccountInactive), ErrForbidden)
}

func TestDeactivatedPrincipalIsRejected(t *testing.T) {
	f := newFixture(t)
	lib2 := f.user(t, "lib2", RoleLibrarian)
	s := f.student(t, "s1")
	fine := f.lostFine(t, s, "Atlas", 5000)
	globe := f.book(t, "Globe")
	loan := f.lend(t, s, globe)

	require.NoError(t, f.lm.SetUserStatus(f.ctx, f.admin, lib2.UserID, AccountInactive))

	_, err := f.lm.MarkLost(f.ctx, lib2, loan.BorrowID, 3000)
	assert.ErrorIs(t, err, ErrUserInactive)
	assert.Equal(t, KindAuthorization, KindOf(err))

	_, err = f.lm.ProcessPayment(f.ctx, lib2, PaymentRequest{
		UserID:       s.UserID,
		FineIDs:      []int64{fine.ID},
		Amounts:      map[int64]Money{fine.ID: 5000},
		CashReceived: 5000,
	})
	assert.ErrorIs(t, err, ErrUserInactive)

	got, err := f.lm.GetFine(f.ctx, f.admin, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, Money(5000), got.BalanceDue)
	assert.Equal(t, 0, countRows(t, f, "receipts"))
	assert.Equal(t, BookBorrowed, f.bookStatus(t, globe))

	_, err = f.lm.ListBorrows(f.ctx, lib2, BorrowFilter{})
	assert.ErrorIs(t, err, ErrUserInactive)

	require.NoError(t, f.lm.SetUserStatus(f.ctx, f.admin, s.UserID, AccountInactive))
	_, err = f.lm.ListFines(f.ctx, s, s.UserID, false)
	assert.ErrorIs(t, err, ErrUserInactive)

	require.NoError(t, f.lm.SetUserStatus(f.ctx, f.admin, lib2.UserID, AccountActive))
	_, err = f.lm.MarkLost(f.ctx, lib2, loan.BorrowID, 3000)
	assert.NoError(t, err)
}
