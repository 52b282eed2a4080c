package library

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWarningLetter(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")
	a := f.lostFine(t, s, "Atlas", 5000)
	b := f.lostFine(t, s, "Poems", 1250)

	// Partly paid fines are charged at their balance.
	_, err := f.lm.ProcessPayment(f.ctx, f.admin, PaymentRequest{
		UserID: s.UserID, FineIDs: []int64{b.ID}, Amounts: map[int64]Money{b.ID: 250}, CashReceived: 250,
	})
	require.NoError(t, err)

	letter, err := f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: s.UserID, FineIDs: []int64{a.ID, b.ID}, Type: LetterWarning})
	require.NoError(t, err)
	assert.Equal(t, Money(6000), letter.TotalAmount)
	assert.Regexp(t, `^LTR-2025-03-[0-9A-F]{8}$`, letter.Number)
	assert.Contains(t, letter.Content, "SURAT AMARAN / WARNING LETTER")
	assert.Contains(t, letter.Content, "Kepada / To: s1 Test")
	assert.Contains(t, letter.Content, "Status: Pelajar")
	assert.Contains(t, letter.Content, "totaling RM 60.00")
	assert.Contains(t, letter.Content, "- Atlas: RM 50.00 (Lost book replacement)")
	assert.Contains(t, letter.Content, "- Poems: RM 10.00")

	var (
		stored  string
		fineIDs string
	)
	require.NoError(t, f.lm.db.db.QueryRow(`SELECT letter_content, fine_ids FROM fine_letters WHERE letter_number=?`, letter.Number).
		Scan(&stored, &fineIDs))
	assert.Equal(t, letter.Content, stored)
	assert.JSONEq(t, fmt.Sprintf("[%d,%d]", a.ID, b.ID), fineIDs)

	// Letters never touch the fines.
	got, err := f.lm.GetFine(f.ctx, f.admin, a.ID)
	require.NoError(t, err)
	assert.Equal(t, FineUnpaid, got.PaymentStatus)
}

func TestGenerateLetterVariants(t *testing.T) {
	f := newFixture(t)
	staff := f.user(t, "t1", RoleStaff)
	fine := f.lostFine(t, staff, "Atlas", 4000)

	final, err := f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: staff.UserID, FineIDs: []int64{fine.ID}, Type: LetterFinalNotice})
	require.NoError(t, err)
	assert.Contains(t, final.Content, "NOTIS AKHIR / FINAL NOTICE")
	assert.Contains(t, final.Content, "Status: Kakitangan")
	assert.Contains(t, final.Content, "within 3 days")

	demand, err := f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: staff.UserID, FineIDs: []int64{fine.ID}, Type: LetterReplacementDemand})
	require.NoError(t, err)
	assert.Contains(t, demand.Content, "REPLACEMENT DEMAND LETTER")
	assert.Contains(t, demand.Content, "- Atlas: RM 40.00 (Sebab: Lost book replacement)")
	assert.NotEqual(t, final.Number, demand.Number)
}

func TestGenerateLetterValidation(t *testing.T) {
	f := newFixture(t)
	s1 := f.student(t, "s1")
	s2 := f.student(t, "s2")
	fine := f.lostFine(t, s1, "Atlas", 1000)

	_, err := f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: s1.UserID, FineIDs: []int64{fine.ID}, Type: "reminder"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: s1.UserID, Type: LetterWarning})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: s2.UserID, FineIDs: []int64{fine.ID}, Type: LetterWarning})
	assert.ErrorIs(t, err, ErrFineNotFound)

	_, err = f.lm.GenerateLetter(f.ctx, s1, LetterRequest{UserID: s1.UserID, FineIDs: []int64{fine.ID}, Type: LetterWarning})
	assert.ErrorIs(t, err, ErrForbidden)

	assert.Zero(t, countRows(t, f, "fine_letters"))
}

func TestLetterChargesOverpaidFineAtFullAmount(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")
	a := f.lostFine(t, s, "Atlas", 5000)
	b := f.lostFine(t, s, "Poems", 1000)

	_, err := f.lm.ProcessPayment(f.ctx, f.admin, PaymentRequest{
		UserID: s.UserID, FineIDs: []int64{b.ID}, Amounts: map[int64]Money{b.ID: 1200}, CashReceived: 1200,
	})
	require.NoError(t, err)

	letter, err := f.lm.GenerateLetter(f.ctx, f.admin, LetterRequest{UserID: s.UserID, FineIDs: []int64{a.ID, b.ID}, Type: LetterWarning})
	require.NoError(t, err)
	assert.Equal(t, Money(6000), letter.TotalAmount)
	assert.Contains(t, letter.Content, "- Poems: RM 10.00")
	assert.NotContains(t, letter.Content, "RM -")
}
