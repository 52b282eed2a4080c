package library

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSearchBooks(t *testing.T) {
	f := newFixture(t)
	_, err := f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "Dune", Author: "Frank Herbert", Category: "Fiction", PublicationYear: 1965, Barcode: "B-001"})
	require.NoError(t, err)
	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "Dune Messiah", Author: "Frank Herbert", Category: "Fiction", PublicationYear: 1969})
	require.NoError(t, err)
	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "100% Maths", Author: "Siti Rahman", Category: "Textbook"})
	require.NoError(t, err)

	res, err := f.lm.SearchBooks(f.ctx, BookQuery{Author: "herbert"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "Dune", res[0].Title)

	res, err = f.lm.SearchBooks(f.ctx, BookQuery{Title: "dune", Year: 1969})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Dune Messiah", res[0].Title)

	// A literal percent sign must not act as a wildcard.
	res, err = f.lm.SearchBooks(f.ctx, BookQuery{Title: "0% M"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	res, err = f.lm.SearchBooks(f.ctx, BookQuery{Title: "%"})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	b, err := f.lm.FindBookByCode(f.ctx, "B-001")
	require.NoError(t, err)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, BookAvailable, b.Status)
}

func TestAddBookValidation(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")

	_, err := f.lm.AddBook(f.ctx, s, NewBook{Title: "X", Author: "Y"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: " ", Author: "Y"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "A", Author: "Y", Barcode: "DUP"})
	require.NoError(t, err)
	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "B", Author: "Y", Barcode: "DUP"})
	assert.ErrorIs(t, err, ErrBarcodeTaken)

	// Copies without a barcode do not collide.
	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "C", Author: "Y"})
	require.NoError(t, err)
	_, err = f.lm.AddBook(f.ctx, f.admin, NewBook{Title: "D", Author: "Y"})
	require.NoError(t, err)
}

func TestSetBookStatus(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "s1")
	onShelf := f.book(t, "Shelf Copy")
	onLoan := f.book(t, "Loan Copy")
	f.lend(t, s, onLoan)

	require.NoError(t, f.lm.SetBookStatus(f.ctx, f.admin, onShelf, BookMaintenance))
	assert.Equal(t, BookMaintenance, f.bookStatus(t, onShelf))

	_, err := f.lm.Borrow(f.ctx, s, s.UserID, onShelf)
	assert.ErrorIs(t, err, ErrBookUnavailable)

	require.NoError(t, f.lm.SetBookStatus(f.ctx, f.admin, onShelf, BookDisposed))
	res, err := f.lm.SearchBooks(f.ctx, BookQuery{Title: "Shelf"})
	require.NoError(t, err)
	assert.Empty(t, res)
	_, err = f.lm.FindBookByCode(f.ctx, "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.ErrorIs(t, f.lm.SetBookStatus(f.ctx, f.admin, onLoan, BookMaintenance), ErrBookInCirculation)
	assert.ErrorIs(t, f.lm.SetBookStatus(f.ctx, f.admin, onShelf, BookBorrowed), ErrInvalidInput)
	assert.ErrorIs(t, f.lm.SetBookStatus(f.ctx, f.admin, 404, BookAvailable), ErrBookNotFound)
	assert.ErrorIs(t, f.lm.SetBookStatus(f.ctx, s, onShelf, BookAvailable), ErrForbidden)
}

func TestImportBooks(t *testing.T) {
	f := newFixture(t)
	csv := `Title,Author,ISBN,Barcode,Category,Shelf_Location,Publication_Year
Animal Farm,George Orwell,9780451526342,AF-1,Fiction,F-ORW,1945
"Romeo and Juliet",William Shakespeare,,RJ-1,Drama,D-SHA,
`
	n, err := f.lm.ImportBooks(f.ctx, f.admin, strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	b, err := f.lm.FindBookByCode(f.ctx, "9780451526342")
	require.NoError(t, err)
	assert.Equal(t, "Animal Farm", b.Title)
	assert.Equal(t, 1945, b.PublicationYear)
	assert.Equal(t, "F-ORW", b.ShelfLocation)
}

func TestImportBooksIsAllOrNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.lm.ImportBooks(f.ctx, f.admin, strings.NewReader("title\nNo Author\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := "title,author,barcode\nOne,A,X1\nTwo,B,X1\n"
	_, err = f.lm.ImportBooks(f.ctx, f.admin, strings.NewReader(bad))
	assert.ErrorIs(t, err, ErrBarcodeTaken)

	res, err := f.lm.SearchBooks(f.ctx, BookQuery{})
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = f.lm.ImportBooks(f.ctx, f.admin, strings.NewReader("title,author,publication_year\nA,B,soon\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}
