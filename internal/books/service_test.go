package books

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/pkg/db"
	"github.com/angelmondragon/lending-backend/pkg/db/dbtest"
	"github.com/angelmondragon/lending-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
)

type stubLocker struct {
	acquired []string
}

func (l *stubLocker) Acquire(_ context.Context, keys ...string) (func(), error) {
	l.acquired = append(l.acquired, keys...)
	return func() {}, nil
}

type fixture struct {
	conn    *gorm.DB
	svc     Service
	repo    Repository
	borrows borrows.Repository
	locker  *stubLocker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	borrowRepo := borrows.NewRepository(conn)
	locker := &stubLocker{}
	svc, err := NewService(ServiceParams{
		DB:      db.FromGorm(conn),
		Repo:    repo,
		Borrows: borrowRepo,
		Locker:  locker,
	})
	require.NoError(t, err)
	return fixture{conn: conn, svc: svc, repo: repo, borrows: borrowRepo, locker: locker}
}

func (f fixture) lend(t *testing.T, bookID uuid.UUID) models.BorrowRecord {
	t.Helper()
	ctx := context.Background()
	member := models.Member{Name: "Reader " + uuid.NewString()[:8], MembershipDate: time.Now().UTC()}
	require.NoError(t, f.conn.Create(&member).Error)
	record := models.BorrowRecord{MemberID: member.ID, BookID: bookID, BorrowDate: time.Now().UTC()}
	require.NoError(t, f.borrows.Create(ctx, &record))
	ok, err := f.repo.DecrementAvailable(ctx, bookID)
	require.NoError(t, err)
	require.True(t, ok)
	return record
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAddBookMergesSameTitleAndAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.AddBook(ctx, AddBookInput{Title: "Dune", Author: "Frank Herbert", Amount: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Amount)
	assert.Equal(t, 2, first.TotalCopies)

	second, err := f.svc.AddBook(ctx, AddBookInput{Title: " Dune ", Author: "Frank Herbert", Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Amount)
	assert.Equal(t, 5, second.TotalCopies)

	other, err := f.svc.AddBook(ctx, AddBookInput{Title: "Dune", Author: "Someone Else", Amount: 1})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	list, err := f.svc.ListBooks(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.NotEmpty(t, f.locker.acquired)
}

func TestAddBookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddBook(ctx, AddBookInput{Title: "", Author: "A", Amount: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.AddBook(ctx, AddBookInput{Title: "T", Author: "A", Amount: -1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateBookRecomputesAvailableFromOpenBorrows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book, err := f.svc.AddBook(ctx, AddBookInput{Title: "Emma", Author: "Jane Austen", Amount: 3})
	require.NoError(t, err)
	f.lend(t, book.ID)
	f.lend(t, book.ID)

	total := 5
	title := "Emma (Annotated)"
	updated, err := f.svc.UpdateBook(ctx, book.ID, UpdateBookInput{Title: &title, TotalCopies: &total})
	require.NoError(t, err)
	assert.Equal(t, "Emma (Annotated)", updated.Title)
	assert.Equal(t, "Jane Austen", updated.Author)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 3, updated.Amount)

	tooFew := 1
	_, err = f.svc.UpdateBook(ctx, book.ID, UpdateBookInput{TotalCopies: &tooFew})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	unchanged, err := f.svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, unchanged.TotalCopies)
	assert.Equal(t, 3, unchanged.Amount)
}

func TestUpdateBookNotFound(t *testing.T) {
	f := newFixture(t)
	total := 1
	_, err := f.svc.UpdateBook(context.Background(), uuid.New(), UpdateBookInput{TotalCopies: &total})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteBookWithOpenBorrowIsRejectedUntilReturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	book, err := f.svc.AddBook(ctx, AddBookInput{Title: "Ulysses", Author: "James Joyce", Amount: 1})
	require.NoError(t, err)
	record := f.lend(t, book.ID)

	err = f.svc.DeleteBook(ctx, book.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDeleteConstraint))

	closed, err := f.borrows.Close(ctx, record.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, closed)

	require.NoError(t, f.svc.DeleteBook(ctx, book.ID))

	_, err = f.svc.GetBook(ctx, book.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	var history int64
	require.NoError(t, f.conn.Model(&models.BorrowRecord{}).Where("book_id = ?", book.ID).Count(&history).Error)
	assert.Zero(t, history)
}

func TestDeleteBookNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.DeleteBook(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, []string{f.locker.acquired[0]}, f.locker.acquired)
}

func TestAddBookMergeTakesBookLockAndRecomputesAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.AddBook(ctx, AddBookInput{Title: "Emma", Author: "Jane Austen", Amount: 2})
	require.NoError(t, err)
	f.lend(t, first.ID)

	// drift the cached count so the merge has to recompute it
	require.NoError(t, f.conn.Model(&models.Book{}).Where("id = ?", first.ID).Update("amount", 0).Error)

	f.locker.acquired = nil
	merged, err := f.svc.AddBook(ctx, AddBookInput{Title: "Emma", Author: "Jane Austen", Amount: 3})
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 5, merged.TotalCopies)
	assert.Equal(t, 4, merged.Amount)
	assert.Contains(t, f.locker.acquired, LockKey(first.ID))

	stored, err := f.repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Amount)
	assert.Equal(t, 5, stored.TotalCopies)
}
