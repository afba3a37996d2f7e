package books

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
)

// Locker serializes work on a set of keys within the process.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service exposes catalog operations.
type Service interface {
	AddBook(ctx context.Context, input AddBookInput) (*BookDTO, error)
	UpdateBook(ctx context.Context, id uuid.UUID, input UpdateBookInput) (*BookDTO, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
	GetBook(ctx context.Context, id uuid.UUID) (*BookDTO, error)
	ListBooks(ctx context.Context) ([]BookDTO, error)
}

// ServiceParams wires the catalog service dependencies.
type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Borrows borrows.Repository
	Locker  Locker
}

type service struct {
	db      txRunner
	repo    Repository
	borrows borrows.Repository
	locker  Locker
}

// NewService builds the catalog service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "db client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book repository required")
	}
	if params.Borrows == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrow index required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "locker required")
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		borrows: params.Borrows,
		locker:  params.Locker,
	}, nil
}

func (s *service) AddBook(ctx context.Context, input AddBookInput) (*BookDTO, error) {
	title := strings.TrimSpace(input.Title)
	author := strings.TrimSpace(input.Author)
	if title == "" || author == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title and author are required")
	}
	if input.Amount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	known, err := s.repo.FindByTitleAuthor(ctx, title, author)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup book")
	}
	keys := []string{catalogKey(title, author)}
	if known != nil {
		keys = append(keys, LockKey(known.ID))
	}
	release, err := s.locker.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var result *models.Book
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindByTitleAuthor(ctx, title, author)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup book")
		}
		if existing == nil {
			book := &models.Book{Title: title, Author: author, Amount: input.Amount, TotalCopies: input.Amount}
			if err := repo.Create(ctx, book); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create book")
			}
			result = book
			return nil
		}

		book, err := repo.FindByIDForUpdate(ctx, existing.ID)
		if err != nil {
			return mapLookupError(err)
		}
		open, err := s.borrows.WithTx(tx).CountOpenForBook(ctx, book.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open borrows")
		}
		total := book.TotalCopies + input.Amount
		available := max(total-int(open), 0)
		if err := repo.SetStock(ctx, book.ID, total, available); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add copies")
		}
		book.TotalCopies = total
		book.Amount = available
		result = book
		return nil
	})
	if err != nil {
		return nil, txError(err, "add book")
	}
	return FromModel(result), nil
}

func (s *service) UpdateBook(ctx context.Context, id uuid.UUID, input UpdateBookInput) (*BookDTO, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}
	if input.TotalCopies != nil && *input.TotalCopies < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total_copies must not be negative")
	}

	release, err := s.locker.Acquire(ctx, LockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	var result *models.Book
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		book, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return mapLookupError(err)
		}

		title, author := book.Title, book.Author
		if input.Title != nil {
			title = strings.TrimSpace(*input.Title)
		}
		if input.Author != nil {
			author = strings.TrimSpace(*input.Author)
		}
		if title == "" || author == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "title and author must not be empty")
		}
		if title != book.Title || author != book.Author {
			if err := repo.Rename(ctx, id, title, author); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rename book")
			}
		}

		if input.TotalCopies != nil {
			open, err := s.borrows.WithTx(tx).CountOpenForBook(ctx, id)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open borrows")
			}
			total := *input.TotalCopies
			if int64(total) < open {
				return pkgerrors.New(pkgerrors.CodeValidation, "total_copies is below the number of copies on loan").
					WithDetails(map[string]any{"open_borrows": open, "total_copies": total})
			}
			if err := repo.SetStock(ctx, id, total, total-int(open)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "set stock")
			}
		}

		updated, err := repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload book")
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, txError(err, "update book")
	}
	return FromModel(result), nil
}

func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}

	release, err := s.locker.Acquire(ctx, LockKey(id))
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByIDForUpdate(ctx, id); err != nil {
			return mapLookupError(err)
		}

		index := s.borrows.WithTx(tx)
		open, err := index.CountOpenForBook(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count open borrows")
		}
		if open > 0 {
			return pkgerrors.New(pkgerrors.CodeDeleteConstraint, "book has active borrows").
				WithDetails(map[string]any{"book_id": id, "open_borrows": open})
		}
		if err := index.DeleteClosedForBook(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete borrow history")
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete book")
		}
		return nil
	})
	return txError(err, "delete book")
}

func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*BookDTO, error) {
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return FromModel(book), nil
}

func (s *service) ListBooks(ctx context.Context) ([]BookDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list books")
	}
	out := make([]BookDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "book not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
}

// txError passes typed errors through and marks begin/commit failures as
// dependency errors.
func txError(err error, msg string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
