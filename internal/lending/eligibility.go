package lending

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/internal/members"
	"github.com/angelmondragon/lending-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
)

// Eligibility is what CanBorrow read while deciding to allow a loan.
type Eligibility struct {
	Member      *models.Member
	Book        *models.Book
	OpenBorrows int
}

// CheckerParams wires a Checker.
type CheckerParams struct {
	Members          members.Repository
	Books            books.Repository
	Borrows          borrows.Repository
	MaxActiveBorrows int
}

// Checker decides whether a borrow or return may proceed. It performs no
// writes.
type Checker struct {
	members   members.Repository
	books     books.Repository
	borrows   borrows.Repository
	maxActive int
	lockRows  bool
}

func NewChecker(params CheckerParams) (*Checker, error) {
	if params.Members == nil || params.Books == nil || params.Borrows == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checker repositories required")
	}
	if params.MaxActiveBorrows <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max active borrows must be positive")
	}
	return &Checker{
		members:   params.Members,
		books:     params.Books,
		borrows:   params.Borrows,
		maxActive: params.MaxActiveBorrows,
	}, nil
}

// WithTx binds the checker to tx. Member and book rows are then read with
// FOR UPDATE so the decision holds until the transaction ends.
func (c *Checker) WithTx(tx *gorm.DB) *Checker {
	if tx == nil {
		return c
	}
	return &Checker{
		members:   c.members.WithTx(tx),
		books:     c.books.WithTx(tx),
		borrows:   c.borrows.WithTx(tx),
		maxActive: c.maxActive,
		lockRows:  true,
	}
}

// MaxActiveBorrows is the per-member open-record limit.
func (c *Checker) MaxActiveBorrows() int {
	return c.maxActive
}

// CanBorrow checks member, book, limit, duplicate loan and availability in
// that order and returns the first denial.
func (c *Checker) CanBorrow(ctx context.Context, memberID, bookID uuid.UUID) (*Eligibility, error) {
	member, err := c.findMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, deny(ErrMemberNotFound, map[string]any{"member_id": memberID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
	}

	book, err := c.findBook(ctx, bookID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, deny(ErrBookNotFound, map[string]any{"book_id": bookID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
	}

	open, err := c.borrows.OpenForMember(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open borrows")
	}
	if len(open) >= c.maxActive {
		return nil, deny(ErrLimitExceeded, map[string]any{
			"member_id":    memberID,
			"open_borrows": len(open),
			"limit":        c.maxActive,
		})
	}
	for _, record := range open {
		if record.BookID == bookID {
			return nil, deny(ErrAlreadyBorrowed, map[string]any{
				"member_id":        memberID,
				"book_id":          bookID,
				"borrow_record_id": record.ID,
			})
		}
	}
	if book.Amount <= 0 {
		return nil, deny(ErrBookUnavailable, map[string]any{"book_id": bookID})
	}

	return &Eligibility{Member: member, Book: book, OpenBorrows: len(open)}, nil
}

// CanReturn finds the member's open record for bookID. An unknown member has
// no open records and is reported as NotBorrowed.
func (c *Checker) CanReturn(ctx context.Context, memberID, bookID uuid.UUID) (*models.BorrowRecord, error) {
	if c.lockRows {
		if _, err := c.members.FindByIDForUpdate(ctx, memberID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock member")
		}
	}

	open, err := c.borrows.OpenForMember(ctx, memberID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list open borrows")
	}
	for i := range open {
		if open[i].BookID == bookID {
			return &open[i], nil
		}
	}
	return nil, deny(ErrNotBorrowed, map[string]any{"member_id": memberID, "book_id": bookID})
}

func (c *Checker) findMember(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	if c.lockRows {
		return c.members.FindByIDForUpdate(ctx, id)
	}
	return c.members.FindByID(ctx, id)
}

func (c *Checker) findBook(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	if c.lockRows {
		return c.books.FindByIDForUpdate(ctx, id)
	}
	return c.books.FindByID(ctx, id)
}
