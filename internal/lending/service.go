package lending

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/internal/books"
	"github.com/angelmondragon/lending-backend/internal/borrows"
	"github.com/angelmondragon/lending-backend/internal/members"
	"github.com/angelmondragon/lending-backend/pkg/config"
	"github.com/angelmondragon/lending-backend/pkg/db"
	"github.com/angelmondragon/lending-backend/pkg/db/models"
	"github.com/angelmondragon/lending-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
	"github.com/angelmondragon/lending-backend/pkg/logger"
	"github.com/angelmondragon/lending-backend/pkg/metrics"
	"github.com/angelmondragon/lending-backend/pkg/outbox"
)

// Service is the lending engine: the only path that moves copies between the
// shelf and members.
type Service interface {
	Borrow(ctx context.Context, memberID, bookID uuid.UUID) error
	Return(ctx context.Context, memberID, bookID uuid.UUID) error
	ListBorrowedTitles(ctx context.Context, memberName string) ([]string, error)
	ListDistinctBorrowedTitles(ctx context.Context) ([]string, error)
	BorrowedTitleStats(ctx context.Context) ([]borrows.TitleCount, error)
	Checker() *Checker
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type keyLocker interface {
	Acquire(ctx context.Context, keys ...string) (func(), error)
}

// ServiceParams wires the lending engine.
type ServiceParams struct {
	Config  config.LendingConfig
	DB      txRunner
	Members members.Repository
	Books   books.Repository
	Borrows borrows.Repository
	Outbox  outbox.Emitter
	Locker  keyLocker
	Metrics *metrics.LendingMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	db      txRunner
	members members.Repository
	books   books.Repository
	borrows borrows.Repository
	checker *Checker
	outbox  outbox.Emitter
	locker  keyLocker
	metrics *metrics.LendingMetrics
	logg    *logger.Logger
	retries int
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "db client required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "logger required")
	}
	checker, err := NewChecker(CheckerParams{
		Members:          params.Members,
		Books:            params.Books,
		Borrows:          params.Borrows,
		MaxActiveBorrows: params.Config.MaxActiveBorrows,
	})
	if err != nil {
		return nil, err
	}
	locker := params.Locker
	if locker == nil {
		locker = NewKeyedLocker(params.Config.LockWaitTimeout)
	}
	retries := params.Config.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:      params.DB,
		members: params.Members,
		books:   params.Books,
		borrows: params.Borrows,
		checker: checker,
		outbox:  params.Outbox,
		locker:  locker,
		metrics: params.Metrics,
		logg:    params.Logger,
		retries: retries,
		now:     now,
	}, nil
}

func (s *service) Checker() *Checker {
	return s.checker
}

func (s *service) Borrow(ctx context.Context, memberID, bookID uuid.UUID) error {
	ctx = s.scope(ctx, enums.OperationBorrow, memberID, bookID)
	start := time.Now()
	err := s.borrow(ctx, memberID, bookID)
	s.observe(ctx, enums.OperationBorrow, start, err)
	return err
}

func (s *service) Return(ctx context.Context, memberID, bookID uuid.UUID) error {
	ctx = s.scope(ctx, enums.OperationReturn, memberID, bookID)
	start := time.Now()
	err := s.giveBack(ctx, memberID, bookID)
	s.observe(ctx, enums.OperationReturn, start, err)
	return err
}

func (s *service) borrow(ctx context.Context, memberID, bookID uuid.UUID) error {
	if memberID == uuid.Nil || bookID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member_id and book_id are required")
	}

	release, err := s.locker.Acquire(ctx, members.LockKey(memberID), books.LockKey(bookID))
	if err != nil {
		return err
	}
	defer release()

	return s.inTx(ctx, func(tx *gorm.DB) error {
		eligibility, err := s.checker.WithTx(tx).CanBorrow(ctx, memberID, bookID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		record := &models.BorrowRecord{
			MemberID:   memberID,
			BookID:     bookID,
			BorrowDate: dateOf(now),
		}
		if err := s.borrows.WithTx(tx).Create(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return deny(ErrAlreadyBorrowed, map[string]any{"member_id": memberID, "book_id": bookID})
			}
			return err
		}

		taken, err := s.books.WithTx(tx).DecrementAvailable(ctx, bookID)
		if err != nil {
			return err
		}
		if !taken {
			return deny(ErrBookUnavailable, map[string]any{"book_id": bookID})
		}

		return s.emitBorrowed(ctx, tx, record, eligibility.Book, eligibility.Book.Amount-1, now)
	})
}

func (s *service) giveBack(ctx context.Context, memberID, bookID uuid.UUID) error {
	if memberID == uuid.Nil || bookID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member_id and book_id are required")
	}

	release, err := s.locker.Acquire(ctx, members.LockKey(memberID), books.LockKey(bookID))
	if err != nil {
		return err
	}
	defer release()

	return s.inTx(ctx, func(tx *gorm.DB) error {
		record, err := s.checker.WithTx(tx).CanReturn(ctx, memberID, bookID)
		if err != nil {
			return err
		}

		bookRepo := s.books.WithTx(tx)
		book, err := bookRepo.FindByIDForUpdate(ctx, bookID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		returnDate := dateOf(now)
		if returnDate.Before(record.BorrowDate) {
			returnDate = record.BorrowDate
		}
		closed, err := s.borrows.WithTx(tx).Close(ctx, record.ID, returnDate)
		if err != nil {
			return err
		}
		if !closed {
			return deny(ErrNotBorrowed, map[string]any{"member_id": memberID, "book_id": bookID})
		}

		remaining := book.Amount
		restocked, err := bookRepo.IncrementAvailable(ctx, bookID)
		if err != nil {
			return err
		}
		if restocked {
			remaining++
		} else {
			// The copy is back on the shelf either way; the audit job repairs the count.
			s.metrics.RecordDriftDetected(enums.OperationReturn.String())
			s.logg.Warn(s.logg.WithField(ctx, "total_copies", book.TotalCopies), "lending.return.amount_at_capacity")
		}

		return s.emitReturned(ctx, tx, record, book, returnDate, remaining, now)
	})
}

// inTx runs fn in a transaction, retrying transient lock and serialization
// failures before giving up with a Conflict.
func (s *service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = s.db.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !db.IsRetryableConflict(err) {
			if pkgerrors.As(err) != nil {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lending transaction failed")
		}
		if ctx.Err() != nil {
			break
		}
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), "lending.tx.retry")
	}
	return conflict(err, "lending transaction conflicted")
}

func (s *service) ListBorrowedTitles(ctx context.Context, memberName string) ([]string, error) {
	name := strings.TrimSpace(memberName)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member name is required")
	}
	member, err := s.members.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, deny(ErrMemberNotFound, map[string]any{"member_name": name})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find member")
	}
	titles, err := s.borrows.OpenTitlesForMember(ctx, member.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list member titles")
	}
	return titles, nil
}

func (s *service) ListDistinctBorrowedTitles(ctx context.Context) ([]string, error) {
	titles, err := s.borrows.DistinctBorrowedTitles(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list borrowed titles")
	}
	return titles, nil
}

func (s *service) BorrowedTitleStats(ctx context.Context) ([]borrows.TitleCount, error) {
	stats, err := s.borrows.BorrowedTitleCounts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count borrowed titles")
	}
	return stats, nil
}

func (s *service) scope(ctx context.Context, op enums.LendingOperation, memberID, bookID uuid.UUID) context.Context {
	ctx = s.logg.WithOperation(ctx, op.String())
	ctx = s.logg.WithMemberID(ctx, memberID.String())
	return s.logg.WithBookID(ctx, bookID.String())
}

func (s *service) observe(ctx context.Context, op enums.LendingOperation, start time.Time, err error) {
	outcome := outcomeOf(err)
	s.metrics.ObserveOperation(op.String(), outcome.String(), time.Since(start))

	logCtx := s.logg.WithField(ctx, "outcome", outcome.String())
	switch outcome {
	case enums.OutcomeSuccess:
		s.logg.Info(logCtx, "lending."+op.String()+".completed")
	case enums.OutcomeError:
		s.logg.Error(logCtx, "lending."+op.String()+".failed", err)
	default:
		s.logg.Warn(logCtx, "lending."+op.String()+".denied")
	}
}

func outcomeOf(err error) enums.LendingOutcome {
	switch {
	case err == nil:
		return enums.OutcomeSuccess
	case errors.Is(err, ErrMemberNotFound):
		return enums.OutcomeMemberNotFound
	case errors.Is(err, ErrBookNotFound):
		return enums.OutcomeBookNotFound
	case errors.Is(err, ErrLimitExceeded):
		return enums.OutcomeLimitExceeded
	case errors.Is(err, ErrAlreadyBorrowed):
		return enums.OutcomeAlreadyBorrowed
	case errors.Is(err, ErrBookUnavailable):
		return enums.OutcomeBookUnavailable
	case errors.Is(err, ErrNotBorrowed):
		return enums.OutcomeNotBorrowed
	case errors.Is(err, ErrConflict):
		return enums.OutcomeConflict
	default:
		return enums.OutcomeError
	}
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
