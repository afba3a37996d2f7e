package members

import (
	"context"
	"errors"
	"strings"
	"time"

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

// Service exposes member directory operations.
type Service interface {
	CreateMember(ctx context.Context, name string) (*MemberDTO, error)
	UpdateMember(ctx context.Context, id uuid.UUID, name string) (*MemberDTO, error)
	DeleteMember(ctx context.Context, id uuid.UUID) error
	GetMember(ctx context.Context, id uuid.UUID) (*MemberDTO, error)
	FindByName(ctx context.Context, name string) (*MemberDTO, error)
	ListMembers(ctx context.Context) ([]MemberDTO, error)
}

type ServiceParams struct {
	DB      txRunner
	Repo    Repository
	Borrows borrows.Repository
	Locker  Locker
	Now     func() time.Time
}

type service struct {
	db      txRunner
	repo    Repository
	borrows borrows.Repository
	locker  Locker
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "db client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "member repository required")
	}
	if params.Borrows == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "borrow index required")
	}
	if params.Locker == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "locker required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:      params.DB,
		repo:    params.Repo,
		borrows: params.Borrows,
		locker:  params.Locker,
		now:     now,
	}, nil
}

func (s *service) CreateMember(ctx context.Context, name string) (*MemberDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}

	t := s.now().UTC()
	member := &models.Member{
		Name:           name,
		MembershipDate: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
	}
	if err := s.repo.Create(ctx, member); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create member")
	}
	return FromModel(member), nil
}

func (s *service) UpdateMember(ctx context.Context, id uuid.UUID, name string) (*MemberDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return nil, mapLookupError(err)
	}
	if err := s.repo.Rename(ctx, id, name); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rename member")
	}
	member, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return FromModel(member), nil
}

func (s *service) DeleteMember(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "member id is required")
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
		borrowing, err := index.IsMemberCurrentlyBorrowing(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open borrows")
		}
		if borrowing {
			return pkgerrors.New(pkgerrors.CodeDeleteConstraint, "member has active borrows").
				WithDetails(map[string]any{"member_id": id})
		}
		if err := index.DeleteClosedForMember(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete borrow history")
		}
		if err := repo.Delete(ctx, id); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete member")
		}
		return nil
	})
	if err != nil && pkgerrors.As(err) == nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete member")
	}
	return err
}

func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*MemberDTO, error) {
	member, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return FromModel(member), nil
}

func (s *service) FindByName(ctx context.Context, name string) (*MemberDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	member, err := s.repo.FindByName(ctx, name)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return FromModel(member), nil
}

func (s *service) ListMembers(ctx context.Context) ([]MemberDTO, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list members")
	}
	out := make([]MemberDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *FromModel(&rows[i]))
	}
	return out, nil
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "member not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load member")
}
