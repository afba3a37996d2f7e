package members

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/lending-backend/pkg/db/models"
)

// Repository persists library members.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, member *models.Member) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Member, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Member, error)
	// FindByName matches case-insensitively and returns the earliest member
	// when several share a name.
	FindByName(ctx context.Context, name string) (*models.Member, error)
	List(ctx context.Context) ([]models.Member, error)
	Rename(ctx context.Context, id uuid.UUID, name string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a member repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, member *models.Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	var member models.Member
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) FindByName(ctx context.Context, name string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Where("LOWER(name) = LOWER(?)", name).
		Order("created_at ASC").
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *repository) List(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	err := r.db.WithContext(ctx).
		Order("name ASC").
		Order("created_at ASC").
		Find(&members).Error
	return members, err
}

func (r *repository) Rename(ctx context.Context, id uuid.UUID, name string) error {
	return r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"name":       name,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Member{}).Error
}
