package books

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/lending-backend/pkg/db/models"
)

// Repository persists catalog rows and owns every write to the copy counts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, book *models.Book) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
	// FindByIDForUpdate reads the row with a FOR UPDATE lock where the
	// dialect supports it.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Book, error)
	FindByTitleAuthor(ctx context.Context, title, author string) (*models.Book, error)
	List(ctx context.Context) ([]models.Book, error)
	Rename(ctx context.Context, id uuid.UUID, title, author string) error
	Delete(ctx context.Context, id uuid.UUID) error

	// DecrementAvailable takes one copy off the shelf if any is left and
	// reports whether it did.
	DecrementAvailable(ctx context.Context, id uuid.UUID) (bool, error)
	// IncrementAvailable puts one copy back, never beyond total_copies.
	IncrementAvailable(ctx context.Context, id uuid.UUID) (bool, error)
	SetStock(ctx context.Context, id uuid.UUID, totalCopies, amount int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, book *models.Book) error {
	return r.db.WithContext(ctx).Create(book).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&book).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&book).Error
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// FindByTitleAuthor returns nil, nil when no copy of the title is catalogued.
func (r *repository) FindByTitleAuthor(ctx context.Context, title, author string) (*models.Book, error) {
	var book models.Book
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("title = ? AND author = ?", title, author).
		Order("created_at ASC").
		First(&book).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &book, nil
}

func (r *repository) List(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	err := r.db.WithContext(ctx).
		Order("title ASC").
		Order("author ASC").
		Find(&books).Error
	return books, err
}

func (r *repository) Rename(ctx context.Context, id uuid.UUID, title, author string) error {
	return r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"title":      title,
			"author":     author,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Book{}).Error
}

func (r *repository) DecrementAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND amount > 0", id).
		Updates(map[string]any{
			"amount":     gorm.Expr("amount - 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ? AND amount < total_copies", id).
		Updates(map[string]any{
			"amount":     gorm.Expr("amount + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetStock(ctx context.Context, id uuid.UUID, totalCopies, amount int) error {
	return r.db.WithContext(ctx).
		Model(&models.Book{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"amount":       amount,
			"total_copies": totalCopies,
			"updated_at":   time.Now().UTC(),
		}).Error
}
