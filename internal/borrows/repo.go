package borrows

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/pkg/db/models"
)

// Repository is the active-borrow index plus the record writes the lending
// engine performs inside its transaction.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, record *models.BorrowRecord) error
	// Close stamps returnDate on an open record. It reports false when the
	// record was already closed.
	Close(ctx context.Context, recordID uuid.UUID, returnDate time.Time) (bool, error)

	OpenForMember(ctx context.Context, memberID uuid.UUID) ([]models.BorrowRecord, error)
	CountOpenForMember(ctx context.Context, memberID uuid.UUID) (int64, error)
	CountOpenForBook(ctx context.Context, bookID uuid.UUID) (int64, error)
	IsBookCurrentlyBorrowed(ctx context.Context, bookID uuid.UUID) (bool, error)
	IsMemberCurrentlyBorrowing(ctx context.Context, memberID uuid.UUID) (bool, error)
	CountOpenByBook(ctx context.Context) (map[uuid.UUID]int64, error)

	OpenTitlesForMember(ctx context.Context, memberID uuid.UUID) ([]string, error)
	DistinctBorrowedTitles(ctx context.Context) ([]string, error)
	BorrowedTitleCounts(ctx context.Context) ([]TitleCount, error)

	DeleteClosedForBook(ctx context.Context, bookID uuid.UUID) error
	DeleteClosedForMember(ctx context.Context, memberID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a borrow record repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.BorrowRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) Close(ctx context.Context, recordID uuid.UUID, returnDate time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BorrowRecord{}).
		Where("id = ? AND return_date IS NULL", recordID).
		Updates(map[string]any{
			"return_date": returnDate,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) OpenForMember(ctx context.Context, memberID uuid.UUID) ([]models.BorrowRecord, error) {
	var records []models.BorrowRecord
	err := r.db.WithContext(ctx).
		Where("member_id = ? AND return_date IS NULL", memberID).
		Order("borrow_date ASC").
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

func (r *repository) CountOpenForMember(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BorrowRecord{}).
		Where("member_id = ? AND return_date IS NULL", memberID).
		Count(&count).Error
	return count, err
}

func (r *repository) CountOpenForBook(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BorrowRecord{}).
		Where("book_id = ? AND return_date IS NULL", bookID).
		Count(&count).Error
	return count, err
}

func (r *repository) IsBookCurrentlyBorrowed(ctx context.Context, bookID uuid.UUID) (bool, error) {
	count, err := r.CountOpenForBook(ctx, bookID)
	return count > 0, err
}

func (r *repository) IsMemberCurrentlyBorrowing(ctx context.Context, memberID uuid.UUID) (bool, error) {
	count, err := r.CountOpenForMember(ctx, memberID)
	return count > 0, err
}

func (r *repository) CountOpenByBook(ctx context.Context) (map[uuid.UUID]int64, error) {
	var rows []BookOpenCount
	err := r.db.WithContext(ctx).
		Raw(`SELECT book_id, COUNT(*) AS open_count
FROM borrow_records
WHERE return_date IS NULL
GROUP BY book_id`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[uuid.UUID]int64, len(rows))
	for _, row := range rows {
		counts[row.BookID] = row.OpenCount
	}
	return counts, nil
}

func (r *repository) OpenTitlesForMember(ctx context.Context, memberID uuid.UUID) ([]string, error) {
	titles := []string{}
	err := r.db.WithContext(ctx).
		Raw(`SELECT b.title
FROM borrow_records br
JOIN books b ON b.id = br.book_id
WHERE br.member_id = ? AND br.return_date IS NULL
ORDER BY b.title ASC`, memberID).
		Scan(&titles).Error
	return titles, err
}

func (r *repository) DistinctBorrowedTitles(ctx context.Context) ([]string, error) {
	titles := []string{}
	err := r.db.WithContext(ctx).
		Raw(`SELECT DISTINCT b.title
FROM borrow_records br
JOIN books b ON b.id = br.book_id
WHERE br.return_date IS NULL
ORDER BY b.title ASC`).
		Scan(&titles).Error
	return titles, err
}

func (r *repository) BorrowedTitleCounts(ctx context.Context) ([]TitleCount, error) {
	counts := []TitleCount{}
	err := r.db.WithContext(ctx).
		Raw(`SELECT b.title AS title, COUNT(*) AS borrowed_count
FROM borrow_records br
JOIN books b ON b.id = br.book_id
WHERE br.return_date IS NULL
GROUP BY b.title
ORDER BY b.title ASC`).
		Scan(&counts).Error
	return counts, err
}

func (r *repository) DeleteClosedForBook(ctx context.Context, bookID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("book_id = ? AND return_date IS NOT NULL", bookID).
		Delete(&models.BorrowRecord{}).Error
}

func (r *repository) DeleteClosedForMember(ctx context.Context, memberID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("member_id = ? AND return_date IS NOT NULL", memberID).
		Delete(&models.BorrowRecord{}).Error
}
