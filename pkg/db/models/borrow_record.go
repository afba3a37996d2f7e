package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BorrowRecord tracks one copy lent to one member. A nil ReturnDate marks it open.
type BorrowRecord struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	MemberID   uuid.UUID  `gorm:"column:member_id;type:uuid;not null;index:borrow_records_member_id_idx"`
	BookID     uuid.UUID  `gorm:"column:book_id;type:uuid;not null;index:borrow_records_book_id_idx"`
	BorrowDate time.Time  `gorm:"column:borrow_date;type:date;not null"`
	ReturnDate *time.Time `gorm:"column:return_date;type:date"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *BorrowRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsOpen reports whether the copy is still out.
func (r BorrowRecord) IsOpen() bool {
	return r.ReturnDate == nil
}
