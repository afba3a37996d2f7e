package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Book is a catalog title together with its copy counts.
type Book struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Title       string    `gorm:"column:title;type:text;not null;index:books_title_author_idx"`
	Author      string    `gorm:"column:author;type:text;not null;index:books_title_author_idx"`
	Amount      int       `gorm:"column:amount;not null;default:0"`
	TotalCopies int       `gorm:"column:total_copies;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *Book) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}
