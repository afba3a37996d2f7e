package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Member is a library patron.
type Member struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name           string    `gorm:"column:name;type:text;not null;index:members_name_idx"`
	MembershipDate time.Time `gorm:"column:membership_date;type:date;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *Member) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
