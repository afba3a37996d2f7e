package members

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lending-backend/pkg/db/models"
)

// MemberDTO exposes member data in API responses.
type MemberDTO struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	MembershipDate string    `json:"membership_date"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

const dateLayout = "2006-01-02"

func FromModel(m *models.Member) *MemberDTO {
	if m == nil {
		return nil
	}
	return &MemberDTO{
		ID:             m.ID,
		Name:           m.Name,
		MembershipDate: m.MembershipDate.UTC().Format(dateLayout),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// LockKey names the in-process lock guarding a member's borrow set.
func LockKey(id uuid.UUID) string {
	return "member:" + id.String()
}
