package books

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/lending-backend/pkg/db/models"
)

// BookDTO exposes catalog data in API responses.
type BookDTO struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Amount      int       `json:"amount"`
	TotalCopies int       `json:"total_copies"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AddBookInput describes an acquisition. Copies are merged into an existing
// title/author pair when one exists.
type AddBookInput struct {
	Title  string
	Author string
	Amount int
}

// UpdateBookInput carries the mutable catalog fields. Nil fields are left as is.
type UpdateBookInput struct {
	Title       *string
	Author      *string
	TotalCopies *int
}

// FromModel maps the persisted book into a DTO.
func FromModel(m *models.Book) *BookDTO {
	if m == nil {
		return nil
	}
	return &BookDTO{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Amount:      m.Amount,
		TotalCopies: m.TotalCopies,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// LockKey names the in-process lock guarding a book's copy counts.
func LockKey(id uuid.UUID) string {
	return "book:" + id.String()
}

func catalogKey(title, author string) string {
	return "catalog:" + title + "\x00" + author
}
