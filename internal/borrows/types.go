package borrows

import "github.com/google/uuid"

// TitleCount is one row of the open-borrow statistics projection.
type TitleCount struct {
	Title string `gorm:"column:title" json:"title"`
	Count int64  `gorm:"column:borrowed_count" json:"count"`
}

// BookOpenCount is the number of open records held against one book.
type BookOpenCount struct {
	BookID    uuid.UUID `gorm:"column:book_id"`
	OpenCount int64     `gorm:"column:open_count"`
}
