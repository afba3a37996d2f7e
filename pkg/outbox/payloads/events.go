package payloads

import (
	"time"

	"github.com/google/uuid"
)

// BookBorrowedEvent is emitted when a copy leaves the shelf.
type BookBorrowedEvent struct {
	BorrowRecordID  uuid.UUID `json:"borrow_record_id"`
	MemberID        uuid.UUID `json:"member_id"`
	BookID          uuid.UUID `json:"book_id"`
	BookTitle       string    `json:"book_title"`
	BorrowDate      time.Time `json:"borrow_date"`
	RemainingCopies int       `json:"remaining_copies"`
}

// BookReturnedEvent is emitted when an open borrow record is closed.
type BookReturnedEvent struct {
	BorrowRecordID  uuid.UUID `json:"borrow_record_id"`
	MemberID        uuid.UUID `json:"member_id"`
	BookID          uuid.UUID `json:"book_id"`
	BookTitle       string    `json:"book_title"`
	BorrowDate      time.Time `json:"borrow_date"`
	ReturnDate      time.Time `json:"return_date"`
	RemainingCopies int       `json:"remaining_copies"`
}
