package lending

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/lending-backend/pkg/db/models"
	"github.com/angelmondragon/lending-backend/pkg/enums"
	"github.com/angelmondragon/lending-backend/pkg/outbox"
	"github.com/angelmondragon/lending-backend/pkg/outbox/payloads"
)

func (s *service) emitBorrowed(ctx context.Context, tx *gorm.DB, record *models.BorrowRecord, book *models.Book, remaining int, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventBookBorrowed,
		AggregateType: enums.AggregateBorrowRecord,
		AggregateID:   record.ID,
		Actor:         &outbox.ActorRef{MemberID: record.MemberID},
		OccurredAt:    at,
		Data: payloads.BookBorrowedEvent{
			BorrowRecordID:  record.ID,
			MemberID:        record.MemberID,
			BookID:          record.BookID,
			BookTitle:       book.Title,
			BorrowDate:      record.BorrowDate,
			RemainingCopies: remaining,
		},
	})
}

func (s *service) emitReturned(ctx context.Context, tx *gorm.DB, record *models.BorrowRecord, book *models.Book, returnDate time.Time, remaining int, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventBookReturned,
		AggregateType: enums.AggregateBorrowRecord,
		AggregateID:   record.ID,
		Actor:         &outbox.ActorRef{MemberID: record.MemberID},
		OccurredAt:    at,
		Data: payloads.BookReturnedEvent{
			BorrowRecordID:  record.ID,
			MemberID:        record.MemberID,
			BookID:          record.BookID,
			BookTitle:       book.Title,
			BorrowDate:      record.BorrowDate,
			ReturnDate:      returnDate,
			RemainingCopies: remaining,
		},
	})
}
