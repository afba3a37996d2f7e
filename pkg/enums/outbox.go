package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateBorrowRecord OutboxAggregateType = "borrow_record"
	AggregateBook         OutboxAggregateType = "book"
	AggregateMember       OutboxAggregateType = "member"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBorrowRecord,
	AggregateBook,
	AggregateMember,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event relayed through the outbox.
type OutboxEventType string

const (
	EventBookBorrowed OutboxEventType = "book_borrowed"
	EventBookReturned OutboxEventType = "book_returned"
)

var validOutboxEventTypes = []OutboxEventType{
	EventBookBorrowed,
	EventBookReturned,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
