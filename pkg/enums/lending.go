package enums

// LendingOperation labels the lending engine entry points in logs and metrics.
type LendingOperation string

const (
	OperationBorrow LendingOperation = "borrow"
	OperationReturn LendingOperation = "return"
)

func (o LendingOperation) String() string {
	return string(o)
}

// LendingOutcome is the metric label recorded for each lending attempt.
type LendingOutcome string

const (
	OutcomeSuccess         LendingOutcome = "success"
	OutcomeMemberNotFound  LendingOutcome = "member_not_found"
	OutcomeBookNotFound    LendingOutcome = "book_not_found"
	OutcomeLimitExceeded   LendingOutcome = "limit_exceeded"
	OutcomeAlreadyBorrowed LendingOutcome = "already_borrowed"
	OutcomeBookUnavailable LendingOutcome = "book_unavailable"
	OutcomeNotBorrowed     LendingOutcome = "not_borrowed"
	OutcomeConflict        LendingOutcome = "conflict"
	OutcomeError           LendingOutcome = "error"
)

func (o LendingOutcome) String() string {
	return string(o)
}
