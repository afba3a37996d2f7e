package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeMemberNotFound, status: http.StatusNotFound, publicMsg: "member not found", detailsOK: true},
		{code: CodeBookNotFound, status: http.StatusNotFound, publicMsg: "book not found", detailsOK: true},
		{code: CodeBorrowLimitExceeded, status: http.StatusConflict, publicMsg: "borrow limit exceeded", detailsOK: true},
		{code: CodeBookUnavailable, status: http.StatusConflict, publicMsg: "book unavailable", detailsOK: true},
		{code: CodeAlreadyBorrowed, status: http.StatusConflict, publicMsg: "book already borrowed by member", detailsOK: true},
		{code: CodeNotBorrowed, status: http.StatusNotFound, publicMsg: "no active borrow for member and book", detailsOK: true},
		{code: CodeDeleteConstraint, status: http.StatusConflict, publicMsg: "resource has active borrows", detailsOK: true},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected", retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeBookUnavailable, "no copies")
	if got := As(err); got == nil || got.Code() != CodeBookUnavailable {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	sentinel := stdErrors.New("member missing")
	err := fmt.Errorf("borrow: %w", Wrap(CodeMemberNotFound, sentinel, "member not found"))

	if !IsCode(err, CodeMemberNotFound) {
		t.Fatalf("expected IsCode to find member not found")
	}
	if IsCode(err, CodeBookNotFound) {
		t.Fatalf("unexpected book not found match")
	}
	if !stdErrors.Is(err, sentinel) {
		t.Fatalf("sentinel should remain reachable through the chain")
	}
	if IsCode(nil, CodeInternal) {
		t.Fatalf("nil error should not match any code")
	}
}
