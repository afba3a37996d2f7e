package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/lending-backend/api/responses"
	"github.com/angelmondragon/lending-backend/api/validators"
	"github.com/angelmondragon/lending-backend/internal/lending"
	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
	"github.com/angelmondragon/lending-backend/pkg/logger"
)

type lendingRequest struct {
	MemberID string `json:"member_id" validate:"required,uuid"`
	BookID   string `json:"book_id" validate:"required,uuid"`
}

type lendingResult struct {
	MemberID uuid.UUID `json:"member_id"`
	BookID   uuid.UUID `json:"book_id"`
	Status   string    `json:"status"`
}

func (r lendingRequest) ids() (uuid.UUID, uuid.UUID, error) {
	memberID, err := uuid.Parse(r.MemberID)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid member_id")
	}
	bookID, err := uuid.Parse(r.BookID)
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid book_id")
	}
	return memberID, bookID, nil
}

// Borrow lends one copy of a book to a member.
func Borrow(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lending service unavailable"))
			return
		}

		var payload lendingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		memberID, bookID, err := payload.ids()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Borrow(r.Context(), memberID, bookID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, lendingResult{MemberID: memberID, BookID: bookID, Status: "borrowed"})
	}
}

// Return closes the member's open record for the book.
func Return(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lending service unavailable"))
			return
		}

		var payload lendingRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		memberID, bookID, err := payload.ids()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Return(r.Context(), memberID, bookID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, lendingResult{MemberID: memberID, BookID: bookID, Status: "returned"})
	}
}

func MemberBorrowedTitles(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lending service unavailable"))
			return
		}

		name, err := validators.PathString(r, "name", maxTextLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		titles, err := svc.ListBorrowedTitles(r.Context(), name)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, titles)
	}
}

func DistinctBorrowedTitles(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lending service unavailable"))
			return
		}

		titles, err := svc.ListDistinctBorrowedTitles(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, titles)
	}
}

func BorrowedTitleStats(svc lending.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "lending service unavailable"))
			return
		}

		stats, err := svc.BorrowedTitleStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
