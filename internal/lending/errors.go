package lending

import (
	"errors"

	pkgerrors "github.com/angelmondragon/lending-backend/pkg/errors"
)

// Denial sentinels. Every error returned by the engine for one of these
// reasons is a *pkgerrors.Error whose chain matches the sentinel.
var (
	ErrMemberNotFound  = errors.New("member not found")
	ErrBookNotFound    = errors.New("book not found")
	ErrLimitExceeded   = errors.New("borrow limit exceeded")
	ErrAlreadyBorrowed = errors.New("book already borrowed by member")
	ErrBookUnavailable = errors.New("book unavailable")
	ErrNotBorrowed     = errors.New("book not borrowed by member")
	ErrConflict        = errors.New("concurrent update conflict")
)

var codeBySentinel = map[error]pkgerrors.Code{
	ErrMemberNotFound:  pkgerrors.CodeMemberNotFound,
	ErrBookNotFound:    pkgerrors.CodeBookNotFound,
	ErrLimitExceeded:   pkgerrors.CodeBorrowLimitExceeded,
	ErrAlreadyBorrowed: pkgerrors.CodeAlreadyBorrowed,
	ErrBookUnavailable: pkgerrors.CodeBookUnavailable,
	ErrNotBorrowed:     pkgerrors.CodeNotBorrowed,
	ErrConflict:        pkgerrors.CodeConflict,
}

func deny(sentinel error, details map[string]any) *pkgerrors.Error {
	code, ok := codeBySentinel[sentinel]
	if !ok {
		code = pkgerrors.CodeInternal
	}
	err := pkgerrors.Wrap(code, sentinel, sentinel.Error())
	if len(details) > 0 {
		err = err.WithDetails(details)
	}
	return err
}

func conflict(cause error, message string) *pkgerrors.Error {
	if cause == nil {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, ErrConflict, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, errors.Join(ErrConflict, cause), message)
}
