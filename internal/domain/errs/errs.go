// Package errs holds the error kinds shared across the domain and infra layers.
//
// Concrete errors wrap one of these kinds (fmt.Errorf("...: %w", errs.ErrNotFound))
// so callers can branch with errors.Is without knowing which adapter produced them.
package errs

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrTransport    = errors.New("transport error")
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
)

// Kind labels used in logs and HTTP error bodies.
const (
	KindNotFound     = "not_found"
	KindTransport    = "transport"
	KindValidation   = "validation"
	KindInvalidState = "invalid_state"
	KindConflict     = "conflict"
	KindInternal     = "internal"
)

// KindOf reports which error kind err wraps, or KindInternal when none match.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}
