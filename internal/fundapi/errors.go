package fundapi

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNetwork           = errors.New("ledger network error")
	ErrStorage           = errors.New("storage error")

	// ErrConflict means the record changed under a writer. The service
	// re-reads and retries, callers never see it.
	ErrConflict = errors.New("record version conflict")
)
