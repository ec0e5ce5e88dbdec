package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrJobKeyRequired      = errors.New("job key is required")
	ErrServerJobIDRequired = errors.New("server job id is required")
	ErrReceiptRequired     = errors.New("receipt token is required")
	ErrJournalNotStarted   = errors.New("budget journal entry was not started")
)
