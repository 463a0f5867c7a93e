package matching

import "errors"

// Operation failures form a closed taxonomy. Callers branch with errors.Is;
// wrapped messages carry the specific reason.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("request not found")
	ErrDuplicateResponse = errors.New("pharmacy already responded to this request")
	ErrRequestClosed     = errors.New("request is no longer open")
	ErrResponseNotFound  = errors.New("response not found or inactive")
	ErrUnauthorized      = errors.New("not authorized for this request")
	ErrInvalidTransition = errors.New("status transition not permitted")
)
