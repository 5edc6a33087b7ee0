package models

import (
	"errors"
	"fmt"
)

var (
	ErrCatalystNotFound    = errors.New("catalyst not found")
	ErrInvalidCatalyst     = errors.New("invalid catalyst")
	ErrEntityUnresolved    = errors.New("entity not resolved")
	ErrCredentialMissing   = errors.New("credential missing")
	ErrMissingPredictInput = errors.New("either catalyst_id or features must be provided")
	ErrUnknownSource       = errors.New("unknown source")
)

// UpstreamError is a failed call to an external source.
type UpstreamError struct {
	Source string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Source, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Source, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
