package domain

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/combolab/combo-engine/pkg/resilience"
)

// Sentinel errors for validation failures.
var (
	ErrMissingField    = errors.New("missing field")
	ErrInvalidPlatform = errors.New("invalid platform")
	ErrInvalidLocale   = errors.New("invalid locale")
	ErrInvalidOrg      = errors.New("invalid organization id")
	ErrNoCombos        = errors.New("no combos")
	ErrTooManyCombos   = errors.New("too many combos")
	ErrComboTooLong    = errors.New("combo too long")
	ErrInvalidWeights  = errors.New("invalid weights")
	ErrMetadataEmpty   = errors.New("metadata has no usable text")
)

// Store and upstream errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrReferential = errors.New("referential integrity violation")
	ErrUpstream    = errors.New("upstream error")

	ErrCircuitOpen = resilience.ErrCircuitOpen
	ErrRateLimited = resilience.ErrRateLimited
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UpstreamError is a failed call to an external signal source.
// StatusCode is 0 for transport failures.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Transient reports whether the failure may succeed on a later attempt.
func (e *UpstreamError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ReferentialError is a write rejected because a referenced entity does not exist.
type ReferentialError struct {
	Entity string
	Key    string
	Err    error
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("referential integrity: %s %q: %v", e.Entity, e.Key, e.Err)
}

func (e *ReferentialError) Unwrap() error { return e.Err }

func (e *ReferentialError) Is(target error) bool { return target == ErrReferential }

// PersistenceError is any other store failure for a single record.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Transient()
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrCircuitOpen)
}
