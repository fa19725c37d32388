package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrStaleState        = errors.New("state changed concurrently")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTerminalState     = errors.New("job already in a terminal state")
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrNotPublishable    = errors.New("job has no publishable result")
)

// ValidationError reports a submission precondition that was not met.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransientProviderError is a network, timeout or 5xx failure talking to a provider.
type TransientProviderError struct {
	Provider ProviderType
	Op       string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s: %s: transient: %v", e.Provider, e.Op, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// TerminalProviderError is an explicit rejection or failure reported by a provider.
type TerminalProviderError struct {
	Provider ProviderType
	Op       string
	Message  string
	Err      error
}

func (e *TerminalProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Op, e.Message)
}

func (e *TerminalProviderError) Unwrap() error { return e.Err }

// TimeoutError means a job produced no terminal status within its max duration.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: no terminal status within %s", e.After)
}

// PublishError is a download or upload failure after a job completed.
type PublishError struct {
	JobID string
	Stage string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	var t *TransientProviderError
	return errors.As(err, &t)
}

// IsTerminal reports whether a provider rejected the work for good.
func IsTerminal(err error) bool {
	var t *TerminalProviderError
	return errors.As(err, &t)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
