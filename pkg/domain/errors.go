package domain

import (
	"errors"
	"fmt"
)

// ErrMissingSecret means a subscription reached the signing path without a
// secret. It always arrives wrapped in a FatalConfigurationError.
var ErrMissingSecret = errors.New("missing signing secret")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// DeliveryError describes a failed delivery attempt. StatusCode is zero when
// no response was received.
type DeliveryError struct {
	Transient  bool
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	switch {
	case e.StatusCode > 0 && e.Err != nil:
		return fmt.Sprintf("%s delivery failure: status %d: %v", kind, e.StatusCode, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s delivery failure: status %d", kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s delivery failure: %v", kind, e.Err)
	}
	return kind + " delivery failure"
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a retryable DeliveryError.
func IsTransient(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Transient
}

// FatalConfigurationError signals a broken store invariant (missing or
// undecryptable secret, corrupted record). Operators must be alerted.
type FatalConfigurationError struct {
	Reason string
	Err    error
}

func (e *FatalConfigurationError) Error() string {
	if e.Err == nil {
		return "fatal configuration error: " + e.Reason
	}
	return fmt.Sprintf("fatal configuration error: %s: %v", e.Reason, e.Err)
}

func (e *FatalConfigurationError) Unwrap() error { return e.Err }
