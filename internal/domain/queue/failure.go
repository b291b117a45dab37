package queue

import (
	"errors"
	"fmt"
)

// FailureKind says how the delivery worker should react to a failed send.
type FailureKind int

const (
	// FailureTransient is retried with backoff.
	FailureTransient FailureKind = iota
	// FailureFatal will never succeed, e.g. the provider rejected the address.
	FailureFatal
	// FailureNotFound means something the message depends on no longer exists.
	FailureNotFound
)

func (k FailureKind) String() string {
	switch k {
	case FailureFatal:
		return "fatal"
	case FailureNotFound:
		return "not_found"
	default:
		return "transient"
	}
}

// DeliveryError is returned by transports to classify a failure.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery failed (%s)", e.Kind)
	}
	return fmt.Sprintf("delivery failed (%s): %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable delivery failure.
func Transient(err error) error { return &DeliveryError{Kind: FailureTransient, Err: err} }

// Fatal wraps err as a non-retryable delivery failure.
func Fatal(err error) error { return &DeliveryError{Kind: FailureFatal, Err: err} }

// NotFound wraps err as a missing-dependency failure.
func NotFound(err error) error { return &DeliveryError{Kind: FailureNotFound, Err: err} }

// Classify extracts the failure kind from err. Errors that carry no
// DeliveryError are treated as transient.
func Classify(err error) FailureKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	return FailureTransient
}
