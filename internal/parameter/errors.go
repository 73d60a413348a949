package parameter

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the remote parameter does not exist
	ErrNotFound = errors.New("parameter: not found")

	// ErrTransient is returned for network or service failures that may succeed later
	ErrTransient = errors.New("parameter: transient backend failure")

	// ErrThrottled is a transient failure caused by the backend rejecting the request rate
	ErrThrottled = errors.New("parameter: backend throttled")

	// ErrBackend is returned for backend failures that are neither NotFound nor transient
	ErrBackend = errors.New("parameter: backend failure")

	// ErrInvalidConfig is returned when a cache is built from an invalid configuration
	ErrInvalidConfig = errors.New("parameter: invalid cache configuration")
)

// ErrorKind classifies backend failures.
type ErrorKind int

const (
	// KindOther covers every failure that is not classified more precisely
	KindOther ErrorKind = iota
	// KindNotFound means the parameter does not exist
	KindNotFound
	// KindTransient means the failure may go away on a later attempt
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	default:
		return "other"
	}
}

// BackendError is the error backends return for a failed fetch.
// It matches ErrNotFound, ErrTransient, ErrThrottled or ErrBackend with errors.Is
// according to its kind, and unwraps to the underlying cause.
type BackendError struct {
	Kind      ErrorKind
	Key       string
	Throttled bool
	Err       error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parameter %q: %s", e.Key, e.Kind)
	}
	return fmt.Sprintf("parameter %q: %s: %v", e.Key, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error's kind.
func (e *BackendError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrThrottled:
		return e.Kind == KindTransient && e.Throttled
	case ErrBackend:
		return e.Kind == KindOther
	}
	return false
}

// NewNotFoundError reports that key does not exist in the backend.
func NewNotFoundError(key string, err error) error {
	return &BackendError{Kind: KindNotFound, Key: key, Err: err}
}

// NewTransientError reports a retryable failure fetching key.
func NewTransientError(key string, err error) error {
	return &BackendError{Kind: KindTransient, Key: key, Err: err}
}

// NewThrottledError reports that the backend rejected the request for key because of rate limits.
func NewThrottledError(key string, err error) error {
	return &BackendError{Kind: KindTransient, Key: key, Throttled: true, Err: err}
}

// NewBackendError reports an unclassified failure fetching key.
func NewBackendError(key string, err error) error {
	return &BackendError{Kind: KindOther, Key: key, Err: err}
}

// KindOf returns the kind of err. Errors that carry no classification are KindOther.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindOther
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}
