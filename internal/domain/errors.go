package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindUpstreamRejected ErrorKind = "upstream_rejected"
	KindTransportFailure ErrorKind = "transport_failure"
	KindTaskFailed       ErrorKind = "task_failed"
	KindTaskTimeout      ErrorKind = "task_timeout"
	KindInvalidRequest   ErrorKind = "invalid_request"
)

// Sentinels for errors.Is
var (
	ErrNotFound         = &ServiceError{Kind: KindNotFound}
	ErrUpstreamRejected = &ServiceError{Kind: KindUpstreamRejected}
	ErrTransportFailure = &ServiceError{Kind: KindTransportFailure}
	ErrTaskFailed       = &ServiceError{Kind: KindTaskFailed}
	ErrTaskTimeout      = &ServiceError{Kind: KindTaskTimeout}
	ErrInvalidRequest   = &ServiceError{Kind: KindInvalidRequest}
)

// ServiceError carries the failing collaborator's status code and body unchanged.
type ServiceError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Body       json.RawMessage
	Err        error
}

func (e *ServiceError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if len(e.Body) > 0 {
		msg += ": " + string(e.Body)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewInvalidRequest(format string, args ...any) *ServiceError {
	return &ServiceError{Kind: KindInvalidRequest, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first ServiceError in err's chain.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
