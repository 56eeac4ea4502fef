package backend

import (
	"errors"
	"fmt"
)

const (
	networkErrorMessage = "Network error - please check your connection"
	serverErrorMessage  = "Server error occurred"
)

// NetworkError means the backend could not be reached at all.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, networkErrorMessage, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError means the backend answered with a non-success status or success=false.
type ServiceError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// MalformedResponseError means the backend reported success but the payload
// lacked required fields. errors.As also matches it as a *ServiceError.
type MalformedResponseError struct {
	Op     string
	Status int
	Detail string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %s", e.Op, e.Detail)
}

// As lets callers that only know about service errors handle malformed payloads the same way.
func (e *MalformedResponseError) As(target any) bool {
	t, ok := target.(**ServiceError)
	if !ok {
		return false
	}
	*t = &ServiceError{Op: e.Op, Status: e.Status, Message: "malformed response: " + e.Detail}
	return true
}

// Describe returns the short human-readable string shown for err.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return networkErrorMessage
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return serverErrorMessage
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Message != "" {
			return svcErr.Message
		}
		return serverErrorMessage
	}
	return err.Error()
}
