package services

import "fmt"

// Domain error codes surfaced to command responses
const (
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "CONFLICT"
	CodeInvalid  = "INVALID"
)

// DomainError is a business-rule failure from a service operation. It is
// never a transient infrastructure failure; the retry wrapper does not retry
// it.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NotFoundError builds a DomainError for a missing resource
func NotFoundError(resource string) *DomainError {
	return &DomainError{Code: CodeNotFound, Message: resource + " not found"}
}

// ConflictError builds a DomainError for a uniqueness or state conflict
func ConflictError(message string) *DomainError {
	return &DomainError{Code: CodeConflict, Message: message}
}

// InvalidError builds a DomainError for a business-rule violation
func InvalidError(message string) *DomainError {
	return &DomainError{Code: CodeInvalid, Message: message}
}
