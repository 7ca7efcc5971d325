package remote

import (
	"errors"
	"fmt"
)

// ErrUnreachable is returned when the remote store cannot be reached.
var ErrUnreachable = errors.New("remote unreachable")

// Business error codes.
const (
	CodeInsufficientStock = "insufficient_stock"
	CodeVersionConflict   = "version_conflict"
	CodeInvalidPayload    = "invalid_payload"
	CodeNotFound          = "not_found"
)

// BusinessError is a permanent, logical rejection by the remote store.
// Retrying the same mutation cannot succeed.
type BusinessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBusinessError creates a BusinessError.
func NewBusinessError(code, format string, args ...any) *BusinessError {
	return &BusinessError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsBusiness returns true if err is a business rejection.
// Uses errors.As to handle wrapped errors.
func IsBusiness(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}

// IsConflict returns true if err is a version conflict.
func IsConflict(err error) bool {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code == CodeVersionConflict
	}
	return false
}

// IsTransient returns true for errors worth retrying: anything that is
// not a business rejection.
func IsTransient(err error) bool {
	return err != nil && !IsBusiness(err)
}
