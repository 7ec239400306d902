package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error codes carried by AppError.
const (
	CodeConfig           = "CONFIG_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeRasterization    = "RASTERIZATION_ERROR"
	CodeModelCall        = "MODEL_CALL_ERROR"
	CodeParse            = "PARSE_ERROR"
	CodeAggregationEmpty = "AGGREGATION_EMPTY"
	CodePersistenceQuota = "PERSISTENCE_QUOTA"
	CodePersistence      = "PERSISTENCE_ERROR"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation failed")
	ErrUnavailable  = errors.New("backend unavailable")
)

// Pipeline failure classes.
var (
	ErrRasterization    = errors.New("rasterization failed")
	ErrModelCall        = errors.New("model call failed")
	ErrParse            = errors.New("parse error")
	ErrAggregationEmpty = errors.New("no successful pages")
	ErrPersistenceQuota = errors.New("storage quota exceeded")
	ErrPersistence      = errors.New("persistence failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// RasterizationError wraps err so that errors.Is(err, ErrRasterization) holds.
func RasterizationError(message string, err error) error {
	return NewAppError(CodeRasterization, message, errors.Join(ErrRasterization, err))
}

// ModelCallError wraps err so that errors.Is(err, ErrModelCall) holds.
func ModelCallError(message string, err error) error {
	return NewAppError(CodeModelCall, message, errors.Join(ErrModelCall, err))
}

// ParseError wraps a reply that could not be read as an envelope.
func ParseError(message string, err error) error {
	return NewAppError(CodeParse, message, errors.Join(ErrParse, err))
}

// PersistenceError wraps a generic backend failure.
func PersistenceError(message string, err error) error {
	return NewAppError(CodePersistence, message, errors.Join(ErrPersistence, err))
}

// QuotaError wraps a quota rejection from a remote store.
func QuotaError(message string, err error) error {
	return NewAppError(CodePersistenceQuota, message, errors.Join(ErrPersistenceQuota, err))
}

// CodeOf returns the AppError code in err's chain, or "".
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
