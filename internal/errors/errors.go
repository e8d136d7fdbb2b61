// Package errors provides the error taxonomy used by the condition-check job.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrMissingCredentials    = errors.New("missing push credentials")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrConflict              = errors.New("condition modified concurrently")
	ErrDuplicateNotification = errors.New("notification already recorded for this window")
	ErrInvalidSegment        = errors.New("invalid segment")
	ErrOutsideActiveHours    = errors.New("segment not scheduled")
	ErrMalformedQuote        = errors.New("malformed quote")
	ErrNotFound              = errors.New("not found")
	ErrCircuitOpen           = errors.New("circuit breaker is open")
)

// ConfigError is fatal: it aborts the whole batch.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error [%s]: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("config error [%s]: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string, err error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// FetchError is a transient quote failure for one ticker.
type FetchError struct {
	Ticker     string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch error [%s]: %s", e.Ticker, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("fetch error [%s] status %d: %s", e.Ticker, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(ticker string, statusCode int, message string, err error) *FetchError {
	return &FetchError{
		Ticker:     ticker,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// DeliveryError is a push failure for a single device.
type DeliveryError struct {
	Device     string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery error [%s] status %d: %v", e.Device, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery error [%s]: %v", e.Device, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError creates a new DeliveryError. The device token is shortened so
// it never lands in logs whole.
func NewDeliveryError(device string, statusCode int, err error) *DeliveryError {
	return &DeliveryError{
		Device:     MaskToken(device),
		StatusCode: statusCode,
		Err:        err,
	}
}

// PersistenceError wraps a failed store read or write.
type PersistenceError struct {
	Operation   string
	ConditionID string
	Err         error
}

func (e *PersistenceError) Error() string {
	if e.ConditionID != "" {
		return fmt.Sprintf("persistence error [%s] condition %s: %v", e.Operation, e.ConditionID, e.Err)
	}
	return fmt.Sprintf("persistence error [%s]: %v", e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(operation, conditionID string, err error) *PersistenceError {
	return &PersistenceError{
		Operation:   operation,
		ConditionID: conditionID,
		Err:         err,
	}
}

// IsFatal reports whether err must abort the batch.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr) || errors.Is(err, ErrMissingCredentials)
}

// MaskToken keeps the first and last four characters of a secret.
func MaskToken(s string) string {
	if len(s) <= 12 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New is errors.New re-exported so callers need a single import.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
