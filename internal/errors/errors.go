// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientCapital = errors.New("insufficient capital")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnknownAllocation   = errors.New("unknown allocation")
	ErrAllocationPending   = errors.New("allocation not bound to a trade")
	ErrDuplicateAllocation = errors.New("duplicate allocation")
	ErrTradeNotOpen        = errors.New("trade not open")
	ErrBookSealed          = errors.New("trade book sealed")
	ErrHalted              = errors.New("system halted")
	ErrNoPrice             = errors.New("no price available")
	ErrSymbolNotFound      = errors.New("symbol not found")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrOrderRejected       = errors.New("order rejected")
	ErrTimeout             = errors.New("operation timed out")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrDataNotFound        = errors.New("data not found")
	ErrDatabaseError       = errors.New("database error")
)

// InvariantError reports a broken ledger or lifecycle invariant. It always
// indicates a concurrency bug and is fatal to the running system.
type InvariantError struct {
	Rule    string
	TradeID string
	Detail  string
	Err     error
}

func (e *InvariantError) Error() string {
	if e.TradeID != "" {
		return fmt.Sprintf("invariant violated [%s] trade %s: %s", e.Rule, e.TradeID, e.Detail)
	}
	return fmt.Sprintf("invariant violated [%s]: %s", e.Rule, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(rule, tradeID, detail string, err error) *InvariantError {
	return &InvariantError{
		Rule:    rule,
		TradeID: tradeID,
		Detail:  detail,
		Err:     err,
	}
}

// IsInvariant reports whether err carries an InvariantError.
func IsInvariant(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// ProviderError represents a failed call to an external collaborator
// (market data, order placement, prediction).
type ProviderError struct {
	Provider  string
	Operation string
	Symbol    string
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("provider error [%s] %s %s: %v", e.Provider, e.Operation, e.Symbol, e.Err)
	}
	return fmt.Sprintf("provider error [%s] %s: %v", e.Provider, e.Operation, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, operation, symbol string, err error) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Operation: operation,
		Symbol:    symbol,
		Err:       err,
	}
}

// IsTransient reports whether err is a recoverable external failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) || errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrTimeout)
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
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

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
