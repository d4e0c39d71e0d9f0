package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLevel is wrapped by every InvalidLevelError.
	ErrInvalidLevel = errors.New("invalid price level")

	// ErrEmptyBook is returned when the requested side of the book has no levels.
	ErrEmptyBook = errors.New("order book side is empty")

	// ErrUnfillableOrder is returned when a simulation walked the book and filled nothing.
	ErrUnfillableOrder = errors.New("order could not be filled")

	// ErrDegenerateInput is returned for non-positive sizes, horizons or model parameters.
	ErrDegenerateInput = errors.New("degenerate input")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// InvalidLevelError describes one raw (price, size) pair excluded from a LevelSet.
// It never aborts a book update.
type InvalidLevelError struct {
	Side   BookSide
	Index  int // Position in the raw snapshot
	Price  string
	Size   string
	Reason string
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("%s level %d [%s @ %s]: %s", e.Side, e.Index, e.Size, e.Price, e.Reason)
}

func (e *InvalidLevelError) Unwrap() error {
	return ErrInvalidLevel
}

// EmptyBookError reports which side lacked liquidity.
type EmptyBookError struct {
	Side Side // Order side that was requested
}

func (e *EmptyBookError) Error() string {
	return fmt.Sprintf("cannot %s: no %s in the order book", e.Side, e.Side.Consumes())
}

func (e *EmptyBookError) Unwrap() error {
	return ErrEmptyBook
}

// UnfillableOrderError is returned when every level was walked and no volume was filled.
type UnfillableOrderError struct {
	Side     Side
	Notional string
}

func (e *UnfillableOrderError) Error() string {
	return fmt.Sprintf("cannot %s %s notional: available %s fill zero volume", e.Side, e.Notional, e.Side.Consumes())
}

func (e *UnfillableOrderError) Unwrap() error {
	return ErrUnfillableOrder
}

// DegenerateInputError rejects a non-positive or out-of-range argument.
type DegenerateInputError struct {
	Field  string
	Value  string
	Reason string // Empty means non-positive
}

func (e *DegenerateInputError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is %s, got %s", e.Field, e.Reason, e.Value)
	}
	return fmt.Sprintf("%s must be positive, got %s", e.Field, e.Value)
}

func (e *DegenerateInputError) Unwrap() error {
	return ErrDegenerateInput
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "connect", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
