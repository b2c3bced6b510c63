package domain

import "errors"

var (
	// ErrInvalidOrder is returned when an order has a bad side, size or
	// identity. Rejected before any mutation.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrInsufficientFunds is returned when a buy would exceed the
	// ledger's cash. Rejected before any mutation.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStorageUnavailable is returned when the persistence layer is
	// unreachable. No partial writes happen behind it.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RejectionError marks errors caused by the caller's request rather than
// a system fault. Rejections never mutate state.
type RejectionError interface {
	error
	IsRejection() bool
}

// IsRejection checks if an error is a pre-mutation order rejection.
func IsRejection(err error) bool {
	var re RejectionError
	if errors.As(err, &re) {
		return re.IsRejection()
	}
	return false
}

// OrderError wraps one of the order rejection sentinels with the reason
// the order was refused.
type OrderError struct {
	Reason string // human-readable reject reason
	Err    error  // ErrInvalidOrder or ErrInsufficientFunds
}

func (e *OrderError) Error() string {
	return "order rejected: " + e.Reason
}

func (e *OrderError) IsRejection() bool {
	return true
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewInvalidOrder creates an InvalidOrder rejection.
func NewInvalidOrder(reason string) *OrderError {
	return &OrderError{Reason: reason, Err: ErrInvalidOrder}
}

// NewInsufficientFunds creates an InsufficientFunds rejection.
func NewInsufficientFunds(reason string) *OrderError {
	return &OrderError{Reason: reason, Err: ErrInsufficientFunds}
}

// StorageError represents a persistence failure (never a rejection).
type StorageError struct {
	Op  string // operation that failed (e.g. "load market", "save ledger")
	Err error  // underlying driver error
}

func (e *StorageError) Error() string {
	return "storage [" + e.Op + "]: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return ErrStorageUnavailable
}

// Cause returns the underlying driver error for logging.
func (e *StorageError) Cause() error {
	return e.Err
}

// NewStorageError wraps a driver failure.
func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}
