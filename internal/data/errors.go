package data

import (
	"errors"
	"fmt"

	"github.com/MarquesJr132/stock-system/internal/record"
)

var (
	// ErrRejected matches every business-rule rejection: local validation
	// failures, insufficient stock and definitive refusals by the backend.
	// Rejected writes are never queued.
	ErrRejected = errors.New("rejected")

	// ErrLocalUnavailable is returned when a read or write needs the local
	// store (offline or backend unreachable) and none is configured.
	ErrLocalUnavailable = errors.New("local store unavailable")
)

// ValidationError reports invalid input.
type ValidationError struct {
	Table  record.Table
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s: %s", e.Table, e.Field, e.Reason)
}

// Is makes ValidationError match ErrRejected.
func (e *ValidationError) Is(target error) bool {
	return target == ErrRejected
}

// StockError reports a stock change that would leave a product negative.
type StockError struct {
	ProductID string
	Requested int64
	Available int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// Is makes StockError match ErrRejected.
func (e *StockError) Is(target error) bool {
	return target == ErrRejected
}

// rejected marks a definitive backend refusal.
func rejected(table record.Table, verb string, err error) error {
	return fmt.Errorf("%s %s: %w: %w", table, verb, ErrRejected, err)
}
