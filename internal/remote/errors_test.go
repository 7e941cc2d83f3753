package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MarquesJr132/stock-system/internal/record"
)

func TestError_Message(t *testing.T) {
	err := NewError(CodeNotFound, record.Products, "product %s not found", "p1")
	assert.Equal(t, "NOT_FOUND: product p1 not found (table=products)", err.Error())

	err = &Error{Code: CodeUnavailable, Err: errors.New("connection refused")}
	assert.Equal(t, "UNAVAILABLE: connection refused", err.Error())
}

func TestError_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("replay: %w", NewError(CodeDuplicate, record.Sales, "exists"))

	assert.True(t, IsDuplicate(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, CodeDuplicate, CodeOf(wrapped))
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))

	assert.True(t, IsInsufficientStock(NewError(CodeInsufficientStock, record.Products, "no")))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", Unavailable(record.Products, errors.New("down")), true},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"not found", NewError(CodeNotFound, record.Products, "gone"), false},
		{"insufficient stock", NewError(CodeInsufficientStock, record.Products, "no"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := Unavailable(record.Sales, cause)
	assert.ErrorIs(t, err, cause)
}
