package lending_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"

	lending "github.com/goliatone/go-lending"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured token expired error",
			err:      lending.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "Wrapped token expired error",
			err:      fmt.Errorf("verify: %w", lending.ErrTokenExpired),
			expected: true,
		},
		{
			name:     "Legacy token expired error (string match)",
			err:      errors.New("some wrapper: token is expired"),
			expected: true,
		},
		{
			name:     "Different structured error",
			err:      lending.ErrIdentityNotFound,
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, lending.IsTokenExpiredError(tt.err))
		})
	}
}

func TestIsMalformedError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured malformed error",
			err:      lending.ErrTokenMalformed,
			expected: true,
		},
		{
			name:     "Legacy missing JWT error (string match)",
			err:      errors.New("missing or malformed JWT"),
			expected: true,
		},
		{
			name:     "Different error",
			err:      lending.ErrTokenExpired,
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, lending.IsMalformedError(tt.err))
		})
	}
}

func TestStatusCodeAndPublicMessage(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"unauthenticated", lending.ErrUnauthenticated, http.StatusUnauthorized, "Not authenticated"},
		{"forbidden", lending.ErrForbidden, http.StatusForbidden, "Not authorised to perform this action"},
		{"library error without code", goerrors.New("slot taken", goerrors.CategoryConflict), http.StatusConflict, "slot taken"},
		{"not found", lending.ErrBookNotFound, http.StatusNotFound, "Book not found."},
		{"out of stock", lending.ErrOutOfStock, http.StatusBadRequest, "This book is out of stock."},
		{"borrow limit", lending.ErrBorrowLimitExceeded, http.StatusBadRequest, "You can only borrow up to 5 books."},
		{"not borrowed", lending.ErrNotBorrowed, http.StatusBadRequest, "This book is not in your borrowed list."},
		{"too many requests", lending.ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests, please try again later."},
		{"internal", goerrors.Wrap(errors.New("pq: connection refused"), goerrors.CategoryInternal, "failed"), http.StatusInternalServerError, "Server error"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "Server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, lending.StatusCode(tt.err))
			assert.Equal(t, tt.message, lending.PublicMessage(tt.err))
		})
	}
}
