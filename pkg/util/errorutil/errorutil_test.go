package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestToDomainError(t *testing.T) {
	cause := errors.New("redis down")

	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{name: "domain error passes through", err: NewValidationError("bad", nil), code: "VALIDATION_FAILED", status: http.StatusBadRequest},
		{name: "wrapped domain error", err: fmt.Errorf("issue: %w", NewStoreUnavailable(cause)), code: "STORE_UNAVAILABLE", status: http.StatusServiceUnavailable},
		{name: "session timeout", err: NewSessionTimeout("emp-1"), code: "SESSION_TIMEOUT", status: http.StatusGone},
		{name: "fiber error", err: fiber.ErrMethodNotAllowed, code: "REQUEST_FAILED", status: http.StatusMethodNotAllowed},
		{name: "unknown error", err: cause, code: "INTERNAL_ERROR", status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToDomainError(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.HTTPStatus)
		})
	}

	assert.Nil(t, ToDomainError(nil))
	assert.ErrorIs(t, NewStoreUnavailable(cause), cause)
}
