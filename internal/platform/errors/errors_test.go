package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = errors.New("dialog already open")

func TestConstructors(t *testing.T) {
	cause := fmt.Errorf("boom")
	tests := []struct {
		name       string
		err        *Error
		wantType   ErrorType
		wantStatus int
		wantCause  error
	}{
		{"validation", ValidationError("bad type", cause), TypeValidation, http.StatusBadRequest, cause},
		{"conflict", ConflictError("already open", cause), TypeConflict, http.StatusConflict, cause},
		{"unavailable", UnavailableError("busy", nil), TypeUnavailable, http.StatusServiceUnavailable, nil},
		{"internal", InternalError("failed", cause), TypeInternal, http.StatusInternalServerError, cause},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus())
			assert.Equal(t, tt.wantCause, tt.err.Cause)
			assert.NotNil(t, tt.err.Context)
		})
	}
}

func TestHTTPStatusForRouterTypes(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, (&Error{Type: TypeNotFound}).HTTPStatus())
	assert.Equal(t, http.StatusBadGateway, (&Error{Type: TypeExternal}).HTTPStatus())
}

func TestHTTPStatusUnknownType(t *testing.T) {
	err := &Error{Type: "mystery"}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "unavailable: busy", UnavailableError("busy", nil).Error())
	assert.Equal(t, "conflict: already open: refused", ConflictError("already open", errors.New("refused")).Error())
}

func TestWithContext(t *testing.T) {
	err := ConflictError("already open", nil).
		WithContext("dialog", "help").
		WithContext("dialog", "confirmation")

	assert.Equal(t, "confirmation", err.Context["dialog"])

	bare := &Error{Type: TypeValidation}
	bare.WithContext("field", "type")
	assert.Equal(t, "type", bare.Context["field"])
}

func TestToResponse(t *testing.T) {
	resp := ValidationError("unknown dialog type", nil).WithContext("type", "settings").ToResponse()

	assert.Equal(t, "unknown dialog type", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, "settings", resp.Context["type"])
}

func TestUnwrapSupportsErrorsIs(t *testing.T) {
	err := fmt.Errorf("handler: %w", ConflictError("already open", errSentinel))

	assert.ErrorIs(t, err, errSentinel)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, TypeConflict, se.Type)
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("structured passes through", func(t *testing.T) {
		original := ConflictError("already open", nil)
		assert.Same(t, original, AsStructuredError(fmt.Errorf("wrapped: %w", original)))
	})

	t.Run("plain becomes internal", func(t *testing.T) {
		se := AsStructuredError(errors.New("boom"))
		assert.Equal(t, TypeInternal, se.Type)
		assert.Equal(t, "internal server error", se.Message)
	})

	t.Run("classifier wins over fallback", func(t *testing.T) {
		declines := func(error) *Error { return nil }
		conflicts := func(err error) *Error {
			if errors.Is(err, errSentinel) {
				return ConflictError(err.Error(), err)
			}
			return nil
		}

		se := AsStructuredError(fmt.Errorf("open: %w", errSentinel), declines, conflicts)
		assert.Equal(t, TypeConflict, se.Type)

		se = AsStructuredError(errors.New("other"), declines, conflicts)
		assert.Equal(t, TypeInternal, se.Type)
	})
}
