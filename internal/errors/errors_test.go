package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("title is required")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "title is required", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "title is required")
}

func TestUnauthorizedError(t *testing.T) {
	err := UnauthorizedError("not authenticated")

	assert.Equal(t, TypeUnauthorized, err.Type)
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatus())
}

func TestForbiddenError(t *testing.T) {
	err := ForbiddenError("invalid signature")

	assert.Equal(t, TypeForbidden, err.Type)
	assert.Equal(t, http.StatusForbidden, err.HTTPStatus())
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("reward not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, "reward not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := InternalError("failed to save rewards", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "failed to save rewards")
	assert.Contains(t, err.Error(), "disk full")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestExternalError(t *testing.T) {
	cause := fmt.Errorf("twitch api: 400")
	err := ExternalError("CREATE_CUSTOM_REWARD_DUPLICATE_REWARD", cause)

	assert.Equal(t, TypeExternal, err.Type)
	assert.Equal(t, "CREATE_CUSTOM_REWARD_DUPLICATE_REWARD", err.Message)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "external")
}

func TestWithContextChaining(t *testing.T) {
	err := ValidationError("invalid input").
		WithContext("field", "cost").
		WithField("value", 0)

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "cost", err.Context["field"])
	assert.Equal(t, 0, err.Context["value"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "test"}

	err = err.WithContext("key", "value")

	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("prompt too long").WithContext("max_length", 200)

	resp := err.ToResponse()

	assert.Equal(t, "prompt too long", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Equal(t, 200, resp.Context["max_length"])
}

func TestUnwrapAndIs(t *testing.T) {
	rootCause := fmt.Errorf("root")
	wrapped := InternalError("wrapped", rootCause)

	assert.Equal(t, rootCause, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, rootCause))
	assert.Nil(t, errors.Unwrap(ValidationError("test")))
}

func TestAsStructuredError(t *testing.T) {
	t.Run("structured error unchanged", func(t *testing.T) {
		original := ValidationError("original")
		assert.Same(t, original, AsStructuredError(original))
	})

	t.Run("standard error wrapped as internal", func(t *testing.T) {
		original := fmt.Errorf("standard error")
		result := AsStructuredError(original)

		require.NotNil(t, result)
		assert.Equal(t, TypeInternal, result.Type)
		assert.Equal(t, "internal server error", result.Message)
		assert.Equal(t, original, result.Cause)
	})

	t.Run("wrapped structured error is found", func(t *testing.T) {
		wrapped := fmt.Errorf("wrapped: %w", NotFoundError("reward not found"))
		result := AsStructuredError(wrapped)

		assert.Equal(t, TypeNotFound, result.Type)
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		name       string
		errorType  ErrorType
		wantStatus int
	}{
		{"validation", TypeValidation, http.StatusBadRequest},
		{"unauthorized", TypeUnauthorized, http.StatusUnauthorized},
		{"forbidden", TypeForbidden, http.StatusForbidden},
		{"not_found", TypeNotFound, http.StatusNotFound},
		{"internal", TypeInternal, http.StatusInternalServerError},
		{"external", TypeExternal, http.StatusInternalServerError},
		{"unknown", ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &Error{Type: tt.errorType}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}
