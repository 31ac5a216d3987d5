package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "direct classified error",
			err:      Conflict("Task already running"),
			expected: KindConflict,
		},
		{
			name:     "classified error wrapped with fmt.Errorf",
			err:      fmt.Errorf("run task: %w", NotFound("Task not found")),
			expected: KindNotFound,
		},
		{
			name:     "storage error keeps cause on the chain",
			err:      Storage(errors.New("connection refused"), "database unavailable"),
			expected: KindStorage,
		},
		{
			name:     "plain error is unclassified",
			err:      errors.New("boom"),
			expected: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestMessage(t *testing.T) {
	err := fmt.Errorf("handler: %w", BadRequest("Run Id must be a number"))
	assert.Equal(t, "Run Id must be a number", Message(err))

	// Unclassified errors never leak internals to the client.
	assert.Equal(t, "internal error", Message(errors.New("pq: deadlock detected")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{BadRequest("missing run id"), http.StatusBadRequest},
		{NotFound("no such task"), http.StatusNotFound},
		{Unauthorized("not the stage owner"), http.StatusUnauthorized},
		{Conflict("Task already running"), http.StatusConflict},
		{Ingestion("unsupported file extension"), http.StatusUnprocessableEntity},
		{Storage(errors.New("down"), "database unavailable"), http.StatusInternalServerError},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatus(tt.err))
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindStorage, cause, "copy failed")
	assert.ErrorIs(t, err, cause)
}
