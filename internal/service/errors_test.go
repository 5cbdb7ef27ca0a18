package service

import (
	"errors"
	"testing"

	"github.com/phrazzld/tasksync/internal/store"
	"github.com/stretchr/testify/assert"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ServiceError
		expected string
	}{
		{
			name:     "with underlying error",
			err:      NewTaskServiceError("create", "failed to save task", errors.New("disk full")),
			expected: "task service create failed: failed to save task: disk full",
		},
		{
			name:     "without underlying error",
			err:      NewBindingServiceError("link", "invalid binding", nil),
			expected: "binding service link failed: invalid binding",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	err := NewBindingServiceError("unlink", "failed to load binding", store.ErrBindingNotFound)
	assert.ErrorIs(t, err, store.ErrBindingNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, IsNotBound(err))

	var svcErr *ServiceError
	assert.True(t, errors.As(error(err), &svcErr))
	assert.Equal(t, "binding", svcErr.Service)
	assert.False(t, IsNotBound(NewTaskServiceError("get", "x", ErrTaskGone)))
}
