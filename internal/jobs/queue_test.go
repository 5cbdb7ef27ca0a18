package jobs

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestQueue(t *testing.T) {
	t.Parallel()

	job, err := domain.NewTimeJob("k1", time.Now(), nil)
	require.NoError(t, err)

	t.Run("enqueue and receive", func(t *testing.T) {
		q := NewQueue(2, testLogger())
		require.NoError(t, q.Enqueue(job))
		got := <-q.Channel()
		assert.Equal(t, job.Key, got.Key)
	})

	t.Run("full queue", func(t *testing.T) {
		q := NewQueue(1, testLogger())
		require.NoError(t, q.Enqueue(job))
		err := q.Enqueue(job)
		assert.ErrorIs(t, err, ErrQueueFull)
	})

	t.Run("closed queue", func(t *testing.T) {
		q := NewQueue(1, testLogger())
		q.Close()
		q.Close()
		assert.ErrorIs(t, q.Enqueue(job), ErrQueueClosed)
		_, ok := <-q.Channel()
		assert.False(t, ok)
	})
}
