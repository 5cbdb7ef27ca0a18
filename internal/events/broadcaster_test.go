package events

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	listA, listB := uuid.New(), uuid.New()

	t.Run("fans out by list", func(t *testing.T) {
		b := NewBroadcaster(4, logger)
		all, unsubAll := b.Subscribe(uuid.Nil)
		defer unsubAll()
		onlyA, unsubA := b.Subscribe(listA)
		defer unsubA()

		eventA, err := NewEvent(TypeSyncStarted, listA, nil)
		require.NoError(t, err)
		eventB, err := NewEvent(TypeSyncStarted, listB, nil)
		require.NoError(t, err)

		require.NoError(t, b.HandleEvent(ctx, eventA))
		require.NoError(t, b.HandleEvent(ctx, eventB))

		assert.Same(t, eventA, <-all)
		assert.Same(t, eventB, <-all)
		assert.Same(t, eventA, <-onlyA)
		assert.Empty(t, onlyA)
	})

	t.Run("slow subscriber drops events", func(t *testing.T) {
		b := NewBroadcaster(1, logger)
		ch, unsub := b.Subscribe(uuid.Nil)
		defer unsub()

		for i := 0; i < 3; i++ {
			event, err := NewEvent(TypeSyncStarted, listA, nil)
			require.NoError(t, err)
			require.NoError(t, b.HandleEvent(ctx, event))
		}
		assert.Len(t, ch, 1)
	})

	t.Run("unsubscribe closes channel once", func(t *testing.T) {
		b := NewBroadcaster(1, logger)
		ch, unsub := b.Subscribe(uuid.Nil)
		assert.Equal(t, 1, b.Subscribers())

		unsub()
		unsub()

		_, open := <-ch
		assert.False(t, open)
		assert.Zero(t, b.Subscribers())

		event, err := NewEvent(TypeSyncStarted, listA, nil)
		require.NoError(t, err)
		assert.NoError(t, b.HandleEvent(ctx, event))
	})
}
