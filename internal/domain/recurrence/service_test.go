package recurrence

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Advance(t *testing.T) {
	t.Parallel()

	svc := NewDefaultService()

	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := time.Date(2024, 1, 3, 14, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ID:          uuid.New(),
		ListID:      uuid.New(),
		Title:       "water plants",
		DueAt:       &due,
		CompletedAt: &completed,
		Recurrence:  "every 1 week from due date",
	}

	next, err := svc.Advance(task, completed)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), *next.DueAt)
	assert.Nil(t, next.CompletedAt)
	assert.Equal(t, due, *task.DueAt, "input task must not be modified")
	assert.NotNil(t, task.CompletedAt)
}

func TestService_AdvanceShiftsReminder(t *testing.T) {
	t.Parallel()

	svc := NewDefaultService()

	due := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	remind := due.Add(-30 * time.Minute)
	task := &domain.Task{
		Title:      "standup",
		DueAt:      &due,
		DueHasTime: true,
		RemindAt:   &remind,
		Recurrence: "every day",
	}

	next, err := svc.Advance(task, due)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), *next.DueAt)
	assert.Equal(t, time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC), *next.RemindAt)
}

func TestService_AdvanceConsumesCount(t *testing.T) {
	t.Parallel()

	svc := NewDefaultService()
	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := &domain.Task{Title: "course", DueAt: &due, Recurrence: "FREQ=DAILY;COUNT=3"}

	var dues []time.Time
	for {
		next, err := svc.Advance(task, *task.DueAt)
		if err != nil {
			require.ErrorIs(t, err, ErrNoNextOccurrence)
			break
		}
		dues = append(dues, *next.DueAt)
		task = next
		require.Less(t, len(dues), 10, "series never ended")
	}

	assert.Equal(t, []time.Time{
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	}, dues)
	rule, err := Parse(task.Recurrence)
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Count())
}

func TestService_AdvanceNotRecurring(t *testing.T) {
	t.Parallel()

	_, err := NewDefaultService().Advance(&domain.Task{Title: "once"}, time.Now())
	assert.ErrorIs(t, err, ErrNotRecurring)
}

func TestService_NextOccurrence(t *testing.T) {
	t.Parallel()

	due := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := NewDefaultService().NextOccurrence("weekly", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), &due)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), got)

	_, err = NewDefaultService().NextOccurrence("sometimes", time.Now(), &due)
	assert.ErrorIs(t, err, ErrUnsupportedRule)
}
