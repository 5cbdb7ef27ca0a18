package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline becomes unavailable", err: context.DeadlineExceeded, want: ErrProviderUnavailable},
		{name: "unknown becomes unavailable", err: errors.New("connection reset"), want: ErrProviderUnavailable},
		{name: "auth passes through", err: fmt.Errorf("refresh: %w", ErrAuthExpired), want: ErrAuthExpired},
		{name: "malformed passes through", err: ErrMalformed, want: ErrMalformed},
		{name: "cancellation passes through", err: context.Canceled, want: context.Canceled},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tc.err), tc.want)
		})
	}

	assert.NoError(t, Classify(nil))
	assert.False(t, errors.Is(Classify(context.Canceled), ErrProviderUnavailable))
}

func TestError(t *testing.T) {
	t.Parallel()

	err := NewError("caldav", "put", "abc.ics", ErrConflict)
	assert.Equal(t, "caldav put abc.ics: provider version conflict", err.Error())
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, Retryable(err))

	unavailable := NewError("google_tasks", "list", "", errors.New("503"))
	assert.True(t, Retryable(unavailable))
	assert.Contains(t, unavailable.Error(), "google_tasks list: provider unavailable")
}

func TestRemoteTask_RoundTripThroughTask(t *testing.T) {
	t.Parallel()

	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	remind := due.Add(-time.Hour)
	local := &domain.Task{
		ID:         uuid.New(),
		ListID:     uuid.New(),
		Title:      "pay rent",
		DueAt:      &due,
		RemindAt:   &remind,
		Recurrence: "monthly",
		Priority:   domain.PriorityHigh,
		Location:   &domain.Region{Latitude: 1, Longitude: 2, RadiusMeters: 50, OnEnter: true},
	}

	payload := FromTask(local)
	*payload.DueAt = due.AddDate(0, 0, 1)
	assert.Equal(t, due, *local.DueAt, "payload must not alias the task")

	target := &domain.Task{RemindAt: &remind, Location: local.Location}
	payload.Title = "pay rent (edited)"
	payload.ApplyTo(target)

	assert.Equal(t, "pay rent (edited)", target.Title)
	assert.Equal(t, "monthly", target.Recurrence)
	assert.Equal(t, domain.PriorityHigh, target.Priority)
	assert.Equal(t, &remind, target.RemindAt, "local-only reminder is kept")
	assert.NotNil(t, target.Location)
}

func TestApplyToKeepsUnsupportedFields(t *testing.T) {
	t.Parallel()

	due := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)
	local := &domain.Task{
		Title:      "water plants",
		DueAt:      &due,
		DueHasTime: true,
		Recurrence: "every 3 days",
		Priority:   domain.PriorityMedium,
	}

	dateOnly := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	payload := &RemoteTask{
		Title:       "water all plants",
		DueAt:       &dateOnly,
		Unsupported: FieldRecurrence | FieldPriority | FieldDueTime,
	}
	payload.ApplyTo(local)

	assert.Equal(t, "water all plants", local.Title)
	assert.Equal(t, "every 3 days", local.Recurrence)
	assert.Equal(t, domain.PriorityMedium, local.Priority)
	assert.Equal(t, due, *local.DueAt)
	assert.True(t, local.DueHasTime)

	moved := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	payload.DueAt = &moved
	payload.ApplyTo(local)
	assert.Equal(t, moved, *local.DueAt)
	assert.False(t, local.DueHasTime)
}

type stubAdapter struct {
	Adapter
	kind domain.ProviderKind
}

func (s stubAdapter) Kind() domain.ProviderKind { return s.kind }

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(domain.ProviderCalDAV, func(ctx context.Context, b *domain.ListBinding) (Adapter, error) {
		return stubAdapter{kind: domain.ProviderCalDAV}, nil
	})
	reg.Register(domain.ProviderGoogleTasks, func(ctx context.Context, b *domain.ListBinding) (Adapter, error) {
		return nil, ErrAuthExpired
	})

	a, err := reg.AdapterFor(context.Background(), &domain.ListBinding{ProviderKind: domain.ProviderCalDAV})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderCalDAV, a.Kind())

	_, err = reg.AdapterFor(context.Background(), &domain.ListBinding{ProviderKind: domain.ProviderGoogleTasks})
	assert.ErrorIs(t, err, ErrAuthExpired)

	_, err = reg.AdapterFor(context.Background(), &domain.ListBinding{ProviderKind: "jira"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
