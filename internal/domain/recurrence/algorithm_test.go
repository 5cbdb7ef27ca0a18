package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()

	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, time.UTC)
	}

	testCases := []struct {
		name          string
		rule          string
		completedAt   time.Time
		previousDueAt *time.Time
		want          time.Time
		wantErr       error
	}{
		{
			name:          "weekly from due date ignores completion",
			rule:          "every 1 week from due date",
			completedAt:   date(2024, 1, 3),
			previousDueAt: ptr(date(2024, 1, 1)),
			want:          date(2024, 1, 8),
		},
		{
			name:          "fixed schedule may land in the past",
			rule:          "every day",
			completedAt:   date(2024, 6, 1),
			previousDueAt: ptr(date(2024, 1, 1)),
			want:          date(2024, 1, 2),
		},
		{
			name:          "floating daily steps from completion",
			rule:          "every 1 day from completion",
			completedAt:   at(2024, 1, 10, 18, 0),
			previousDueAt: ptr(at(2024, 1, 1, 9, 0)),
			want:          at(2024, 1, 11, 9, 0),
		},
		{
			name:        "floating without due date uses completion time",
			rule:        "every 2 days from completion",
			completedAt: at(2024, 2, 28, 12, 30),
			want:        at(2024, 3, 1, 12, 30),
		},
		{
			name:          "every two weeks",
			rule:          "every 2 weeks",
			completedAt:   date(2024, 1, 2),
			previousDueAt: ptr(date(2024, 1, 1)),
			want:          date(2024, 1, 15),
		},
		{
			name:          "monthly",
			rule:          "monthly",
			completedAt:   date(2024, 3, 20),
			previousDueAt: ptr(date(2024, 3, 15)),
			want:          date(2024, 4, 15),
		},
		{
			name:          "yearly",
			rule:          "every year",
			completedAt:   date(2024, 7, 4),
			previousDueAt: ptr(date(2024, 7, 4)),
			want:          date(2025, 7, 4),
		},
		{
			name:          "rrule byday expands within the week",
			rule:          "RRULE:FREQ=WEEKLY;BYDAY=MO,WE",
			completedAt:   date(2024, 1, 1),
			previousDueAt: ptr(date(2024, 1, 1)),
			want:          date(2024, 1, 3),
		},
		{
			name:          "rrule with completion anchor",
			rule:          "RRULE:FREQ=DAILY;INTERVAL=3;FROM=COMPLETION",
			completedAt:   date(2024, 5, 10),
			previousDueAt: ptr(date(2024, 5, 1)),
			want:          date(2024, 5, 13),
		},
		{
			name:        "fixed schedule without due date",
			rule:        "every week",
			completedAt: date(2024, 1, 3),
			wantErr:     ErrMissingDueDate,
		},
		{
			name:          "count exhausted",
			rule:          "FREQ=DAILY;COUNT=1",
			completedAt:   date(2024, 1, 1),
			previousDueAt: ptr(date(2024, 1, 1)),
			wantErr:       ErrNoNextOccurrence,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rule, err := Parse(tc.rule)
			require.NoError(t, err)

			got, err := NextOccurrence(rule, tc.completedAt, tc.previousDueAt)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestNextOccurrence_Deterministic(t *testing.T) {
	t.Parallel()

	rule, err := Parse("every 3 days")
	require.NoError(t, err)

	due := date(2024, 1, 1)
	first, err := NextOccurrence(rule, date(2024, 1, 2), &due)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		// A different completion time must not matter for fixed rules.
		got, err := NextOccurrence(rule, date(2024, 1, 2+i), &due)
		require.NoError(t, err)
		assert.True(t, first.Equal(got))
	}
}

func TestNextOccurrence_NilRule(t *testing.T) {
	t.Parallel()

	_, err := NextOccurrence(nil, time.Now(), nil)
	assert.ErrorIs(t, err, ErrNilRule)
}

func ptr(t time.Time) *time.Time {
	return &t
}
