package recurrence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		text         string
		wantFreq     rrule.Frequency
		wantInterval int
		wantAnchor   Anchor
		wantErr      error
	}{
		{name: "natural default interval", text: "every week", wantFreq: rrule.WEEKLY, wantInterval: 1, wantAnchor: AnchorDueDate},
		{name: "natural plural", text: "Every 3 Months", wantFreq: rrule.MONTHLY, wantInterval: 3, wantAnchor: AnchorDueDate},
		{name: "natural from due date", text: "every 1 week from due date", wantFreq: rrule.WEEKLY, wantInterval: 1, wantAnchor: AnchorDueDate},
		{name: "natural from completion", text: "every 2 days from completion", wantFreq: rrule.DAILY, wantInterval: 2, wantAnchor: AnchorCompletion},
		{name: "shorthand", text: "yearly", wantFreq: rrule.YEARLY, wantInterval: 1, wantAnchor: AnchorDueDate},
		{name: "rrule prefix", text: "RRULE:FREQ=MONTHLY;INTERVAL=2", wantFreq: rrule.MONTHLY, wantInterval: 2, wantAnchor: AnchorDueDate},
		{name: "rrule completion", text: "FREQ=WEEKLY;FROM=COMPLETION", wantFreq: rrule.WEEKLY, wantInterval: 1, wantAnchor: AnchorCompletion},
		{name: "empty", text: "  ", wantErr: ErrEmptyRule},
		{name: "garbage", text: "whenever I feel like it", wantErr: ErrUnsupportedRule},
		{name: "bad natural", text: "every fortnight", wantErr: ErrUnsupportedRule},
		{name: "sub-daily", text: "FREQ=HOURLY", wantErr: ErrUnsupportedRule},
		{name: "zero interval", text: "every 0 days", wantErr: ErrInvalidInterval},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rule, err := Parse(tc.text)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantFreq, rule.Frequency)
			assert.Equal(t, tc.wantInterval, rule.Interval)
			assert.Equal(t, tc.wantAnchor, rule.Anchor)
		})
	}
}

func TestRule_StringKeepsAnchor(t *testing.T) {
	t.Parallel()

	rule, err := Parse("every 2 days from completion")
	require.NoError(t, err)

	reparsed, err := Parse(rule.String())
	require.NoError(t, err)
	assert.Equal(t, rule.Frequency, reparsed.Frequency)
	assert.Equal(t, rule.Interval, reparsed.Interval)
	assert.Equal(t, AnchorCompletion, reparsed.Anchor)
}
