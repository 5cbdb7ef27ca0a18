package jobs

import (
	"testing"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	t.Parallel()

	// Paris to London.
	d := distanceMeters(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 343_500, d, 1_500)

	assert.Zero(t, distanceMeters(10, 20, 10, 20))
}

func TestMatches(t *testing.T) {
	t.Parallel()

	fence := domain.Region{Latitude: 52.52, Longitude: 13.405, RadiusMeters: 200, OnEnter: true, OnExit: true}
	enterOnly := fence
	enterOnly.OnExit = false

	// About 300 m north of the center.
	outsideLat := 52.52 + 300.0/111_195

	tests := []struct {
		name   string
		region domain.Region
		lat    float64
		t      Transition
		want   bool
	}{
		{"enter at center", fence, 52.52, TransitionEnter, true},
		{"enter outside fence", fence, outsideLat, TransitionEnter, false},
		{"exit just outside fence", fence, outsideLat, TransitionExit, true},
		{"exit reported inside fence", fence, 52.52, TransitionExit, false},
		{"exit far away", fence, 53.52, TransitionExit, false},
		{"exit not subscribed", enterOnly, outsideLat, TransitionExit, false},
		{"unknown transition", fence, 52.52, Transition("dwell"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(tt.region, tt.lat, 13.405, tt.t))
		})
	}
}
