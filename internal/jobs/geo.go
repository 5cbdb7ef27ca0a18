package jobs

import (
	"math"

	"github.com/phrazzld/tasksync/internal/domain"
)

const earthRadiusMeters = 6371008.8

// Transition is the direction of a geofence crossing.
type Transition string

// Geofence transitions
const (
	TransitionEnter Transition = "enter"
	TransitionExit  Transition = "exit"
)

// Valid reports whether t is a known transition.
func (t Transition) Valid() bool {
	return t == TransitionEnter || t == TransitionExit
}

// distanceMeters returns the great-circle distance between two points
// using the haversine formula.
func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rlat1 := radians(lat1)
	rlat2 := radians(lat2)
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rlat1)*math.Cos(rlat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// matches reports whether a position reported for transition t triggers
// region. An enter matches when the position lies inside the fence. An
// exit is detected just outside the fence, so it matches positions beyond
// the radius but within twice of it.
func matches(region domain.Region, lat, lng float64, t Transition) bool {
	d := distanceMeters(region.Latitude, region.Longitude, lat, lng)
	switch t {
	case TransitionEnter:
		return region.OnEnter && d <= region.RadiusMeters
	case TransitionExit:
		return region.OnExit && d > region.RadiusMeters && d <= 2*region.RadiusMeters
	}
	return false
}
