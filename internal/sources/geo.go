package sources

import (
	"math"
	"sync"
)

const (
	earthRadiusKm = 6371.0
	kmToMiles     = 0.621371
)

// Haversine returns the great-circle distance in miles between two points
// given in decimal degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * kmToMiles
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// FirstLoad tracks whether the traffic source has completed a successful
// fetch in this process. It starts active and is cleared exactly once.
type FirstLoad struct {
	mu   sync.Mutex
	done bool
}

func NewFirstLoad() *FirstLoad { return &FirstLoad{} }

// Active reports whether no fetch has succeeded yet.
func (f *FirstLoad) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.done
}

// Complete marks the first successful fetch. It returns true only for the
// call that performed the transition.
func (f *FirstLoad) Complete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done {
		return false
	}
	f.done = true
	return true
}
