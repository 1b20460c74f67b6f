package animation

import (
	"math"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const DefaultFocusDelta = 0.05

// Region is a map camera target: a centre and the visible span around it.
type Region struct {
	Center         gapeka.Coordinate `json:"center"`
	LatitudeDelta  float64           `json:"latitudeDelta"`
	LongitudeDelta float64           `json:"longitudeDelta"`
}

// FocusTracker follows one train and asks the camera to move only when that
// train has moved by at least epsilon since the last request.
type FocusTracker struct {
	trainID  int64
	epsilon  float64
	delta    float64
	previous *gapeka.Coordinate
}

func NewFocusTracker(trainID int64, epsilon, delta float64) *FocusTracker {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	if delta <= 0 {
		delta = DefaultFocusDelta
	}
	return &FocusTracker{trainID: trainID, epsilon: epsilon, delta: delta}
}

func (f *FocusTracker) TrainID() int64 { return f.trainID }

// Find returns the followed train's position in positions, or nil.
func (f *FocusTracker) Find(positions []gapeka.ProjectedPosition) *gapeka.ProjectedPosition {
	for i := range positions {
		if positions[i].TrainID == f.trainID {
			return &positions[i]
		}
	}
	return nil
}

// Update returns a region when the camera should move. A nil position means
// the train is gone; the tracker forgets its last region so the next
// sighting always refocuses.
func (f *FocusTracker) Update(pos *gapeka.ProjectedPosition) (Region, bool) {
	if pos == nil {
		f.previous = nil
		return Region{}, false
	}
	c := pos.Position
	if f.previous != nil &&
		math.Abs(f.previous.Lat-c.Lat) < f.epsilon &&
		math.Abs(f.previous.Lng-c.Lng) < f.epsilon {
		return Region{}, false
	}
	f.previous = &c
	return Region{Center: c, LatitudeDelta: f.delta, LongitudeDelta: f.delta}, true
}
