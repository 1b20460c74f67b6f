package animation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, EaseInOutCubic(0))
	assert.Equal(t, 1.0, EaseInOutCubic(1))
	assert.InDelta(t, 0.5, EaseInOutCubic(0.5), 1e-12)
	assert.InDelta(t, 0.032, EaseInOutCubic(0.2), 1e-12)

	prev := 0.0
	for i := 1; i <= 100; i++ {
		p := float64(i) / 100
		v := EaseInOutCubic(p)
		assert.GreaterOrEqual(t, v, prev, "monotonic at %v", p)
		assert.LessOrEqual(t, v, 1.0)
		// symmetric around the midpoint
		assert.InDelta(t, 1-v, EaseInOutCubic(1-p), 1e-9)
		prev = v
	}
}

func TestFirstSightingSnaps(t *testing.T) {
	e := NewEngine(time.Second, 1e-6)
	target := gapeka.Coordinate{Lat: -6.2, Lng: 106.8}

	e.Upsert(1, target, t0)

	assert.Equal(t, Settled, e.State(1))
	assert.Zero(t, e.InFlight())
	got, ok := e.Position(1)
	require.True(t, ok)
	assert.Equal(t, target, got)
}

func TestSubEpsilonChangeSnapsWithoutTransition(t *testing.T) {
	e := NewEngine(time.Second, 1e-4)
	e.Upsert(1, gapeka.Coordinate{Lat: 1, Lng: 1}, t0)

	nudged := gapeka.Coordinate{Lat: 1 + 5e-5, Lng: 1 - 5e-5}
	e.Upsert(1, nudged, t0.Add(time.Second))

	assert.Zero(t, e.InFlight())
	assert.Equal(t, Settled, e.State(1))
	got, _ := e.Position(1)
	assert.Equal(t, nudged, got)
}

func TestOneAxisAboveEpsilonAnimates(t *testing.T) {
	e := NewEngine(time.Second, 1e-4)
	e.Upsert(1, gapeka.Coordinate{Lat: 1, Lng: 1}, t0)
	e.Upsert(1, gapeka.Coordinate{Lat: 1, Lng: 1.001}, t0)

	assert.Equal(t, Animating, e.State(1))
	tr, ok := e.Transition(1)
	require.True(t, ok)
	assert.Equal(t, gapeka.Coordinate{Lat: 1, Lng: 1}, tr.From)
	assert.Equal(t, t0, tr.Start)
}

func TestTransitionReachesTargetWithoutOvershoot(t *testing.T) {
	e := NewEngine(time.Second, 1e-6)
	from := gapeka.Coordinate{Lat: 0, Lng: 0}
	to := gapeka.Coordinate{Lat: 1, Lng: 2}
	e.Upsert(1, from, t0)
	e.Upsert(1, to, t0)
	require.Equal(t, 1, e.InFlight())

	prev := from
	for ms := 0; ms < 1000; ms += 16 {
		require.True(t, e.Advance(t0.Add(time.Duration(ms)*time.Millisecond)))
		got, _ := e.Position(1)
		assert.GreaterOrEqual(t, got.Lat, prev.Lat)
		assert.GreaterOrEqual(t, got.Lng, prev.Lng)
		assert.LessOrEqual(t, got.Lat, to.Lat)
		assert.LessOrEqual(t, got.Lng, to.Lng)
		prev = got
	}
	assert.Equal(t, Animating, e.State(1))

	assert.True(t, e.Advance(t0.Add(time.Second)))
	got, _ := e.Position(1)
	assert.Equal(t, to, got)
	assert.Equal(t, Settled, e.State(1))
	assert.Zero(t, e.InFlight())

	// nothing left to move
	assert.False(t, e.Advance(t0.Add(2*time.Second)))
}

func TestAdvanceMidpointIsEased(t *testing.T) {
	e := NewEngine(time.Second, 1e-6)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 0}, t0)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 10}, t0)

	e.Advance(t0.Add(200 * time.Millisecond))
	got, _ := e.Position(1)
	assert.InDelta(t, 0.32, got.Lng, 1e-9)

	e.Advance(t0.Add(500 * time.Millisecond))
	got, _ = e.Position(1)
	assert.InDelta(t, 5, got.Lng, 1e-9)
}

func TestAdvanceBeforeStartClampsToOrigin(t *testing.T) {
	e := NewEngine(time.Second, 1e-6)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 0}, t0)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 10}, t0)

	e.Advance(t0.Add(-time.Second))
	got, _ := e.Position(1)
	assert.Equal(t, gapeka.Coordinate{Lat: 0, Lng: 0}, got)
}

func TestRetargetMidFlightStartsFromRendered(t *testing.T) {
	e := NewEngine(time.Second, 1e-6)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 0}, t0)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 10}, t0)
	e.Advance(t0.Add(500 * time.Millisecond))

	later := t0.Add(600 * time.Millisecond)
	e.Upsert(1, gapeka.Coordinate{Lat: 0, Lng: 20}, later)
	tr, ok := e.Transition(1)
	require.True(t, ok)
	assert.InDelta(t, 5, tr.From.Lng, 1e-9)
	assert.Equal(t, later, tr.Start)
}

func TestApplyPrunesMissingTrains(t *testing.T) {
	e := NewEngine(time.Second, 1e-6)
	e.Apply([]gapeka.ProjectedPosition{
		{TrainID: 1, Position: gapeka.Coordinate{Lat: 1, Lng: 1}},
		{TrainID: 2, Position: gapeka.Coordinate{Lat: 2, Lng: 2}},
	}, t0)
	e.Apply([]gapeka.ProjectedPosition{
		{TrainID: 1, Position: gapeka.Coordinate{Lat: 1, Lng: 1}},
		{TrainID: 2, Position: gapeka.Coordinate{Lat: 3, Lng: 3}},
	}, t0.Add(time.Second))
	require.Equal(t, Animating, e.State(2))

	removed := e.Apply([]gapeka.ProjectedPosition{
		{TrainID: 1, Position: gapeka.Coordinate{Lat: 1, Lng: 1}},
	}, t0.Add(2*time.Second))

	assert.Equal(t, 1, removed)
	assert.Equal(t, Absent, e.State(2))
	_, ok := e.Position(2)
	assert.False(t, ok)
	_, ok = e.Transition(2)
	assert.False(t, ok)
	assert.Equal(t, 1, e.Len())

	assert.Equal(t, 1, e.Apply(nil, t0.Add(3*time.Second)))
	assert.Zero(t, e.Len())
}

func TestFrameIsACopy(t *testing.T) {
	e := NewEngine(0, 0)
	assert.Equal(t, DefaultDuration, e.Duration())
	e.Upsert(1, gapeka.Coordinate{Lat: 1, Lng: 1}, t0)

	f := e.Frame(t0)
	f.Positions[1] = gapeka.Coordinate{}
	got, _ := e.Position(1)
	assert.Equal(t, gapeka.Coordinate{Lat: 1, Lng: 1}, got)
	assert.Equal(t, t0, f.At)
}

func TestFocusTracker(t *testing.T) {
	f := NewFocusTracker(7, 1e-4, 0)
	positions := []gapeka.ProjectedPosition{
		{TrainID: 3, Position: gapeka.Coordinate{Lat: 9, Lng: 9}},
		{TrainID: 7, Position: gapeka.Coordinate{Lat: 1, Lng: 1}},
	}

	r, ok := f.Update(f.Find(positions))
	require.True(t, ok)
	assert.Equal(t, gapeka.Coordinate{Lat: 1, Lng: 1}, r.Center)
	assert.Equal(t, DefaultFocusDelta, r.LatitudeDelta)

	positions[1].Position.Lat += 5e-5
	_, ok = f.Update(f.Find(positions))
	assert.False(t, ok, "sub-epsilon move keeps the camera")

	positions[1].Position.Lat += 1e-3
	_, ok = f.Update(f.Find(positions))
	assert.True(t, ok)

	assert.Nil(t, f.Find(positions[:1]))
	_, ok = f.Update(nil)
	assert.False(t, ok)
	_, ok = f.Update(f.Find(positions))
	assert.True(t, ok, "refocus after the train reappears")
}
