package animation

import (
	"math"
	"time"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const (
	DefaultDuration = 900 * time.Millisecond
	DefaultEpsilon  = 1e-6 // degrees
)

type State int

const (
	Absent State = iota
	Settled
	Animating
)

func (s State) String() string {
	switch s {
	case Settled:
		return "settled"
	case Animating:
		return "animating"
	default:
		return "absent"
	}
}

// Transition is one in-flight move of a rendered marker.
type Transition struct {
	From  gapeka.Coordinate
	To    gapeka.Coordinate
	Start time.Time
}

// Frame is the rendered coordinate of every known train at one instant.
type Frame struct {
	At        time.Time
	Positions map[int64]gapeka.Coordinate
}

// Engine smooths per-tick targets into render-rate coordinates. It is not
// safe for concurrent use: the owner serializes Apply/Upsert (target writes)
// and Advance (rendered writes) on one goroutine.
type Engine struct {
	duration time.Duration
	epsilon  float64

	rendered    map[int64]gapeka.Coordinate
	transitions map[int64]Transition
}

func NewEngine(duration time.Duration, epsilon float64) *Engine {
	if duration <= 0 {
		duration = DefaultDuration
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Engine{
		duration:    duration,
		epsilon:     epsilon,
		rendered:    make(map[int64]gapeka.Coordinate),
		transitions: make(map[int64]Transition),
	}
}

func (e *Engine) Duration() time.Duration { return e.duration }

// Upsert records a new target for id. A first sighting or a change smaller
// than epsilon on both axes snaps immediately; anything larger starts a
// transition from the currently rendered coordinate.
func (e *Engine) Upsert(id int64, target gapeka.Coordinate, now time.Time) {
	current, ok := e.rendered[id]
	if !ok || e.negligible(current, target) {
		e.rendered[id] = target
		delete(e.transitions, id)
		return
	}
	e.transitions[id] = Transition{From: current, To: target, Start: now}
}

func (e *Engine) negligible(a, b gapeka.Coordinate) bool {
	return math.Abs(a.Lat-b.Lat) < e.epsilon && math.Abs(a.Lng-b.Lng) < e.epsilon
}

// Prune drops every id not in seen and returns how many were removed.
func (e *Engine) Prune(seen map[int64]struct{}) int {
	removed := 0
	for id := range e.rendered {
		if _, ok := seen[id]; !ok {
			delete(e.rendered, id)
			delete(e.transitions, id)
			removed++
		}
	}
	return removed
}

// Apply feeds one tick of projected positions: every train gets a new target
// and trains missing from positions are pruned. It returns the prune count.
func (e *Engine) Apply(positions []gapeka.ProjectedPosition, now time.Time) int {
	seen := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		seen[p.TrainID] = struct{}{}
		e.Upsert(p.TrainID, p.Position, now)
	}
	return e.Prune(seen)
}

// Advance moves every in-flight transition to its eased position at now.
// Finished transitions pin the marker to their target and are removed. It
// reports whether any rendered coordinate was written.
func (e *Engine) Advance(now time.Time) bool {
	changed := false
	for id, tr := range e.transitions {
		progress := float64(now.Sub(tr.Start)) / float64(e.duration)
		progress = math.Max(0, math.Min(1, progress))
		changed = true
		if progress >= 1 {
			e.rendered[id] = tr.To
			delete(e.transitions, id)
			continue
		}
		e.rendered[id] = tr.From.Lerp(tr.To, EaseInOutCubic(progress))
	}
	return changed
}

func (e *Engine) InFlight() int { return len(e.transitions) }

func (e *Engine) Len() int { return len(e.rendered) }

func (e *Engine) Position(id int64) (gapeka.Coordinate, bool) {
	c, ok := e.rendered[id]
	return c, ok
}

func (e *Engine) Transition(id int64) (Transition, bool) {
	tr, ok := e.transitions[id]
	return tr, ok
}

func (e *Engine) State(id int64) State {
	if _, ok := e.transitions[id]; ok {
		return Animating
	}
	if _, ok := e.rendered[id]; ok {
		return Settled
	}
	return Absent
}

// Positions returns a copy of every rendered coordinate.
func (e *Engine) Positions() map[int64]gapeka.Coordinate {
	out := make(map[int64]gapeka.Coordinate, len(e.rendered))
	for id, c := range e.rendered {
		out[id] = c
	}
	return out
}

func (e *Engine) Frame(now time.Time) Frame {
	return Frame{At: now, Positions: e.Positions()}
}
