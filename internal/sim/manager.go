package sim

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mrevanzak/persepuran/internal/animation"
	"github.com/mrevanzak/persepuran/internal/gapeka"
	mmetrics "github.com/mrevanzak/persepuran/internal/metrics"
	"github.com/mrevanzak/persepuran/internal/projection"
	"github.com/mrevanzak/persepuran/internal/source"
)

// TickSink receives the projected positions of every tick, in feed order.
type TickSink interface {
	Name() string
	PublishPositions(ctx context.Context, at time.Time, positions []gapeka.ProjectedPosition) error
}

// FrameSink receives rendered coordinates at render rate.
type FrameSink interface {
	Name() string
	PublishFrame(ctx context.Context, frame animation.Frame) error
}

type FocusSink interface {
	PublishFocus(ctx context.Context, trainID int64, at time.Time, region animation.Region) error
}

type Options struct {
	TickInterval      time.Duration
	FrameInterval     time.Duration
	RefreshInterval   time.Duration
	AnimationDuration time.Duration
	CoordEpsilon      float64
	// Location is the zone the timetable's service day is written in.
	Location *time.Location
	// FocusTrainID enables camera focus events for one train when non-zero.
	FocusTrainID int64

	Provider   source.Provider
	TickSinks  []TickSink
	FrameSinks []FrameSink
	FocusSink  FocusSink
	Metrics    *mmetrics.Collector

	// Now overrides the wall clock (tests).
	Now func() time.Time
}

// Manager owns the animation engine and drives it from one goroutine: a
// tick ticker recomputes targets, a frame ticker advances transitions. The
// frame ticker only exists while transitions are in flight.
type Manager struct {
	tickInterval    time.Duration
	frameInterval   time.Duration
	refreshInterval time.Duration
	tz              *time.Location
	provider        source.Provider
	tickSinks       []TickSink
	frameSinks      []FrameSink
	focusSink       FocusSink
	metrics         *mmetrics.Collector
	now             func() time.Time

	engine *animation.Engine
	focus  *animation.FocusTracker
	snap   atomic.Pointer[gapeka.Snapshot]

	mu            sync.Mutex
	loopCancel    context.CancelFunc
	loopWG        sync.WaitGroup
	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		tickInterval:    opts.TickInterval,
		frameInterval:   opts.FrameInterval,
		refreshInterval: opts.RefreshInterval,
		tz:              opts.Location,
		provider:        opts.Provider,
		tickSinks:       opts.TickSinks,
		frameSinks:      opts.FrameSinks,
		focusSink:       opts.FocusSink,
		metrics:         opts.Metrics,
		now:             opts.Now,
		engine:          animation.NewEngine(opts.AnimationDuration, opts.CoordEpsilon),
	}
	if m.tickInterval <= 0 {
		m.tickInterval = time.Second
	}
	if m.frameInterval <= 0 {
		m.frameInterval = 16 * time.Millisecond
	}
	if m.tz == nil {
		m.tz = time.Local
	}
	if m.now == nil {
		m.now = time.Now
	}
	if opts.FocusTrainID != 0 {
		m.focus = animation.NewFocusTracker(opts.FocusTrainID, opts.CoordEpsilon, animation.DefaultFocusDelta)
	}
	return m
}

// Snapshot returns the timetable the next tick will project, or nil.
func (m *Manager) Snapshot() *gapeka.Snapshot { return m.snap.Load() }

// SetSnapshot replaces the timetable used from the next tick on.
func (m *Manager) SetSnapshot(s *gapeka.Snapshot) {
	m.snap.Store(s)
	if m.metrics != nil && s != nil {
		m.metrics.SnapshotTrains.Set(float64(len(s.Trains)))
	}
}

// Start launches the event loop. It runs one tick immediately so markers
// appear without waiting a full interval.
func (m *Manager) Start(parent context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.loopCancel = cancel
	m.loopWG.Add(1)
	go func() {
		defer m.loopWG.Done()
		m.run(ctx)
	}()
}

func (m *Manager) run(ctx context.Context) {
	tick := time.NewTicker(m.tickInterval)
	defer tick.Stop()

	// frameC is nil (never ready) while no transition is in flight.
	var frame *time.Ticker
	var frameC <-chan time.Time
	arm := func(inFlight int) {
		if inFlight == 0 || frame != nil {
			return
		}
		frame = time.NewTicker(m.frameInterval)
		frameC = frame.C
		if m.metrics != nil {
			m.metrics.FrameLoops.Inc()
		}
	}
	disarm := func() {
		if frame != nil {
			frame.Stop()
			frame, frameC = nil, nil
		}
	}
	defer disarm()

	arm(m.Tick(ctx, m.now()))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			arm(m.Tick(ctx, m.now()))
		case <-frameC:
			if m.Frame(ctx, m.now()) == 0 {
				disarm()
			}
		}
	}
}

// Tick projects every train at now, hands the targets to the engine and
// publishes the result. It returns the number of transitions in flight.
func (m *Manager) Tick(ctx context.Context, now time.Time) int {
	start := time.Now()
	positions := projection.ProjectAll(projection.ServiceMs(now, m.tz), m.snap.Load())
	pruned := m.engine.Apply(positions, now)

	for _, s := range m.tickSinks {
		if err := s.PublishPositions(ctx, now, positions); err != nil {
			m.sinkError(s.Name(), err)
		}
	}
	m.updateFocus(ctx, now, positions)
	// Snaps and prunes never start a transition, so push the settled state
	// out here as well.
	m.emitFrame(ctx, now)

	inFlight := m.engine.InFlight()
	if m.metrics != nil {
		moving := 0
		for _, p := range positions {
			if p.Moving {
				moving++
			}
		}
		m.metrics.Ticks.Inc()
		m.metrics.ProjectedTrains.Set(float64(len(positions)))
		m.metrics.MovingTrains.Set(float64(moving))
		m.metrics.DwellingTrains.Set(float64(len(positions) - moving))
		m.metrics.PrunedTrains.Add(float64(pruned))
		m.metrics.InFlight.Set(float64(inFlight))
		m.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	return inFlight
}

// Frame advances every transition to now and publishes rendered coordinates
// when any moved. It returns the number of transitions still in flight.
func (m *Manager) Frame(ctx context.Context, now time.Time) int {
	start := time.Now()
	moved := m.engine.Advance(now)
	if moved {
		m.emitFrame(ctx, now)
	}
	inFlight := m.engine.InFlight()
	if m.metrics != nil {
		if moved {
			m.metrics.Frames.Inc()
		}
		m.metrics.InFlight.Set(float64(inFlight))
		m.metrics.FrameDuration.Observe(time.Since(start).Seconds())
	}
	return inFlight
}

func (m *Manager) emitFrame(ctx context.Context, now time.Time) {
	if len(m.frameSinks) == 0 {
		return
	}
	f := m.engine.Frame(now)
	for _, s := range m.frameSinks {
		if err := s.PublishFrame(ctx, f); err != nil {
			m.sinkError(s.Name(), err)
		}
	}
}

func (m *Manager) updateFocus(ctx context.Context, now time.Time, positions []gapeka.ProjectedPosition) {
	if m.focus == nil {
		return
	}
	region, ok := m.focus.Update(m.focus.Find(positions))
	if !ok || m.focusSink == nil {
		return
	}
	if err := m.focusSink.PublishFocus(ctx, m.focus.TrainID(), now, region); err != nil {
		m.sinkError("focus", err)
	}
}

func (m *Manager) sinkError(name string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	log.Printf("sink %s error: %v", name, err)
	if m.metrics != nil {
		m.metrics.SinkErrors.WithLabelValues(name).Inc()
	}
}

// Engine exposes the animation state for read-only inspection. It must only
// be read from the goroutine driving Tick and Frame.
func (m *Manager) Engine() *animation.Engine { return m.engine }

func (m *Manager) Stop() {
	m.mu.Lock()
	loopCancel, refreshCancel := m.loopCancel, m.refreshCancel
	m.loopCancel, m.refreshCancel = nil, nil
	m.mu.Unlock()

	if refreshCancel != nil {
		refreshCancel()
	}
	m.refreshWG.Wait()
	if loopCancel != nil {
		loopCancel()
	}
	m.loopWG.Wait()
}

// StartRefresher launches a background loop that periodically fetches a new
// snapshot from the provider and swaps it in.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.refreshInterval <= 0 || m.provider == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshSnapshot(ctx); err != nil && ctx.Err() == nil {
					log.Printf("refresh snapshot error: %v", err)
				}
			}
		}
	}()
}

// RefreshSnapshot fetches once and swaps the snapshot in on success. On
// failure the previous snapshot stays in use.
func (m *Manager) RefreshSnapshot(ctx context.Context) error {
	if m.provider == nil {
		return source.ErrNoSnapshot
	}
	s, err := m.provider.Fetch(ctx)
	if err == nil && s == nil {
		err = source.ErrNoSnapshot
	}
	if err != nil {
		if m.metrics != nil {
			m.metrics.Refreshes.WithLabelValues("error").Inc()
		}
		return err
	}
	m.SetSnapshot(s)
	if m.metrics != nil {
		m.metrics.Refreshes.WithLabelValues("ok").Inc()
	}
	log.Printf("snapshot loaded from %s: %d stations, %d routes, %d trains", s.Source, len(s.Stations), len(s.Routes), len(s.Trains))
	return nil
}
