package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ProjectedTrains prometheus.Gauge
	MovingTrains    prometheus.Gauge
	DwellingTrains  prometheus.Gauge
	InFlight        prometheus.Gauge
	SnapshotTrains  prometheus.Gauge

	Ticks        prometheus.Counter
	Frames       prometheus.Counter
	FrameLoops   prometheus.Counter
	PrunedTrains prometheus.Counter

	Refreshes  *prometheus.CounterVec // result label: ok, error, stale, db_ping_failure, db_switch
	SinkErrors *prometheus.CounterVec // sink label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	FrameDuration   prometheus.Histogram
	PublishDuration prometheus.Histogram

	TickInterval    prometheus.Gauge // seconds
	FrameInterval   prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
}

func NewCollector(tickInterval, frameInterval, refreshInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ProjectedTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_projected_trains",
			Help: "Trains with a schedule-derived position in the last tick.",
		}),
		MovingTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_moving_trains",
			Help: "Projected trains between stations in the last tick.",
		}),
		DwellingTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_dwelling_trains",
			Help: "Projected trains standing at a station in the last tick.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_inflight_transitions",
			Help: "Marker transitions currently animating.",
		}),
		SnapshotTrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_snapshot_trains",
			Help: "Trains in the current timetable snapshot.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ticks_total",
			Help: "Total projection ticks.",
		}),
		Frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_frames_total",
			Help: "Total animation frames that moved at least one marker.",
		}),
		FrameLoops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_frame_loops_started_total",
			Help: "Times the frame loop was armed.",
		}),
		PrunedTrains: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_pruned_trains_total",
			Help: "Trains whose animation state was dropped after leaving the projection.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_snapshot_refreshes_total",
			Help: "Timetable snapshot refreshes by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_sink_errors_total",
			Help: "Output sink failures by sink.",
		}, []string{"sink"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of projection ticks including sinks.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
		FrameDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_frame_duration_seconds",
			Help:    "Duration of animation frames including sinks.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tick_interval_seconds",
			Help: "Projection tick interval in seconds.",
		}),
		FrameInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_frame_interval_seconds",
			Help: "Animation frame interval in seconds.",
		}),
		RefreshInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_refresh_interval_seconds",
			Help: "Snapshot refresh interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.ProjectedTrains, c.MovingTrains, c.DwellingTrains, c.InFlight, c.SnapshotTrains,
		c.Ticks, c.Frames, c.FrameLoops, c.PrunedTrains,
		c.Refreshes, c.SinkErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.FrameDuration, c.PublishDuration,
		c.TickInterval, c.FrameInterval, c.RefreshInterval,
	)

	c.TickInterval.Set(tickInterval.Seconds())
	c.FrameInterval.Set(frameInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// NATS adapts the collector to publisher.PublisherMetrics.
func (c *Collector) NATS() *NATSMetrics { return &NATSMetrics{c: c} }

type NATSMetrics struct{ c *Collector }

func (p *NATSMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *NATSMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *NATSMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *NATSMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
