package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/mrevanzak/persepuran/internal/animation"
	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const (
	SubjectFrames = "trains.frames"
	SubjectFocus  = "trains.focus"
	// positionWildcard matches every per-train position subject.
	positionWildcard = "trains.*.position"
)

type NATSPublisher struct {
	nc            *nats.Conn
	publish       func(subject string, data []byte) error
	logSubjects   bool
	publishFrames bool
	metrics       PublisherMetrics
	newBatchID    func() string
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// NewNATSPublisher connects to url. With a non-empty streamName, position
// subjects are captured by a JetStream stream and published through it.
func NewNATSPublisher(url string, logSubjects, publishFrames bool, streamName string, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("persepuran-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	p := &NATSPublisher{
		nc:            nc,
		publish:       nc.Publish,
		logSubjects:   logSubjects,
		publishFrames: publishFrames,
		metrics:       m,
		newBatchID:    func() string { return uuid.NewString() },
	}

	if streamName != "" {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream context: %w", err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{positionWildcard},
			Storage:  nats.MemoryStorage,
			MaxAge:   time.Hour,
		})
		if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
			nc.Close()
			return nil, fmt.Errorf("create stream %s: %w", streamName, err)
		}
		p.publish = func(subject string, data []byte) error {
			if !strings.HasSuffix(subject, ".position") {
				return nc.Publish(subject, data)
			}
			_, err := js.Publish(subject, data)
			return err
		}
	}

	if m != nil {
		m.NATSSetConnected(true)
	}
	return p, nil
}

func (p *NATSPublisher) Name() string { return "nats" }

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type PositionMessage struct {
	BatchID   string    `json:"batchId"`
	Timestamp time.Time `json:"timestamp"`
	gapeka.ProjectedPosition
}

type FrameMessage struct {
	Timestamp time.Time            `json:"timestamp"`
	Positions map[string][]float64 `json:"positions"`
}

type FocusMessage struct {
	TrainID        int64     `json:"trainId"`
	Timestamp      time.Time `json:"timestamp"`
	Lat            float64   `json:"lat"`
	Lng            float64   `json:"lng"`
	LatitudeDelta  float64   `json:"latitudeDelta"`
	LongitudeDelta float64   `json:"longitudeDelta"`
}

// PositionSubject is the subject a train's projected positions go to.
func PositionSubject(code string) string {
	return fmt.Sprintf("trains.%s.position", subjectToken(code))
}

// PublishPositions sends one message per projected train. Every message of
// one tick carries the same batch id.
func (p *NATSPublisher) PublishPositions(ctx context.Context, at time.Time, positions []gapeka.ProjectedPosition) error {
	batch := p.newBatchID()
	var firstErr error
	for _, pos := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := PositionMessage{BatchID: batch, Timestamp: at, ProjectedPosition: pos}
		if err := p.send(PositionSubject(pos.Code), msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishFrame is a no-op unless frame publishing was enabled.
func (p *NATSPublisher) PublishFrame(ctx context.Context, frame animation.Frame) error {
	if !p.publishFrames {
		return nil
	}
	return p.send(SubjectFrames, frameMessage(frame))
}

func (p *NATSPublisher) PublishFocus(ctx context.Context, trainID int64, at time.Time, region animation.Region) error {
	return p.send(SubjectFocus, FocusMessage{
		TrainID:        trainID,
		Timestamp:      at,
		Lat:            region.Center.Lat,
		Lng:            region.Center.Lng,
		LatitudeDelta:  region.LatitudeDelta,
		LongitudeDelta: region.LongitudeDelta,
	})
}

func frameMessage(frame animation.Frame) FrameMessage {
	msg := FrameMessage{Timestamp: frame.At, Positions: make(map[string][]float64, len(frame.Positions))}
	for id, c := range frame.Positions {
		msg.Positions[fmt.Sprint(id)] = []float64{c.Lat, c.Lng}
	}
	return msg
}

func (p *NATSPublisher) send(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
