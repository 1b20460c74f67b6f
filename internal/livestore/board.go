// Package livestore holds the latest tick and frame in memory for the HTTP
// API. Entries expire after a TTL so a stalled engine stops serving
// positions instead of freezing them.
package livestore

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/mrevanzak/persepuran/internal/animation"
	"github.com/mrevanzak/persepuran/internal/gapeka"
)

const (
	positionsKey = "positions"
	frameKey     = "frame"
)

type tick struct {
	at        time.Time
	positions []gapeka.ProjectedPosition
}

type Board struct {
	c *cache.Cache

	mu  sync.Mutex
	ids []int64
}

// New returns a board whose entries live for ttl. A ttl <= 0 never expires.
func New(ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Board{c: cache.New(ttl, time.Minute)}
}

func (b *Board) Name() string { return "board" }

func trainKey(id int64) string { return "train:" + strconv.FormatInt(id, 10) }

func (b *Board) PublishPositions(ctx context.Context, at time.Time, positions []gapeka.ProjectedPosition) error {
	list := make([]gapeka.ProjectedPosition, len(positions))
	copy(list, positions)

	b.mu.Lock()
	defer b.mu.Unlock()
	current := make(map[int64]struct{}, len(list))
	ids := make([]int64, 0, len(list))
	for _, p := range list {
		b.c.SetDefault(trainKey(p.TrainID), p)
		current[p.TrainID] = struct{}{}
		ids = append(ids, p.TrainID)
	}
	for _, id := range b.ids {
		if _, ok := current[id]; !ok {
			b.c.Delete(trainKey(id))
		}
	}
	b.ids = ids
	b.c.SetDefault(positionsKey, tick{at: at, positions: list})
	return nil
}

func (b *Board) PublishFrame(ctx context.Context, frame animation.Frame) error {
	b.c.SetDefault(frameKey, frame)
	return nil
}

// Positions returns the last tick's positions in projection order.
func (b *Board) Positions() ([]gapeka.ProjectedPosition, time.Time) {
	x, ok := b.c.Get(positionsKey)
	if !ok {
		return nil, time.Time{}
	}
	t := x.(tick)
	out := make([]gapeka.ProjectedPosition, len(t.positions))
	copy(out, t.positions)
	return out, t.at
}

func (b *Board) Position(id int64) (gapeka.ProjectedPosition, bool) {
	x, ok := b.c.Get(trainKey(id))
	if !ok {
		return gapeka.ProjectedPosition{}, false
	}
	return x.(gapeka.ProjectedPosition), true
}

func (b *Board) Frame() (animation.Frame, bool) {
	x, ok := b.c.Get(frameKey)
	if !ok {
		return animation.Frame{}, false
	}
	return x.(animation.Frame), true
}

// Rendered is the coordinate last drawn for a train.
func (b *Board) Rendered(id int64) (gapeka.Coordinate, bool) {
	f, ok := b.Frame()
	if !ok {
		return gapeka.Coordinate{}, false
	}
	c, ok := f.Positions[id]
	return c, ok
}
