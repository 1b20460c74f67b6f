package livestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrevanzak/persepuran/internal/animation"
	"github.com/mrevanzak/persepuran/internal/gapeka"
)

func TestBoardPositions(t *testing.T) {
	b := New(time.Minute)
	ctx := context.Background()

	got, at := b.Positions()
	assert.Nil(t, got)
	assert.True(t, at.IsZero())

	now := time.Unix(1_700_000_000, 0)
	in := []gapeka.ProjectedPosition{{TrainID: 2, Code: "B"}, {TrainID: 1, Code: "A"}}
	require.NoError(t, b.PublishPositions(ctx, now, in))
	in[0].Code = "mutated"

	got, at = b.Positions()
	assert.Equal(t, now, at)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Code)
	assert.Equal(t, int64(1), got[1].TrainID)

	p, ok := b.Position(1)
	require.True(t, ok)
	assert.Equal(t, "A", p.Code)

	require.NoError(t, b.PublishPositions(ctx, now.Add(time.Second), got[1:]))
	_, ok = b.Position(2)
	assert.False(t, ok)
	_, ok = b.Position(1)
	assert.True(t, ok)
}

func TestBoardFrame(t *testing.T) {
	b := New(0)
	_, ok := b.Frame()
	assert.False(t, ok)

	frame := animation.Frame{At: time.Unix(5, 0), Positions: map[int64]gapeka.Coordinate{3: {Lat: 1, Lng: 1}}}
	require.NoError(t, b.PublishFrame(context.Background(), frame))

	got, ok := b.Frame()
	require.True(t, ok)
	assert.Equal(t, frame.At, got.At)

	c, ok := b.Rendered(3)
	require.True(t, ok)
	assert.Equal(t, gapeka.Coordinate{Lat: 1, Lng: 1}, c)
	_, ok = b.Rendered(4)
	assert.False(t, ok)
}

func TestBoardExpiry(t *testing.T) {
	b := New(20 * time.Millisecond)
	require.NoError(t, b.PublishPositions(context.Background(), time.Now(), []gapeka.ProjectedPosition{{TrainID: 1}}))
	_, ok := b.Position(1)
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok = b.Position(1)
	assert.False(t, ok)
	got, _ := b.Positions()
	assert.Empty(t, got)
}
