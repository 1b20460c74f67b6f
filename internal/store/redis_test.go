package store

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

// fakeRedis is an in-memory RedisClientInterface.
type fakeRedis struct {
	data    map[string]string
	ttls    map[string]time.Duration
	deleted []string
	setErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
		f.deleted = append(f.deleted, k)
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestPublishPositions(t *testing.T) {
	fake := newFakeRedis()
	c := NewWithClient(fake, 30*time.Second)
	ctx := context.Background()

	first := []gapeka.ProjectedPosition{
		{TrainID: 1, Code: "KA1", Position: gapeka.Coordinate{Lat: 1, Lng: 2}},
		{TrainID: 2, Code: "KA2"},
		{TrainID: 3, Code: "KA3"},
	}
	require.NoError(t, c.PublishPositions(ctx, time.Now(), first))
	assert.Len(t, fake.data, 3)
	assert.Equal(t, 30*time.Second, fake.ttls["train:1"])
	assert.Empty(t, fake.deleted)

	require.NoError(t, c.PublishPositions(ctx, time.Now(), first[:1]))
	sort.Strings(fake.deleted)
	assert.Equal(t, []string{"train:2", "train:3"}, fake.deleted)
	assert.Len(t, fake.data, 1)

	got, err := c.GetPosition(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "KA1", got.Code)
	assert.Equal(t, gapeka.Coordinate{Lat: 1, Lng: 2}, got.Position)
}

func TestGetPositionMissing(t *testing.T) {
	c := NewWithClient(newFakeRedis(), time.Second)
	_, err := c.GetPosition(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPositionCorrupt(t *testing.T) {
	fake := newFakeRedis()
	fake.data["train:4"] = "{not json"
	c := NewWithClient(fake, time.Second)
	_, err := c.GetPosition(context.Background(), 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPublishPositionsSetError(t *testing.T) {
	fake := newFakeRedis()
	fake.setErr = errors.New("READONLY")
	c := NewWithClient(fake, time.Second)

	err := c.PublishPositions(context.Background(), time.Now(), []gapeka.ProjectedPosition{{TrainID: 1}})
	assert.ErrorContains(t, err, "READONLY")
	assert.Equal(t, "redis", c.Name())
	assert.Equal(t, "train:12", Key(12))
}
