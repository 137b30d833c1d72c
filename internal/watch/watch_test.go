package watch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/internal/scheduler"
)

func TestFollowerReceivesPublishedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := &redis.Options{Addr: mr.Addr()}

	follower, err := NewFollower(opts, "test")
	require.NoError(t, err)
	defer follower.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := follower.Events(ctx)
	require.NoError(t, err)

	sink, err := scheduler.NewRedisSink(opts, "test")
	require.NoError(t, err)
	defer sink.Close()

	published := scheduler.Event{
		Type:      scheduler.EventRunStarted,
		RunID:     "run-1",
		RequestID: "req-1",
		Wave:      -1,
		Timestamp: time.Now().UTC(),
	}
	sink.Publish(ctx, published)

	select {
	case got := <-events:
		assert.Equal(t, scheduler.EventRunStarted, got.Type)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "req-1", got.RequestID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for run event")
	}
}

func TestFollowerIgnoresMalformedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := &redis.Options{Addr: mr.Addr()}

	follower, err := NewFollower(opts, "test")
	require.NoError(t, err)
	defer follower.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := follower.Events(ctx)
	require.NoError(t, err)

	rdb := redis.NewClient(opts)
	defer rdb.Close()
	require.NoError(t, rdb.Publish(ctx, scheduler.EventsChannel("test"), "{{{").Err())

	sink, err := scheduler.NewRedisSink(opts, "test")
	require.NoError(t, err)
	defer sink.Close()
	sink.Publish(ctx, scheduler.Event{Type: scheduler.EventRunCompleted, RunID: "run-2", Timestamp: time.Now().UTC()})

	select {
	case got := <-events:
		assert.Equal(t, "run-2", got.RunID, "malformed payloads are skipped, not fatal")
	case <-ctx.Done():
		t.Fatal("timed out waiting for run event")
	}
}

func TestFollowerRequiresInstance(t *testing.T) {
	_, err := NewFollower(&redis.Options{Addr: "localhost:6379"}, "")
	assert.Error(t, err)
}
