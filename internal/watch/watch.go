// Package watch follows an instance's live run-event stream over Redis
// pub/sub, for `drey watch` and other read-only observers.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/drey/internal/scheduler"
)

// Follower subscribes to the run-event channel of one instance.
type Follower struct {
	rdb      *redis.Client
	instance string
}

// NewFollower creates a follower for the instance.
func NewFollower(opts *redis.Options, instance string) (*Follower, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &Follower{rdb: redis.NewClient(opts), instance: instance}, nil
}

// Events subscribes and returns a channel of decoded run events. The
// subscription is confirmed before Events returns, so events published
// afterwards are never missed. The channel closes when ctx is cancelled.
func (f *Follower) Events(ctx context.Context) (<-chan scheduler.Event, error) {
	sub := f.rdb.Subscribe(ctx, scheduler.EventsChannel(f.instance))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	out := make(chan scheduler.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev scheduler.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("[watch] skipping malformed run event: %v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Follow consumes the event stream, invoking handle per event, until ctx is
// cancelled or the stream closes.
func (f *Follower) Follow(ctx context.Context, handle func(scheduler.Event)) error {
	events, err := f.Events(ctx)
	if err != nil {
		return err
	}
	for ev := range events {
		handle(ev)
	}
	return ctx.Err()
}

// Close closes the underlying Redis connection.
func (f *Follower) Close() error {
	return f.rdb.Close()
}
