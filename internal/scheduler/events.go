package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event is one entry in a run's event stream: a component changing state, a
// wave committing, or the run starting or finishing.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id"`
	Component string    `json:"component,omitempty"`
	Wave      int       `json:"wave"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types published by the engine.
const (
	EventRunStarted      = "run_started"
	EventRunCompleted    = "run_completed"
	EventRunFailed       = "run_failed"
	EventWaveCommitted   = "wave_committed"
	EventComponentDone   = "component_done"
	EventEscalationFired = "escalation_fired"
)

// EventSink receives the engine's run events. Publishing must never block a
// run on a slow consumer; sinks drop rather than stall.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// NopSink discards all events.
type NopSink struct{}

// Publish implements EventSink.
func (NopSink) Publish(context.Context, Event) {}

// EventsChannel returns the pub/sub channel carrying an instance's run
// events. Pattern: drey:{instance}:run_events
func EventsChannel(instance string) string {
	return fmt.Sprintf("drey:%s:run_events", instance)
}

// RedisSink publishes run events as JSON to the instance's pub/sub channel,
// for `drey watch` and other live followers. Publish errors are logged and
// dropped: observability must never fail a run.
type RedisSink struct {
	rdb      *redis.Client
	instance string
}

// NewRedisSink creates a sink for the instance.
func NewRedisSink(opts *redis.Options, instance string) (*RedisSink, error) {
	if instance == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}
	return &RedisSink{rdb: redis.NewClient(opts), instance: instance}, nil
}

// Publish implements EventSink.
func (s *RedisSink) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[scheduler] failed to marshal run event: %v", err)
		return
	}
	if err := s.rdb.Publish(ctx, EventsChannel(s.instance), payload).Err(); err != nil {
		log.Printf("[scheduler] failed to publish run event: %v", err)
	}
}

// Close closes the underlying Redis connection.
func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
