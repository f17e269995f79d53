// Package notify publishes job completion events. Delivery is best effort:
// a failed publish is logged and never affects the job.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/riskscan/internal/cache"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// publishTimeout bounds a single publish so a slow Redis cannot hold the worker.
const publishTimeout = 2 * time.Second

// Event is the message sent when a job reaches a terminal state.
type Event struct {
	Type            string     `json:"type"`
	JobID           uuid.UUID  `json:"job_id"`
	UserID          uuid.UUID  `json:"user_id"`
	ResultID        *uuid.UUID `json:"result_id,omitempty"`
	OverallRisk     int        `json:"overall_risk,omitempty"`
	OverallSeverity string     `json:"overall_severity,omitempty"`
	ErrorKind       string     `json:"error_kind,omitempty"`
	Error           string     `json:"error,omitempty"`
	At              time.Time  `json:"at"`
}

// Notifier delivers terminal job events.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// RedisNotifier publishes events on cache.JobEventsChannel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client, channel: cache.JobEventsChannel}
}

// Notify publishes ev and logs any failure.
func (n *RedisNotifier) Notify(ctx context.Context, ev Event) {
	if err := n.Publish(ctx, ev); err != nil {
		slog.WarnContext(ctx, "job notification failed", "job_id", ev.JobID, "type", ev.Type, "error", err)
	}
}

// Publish sends ev on the events channel.
func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling job event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return n.client.Publish(ctx, n.channel, data).Err()
}

// Subscribe calls handler for every event until ctx is cancelled. Messages
// that do not decode are skipped.
func Subscribe(ctx context.Context, client redis.UniversalClient, handler func(Event)) error {
	sub := client.Subscribe(ctx, cache.JobEventsChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", cache.JobEventsChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			handler(ev)
		}
	}
}
