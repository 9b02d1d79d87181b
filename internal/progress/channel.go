// Package progress is the pub/sub channel between the pipeline worker
// (publisher) and streaming subscribers. Events for one job flow over a
// dedicated Redis channel; the terminal event is additionally cached under
// a grace-period TTL so late subscribers to a finished job still get it.
package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MLaitarovsky/docpilot/internal/models"
)

// Channel publishes and subscribes to per-job progress events.
type Channel struct {
	client      *redis.Client
	heartbeat   time.Duration
	terminalTTL time.Duration
	log         *slog.Logger
}

// New builds a channel over an existing Redis client. heartbeat is the idle
// interval after which subscribers receive a keep-alive signal; terminalTTL
// is how long a job's terminal event stays retrievable after the fact.
func New(client *redis.Client, heartbeat, terminalTTL time.Duration, logger *slog.Logger) *Channel {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	if terminalTTL <= 0 {
		terminalTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{client: client, heartbeat: heartbeat, terminalTTL: terminalTTL, log: logger}
}

func channelKey(jobID string) string  { return "progress:job:" + jobID }
func terminalKey(jobID string) string { return "progress:terminal:" + jobID }

// Publish sends an event to the job's channel. Fire-and-forget with respect
// to subscribers: a slow or absent consumer never blocks the publisher.
// Terminal events are also cached so a subscribe after the fact can observe
// how the job ended; the TTL doubles as channel teardown, keeping Redis
// free of per-job state once the grace period passes.
func (c *Channel) Publish(ctx context.Context, jobID string, ev models.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Terminal() {
		if err := c.client.Set(ctx, terminalKey(jobID), payload, c.terminalTTL).Err(); err != nil {
			c.log.Warn("progress.terminal_cache_failed", "job_id", jobID, "error", err)
		}
	}
	return c.client.Publish(ctx, channelKey(jobID), payload).Err()
}

// Signal is one item delivered to a subscriber: either a progress event or
// a keep-alive heartbeat.
type Signal struct {
	Event     *models.ProgressEvent
	Heartbeat bool
}

// Subscription is a cancellable stream of signals for one job. C is closed
// after the terminal event has been delivered or the subscription is
// cancelled.
type Subscription struct {
	C      <-chan Signal
	cancel context.CancelFunc
}

// Close cancels the subscription and releases its resources. Safe to call
// more than once; never affects the publisher or other subscribers.
func (s *Subscription) Close() { s.cancel() }

// Subscribe attaches to a job's progress stream. Only events published from
// this point forward are delivered (no backfill), except that a job which
// already ended within the grace period immediately yields its cached
// terminal event. The stream ends after a terminal event.
func (c *Channel) Subscribe(ctx context.Context, jobID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Signal)

	go func() {
		defer close(out)

		pubsub := c.client.Subscribe(ctx, channelKey(jobID))
		defer pubsub.Close()

		// Wait for the subscription to be confirmed so the terminal-key
		// check below cannot race a concurrent terminal publish.
		if _, err := pubsub.Receive(ctx); err != nil {
			return
		}

		if payload, err := c.client.Get(ctx, terminalKey(jobID)).Result(); err == nil {
			if ev, ok := decode(payload); ok {
				send(ctx, out, Signal{Event: &ev})
				return
			}
		}

		msgs := pubsub.Channel()
		idle := time.NewTimer(c.heartbeat)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, ok := decode(msg.Payload)
				if !ok {
					continue
				}
				if !send(ctx, out, Signal{Event: &ev}) {
					return
				}
				if ev.Terminal() {
					return
				}
				resetTimer(idle, c.heartbeat)
			case <-idle.C:
				if !send(ctx, out, Signal{Heartbeat: true}) {
					return
				}
				idle.Reset(c.heartbeat)
			}
		}
	}()

	return &Subscription{C: out, cancel: cancel}
}

func decode(payload string) (models.ProgressEvent, bool) {
	var ev models.ProgressEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return models.ProgressEvent{}, false
	}
	return ev, true
}

func send(ctx context.Context, out chan<- Signal, sig Signal) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- sig:
		return true
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
