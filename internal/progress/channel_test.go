package progress

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MLaitarovsky/docpilot/internal/models"
)

func newTestChannel(t *testing.T, heartbeat time.Duration) (*Channel, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, heartbeat, time.Minute, nil), client
}

// waitSubscribed blocks until the job channel has an attached subscriber.
func waitSubscribed(t *testing.T, client *redis.Client, jobID string) {
	t.Helper()
	waitSubscribers(t, client, jobID, 1)
}

func waitSubscribers(t *testing.T, client *redis.Client, jobID string, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := client.PubSubNumSub(context.Background(), channelKey(jobID)).Result()
		if err == nil && counts[channelKey(jobID)] >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscribers never attached")
}

func nextEvent(t *testing.T, sub *Subscription) models.ProgressEvent {
	t.Helper()
	for {
		select {
		case sig, ok := <-sub.C:
			if !ok {
				t.Fatalf("stream closed before expected event")
			}
			if sig.Heartbeat {
				continue
			}
			return *sig.Event
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event")
		}
	}
}

func expectClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case sig, ok := <-sub.C:
		if ok && !sig.Heartbeat {
			t.Fatalf("expected closed stream, got event %+v", sig.Event)
		}
		if ok {
			expectClosed(t, sub)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close")
	}
}

func TestPublishSubscribeOrdering(t *testing.T) {
	ch, client := newTestChannel(t, time.Minute)
	ctx := context.Background()

	sub := ch.Subscribe(ctx, "job-1")
	defer sub.Close()
	waitSubscribed(t, client, "job-1")

	events := []models.ProgressEvent{
		{Step: 1, TotalSteps: 3, Message: "Classifying document type...", Progress: 10},
		{Step: 2, TotalSteps: 3, Message: "Extracting fields (nda)...", Progress: 40},
		{Step: 3, TotalSteps: 3, Message: "Analyzing clauses for risks...", Progress: 75},
	}
	for _, ev := range events {
		if err := ch.Publish(ctx, "job-1", ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for _, want := range events {
		got := nextEvent(t, sub)
		if got != want {
			t.Fatalf("got %+v want %+v", got, want)
		}
	}
}

func TestTerminalEventClosesStream(t *testing.T) {
	ch, client := newTestChannel(t, time.Minute)
	ctx := context.Background()

	sub := ch.Subscribe(ctx, "job-2")
	defer sub.Close()
	waitSubscribed(t, client, "job-2")

	terminal := models.ProgressEvent{Step: 3, TotalSteps: 3, Message: "Processing complete", Progress: 100}
	if err := ch.Publish(ctx, "job-2", terminal); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := nextEvent(t, sub); got != terminal {
		t.Fatalf("got %+v want %+v", got, terminal)
	}
	expectClosed(t, sub)
}

func TestFailureSentinelClosesStream(t *testing.T) {
	ch, client := newTestChannel(t, time.Minute)
	ctx := context.Background()

	sub := ch.Subscribe(ctx, "job-3")
	defer sub.Close()
	waitSubscribed(t, client, "job-3")

	failed := models.ProgressEvent{Step: 2, TotalSteps: 3, Message: "extract failed", Progress: models.FailureSentinel}
	if err := ch.Publish(ctx, "job-3", failed); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := nextEvent(t, sub)
	if got.Progress != models.FailureSentinel || got.Status() != models.JobStatusFailed {
		t.Fatalf("got %+v", got)
	}
	expectClosed(t, sub)
}

func TestLateSubscriberGetsCachedTerminal(t *testing.T) {
	ch, _ := newTestChannel(t, time.Minute)
	ctx := context.Background()

	terminal := models.ProgressEvent{Step: 3, TotalSteps: 3, Message: "Processing complete", Progress: 100}
	if err := ch.Publish(ctx, "job-4", terminal); err != nil {
		t.Fatalf("publish with no subscriber: %v", err)
	}

	sub := ch.Subscribe(ctx, "job-4")
	defer sub.Close()

	if got := nextEvent(t, sub); got != terminal {
		t.Fatalf("got %+v want %+v", got, terminal)
	}
	expectClosed(t, sub)
}

func TestHeartbeatOnIdleStream(t *testing.T) {
	ch, client := newTestChannel(t, 30*time.Millisecond)
	ctx := context.Background()

	sub := ch.Subscribe(ctx, "job-5")
	defer sub.Close()
	waitSubscribed(t, client, "job-5")

	select {
	case sig, ok := <-sub.C:
		if !ok || !sig.Heartbeat {
			t.Fatalf("expected heartbeat, got %+v ok=%v", sig, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no heartbeat on idle stream")
	}
}

func TestSubscriberCancelIsolated(t *testing.T) {
	ch, client := newTestChannel(t, time.Minute)
	ctx := context.Background()

	first := ch.Subscribe(ctx, "job-6")
	second := ch.Subscribe(ctx, "job-6")
	defer second.Close()
	waitSubscribers(t, client, "job-6", 2)

	first.Close()

	ev := models.ProgressEvent{Step: 1, TotalSteps: 3, Message: "Classifying document type...", Progress: 10}
	if err := ch.Publish(ctx, "job-6", ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := nextEvent(t, second); got != ev {
		t.Fatalf("second subscriber got %+v want %+v", got, ev)
	}
}
