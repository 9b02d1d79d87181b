package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, visibility time.Duration) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, visibility)
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.DequeueWithLease(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestDequeueEmptyReturnsBlank(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestLeasedJobNotRedelivered(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	_ = q.Enqueue(ctx, "job-1")
	first, _ := q.DequeueWithLease(ctx)
	if first != "job-1" {
		t.Fatalf("first dequeue: %q", first)
	}
	second, _ := q.DequeueWithLease(ctx)
	if second != "" {
		t.Fatalf("leased job redelivered: %q", second)
	}
}

func TestAckRemovesLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	_ = q.Enqueue(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	expired, err := q.ExpiredLeases(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("expired leases: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("acked job still leased: %v", expired)
	}
}

func TestExpiredLeasesClaimedOnce(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Millisecond)

	_ = q.Enqueue(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)

	future := time.Now().Add(time.Second)
	first, err := q.ExpiredLeases(ctx, future, 10)
	if err != nil {
		t.Fatalf("expired leases: %v", err)
	}
	if len(first) != 1 || first[0] != "job-1" {
		t.Fatalf("expected job-1 expired, got %v", first)
	}

	second, err := q.ExpiredLeases(ctx, future, 10)
	if err != nil {
		t.Fatalf("expired leases again: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("job claimed twice: %v", second)
	}
}

func TestExtendLeaseDefersExpiry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Millisecond)

	_ = q.Enqueue(ctx, "job-1")
	_, _ = q.DequeueWithLease(ctx)
	if err := q.ExtendLease(ctx, "job-1", time.Hour); err != nil {
		t.Fatalf("extend: %v", err)
	}

	expired, err := q.ExpiredLeases(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("expired leases: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("extended lease reported expired: %v", expired)
	}
}

func TestReadyDepth(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute)

	_ = q.Enqueue(ctx, "a")
	_ = q.Enqueue(ctx, "b")

	depth, err := q.ReadyDepth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}
}
