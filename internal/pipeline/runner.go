package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MLaitarovsky/docpilot/internal/models"
	"github.com/MLaitarovsky/docpilot/internal/telemetry"
)

// LeaseQueue is the queue surface the runner needs.
type LeaseQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, jobID string) error
	ExpiredLeases(ctx context.Context, now time.Time, limit int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
}

// Runner drives the worker loop: reap expired leases, dequeue, process.
type Runner struct {
	orch  *Orchestrator
	queue LeaseQueue
	store Store

	pollInterval time.Duration
	log          *slog.Logger
}

// NewRunner builds a worker loop over an orchestrator and its queue.
func NewRunner(orch *Orchestrator, queue LeaseQueue, store Store, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{orch: orch, queue: queue, store: store, pollInterval: pollInterval, log: logger}
}

// Run processes jobs until context cancellation.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.reapExpired(ctx)
		if depth, err := r.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		jobID, err := r.queue.DequeueWithLease(ctx)
		if err != nil || jobID == "" {
			if err != nil {
				r.log.Warn("worker.dequeue_failed", "error", err)
			}
			if !sleepCtx(ctx, r.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		if err := r.orch.Process(ctx, jobID); err != nil {
			r.log.Error("worker.job_failed", "job_id", jobID, "error", err)
		}
		// A job is never requeued: success or failure, its run is over.
		if err := r.queue.Ack(ctx, jobID); err != nil {
			r.log.Warn("worker.ack_failed", "job_id", jobID, "error", err)
		}
	}
}

// reapExpired fails jobs whose worker lease lapsed. A lapsed lease means
// the owning worker died mid-run; the job is settled as failed rather than
// redelivered, and the failure sentinel closes its progress stream.
func (r *Runner) reapExpired(ctx context.Context) {
	expired, err := r.queue.ExpiredLeases(ctx, time.Now(), 100)
	if err != nil {
		r.log.Warn("worker.reap_failed", "error", err)
		return
	}
	for _, jobID := range expired {
		job, err := r.store.GetJob(ctx, jobID)
		if err != nil {
			r.log.Warn("worker.reap_lookup_failed", "job_id", jobID, "error", err)
			continue
		}
		if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
			continue
		}
		msg := fmt.Sprintf("worker lost during step %d", job.Step)
		if err := r.store.MarkJobFailed(ctx, jobID, msg); err != nil {
			r.log.Warn("worker.reap_mark_failed", "job_id", jobID, "error", err)
			continue
		}
		if err := r.store.UpdateDocumentStatus(ctx, job.DocumentID, models.DocStatusFailed); err != nil {
			r.log.Warn("worker.reap_doc_status_failed", "document_id", job.DocumentID, "error", err)
		}
		r.orch.publish(ctx, jobID, models.ProgressEvent{
			Step:       job.Step,
			TotalSteps: job.TotalSteps,
			Message:    msg,
			Progress:   models.FailureSentinel,
		})
		telemetry.LeasesReaped.Inc()
		telemetry.JobsFailed.Inc()
		r.log.Warn("worker.lease_reaped", "job_id", jobID, "step", job.Step)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
