// Package pipeline runs the document processing pipeline: an ordered
// sequence of stages that classify a document, extract its fields, and
// analyze its clauses. The orchestrator owns job lifecycle transitions
// and progress publication; stages own the per-stage work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MLaitarovsky/docpilot/internal/chunker"
	"github.com/MLaitarovsky/docpilot/internal/common"
	"github.com/MLaitarovsky/docpilot/internal/llm"
	"github.com/MLaitarovsky/docpilot/internal/models"
	"github.com/MLaitarovsky/docpilot/internal/telemetry"
)

// stageWeights maps stage index to the progress percentage reported when
// that stage starts. The final 100 is reserved for the terminal event.
var stageWeights = []int{10, 40, 75}

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetDocument(ctx context.Context, id string) (models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status string) error
	SetDocumentType(ctx context.Context, id, docType string) error
	ClearOutputs(ctx context.Context, documentID string) error

	CreateJob(ctx context.Context, documentID string, totalSteps int) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	UpdateJobStep(ctx context.Context, id string, step int, message string) error
	MarkJobCompleted(ctx context.Context, id, message string) error
	MarkJobFailed(ctx context.Context, id, message string) error

	SaveExtraction(ctx context.Context, documentID string, data models.FieldMap, modelUsed string, processingMS int) error
	SaveClauses(ctx context.Context, documentID string, clauses []models.Clause) error
}

// JobQueue is the ready-queue surface the orchestrator needs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Publisher emits progress events for a job.
type Publisher interface {
	Publish(ctx context.Context, jobID string, ev models.ProgressEvent) error
}

// Orchestrator starts pipeline jobs and executes them stage by stage.
type Orchestrator struct {
	store     Store
	queue     JobQueue
	publisher Publisher
	stages    []Stage

	chunkSize    int
	chunkOverlap int
	log          *slog.Logger
}

// Options tunes orchestrator construction.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	Logger       *slog.Logger
}

// New builds an orchestrator with the default stage sequence.
func New(store Store, queue JobQueue, publisher Publisher, completer llm.Completer, model string, opts Options) *Orchestrator {
	return NewWithStages(store, queue, publisher, defaultStages(completer, model), opts)
}

// NewWithStages builds an orchestrator over an explicit stage sequence.
func NewWithStages(store Store, queue JobQueue, publisher Publisher, stages []Stage, opts Options) *Orchestrator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = chunker.DefaultOverlap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:        store,
		queue:        queue,
		publisher:    publisher,
		stages:       stages,
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
		log:          opts.Logger,
	}
}

// Start creates a queued job for a document and enqueues it for a worker.
// The document must have non-empty extracted text; a document with nothing
// to process is rejected before any job is created.
func (o *Orchestrator) Start(ctx context.Context, documentID string) (models.Job, error) {
	doc, err := o.store.GetDocument(ctx, documentID)
	if err != nil {
		return models.Job{}, err
	}
	if strings.TrimSpace(doc.RawText) == "" {
		return models.Job{}, fmt.Errorf("%w: document %s has no extractable text", common.ErrInvalidInput, documentID)
	}

	job, err := o.store.CreateJob(ctx, documentID, len(o.stages))
	if err != nil {
		return models.Job{}, err
	}
	if err := o.store.UpdateDocumentStatus(ctx, documentID, models.DocStatusProcessing); err != nil {
		return models.Job{}, err
	}
	if err := o.queue.Enqueue(ctx, job.ID); err != nil {
		return models.Job{}, err
	}

	telemetry.JobsEnqueued.Inc()
	o.log.Info("pipeline.job_enqueued", "job_id", job.ID, "document_id", documentID)
	return job, nil
}

// Reprocess clears a document's previous outputs and starts a fresh job.
// The new job gets its own id and its own progress channel; nothing of the
// previous run is resumed.
func (o *Orchestrator) Reprocess(ctx context.Context, documentID string) (models.Job, error) {
	if err := o.store.ClearOutputs(ctx, documentID); err != nil {
		return models.Job{}, err
	}
	return o.Start(ctx, documentID)
}

// Process executes a dequeued job through every stage in order. Each stage
// start is announced on the progress channel before the stage runs; stage
// output is persisted before the next announcement. On any stage failure
// the job is marked failed and the failure sentinel is published; remaining
// stages never run. Persisted state is always written before the matching
// event is published, so a subscriber that reads the store after a terminal
// event sees the final state.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case models.JobStatusQueued:
	case models.JobStatusCompleted, models.JobStatusFailed:
		// Already settled elsewhere, nothing to do.
		return nil
	default:
		return fmt.Errorf("%w: job %s is %s, expected queued", common.ErrConflict, jobID, job.Status)
	}

	if err := o.store.MarkJobRunning(ctx, jobID); err != nil {
		return err
	}

	doc, err := o.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return o.fail(ctx, job, 0, "document unavailable: "+err.Error())
	}

	sc := &StageContext{
		Document: doc,
		Chunks:   chunker.Split(doc.RawText, nil, o.chunkSize, o.chunkOverlap),
	}

	for i, stage := range o.stages {
		step := i + 1
		msg := stage.Message(sc)
		if err := o.store.UpdateJobStep(ctx, jobID, step, msg); err != nil {
			return o.fail(ctx, job, step, "state update failed: "+err.Error())
		}
		o.publish(ctx, jobID, models.ProgressEvent{
			Step:       step,
			TotalSteps: job.TotalSteps,
			Message:    msg,
			Progress:   weightFor(i),
		})

		start := time.Now()
		if err := stage.Run(ctx, sc); err != nil {
			telemetry.StageDuration.WithLabelValues(stage.Name(), "error").Observe(time.Since(start).Seconds())
			o.log.Error("pipeline.stage_failed", "job_id", jobID, "stage", stage.Name(), "error", err)
			return o.fail(ctx, job, step, fmt.Sprintf("%s failed: %v", stage.Name(), err))
		}
		if err := stage.Persist(ctx, o.store, sc); err != nil {
			telemetry.StageDuration.WithLabelValues(stage.Name(), "error").Observe(time.Since(start).Seconds())
			return o.fail(ctx, job, step, fmt.Sprintf("%s persist failed: %v", stage.Name(), err))
		}
		telemetry.StageDuration.WithLabelValues(stage.Name(), "ok").Observe(time.Since(start).Seconds())
	}

	if err := o.store.MarkJobCompleted(ctx, jobID, "Processing complete"); err != nil {
		return err
	}
	if err := o.store.UpdateDocumentStatus(ctx, job.DocumentID, models.DocStatusCompleted); err != nil {
		return err
	}
	telemetry.JobsCompleted.Inc()
	o.publish(ctx, jobID, models.ProgressEvent{
		Step:       job.TotalSteps,
		TotalSteps: job.TotalSteps,
		Message:    "Processing complete",
		Progress:   100,
	})
	o.log.Info("pipeline.job_completed", "job_id", jobID, "document_id", job.DocumentID)
	return nil
}

// fail settles a job as failed and publishes the failure sentinel. The
// store write happens first so the terminal event never outruns the
// persisted status.
func (o *Orchestrator) fail(ctx context.Context, job models.Job, step int, message string) error {
	if err := o.store.MarkJobFailed(ctx, job.ID, message); err != nil {
		return err
	}
	if err := o.store.UpdateDocumentStatus(ctx, job.DocumentID, models.DocStatusFailed); err != nil {
		o.log.Warn("pipeline.document_status_update_failed", "document_id", job.DocumentID, "error", err)
	}
	telemetry.JobsFailed.Inc()
	o.publish(ctx, job.ID, models.ProgressEvent{
		Step:       step,
		TotalSteps: job.TotalSteps,
		Message:    message,
		Progress:   models.FailureSentinel,
	})
	return fmt.Errorf("job %s: %s", job.ID, message)
}

func (o *Orchestrator) publish(ctx context.Context, jobID string, ev models.ProgressEvent) {
	if err := o.publisher.Publish(ctx, jobID, ev); err != nil {
		o.log.Warn("pipeline.publish_failed", "job_id", jobID, "error", err)
	}
}

func weightFor(stageIndex int) int {
	if stageIndex < len(stageWeights) {
		return stageWeights[stageIndex]
	}
	return stageWeights[len(stageWeights)-1]
}
