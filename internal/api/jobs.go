package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MLaitarovsky/docpilot/internal/models"
	"github.com/MLaitarovsky/docpilot/internal/telemetry"
)

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, job)
}

// handleJobStatus streams a job's progress as Server-Sent Events. Each
// progress event becomes one data frame; idle periods produce comment
// heartbeats so intermediaries keep the connection open. The stream closes
// itself after the terminal event.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := s.streams.Subscribe(r.Context(), jobID)
	defer sub.Close()

	telemetry.SSESubscribers.Inc()
	defer telemetry.SSESubscribers.Dec()

	// A job that settled before its terminal event could still be cached
	// gets a synthesized terminal frame from the persisted state.
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
		writeSSEEvent(w, terminalEventFor(job))
		flusher.Flush()
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case sig, ok := <-sub.C:
			if !ok {
				return
			}
			if sig.Heartbeat {
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
				continue
			}
			writeSSEEvent(w, *sig.Event)
			flusher.Flush()
			if sig.Event.Terminal() {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev models.ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func terminalEventFor(job models.Job) models.ProgressEvent {
	ev := models.ProgressEvent{
		Step:       job.Step,
		TotalSteps: job.TotalSteps,
		Message:    job.Message,
		Progress:   models.FailureSentinel,
	}
	if job.Status == models.JobStatusCompleted {
		ev.Step = job.TotalSteps
		ev.Progress = 100
	}
	return ev
}
