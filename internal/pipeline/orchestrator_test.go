package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/MLaitarovsky/docpilot/internal/common"
	"github.com/MLaitarovsky/docpilot/internal/models"
)

// ── In-memory fakes ────────────────────────────────────────

type memStore struct {
	mu          sync.Mutex
	docs        map[string]*models.Document
	jobs        map[string]*models.Job
	extractions map[string]models.FieldMap
	clauses     map[string][]models.Clause
	clearCalls  int
	nextJob     int
}

func newMemStore() *memStore {
	return &memStore{
		docs:        map[string]*models.Document{},
		jobs:        map[string]*models.Job{},
		extractions: map[string]models.FieldMap{},
		clauses:     map[string][]models.Clause{},
	}
}

func (m *memStore) addDoc(id, text string) {
	m.docs[id] = &models.Document{ID: id, Filename: id + ".txt", RawText: text, Status: models.DocStatusUploaded}
}

func (m *memStore) GetDocument(_ context.Context, id string) (models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return *doc, nil
}

func (m *memStore) UpdateDocumentStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[id]; ok {
		doc.Status = status
	}
	return nil
}

func (m *memStore) SetDocumentType(_ context.Context, id, docType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.docs[id]; ok {
		doc.DocType = &docType
	}
	return nil
}

func (m *memStore) ClearOutputs(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearCalls++
	delete(m.extractions, documentID)
	delete(m.clauses, documentID)
	return nil
}

func (m *memStore) CreateJob(_ context.Context, documentID string, totalSteps int) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJob++
	job := models.Job{
		ID:         fmt.Sprintf("job-%d", m.nextJob),
		DocumentID: documentID,
		TotalSteps: totalSteps,
		Status:     models.JobStatusQueued,
	}
	m.jobs[job.ID] = &job
	return job, nil
}

func (m *memStore) GetJob(_ context.Context, id string) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return *job, nil
}

func (m *memStore) MarkJobRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && job.Status == models.JobStatusQueued {
		job.Status = models.JobStatusRunning
	}
	return nil
}

func (m *memStore) UpdateJobStep(_ context.Context, id string, step int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Step = step
		job.Message = message
	}
	return nil
}

func (m *memStore) MarkJobCompleted(_ context.Context, id, message string) error {
	return m.settle(id, models.JobStatusCompleted, message)
}

func (m *memStore) MarkJobFailed(_ context.Context, id, message string) error {
	return m.settle(id, models.JobStatusFailed, message)
}

func (m *memStore) settle(id, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if job.Status == models.JobStatusCompleted || job.Status == models.JobStatusFailed {
		return nil
	}
	job.Status = status
	job.Message = message
	return nil
}

func (m *memStore) SaveExtraction(_ context.Context, documentID string, data models.FieldMap, _ string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[documentID] = data
	return nil
}

func (m *memStore) SaveClauses(_ context.Context, documentID string, clauses []models.Clause) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clauses[documentID] = clauses
	return nil
}

type memQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *memQueue) Enqueue(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, jobID)
	return nil
}

type memPublisher struct {
	mu     sync.Mutex
	events map[string][]models.ProgressEvent
}

func newMemPublisher() *memPublisher {
	return &memPublisher{events: map[string][]models.ProgressEvent{}}
}

func (p *memPublisher) Publish(_ context.Context, jobID string, ev models.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events[jobID] = append(p.events[jobID], ev)
	return nil
}

func (p *memPublisher) jobEvents(jobID string) []models.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.ProgressEvent(nil), p.events[jobID]...)
}

// scriptedCompleter replays canned responses in call order; failAt (1-based)
// makes that call return an error instead.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []string
	failAt    int
	calls     int
}

func (c *scriptedCompleter) Complete(_ context.Context, _, _ string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failAt > 0 && c.calls == c.failAt {
		return nil, errors.New("model unavailable")
	}
	if c.calls > len(c.responses) {
		return nil, fmt.Errorf("unexpected call %d", c.calls)
	}
	return json.RawMessage(c.responses[c.calls-1]), nil
}

const (
	classifyResponse = `{"doc_type":"nda","confidence":0.95,"reasoning":"mentions mutual confidentiality obligations"}`
	extractResponse  = `{"disclosing_party":{"value":"Acme Corp","confidence":0.95},"receiving_party":{"value":"Globex Inc","confidence":0.9},"governing_law":{"value":"Delaware","confidence":0.85}}`
	clausesResponse  = `{"clauses":[{"clause_type":"confidentiality","original_text":"Each party shall hold in confidence...","plain_summary":"Both sides keep shared information secret.","risk_level":"low","risk_reason":null,"confidence":0.9,"page_number":1}]}`
)

func newTestOrchestrator(st *memStore, completer *scriptedCompleter) (*Orchestrator, *memQueue, *memPublisher) {
	q := &memQueue{}
	pub := newMemPublisher()
	orch := New(st, q, pub, completer, "test-model", Options{})
	return orch, q, pub
}

// ── Tests ──────────────────────────────────────────────────

func TestStartCreatesQueuedJob(t *testing.T) {
	st := newMemStore()
	st.addDoc("doc-1", "This Non-Disclosure Agreement is made between Acme Corp and Globex Inc.")
	orch, q, _ := newTestOrchestrator(st, &scriptedCompleter{})

	job, err := orch.Start(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if job.Status != models.JobStatusQueued || job.TotalSteps != 3 {
		t.Fatalf("job: %+v", job)
	}
	if len(q.ids) != 1 || q.ids[0] != job.ID {
		t.Fatalf("queue: %v", q.ids)
	}
	if st.docs["doc-1"].Status != models.DocStatusProcessing {
		t.Fatalf("document status: %s", st.docs["doc-1"].Status)
	}
}

func TestStartRejectsEmptyText(t *testing.T) {
	st := newMemStore()
	st.addDoc("doc-1", "   \n\n  ")
	orch, q, _ := newTestOrchestrator(st, &scriptedCompleter{})

	_, err := orch.Start(context.Background(), "doc-1")
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(st.jobs) != 0 || len(q.ids) != 0 {
		t.Fatalf("job created despite rejection")
	}
}

func TestProcessHappyPath(t *testing.T) {
	st := newMemStore()
	st.addDoc("doc-1", "This Non-Disclosure Agreement is made between Acme Corp and Globex Inc.")
	completer := &scriptedCompleter{responses: []string{classifyResponse, extractResponse, clausesResponse}}
	orch, _, pub := newTestOrchestrator(st, completer)

	job, err := orch.Start(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	events := pub.jobEvents(job.ID)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
	}
	wantProgress := []int{10, 40, 75, 100}
	for i, ev := range events {
		if ev.Progress != wantProgress[i] {
			t.Fatalf("event %d progress = %d, want %d", i, ev.Progress, wantProgress[i])
		}
		if ev.TotalSteps != 3 {
			t.Fatalf("event %d total_steps = %d", i, ev.TotalSteps)
		}
	}
	if events[3].Message != "Processing complete" || !events[3].Terminal() {
		t.Fatalf("terminal event: %+v", events[3])
	}

	if got := st.jobs[job.ID].Status; got != models.JobStatusCompleted {
		t.Fatalf("job status: %s", got)
	}
	if got := st.docs["doc-1"].Status; got != models.DocStatusCompleted {
		t.Fatalf("document status: %s", got)
	}
	if st.docs["doc-1"].DocType == nil || *st.docs["doc-1"].DocType != "nda" {
		t.Fatalf("doc type not persisted: %v", st.docs["doc-1"].DocType)
	}
	if fields := st.extractions["doc-1"]; fields["disclosing_party"].Value == nil || *fields["disclosing_party"].Value != "Acme Corp" {
		t.Fatalf("extraction not persisted: %+v", fields)
	}
	if clauses := st.clauses["doc-1"]; len(clauses) != 1 || clauses[0].ClauseType != "confidentiality" {
		t.Fatalf("clauses not persisted: %+v", clauses)
	}
}

func TestProcessStageFailureStopsPipeline(t *testing.T) {
	st := newMemStore()
	st.addDoc("doc-1", "This Non-Disclosure Agreement is made between Acme Corp and Globex Inc.")
	completer := &scriptedCompleter{responses: []string{classifyResponse, extractResponse, clausesResponse}, failAt: 2}
	orch, _, pub := newTestOrchestrator(st, completer)

	job, _ := orch.Start(context.Background(), "doc-1")
	if err := orch.Process(context.Background(), job.ID); err == nil {
		t.Fatalf("expected process error")
	}

	// Stage 1 and stage 2 announcements, then the failure sentinel.
	events := pub.jobEvents(job.ID)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(events), events)
	}
	if events[0].Progress != 10 || events[1].Progress != 40 {
		t.Fatalf("stage announcements: %+v", events[:2])
	}
	terminal := events[2]
	if terminal.Progress != models.FailureSentinel || terminal.Step != 2 {
		t.Fatalf("terminal: %+v", terminal)
	}
	if !strings.Contains(terminal.Message, "extract") {
		t.Fatalf("terminal message does not name the stage: %q", terminal.Message)
	}

	if got := st.jobs[job.ID].Status; got != models.JobStatusFailed {
		t.Fatalf("job status: %s", got)
	}
	if got := st.docs["doc-1"].Status; got != models.DocStatusFailed {
		t.Fatalf("document status: %s", got)
	}
	// Stage 1 output survives; later stages never produced any.
	if st.docs["doc-1"].DocType == nil {
		t.Fatalf("classification output lost")
	}
	if _, ok := st.extractions["doc-1"]; ok {
		t.Fatalf("failed stage persisted output")
	}
	if completer.calls != 2 {
		t.Fatalf("stage 3 ran after failure: %d calls", completer.calls)
	}
}

func TestProcessTerminalJobIsNoop(t *testing.T) {
	st := newMemStore()
	st.addDoc("doc-1", "text")
	completer := &scriptedCompleter{}
	orch, _, pub := newTestOrchestrator(st, completer)

	job, _ := orch.Start(context.Background(), "doc-1")
	_ = st.MarkJobFailed(context.Background(), job.ID, "settled elsewhere")

	if err := orch.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("process settled job: %v", err)
	}
	if completer.calls != 0 || len(pub.jobEvents(job.ID)) != 0 {
		t.Fatalf("settled job was reprocessed")
	}
}

func TestReprocessMintsNewJob(t *testing.T) {
	st := newMemStore()
	st.addDoc("doc-1", "This Non-Disclosure Agreement is made between Acme Corp and Globex Inc.")
	completer := &scriptedCompleter{responses: []string{classifyResponse, extractResponse, clausesResponse}}
	orch, _, _ := newTestOrchestrator(st, completer)

	first, _ := orch.Start(context.Background(), "doc-1")
	if err := orch.Process(context.Background(), first.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	second, err := orch.Reprocess(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("reprocess reused job id %s", first.ID)
	}
	if st.clearCalls != 1 {
		t.Fatalf("outputs not cleared: %d", st.clearCalls)
	}
	if _, ok := st.extractions["doc-1"]; ok {
		t.Fatalf("stale extraction survived reprocess")
	}
}
