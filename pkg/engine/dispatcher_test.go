package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/section6nz/3scale-sync/pkg/config"
)

// Fake document reconciler for testing. Returns canned results by source
// file and tracks how many documents run concurrently.
type fakeDocReconciler struct {
	mu        sync.Mutex
	delay     time.Duration
	results   map[string]*DocumentResult
	sources   []string
	active    int
	maxActive int
}

func newFakeDocReconciler() *fakeDocReconciler {
	return &fakeDocReconciler{results: make(map[string]*DocumentResult)}
}

func (f *fakeDocReconciler) ReconcileDocument(ctx context.Context, batch *Batch, doc *config.Document) *DocumentResult {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.sources = append(f.sources, doc.SourceFile)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	f.active--
	res := f.results[doc.SourceFile]
	f.mu.Unlock()

	if res == nil {
		res = docResult(doc.SourceFile, OutcomeCreated, OutcomeUnchanged)
	}
	return res
}

func (f *fakeDocReconciler) reconciled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sources...)
}

func (f *fakeDocReconciler) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// Mock event publisher for testing.
type mockEventPublisher struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (m *mockEventPublisher) Publish(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventPublisher) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event{}, m.events...)
}

func (m *mockEventPublisher) countOfType(t EventType) int {
	n := 0
	for _, e := range m.getEvents() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Mock history recorder for testing.
type mockHistoryRecorder struct {
	mu   sync.Mutex
	runs []*Run
	err  error
}

func (m *mockHistoryRecorder) RecordRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockHistoryRecorder) getRuns() []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Run{}, m.runs...)
}

// docResult builds a document result with one product entity per outcome.
func docResult(source string, outcomes ...Outcome) *DocumentResult {
	res := &DocumentResult{
		Source:      source,
		Environment: "dev",
		StartedAt:   time.Now(),
	}
	for i, outcome := range outcomes {
		e := EntityResult{
			Kind:    EntityKindProduct,
			Key:     fmt.Sprintf("entity-%d", i),
			Outcome: outcome,
		}
		switch outcome {
		case OutcomeFailed:
			e.Error = NewPermanentError("remote rejected the entity", nil).WithEntity(e.Key)
		case OutcomeSkipped:
			e.Error = NewDependencyError("product reconciliation failed", nil).WithEntity(e.Key)
		}
		res.record(e)
	}
	res.CompletedAt = time.Now()
	return res
}

func dispatchDocs(n int) []config.Document {
	docs := make([]config.Document, n)
	for i := range docs {
		docs[i] = config.Document{
			Environment: "dev",
			SourceFile:  fmt.Sprintf("doc-%d.yml", i),
			Products: []config.Product{{
				Name:      fmt.Sprintf("Product %d", i),
				ShortName: fmt.Sprintf("product-%d", i),
				Version:   1,
				API: config.APISpec{
					PublicBasePath: fmt.Sprintf("/product-%d/v1/", i),
					Authentication: config.Authentication{AuthType: config.AuthTypeAppKey},
				},
			}},
		}
	}
	return docs
}

func TestDispatcher_Run_AllDocumentsSucceed(t *testing.T) {
	docs := dispatchDocs(3)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	d := NewDispatcher(2, fake, nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{User: "ci"})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("Expected status %s, got %s", RunStatusSucceeded, run.Status)
	}
	if code := run.ExitCode(); code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}
	if run.ID == "" {
		t.Error("Expected a run ID")
	}
	if run.User != "ci" {
		t.Errorf("Expected user ci, got %s", run.User)
	}
	if run.CompletedAt == nil {
		t.Error("Expected CompletedAt to be set")
	}
	if len(run.Documents) != 3 {
		t.Fatalf("Expected 3 document results, got %d", len(run.Documents))
	}
	// Results keep input order regardless of completion order.
	for i, doc := range docs {
		if run.Documents[i].Source != doc.SourceFile {
			t.Errorf("Result %d: expected source %s, got %s", i, doc.SourceFile, run.Documents[i].Source)
		}
	}
	if run.Summary.Total != 6 || run.Summary.Created != 3 || run.Summary.Unchanged != 3 {
		t.Errorf("Unexpected summary: %+v", run.Summary)
	}
	if got := len(fake.reconciled()); got != 3 {
		t.Errorf("Expected 3 documents reconciled, got %d", got)
	}
}

func TestDispatcher_Run_FailedDocumentMakesRunPartial(t *testing.T) {
	docs := dispatchDocs(3)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	fake.results["doc-1.yml"] = docResult("doc-1.yml", OutcomeCreated, OutcomeFailed)
	d := NewDispatcher(2, fake, nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusPartial {
		t.Errorf("Expected status %s, got %s", RunStatusPartial, run.Status)
	}
	if code := run.ExitCode(); code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if run.Summary.Failed != 1 {
		t.Errorf("Expected 1 failed entity, got %d", run.Summary.Failed)
	}
	if run.Documents[1].Err == nil {
		t.Error("Expected the failed document to carry its root cause")
	}
}

func TestDispatcher_Run_AllEntitiesFail(t *testing.T) {
	docs := dispatchDocs(2)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	fake.results["doc-0.yml"] = docResult("doc-0.yml", OutcomeFailed)
	fake.results["doc-1.yml"] = docResult("doc-1.yml", OutcomeFailed)
	d := NewDispatcher(2, fake, nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("Expected status %s, got %s", RunStatusFailed, run.Status)
	}
	if code := run.ExitCode(); code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}

func TestDispatcher_Run_SkippedEntitiesMakeRunPartial(t *testing.T) {
	docs := dispatchDocs(2)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	fake.results["doc-0.yml"] = docResult("doc-0.yml", OutcomeCreated, OutcomeSkipped)
	d := NewDispatcher(2, fake, nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusPartial {
		t.Errorf("Expected status %s, got %s", RunStatusPartial, run.Status)
	}
	if code := run.ExitCode(); code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
}

func TestDispatcher_Run_ParallelismLimit(t *testing.T) {
	docs := dispatchDocs(6)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	fake.delay = 20 * time.Millisecond
	d := NewDispatcher(2, fake, nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("Expected status %s, got %s", RunStatusSucceeded, run.Status)
	}
	if got := len(fake.reconciled()); got != 6 {
		t.Errorf("Expected 6 documents reconciled, got %d", got)
	}
	if got := fake.maxConcurrent(); got > 2 {
		t.Errorf("Expected at most 2 concurrent documents, observed %d", got)
	}
}

func TestDispatcher_Run_NilBatch(t *testing.T) {
	d := NewDispatcher(2, newFakeDocReconciler(), nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), nil, DispatchOptions{})

	if err == nil {
		t.Fatal("Expected an error for a nil batch")
	}
	if run != nil {
		t.Error("Expected no run for a nil batch")
	}
	if !IsPermanent(err) {
		t.Errorf("Expected a permanent error, got %v", err)
	}
}

func TestDispatcher_Run_CancelledContext(t *testing.T) {
	docs := dispatchDocs(3)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	d := NewDispatcher(2, fake, nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := d.Run(ctx, batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusCancelled {
		t.Errorf("Expected status %s, got %s", RunStatusCancelled, run.Status)
	}
	if code := run.ExitCode(); code != 1 {
		t.Errorf("Expected exit code 1, got %d", code)
	}
	if got := len(fake.reconciled()); got != 0 {
		t.Errorf("Expected 0 documents reconciled after cancellation, got %d", got)
	}
	for i, res := range run.Documents {
		if res.Err == nil || !IsTransient(res.Err) {
			t.Errorf("Document %d: expected a transient cancellation error, got %v", i, res.Err)
		}
	}
}

func TestDispatcher_Run_DryRunRecordedOnRun(t *testing.T) {
	docs := dispatchDocs(1)
	batch := testBatch(t, docs...)
	d := NewDispatcher(1, newFakeDocReconciler(), nil, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{DryRun: true})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !run.DryRun {
		t.Error("Expected the run to be marked as a dry run")
	}
}

func TestDispatcher_Run_RecordsHistory(t *testing.T) {
	docs := dispatchDocs(2)
	batch := testBatch(t, docs...)
	recorder := &mockHistoryRecorder{}
	d := NewDispatcher(2, newFakeDocReconciler(), nil, recorder, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	runs := recorder.getRuns()
	if len(runs) != 1 {
		t.Fatalf("Expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].ID != run.ID {
		t.Errorf("Expected recorded run %s, got %s", run.ID, runs[0].ID)
	}
	if !runs[0].Status.IsTerminal() {
		t.Errorf("Expected a terminal status, got %s", runs[0].Status)
	}
}

func TestDispatcher_Run_RecorderFailureDoesNotFailRun(t *testing.T) {
	docs := dispatchDocs(1)
	batch := testBatch(t, docs...)
	recorder := &mockHistoryRecorder{err: fmt.Errorf("database is locked")}
	d := NewDispatcher(1, newFakeDocReconciler(), nil, recorder, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("Expected status %s, got %s", RunStatusSucceeded, run.Status)
	}
}

func TestDispatcher_Run_PublishesEvents(t *testing.T) {
	docs := dispatchDocs(2)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	fake.results["doc-0.yml"] = func() *DocumentResult {
		res := docResult("doc-0.yml", OutcomeCreated)
		res.record(EntityResult{Kind: EntityKindPromotion, Key: "product-0", Outcome: OutcomeUpdated})
		return res
	}()
	fake.results["doc-1.yml"] = docResult("doc-1.yml", OutcomeFailed)
	publisher := &mockEventPublisher{}
	d := NewDispatcher(2, fake, publisher, nil, zerolog.Nop())

	run, err := d.Run(context.Background(), batch, DispatchOptions{})

	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Events publish asynchronously.
	time.Sleep(100 * time.Millisecond)

	if got := publisher.countOfType(EventTypeRunStarted); got != 1 {
		t.Errorf("Expected 1 run_started event, got %d", got)
	}
	if got := publisher.countOfType(EventTypeDocumentStarted); got != 2 {
		t.Errorf("Expected 2 document_started events, got %d", got)
	}
	if got := publisher.countOfType(EventTypeDocumentCompleted); got != 1 {
		t.Errorf("Expected 1 document_completed event, got %d", got)
	}
	if got := publisher.countOfType(EventTypeDocumentFailed); got != 1 {
		t.Errorf("Expected 1 document_failed event, got %d", got)
	}
	if got := publisher.countOfType(EventTypeEntityReconciled); got != 1 {
		t.Errorf("Expected 1 entity_reconciled event, got %d", got)
	}
	if got := publisher.countOfType(EventTypePromotion); got != 1 {
		t.Errorf("Expected 1 promotion event, got %d", got)
	}
	if got := publisher.countOfType(EventTypeEntityFailed); got != 1 {
		t.Errorf("Expected 1 entity_failed event, got %d", got)
	}
	if got := publisher.countOfType(EventTypeRunFailed); got != 1 {
		t.Errorf("Expected 1 run_failed event, got %d", got)
	}
	for _, e := range publisher.getEvents() {
		if e.RunID != run.ID {
			t.Errorf("Event %s carries run %s, expected %s", e.Type, e.RunID, run.ID)
		}
		if e.ID == "" {
			t.Errorf("Event %s has no ID", e.Type)
		}
	}
}

func TestDispatcher_Run_DocumentFailedEventNamesCause(t *testing.T) {
	docs := dispatchDocs(1)
	batch := testBatch(t, docs...)
	fake := newFakeDocReconciler()
	// A skipped-only result fails the document without recording a root
	// cause; the event must fall back to the entity's skip error.
	fake.results["doc-0.yml"] = docResult("doc-0.yml", OutcomeSkipped)
	publisher := &mockEventPublisher{}
	d := NewDispatcher(1, fake, publisher, nil, zerolog.Nop())

	if _, err := d.Run(context.Background(), batch, DispatchOptions{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var failed *Event
	for _, e := range publisher.getEvents() {
		if e.Type == EventTypeDocumentFailed {
			failed = e
		}
	}
	if failed == nil {
		t.Fatal("Expected a document_failed event")
	}
	if strings.Contains(failed.Message, "<nil>") {
		t.Errorf("Event message carries a nil cause: %q", failed.Message)
	}
	if !strings.Contains(failed.Message, "product reconciliation failed") {
		t.Errorf("Expected the skip error in the message, got %q", failed.Message)
	}
}

func TestNewDispatcher_DefaultsParallelism(t *testing.T) {
	d := NewDispatcher(0, newFakeDocReconciler(), nil, nil, zerolog.Nop())
	if d.maxParallel != 4 {
		t.Errorf("Expected default parallelism 4, got %d", d.maxParallel)
	}
}
