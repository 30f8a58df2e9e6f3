package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/section6nz/3scale-sync/pkg/config"
)

// DocumentReconciler reconciles one document against the tenant.
type DocumentReconciler interface {
	ReconcileDocument(ctx context.Context, batch *Batch, doc *config.Document) *DocumentResult
}

var _ DocumentReconciler = (*Reconciler)(nil)

// EventPublisher publishes run events.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Dispatcher fans the documents of a validated batch out to a bounded pool
// of workers, one document per worker at a time. Documents are independent
// of each other; entity ordering is enforced inside each document by the
// reconciler.
type Dispatcher struct {
	// maxParallel is the maximum number of documents reconciled at once.
	maxParallel int

	// reconciler reconciles individual documents.
	reconciler DocumentReconciler

	// eventPublisher publishes run events. Optional.
	eventPublisher EventPublisher

	// recorder persists terminal runs. Optional.
	recorder HistoryRecorder

	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher over a document reconciler. The event
// publisher and history recorder may be nil.
func NewDispatcher(
	maxParallel int,
	reconciler DocumentReconciler,
	eventPublisher EventPublisher,
	recorder HistoryRecorder,
	logger zerolog.Logger,
) *Dispatcher {
	if maxParallel <= 0 {
		maxParallel = 4 // Default to 4 concurrent documents
	}

	return &Dispatcher{
		maxParallel:    maxParallel,
		reconciler:     reconciler,
		eventPublisher: eventPublisher,
		recorder:       recorder,
		logger:         logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchOptions carries per-run options.
type DispatchOptions struct {
	// DryRun marks the run as a plan-only run in the run record. The
	// reconciler carries its own dry-run flag; callers set both together.
	DryRun bool

	// User is recorded as the initiator of the run.
	User string
}

// Run reconciles every document of the batch and returns the aggregated
// run. The returned run's ExitCode is zero only when every entity outcome
// across every document is created, updated or unchanged.
//
// Results keep the input document order regardless of completion order.
func (d *Dispatcher) Run(ctx context.Context, batch *Batch, opts DispatchOptions) (*Run, error) {
	if batch == nil {
		return nil, NewPermanentError("batch is nil", nil).WithCode(ErrCodeValidation)
	}
	docs := batch.Documents

	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
		User:      opts.User,
	}

	workerCount := d.maxParallel
	if len(docs) < workerCount {
		workerCount = len(docs)
	}

	log := d.logger.With().Str("run_id", run.ID).Logger()
	log.Info().
		Int("documents", len(docs)).
		Int("workers", workerCount).
		Bool("dry_run", opts.DryRun).
		Msg("Run started")
	d.publishEvent(ctx, run.ID, "", EventTypeRunStarted,
		fmt.Sprintf("Run started with %d document(s)", len(docs)), "info")

	workQueue := make(chan int, len(docs))
	for i := range docs {
		workQueue <- i
	}
	close(workQueue)

	results := make([]*DocumentResult, len(docs))
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for idx := range workQueue {
				doc := &docs[idx]

				// Documents still queued when the run is cancelled are
				// not reconciled.
				select {
				case <-ctx.Done():
					results[idx] = d.cancelledResult(doc, ctx.Err())
					continue
				default:
				}

				d.publishEvent(ctx, run.ID, doc.SourceFile, EventTypeDocumentStarted,
					fmt.Sprintf("Reconciling %s", doc.SourceFile), "info")

				res := d.reconciler.ReconcileDocument(ctx, batch, doc)
				results[idx] = res
				d.publishEntityEvents(ctx, run.ID, res)

				if res.Succeeded() {
					d.publishEvent(ctx, run.ID, doc.SourceFile, EventTypeDocumentCompleted,
						fmt.Sprintf("Reconciled %s", doc.SourceFile), "info")
				} else {
					d.publishEvent(ctx, run.ID, doc.SourceFile, EventTypeDocumentFailed,
						fmt.Sprintf("Reconciling %s failed: %s", doc.SourceFile, failureCause(res)), "error")
				}
			}
		}()
	}

	wg.Wait()

	cancelled := ctx.Err() != nil
	run.Documents = make([]DocumentResult, len(docs))
	for i, res := range results {
		if res == nil {
			res = d.cancelledResult(&docs[i], ctx.Err())
		}
		run.Documents[i] = *res
		run.Summary.Add(res.Counts())
	}

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)

	// Determine final run status
	summary := run.Summary
	switch {
	case cancelled:
		run.Status = RunStatusCancelled
	case summary.Failed > 0:
		if summary.Created+summary.Updated+summary.Unchanged+summary.Deleted > 0 {
			run.Status = RunStatusPartial
		} else {
			run.Status = RunStatusFailed
		}
	case summary.Skipped > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusSucceeded
	}

	if run.Status == RunStatusSucceeded {
		d.publishEvent(ctx, run.ID, "", EventTypeRunCompleted, "Run completed successfully", "info")
	} else {
		d.publishEvent(ctx, run.ID, "", EventTypeRunFailed,
			fmt.Sprintf("Run completed with status: %s", run.Status), "error")
	}

	log.Info().
		Str("status", string(run.Status)).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("unchanged", summary.Unchanged).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", run.Duration).
		Msg("Run completed")

	if d.recorder != nil {
		if err := d.recorder.RecordRun(ctx, run); err != nil {
			log.Error().Err(err).Msg("Failed to record run history")
		}
	}

	return run, nil
}

// failureCause names the root cause of a failed document result. A result
// carries no root cause when none of its entities reached OutcomeFailed,
// such as a skipped-only result, so the first entity error stands in.
func failureCause(res *DocumentResult) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	for _, e := range res.Entities {
		if e.Error != nil {
			return e.Error.Error()
		}
	}
	return "document reported failure without a cause"
}

// cancelledResult marks a document the run was cancelled before reaching.
func (d *Dispatcher) cancelledResult(doc *config.Document, cause error) *DocumentResult {
	now := time.Now()
	return &DocumentResult{
		Source:      doc.SourceFile,
		Environment: doc.Environment,
		Err:         NewTransientError("run cancelled before document reconciliation", cause),
		StartedAt:   now,
		CompletedAt: now,
	}
}

// publishEntityEvents publishes one event per mutated, promoted or failed
// entity of a document result.
func (d *Dispatcher) publishEntityEvents(ctx context.Context, runID string, res *DocumentResult) {
	for _, e := range res.Entities {
		switch {
		case e.Outcome == OutcomeFailed:
			d.publishEntityEvent(ctx, runID, res.Source, e, EventTypeEntityFailed,
				fmt.Sprintf("%s %s failed: %v", e.Kind, e.Key, e.Error), "error")
		case e.Kind == EntityKindPromotion && e.Outcome.Mutated():
			d.publishEntityEvent(ctx, runID, res.Source, e, EventTypePromotion,
				fmt.Sprintf("promoted %s to production", e.Key), "info")
		case e.Outcome.Mutated():
			d.publishEntityEvent(ctx, runID, res.Source, e, EventTypeEntityReconciled,
				fmt.Sprintf("%s %s %s", e.Kind, e.Key, e.Outcome), "info")
		}
	}
}

func (d *Dispatcher) publishEntityEvent(ctx context.Context, runID, source string, e EntityResult, eventType EventType, message, level string) {
	if d.eventPublisher == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    source,
		Entity:    e.Key,
		Message:   message,
		Details: map[string]interface{}{
			"kind":    string(e.Kind),
			"outcome": string(e.Outcome),
		},
		Level: level,
	}

	// Publish event asynchronously to avoid blocking
	go func() {
		if err := d.eventPublisher.Publish(ctx, event); err != nil {
			d.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
		}
	}()
}

// publishEvent publishes a run event.
func (d *Dispatcher) publishEvent(ctx context.Context, runID, source string, eventType EventType, message, level string) {
	if d.eventPublisher == nil {
		return
	}

	event := &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Source:    source,
		Message:   message,
		Level:     level,
	}

	// Publish event asynchronously to avoid blocking
	go func() {
		if err := d.eventPublisher.Publish(ctx, event); err != nil {
			d.logger.Debug().Err(err).Str("event", string(eventType)).Msg("Failed to publish event")
		}
	}()
}
