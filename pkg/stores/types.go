package stores

import (
	"context"
	"time"

	"github.com/section6nz/3scale-sync/pkg/engine"
)

// RunRecord is one persisted sync run.
type RunRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	DryRun      bool       `json:"dry_run"`
	User        string     `json:"user,omitempty"`
	Total       int        `json:"total"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Unchanged   int        `json:"unchanged"`
	Deleted     int        `json:"deleted"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// DocumentRecord is one persisted per-document result of a run.
type DocumentRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	Position    int       `json:"position"`
	Source      string    `json:"source"`
	Environment string    `json:"environment"`
	Product     string    `json:"product"`
	Error       *string   `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// OutcomeRecord is one persisted entity outcome of a document.
type OutcomeRecord struct {
	ID         int64   `json:"id"`
	DocumentID int64   `json:"document_id"`
	RunID      string  `json:"run_id"`
	Position   int     `json:"position"`
	Kind       string  `json:"kind"`
	Key        string  `json:"key"`
	Outcome    string  `json:"outcome"`
	RemoteID   int64   `json:"remote_id,omitempty"`
	Error      *string `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// EventRecord is one persisted timeline event.
type EventRecord struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Entity    string    `json:"entity,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the persistence surface for run history. Runs are written once,
// after they reach a terminal status; history is append-only apart from
// pruning.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// RecordRun persists a terminal run with its per-document results and
	// entity outcomes in one transaction.
	RecordRun(ctx context.Context, run *engine.Run) error

	// GetRun retrieves a recorded run by ID. Returns (nil, nil) when the
	// run is unknown.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns recorded runs, newest first.
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)

	// ListDocuments returns the document results of a run in run order.
	ListDocuments(ctx context.Context, runID string) ([]*DocumentRecord, error)

	// ListOutcomes returns the entity outcomes of a run in reconciliation
	// order.
	ListOutcomes(ctx context.Context, runID string) ([]*OutcomeRecord, error)

	// AppendEvent persists one timeline event.
	AppendEvent(ctx context.Context, event *engine.Event) error

	// ListEvents returns the events of a run in timestamp order.
	ListEvents(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error)

	// PruneRuns deletes all but the newest keep runs, cascading to their
	// documents, outcomes and events. Returns the number of runs removed.
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
