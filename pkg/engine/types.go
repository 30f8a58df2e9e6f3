package engine

import (
	"time"
)

// EntityResult records the terminal outcome of a single entity
// reconciliation step within a document.
type EntityResult struct {
	// Kind is the kind of tenant entity the step targeted.
	Kind EntityKind `json:"kind"`

	// Key is the configuration-side identity of the entity, such as a
	// backend id, a product system_name or an application client_id.
	Key string `json:"key"`

	// Outcome is the terminal outcome of the step.
	Outcome Outcome `json:"outcome"`

	// RemoteID is the tenant-side identifier of the entity, when known.
	RemoteID int64 `json:"remote_id,omitempty"`

	// Error is the classified error for failed or skipped outcomes.
	Error *SyncError `json:"error,omitempty"`

	// Duration is how long the step took, including retries.
	Duration time.Duration `json:"duration"`
}

// DocumentResult aggregates the entity outcomes of one configuration
// document.
type DocumentResult struct {
	// Source is the path of the configuration document.
	Source string `json:"source"`

	// Environment is the environment prefix declared by the document.
	Environment string `json:"environment"`

	// Product is the system_name of the product the document describes.
	Product string `json:"product"`

	// Entities are the per-entity results in reconciliation order.
	Entities []EntityResult `json:"entities"`

	// Err is the first root-cause error, if any entity failed.
	Err *SyncError `json:"error,omitempty"`

	// StartedAt is when reconciliation of the document started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when reconciliation of the document completed.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total reconciliation time for the document.
	Duration time.Duration `json:"duration"`
}

// Succeeded returns true if every entity outcome in the document counts
// as successful.
func (r *DocumentResult) Succeeded() bool {
	for _, e := range r.Entities {
		if !e.Outcome.Succeeded() {
			return false
		}
	}
	return true
}

// record appends an entity result and captures the first failure as the
// document's root cause.
func (r *DocumentResult) record(res EntityResult) {
	r.Entities = append(r.Entities, res)
	if r.Err == nil && res.Outcome == OutcomeFailed {
		r.Err = res.Error
	}
}

// Counts tallies the entity outcomes of the document.
func (r *DocumentResult) Counts() RunSummary {
	var s RunSummary
	for _, e := range r.Entities {
		s.Total++
		switch e.Outcome {
		case OutcomeCreated:
			s.Created++
		case OutcomeUpdated:
			s.Updated++
		case OutcomeUnchanged:
			s.Unchanged++
		case OutcomeDeleted:
			s.Deleted++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

// RunSummary provides entity outcome statistics for a run.
type RunSummary struct {
	// Total is the total number of entity steps.
	Total int `json:"total"`

	// Created is the number of entities created.
	Created int `json:"created"`

	// Updated is the number of entities updated.
	Updated int `json:"updated"`

	// Unchanged is the number of entities already in the desired state.
	Unchanged int `json:"unchanged"`

	// Deleted is the number of entities removed by a teardown run.
	Deleted int `json:"deleted"`

	// Failed is the number of entities that failed.
	Failed int `json:"failed"`

	// Skipped is the number of entities skipped on unmet dependencies.
	Skipped int `json:"skipped"`
}

// Add accumulates another summary into this one.
func (s *RunSummary) Add(o RunSummary) {
	s.Total += o.Total
	s.Created += o.Created
	s.Updated += o.Updated
	s.Unchanged += o.Unchanged
	s.Deleted += o.Deleted
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}

// Clean returns true if no entity failed or was skipped.
func (s RunSummary) Clean() bool {
	return s.Failed == 0 && s.Skipped == 0
}

// Run represents one sync invocation across a batch of documents.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// DryRun indicates the run planned changes without applying them.
	DryRun bool `json:"dry_run"`

	// Documents are the per-document results.
	Documents []DocumentResult `json:"documents"`

	// Summary tallies entity outcomes across all documents.
	Summary RunSummary `json:"summary"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// User is the user who initiated the run.
	User string `json:"user,omitempty"`
}

// ExitCode returns the process exit code for the run. Zero only when every
// entity outcome across every document is created, updated or unchanged.
func (r *Run) ExitCode() int {
	if r.Status == RunStatusSucceeded && r.Summary.Clean() {
		return 0
	}
	return 1
}

// Event represents a timeline event during a run.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Source is the configuration document, if applicable.
	Source string `json:"source,omitempty"`

	// Entity is the entity key, if applicable.
	Entity string `json:"entity,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}
