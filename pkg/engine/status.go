package engine

import (
	"encoding/json"
	"fmt"
)

// Outcome represents the terminal state of a single entity reconciliation.
type Outcome string

const (
	// OutcomeCreated indicates the entity did not exist remotely and was
	// created.
	OutcomeCreated Outcome = "created"

	// OutcomeUpdated indicates the entity existed remotely and at least one
	// mutating call was issued to align it.
	OutcomeUpdated Outcome = "updated"

	// OutcomeUnchanged indicates the entity existed remotely and already
	// matched the desired state. No mutating call was issued.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeDeleted indicates the entity existed remotely and was removed
	// by an explicit teardown run.
	OutcomeDeleted Outcome = "deleted"

	// OutcomeFailed indicates reconciliation of the entity failed with a
	// classified error.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped indicates the entity was not attempted because a
	// structural dependency failed.
	OutcomeSkipped Outcome = "skipped"
)

// Succeeded returns true if the outcome counts as successful for the
// aggregate exit status.
func (o Outcome) Succeeded() bool {
	return o == OutcomeCreated || o == OutcomeUpdated || o == OutcomeUnchanged ||
		o == OutcomeDeleted
}

// Mutated returns true if the outcome implies at least one mutating call
// reached the tenant.
func (o Outcome) Mutated() bool {
	return o == OutcomeCreated || o == OutcomeUpdated || o == OutcomeDeleted
}

// Validate checks if the outcome is valid.
func (o Outcome) Validate() error {
	switch o {
	case OutcomeCreated, OutcomeUpdated, OutcomeUnchanged,
		OutcomeDeleted, OutcomeFailed, OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("invalid outcome: %s", o)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = Outcome(str)
	return o.Validate()
}

// RunStatus represents the overall status of a sync run.
type RunStatus string

const (
	// RunStatusPending indicates the run is queued but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every document reconciled cleanly.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed before any document was
	// reconciled, such as a validation gate failure.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the user.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates some documents reconciled and some failed.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// EntityKind identifies the kind of tenant entity a reconciliation step
// targets.
type EntityKind string

const (
	// EntityKindBackend is a backend API and its usage link to the product.
	EntityKindBackend EntityKind = "backend"

	// EntityKindProduct is the product (service) shell.
	EntityKindProduct EntityKind = "product"

	// EntityKindProxy is the product's gateway configuration, including
	// authentication settings.
	EntityKindProxy EntityKind = "proxy"

	// EntityKindMappingRule is a single endpoint-to-metric mapping rule.
	EntityKindMappingRule EntityKind = "mapping_rule"

	// EntityKindPolicyChain is the product's ordered gateway policy chain.
	EntityKindPolicyChain EntityKind = "policy_chain"

	// EntityKindApplicationPlan is the plan applications subscribe to.
	EntityKindApplicationPlan EntityKind = "application_plan"

	// EntityKindAccount is a developer account owning applications.
	EntityKindAccount EntityKind = "account"

	// EntityKindApplication is a credentialed application.
	EntityKindApplication EntityKind = "application"

	// EntityKindPromotion is the promotion of the sandbox proxy
	// configuration to production.
	EntityKindPromotion EntityKind = "promotion"
)

// Validate checks if the entity kind is valid.
func (k EntityKind) Validate() error {
	switch k {
	case EntityKindBackend, EntityKindProduct, EntityKindProxy,
		EntityKindMappingRule, EntityKindPolicyChain, EntityKindApplicationPlan,
		EntityKindAccount, EntityKindApplication, EntityKindPromotion:
		return nil
	default:
		return fmt.Errorf("invalid entity kind: %s", k)
	}
}

// EventType represents the type of event in the sync timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a sync run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a sync run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a sync run has failed.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeDocumentStarted indicates a document has started reconciling.
	EventTypeDocumentStarted EventType = "document_started"

	// EventTypeDocumentCompleted indicates a document reconciled cleanly.
	EventTypeDocumentCompleted EventType = "document_completed"

	// EventTypeDocumentFailed indicates a document failed to reconcile.
	EventTypeDocumentFailed EventType = "document_failed"

	// EventTypeEntityReconciled indicates an entity reached a successful
	// outcome.
	EventTypeEntityReconciled EventType = "entity_reconciled"

	// EventTypeEntityFailed indicates an entity failed or was skipped.
	EventTypeEntityFailed EventType = "entity_failed"

	// EventTypePromotion indicates a proxy configuration was promoted to
	// production.
	EventTypePromotion EventType = "promotion"

	// EventTypeError indicates an error occurred.
	EventTypeError EventType = "error"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"

	// EventTypeInfo indicates informational event.
	EventTypeInfo EventType = "info"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeDocumentFailed, EventTypeEntityFailed, EventTypeError:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}
