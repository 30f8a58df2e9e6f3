package policy

import (
	"time"

	"github.com/section6nz/3scale-sync/pkg/config"
)

// Severity ranks how serious a policy violation is.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block the run.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that block the run and demand
	// immediate attention.
	SeverityCritical Severity = "critical"
)

// Policy is one governance rule with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego source of the policy.
	Rego string `json:"rego"`

	// Severity is the default severity for violations. Individual deny
	// results may override it.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Bundle is a versioned collection of related policies distributed as a
// single JSON file.
type Bundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`

	// CreatedAt is when the bundle was created.
	CreatedAt time.Time `json:"created_at"`
}

// Input is the data handed to Rego for one document evaluation. Policies
// address it as input.document, input.source and input.context.
type Input struct {
	// Document is the configuration document under evaluation.
	Document *config.Document `json:"document"`

	// Source is the file the document was loaded from.
	Source string `json:"source"`

	// Context carries evaluation context beyond the document itself.
	Context *Context `json:"context"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the environment declared by the document.
	Environment string `json:"environment,omitempty"`

	// Operation is the operation under evaluation.
	Operation string `json:"operation,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// DryRun indicates if this is a dry-run evaluation.
	DryRun bool `json:"dry_run"`

	// Metadata contains additional context metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
