package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/naming"
)

// Constraint names reported by the batch validator.
const (
	// ConstraintUniqueShortName requires product shortName values to be
	// unique across the batch.
	ConstraintUniqueShortName = "unique_product_short_name"

	// ConstraintUniqueAppName requires effective application names to be
	// unique across the batch. Applications without a declared name take
	// their derived default name.
	ConstraintUniqueAppName = "unique_application_name"

	// ConstraintUniqueClientID requires declared client_id values to be
	// unique across the batch.
	ConstraintUniqueClientID = "unique_application_client_id"

	// ConstraintUniqueBackendID requires backend ids to be declared at most
	// once across the batch.
	ConstraintUniqueBackendID = "unique_backend_id"

	// ConstraintBackendResolves requires every backend reference to resolve
	// to a declaration somewhere in the batch.
	ConstraintBackendResolves = "backend_reference_resolves"
)

// Violation describes one violated batch constraint.
type Violation struct {
	// Constraint names the violated constraint.
	Constraint string `json:"constraint"`

	// Kind is the offending entity kind.
	Kind EntityKind `json:"kind"`

	// Key is the duplicate or unresolvable key value.
	Key string `json:"key"`

	// Sources are the documents involved, in load order.
	Sources []string `json:"sources,omitempty"`
}

// String renders the violation for operator-facing reports.
func (v Violation) String() string {
	if len(v.Sources) > 0 {
		return fmt.Sprintf("%s: %s %q in %s",
			v.Constraint, v.Kind, v.Key, strings.Join(v.Sources, ", "))
	}
	return fmt.Sprintf("%s: %s %q", v.Constraint, v.Kind, v.Key)
}

// keyIndex tracks which documents use a key, preserving first-seen order.
type keyIndex struct {
	order   []string
	sources map[string][]string
}

func newKeyIndex() *keyIndex {
	return &keyIndex{sources: make(map[string][]string)}
}

func (i *keyIndex) add(key, source string) {
	if _, seen := i.sources[key]; !seen {
		i.order = append(i.order, key)
	}
	i.sources[key] = append(i.sources[key], source)
}

func (i *keyIndex) has(key string) bool {
	_, ok := i.sources[key]
	return ok
}

// duplicates returns the keys used more than once, in first-seen order.
func (i *keyIndex) duplicates() []Violation {
	var out []Violation
	for _, key := range i.order {
		if sources := i.sources[key]; len(sources) > 1 {
			out = append(out, Violation{Key: key, Sources: sources})
		}
	}
	return out
}

// ValidateBatch checks the batch-wide uniqueness and referential
// constraints over the full set of loaded documents. It returns every
// violation found, in deterministic load order, or nil when the batch is
// valid. Pure function: no remote call is made and no document is mutated.
func ValidateBatch(docs []config.Document, namer *naming.Namer) []Violation {
	if namer == nil {
		namer = naming.Default()
	}

	shortNames := newKeyIndex()
	appNames := newKeyIndex()
	clientIDs := newKeyIndex()
	backendIDs := newKeyIndex()
	references := newKeyIndex()

	for _, doc := range docs {
		for _, product := range doc.Products {
			shortNames.add(product.ShortName, doc.SourceFile)

			for _, backend := range product.Backends {
				if backend.Declared() {
					backendIDs.add(backend.ID, doc.SourceFile)
				} else {
					references.add(backend.ID, doc.SourceFile)
				}
			}

			for _, app := range product.Applications {
				name := app.Name
				if name == "" {
					name = namer.ApplicationName(doc.Environment, product.SystemName(), product.Version)
				}
				appNames.add(name, doc.SourceFile)
				if app.ClientID != "" {
					clientIDs.add(app.ClientID, doc.SourceFile)
				}
			}
		}
	}

	var violations []Violation
	appendDuplicates := func(constraint string, kind EntityKind, idx *keyIndex) {
		for _, v := range idx.duplicates() {
			v.Constraint = constraint
			v.Kind = kind
			violations = append(violations, v)
		}
	}

	appendDuplicates(ConstraintUniqueShortName, EntityKindProduct, shortNames)
	appendDuplicates(ConstraintUniqueAppName, EntityKindApplication, appNames)
	appendDuplicates(ConstraintUniqueClientID, EntityKindApplication, clientIDs)
	appendDuplicates(ConstraintUniqueBackendID, EntityKindBackend, backendIDs)

	for _, key := range references.order {
		if !backendIDs.has(key) {
			violations = append(violations, Violation{
				Constraint: ConstraintBackendResolves,
				Kind:       EntityKindBackend,
				Key:        key,
				Sources:    references.sources[key],
			})
		}
	}

	return violations
}

// NewBatchError wraps batch violations into a fatal validation error. The
// full violation list travels on the error details.
func NewBatchError(violations []Violation) *SyncError {
	msgs := make([]string, len(violations))
	for i, v := range violations {
		msgs[i] = v.String()
	}
	return NewValidationError(
		fmt.Sprintf("batch validation failed with %d violation(s)", len(violations)),
		errors.New(strings.Join(msgs, "; ")),
	).WithDetail("violations", violations)
}

// ViolationsFrom extracts the violation list from a validation error.
// Returns nil for any other error.
func ViolationsFrom(err error) []Violation {
	var se *SyncError
	if !errors.As(err, &se) || se.Details == nil {
		return nil
	}
	violations, _ := se.Details["violations"].([]Violation)
	return violations
}
