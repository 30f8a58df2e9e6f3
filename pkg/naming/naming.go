// Package naming derives tenant-side entity names from templates. Derived
// names keep remote entities traceable to the environment and product that
// declared them.
package naming

import (
	"fmt"
	"strconv"

	"github.com/valyala/fasttemplate"
)

// Default name templates. Placeholders use single-brace tags.
const (
	// DefaultBackendTemplate names backend APIs derived from a backend id.
	DefaultBackendTemplate = "{env}_{id}_backend"

	// DefaultPlanTemplate names the application plan of a product version.
	DefaultPlanTemplate = "{env}_{system}_v{version}_AppPlan"

	// DefaultApplicationTemplate names applications that omit a name.
	DefaultApplicationTemplate = "{env}_{system}_v{version}_Application"
)

// Templates configures the derived-name templates for one batch.
type Templates struct {
	// Backend is the backend API name template ({env}, {id}).
	Backend string `yaml:"backend" json:"backend"`

	// Plan is the application plan name template ({env}, {system},
	// {version}).
	Plan string `yaml:"plan" json:"plan"`

	// Application is the default application name template ({env},
	// {system}, {version}).
	Application string `yaml:"application" json:"application"`
}

// DefaultTemplates returns the standard name templates.
func DefaultTemplates() Templates {
	return Templates{
		Backend:     DefaultBackendTemplate,
		Plan:        DefaultPlanTemplate,
		Application: DefaultApplicationTemplate,
	}
}

// Namer derives tenant-side entity names from compiled templates.
type Namer struct {
	backend     *fasttemplate.Template
	plan        *fasttemplate.Template
	application *fasttemplate.Template
}

// New compiles templates into a Namer. Empty template fields fall back to
// the defaults.
func New(t Templates) (*Namer, error) {
	defaults := DefaultTemplates()
	if t.Backend == "" {
		t.Backend = defaults.Backend
	}
	if t.Plan == "" {
		t.Plan = defaults.Plan
	}
	if t.Application == "" {
		t.Application = defaults.Application
	}

	backend, err := fasttemplate.NewTemplate(t.Backend, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("invalid backend name template: %w", err)
	}
	plan, err := fasttemplate.NewTemplate(t.Plan, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("invalid plan name template: %w", err)
	}
	application, err := fasttemplate.NewTemplate(t.Application, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("invalid application name template: %w", err)
	}

	return &Namer{
		backend:     backend,
		plan:        plan,
		application: application,
	}, nil
}

// Default returns a Namer compiled from the default templates.
func Default() *Namer {
	n, err := New(DefaultTemplates())
	if err != nil {
		panic(err)
	}
	return n
}

// BackendName derives the tenant-side name of a backend API.
func (n *Namer) BackendName(environment, id string) string {
	return n.backend.ExecuteString(map[string]interface{}{
		"env": environment,
		"id":  id,
	})
}

// PlanName derives the application plan name of a product version.
func (n *Namer) PlanName(environment, system string, version int) string {
	return n.plan.ExecuteString(map[string]interface{}{
		"env":     environment,
		"system":  system,
		"version": strconv.Itoa(version),
	})
}

// ApplicationName derives the default application name of a product
// version, used when a document declares an application without a name.
func (n *Namer) ApplicationName(environment, system string, version int) string {
	return n.application.ExecuteString(map[string]interface{}{
		"env":     environment,
		"system":  system,
		"version": strconv.Itoa(version),
	})
}
