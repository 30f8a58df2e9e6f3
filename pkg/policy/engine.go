package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/engine"
)

// Engine compiles Rego policies and evaluates them against configuration
// documents. It implements engine.GovernanceGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
	builtins []Policy
}

var _ engine.GovernanceGate = (*Engine)(nil)

// compiledPolicy holds a policy together with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		builtins: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateDocuments evaluates every enabled policy against every document
// and reports the combined result. A violation of severity error or critical
// blocks the run; evaluation failures of individual policies degrade to
// warnings so one broken custom policy cannot take the gate down.
func (e *Engine) EvaluateDocuments(ctx context.Context, docs []config.Document) (*engine.PolicyResult, error) {
	start := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []engine.PolicyViolation
	var warnings []string

	for i := range docs {
		input := &Input{
			Document: &docs[i],
			Source:   docs[i].SourceFile,
			Context: &Context{
				Environment: docs[i].Environment,
				Operation:   "validate",
				Timestamp:   time.Now(),
			},
		}

		for _, cp := range e.policies {
			if !cp.policy.Enabled {
				continue
			}

			found, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", cp.policy.Name).
					Str("source", docs[i].SourceFile).
					Msg("Policy evaluation failed")
				warnings = append(warnings, fmt.Sprintf("policy %s failed on %s: %v", cp.policy.Name, docs[i].SourceFile, err))
				continue
			}

			violations = append(violations, found...)
		}
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity == string(SeverityError) || violations[i].Severity == string(SeverityCritical) {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Int("documents", len(docs)).
		Int("violations", len(violations)).
		Bool("allowed", allowed).
		Dur("duration", time.Since(start)).
		Msg("Document policy evaluation completed")

	return &engine.PolicyResult{
		Allowed:     allowed,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// LoadPolicies loads and compiles policy files from the given paths, adding
// them to the already loaded set.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy runs the prepared deny query of one policy against one
// input and converts the deny set into violations.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]engine.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.createViolation(cp.policy, d, input))
			}
		}
	}

	return violations, nil
}

// createViolation converts one deny result into a violation. Deny results
// are either plain strings or objects with message, severity and source
// keys; severity and source fall back to the policy default and the
// document source file.
func (e *Engine) createViolation(policy *Policy, result interface{}, input *Input) engine.PolicyViolation {
	violation := engine.PolicyViolation{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
		Source:   input.Source,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if src, ok := v["source"].(string); ok {
			violation.Source = src
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy parses a policy module and prepares its deny query
// for reuse across evaluations.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	// The deny set lives under the package path of the module
	query := fmt.Sprintf("%v.deny", module.Package.Path)

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies compiles the built-in policy set.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtins {
		if err := e.compileAndStorePolicy(ctx, &e.builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtins[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(e.builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}

	return policies
}

// ReloadPolicies drops every loaded policy and recompiles the built-in set.
// Custom policies must be loaded again afterwards.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")

	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}
