package engine

import (
	"context"
	"time"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/openapi"
	"github.com/section6nz/3scale-sync/pkg/threescale"
)

// ServiceClient manages products (services) on the tenant.
type ServiceClient interface {
	// ListServices returns all services on the tenant.
	ListServices(ctx context.Context) ([]threescale.Service, error)

	// FindService looks up a service by system_name. Returns (nil, nil)
	// when absent.
	FindService(ctx context.Context, systemName string) (*threescale.Service, error)

	// CreateService creates a new service.
	CreateService(ctx context.Context, upsert threescale.ServiceUpsert) (*threescale.Service, error)

	// UpdateService updates mutable fields of an existing service.
	UpdateService(ctx context.Context, serviceID int64, upsert threescale.ServiceUpsert) (*threescale.Service, error)

	// DeleteService removes a service.
	DeleteService(ctx context.Context, serviceID int64) error
}

// BackendClient manages backend APIs and their usage links.
type BackendClient interface {
	// ListBackends returns all backend APIs on the tenant.
	ListBackends(ctx context.Context) ([]threescale.BackendAPI, error)

	// FindBackend looks up a backend API by system_name. Returns (nil, nil)
	// when absent.
	FindBackend(ctx context.Context, systemName string) (*threescale.BackendAPI, error)

	// CreateBackend creates a new backend API.
	CreateBackend(ctx context.Context, upsert threescale.BackendUpsert) (*threescale.BackendAPI, error)

	// UpdateBackend updates mutable fields of an existing backend API.
	UpdateBackend(ctx context.Context, backendID int64, upsert threescale.BackendUpsert) (*threescale.BackendAPI, error)

	// DeleteBackend removes a backend API.
	DeleteBackend(ctx context.Context, backendID int64) error

	// ListBackendUsages returns the backend usages of a service.
	ListBackendUsages(ctx context.Context, serviceID int64) ([]threescale.BackendUsage, error)

	// CreateBackendUsage links a backend API to a service under a routing
	// path.
	CreateBackendUsage(ctx context.Context, serviceID, backendID int64, path string) (*threescale.BackendUsage, error)

	// UpdateBackendUsage changes the routing path of an existing usage.
	UpdateBackendUsage(ctx context.Context, serviceID, usageID int64, path string) (*threescale.BackendUsage, error)

	// DeleteBackendUsage unlinks a backend usage from a service.
	DeleteBackendUsage(ctx context.Context, serviceID, usageID int64) error
}

// AccountClient manages developer accounts.
type AccountClient interface {
	// ListAccounts returns all developer accounts on the tenant.
	ListAccounts(ctx context.Context) ([]threescale.Account, error)

	// FindAccount looks up an account by organization name. Returns
	// (nil, nil) when absent.
	FindAccount(ctx context.Context, orgName string) (*threescale.Account, error)

	// CreateAccount signs up a new approved developer account.
	CreateAccount(ctx context.Context, name string) (*threescale.Account, error)
}

// ApplicationClient manages applications and application plans.
type ApplicationClient interface {
	// ListApplications returns the applications of an account.
	ListApplications(ctx context.Context, accountID int64) ([]threescale.Application, error)

	// FindApplication looks up an application by client_id, falling back
	// to name. Returns (nil, nil) when absent.
	FindApplication(ctx context.Context, accountID int64, clientID, name string) (*threescale.Application, error)

	// CreateApplication creates an application subscribed to a plan.
	CreateApplication(ctx context.Context, accountID int64, upsert threescale.ApplicationUpsert) (*threescale.Application, error)

	// UpdateApplication updates mutable fields of an existing application.
	UpdateApplication(ctx context.Context, accountID, applicationID int64, upsert threescale.ApplicationUpsert) (*threescale.Application, error)

	// DeleteApplication removes an application.
	DeleteApplication(ctx context.Context, accountID, applicationID int64) error

	// ListApplicationPlans returns the plans of a service.
	ListApplicationPlans(ctx context.Context, serviceID int64) ([]threescale.ApplicationPlan, error)

	// FindApplicationPlan looks up a plan by system_name. Returns
	// (nil, nil) when absent.
	FindApplicationPlan(ctx context.Context, serviceID int64, systemName string) (*threescale.ApplicationPlan, error)

	// CreateApplicationPlan creates a plan under a service.
	CreateApplicationPlan(ctx context.Context, serviceID int64, name, systemName string) (*threescale.ApplicationPlan, error)

	// DeleteApplicationPlan removes a plan from a service.
	DeleteApplicationPlan(ctx context.Context, serviceID, planID int64) error
}

// ProxyClient manages gateway configuration, OIDC settings and promotion.
type ProxyClient interface {
	// FetchProxy returns the gateway configuration of a service.
	FetchProxy(ctx context.Context, serviceID int64) (*threescale.Proxy, error)

	// UpdateProxy patches the gateway configuration of a service.
	UpdateProxy(ctx context.Context, serviceID int64, update threescale.ProxyUpdate) (*threescale.Proxy, error)

	// FetchOIDCConfiguration returns the OIDC flow settings of a service.
	FetchOIDCConfiguration(ctx context.Context, serviceID int64) (*threescale.OIDCConfiguration, error)

	// UpdateOIDCConfiguration replaces the OIDC flow settings of a service.
	UpdateOIDCConfiguration(ctx context.Context, serviceID int64, cfg threescale.OIDCConfiguration) (*threescale.OIDCConfiguration, error)

	// LatestProxyConfig returns the newest proxy configuration version in
	// an environment. Returns (nil, nil) when none exists.
	LatestProxyConfig(ctx context.Context, serviceID int64, environment string) (*threescale.ProxyConfig, error)

	// PromoteProxyConfig promotes a sandbox configuration version to
	// production. Returns false without error when the version is already
	// promoted.
	PromoteProxyConfig(ctx context.Context, serviceID int64, version int) (bool, error)
}

// MappingRuleClient manages mapping rules and metrics.
type MappingRuleClient interface {
	// ListMappingRules returns the mapping rules of a service.
	ListMappingRules(ctx context.Context, serviceID int64) ([]threescale.MappingRule, error)

	// CreateMappingRule adds a mapping rule to a service.
	CreateMappingRule(ctx context.Context, serviceID int64, rule threescale.MappingRule) (*threescale.MappingRule, error)

	// DeleteMappingRule removes a mapping rule from a service.
	DeleteMappingRule(ctx context.Context, serviceID, ruleID int64) error

	// ListMetrics returns the metrics of a service.
	ListMetrics(ctx context.Context, serviceID int64) ([]threescale.Metric, error)

	// FindMetric looks up a metric by system_name. Returns (nil, nil) when
	// absent.
	FindMetric(ctx context.Context, serviceID int64, systemName string) (*threescale.Metric, error)
}

// PolicyChainClient manages the ordered gateway policy chain.
type PolicyChainClient interface {
	// FetchPolicyChain returns the policy chain of a service.
	FetchPolicyChain(ctx context.Context, serviceID int64) ([]threescale.PolicyEntry, error)

	// UpdatePolicyChain replaces the policy chain of a service.
	UpdatePolicyChain(ctx context.Context, serviceID int64, chain []threescale.PolicyEntry) error
}

// TenantClient is the full remote surface the reconciler depends on.
type TenantClient interface {
	ServiceClient
	BackendClient
	AccountClient
	ApplicationClient
	ProxyClient
	MappingRuleClient
	PolicyChainClient
}

var _ TenantClient = (*threescale.Client)(nil)

// OpenAPIReader supplies the OpenAPI-declared operations of a product.
// The reconciler consumes only the ordered (method, path) list; it never
// interprets the documents themselves.
type OpenAPIReader interface {
	// Operations returns the declared operations of the product's OpenAPI
	// documents, concatenated in document order.
	Operations(product *config.Product) ([]openapi.Operation, error)
}

// PolicyChainReader supplies the declared policy chain of a product.
type PolicyChainReader interface {
	// Chain returns the declared policy chain entries of the product, or
	// (nil, nil) when the product declares no chain file.
	Chain(product *config.Product) ([]config.PolicyChainEntry, error)
}

var (
	_ OpenAPIReader     = (*openapi.FileReader)(nil)
	_ PolicyChainReader = (*config.ChainFileReader)(nil)
)

// GovernanceGate evaluates organizational policies against a batch of
// documents before any remote call is made.
type GovernanceGate interface {
	// EvaluateDocuments evaluates policies against the validated batch.
	EvaluateDocuments(ctx context.Context, docs []config.Document) (*PolicyResult, error)
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the sync is allowed to proceed.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (error, warning).
	Severity string `json:"severity"`

	// Source is the document that violated the policy, if applicable.
	Source string `json:"source,omitempty"`
}

// HistoryRecorder persists completed runs for later inspection.
type HistoryRecorder interface {
	// RecordRun persists a terminal run with its per-document results.
	RecordRun(ctx context.Context, run *Run) error
}
