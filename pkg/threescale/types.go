package threescale

import "encoding/xml"

// Service is a product (service) entity on the tenant.
type Service struct {
	// ID is the tenant-assigned service identifier.
	ID int64 `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// SystemName is the immutable identity the sync looks services up by.
	SystemName string `json:"system_name"`

	// Description is the service description.
	Description string `json:"description"`

	// State is the tenant-side lifecycle state.
	State string `json:"state"`

	// BackendVersion encodes the authentication mode ("1", "2", "oauth",
	// "oidc").
	BackendVersion string `json:"backend_version"`

	// DeploymentOption is hosted or self_managed.
	DeploymentOption string `json:"deployment_option"`

	// SupportEmail is the published support contact.
	SupportEmail string `json:"support_email"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ServiceUpsert carries the service fields the sync manages. Empty fields
// are omitted from requests, so updates stay sparse.
type ServiceUpsert struct {
	Name             string
	SystemName       string
	Description      string
	DeploymentOption string
	BackendVersion   string
}

// BackendAPI is a backend entity on the tenant.
type BackendAPI struct {
	// ID is the tenant-assigned backend identifier.
	ID int64 `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// SystemName is the identity the sync looks backends up by.
	SystemName string `json:"system_name"`

	// Description is the backend description.
	Description string `json:"description"`

	// PrivateEndpoint is the upstream URL the gateway forwards to.
	PrivateEndpoint string `json:"private_endpoint"`

	AccountID int64  `json:"account_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// BackendUpsert carries the backend fields the sync manages.
type BackendUpsert struct {
	Name            string
	SystemName      string
	Description     string
	PrivateEndpoint string
}

// BackendUsage links a backend into a service under a mount path.
type BackendUsage struct {
	// ID is the tenant-assigned usage identifier.
	ID int64 `json:"id"`

	// Path is the mount path of the backend inside the service.
	Path string `json:"path"`

	// ServiceID is the owning service.
	ServiceID int64 `json:"service_id"`

	// BackendID is the linked backend.
	BackendID int64 `json:"backend_id"`
}

// Account is a developer account applications are registered under.
type Account struct {
	// ID is the tenant-assigned account identifier.
	ID int64 `json:"id"`

	// OrgName is the account organization name; the sync uses it as the
	// account identity.
	OrgName string `json:"org_name"`

	// State is pending, approved or rejected.
	State string `json:"state"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Application is a consumer credential pair registered under an account.
type Application struct {
	// ID is the tenant-assigned application identifier.
	ID int64 `json:"id"`

	// Name identifies the application within the tenant console.
	Name string `json:"name"`

	// Description is the application description.
	Description string `json:"description"`

	// ClientID is the OAuth/OIDC client identifier (application_id on the
	// wire for key-based services).
	ClientID string `json:"client_id"`

	// ClientSecret is the matching secret.
	ClientSecret string `json:"client_secret"`

	// UserKey is the single key for app_key services.
	UserKey string `json:"user_key"`

	// State is the tenant-side lifecycle state.
	State string `json:"state"`

	// AccountID is the owning account.
	AccountID int64 `json:"account_id"`

	// ServiceID is the service the application subscribes to via its plan.
	ServiceID int64 `json:"service_id"`

	// PlanID is the subscribed application plan.
	PlanID int64 `json:"plan_id"`

	// PlanName is the display name of the subscribed plan.
	PlanName string `json:"plan_name"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ApplicationUpsert carries the application fields the sync manages.
type ApplicationUpsert struct {
	Name         string
	Description  string
	PlanID       int64
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// ApplicationPlan is a subscription plan scoped to one service.
type ApplicationPlan struct {
	// ID is the tenant-assigned plan identifier.
	ID int64 `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// SystemName is the identity the sync looks plans up by.
	SystemName string `json:"system_name"`

	// State is hidden or published.
	State string `json:"state"`

	// Default marks the plan applications subscribe to by default.
	Default bool `json:"default"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Proxy is the gateway configuration of one service. The tenant serves and
// accepts it as XML.
type Proxy struct {
	XMLName xml.Name `xml:"proxy"`

	// ServiceID is the owning service.
	ServiceID int64 `xml:"service_id"`

	// Endpoint is the production public endpoint.
	Endpoint string `xml:"endpoint"`

	// SandboxEndpoint is the staging public endpoint.
	SandboxEndpoint string `xml:"sandbox_endpoint"`

	// APIBackend is the legacy single-backend URL.
	APIBackend string `xml:"api_backend"`

	// CredentialsLocation is headers, query or authorization.
	CredentialsLocation string `xml:"credentials_location"`

	// AuthAppKey is the parameter name carrying the application key.
	AuthAppKey string `xml:"auth_app_key"`

	// AuthAppID is the parameter name carrying the application ID.
	AuthAppID string `xml:"auth_app_id"`

	// AuthUserKey is the parameter name carrying the user key.
	AuthUserKey string `xml:"auth_user_key"`

	// OIDCIssuerEndpoint is the OIDC issuer URL.
	OIDCIssuerEndpoint string `xml:"oidc_issuer_endpoint"`

	// OIDCIssuerType is keycloak or rest.
	OIDCIssuerType string `xml:"oidc_issuer_type"`

	// SecretToken is the shared secret the gateway sends upstream.
	SecretToken string `xml:"secret_token"`

	// LockVersion guards concurrent console edits.
	LockVersion string `xml:"lock_version"`
}

// ProxyUpdate carries the proxy fields the sync manages. Empty fields are
// omitted from the request so the tenant keeps their current values.
type ProxyUpdate struct {
	Endpoint            string
	SandboxEndpoint     string
	CredentialsLocation string
	OIDCIssuerEndpoint  string
	OIDCIssuerType      string
	AuthAppID           string
	AuthAppKey          string
	AuthUserKey         string
}

// OIDCConfiguration toggles the OIDC grant flows of one service. The tenant
// serves and accepts it as XML.
type OIDCConfiguration struct {
	XMLName xml.Name `xml:"oidc_configuration"`

	// ID is the tenant-assigned configuration identifier.
	ID int64 `xml:"id"`

	// StandardFlowEnabled enables the authorization code flow.
	StandardFlowEnabled bool `xml:"standard_flow_enabled"`

	// ImplicitFlowEnabled enables the implicit grant flow.
	ImplicitFlowEnabled bool `xml:"implicit_flow_enabled"`

	// ServiceAccountsEnabled enables the client credentials flow.
	ServiceAccountsEnabled bool `xml:"service_accounts_enabled"`

	// DirectAccessGrantsEnabled enables the resource owner password flow.
	DirectAccessGrantsEnabled bool `xml:"direct_access_grants_enabled"`
}

// MappingRule routes requests matching (method, pattern) to a metric.
type MappingRule struct {
	// ID is the tenant-assigned rule identifier.
	ID int64 `json:"id"`

	// MetricID is the metric the rule increments.
	MetricID int64 `json:"metric_id"`

	// Pattern is the path pattern, optionally '$'-anchored.
	Pattern string `json:"pattern"`

	// HTTPMethod is the verb the rule matches.
	HTTPMethod string `json:"http_method"`

	// Delta is the increment applied to the metric per hit.
	Delta int `json:"delta"`

	// Position orders the rule within the service; first match wins.
	Position int `json:"position"`

	// Last stops rule evaluation after a match.
	Last bool `json:"last"`
}

// Metric is a usage counter scoped to one service. Every service carries a
// built-in "hits" metric mapping rules attach to.
type Metric struct {
	// ID is the tenant-assigned metric identifier.
	ID int64 `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// SystemName is the metric identity ("hits" for the built-in counter).
	SystemName string `json:"system_name"`

	// FriendlyName is the console label.
	FriendlyName string `json:"friendly_name"`

	// Unit is the measured unit, e.g. "hit".
	Unit string `json:"unit"`
}

// ProxyConfig is one deployed gateway configuration version.
type ProxyConfig struct {
	// ID is the tenant-assigned configuration identifier.
	ID int64 `json:"id"`

	// Version numbers the configuration within its environment.
	Version int `json:"version"`

	// Environment is sandbox or production.
	Environment string `json:"environment"`
}

// Envelope types. The Admin API wraps every entity in a keyed object, both
// per item and per list.

type serviceEnvelope struct {
	Service Service `json:"service"`
}

type serviceList struct {
	Services []serviceEnvelope `json:"services"`
}

type backendEnvelope struct {
	BackendAPI BackendAPI `json:"backend_api"`
}

type backendList struct {
	Backends []backendEnvelope `json:"backend_apis"`
}

type backendUsageEnvelope struct {
	BackendUsage BackendUsage `json:"backend_usage"`
}

type accountEnvelope struct {
	Account Account `json:"account"`
}

type accountList struct {
	Accounts []accountEnvelope `json:"accounts"`
}

type applicationEnvelope struct {
	Application Application `json:"application"`
}

type applicationList struct {
	Applications []applicationEnvelope `json:"applications"`
}

type applicationPlanEnvelope struct {
	ApplicationPlan ApplicationPlan `json:"application_plan"`
}

type applicationPlanList struct {
	Plans []applicationPlanEnvelope `json:"plans"`
}

type mappingRuleEnvelope struct {
	MappingRule MappingRule `json:"mapping_rule"`
}

type mappingRuleList struct {
	MappingRules []mappingRuleEnvelope `json:"mapping_rules"`
}

type metricEnvelope struct {
	Metric Metric `json:"metric"`
}

type metricList struct {
	Metrics []metricEnvelope `json:"metrics"`
}

type proxyConfigEnvelope struct {
	ProxyConfig ProxyConfig `json:"proxy_config"`
}
