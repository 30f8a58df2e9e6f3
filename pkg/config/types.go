package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthType identifies the authentication scheme a product enforces on
// incoming requests.
type AuthType string

const (
	// AuthTypeAppKey authenticates with a single API key.
	AuthTypeAppKey AuthType = "app_key"

	// AuthTypeAppIDKey authenticates with an application ID and key pair.
	AuthTypeAppIDKey AuthType = "app_id_key"

	// AuthTypeOAuth authenticates with an OAuth access token.
	AuthTypeOAuth AuthType = "oauth"

	// AuthTypeOIDC authenticates against an OpenID Connect issuer.
	AuthTypeOIDC AuthType = "oidc"
)

// BackendVersion returns the tenant-side service identifier for the
// authentication scheme ("1" for app_key, "2" for app_id_key, the scheme
// name otherwise).
func (a AuthType) BackendVersion() (string, error) {
	switch a {
	case AuthTypeAppKey:
		return "1", nil
	case AuthTypeAppIDKey:
		return "2", nil
	case AuthTypeOAuth:
		return "oauth", nil
	case AuthTypeOIDC:
		return "oidc", nil
	default:
		return "", fmt.Errorf("invalid authentication type: %s", a)
	}
}

// Document is one declarative configuration file: an environment label plus
// the products declared for it. Documents are value objects; nothing mutates
// them after loading.
type Document struct {
	// Environment labels the batch this document belongs to (e.g. "dev").
	// It prefixes derived entity names but is never enforced remotely.
	Environment string `yaml:"environment" json:"environment" validate:"required"`

	// Products are the API products declared by this document, in file order.
	Products []Product `yaml:"products" json:"products" validate:"required,min=1,dive"`

	// SourceFile is the path the document was loaded from. Set by the
	// loader; not part of the document syntax.
	SourceFile string `yaml:"-" json:"-"`
}

// Product declares one API product: its identity, OpenAPI source, gateway
// authentication, upstream backends, consumer applications, explicit mapping
// overrides, and policy chain.
type Product struct {
	// Name is the display name shown in the tenant console.
	Name string `yaml:"name" json:"name" validate:"required"`

	// ShortName is the product identity. The remote system_name is derived
	// from it by replacing '-' and ' ' with '_'. Must be unique across the
	// whole batch.
	ShortName string `yaml:"shortName" json:"shortName" validate:"required"`

	// Description is the product description. Also applied to derived
	// backends and applications.
	Description string `yaml:"description" json:"description"`

	// Version numbers the product release; it feeds derived plan and
	// application names.
	Version int `yaml:"version" json:"version" validate:"required,min=1"`

	// StagingPublicURL overrides the staging (sandbox) public endpoint.
	StagingPublicURL string `yaml:"stagingPublicURL,omitempty" json:"stagingPublicURL,omitempty" validate:"omitempty,url"`

	// ProductionPublicURL overrides the production public endpoint.
	ProductionPublicURL string `yaml:"productionPublicURL,omitempty" json:"productionPublicURL,omitempty" validate:"omitempty,url"`

	// OpenAPIPath names one or more OpenAPI documents, relative to the
	// OpenAPI base directory, whose operations become mapping rules.
	OpenAPIPath PathList `yaml:"openAPIPath" json:"openAPIPath"`

	// PoliciesPath names the policy chain file, relative to the policies
	// base directory. Empty means the product keeps the default chain.
	PoliciesPath string `yaml:"policiesPath,omitempty" json:"policiesPath,omitempty"`

	// API configures the public surface of the product.
	API APISpec `yaml:"api" json:"api" validate:"required"`

	// Backends are the upstream services this product forwards to, linked
	// by backend usages in declaration order.
	Backends []Backend `yaml:"backends" json:"backends" validate:"dive"`

	// Applications are the consumer credentials registered under this
	// product, in declaration order.
	Applications []Application `yaml:"applications" json:"applications" validate:"dive"`

	// Mappings are explicit mapping rules appended after the OpenAPI
	// derived rules, in declaration order.
	Mappings []Mapping `yaml:"mappings,omitempty" json:"mappings,omitempty" validate:"dive"`
}

// SystemName derives the remote service identity from ShortName.
func (p *Product) SystemName() string {
	return SystemName(p.ShortName)
}

// SystemName normalizes a declared name into a tenant system_name by
// replacing '-' and ' ' with '_'.
func SystemName(name string) string {
	return strings.NewReplacer("-", "_", " ", "_").Replace(name)
}

// APISpec configures the public base path and authentication of a product.
type APISpec struct {
	// PublicBasePath prefixes every mapping rule pattern of the product.
	PublicBasePath string `yaml:"publicBasePath" json:"publicBasePath" validate:"required,startswith=/"`

	// Authentication selects and configures the authentication scheme.
	Authentication Authentication `yaml:"authentication" json:"authentication" validate:"required"`
}

// Authentication configures how the gateway authenticates API consumers.
type Authentication struct {
	// AuthType is one of app_key, app_id_key, oauth, oidc.
	AuthType AuthType `yaml:"authType" json:"authType" validate:"required,oneof=app_key app_id_key oauth oidc"`

	// IssuerURL is the OIDC issuer endpoint, including client credentials
	// when the issuer requires them. Required when AuthType is oidc.
	IssuerURL string `yaml:"issuerURL,omitempty" json:"issuerURL,omitempty" validate:"required_if=AuthType oidc"`

	// IssuerType is the issuer flavor, keycloak or rest.
	IssuerType string `yaml:"issuerType,omitempty" json:"issuerType,omitempty" validate:"omitempty,oneof=keycloak rest"`

	// CredentialsLocation is where consumers present credentials: headers,
	// query or authorization.
	CredentialsLocation string `yaml:"credentialsLocation,omitempty" json:"credentialsLocation,omitempty" validate:"omitempty,oneof=headers query authorization"`

	// OIDCFlows enables individual OIDC grant flows. Omitted flows stay
	// disabled.
	OIDCFlows *OIDCFlows `yaml:"oidcFlows,omitempty" json:"oidcFlows,omitempty"`
}

// OIDCFlows toggles the four OIDC grant flows independently. Every flow
// defaults to false when omitted from the document.
type OIDCFlows struct {
	// StandardFlow enables the authorization code flow.
	StandardFlow bool `yaml:"standardFlow" json:"standardFlow"`

	// ImplicitFlow enables the implicit grant flow.
	ImplicitFlow bool `yaml:"implicitFlow" json:"implicitFlow"`

	// ServiceAccounts enables the client credentials flow.
	ServiceAccounts bool `yaml:"serviceAccounts" json:"serviceAccounts"`

	// DirectAccessGrants enables the resource owner password flow.
	DirectAccessGrants bool `yaml:"directAccessGrants" json:"directAccessGrants"`
}

// Backend declares an upstream service a product forwards matched requests
// to. An entry carrying only an ID references a backend declared fully by
// another product in the same batch.
type Backend struct {
	// ID is the backend identity. The remote name is derived as
	// "{environment}_{id}_backend". Declared at most once across the whole
	// batch.
	ID string `yaml:"id" json:"id" validate:"required"`

	// PrivateBaseURL is the private endpoint the gateway forwards to.
	// Empty on reference entries.
	PrivateBaseURL string `yaml:"privateBaseURL,omitempty" json:"privateBaseURL,omitempty" validate:"omitempty,url"`

	// Path is the mount path of this backend in the product, recorded on
	// the backend usage link.
	Path string `yaml:"path" json:"path" validate:"required,startswith=/"`
}

// Declared returns true if the entry fully declares the backend rather than
// referencing a declaration elsewhere in the batch.
func (b *Backend) Declared() bool {
	return b.PrivateBaseURL != ""
}

// Application declares a consumer credential pair registered under a
// product.
type Application struct {
	// Name identifies the application. Unique across the whole batch.
	// When empty, a name is derived from environment, product and version.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Account is the remote account the application is created under. The
	// account is created (approved) when it does not exist yet.
	Account string `yaml:"account" json:"account" validate:"required"`

	// ClientID is the OAuth/OIDC client identifier. Unique across the
	// whole batch when set.
	ClientID string `yaml:"client_id,omitempty" json:"client_id,omitempty"`

	// ClientSecret is the matching client secret.
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`

	// Description overrides the product description on the application.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Key returns the identity used for remote lookup: ClientID when set, Name
// otherwise.
func (a *Application) Key() string {
	if a.ClientID != "" {
		return a.ClientID
	}
	return a.Name
}

// Mapping declares one explicit mapping rule. Explicit rules are appended
// after the OpenAPI derived rules; order within the document is preserved
// because the gateway evaluates rules first-match-wins.
type Mapping struct {
	// Method is the HTTP verb the rule matches.
	Method string `yaml:"method" json:"method" validate:"required,oneof=GET PUT POST DELETE OPTIONS HEAD PATCH TRACE"`

	// Pattern is the path pattern, relative to the product public base
	// path. A trailing '$' anchors the match.
	Pattern string `yaml:"pattern" json:"pattern" validate:"required"`

	// Metric overrides the metric the rule increments. Defaults to hits.
	Metric string `yaml:"metric,omitempty" json:"metric,omitempty"`
}

// PolicyChainEntry is one entry of a product policy chain as declared in a
// policy chain file.
type PolicyChainEntry struct {
	// Name is the policy name, e.g. "apicast" or "headers".
	Name string `yaml:"name" json:"name" validate:"required"`

	// Version is the policy version, "builtin" for gateway built-ins.
	Version string `yaml:"version" json:"version" validate:"required"`

	// Configuration is the policy-specific payload, passed through opaque.
	Configuration map[string]interface{} `yaml:"configuration" json:"configuration"`

	// Enabled toggles the entry without removing it from the chain.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ValidationSchema optionally names a JSON Schema file, relative to
	// the validation base directory, that Configuration must satisfy.
	ValidationSchema string `yaml:"validationSchema,omitempty" json:"validationSchema,omitempty"`
}

// PathList accepts either a single scalar path or a sequence of paths in
// YAML, preserving order.
type PathList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *PathList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*p = PathList{single}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*p = PathList(many)
		return nil
	default:
		return fmt.Errorf("openAPIPath must be a string or a list of strings, got %v", value.Kind)
	}
}
