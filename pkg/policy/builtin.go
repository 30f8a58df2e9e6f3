package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		productNamingPolicy(),
		productionEndpointsPolicy(),
		backendHygienePolicy(),
		credentialHygienePolicy(),
		oidcFlowsPolicy(),
	}
}

// productNamingPolicy enforces product shortName conventions.
func productNamingPolicy() Policy {
	return Policy{
		Name:        "product-naming",
		Description: "Enforces product shortName conventions (lowercase letters, digits, hyphens and underscores)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package threescale.policies.naming

import rego.v1

deny contains violation if {
	some product in input.document.products
	name := product.shortName

	# Short names must be lowercase
	lower(name) != name
	violation := {
		"message": sprintf("product %s: shortName must be lowercase", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	some product in input.document.products
	name := product.shortName

	# Short names must start with a letter or digit and stick to a safe charset
	not regex.match("^[a-z0-9][a-z0-9_-]*$", name)
	violation := {
		"message": sprintf("product %s: shortName must start with a lowercase letter or digit and contain only lowercase letters, digits, hyphens and underscores", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	some product in input.document.products
	name := product.shortName

	# Short names must not end with a separator
	regex.match(".*[-_]$", name)
	violation := {
		"message": sprintf("product %s: shortName must not end with a hyphen or underscore", [name]),
		"severity": "error",
	}
}

deny contains violation if {
	some product in input.document.products
	name := product.shortName

	# Derived remote names carry an environment prefix on top of this
	count(name) > 63
	violation := {
		"message": sprintf("product %s: shortName must not exceed 63 characters", [name]),
		"severity": "error",
	}
}`,
	}
}

// productionEndpointsPolicy guards public endpoints in production environments.
func productionEndpointsPolicy() Policy {
	return Policy{
		Name:        "production-endpoints",
		Description: "Requires https public endpoints and flags missing production endpoints in production environments",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"endpoints", "production", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package threescale.policies.endpoints

import rego.v1

deny contains violation if {
	startswith(input.document.environment, "prod")
	some product in input.document.products

	# Production batches should pin their production endpoint explicitly
	not product.productionPublicURL
	violation := {
		"message": sprintf("product %s declares no productionPublicURL; the tenant default endpoint will be used", [product.shortName]),
		"severity": "warning",
	}
}

deny contains violation if {
	startswith(input.document.environment, "prod")
	some product in input.document.products

	startswith(product.stagingPublicURL, "http://")
	violation := {
		"message": sprintf("product %s staging endpoint %s must use https in a production environment", [product.shortName, product.stagingPublicURL]),
		"severity": "error",
	}
}

deny contains violation if {
	startswith(input.document.environment, "prod")
	some product in input.document.products

	startswith(product.productionPublicURL, "http://")
	violation := {
		"message": sprintf("product %s production endpoint %s must use https", [product.shortName, product.productionPublicURL]),
		"severity": "error",
	}
}`,
	}
}

// backendHygienePolicy rejects loopback upstreams in production and
// conflicting backend mount paths.
func backendHygienePolicy() Policy {
	return Policy{
		Name:        "backend-hygiene",
		Description: "Rejects loopback backends in production environments and duplicate backend mount paths within a product",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"backends", "production", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package threescale.policies.backends

import rego.v1

loopback_hosts := ["localhost", "127.0.0.1", "0.0.0.0"]

deny contains violation if {
	startswith(input.document.environment, "prod")
	some product in input.document.products
	some backend in product.backends
	some host in loopback_hosts

	contains(backend.privateBaseURL, host)
	violation := {
		"message": sprintf("product %s backend %s points at %s in a production environment", [product.shortName, backend.id, host]),
		"severity": "error",
	}
}

deny contains violation if {
	some product in input.document.products
	some i, j
	product.backends[i].path == product.backends[j].path
	i < j

	violation := {
		"message": sprintf("product %s mounts two backends at path %s; the gateway cannot route both", [product.shortName, product.backends[i].path]),
		"severity": "error",
	}
}`,
	}
}

// credentialHygienePolicy flags secrets committed into configuration.
func credentialHygienePolicy() Policy {
	return Policy{
		Name:        "credential-hygiene",
		Description: "Flags inline client secrets in production environments and plain-http OIDC issuers",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"credentials", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package threescale.policies.credentials

import rego.v1

deny contains violation if {
	startswith(input.document.environment, "prod")
	some product in input.document.products
	some app in product.applications

	app.client_secret
	violation := {
		"message": sprintf("product %s application for account %s declares client_secret inline; inject secrets at deploy time instead", [product.shortName, app.account]),
		"severity": "warning",
	}
}

deny contains violation if {
	some product in input.document.products

	# Issuer URLs embed client credentials, so plain http leaks them
	startswith(product.api.authentication.issuerURL, "http://")
	violation := {
		"message": sprintf("product %s issuer URL uses plain http", [product.shortName]),
		"severity": "error",
	}
}`,
	}
}

// oidcFlowsPolicy reviews the OIDC flow selection of oidc products.
func oidcFlowsPolicy() Policy {
	return Policy{
		Name:        "oidc-flows",
		Description: "Warns about oidc products with no enabled flows and about the deprecated implicit flow",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"oidc", "authentication"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package threescale.policies.oidc

import rego.v1

deny contains violation if {
	some product in input.document.products
	product.api.authentication.authType == "oidc"

	not product.api.authentication.oidcFlows
	violation := {
		"message": sprintf("product %s uses oidc but enables no flows; no consumer can obtain a token", [product.shortName]),
		"severity": "warning",
	}
}

deny contains violation if {
	some product in input.document.products
	product.api.authentication.authType == "oidc"
	flows := product.api.authentication.oidcFlows

	not flows.standardFlow
	not flows.implicitFlow
	not flows.serviceAccounts
	not flows.directAccessGrants
	violation := {
		"message": sprintf("product %s uses oidc but enables no flows; no consumer can obtain a token", [product.shortName]),
		"severity": "warning",
	}
}

deny contains violation if {
	some product in input.document.products
	flows := product.api.authentication.oidcFlows

	flows.implicitFlow
	violation := {
		"message": sprintf("product %s enables the implicit flow, which is deprecated in OAuth 2.1", [product.shortName]),
		"severity": "warning",
	}
}`,
	}
}
