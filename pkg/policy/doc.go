// Package policy provides Open Policy Agent (OPA) governance for
// configuration documents.
//
// This package evaluates Rego policies against every declared configuration
// document before any remote change is made. It ships a built-in policy set
// for common API management governance requirements and supports loading
// custom policies from files, directories and bundles.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files, directories, and bundles
//  3. Types - Data structures for policies and evaluation input
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine and evaluating a batch:
//
//	logger := zerolog.New(os.Stdout)
//	gate, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := gate.EvaluateDocuments(ctx, docs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("policy %s: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/3scale-sync/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = gate.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. product-naming - Enforces product shortName conventions
//  2. production-endpoints - Requires https endpoints in production environments
//  3. backend-hygiene - Rejects loopback backends in production and duplicate mount paths
//  4. credential-hygiene - Flags inline client secrets and plain-http issuers
//  5. oidc-flows - Reviews the OIDC flow selection of oidc products
//
// # Evaluation Input
//
// Each document is evaluated separately. Policies see the document exactly
// as it was written, under these input fields:
//
//   - input.document: the parsed document (environment, products, ...)
//   - input.source: the file the document was loaded from
//   - input.context: environment, operation and timestamp
//
// # Custom Policies
//
// Custom policies are written in Rego and loaded from .rego files. Deny
// results are either plain strings or objects carrying message, severity
// and source keys:
//
//	package custom.policies.descriptions
//
//	import rego.v1
//
//	deny contains violation if {
//	    some product in input.document.products
//	    not product.description
//
//	    violation := {
//	        "message": sprintf("product %s has no description", [product.shortName]),
//	        "severity": "error",
//	    }
//	}
//
// Policies loaded from .rego files default to severity warning; a violation
// object may override the severity per result. JSON policy definitions and
// bundles carry their severity explicitly.
//
// # Severity Levels
//
// Violations have four severity levels:
//
//   - info: informational findings
//   - warning: findings that should be reviewed but don't block the run
//   - error: findings that block the run
//   - critical: severe findings that block the run
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading
// automatically, which keeps long-running watch mode governed by the
// current policy set:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func([]policy.Policy) error {
//	    if err := gate.ReloadPolicies(ctx); err != nil {
//	        return err
//	    }
//	    return gate.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Policies are parsed once and their deny query is prepared at load time
// with OPA's PrepareForEval; evaluations reuse the prepared query with
// fresh input. The loader caches file contents until they change on disk.
package policy
