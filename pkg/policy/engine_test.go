package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/engine"
)

// testDocument builds a minimal clean document that passes every built-in
// policy, then applies the optional mutation.
func testDocument(env string, mutate func(*config.Document)) config.Document {
	doc := config.Document{
		Environment: env,
		Products: []config.Product{{
			Name:      "Petstore API",
			ShortName: "petstore",
			Version:   1,
			API: config.APISpec{
				PublicBasePath: "/petstore/v1",
				Authentication: config.Authentication{AuthType: config.AuthTypeAppKey},
			},
			Backends: []config.Backend{{
				ID:             "petstore",
				PrivateBaseURL: "https://petstore.svc.cluster.local",
				Path:           "/",
			}},
		}},
		SourceFile: "configs/petstore.yml",
	}
	if mutate != nil {
		mutate(&doc)
	}
	return doc
}

// violationsFor filters a result down to the violations of one policy.
func violationsFor(result *engine.PolicyResult, policyName string) []engine.PolicyViolation {
	var out []engine.PolicyViolation
	for _, v := range result.Violations {
		if v.Policy == policyName {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if eng == nil {
		t.Fatal("Engine is nil")
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"product-naming",
		"production-endpoints",
		"backend-hygiene",
		"credential-hygiene",
		"oidc-flows",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateDocuments_ProductNaming(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name            string
		shortName       string
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name:            "valid short name",
			shortName:       "petstore",
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name:            "valid with separators",
			shortName:       "petstore_api-v2",
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name:            "uppercase",
			shortName:       "Petstore",
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name:            "spaces",
			shortName:       "pet store",
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name:            "trailing hyphen",
			shortName:       "petstore-",
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name:            "leading underscore",
			shortName:       "_petstore",
			expectAllowed:   false,
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := testDocument("dev", func(d *config.Document) {
				d.Products[0].ShortName = tt.shortName
			})

			result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v. Violations: %+v",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasViolation := len(violationsFor(result, "product-naming")) > 0
			if hasViolation != tt.expectViolation {
				t.Errorf("Expected violation=%v, got %v violations: %+v",
					tt.expectViolation, hasViolation, result.Violations)
			}
		})
	}
}

func TestEvaluateDocuments_ProductionEndpoints(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	t.Run("missing production endpoint warns", func(t *testing.T) {
		doc := testDocument("production", nil)

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		found := violationsFor(result, "production-endpoints")
		if len(found) != 1 {
			t.Fatalf("Expected 1 endpoint violation, got %d: %+v", len(found), found)
		}
		if found[0].Severity != string(SeverityWarning) {
			t.Errorf("Expected warning severity, got %s", found[0].Severity)
		}
		if !result.Allowed {
			t.Error("Warnings alone should not block the run")
		}
	})

	t.Run("http production endpoint blocks", func(t *testing.T) {
		doc := testDocument("production", func(d *config.Document) {
			d.Products[0].ProductionPublicURL = "http://api.example.com"
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if result.Allowed {
			t.Error("Expected http production endpoint to block the run")
		}

		found := violationsFor(result, "production-endpoints")
		if len(found) != 1 {
			t.Fatalf("Expected 1 endpoint violation, got %d: %+v", len(found), found)
		}
		if found[0].Severity != string(SeverityError) {
			t.Errorf("Expected error severity, got %s", found[0].Severity)
		}
	})

	t.Run("http staging endpoint blocks in production", func(t *testing.T) {
		doc := testDocument("prod", func(d *config.Document) {
			d.Products[0].StagingPublicURL = "http://gw.example.com"
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if result.Allowed {
			t.Error("Expected http staging endpoint to block the run")
		}

		foundError := false
		for _, v := range violationsFor(result, "production-endpoints") {
			if v.Severity == string(SeverityError) {
				foundError = true
			}
		}
		if !foundError {
			t.Error("Expected an error severity endpoint violation")
		}
	})

	t.Run("dev environment unaffected", func(t *testing.T) {
		doc := testDocument("dev", func(d *config.Document) {
			d.Products[0].StagingPublicURL = "http://localhost:8080"
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if len(violationsFor(result, "production-endpoints")) != 0 {
			t.Errorf("Expected no endpoint violations outside production, got %+v", result.Violations)
		}
		if !result.Allowed {
			t.Error("Expected dev document to be allowed")
		}
	})
}

func TestEvaluateDocuments_BackendHygiene(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	t.Run("loopback backend blocks in production", func(t *testing.T) {
		doc := testDocument("production", func(d *config.Document) {
			d.Products[0].Backends[0].PrivateBaseURL = "http://127.0.0.1:3000"
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if result.Allowed {
			t.Error("Expected loopback backend to block the run")
		}
		if len(violationsFor(result, "backend-hygiene")) == 0 {
			t.Errorf("Expected a backend violation, got %+v", result.Violations)
		}
	})

	t.Run("loopback backend allowed in dev", func(t *testing.T) {
		doc := testDocument("dev", func(d *config.Document) {
			d.Products[0].Backends[0].PrivateBaseURL = "http://127.0.0.1:3000"
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if len(violationsFor(result, "backend-hygiene")) != 0 {
			t.Errorf("Expected no backend violations in dev, got %+v", result.Violations)
		}
		if !result.Allowed {
			t.Error("Expected dev document to be allowed")
		}
	})

	t.Run("duplicate mount paths block", func(t *testing.T) {
		doc := testDocument("dev", func(d *config.Document) {
			d.Products[0].Backends = []config.Backend{
				{ID: "orders", PrivateBaseURL: "https://orders.internal", Path: "/v1"},
				{ID: "billing", PrivateBaseURL: "https://billing.internal", Path: "/v1"},
			}
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if result.Allowed {
			t.Error("Expected duplicate mount paths to block the run")
		}

		found := violationsFor(result, "backend-hygiene")
		if len(found) != 1 {
			t.Fatalf("Expected 1 backend violation, got %d: %+v", len(found), found)
		}
		if !strings.Contains(found[0].Message, "/v1") {
			t.Errorf("Expected violation to name the path, got %q", found[0].Message)
		}
	})
}

func TestEvaluateDocuments_CredentialHygiene(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	t.Run("inline client secret warns in production", func(t *testing.T) {
		doc := testDocument("production", func(d *config.Document) {
			d.Products[0].Applications = []config.Application{
				{Account: "team-a", ClientID: "petstore-client", ClientSecret: "s3cret"},
			}
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		found := violationsFor(result, "credential-hygiene")
		if len(found) != 1 {
			t.Fatalf("Expected 1 credential violation, got %d: %+v", len(found), found)
		}
		if found[0].Severity != string(SeverityWarning) {
			t.Errorf("Expected warning severity, got %s", found[0].Severity)
		}
		if !result.Allowed {
			t.Error("Warnings alone should not block the run")
		}
	})

	t.Run("inline client secret fine in dev", func(t *testing.T) {
		doc := testDocument("dev", func(d *config.Document) {
			d.Products[0].Applications = []config.Application{
				{Account: "team-a", ClientID: "petstore-client", ClientSecret: "s3cret"},
			}
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if len(violationsFor(result, "credential-hygiene")) != 0 {
			t.Errorf("Expected no credential violations in dev, got %+v", result.Violations)
		}
	})

	t.Run("plain http issuer blocks", func(t *testing.T) {
		doc := testDocument("dev", func(d *config.Document) {
			d.Products[0].API.Authentication = config.Authentication{
				AuthType:  config.AuthTypeOIDC,
				IssuerURL: "http://sso.internal/realms/master",
			}
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if result.Allowed {
			t.Error("Expected plain http issuer to block the run")
		}

		foundError := false
		for _, v := range violationsFor(result, "credential-hygiene") {
			if v.Severity == string(SeverityError) {
				foundError = true
			}
		}
		if !foundError {
			t.Error("Expected an error severity credential violation")
		}
	})
}

func TestEvaluateDocuments_OIDCFlows(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	oidcAuth := func(flows *config.OIDCFlows) config.Authentication {
		return config.Authentication{
			AuthType:  config.AuthTypeOIDC,
			IssuerURL: "https://sso.internal/realms/master",
			OIDCFlows: flows,
		}
	}

	tests := []struct {
		name            string
		auth            config.Authentication
		expectCount     int
		expectInMessage string
	}{
		{
			name:            "no flows declared",
			auth:            oidcAuth(nil),
			expectCount:     1,
			expectInMessage: "no flows",
		},
		{
			name:            "all flows disabled",
			auth:            oidcAuth(&config.OIDCFlows{}),
			expectCount:     1,
			expectInMessage: "no flows",
		},
		{
			name:            "implicit flow",
			auth:            oidcAuth(&config.OIDCFlows{ImplicitFlow: true}),
			expectCount:     1,
			expectInMessage: "implicit",
		},
		{
			name:        "service accounts flow",
			auth:        oidcAuth(&config.OIDCFlows{ServiceAccounts: true}),
			expectCount: 0,
		},
		{
			name: "app_key untouched",
			auth: config.Authentication{AuthType: config.AuthTypeAppKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := testDocument("dev", func(d *config.Document) {
				d.Products[0].API.Authentication = tt.auth
			})

			result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			found := violationsFor(result, "oidc-flows")
			if len(found) != tt.expectCount {
				t.Fatalf("Expected %d oidc violations, got %d: %+v", tt.expectCount, len(found), found)
			}
			if tt.expectInMessage != "" && !strings.Contains(found[0].Message, tt.expectInMessage) {
				t.Errorf("Expected message to contain %q, got %q", tt.expectInMessage, found[0].Message)
			}
			if !result.Allowed {
				t.Error("OIDC flow findings are warnings and should not block the run")
			}
		})
	}
}

func TestEvaluateDocuments_SourceAttribution(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	clean := testDocument("dev", func(d *config.Document) {
		d.SourceFile = "configs/clean.yml"
	})
	violating := testDocument("dev", func(d *config.Document) {
		d.SourceFile = "configs/violating.yml"
		d.Products[0].ShortName = "Bad Name"
	})

	result, err := eng.EvaluateDocuments(context.Background(), []config.Document{clean, violating})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected the violating document to block the run")
	}

	found := violationsFor(result, "product-naming")
	if len(found) == 0 {
		t.Fatal("Expected naming violations")
	}
	for _, v := range found {
		if v.Source != "configs/violating.yml" {
			t.Errorf("Expected violation source configs/violating.yml, got %q", v.Source)
		}
	}
}

func TestEvaluateDocuments_Empty(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	result, err := eng.EvaluateDocuments(context.Background(), nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Error("Expected empty batch to be allowed")
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", result.Violations)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policyName := "product-naming"

	err = eng.DisablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	policy, err := eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if policy.Enabled {
		t.Error("Policy should be disabled")
	}

	doc := testDocument("dev", func(d *config.Document) {
		d.Products[0].ShortName = "INVALID_NAME"
	})

	result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	for _, v := range result.Violations {
		if v.Policy == policyName {
			t.Error("Disabled policy should not generate violations")
		}
	}

	err = eng.EnablePolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	policy, err = eng.GetPolicy(policyName)
	if err != nil {
		t.Fatalf("Failed to get policy: %v", err)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled")
	}
}

func TestLoadPolicies_CustomPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tmpDir := t.TempDir()
	regoContent := `# Products must carry a description for the developer portal.
package custom.policies.descriptions

import rego.v1

deny contains violation if {
	some product in input.document.products
	not product.description
	violation := {
		"message": sprintf("product %s has no description", [product.shortName]),
		"severity": "error",
	}
}`

	err = os.WriteFile(filepath.Join(tmpDir, "require-description.rego"), []byte(regoContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	err = eng.LoadPolicies(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	t.Run("undescribed product blocked", func(t *testing.T) {
		doc := testDocument("dev", nil)

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if result.Allowed {
			t.Error("Expected the custom policy to block the run")
		}

		found := violationsFor(result, "require-description")
		if len(found) != 1 {
			t.Fatalf("Expected 1 custom violation, got %d: %+v", len(found), found)
		}
		if found[0].Severity != string(SeverityError) {
			t.Errorf("Expected error severity, got %s", found[0].Severity)
		}
		if found[0].Source != doc.SourceFile {
			t.Errorf("Expected source %q, got %q", doc.SourceFile, found[0].Source)
		}
	})

	t.Run("described product passes", func(t *testing.T) {
		doc := testDocument("dev", func(d *config.Document) {
			d.Products[0].Description = "Pet shop demo API"
		})

		result, err := eng.EvaluateDocuments(context.Background(), []config.Document{doc})
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}

		if len(violationsFor(result, "require-description")) != 0 {
			t.Errorf("Expected no custom violations, got %+v", result.Violations)
		}
	})
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	builtinCount := len(eng.ListPolicies())

	tmpDir := t.TempDir()
	regoContent := `package custom.policies.extra

import rego.v1

deny contains msg if {
	input.document.environment == "sandbox"
	msg := "sandbox documents are not deployable"
}`
	err = os.WriteFile(filepath.Join(tmpDir, "no-sandbox.rego"), []byte(regoContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	err = eng.LoadPolicies(context.Background(), []string{tmpDir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if got := len(eng.ListPolicies()); got != builtinCount+1 {
		t.Fatalf("Expected %d policies after load, got %d", builtinCount+1, got)
	}

	err = eng.ReloadPolicies(context.Background())
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}

	if got := len(eng.ListPolicies()); got != builtinCount {
		t.Errorf("Expected %d policies after reload, got %d", builtinCount, got)
	}

	if _, err := eng.GetPolicy("no-sandbox"); err == nil {
		t.Error("Expected custom policy to be dropped by reload")
	}
}

func TestListPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No policies returned")
	}

	for _, p := range policies {
		if p.Name == "" {
			t.Error("Policy has empty name")
		}
		if p.Rego == "" {
			t.Error("Policy has empty Rego code")
		}
		if p.CreatedAt.IsZero() {
			t.Error("Policy has zero CreatedAt")
		}
	}
}

func TestGetPolicy_NotFound(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if _, err := eng.GetPolicy("does-not-exist"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
