package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadFromFile_Rego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "require-owner.rego")

	regoContent := `# Every product must name an owning account.
package custom.policies.owner

import rego.v1

deny contains msg if {
	some product in input.document.products
	count(product.applications) == 0
	msg := sprintf("product %s declares no applications", [product.shortName])
}`

	err := os.WriteFile(policyFile, []byte(regoContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "require-owner" {
		t.Errorf("Expected name 'require-owner', got '%s'", policy.Name)
	}

	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}

	if policy.Description != "Every product must name an owning account." {
		t.Errorf("Unexpected description: %q", policy.Description)
	}

	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}

	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "max-products.json")

	policy := Policy{
		Name:        "max-products",
		Description: "Caps the number of products a single document may declare",
		Rego: `package custom.policies.limits

import rego.v1

deny contains msg if {
	count(input.document.products) > 20
	msg := "documents are limited to 20 products"
}`,
		Severity: SeverityError,
		Enabled:  true,
		Tags:     []string{"limits"},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}

	err = os.WriteFile(policyFile, data, 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != policy.Name {
		t.Errorf("Expected name '%s', got '%s'", policy.Name, loaded.Name)
	}

	if loaded.Description != policy.Description {
		t.Errorf("Expected description '%s', got '%s'", policy.Description, loaded.Description)
	}

	if loaded.Severity != policy.Severity {
		t.Errorf("Expected severity '%s', got '%s'", policy.Severity, loaded.Severity)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()

	policies := map[string]string{
		"naming.rego": `package custom.naming

import rego.v1

deny contains msg if {
	input.document.environment == "sandbox"
	msg := "sandbox documents are not deployable"
}`,
		"limits.rego": `package custom.limits

import rego.v1

deny contains msg if {
	count(input.document.products) > 50
	msg := "too many products"
}`,
		"owners.rego": `package custom.owners

import rego.v1

deny contains msg if {
	some product in input.document.products
	count(product.applications) == 0
	msg := "no applications"
}`,
	}

	for filename, content := range policies {
		path := filepath.Join(tmpDir, filename)
		err := os.WriteFile(path, []byte(content), 0644)
		if err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
	}

	// Non-policy files in the directory are ignored
	err := os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# Policies"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != len(policies) {
		t.Errorf("Expected %d policies, got %d", len(policies), len(loaded))
	}
}

func TestLoadFromDirectory_Recursive(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "production")
	err := os.Mkdir(subDir, 0755)
	if err != nil {
		t.Fatalf("Failed to create subdirectory: %v", err)
	}

	top := `package custom.top

import rego.v1

deny contains msg if {
	input.document.environment == "sandbox"
	msg := "sandbox documents are not deployable"
}`
	nested := `package custom.nested

import rego.v1

deny contains msg if {
	count(input.document.products) == 0
	msg := "empty document"
}`

	err = os.WriteFile(filepath.Join(tmpDir, "top.rego"), []byte(top), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	err = os.WriteFile(filepath.Join(subDir, "nested.rego"), []byte(nested), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies (including subdirectory), got %d", len(loaded))
	}
}

func TestLoadFromPaths(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()

	dir1 := filepath.Join(tmpDir, "dir1")
	err := os.Mkdir(dir1, 0755)
	if err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	first := `package custom.first

import rego.v1

deny contains msg if {
	input.document.environment == "sandbox"
	msg := "sandbox documents are not deployable"
}`
	second := `package custom.second

import rego.v1

deny contains msg if {
	count(input.document.products) == 0
	msg := "empty document"
}`

	err = os.WriteFile(filepath.Join(dir1, "first.rego"), []byte(first), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	file1 := filepath.Join(tmpDir, "second.rego")
	err = os.WriteFile(file1, []byte(second), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}

	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}
}

func TestLoadBundle(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	bundleFile := filepath.Join(tmpDir, "bundle.json")

	bundle := Bundle{
		Name:        "governance-baseline",
		Version:     "1.0.0",
		Description: "Baseline governance policies",
		Policies: []Policy{
			{
				Name:        "no-sandbox",
				Description: "Sandbox documents are not deployable",
				Rego: `package baseline.sandbox

import rego.v1

deny contains msg if {
	input.document.environment == "sandbox"
	msg := "sandbox documents are not deployable"
}`,
				Severity: SeverityError,
				Enabled:  true,
			},
			{
				Name:        "non-empty",
				Description: "Documents must declare products",
				Rego: `package baseline.nonempty

import rego.v1

deny contains msg if {
	count(input.document.products) == 0
	msg := "empty document"
}`,
				Severity: SeverityWarning,
				Enabled:  true,
			},
		},
		CreatedAt: time.Now(),
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}

	err = os.WriteFile(bundleFile, data, 0644)
	if err != nil {
		t.Fatalf("Failed to write bundle file: %v", err)
	}

	loaded, err := loader.LoadBundle(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}

	if loaded.Name != bundle.Name {
		t.Errorf("Expected bundle name '%s', got '%s'", bundle.Name, loaded.Name)
	}

	if loaded.Version != bundle.Version {
		t.Errorf("Expected version '%s', got '%s'", bundle.Version, loaded.Version)
	}

	if len(loaded.Policies) != len(bundle.Policies) {
		t.Errorf("Expected %d policies, got %d", len(bundle.Policies), len(loaded.Policies))
	}
}

func TestExtractDescription(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name: "single line comment",
			content: `# Blocks sandbox deployments
package test`,
			expected: "Blocks sandbox deployments",
		},
		{
			name: "multi line comments",
			content: `# Blocks sandbox deployments
# outside office hours
package test`,
			expected: "Blocks sandbox deployments outside office hours",
		},
		{
			name: "no comments",
			content: `package test

import rego.v1

deny contains msg if {
	false
	msg := "never"
}`,
			expected: "",
		},
		{
			name: "comments with empty lines",
			content: `# First line
#
# Second line
package test`,
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := loader.extractDescription(tt.content)
			if result != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestClearCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "cached.rego")
	content := `package custom.cached

import rego.v1

deny contains msg if {
	input.document.environment == "sandbox"
	msg := "sandbox documents are not deployable"
}`
	err := os.WriteFile(policyFile, []byte(content), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()

	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_UnsupportedType(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "policy.txt")
	err := os.WriteFile(policyFile, []byte("not a policy"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = loader.loadFromFile(context.Background(), policyFile)
	if err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoadFromFile_InvalidJSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	policyFile := filepath.Join(tmpDir, "broken.json")
	err := os.WriteFile(policyFile, []byte("invalid json"), 0644)
	if err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	_, err = loader.loadFromFile(context.Background(), policyFile)
	if err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestLoadFromPath_NonExistent(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	_, err := loader.loadFromPath(context.Background(), "/nonexistent/path")
	if err == nil {
		t.Error("Expected error for non-existent path")
	}
}
