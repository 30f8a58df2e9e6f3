package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", name, err)
	}
	return path
}

func minimalYAML(shortName string) string {
	return fmt.Sprintf(`environment: dev
products:
  - name: %s
    shortName: %s
    version: 1
    api:
      publicBasePath: /%s/v1
      authentication:
        authType: app_key
`, shortName, shortName, shortName)
}

func TestLoader_LoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "petstore.yml", `environment: dev
products:
  - name: Petstore
    shortName: petstore
    version: 2
    openAPIPath: petstore.yml
    policiesPath: petstore-chain.yml
    api:
      publicBasePath: /petstore/v1
      authentication:
        authType: oidc
        issuerURL: https://sso.example.com/auth/realms/dev
        issuerType: keycloak
        credentialsLocation: headers
        oidcFlows:
          serviceAccounts: true
    backends:
      - id: petstore-api
        privateBaseURL: https://petstore.internal:8443
        path: /
    applications:
      - name: petstore-consumer
        account: platform
        client_id: petstore-client
    mappings:
      - method: GET
        pattern: /status
`)

	loader := NewLoader()
	doc, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Environment != "dev" {
		t.Errorf("expected environment dev, got %s", doc.Environment)
	}
	if doc.SourceFile != path {
		t.Errorf("expected source file %s, got %s", path, doc.SourceFile)
	}
	if len(doc.Products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(doc.Products))
	}

	product := doc.Products[0]
	if product.ShortName != "petstore" {
		t.Errorf("expected shortName petstore, got %s", product.ShortName)
	}
	if product.Version != 2 {
		t.Errorf("expected version 2, got %d", product.Version)
	}
	if len(product.OpenAPIPath) != 1 || product.OpenAPIPath[0] != "petstore.yml" {
		t.Errorf("unexpected openAPIPath: %v", product.OpenAPIPath)
	}
	if product.API.Authentication.AuthType != AuthTypeOIDC {
		t.Errorf("expected oidc auth, got %s", product.API.Authentication.AuthType)
	}
	if product.API.Authentication.OIDCFlows == nil || !product.API.Authentication.OIDCFlows.ServiceAccounts {
		t.Error("expected serviceAccounts flow enabled")
	}
	if len(product.Backends) != 1 || !product.Backends[0].Declared() {
		t.Errorf("unexpected backends: %+v", product.Backends)
	}
	if len(product.Applications) != 1 || product.Applications[0].Key() != "petstore-client" {
		t.Errorf("unexpected applications: %+v", product.Applications)
	}
}

func TestLoader_LoadFile_OpenAPIPathList(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "multi.yml", `environment: dev
products:
  - name: Petstore
    shortName: petstore
    version: 1
    openAPIPath:
      - pets.yml
      - store.yml
    api:
      publicBasePath: /petstore/v1
      authentication:
        authType: app_key
`)

	loader := NewLoader()
	doc, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := doc.Products[0].OpenAPIPath
	if len(got) != 2 || got[0] != "pets.yml" || got[1] != "store.yml" {
		t.Errorf("unexpected openAPIPath: %v", got)
	}
}

func TestLoader_LoadFile_Starlark(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "generated.star", `
environment = "dev"

def _product(i):
    return {
        "name": "Service " + str(i),
        "shortName": "service-" + str(i),
        "version": 1,
        "openAPIPath": ["service-" + str(i) + ".yml"],
        "api": {
            "publicBasePath": "/service-" + str(i) + "/v1",
            "authentication": {"authType": "app_key"},
        },
    }

products = [_product(i) for i in range(2)]
`)

	loader := NewLoader()
	doc, err := loader.LoadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Environment != "dev" {
		t.Errorf("expected environment dev, got %s", doc.Environment)
	}
	if doc.SourceFile != path {
		t.Errorf("expected source file %s, got %s", path, doc.SourceFile)
	}
	if len(doc.Products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(doc.Products))
	}
	if doc.Products[0].ShortName != "service-0" || doc.Products[1].ShortName != "service-1" {
		t.Errorf("unexpected products: %s, %s", doc.Products[0].ShortName, doc.Products[1].ShortName)
	}
	if len(doc.Products[1].OpenAPIPath) != 1 || doc.Products[1].OpenAPIPath[0] != "service-1.yml" {
		t.Errorf("unexpected openAPIPath: %v", doc.Products[1].OpenAPIPath)
	}
}

func TestLoader_LoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()
	ctx := context.Background()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "unknown top-level key",
			file: "topkey.yml",
			content: minimalYAML("alpha") + `extraKey: true
`,
		},
		{
			name: "unknown product key",
			file: "prodkey.yml",
			content: `environment: dev
products:
  - name: Alpha
    shortName: alpha
    version: 1
    colour: blue
    api:
      publicBasePath: /alpha/v1
      authentication:
        authType: app_key
`,
		},
		{
			name: "oidc without issuer",
			file: "noissuer.yml",
			content: `environment: dev
products:
  - name: Alpha
    shortName: alpha
    version: 1
    api:
      publicBasePath: /alpha/v1
      authentication:
        authType: oidc
`,
		},
		{
			name: "invalid staging url",
			file: "badurl.yml",
			content: `environment: dev
products:
  - name: Alpha
    shortName: alpha
    version: 1
    stagingPublicURL: notaurl
    api:
      publicBasePath: /alpha/v1
      authentication:
        authType: app_key
`,
		},
		{
			name:    "empty document",
			file:    "empty.yml",
			content: "",
		},
		{
			name:    "broken yaml",
			file:    "broken.yml",
			content: "environment: [dev\n",
		},
		{
			name:    "starlark syntax error",
			file:    "broken.star",
			content: "environment = =\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, dir, tt.file, tt.content)
			if _, err := loader.LoadFile(ctx, path); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestLoader_LoadFile_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.txt", "environment: dev\n")

	loader := NewLoader()
	if _, err := loader.LoadFile(context.Background(), path); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestLoader_LoadFile_MissingFile(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.LoadFile(context.Background(), filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoader_Load_ExplicitAndDiscovered(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, "configs")
	writeConfig(t, configDir, "a.yml", minimalYAML("alpha"))
	writeConfig(t, configDir, "nested/b.yaml", minimalYAML("beta"))
	writeConfig(t, configDir, "notes.txt", "not a document")
	explicit := writeConfig(t, dir, "explicit.yml", minimalYAML("gamma"))

	loader := NewLoader()
	docs, err := loader.Load(context.Background(), []string{explicit}, configDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var order []string
	for _, doc := range docs {
		order = append(order, doc.Products[0].ShortName)
	}

	want := []string{"gamma", "alpha", "beta"}
	if len(order) != len(want) {
		t.Fatalf("expected %d documents, got %d (%v)", len(want), len(order), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("document %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestLoader_Load_DeduplicatesPaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "a.yml", minimalYAML("alpha"))

	loader := NewLoader()
	docs, err := loader.Load(context.Background(), []string{path, path}, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(docs) != 1 {
		t.Errorf("expected 1 document, got %d", len(docs))
	}
}

func TestLoader_Load_NoSources(t *testing.T) {
	loader := NewLoader()
	if _, err := loader.Load(context.Background(), nil, ""); err == nil {
		t.Error("expected error when no sources are given")
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yml", "x")
	writeConfig(t, dir, "c.star", "x")
	writeConfig(t, dir, "nested/b.yaml", "x")
	writeConfig(t, dir, "notes.txt", "x")
	writeConfig(t, dir, "README.md", "x")

	files, err := Discover(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.yml"),
		filepath.Join(dir, "c.star"),
		filepath.Join(dir, "nested", "b.yaml"),
	}
	if len(files) != len(want) {
		t.Fatalf("expected %d files, got %d (%v)", len(want), len(files), files)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d: expected %s, got %s", i, want[i], files[i])
		}
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	if _, err := Discover(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing directory")
	}
}
