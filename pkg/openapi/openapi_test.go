package openapi

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/section6nz/3scale-sync/pkg/config"
)

const petstoreV3 = `openapi: "3.0.0"
info:
  title: Petstore
  version: "1.0"
paths:
  /pets:
    get:
      summary: List pets
    post:
      summary: Create a pet
  /pets/{petId}:
    parameters:
      - name: petId
        in: path
    get:
      summary: Get a pet
    delete:
      summary: Remove a pet
`

const petstoreV2 = `swagger: "2.0"
info:
  title: Petstore
  version: "1.0"
basePath: /api/v2
paths:
  /pets:
    get: {}
  /status:
    get: {}
`

func TestParse_V3OperationsInDocumentOrder(t *testing.T) {
	doc, err := Parse([]byte(petstoreV3))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Version() != "3.0.0" {
		t.Errorf("Expected version 3.0.0, got %s", doc.Version())
	}
	if doc.BasePath() != "/" {
		t.Errorf("Expected base path /, got %s", doc.BasePath())
	}

	want := []Operation{
		{Method: "get", Path: "/pets"},
		{Method: "post", Path: "/pets"},
		{Method: "get", Path: "/pets/{petId}"},
		{Method: "delete", Path: "/pets/{petId}"},
	}
	if got := doc.Operations(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParse_V2BasePathJoined(t *testing.T) {
	doc, err := Parse([]byte(petstoreV2))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.BasePath() != "/api/v2" {
		t.Errorf("Expected base path /api/v2, got %s", doc.BasePath())
	}

	want := []Operation{
		{Method: "get", Path: "/api/v2/pets"},
		{Method: "get", Path: "/api/v2/status"},
	}
	if got := doc.Operations(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParse_SkipsNonOperationKeys(t *testing.T) {
	doc, err := Parse([]byte(`openapi: "3.1.0"
paths:
  /pets:
    summary: Pets
    servers:
      - url: https://example.com
    get: {}
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got := doc.Operations(); len(got) != 1 || got[0].Method != "get" {
		t.Errorf("Expected only the get operation, got %v", got)
	}
}

func TestParse_JSONDocument(t *testing.T) {
	doc, err := Parse([]byte(`{"openapi": "3.0.1", "paths": {"/pets": {"get": {}}}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := []Operation{{Method: "get", Path: "/pets"}}
	if got := doc.Operations(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestParse_MissingVersion(t *testing.T) {
	if _, err := Parse([]byte("info:\n  title: No version\n")); err == nil {
		t.Error("Expected an error for a document without a version")
	}
}

func TestParse_NoPaths(t *testing.T) {
	doc, err := Parse([]byte(`openapi: "3.0.0"`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(doc.Operations()) != 0 {
		t.Errorf("Expected no operations, got %v", doc.Operations())
	}
}

func TestParseFile_RejectsUnsupportedExtension(t *testing.T) {
	if _, err := ParseFile("spec.txt"); err == nil {
		t.Error("Expected an error for an unsupported extension")
	}
}

func TestLoad_ConcatenatesInFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yml", petstoreV2)
	writeSpec(t, dir, "b.yaml", petstoreV3)

	got, err := Load(dir, []string{"a.yml", "b.yaml"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("Expected 6 operations, got %d", len(got))
	}
	if got[0].Path != "/api/v2/pets" || got[2].Path != "/pets" {
		t.Errorf("Expected file order preserved, got %v", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(t.TempDir(), []string{"absent.yml"}); err == nil {
		t.Error("Expected an error for a missing document")
	}
}

func TestFileReader_Operations(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "petstore.yml", petstoreV3)
	reader := &FileReader{Basedir: dir}

	product := &config.Product{
		ShortName:   "petstore",
		OpenAPIPath: config.PathList{"petstore.yml"},
	}

	got, err := reader.Operations(product)
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("Expected 4 operations, got %d", len(got))
	}
}

func TestFileReader_NoDocuments(t *testing.T) {
	reader := &FileReader{Basedir: t.TempDir()}

	got, err := reader.Operations(&config.Product{ShortName: "bare"})
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected no operations, got %v", got)
	}
}

func writeSpec(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Writing %s failed: %v", name, err)
	}
}
