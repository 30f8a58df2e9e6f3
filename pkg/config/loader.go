package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader reads declarative configuration documents from disk. Every document
// passes three gates before it is returned: the CUE document schema over the
// raw decoded data, a strict decode rejecting unknown fields, and struct tag
// validation.
type Loader struct {
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewLoader creates a new document loader.
func NewLoader() *Loader {
	return &Loader{
		schemas:   NewSchemaRegistry(),
		starlark:  NewStarlarkEvaluator(30 * time.Second),
		validator: validator.New(),
	}
}

// GetSchemaRegistry returns the schema registry used by the loader.
func (l *Loader) GetSchemaRegistry() *SchemaRegistry {
	return l.schemas
}

// Load reads documents from the explicit paths and, when dir is non-empty,
// every document discovered under it. Explicit paths keep their given order
// and load before discovered ones; a path appearing twice loads once.
func (l *Loader) Load(ctx context.Context, paths []string, dir string) ([]Document, error) {
	all := append([]string(nil), paths...)
	if dir != "" {
		discovered, err := Discover(dir)
		if err != nil {
			return nil, err
		}
		all = append(all, discovered...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("no configuration documents given")
	}

	seen := make(map[string]bool, len(all))
	docs := make([]Document, 0, len(all))
	for _, path := range all {
		clean := filepath.Clean(path)
		if seen[clean] {
			continue
		}
		seen[clean] = true

		doc, err := l.LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadFile reads a single document. YAML documents are decoded directly;
// .star documents are evaluated first and their exported globals form the
// raw document.
func (l *Loader) LoadFile(ctx context.Context, path string) (Document, error) {
	var raw interface{}
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		raw, err = l.readYAML(path)
	case ".star":
		raw, err = l.evalStarlark(ctx, path)
	default:
		return Document{}, fmt.Errorf("unsupported config extension for %s: want .yml, .yaml or .star", path)
	}
	if err != nil {
		return Document{}, err
	}
	if raw == nil {
		return Document{}, fmt.Errorf("empty configuration document: %s", path)
	}

	if err := l.schemas.ValidateDocument(ctx, raw); err != nil {
		return Document{}, fmt.Errorf("document %s: %w", path, err)
	}

	doc, err := decodeDocument(raw)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", path, err)
	}

	if err := l.validator.Struct(doc); err != nil {
		return Document{}, fmt.Errorf("invalid document %s: %w", path, err)
	}

	doc.SourceFile = path
	return doc, nil
}

// readYAML reads a YAML document into raw form.
func (l *Loader) readYAML(path string) (interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var raw interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return raw, nil
}

// evalStarlark evaluates a Starlark document script; its exported globals
// form the raw document.
func (l *Loader) evalStarlark(ctx context.Context, path string) (interface{}, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	result, err := l.starlark.Evaluate(ctx, path, string(content), nil)
	if err != nil {
		return nil, err
	}
	if len(result.Output) == 0 {
		return nil, nil
	}
	return result.Output, nil
}

// decodeDocument converts raw document data into a typed Document. The
// decode is strict: unknown fields are rejected.
func decodeDocument(raw interface{}) (Document, error) {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return Document{}, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Discover walks dir and returns every document file under it in lexical
// order. Document files end in .yml, .yaml or .star.
func Discover(dir string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yml", ".yaml", ".star":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk config directory %s: %w", dir, err)
	}
	return files, nil
}
