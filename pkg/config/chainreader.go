package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ChainFileReader loads product policy chains from files under a base
// directory. Chain files are ordered lists of entries, in YAML or JSON. A
// product without a policiesPath keeps the tenant default chain.
type ChainFileReader struct {
	basedir           string
	validationBasedir string
	schemas           *SchemaRegistry
}

// NewChainFileReader creates a reader resolving chain files against basedir
// and validationSchema references against validationBasedir.
func NewChainFileReader(basedir, validationBasedir string) *ChainFileReader {
	return &ChainFileReader{
		basedir:           basedir,
		validationBasedir: validationBasedir,
		schemas:           NewSchemaRegistry(),
	}
}

// Chain returns the declared policy chain of the product, or (nil, nil)
// when the product declares no chain file. Entries omitting "enabled" are
// enabled.
func (r *ChainFileReader) Chain(product *Product) ([]PolicyChainEntry, error) {
	if product.PoliciesPath == "" {
		return nil, nil
	}

	path := filepath.Join(r.basedir, product.PoliciesPath)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy chain %s: %w", path, err)
	}

	var raw interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy chain %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("empty policy chain file: %s", path)
	}

	if err := r.schemas.ValidatePolicyChain(context.Background(), raw); err != nil {
		return nil, fmt.Errorf("policy chain %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var entries []PolicyChainEntry
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode policy chain %s: %w", path, err)
	}

	applyEnabledDefault(raw, entries)

	for i := range entries {
		if err := r.validateConfiguration(path, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// validateConfiguration enforces an entry's referenced JSON schema over its
// configuration payload.
func (r *ChainFileReader) validateConfiguration(chainPath string, entry *PolicyChainEntry) error {
	if entry.ValidationSchema == "" {
		return nil
	}

	schemaPath := filepath.Join(r.validationBasedir, entry.ValidationSchema)
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read validation schema %s: %w", schemaPath, err)
	}

	cfg := entry.Configuration
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	if err := r.schemas.ValidateWithJSONSchema(context.Background(), schemaPath, schema, cfg); err != nil {
		return fmt.Errorf("policy %s in %s: %w", entry.Name, chainPath, err)
	}
	return nil
}

// applyEnabledDefault turns entries that omit the "enabled" key on. The
// typed decode cannot tell an absent key from an explicit false, so the raw
// data decides.
func applyEnabledDefault(raw interface{}, entries []PolicyChainEntry) {
	list, ok := raw.([]interface{})
	if !ok {
		return
	}
	for i := range entries {
		if i >= len(list) {
			return
		}
		item, ok := list[i].(map[string]interface{})
		if !ok {
			continue
		}
		if _, present := item["enabled"]; !present {
			entries[i].Enabled = true
		}
	}
}
