package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/jsonschema"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	ctx := cuecontext.New()
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	// Register built-in schemas
	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	// Register document schema
	sr.RegisterSchema("document", builtinDocumentSchema)

	// Register policy chain schema
	sr.RegisterSchema("policy_chain", builtinPolicyChainSchema)
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// Convert data to CUE value
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateWithJSONSchema validates data against a JSON Schema document. The
// schema is translated to CUE constraints and enforced by unification.
func (sr *SchemaRegistry) ValidateWithJSONSchema(ctx context.Context, name string, schema []byte, data interface{}) error {
	schemaVal := sr.ctx.CompileBytes(schema, cue.Filename(name))
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	file, err := jsonschema.Extract(schemaVal, &jsonschema.Config{})
	if err != nil {
		return fmt.Errorf("failed to translate schema %s: %w", name, err)
	}

	constraint := sr.ctx.BuildFile(file)
	if err := constraint.Err(); err != nil {
		return fmt.Errorf("failed to build schema %s: %w", name, err)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := constraint.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinDocumentSchema = `
// Document schema for declarative tenant configuration files
environment: string & !=""
products: [#Product, ...#Product]

#Product: {
	// Name is the display name of the product
	name: string & !=""

	// ShortName derives the remote system_name
	shortName: string & !=""

	// Description is optional free text
	description?: string

	// Version numbers the product release
	version: int & >=1

	// Public endpoint overrides
	stagingPublicURL?:    string
	productionPublicURL?: string

	// OpenAPI documents feeding derived mapping rules
	openAPIPath?: string | [...string]

	// Policy chain file relative to the policies base directory
	policiesPath?: string

	api: #API

	backends?: [...#Backend]
	applications?: [...#Application]
	mappings?: [...#Mapping]
}

#API: {
	// PublicBasePath prefixes every mapping rule pattern
	publicBasePath: string & =~"^/"

	authentication: #Authentication
}

#Authentication: {
	authType: "app_key" | "app_id_key" | "oauth" | "oidc"

	issuerURL?:  string
	issuerType?: "keycloak" | "rest"

	credentialsLocation?: "headers" | "query" | "authorization"

	oidcFlows?: {
		standardFlow?:       bool
		implicitFlow?:       bool
		serviceAccounts?:    bool
		directAccessGrants?: bool
	}
}

#Backend: {
	// ID is the batch-wide backend identity
	id: string & !=""

	// PrivateBaseURL is absent on reference entries
	privateBaseURL?: string

	// Path mounts the backend in the product
	path: string & =~"^/"
}

#Application: {
	name?: string

	// Account the application is registered under
	account: string & !=""

	client_id?:     string
	client_secret?: string
	description?:   string
}

#Mapping: {
	method:  "GET" | "PUT" | "POST" | "DELETE" | "OPTIONS" | "HEAD" | "PATCH" | "TRACE"
	pattern: string & !=""
	metric?: string
}
`

const builtinPolicyChainSchema = `
// Policy chain schema: a chain file is an ordered list of entries
[...#Entry]

#Entry: {
	// Name is the policy name, e.g. "apicast" or "headers"
	name: string & !=""

	// Version is the policy version, "builtin" for gateway built-ins
	version: string & !=""

	// Configuration is the policy-specific payload. An empty YAML key
	// decodes as null.
	configuration?: null | {...}

	enabled?: bool

	// ValidationSchema names a JSON Schema file for Configuration
	validationSchema?: string
}
`

// ValidateDocument validates raw decoded document data against the document
// schema.
func (sr *SchemaRegistry) ValidateDocument(ctx context.Context, data interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "document", data)
}

// ValidatePolicyChain validates raw decoded policy chain data against the
// policy chain schema.
func (sr *SchemaRegistry) ValidatePolicyChain(ctx context.Context, data interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "policy_chain", data)
}
