// Package openapi extracts the declared operations of OpenAPI documents in
// document order. It is not a validator: only the version, base path and
// path items feeding mapping rules are read, everything else is ignored.
package openapi

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/section6nz/3scale-sync/pkg/config"
)

// Operation is one declared (method, path) pair. Path includes the
// document's own base path but not the product public base path.
type Operation struct {
	// Method is the HTTP verb, lower case as OpenAPI declares it.
	Method string `json:"method"`

	// Path is the operation path joined with the document base path.
	Path string `json:"path"`
}

// validMethods are the path item keys that describe operations. Other keys
// (parameters, summary, servers, $ref) are not operations.
var validMethods = map[string]bool{
	"get":     true,
	"put":     true,
	"post":    true,
	"delete":  true,
	"options": true,
	"head":    true,
	"patch":   true,
	"trace":   true,
}

// Document is a parsed OpenAPI description reduced to the fields the
// mapping pipeline needs.
type Document struct {
	version    string
	basePath   string
	operations []Operation
}

// Version returns the declared swagger/openapi version string.
func (d *Document) Version() string {
	return d.version
}

// BasePath returns the document base path. Swagger 2.x documents may
// declare one; everything else defaults to "/".
func (d *Document) BasePath() string {
	return d.basePath
}

// Operations returns the declared operations in document order, paths
// joined with the base path.
func (d *Document) Operations() []Operation {
	return d.operations
}

// Parse reads an OpenAPI document from raw YAML or JSON bytes, preserving
// the order paths and methods appear in the document.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing OpenAPI document: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("empty OpenAPI document")
	}
	top := root.Content[0]

	version := scalarValue(mappingValue(top, "swagger"))
	if version == "" {
		version = scalarValue(mappingValue(top, "openapi"))
	}
	if version == "" {
		return nil, fmt.Errorf("document declares neither swagger nor openapi version")
	}

	basePath := "/"
	if strings.HasPrefix(version, "2.") {
		if bp := scalarValue(mappingValue(top, "basePath")); bp != "" {
			basePath = bp
		}
	}

	doc := &Document{
		version:  version,
		basePath: basePath,
	}

	paths := mappingValue(top, "paths")
	if paths == nil || paths.Kind != yaml.MappingNode {
		return doc, nil
	}
	for i := 0; i+1 < len(paths.Content); i += 2 {
		path := paths.Content[i].Value
		item := paths.Content[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToLower(item.Content[j].Value)
			if !validMethods[method] {
				continue
			}
			doc.operations = append(doc.operations, Operation{
				Method: method,
				Path:   joinBase(basePath, path),
			})
		}
	}
	return doc, nil
}

// ParseFile reads an OpenAPI document from a YAML or JSON file.
func ParseFile(path string) (*Document, error) {
	switch ext := filepath.Ext(path); ext {
	case ".yml", ".yaml", ".json":
	default:
		return nil, fmt.Errorf("OpenAPI document %s: unsupported extension %q, requires YAML or JSON", path, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading OpenAPI document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Load parses the named documents relative to basedir and concatenates
// their operations in file order.
func Load(basedir string, paths []string) ([]Operation, error) {
	var operations []Operation
	for _, p := range paths {
		doc, err := ParseFile(filepath.Join(basedir, p))
		if err != nil {
			return nil, err
		}
		operations = append(operations, doc.Operations()...)
	}
	return operations, nil
}

// FileReader supplies the declared operations of a product from OpenAPI
// files under a base directory.
type FileReader struct {
	// Basedir is the directory the product's openAPIPath entries are
	// relative to.
	Basedir string
}

// Operations loads the product's OpenAPI documents and concatenates their
// operations in the order the product declares the documents. Products
// without OpenAPI documents yield no operations.
func (r *FileReader) Operations(product *config.Product) ([]Operation, error) {
	if len(product.OpenAPIPath) == 0 {
		return nil, nil
	}
	return Load(r.Basedir, product.OpenAPIPath)
}

// joinBase joins the document base path with an operation path without
// doubling slashes.
func joinBase(base, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(base, "/") + path
}

// mappingValue returns the value node of a mapping key, or nil.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// scalarValue returns the string value of a scalar node, or "".
func scalarValue(node *yaml.Node) string {
	if node == nil || node.Kind != yaml.ScalarNode {
		return ""
	}
	return node.Value
}
