// Package config loads and validates the declarative configuration documents
// that drive tenant synchronization.
//
// # Overview
//
// A configuration document declares an environment label and the API products
// to hold a tenant to: their OpenAPI sources, gateway authentication,
// upstream backends, consumer applications, explicit mapping rules and
// policy chains. The config package turns files on disk into validated
// Document values; interpreting them against a live tenant is the engine's
// job.
//
// # Features
//
//   - YAML document loading with recursive directory discovery
//   - Starlark document generation from .star scripts
//   - CUE schema validation of raw documents before decoding
//   - Strict decoding that rejects unknown fields
//   - Struct tag validation of decoded documents
//   - Policy chain file loading with JSON Schema enforcement
//   - Filesystem watching for configuration changes
//
// # Components
//
// Loader: Reads documents from explicit paths or a discovered directory
// tree. Every document passes three gates: the CUE document schema over the
// raw data, a strict decode, and struct tag validation.
//
// SchemaRegistry: Manages CUE schemas. Built-in schemas cover documents and
// policy chain files; JSON Schema documents referenced by chain entries are
// translated to CUE constraints and enforced the same way.
//
// StarlarkEvaluator: Safe Starlark execution with timeout enforcement and
// sandboxing. A .star configuration exports its document as module globals.
//
// ChainFileReader: Loads product policy chain files (YAML or JSON) and
// enforces any validationSchema references against the entry configuration.
//
// Watcher: Debounced fsnotify watching of configuration paths, used by the
// sync command's watch mode.
//
// # Usage Example
//
//	loader := config.NewLoader()
//
//	docs, err := loader.Load(ctx, []string{"petstore.yml"}, "configs/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chains := config.NewChainFileReader("policies/", "validation/")
//	entries, err := chains.Chain(&docs[0].Products[0])
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Document Structure
//
// A typical document:
//
//	environment: dev
//	products:
//	  - name: Petstore
//	    shortName: petstore
//	    version: 1
//	    openAPIPath: petstore.yml
//	    policiesPath: petstore-chain.yml
//	    api:
//	      publicBasePath: /petstore/v1
//	      authentication:
//	        authType: oidc
//	        issuerURL: https://sso.example.com/auth/realms/dev
//	        issuerType: keycloak
//	        credentialsLocation: headers
//	    backends:
//	      - id: petstore-api
//	        privateBaseURL: https://petstore.internal:8443
//	        path: /
//	    applications:
//	      - name: petstore-consumer
//	        account: platform
//
// # Starlark Documents
//
// A .star file builds the same structure procedurally; its exported globals
// form the document:
//
//	environment = "dev"
//
//	def _product(i):
//	    return {
//	        "name": "Service " + str(i),
//	        "shortName": "service-" + str(i),
//	        "version": 1,
//	        "api": {
//	            "publicBasePath": "/service-" + str(i) + "/v1",
//	            "authentication": {"authType": "app_key"},
//	        },
//	    }
//
//	products = [_product(i) for i in range(3)]
//
// Underscore-prefixed globals and functions stay private to the script.
//
// # Security
//
// Starlark execution is sandboxed:
//   - No filesystem access
//   - No network access
//   - Timeout enforcement (default 30 seconds)
//   - Print statements suppressed
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package config
