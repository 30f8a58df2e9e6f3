package engine

import (
	"strings"

	"github.com/section6nz/3scale-sync/pkg/config"
	"github.com/section6nz/3scale-sync/pkg/openapi"
)

// HitsMetric is the metric mapping rules attach to when no override is
// declared.
const HitsMetric = "hits"

// DesiredMapping is one canonical mapping rule bound for the gateway.
type DesiredMapping struct {
	// Method is the upper-cased HTTP verb.
	Method string `json:"method"`

	// Pattern is the full path pattern, prefixed with the product public
	// base path. Derived patterns carry a '$' anchor.
	Pattern string `json:"pattern"`

	// Metric is the system_name of the metric the rule increments.
	Metric string `json:"metric"`

	// Delta is the hit increment per matched request.
	Delta int `json:"delta"`
}

// MergeMappings builds the canonical ordered rule list for one product.
// OpenAPI-derived operations come first, in document order, upper-cased
// and anchored with '$'; explicit mappings follow in declaration order
// with their patterns passed through as declared. Both sides are prefixed
// with the public base path. No duplicate suppression happens: the gateway
// evaluates rules first match wins, so the order itself is the contract.
func MergeMappings(publicBasePath string, operations []openapi.Operation, explicit []config.Mapping) []DesiredMapping {
	rules := make([]DesiredMapping, 0, len(operations)+len(explicit))

	for _, op := range operations {
		rules = append(rules, DesiredMapping{
			Method:  strings.ToUpper(op.Method),
			Pattern: joinBasePath(publicBasePath, op.Path) + "$",
			Metric:  HitsMetric,
			Delta:   1,
		})
	}

	for _, m := range explicit {
		metric := m.Metric
		if metric == "" {
			metric = HitsMetric
		}
		rules = append(rules, DesiredMapping{
			Method:  strings.ToUpper(m.Method),
			Pattern: joinBasePath(publicBasePath, m.Pattern),
			Metric:  metric,
			Delta:   1,
		})
	}

	return rules
}

// joinBasePath prefixes a pattern with the public base path without
// doubling slashes.
func joinBasePath(base, pattern string) string {
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	return strings.TrimSuffix(base, "/") + pattern
}
