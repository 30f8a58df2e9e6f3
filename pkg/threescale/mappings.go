package threescale

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListMappingRules returns the mapping rules of one service in evaluation
// order.
func (c *Client) ListMappingRules(ctx context.Context, serviceID int64) ([]MappingRule, error) {
	var list mappingRuleList
	path := fmt.Sprintf("/services/%d/proxy/mapping_rules.json", serviceID)
	if err := c.getJSON(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	rules := make([]MappingRule, 0, len(list.MappingRules))
	for _, env := range list.MappingRules {
		rules = append(rules, env.MappingRule)
	}
	return rules, nil
}

// CreateMappingRule adds a mapping rule to the service. MetricID is
// required by the tenant.
func (c *Client) CreateMappingRule(ctx context.Context, serviceID int64, rule MappingRule) (*MappingRule, error) {
	form := url.Values{
		"http_method": {rule.HTTPMethod},
		"pattern":     {rule.Pattern},
		"delta":       {strconv.Itoa(rule.Delta)},
		"metric_id":   {strconv.FormatInt(rule.MetricID, 10)},
	}
	var env mappingRuleEnvelope
	path := fmt.Sprintf("/services/%d/proxy/mapping_rules.json", serviceID)
	if err := c.submitForm(ctx, "POST", path, form, &env); err != nil {
		return nil, fmt.Errorf("failed to create mapping rule %s %s: %w", rule.HTTPMethod, rule.Pattern, err)
	}
	return &env.MappingRule, nil
}

// DeleteMappingRule removes a mapping rule from the service.
func (c *Client) DeleteMappingRule(ctx context.Context, serviceID, ruleID int64) error {
	path := fmt.Sprintf("/services/%d/proxy/mapping_rules/%d.json", serviceID, ruleID)
	if err := c.delete(ctx, path); err != nil {
		return fmt.Errorf("failed to delete mapping rule %d: %w", ruleID, err)
	}
	return nil
}

// ListMetrics returns the metrics of one service.
func (c *Client) ListMetrics(ctx context.Context, serviceID int64) ([]Metric, error) {
	var list metricList
	path := fmt.Sprintf("/services/%d/metrics.json", serviceID)
	if err := c.getJSON(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	metrics := make([]Metric, 0, len(list.Metrics))
	for _, env := range list.Metrics {
		metrics = append(metrics, env.Metric)
	}
	return metrics, nil
}

// FindMetric looks a metric up by its system_name. Returns (nil, nil) when
// no metric matches.
func (c *Client) FindMetric(ctx context.Context, serviceID int64, systemName string) (*Metric, error) {
	metrics, err := c.ListMetrics(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for i := range metrics {
		if metrics[i].SystemName == systemName {
			return &metrics[i], nil
		}
	}
	return nil, nil
}
