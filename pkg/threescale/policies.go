package threescale

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// PolicyEntry is one entry of a service policy chain on the wire.
type PolicyEntry struct {
	// Name is the policy name, e.g. "apicast".
	Name string `json:"name"`

	// Version is the policy version, "builtin" for gateway built-ins.
	Version string `json:"version"`

	// Configuration is the policy payload, passed through opaque.
	Configuration map[string]interface{} `json:"configuration"`

	// Enabled toggles the entry without removing it from the chain.
	Enabled bool `json:"enabled"`
}

type policiesConfigEnvelope struct {
	PoliciesConfig []PolicyEntry `json:"policies_config"`
}

// FetchPolicyChain returns the policy chain of one service in evaluation
// order.
func (c *Client) FetchPolicyChain(ctx context.Context, serviceID int64) ([]PolicyEntry, error) {
	var env policiesConfigEnvelope
	path := fmt.Sprintf("/services/%d/proxy/policies.json", serviceID)
	if err := c.getJSON(ctx, path, nil, &env); err != nil {
		return nil, fmt.Errorf("failed to fetch policy chain for service %d: %w", serviceID, err)
	}
	return env.PoliciesConfig, nil
}

// UpdatePolicyChain replaces the whole policy chain of one service. The
// chain is serialized as one policies_config JSON document, so ordering is
// preserved exactly as given.
func (c *Client) UpdatePolicyChain(ctx context.Context, serviceID int64, chain []PolicyEntry) error {
	payload, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("failed to encode policy chain: %w", err)
	}
	form := url.Values{
		"policies_config": {string(payload)},
	}
	path := fmt.Sprintf("/services/%d/proxy/policies.json", serviceID)
	if err := c.submitForm(ctx, "PUT", path, form, nil); err != nil {
		return fmt.Errorf("failed to update policy chain for service %d: %w", serviceID, err)
	}
	return nil
}
