package threescale

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListBackends returns every backend on the tenant, following pagination.
func (c *Client) ListBackends(ctx context.Context) ([]BackendAPI, error) {
	var backends []BackendAPI
	for page := 1; ; page++ {
		var list backendList
		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(listPageSize)},
		}
		if err := c.getJSON(ctx, "/backend_apis.json", query, &list); err != nil {
			return nil, err
		}
		for _, env := range list.Backends {
			backends = append(backends, env.BackendAPI)
		}
		if len(list.Backends) < listPageSize {
			return backends, nil
		}
	}
}

// FindBackend looks a backend up by its system_name. Returns (nil, nil)
// when no backend matches.
func (c *Client) FindBackend(ctx context.Context, systemName string) (*BackendAPI, error) {
	backends, err := c.ListBackends(ctx)
	if err != nil {
		return nil, err
	}
	for i := range backends {
		if backends[i].SystemName == systemName {
			return &backends[i], nil
		}
	}
	return nil, nil
}

// GetBackend fetches one backend by its tenant ID. Returns (nil, nil) when
// the backend does not exist.
func (c *Client) GetBackend(ctx context.Context, backendID int64) (*BackendAPI, error) {
	var env backendEnvelope
	path := fmt.Sprintf("/backend_apis/%d.json", backendID)
	if err := c.getJSON(ctx, path, nil, &env); err != nil {
		if IsStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	return &env.BackendAPI, nil
}

// CreateBackend creates a backend.
func (c *Client) CreateBackend(ctx context.Context, upsert BackendUpsert) (*BackendAPI, error) {
	form := url.Values{
		"name":             {upsert.Name},
		"system_name":      {upsert.SystemName},
		"description":      {upsert.Description},
		"private_endpoint": {upsert.PrivateEndpoint},
	}
	var env backendEnvelope
	if err := c.submitForm(ctx, "POST", "/backend_apis.json", form, &env); err != nil {
		return nil, fmt.Errorf("failed to create backend %q: %w", upsert.SystemName, err)
	}
	return &env.BackendAPI, nil
}

// UpdateBackend updates the non-empty fields of the upsert on the backend.
func (c *Client) UpdateBackend(ctx context.Context, backendID int64, upsert BackendUpsert) (*BackendAPI, error) {
	form := url.Values{
		"name":             {upsert.Name},
		"description":      {upsert.Description},
		"private_endpoint": {upsert.PrivateEndpoint},
	}
	var env backendEnvelope
	path := fmt.Sprintf("/backend_apis/%d.json", backendID)
	if err := c.submitForm(ctx, "PUT", path, form, &env); err != nil {
		return nil, fmt.Errorf("failed to update backend %d: %w", backendID, err)
	}
	return &env.BackendAPI, nil
}

// DeleteBackend removes the backend. Backends still linked to a service
// must have their usages deleted first.
func (c *Client) DeleteBackend(ctx context.Context, backendID int64) error {
	if err := c.delete(ctx, fmt.Sprintf("/backend_apis/%d.json", backendID)); err != nil {
		return fmt.Errorf("failed to delete backend %d: %w", backendID, err)
	}
	return nil
}

// ListBackendUsages returns the backend links of one service.
func (c *Client) ListBackendUsages(ctx context.Context, serviceID int64) ([]BackendUsage, error) {
	var envelopes []backendUsageEnvelope
	path := fmt.Sprintf("/services/%d/backend_usages.json", serviceID)
	if err := c.getJSON(ctx, path, nil, &envelopes); err != nil {
		return nil, err
	}
	usages := make([]BackendUsage, 0, len(envelopes))
	for _, env := range envelopes {
		usages = append(usages, env.BackendUsage)
	}
	return usages, nil
}

// CreateBackendUsage links a backend into a service under the given path.
func (c *Client) CreateBackendUsage(ctx context.Context, serviceID, backendID int64, path string) (*BackendUsage, error) {
	form := url.Values{
		"backend_api_id": {strconv.FormatInt(backendID, 10)},
		"path":           {path},
	}
	var env backendUsageEnvelope
	apiPath := fmt.Sprintf("/services/%d/backend_usages.json", serviceID)
	if err := c.submitForm(ctx, "POST", apiPath, form, &env); err != nil {
		return nil, fmt.Errorf("failed to link backend %d to service %d: %w", backendID, serviceID, err)
	}
	return &env.BackendUsage, nil
}

// UpdateBackendUsage changes the mount path of an existing backend link.
func (c *Client) UpdateBackendUsage(ctx context.Context, serviceID, usageID int64, path string) (*BackendUsage, error) {
	form := url.Values{"path": {path}}
	var env backendUsageEnvelope
	apiPath := fmt.Sprintf("/services/%d/backend_usages/%d.json", serviceID, usageID)
	if err := c.submitForm(ctx, "PUT", apiPath, form, &env); err != nil {
		return nil, fmt.Errorf("failed to update backend usage %d on service %d: %w", usageID, serviceID, err)
	}
	return &env.BackendUsage, nil
}

// DeleteBackendUsage unlinks a backend from a service.
func (c *Client) DeleteBackendUsage(ctx context.Context, serviceID, usageID int64) error {
	path := fmt.Sprintf("/services/%d/backend_usages/%d.json", serviceID, usageID)
	if err := c.delete(ctx, path); err != nil {
		return fmt.Errorf("failed to delete backend usage %d on service %d: %w", usageID, serviceID, err)
	}
	return nil
}
