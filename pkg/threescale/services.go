package threescale

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListServices returns every service on the tenant, following pagination.
func (c *Client) ListServices(ctx context.Context) ([]Service, error) {
	var services []Service
	for page := 1; ; page++ {
		var list serviceList
		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(listPageSize)},
		}
		if err := c.getJSON(ctx, "/services.json", query, &list); err != nil {
			return nil, err
		}
		for _, env := range list.Services {
			services = append(services, env.Service)
		}
		if len(list.Services) < listPageSize {
			return services, nil
		}
	}
}

// FindService looks a service up by its system_name. Returns (nil, nil)
// when no service matches.
func (c *Client) FindService(ctx context.Context, systemName string) (*Service, error) {
	services, err := c.ListServices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range services {
		if services[i].SystemName == systemName {
			return &services[i], nil
		}
	}
	return nil, nil
}

// CreateService creates a service. DeploymentOption defaults to
// self_managed when the upsert leaves it empty.
func (c *Client) CreateService(ctx context.Context, upsert ServiceUpsert) (*Service, error) {
	if upsert.DeploymentOption == "" {
		upsert.DeploymentOption = "self_managed"
	}
	form := url.Values{
		"name":              {upsert.Name},
		"system_name":       {upsert.SystemName},
		"description":       {upsert.Description},
		"deployment_option": {upsert.DeploymentOption},
		"backend_version":   {upsert.BackendVersion},
	}
	var env serviceEnvelope
	if err := c.submitForm(ctx, "POST", "/services.json", form, &env); err != nil {
		return nil, fmt.Errorf("failed to create service %q: %w", upsert.SystemName, err)
	}
	return &env.Service, nil
}

// UpdateService updates the non-empty fields of the upsert on the service.
func (c *Client) UpdateService(ctx context.Context, serviceID int64, upsert ServiceUpsert) (*Service, error) {
	form := url.Values{
		"name":            {upsert.Name},
		"description":     {upsert.Description},
		"backend_version": {upsert.BackendVersion},
	}
	var env serviceEnvelope
	path := fmt.Sprintf("/services/%d.json", serviceID)
	if err := c.submitForm(ctx, "PUT", path, form, &env); err != nil {
		return nil, fmt.Errorf("failed to update service %d: %w", serviceID, err)
	}
	return &env.Service, nil
}

// DeleteService removes the service.
func (c *Client) DeleteService(ctx context.Context, serviceID int64) error {
	if err := c.delete(ctx, fmt.Sprintf("/services/%d.json", serviceID)); err != nil {
		return fmt.Errorf("failed to delete service %d: %w", serviceID, err)
	}
	return nil
}
