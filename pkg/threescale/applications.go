package threescale

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListApplications returns the applications registered under one account.
func (c *Client) ListApplications(ctx context.Context, accountID int64) ([]Application, error) {
	var list applicationList
	path := fmt.Sprintf("/accounts/%d/applications.json", accountID)
	if err := c.getJSON(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	apps := make([]Application, 0, len(list.Applications))
	for _, env := range list.Applications {
		apps = append(apps, env.Application)
	}
	return apps, nil
}

// ListAllApplications returns the applications of every account on the
// tenant.
func (c *Client) ListAllApplications(ctx context.Context) ([]Application, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	var all []Application
	for _, account := range accounts {
		apps, err := c.ListApplications(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list applications for account %d: %w", account.ID, err)
		}
		all = append(all, apps...)
	}
	return all, nil
}

// FindApplication looks an application up under one account, by client_id
// first and name second. Returns (nil, nil) when no application matches.
func (c *Client) FindApplication(ctx context.Context, accountID int64, clientID, name string) (*Application, error) {
	apps, err := c.ListApplications(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if clientID != "" {
		for i := range apps {
			if apps[i].ClientID == clientID {
				return &apps[i], nil
			}
		}
	}
	if name != "" {
		for i := range apps {
			if apps[i].Name == name {
				return &apps[i], nil
			}
		}
	}
	return nil, nil
}

// CreateApplication registers an application under the account, subscribed
// to the given plan. ClientID and ClientSecret map to the wire fields
// application_id and application_key.
func (c *Client) CreateApplication(ctx context.Context, accountID int64, upsert ApplicationUpsert) (*Application, error) {
	form := url.Values{
		"plan_id":         {strconv.FormatInt(upsert.PlanID, 10)},
		"name":            {upsert.Name},
		"description":     {upsert.Description},
		"application_id":  {upsert.ClientID},
		"application_key": {upsert.ClientSecret},
		"redirect_url":    {upsert.RedirectURL},
	}
	var env applicationEnvelope
	path := fmt.Sprintf("/accounts/%d/applications.json", accountID)
	if err := c.submitForm(ctx, "POST", path, form, &env); err != nil {
		return nil, fmt.Errorf("failed to create application %q: %w", upsert.Name, err)
	}
	return &env.Application, nil
}

// UpdateApplication updates the non-empty fields of the upsert on the
// application.
func (c *Client) UpdateApplication(ctx context.Context, accountID, applicationID int64, upsert ApplicationUpsert) (*Application, error) {
	form := url.Values{
		"name":        {upsert.Name},
		"description": {upsert.Description},
	}
	if upsert.PlanID != 0 {
		form.Set("plan_id", strconv.FormatInt(upsert.PlanID, 10))
	}
	var env applicationEnvelope
	path := fmt.Sprintf("/accounts/%d/applications/%d.json", accountID, applicationID)
	if err := c.submitForm(ctx, "PUT", path, form, &env); err != nil {
		return nil, fmt.Errorf("failed to update application %d: %w", applicationID, err)
	}
	return &env.Application, nil
}

// DeleteApplication removes the application.
func (c *Client) DeleteApplication(ctx context.Context, accountID, applicationID int64) error {
	path := fmt.Sprintf("/accounts/%d/applications/%d.json", accountID, applicationID)
	if err := c.delete(ctx, path); err != nil {
		return fmt.Errorf("failed to delete application %d: %w", applicationID, err)
	}
	return nil
}

// ListApplicationPlans returns the plans of one service.
func (c *Client) ListApplicationPlans(ctx context.Context, serviceID int64) ([]ApplicationPlan, error) {
	var list applicationPlanList
	path := fmt.Sprintf("/services/%d/application_plans.json", serviceID)
	if err := c.getJSON(ctx, path, nil, &list); err != nil {
		return nil, err
	}
	plans := make([]ApplicationPlan, 0, len(list.Plans))
	for _, env := range list.Plans {
		plans = append(plans, env.ApplicationPlan)
	}
	return plans, nil
}

// FindApplicationPlan looks a plan up by its system_name. Returns
// (nil, nil) when no plan matches.
func (c *Client) FindApplicationPlan(ctx context.Context, serviceID int64, systemName string) (*ApplicationPlan, error) {
	plans, err := c.ListApplicationPlans(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].SystemName == systemName {
			return &plans[i], nil
		}
	}
	return nil, nil
}

// CreateApplicationPlan creates a plan on the service.
func (c *Client) CreateApplicationPlan(ctx context.Context, serviceID int64, name, systemName string) (*ApplicationPlan, error) {
	form := url.Values{
		"name":        {name},
		"system_name": {systemName},
	}
	var env applicationPlanEnvelope
	path := fmt.Sprintf("/services/%d/application_plans.json", serviceID)
	if err := c.submitForm(ctx, "POST", path, form, &env); err != nil {
		return nil, fmt.Errorf("failed to create application plan %q: %w", name, err)
	}
	return &env.ApplicationPlan, nil
}

// DeleteApplicationPlan removes the plan from the service.
func (c *Client) DeleteApplicationPlan(ctx context.Context, serviceID, planID int64) error {
	path := fmt.Sprintf("/services/%d/application_plans/%d.json", serviceID, planID)
	if err := c.delete(ctx, path); err != nil {
		return fmt.Errorf("failed to delete application plan %d: %w", planID, err)
	}
	return nil
}
