package threescale

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// Gateway configuration environments. The Admin API calls the staging
// environment "sandbox".
const (
	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"
)

// FetchProxy returns the gateway configuration of one service.
func (c *Client) FetchProxy(ctx context.Context, serviceID int64) (*Proxy, error) {
	var proxy Proxy
	path := fmt.Sprintf("/services/%d/proxy", serviceID)
	if err := c.getXML(ctx, path, &proxy); err != nil {
		return nil, fmt.Errorf("failed to fetch proxy for service %d: %w", serviceID, err)
	}
	proxy.ServiceID = serviceID
	return &proxy, nil
}

// UpdateProxy patches the non-empty fields of the update onto the service
// proxy and returns the resulting configuration.
func (c *Client) UpdateProxy(ctx context.Context, serviceID int64, update ProxyUpdate) (*Proxy, error) {
	form := url.Values{
		"endpoint":             {update.Endpoint},
		"sandbox_endpoint":     {update.SandboxEndpoint},
		"credentials_location": {update.CredentialsLocation},
		"oidc_issuer_endpoint": {update.OIDCIssuerEndpoint},
		"oidc_issuer_type":     {update.OIDCIssuerType},
		"auth_app_id":          {update.AuthAppID},
		"auth_app_key":         {update.AuthAppKey},
		"auth_user_key":        {update.AuthUserKey},
	}
	var proxy Proxy
	path := fmt.Sprintf("/services/%d/proxy.xml", serviceID)
	if err := c.submitFormXML(ctx, "PATCH", path, form, &proxy); err != nil {
		return nil, fmt.Errorf("failed to update proxy for service %d: %w", serviceID, err)
	}
	proxy.ServiceID = serviceID
	return &proxy, nil
}

// FetchOIDCConfiguration returns the OIDC grant flow toggles of one
// service.
func (c *Client) FetchOIDCConfiguration(ctx context.Context, serviceID int64) (*OIDCConfiguration, error) {
	var cfg OIDCConfiguration
	path := fmt.Sprintf("/services/%d/proxy/oidc_configuration", serviceID)
	if err := c.getXML(ctx, path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to fetch OIDC configuration for service %d: %w", serviceID, err)
	}
	return &cfg, nil
}

// UpdateOIDCConfiguration sets the OIDC grant flow toggles of one service.
// All four flags are always sent; the tenant treats an omitted flag as
// unchanged, not disabled.
func (c *Client) UpdateOIDCConfiguration(ctx context.Context, serviceID int64, cfg OIDCConfiguration) (*OIDCConfiguration, error) {
	form := url.Values{
		"standard_flow_enabled":        {strconv.FormatBool(cfg.StandardFlowEnabled)},
		"implicit_flow_enabled":        {strconv.FormatBool(cfg.ImplicitFlowEnabled)},
		"service_accounts_enabled":     {strconv.FormatBool(cfg.ServiceAccountsEnabled)},
		"direct_access_grants_enabled": {strconv.FormatBool(cfg.DirectAccessGrantsEnabled)},
	}
	var updated OIDCConfiguration
	path := fmt.Sprintf("/services/%d/proxy/oidc_configuration", serviceID)
	if err := c.submitFormXML(ctx, "PATCH", path, form, &updated); err != nil {
		return nil, fmt.Errorf("failed to update OIDC configuration for service %d: %w", serviceID, err)
	}
	return &updated, nil
}

// LatestProxyConfig returns the newest deployed configuration version in
// the given environment. Returns (nil, nil) when the environment has no
// configuration yet.
func (c *Client) LatestProxyConfig(ctx context.Context, serviceID int64, environment string) (*ProxyConfig, error) {
	var env proxyConfigEnvelope
	path := fmt.Sprintf("/services/%d/proxy/configs/%s/latest.json", serviceID, environment)
	if err := c.getJSON(ctx, path, nil, &env); err != nil {
		if IsStatus(err, 404) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch latest %s proxy config for service %d: %w", environment, serviceID, err)
	}
	return &env.ProxyConfig, nil
}

// PromoteProxyConfig promotes a sandbox configuration version to
// production. Returns false without error when the tenant rejects the
// promotion with 422, which means production already carries the content.
func (c *Client) PromoteProxyConfig(ctx context.Context, serviceID int64, version int) (bool, error) {
	form := url.Values{
		"to": {EnvironmentProduction},
	}
	path := fmt.Sprintf("/services/%d/proxy/configs/%s/%d/promote.json", serviceID, EnvironmentSandbox, version)
	if err := c.submitForm(ctx, "POST", path, form, nil); err != nil {
		if IsStatus(err, 422) {
			return false, nil
		}
		return false, fmt.Errorf("failed to promote proxy config v%d for service %d: %w", version, serviceID, err)
	}
	return true, nil
}
