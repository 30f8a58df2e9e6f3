package threescale

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// ListAccounts returns every developer account on the tenant, following
// pagination.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	for page := 1; ; page++ {
		var list accountList
		query := url.Values{
			"page":     {strconv.Itoa(page)},
			"per_page": {strconv.Itoa(listPageSize)},
		}
		if err := c.getJSON(ctx, "/accounts.json", query, &list); err != nil {
			return nil, err
		}
		for _, env := range list.Accounts {
			accounts = append(accounts, env.Account)
		}
		if len(list.Accounts) < listPageSize {
			return accounts, nil
		}
	}
}

// FindAccount looks an account up by its organization name. Returns
// (nil, nil) when no account matches.
func (c *Client) FindAccount(ctx context.Context, orgName string) (*Account, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].OrgName == orgName {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// CreateAccount signs up a new approved developer account. The name is
// used as both the username and the organization name.
func (c *Client) CreateAccount(ctx context.Context, name string) (*Account, error) {
	form := url.Values{
		"username": {name},
		"org_name": {name},
		"state":    {"approved"},
	}
	var env accountEnvelope
	if err := c.submitForm(ctx, "POST", "/signup.json", form, &env); err != nil {
		return nil, fmt.Errorf("failed to create account %q: %w", name, err)
	}
	return &env.Account, nil
}

// DeleteAccount removes the account and everything registered under it.
func (c *Client) DeleteAccount(ctx context.Context, accountID int64) error {
	if err := c.delete(ctx, fmt.Sprintf("/accounts/%d.json", accountID)); err != nil {
		return fmt.Errorf("failed to delete account %d: %w", accountID, err)
	}
	return nil
}
