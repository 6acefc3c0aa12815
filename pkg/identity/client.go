package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/andina-labs/almacen/pkg/auth"
	"github.com/andina-labs/almacen/pkg/config"
	"github.com/andina-labs/almacen/pkg/observability"
)

const accountsResource = "/rest/v1/usuarios"

// Client talks to the hosted identity/data service. Service-key calls
// bypass row-level restrictions; anon-key calls are limited to the
// password grant. The gateway never hands either key to a browser.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewClient creates a new identity client
func NewClient(cfg config.SupabaseConfig, logger *observability.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL:    cfg.URL,
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		metrics:    metrics,
	}
}

// LookupByUsername resolves the full account record for a username using
// the elevated service key. Runs pre-authentication, so row-level
// restrictions must not hide the record.
func (c *Client) LookupByUsername(ctx context.Context, username string) (*auth.Account, error) {
	query := url.Values{
		"username": {"eq." + username},
		"select":   {"*"},
		"limit":    {"1"},
	}
	return c.lookupOne(ctx, "lookup_by_username", query)
}

// LookupByID resolves an account by its id.
func (c *Client) LookupByID(ctx context.Context, id string) (*auth.Account, error) {
	query := url.Values{
		"id":     {"eq." + id},
		"select": {"*"},
		"limit":  {"1"},
	}
	return c.lookupOne(ctx, "lookup_by_id", query)
}

// LookupByProviderID resolves an account by its external provider identity.
func (c *Client) LookupByProviderID(ctx context.Context, provider, externalID string) (*auth.Account, error) {
	query := url.Values{
		"auth_provider":         {"eq." + provider},
		"auth_provider_user_id": {"eq." + externalID},
		"select":                {"*"},
		"limit":                 {"1"},
	}
	return c.lookupOne(ctx, "lookup_by_provider", query)
}

func (c *Client) lookupOne(ctx context.Context, op string, query url.Values) (*auth.Account, error) {
	var accounts []auth.Account
	if err := c.serviceGet(ctx, op, accountsResource, query, &accounts); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, auth.NewNotFound("account not found")
	}
	return &accounts[0], nil
}

// PasswordGrant exchanges an email and password for a token pair using the
// identity service's own password grant. Every failure mode, including
// provider-side errors, is surfaced as a plain error so the caller can
// normalize it to the generic invalid-credentials response.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/auth/v1/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("password_grant", start, err)
	if err != nil {
		return nil, fmt.Errorf("password grant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.WithField("status", resp.StatusCode).
			WithField("body", string(drained)).
			Debug("password grant rejected")
		return nil, fmt.Errorf("password grant rejected with status %d", resp.StatusCode)
	}

	var tokens auth.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access token")
	}
	return &tokens, nil
}

// AccountStatus returns the activation flags for an account.
func (c *Client) AccountStatus(ctx context.Context, id string) (isActive, pendingApproval bool, err error) {
	query := url.Values{
		"id":     {"eq." + id},
		"select": {"is_active,pending_approval"},
		"limit":  {"1"},
	}

	var rows []struct {
		IsActive        bool `json:"is_active"`
		PendingApproval bool `json:"pending_approval"`
	}
	if err := c.serviceGet(ctx, "account_status", accountsResource, query, &rows); err != nil {
		return false, false, err
	}
	if len(rows) == 0 {
		return false, false, auth.NewNotFound("account not found")
	}
	return rows[0].IsActive, rows[0].PendingApproval, nil
}

// ListPending returns accounts awaiting approval, newest first.
func (c *Client) ListPending(ctx context.Context) ([]auth.Account, error) {
	query := url.Values{
		"pending_approval": {"eq.true"},
		"select":           {"*"},
		"order":            {"created_at.desc"},
	}

	var accounts []auth.Account
	if err := c.serviceGet(ctx, "list_pending", accountsResource, query, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Approve activates a pending account and assigns its role. Re-approving
// an already approved id re-applies the same fields.
func (c *Client) Approve(ctx context.Context, id string, role auth.Role, approverID string) (*auth.Account, error) {
	patch := map[string]interface{}{
		"is_active":        true,
		"pending_approval": false,
		"rol":              role,
		"approved_by":      approverID,
		"approved_at":      time.Now().UTC().Format(time.RFC3339),
	}
	return c.patchAccount(ctx, "approve", id, patch)
}

// Reject deletes the account record outright.
func (c *Client) Reject(ctx context.Context, id string) error {
	query := url.Values{"id": {"eq." + id}}
	req, err := c.serviceRequest(ctx, http.MethodDelete, accountsResource, query, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("reject", start, err)
	if err != nil {
		return auth.NewUpstream("identity service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.upstreamStatus("reject", resp)
	}
	return nil
}

// LinkProvider attaches the external provider identity to an account.
func (c *Client) LinkProvider(ctx context.Context, id, provider, externalID string) (*auth.Account, error) {
	patch := map[string]interface{}{
		"auth_provider":         provider,
		"auth_provider_user_id": externalID,
	}
	return c.patchAccount(ctx, "link_provider", id, patch)
}

// CreateAccount inserts a new account record (self-registration through
// the external provider lands here with pending_approval set).
func (c *Client) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	body, err := json.Marshal(account)
	if err != nil {
		return nil, err
	}

	req, err := c.serviceRequest(ctx, http.MethodPost, accountsResource, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe("create_account", start, err)
	if err != nil {
		return nil, auth.NewUpstream("identity service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, c.upstreamStatus("create_account", resp)
	}

	var created []auth.Account
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, auth.NewUpstream("decode create response", err)
	}
	if len(created) == 0 {
		return nil, auth.NewUpstream("create returned no record", nil)
	}
	return &created[0], nil
}

// Ping probes the data service REST root for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/rest/v1/", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("data service returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) patchAccount(ctx context.Context, op, id string, patch map[string]interface{}) (*auth.Account, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}

	query := url.Values{"id": {"eq." + id}}
	req, err := c.serviceRequest(ctx, http.MethodPatch, accountsResource, query, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(op, start, err)
	if err != nil {
		return nil, auth.NewUpstream("identity service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, c.upstreamStatus(op, resp)
	}

	var updated []auth.Account
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, auth.NewUpstream("decode update response", err)
	}
	if len(updated) == 0 {
		return nil, auth.NewNotFound("account not found")
	}
	return &updated[0], nil
}

func (c *Client) serviceGet(ctx context.Context, op, resource string, query url.Values, dst interface{}) error {
	req, err := c.serviceRequest(ctx, http.MethodGet, resource, query, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.observe(op, start, err)
	if err != nil {
		return auth.NewUpstream("identity service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.upstreamStatus(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return auth.NewUpstream("decode identity response", err)
	}
	return nil
}

func (c *Client) serviceRequest(ctx context.Context, method, resource string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + resource
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) upstreamStatus(op string, resp *http.Response) error {
	drained, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.WithField("operation", op).
		WithField("status", resp.StatusCode).
		WithField("body", string(drained)).
		Error("identity service call failed")
	if resp.StatusCode == http.StatusNotFound {
		return auth.NewNotFound("resource not found")
	}
	return auth.NewUpstream(fmt.Sprintf("identity service returned status %d", resp.StatusCode), nil)
}

func (c *Client) observe(op string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveUpstream("supabase", op, time.Since(start), err)
	}
}
