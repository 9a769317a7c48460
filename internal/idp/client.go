package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cisentry/cisentry/internal/config"
)

// ErrUnauthorized means the IdP rejected the presented token.
var ErrUnauthorized = errors.New("idp: token rejected")

// ErrUnavailable means the IdP could not be reached or timed out.
var ErrUnavailable = errors.New("idp: unavailable")

// Userinfo is the subset of OIDC userinfo claims this service consumes.
type Userinfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	EmailVerified bool   `json:"email_verified"`
}

// ProviderToken is the IdP's record of a linked third-party identity.
type ProviderToken struct {
	Subject          string   `json:"sub"`
	AccessToken      string   `json:"accessToken"`
	RefreshToken     string   `json:"refreshToken,omitempty"`
	ProviderID       string   `json:"providerId"`
	ProviderUserName string   `json:"providerUserName"`
	Scopes           []string `json:"scopes,omitempty"`
}

// Client talks to the external identity provider over a pooled HTTP
// client. It is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client. A nil httpClient gets a plain client with
// the configured timeout.
func NewClient(cfg config.IdPConfig, httpClient *http.Client) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid idp base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{baseURL: cfg.BaseURL, client: httpClient}, nil
}

// NewDefaultClient builds a Client around a pooled transport with bounded
// connection counts, reused across requests.
func NewDefaultClient(cfg config.IdPConfig) (*Client, error) {
	defaultClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return NewClient(cfg, defaultClient)
}

// Close releases idle connections on the underlying transport.
func (c *Client) Close() error {
	if c != nil && c.client != nil && c.client.Transport != nil {
		if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	return nil
}

// Userinfo validates an opaque bearer token against the IdP's userinfo
// endpoint. A 401/403 maps to ErrUnauthorized; transport failures and
// 5xx responses map to ErrUnavailable.
func (c *Client) Userinfo(ctx context.Context, token string) (*Userinfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/oidc/v1/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrUnavailable, resp.StatusCode)
	}

	var info Userinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrUnavailable, err)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("%w: userinfo missing sub", ErrUnavailable)
	}
	return &info, nil
}

// ProviderTokens fetches the third-party access token the IdP holds for
// the authenticated user and the named provider.
func (c *Client) ProviderTokens(ctx context.Context, token, provider string) (*ProviderToken, error) {
	u := fmt.Sprintf("%s/auth/v1/users/me/idps?provider=%s", c.baseURL, url.QueryEscape(provider))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("no %s identity linked at the provider", provider)
	default:
		return nil, fmt.Errorf("%w: idp tokens returned %d", ErrUnavailable, resp.StatusCode)
	}

	var tok ProviderToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("%w: decode idp tokens: %v", ErrUnavailable, err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("idp returned no access token for %s", provider)
	}
	return &tok, nil
}
