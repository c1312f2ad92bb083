package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"cowork/pkg/logging"
)

// metadataCacheTTL is the time-to-live for cached authorization server
// metadata. After this duration, metadata is re-fetched from the issuer.
const metadataCacheTTL = 30 * time.Minute

// DefaultHTTPTimeout is the default timeout for discovery, registration,
// and token endpoint requests.
const DefaultHTTPTimeout = 30 * time.Second

// metadataCacheEntry holds cached metadata with its fetch timestamp.
type metadataCacheEntry struct {
	metadata  *Metadata
	fetchedAt time.Time
}

// Client performs the HTTP legs of OAuth 2.1 client flows: authorization
// server discovery (RFC 8414), protected resource discovery (RFC 9728),
// dynamic client registration (RFC 7591), and the token endpoint grants.
type Client struct {
	httpClient *http.Client

	// Metadata cache (issuer URL -> metadata entry) with mutex for thread safety
	metadataMu    sync.RWMutex
	metadataCache map[string]*metadataCacheEntry

	// singleflight group to deduplicate concurrent metadata fetches
	metadataGroup singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates an OAuth protocol client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:    &http.Client{Timeout: DefaultHTTPTimeout},
		metadataCache: make(map[string]*metadataCacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DiscoverProtectedResource fetches the protected resource metadata for the
// given resource URL. The well-known document lives at the resource origin.
func (c *Client) DiscoverProtectedResource(ctx context.Context, resourceURL string) (*ProtectedResourceMetadata, error) {
	origin, err := Origin(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid resource URL: %w", err)
	}

	wellKnownURL := origin + "/.well-known/oauth-protected-resource"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("protected resource metadata fetch failed: status=%d", resp.StatusCode)
	}

	var metadata ProtectedResourceMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse protected resource metadata: %w", err)
	}

	logging.Debug("OAuth", "Discovered protected resource metadata for %s (%d authorization servers)",
		origin, len(metadata.AuthorizationServers))

	return &metadata, nil
}

// DiscoverMetadata fetches authorization server metadata from the issuer's
// well-known endpoint. Uses singleflight to deduplicate concurrent requests
// for the same issuer.
func (c *Client) DiscoverMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	c.metadataMu.RLock()
	if entry, ok := c.metadataCache[issuer]; ok {
		if time.Since(entry.fetchedAt) < metadataCacheTTL {
			c.metadataMu.RUnlock()
			return entry.metadata, nil
		}
		logging.Debug("OAuth", "Metadata cache expired for issuer=%s, refreshing", issuer)
	}
	c.metadataMu.RUnlock()

	result, err, _ := c.metadataGroup.Do(issuer, func() (interface{}, error) {
		// Double-check cache after acquiring the singleflight lock
		c.metadataMu.RLock()
		if entry, ok := c.metadataCache[issuer]; ok {
			if time.Since(entry.fetchedAt) < metadataCacheTTL {
				c.metadataMu.RUnlock()
				return entry.metadata, nil
			}
		}
		c.metadataMu.RUnlock()

		return c.doFetchMetadata(ctx, issuer)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Metadata), nil
}

// doFetchMetadata performs the actual HTTP fetch for authorization server
// metadata, trying RFC 8414 first and OpenID Connect discovery as fallback.
func (c *Client) doFetchMetadata(ctx context.Context, issuer string) (*Metadata, error) {
	wellKnownURL := strings.TrimSuffix(issuer, "/") + "/.well-known/oauth-authorization-server"

	resp, err := c.get(ctx, wellKnownURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		wellKnownURL = strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"
		resp2, err := c.get(ctx, wellKnownURL)
		if err != nil {
			return nil, err
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to fetch authorization server metadata: status=%d", resp2.StatusCode)
		}
		resp = resp2
	}

	var metadata Metadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse authorization server metadata: %w", err)
	}

	c.metadataMu.Lock()
	c.metadataCache[issuer] = &metadataCacheEntry{
		metadata:  &metadata,
		fetchedAt: time.Now(),
	}
	c.metadataMu.Unlock()

	logging.Debug("OAuth", "Fetched metadata for issuer=%s (auth=%s, token=%s)",
		issuer, metadata.AuthorizationEndpoint, metadata.TokenEndpoint)

	return &metadata, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

// RegisterClient performs RFC 7591 dynamic client registration against the
// given registration endpoint.
func (c *Client) RegisterClient(ctx context.Context, registrationEndpoint string, meta ClientMetadata) (*ClientInformation, error) {
	if registrationEndpoint == "" {
		return nil, fmt.Errorf("no registration endpoint available")
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client metadata: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registrationEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client registration failed with status %d", resp.StatusCode)
	}

	var info ClientInformation
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to parse registration response: %w", err)
	}
	if info.ClientID == "" {
		return nil, fmt.Errorf("registration response missing client_id")
	}

	logging.Debug("OAuth", "Registered dynamic client (client_id=%s)", info.ClientID)

	return &info, nil
}

// ExchangeAuthorizationCode performs the authorization-code-plus-PKCE grant
// against the token endpoint and returns the issued token with an absolute
// expiry computed from expires_in.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, tokenEndpoint, code, codeVerifier, redirectURI, clientID, clientSecret string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", clientID)
	if codeVerifier != "" {
		data.Set("code_verifier", codeVerifier)
	}
	if clientSecret != "" {
		data.Set("client_secret", clientSecret)
	}

	return c.postTokenRequest(ctx, tokenEndpoint, data)
}

// RefreshToken performs the refresh_token grant against the token endpoint
// via golang.org/x/oauth2. The previous refresh token is preserved when the
// provider does not rotate it.
func (c *Client) RefreshToken(ctx context.Context, tokenEndpoint, refreshToken, clientID, clientSecret string) (*Token, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}

	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	seed := (&Token{RefreshToken: refreshToken}).ToOAuth2Token()
	refreshed, err := conf.TokenSource(ctx, seed).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			if retrieveErr.ErrorDescription != "" {
				return nil, fmt.Errorf("token endpoint rejected request: %s: %s", retrieveErr.ErrorCode, retrieveErr.ErrorDescription)
			}
			return nil, fmt.Errorf("token endpoint rejected request: %s", retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	token := &Token{
		AccessToken:  refreshed.AccessToken,
		TokenType:    refreshed.TokenType,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.Expiry,
	}
	if scope, ok := refreshed.Extra("scope").(string); ok {
		token.Scope = scope
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// postTokenRequest sends a form-encoded request to the token endpoint and
// decodes either a token or an RFC 6749 error response.
func (c *Client) postTokenRequest(ctx context.Context, tokenEndpoint string, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp TokenErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.ErrorCode != "" {
			if errResp.ErrorDescription != "" {
				return nil, fmt.Errorf("token endpoint rejected request: %s: %s", errResp.ErrorCode, errResp.ErrorDescription)
			}
			return nil, fmt.Errorf("token endpoint rejected request: %s", errResp.ErrorCode)
		}
		// Response body may contain sensitive hints; log at debug only.
		logging.Debug("OAuth", "Token request failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	token.SetExpiresAtFromExpiresIn(time.Now())

	return &token, nil
}

// Origin returns the scheme://host[:port] origin of a URL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL %q has no origin", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}
