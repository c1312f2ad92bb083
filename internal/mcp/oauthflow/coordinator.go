// Package oauthflow orchestrates interactive OAuth authorization for remote
// MCP servers: discovery, client registration, the ephemeral redirect
// listener, and the final code-for-token exchange.
package oauthflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cowork/internal/api"
	"cowork/internal/mcp/credentials"
	"cowork/internal/mcp/document"
	"cowork/pkg/logging"
	"cowork/pkg/oauth"
)

const (
	// PendingTTL bounds one authorization attempt. The pending record, the
	// callback listener, and the in-memory challenge all expire together.
	PendingTTL = 10 * time.Minute

	// FallbackClientID is used when the provider offers no dynamic client
	// registration and nothing is stored.
	FallbackClientID = "cowork-desktop"

	// oobRedirectURI is the out-of-band URN for code-paste mode, where no
	// local listener runs and the user relays the code manually.
	oobRedirectURI = "urn:ietf:wg:oauth:2.0:oob"

	// registrationClientName identifies this application in dynamic client
	// registration requests.
	registrationClientName = "cowork"
)

// Coordinator drives authorization attempts end to end. One coordinator
// serves the whole process; concurrent attempts for different servers each
// get their own challenge and listener.
type Coordinator struct {
	client     *oauth.Client
	creds      *credentials.Store
	challenges *ChallengeStore

	now         func() time.Time
	openBrowser func(url string) error
}

// NewCoordinator creates a coordinator using the given protocol client and
// credential store.
func NewCoordinator(client *oauth.Client, creds *credentials.Store) *Coordinator {
	return &Coordinator{
		client:      client,
		creds:       creds,
		challenges:  NewChallengeStore(),
		now:         time.Now,
		openBrowser: OpenBrowser,
	}
}

// Close releases all live challenges and their listeners.
func (c *Coordinator) Close() {
	c.challenges.Stop()
}

// AuthorizeResult is what the caller needs to walk the user through the
// rest of the flow.
type AuthorizeResult struct {
	ChallengeID      string
	AuthorizationURL string
	Pending          api.OAuthPending
	BrowserOpened    bool
	Instruction      string
}

// Authorize starts a new authorization attempt for a remote server declared
// with OAuth. Any previous pending attempt for the server is superseded.
//
// Discovery and registration failures downgrade to defaults rather than
// aborting; the only hard failures are local ones (no listener port, no
// randomness, credential store I/O).
func (c *Coordinator) Authorize(ctx context.Context, server api.Server) (*AuthorizeResult, error) {
	decl, ok := server.Definition.Auth.(document.OAuthAuth)
	if !ok {
		return nil, fmt.Errorf("server %q does not declare oauth auth", server.Name())
	}
	if !document.IsRemote(server.Definition.Transport) {
		return nil, fmt.Errorf("server %q uses a stdio transport; oauth requires http or sse", server.Name())
	}

	resource := decl.Resource
	if resource == "" {
		resource = document.RemoteURL(server.Definition.Transport)
	}
	scope := api.ScopeForSource(server.Source)

	issuer := c.resolveIssuer(ctx, resource)
	endpoints := c.resolveEndpoints(ctx, issuer)

	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}

	// The redirect URI must exist before client registration and URL
	// construction, so the listener starts first in auto mode.
	var listener *CallbackListener
	redirectURI := oobRedirectURI
	if decl.Mode == document.OAuthModeAuto {
		listener, err = NewCallbackListener(state)
		if err != nil {
			return nil, err
		}
		redirectURI = listener.RedirectURI()
	}

	clientInfo := c.resolveClientInfo(ctx, server.Name(), scope, endpoints.registration, redirectURI, decl.Scope)

	var codeVerifier, codeChallenge string
	if decl.Mode == document.OAuthModeAuto {
		pkce, err := oauth.GeneratePKCE()
		if err != nil {
			if listener != nil {
				listener.Close()
			}
			return nil, err
		}
		codeVerifier = pkce.CodeVerifier
		codeChallenge = pkce.CodeChallenge
	}

	authURL := buildAuthorizationURL(endpoints.authorization, clientInfo.ClientID, redirectURI, state, codeChallenge, decl)

	now := c.now().UTC()
	pending := api.OAuthPending{
		ChallengeID:            uuid.NewString(),
		State:                  state,
		CodeVerifier:           codeVerifier,
		RedirectURI:            redirectURI,
		CreatedAt:              now,
		ExpiresAt:              now.Add(PendingTTL),
		AuthorizationServerURL: issuer,
	}

	if err := c.creds.SetOAuthPending(scope, server.Name(), pending); err != nil {
		if listener != nil {
			listener.Close()
		}
		return nil, err
	}

	c.challenges.Put(&Challenge{
		ID:            pending.ChallengeID,
		ServerName:    server.Name(),
		Scope:         scope,
		State:         state,
		CodeVerifier:  codeVerifier,
		RedirectURI:   redirectURI,
		Issuer:        issuer,
		TokenEndpoint: endpoints.token,
		ClientInfo:    clientInfo,
		CreatedAt:     now,
		ExpiresAt:     pending.ExpiresAt,
		Listener:      listener,
	})

	browserOpened := c.openBrowser(authURL) == nil
	instruction := buildInstruction(server.Name(), authURL, decl.Mode, browserOpened)

	logging.Info("OAuthFlow", "Started authorization for server %s (challenge %s, browser opened: %t)",
		server.Name(), pending.ChallengeID, browserOpened)

	return &AuthorizeResult{
		ChallengeID:      pending.ChallengeID,
		AuthorizationURL: authURL,
		Pending:          pending,
		BrowserOpened:    browserOpened,
		Instruction:      instruction,
	}, nil
}

// ConsumeCapturedCode polls the listener attached to a challenge. It returns
// the code and tears the listener down once one arrived; while the attempt
// is still pending it returns ok=false with no error, and once expired it
// cleans up and reports the expiry.
func (c *Coordinator) ConsumeCapturedCode(challengeID string) (string, bool, error) {
	challenge, ok := c.challenges.Get(challengeID)
	if !ok {
		return "", false, fmt.Errorf("unknown authorization challenge %q", challengeID)
	}

	if challenge.Expired(c.now()) {
		c.challenges.Remove(challengeID)
		return "", false, fmt.Errorf("authorization attempt expired, re-authorize")
	}

	if challenge.Listener == nil {
		return "", false, fmt.Errorf("authorization uses code-paste mode; no local listener to poll")
	}

	if errMsg, failed := challenge.Listener.AuthError(); failed {
		c.challenges.Remove(challengeID)
		return "", false, fmt.Errorf("authorization failed: %s", errMsg)
	}

	code, captured := challenge.Listener.CapturedCode()
	if !captured {
		return "", false, nil
	}

	c.challenges.Remove(challengeID)
	return code, true, nil
}

// ExchangeCode trades an authorization code for tokens and persists them,
// clearing the pending record. Nothing is written on failure; the stored
// pending and tokens stay exactly as they were.
func (c *Coordinator) ExchangeCode(ctx context.Context, serverName string, scope api.Scope, code string) (*api.OAuthTokens, error) {
	record, _, err := c.creds.Get(scope, serverName)
	if err != nil {
		return nil, err
	}
	if record.OAuth == nil || record.OAuth.Pending == nil {
		return nil, fmt.Errorf("no pending authorization for server %q", serverName)
	}
	pending := record.OAuth.Pending
	if pending.IsExpired(c.now()) {
		return nil, fmt.Errorf("authorization attempt expired, re-authorize")
	}

	tokenEndpoint, clientInfo := c.exchangeContext(ctx, pending, record)

	token, err := c.client.ExchangeAuthorizationCode(ctx, tokenEndpoint, code,
		pending.CodeVerifier, pending.RedirectURI, clientInfo.ClientID, clientInfo.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("code exchange for server %q failed: %w", serverName, err)
	}

	now := c.now().UTC()
	tokens := api.OAuthTokens{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
		UpdatedAt:    now,
	}

	// Persist a dynamically registered client before the tokens so a
	// follow-up refresh can authenticate.
	if record.OAuth.ClientInformation == nil && clientInfo.ClientID != FallbackClientID {
		info := api.ClientInformation{
			ClientID:     clientInfo.ClientID,
			ClientSecret: clientInfo.ClientSecret,
			UpdatedAt:    now,
		}
		if err := c.creds.SetOAuthClientInformation(scope, serverName, info); err != nil {
			return nil, err
		}
	}

	if err := c.creds.CompleteOAuth(scope, serverName, tokens); err != nil {
		return nil, err
	}

	c.challenges.Remove(pending.ChallengeID)

	logging.Info("OAuthFlow", "Completed authorization for server %s", serverName)
	return &tokens, nil
}

// Refresh exchanges the stored refresh token for a fresh token set and
// persists it. The previous refresh token is kept when the provider does
// not rotate it.
func (c *Coordinator) Refresh(ctx context.Context, serverName string, scope api.Scope, resourceURL string) (*api.OAuthTokens, error) {
	record, _, err := c.creds.Get(scope, serverName)
	if err != nil {
		return nil, err
	}
	if record.OAuth == nil || record.OAuth.Tokens == nil || record.OAuth.Tokens.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token stored for server %q", serverName)
	}

	issuer := c.resolveIssuer(ctx, resourceURL)
	endpoints := c.resolveEndpoints(ctx, issuer)

	clientInfo := api.ClientInformation{ClientID: FallbackClientID}
	if record.OAuth.ClientInformation != nil {
		clientInfo = *record.OAuth.ClientInformation
	}

	token, err := c.client.RefreshToken(ctx, endpoints.token,
		record.OAuth.Tokens.RefreshToken, clientInfo.ClientID, clientInfo.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("token refresh for server %q failed: %w", serverName, err)
	}

	tokens := api.OAuthTokens{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt,
		Scope:        token.Scope,
		Resource:     record.OAuth.Tokens.Resource,
		UpdatedAt:    c.now().UTC(),
	}
	if err := c.creds.SetOAuthTokens(scope, serverName, tokens); err != nil {
		return nil, err
	}

	logging.Info("OAuthFlow", "Refreshed tokens for server %s", serverName)
	return &tokens, nil
}

// resolveIssuer finds the authorization server for a resource: protected
// resource discovery first, the resource origin as fallback.
func (c *Coordinator) resolveIssuer(ctx context.Context, resourceURL string) string {
	if prm, err := c.client.DiscoverProtectedResource(ctx, resourceURL); err == nil && len(prm.AuthorizationServers) > 0 {
		return prm.AuthorizationServers[0]
	}

	origin, err := oauth.Origin(resourceURL)
	if err != nil {
		logging.Warn("OAuthFlow", "Cannot derive origin from %s: %v", resourceURL, err)
		return resourceURL
	}
	logging.Debug("OAuthFlow", "No protected resource metadata for %s, assuming issuer %s", resourceURL, origin)
	return origin
}

type endpoints struct {
	authorization string
	token         string
	registration  string
}

// resolveEndpoints fetches authorization server metadata, falling back to
// conventional endpoint paths when the issuer publishes none.
func (c *Coordinator) resolveEndpoints(ctx context.Context, issuer string) endpoints {
	metadata, err := c.client.DiscoverMetadata(ctx, issuer)
	if err != nil {
		logging.Warn("OAuthFlow", "Metadata discovery failed for %s, using conventional endpoints: %v", issuer, err)
		base := strings.TrimSuffix(issuer, "/")
		return endpoints{
			authorization: base + "/authorize",
			token:         base + "/token",
		}
	}
	return endpoints{
		authorization: metadata.AuthorizationEndpoint,
		token:         metadata.TokenEndpoint,
		registration:  metadata.RegistrationEndpoint,
	}
}

// resolveClientInfo picks the client identity in priority order: stored
// registration, fresh dynamic registration, fixed fallback ID.
func (c *Coordinator) resolveClientInfo(ctx context.Context, serverName string, scope api.Scope, registrationEndpoint, redirectURI, oauthScope string) api.ClientInformation {
	record, _, err := c.creds.Get(scope, serverName)
	if err == nil && record.OAuth != nil && record.OAuth.ClientInformation != nil {
		return *record.OAuth.ClientInformation
	}

	if registrationEndpoint != "" {
		info, err := c.client.RegisterClient(ctx, registrationEndpoint, oauth.ClientMetadata{
			ClientName:              registrationClientName,
			RedirectURIs:            []string{redirectURI},
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: "none",
			Scope:                   oauthScope,
		})
		if err == nil {
			registered := api.ClientInformation{
				ClientID:     info.ClientID,
				ClientSecret: info.ClientSecret,
				UpdatedAt:    c.now().UTC(),
			}
			if err := c.creds.SetOAuthClientInformation(scope, serverName, registered); err != nil {
				logging.Warn("OAuthFlow", "Failed to persist client registration for %s: %v", serverName, err)
			}
			return registered
		}
		logging.Warn("OAuthFlow", "Dynamic client registration failed for %s: %v", serverName, err)
	}

	return api.ClientInformation{ClientID: FallbackClientID}
}

// exchangeContext recovers the token endpoint and client identity for an
// exchange, preferring the live challenge and re-discovering after a
// process restart.
func (c *Coordinator) exchangeContext(ctx context.Context, pending *api.OAuthPending, record api.CredentialRecord) (string, api.ClientInformation) {
	if challenge, ok := c.challenges.Get(pending.ChallengeID); ok {
		return challenge.TokenEndpoint, challenge.ClientInfo
	}

	endpoints := c.resolveEndpoints(ctx, pending.AuthorizationServerURL)

	clientInfo := api.ClientInformation{ClientID: FallbackClientID}
	if record.OAuth != nil && record.OAuth.ClientInformation != nil {
		clientInfo = *record.OAuth.ClientInformation
	}
	return endpoints.token, clientInfo
}

func buildAuthorizationURL(authorizationEndpoint, clientID, redirectURI, state, codeChallenge string, decl document.OAuthAuth) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", clientID)
	params.Set("redirect_uri", redirectURI)
	params.Set("state", state)
	if codeChallenge != "" {
		params.Set("code_challenge", codeChallenge)
		params.Set("code_challenge_method", "S256")
	}
	if decl.Scope != "" {
		params.Set("scope", decl.Scope)
	}
	if decl.Resource != "" {
		params.Set("resource", decl.Resource)
	}

	separator := "?"
	if strings.Contains(authorizationEndpoint, "?") {
		separator = "&"
	}
	return authorizationEndpoint + separator + params.Encode()
}

func buildInstruction(serverName, authURL string, mode document.OAuthMode, browserOpened bool) string {
	var b strings.Builder
	if browserOpened {
		b.WriteString("A browser window has been opened to authorize ")
		b.WriteString(serverName)
		b.WriteString(".")
	} else {
		b.WriteString("Could not open a browser automatically. Open this URL to authorize ")
		b.WriteString(serverName)
		b.WriteString(":\n  ")
		b.WriteString(authURL)
	}
	if mode == document.OAuthModeCode {
		b.WriteString("\nAfter approving, paste the displayed code with: cowork auth callback ")
		b.WriteString(serverName)
		b.WriteString(" <code>")
	} else {
		b.WriteString("\nComplete the authorization in the browser; the approval is captured automatically.")
	}
	return b.String()
}
