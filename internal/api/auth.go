package api

import "cowork/internal/mcp/document"

// AuthMode is the resolved authentication state of one server.
type AuthMode string

const (
	// AuthModeNone means the server declares no authentication.
	AuthModeNone AuthMode = "none"

	// AuthModeMissing means authentication is declared but nothing usable
	// is stored yet.
	AuthModeMissing AuthMode = "missing"

	// AuthModeAPIKey means a stored static secret is ready to use.
	AuthModeAPIKey AuthMode = "api_key"

	// AuthModeOAuth means a stored token set is usable, possibly after a
	// refresh.
	AuthModeOAuth AuthMode = "oauth"

	// AuthModeOAuthPending means an authorization attempt is in flight.
	AuthModeOAuthPending AuthMode = "oauth_pending"

	// AuthModeError means stored state exists but cannot be used without
	// re-authorization.
	AuthModeError AuthMode = "error"
)

// ResolvedAuth is the outcome of resolving a server's declared auth against
// its stored credentials. Headers carry the actual secret and are excluded
// from serialization; only the masked form may be displayed.
type ResolvedAuth struct {
	Mode         AuthMode          `json:"mode"`
	Scope        Scope             `json:"scope,omitempty"`
	AuthType     document.AuthKind `json:"authType"`
	Message      string            `json:"message,omitempty"`
	MaskedKey    string            `json:"maskedKey,omitempty"`
	NeedsRefresh bool              `json:"needsRefresh,omitempty"`
	Headers      map[string]string `json:"-"`

	OAuthTokens     *OAuthTokens       `json:"oauthTokens,omitempty"`
	OAuthPending    *OAuthPending      `json:"oauthPending,omitempty"`
	OAuthClientInfo *ClientInformation `json:"oauthClientInfo,omitempty"`
}
