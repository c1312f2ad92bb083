package api

import "time"

// CredentialsDocumentVersion is the current credential document schema version.
const CredentialsDocumentVersion = 1

// CredentialsDocument is one scope's secret store. Every mutation reads the
// current document, applies one change, and atomically rewrites the whole
// file.
type CredentialsDocument struct {
	Version   int                         `json:"version"`
	UpdatedAt time.Time                   `json:"updatedAt"`
	Servers   map[string]CredentialRecord `json:"servers"`
}

// NewCredentialsDocument returns an empty document at the current version.
func NewCredentialsDocument() *CredentialsDocument {
	return &CredentialsDocument{
		Version: CredentialsDocumentVersion,
		Servers: map[string]CredentialRecord{},
	}
}

// CredentialRecord holds everything stored for one server name within a
// scope. Deleting a server definition leaves its record orphaned on purpose,
// so secrets survive an accidental remove-and-re-add.
type CredentialRecord struct {
	APIKey *APIKeyCredential `json:"apiKey,omitempty"`
	OAuth  *OAuthCredential  `json:"oauth,omitempty"`
}

// APIKeyCredential is a stored static secret.
type APIKeyCredential struct {
	Value     string    `json:"value"`
	KeyID     string    `json:"keyId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OAuthCredential groups the OAuth state for one server.
type OAuthCredential struct {
	Pending           *OAuthPending      `json:"pending,omitempty"`
	Tokens            *OAuthTokens       `json:"tokens,omitempty"`
	ClientInformation *ClientInformation `json:"clientInformation,omitempty"`
}

// OAuthPending is the in-flight state of one authorization attempt. It is
// replaced on each new authorize call and cleared on successful exchange.
type OAuthPending struct {
	ChallengeID            string    `json:"challengeId"`
	State                  string    `json:"state"`
	CodeVerifier           string    `json:"codeVerifier,omitempty"`
	RedirectURI            string    `json:"redirectUri"`
	CreatedAt              time.Time `json:"createdAt"`
	ExpiresAt              time.Time `json:"expiresAt"`
	AuthorizationServerURL string    `json:"authorizationServerUrl,omitempty"`
}

// IsExpired reports whether the pending challenge has passed its TTL.
func (p *OAuthPending) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// OAuthTokens is a stored token set, replaced wholesale on each
// exchange or refresh.
type OAuthTokens struct {
	AccessToken  string    `json:"accessToken"`
	TokenType    string    `json:"tokenType,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	Scope        string    `json:"scope,omitempty"`
	Resource     string    `json:"resource,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsExpired reports whether the access token has expired. Tokens without an
// expiry never expire; some providers issue non-expiring tokens.
func (t *OAuthTokens) IsExpired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// ClientInformation is a stored dynamic client registration result.
type ClientInformation struct {
	ClientID     string    `json:"clientId"`
	ClientSecret string    `json:"clientSecret,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
