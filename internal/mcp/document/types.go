package document

// TransportKind discriminates the transport union.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
	TransportSSE   TransportKind = "sse"
)

// Transport is the sealed union of ways to reach an MCP server. Exactly
// three implementations exist: StdioTransport, HTTPTransport, SSETransport.
// Handlers dispatch with a type switch so adding a transport is a
// compile-time-visible change.
type Transport interface {
	Kind() TransportKind
	sealedTransport()
}

// StdioTransport launches a local subprocess speaking MCP over stdin/stdout.
type StdioTransport struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

func (StdioTransport) Kind() TransportKind { return TransportStdio }
func (StdioTransport) sealedTransport()    {}

// HTTPTransport connects to a remote MCP server over streamable HTTP.
type HTTPTransport struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (HTTPTransport) Kind() TransportKind { return TransportHTTP }
func (HTTPTransport) sealedTransport()    {}

// SSETransport connects to a remote MCP server over Server-Sent Events.
type SSETransport struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (SSETransport) Kind() TransportKind { return TransportSSE }
func (SSETransport) sealedTransport()    {}

// IsRemote reports whether the transport speaks to a network endpoint
// (http or sse) rather than a local subprocess.
func IsRemote(t Transport) bool {
	switch t.(type) {
	case HTTPTransport, SSETransport:
		return true
	default:
		return false
	}
}

// RemoteURL returns the endpoint URL for http/sse transports, or "" for stdio.
func RemoteURL(t Transport) string {
	switch tr := t.(type) {
	case HTTPTransport:
		return tr.URL
	case SSETransport:
		return tr.URL
	default:
		return ""
	}
}

// AuthKind discriminates the auth union.
type AuthKind string

const (
	AuthKindNone   AuthKind = "none"
	AuthKindAPIKey AuthKind = "api_key"
	AuthKindOAuth  AuthKind = "oauth"
)

// Auth is the sealed union of authentication configurations. Exactly three
// implementations exist: NoAuth, APIKeyAuth, OAuthAuth.
type Auth interface {
	Kind() AuthKind
	sealedAuth()
}

// NoAuth marks a server that needs no authentication.
type NoAuth struct{}

func (NoAuth) Kind() AuthKind { return AuthKindNone }
func (NoAuth) sealedAuth()    {}

// DefaultAPIKeyHeader is used when an api_key auth block omits headerName.
const DefaultAPIKeyHeader = "Authorization"

// APIKeyAuth authenticates with a static secret sent as a request header.
type APIKeyAuth struct {
	// HeaderName is the header carrying the key. Defaults to "Authorization".
	HeaderName string `json:"headerName,omitempty"`

	// Prefix is prepended to the key value in the header (e.g. "Bearer ").
	Prefix string `json:"prefix,omitempty"`

	// KeyID is an optional provider-side identifier for the key.
	KeyID string `json:"keyId,omitempty"`
}

func (APIKeyAuth) Kind() AuthKind { return AuthKindAPIKey }
func (APIKeyAuth) sealedAuth()    {}

// OAuthMode selects how the authorization redirect is captured.
type OAuthMode string

const (
	// OAuthModeAuto captures the redirect with an ephemeral local listener.
	OAuthModeAuto OAuthMode = "auto"

	// OAuthModeCode uses the out-of-band URN; the user pastes the code.
	OAuthModeCode OAuthMode = "code"
)

// OAuthAuth authenticates with the OAuth 2.1 authorization code flow.
type OAuthAuth struct {
	// Scope is the space-separated scope string to request.
	Scope string `json:"scope,omitempty"`

	// Resource is the RFC 8707 resource indicator, when the provider wants one.
	Resource string `json:"resource,omitempty"`

	// Mode is auto or code. Defaults to auto.
	Mode OAuthMode `json:"mode,omitempty"`
}

func (OAuthAuth) Kind() AuthKind { return AuthKindOAuth }
func (OAuthAuth) sealedAuth()    {}

// DefaultRetries is applied when a server definition omits retries.
const DefaultRetries = 3

// ServerDefinition is one declared MCP server. Name uniqueness within a
// single document is enforced at parse time; uniqueness across layers is
// resolved by the registry merge.
type ServerDefinition struct {
	Name      string
	Transport Transport
	Required  bool
	Retries   int
	Auth      Auth
}

// Document is one layer's server list.
type Document struct {
	Servers []ServerDefinition
}

// Empty returns the canonical empty document.
func Empty() *Document {
	return &Document{Servers: []ServerDefinition{}}
}

// Get returns the server with the given name, or nil.
func (d *Document) Get(name string) *ServerDefinition {
	for i := range d.Servers {
		if d.Servers[i].Name == name {
			return &d.Servers[i]
		}
	}
	return nil
}
