package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// serverJSON is the wire shape of one server entry. Transport and auth stay
// raw so each union variant can be decoded strictly by its discriminator.
type serverJSON struct {
	Name      string          `json:"name"`
	Transport json.RawMessage `json:"transport"`
	Required  *bool           `json:"required,omitempty"`
	Retries   *int            `json:"retries,omitempty"`
	Auth      json.RawMessage `json:"auth,omitempty"`
}

type stdioTransportJSON struct {
	Type    string            `json:"type"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

type remoteTransportJSON struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type apiKeyAuthJSON struct {
	Type       string `json:"type"`
	HeaderName string `json:"headerName,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	KeyID      string `json:"keyId,omitempty"`
}

type oauthAuthJSON struct {
	Type     string `json:"type"`
	Scope    string `json:"scope,omitempty"`
	Resource string `json:"resource,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

type noneAuthJSON struct {
	Type string `json:"type"`
}

// Parse validates and normalizes a server-list document. Unknown top-level
// keys are rejected; a missing "servers" key yields the empty list. Every
// entry is validated against the transport and auth schemas with defaults
// applied, and duplicate names within the document are rejected.
func Parse(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	for key := range top {
		if key != "servers" {
			return nil, fmt.Errorf("unknown top-level key %q", key)
		}
	}

	doc := Empty()
	raw, ok := top["servers"]
	if !ok {
		return doc, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("\"servers\" must be an array: %w", err)
	}

	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		server, err := ParseServer(entry)
		if err != nil {
			return nil, fmt.Errorf("servers[%d]: %w", i, err)
		}
		if _, dup := seen[server.Name]; dup {
			return nil, fmt.Errorf("servers[%d]: duplicate server name %q", i, server.Name)
		}
		seen[server.Name] = struct{}{}
		doc.Servers = append(doc.Servers, *server)
	}

	return doc, nil
}

// ParseServer validates and normalizes a single server definition.
func ParseServer(data []byte) (*ServerDefinition, error) {
	var raw serverJSON
	if err := strictUnmarshal(data, &raw); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, fmt.Errorf("server name must be a non-empty string")
	}

	transport, err := parseTransport(raw.Transport)
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", name, err)
	}

	auth, err := parseAuth(raw.Auth)
	if err != nil {
		return nil, fmt.Errorf("server %q: %w", name, err)
	}

	retries := DefaultRetries
	if raw.Retries != nil {
		if *raw.Retries < 0 {
			return nil, fmt.Errorf("server %q: retries must be non-negative, got %d", name, *raw.Retries)
		}
		retries = *raw.Retries
	}

	required := false
	if raw.Required != nil {
		required = *raw.Required
	}

	return &ServerDefinition{
		Name:      name,
		Transport: transport,
		Required:  required,
		Retries:   retries,
		Auth:      auth,
	}, nil
}

func parseTransport(raw json.RawMessage) (Transport, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("transport is required")
	}

	kind, err := probeType(raw)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	switch TransportKind(kind) {
	case TransportStdio:
		var t stdioTransportJSON
		if err := strictUnmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		if strings.TrimSpace(t.Command) == "" {
			return nil, fmt.Errorf("transport: stdio command must be a non-empty string")
		}
		return StdioTransport{Command: t.Command, Args: t.Args, Env: t.Env, Cwd: t.Cwd}, nil

	case TransportHTTP, TransportSSE:
		var t remoteTransportJSON
		if err := strictUnmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		if err := validateRemoteURL(t.URL); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		if TransportKind(kind) == TransportHTTP {
			return HTTPTransport{URL: t.URL, Headers: t.Headers}, nil
		}
		return SSETransport{URL: t.URL, Headers: t.Headers}, nil

	default:
		return nil, fmt.Errorf("transport: unknown type %q (want stdio, http, or sse)", kind)
	}
}

func parseAuth(raw json.RawMessage) (Auth, error) {
	if len(raw) == 0 {
		return NoAuth{}, nil
	}

	kind, err := probeType(raw)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	switch AuthKind(kind) {
	case AuthKindNone:
		var a noneAuthJSON
		if err := strictUnmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		return NoAuth{}, nil

	case AuthKindAPIKey:
		var a apiKeyAuthJSON
		if err := strictUnmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		header := a.HeaderName
		if header == "" {
			header = DefaultAPIKeyHeader
		}
		return APIKeyAuth{HeaderName: header, Prefix: a.Prefix, KeyID: a.KeyID}, nil

	case AuthKindOAuth:
		var a oauthAuthJSON
		if err := strictUnmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		mode := OAuthMode(a.Mode)
		switch mode {
		case "":
			mode = OAuthModeAuto
		case OAuthModeAuto, OAuthModeCode:
		default:
			return nil, fmt.Errorf("auth: unknown oauth mode %q (want auto or code)", a.Mode)
		}
		return OAuthAuth{Scope: a.Scope, Resource: a.Resource, Mode: mode}, nil

	default:
		return nil, fmt.Errorf("auth: unknown type %q (want none, api_key, or oauth)", kind)
	}
}

// probeType extracts the "type" discriminator without strict field checks.
func probeType(raw json.RawMessage) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("must be an object: %w", err)
	}
	if probe.Type == "" {
		return "", fmt.Errorf("missing \"type\" field")
	}
	return probe.Type, nil
}

// strictUnmarshal decodes JSON rejecting unknown fields.
func strictUnmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

func validateRemoteURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("url must be a non-empty string")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	return nil
}
