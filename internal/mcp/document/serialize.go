package document

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON writes the tagged wire form of the definition. Defaults are
// omitted so files stay minimal; Parse restores them.
func (s ServerDefinition) MarshalJSON() ([]byte, error) {
	type wire struct {
		Name      string      `json:"name"`
		Transport interface{} `json:"transport"`
		Required  bool        `json:"required,omitempty"`
		Retries   *int        `json:"retries,omitempty"`
		Auth      interface{} `json:"auth,omitempty"`
	}

	w := wire{
		Name:     s.Name,
		Required: s.Required,
	}

	if s.Retries != DefaultRetries {
		retries := s.Retries
		w.Retries = &retries
	}

	switch t := s.Transport.(type) {
	case StdioTransport:
		w.Transport = stdioTransportJSON{
			Type:    string(TransportStdio),
			Command: t.Command,
			Args:    t.Args,
			Env:     t.Env,
			Cwd:     t.Cwd,
		}
	case HTTPTransport:
		w.Transport = remoteTransportJSON{Type: string(TransportHTTP), URL: t.URL, Headers: t.Headers}
	case SSETransport:
		w.Transport = remoteTransportJSON{Type: string(TransportSSE), URL: t.URL, Headers: t.Headers}
	case nil:
		return nil, fmt.Errorf("server %q has no transport", s.Name)
	default:
		return nil, fmt.Errorf("server %q has unsupported transport %T", s.Name, s.Transport)
	}

	switch a := s.Auth.(type) {
	case NoAuth, nil:
		// omitted; Parse restores NoAuth
	case APIKeyAuth:
		w.Auth = apiKeyAuthJSON{
			Type:       string(AuthKindAPIKey),
			HeaderName: a.HeaderName,
			Prefix:     a.Prefix,
			KeyID:      a.KeyID,
		}
	case OAuthAuth:
		w.Auth = oauthAuthJSON{
			Type:     string(AuthKindOAuth),
			Scope:    a.Scope,
			Resource: a.Resource,
			Mode:     string(a.Mode),
		}
	default:
		return nil, fmt.Errorf("server %q has unsupported auth %T", s.Name, s.Auth)
	}

	return json.Marshal(w)
}

// UnmarshalJSON delegates to the strict parser so generic decoding applies
// the same schema as Parse.
func (s *ServerDefinition) UnmarshalJSON(data []byte) error {
	parsed, err := ParseServer(data)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// Marshal serializes the document in its canonical on-disk form: two-space
// indent with a trailing newline.
func (d *Document) Marshal() ([]byte, error) {
	out := struct {
		Servers []ServerDefinition `json:"servers"`
	}{
		Servers: d.Servers,
	}
	if out.Servers == nil {
		out.Servers = []ServerDefinition{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal server document: %w", err)
	}
	return append(data, '\n'), nil
}
