// Package oauth implements the protocol-level pieces of the OAuth 2.1
// authorization code flow used to authenticate against remote MCP servers:
//
//   - PKCE code verifier/challenge generation (S256 only)
//   - Authorization server metadata discovery (RFC 8414, with OpenID
//     Connect discovery fallback)
//   - Protected resource metadata discovery (RFC 9728)
//   - Dynamic client registration (RFC 7591)
//   - Authorization code and refresh token grants
//
// The package is transport-only: it holds no credential state. Pending
// challenges and issued tokens are persisted by internal/mcp/credentials,
// and the interactive flow is orchestrated by internal/mcp/oauthflow.
package oauth
