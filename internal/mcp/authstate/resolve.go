// Package authstate resolves a server's declared auth requirement against
// its stored credentials into an actionable state.
//
// Resolution is a pure function of declaration, stored record, and the
// current time. It never performs I/O; refreshing an expired token or
// starting an authorization is the caller's move, guided by the result.
package authstate

import (
	"fmt"
	"time"

	"cowork/internal/api"
	"cowork/internal/mcp/credentials"
	"cowork/internal/mcp/document"
)

// defaultTokenType is used when a provider omits token_type in its response.
const defaultTokenType = "Bearer"

// Resolve computes the auth state for one server.
func Resolve(auth document.Auth, record api.CredentialRecord, now time.Time) api.ResolvedAuth {
	switch a := auth.(type) {
	case document.NoAuth, nil:
		return api.ResolvedAuth{Mode: api.AuthModeNone, AuthType: document.AuthKindNone}

	case document.APIKeyAuth:
		resolved := resolveAPIKey(a, record)
		resolved.AuthType = document.AuthKindAPIKey
		return resolved

	case document.OAuthAuth:
		resolved := resolveOAuth(record, now)
		resolved.AuthType = document.AuthKindOAuth
		if record.OAuth != nil {
			resolved.OAuthTokens = record.OAuth.Tokens
			resolved.OAuthPending = record.OAuth.Pending
			resolved.OAuthClientInfo = record.OAuth.ClientInformation
		}
		return resolved

	default:
		return api.ResolvedAuth{
			Mode:    api.AuthModeError,
			Message: fmt.Sprintf("unsupported auth declaration %T", auth),
		}
	}
}

func resolveAPIKey(a document.APIKeyAuth, record api.CredentialRecord) api.ResolvedAuth {
	if record.APIKey == nil || record.APIKey.Value == "" {
		return api.ResolvedAuth{
			Mode:    api.AuthModeMissing,
			Message: "no API key stored",
		}
	}
	return api.ResolvedAuth{
		Mode:      api.AuthModeAPIKey,
		MaskedKey: credentials.MaskKey(record.APIKey.Value),
		Headers: map[string]string{
			a.HeaderName: a.Prefix + record.APIKey.Value,
		},
	}
}

func resolveOAuth(record api.CredentialRecord, now time.Time) api.ResolvedAuth {
	oc := record.OAuth
	if oc == nil {
		return api.ResolvedAuth{
			Mode:    api.AuthModeMissing,
			Message: "not authorized",
		}
	}

	if oc.Tokens != nil {
		tokens := oc.Tokens
		if !tokens.IsExpired(now) {
			tokenType := tokens.TokenType
			if tokenType == "" {
				tokenType = defaultTokenType
			}
			return api.ResolvedAuth{
				Mode: api.AuthModeOAuth,
				Headers: map[string]string{
					"Authorization": tokenType + " " + tokens.AccessToken,
				},
			}
		}
		if tokens.RefreshToken != "" {
			return api.ResolvedAuth{
				Mode:         api.AuthModeOAuth,
				NeedsRefresh: true,
				Message:      "access token expired, refresh available",
			}
		}
	}

	// A dead token must not shadow a live re-authorization attempt.
	if oc.Pending != nil && !oc.Pending.IsExpired(now) {
		return api.ResolvedAuth{
			Mode:    api.AuthModeOAuthPending,
			Message: "authorization in progress",
		}
	}

	if oc.Tokens != nil {
		return api.ResolvedAuth{
			Mode:    api.AuthModeError,
			Message: "access token expired and no refresh token stored, re-authorize",
		}
	}
	if oc.Pending != nil {
		return api.ResolvedAuth{
			Mode:    api.AuthModeError,
			Message: "authorization attempt expired, re-authorize",
		}
	}

	return api.ResolvedAuth{
		Mode:    api.AuthModeMissing,
		Message: "not authorized",
	}
}
