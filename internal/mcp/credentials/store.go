// Package credentials persists per-scope secret documents for MCP servers.
//
// Each scope (workspace, user) owns one JSON document keyed by server name.
// Secrets never appear in the server-list config files and never cross
// scopes. Every mutation is a whole-document read-modify-write followed by
// an atomic rename, so a crash mid-write leaves the previous document intact.
package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cowork/internal/api"
	"cowork/internal/mcp/atomicfile"
	"cowork/internal/mcp/paths"
	"cowork/pkg/logging"
)

const filePerm = 0o600

// Store reads and writes the credential documents for both scopes.
type Store struct {
	mu    sync.Mutex
	paths paths.Paths
	now   func() time.Time
}

// NewStore creates a store over the resolved file locations.
func NewStore(p paths.Paths) *Store {
	return &Store{paths: p, now: time.Now}
}

func (s *Store) pathFor(scope api.Scope) string {
	if scope == api.ScopeWorkspace {
		return s.paths.WorkspaceCredentials
	}
	return s.paths.UserCredentials
}

// Load reads one scope's document. A missing file yields an empty document
// rather than an error; corruption is surfaced so callers never silently
// overwrite recoverable secrets.
func (s *Store) Load(scope api.Scope) (*api.CredentialsDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(scope)
}

func (s *Store) load(scope api.Scope) (*api.CredentialsDocument, error) {
	path := s.pathFor(scope)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return api.NewCredentialsDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	var doc api.CredentialsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	if doc.Version != api.CredentialsDocumentVersion {
		return nil, fmt.Errorf("credentials file %s has unsupported version %d", path, doc.Version)
	}
	if doc.Servers == nil {
		doc.Servers = map[string]api.CredentialRecord{}
	}
	return &doc, nil
}

// Get returns the stored record for a server, if any.
func (s *Store) Get(scope api.Scope, name string) (api.CredentialRecord, bool, error) {
	doc, err := s.Load(scope)
	if err != nil {
		return api.CredentialRecord{}, false, err
	}
	record, ok := doc.Servers[name]
	return record, ok, nil
}

// mutate applies one change under the store lock and rewrites the document.
func (s *Store) mutate(scope api.Scope, fn func(doc *api.CredentialsDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(scope)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.UpdatedAt = s.now().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials document: %w", err)
	}
	data = append(data, '\n')

	path := s.pathFor(scope)
	if err := atomicfile.Write(path, data, filePerm); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// SetAPIKey stores a static secret for a server, replacing any previous one.
func (s *Store) SetAPIKey(scope api.Scope, name, value, keyID string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("api key must be a non-empty string")
	}
	err := s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record := doc.Servers[name]
		record.APIKey = &api.APIKeyCredential{
			Value:     value,
			KeyID:     keyID,
			UpdatedAt: s.now().UTC(),
		}
		doc.Servers[name] = record
		return nil
	})
	if err != nil {
		return err
	}
	logging.Info("Credentials", "Stored API key for server %s (scope %s, key %s)", name, scope, MaskKey(value))
	return nil
}

// SetOAuthPending records an in-flight authorization attempt, replacing any
// previous pending state for the server.
func (s *Store) SetOAuthPending(scope api.Scope, name string, pending api.OAuthPending) error {
	return s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record := doc.Servers[name]
		if record.OAuth == nil {
			record.OAuth = &api.OAuthCredential{}
		}
		record.OAuth.Pending = &pending
		doc.Servers[name] = record
		return nil
	})
}

// CompleteOAuth stores an exchanged token set and clears the pending state.
func (s *Store) CompleteOAuth(scope api.Scope, name string, tokens api.OAuthTokens) error {
	err := s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record := doc.Servers[name]
		if record.OAuth == nil {
			record.OAuth = &api.OAuthCredential{}
		}
		record.OAuth.Pending = nil
		record.OAuth.Tokens = &tokens
		doc.Servers[name] = record
		return nil
	})
	if err != nil {
		return err
	}
	logging.Info("Credentials", "Stored OAuth tokens for server %s (scope %s)", name, scope)
	return nil
}

// SetOAuthTokens replaces the stored token set without touching pending
// state. Used by refresh, where no authorization is in flight.
func (s *Store) SetOAuthTokens(scope api.Scope, name string, tokens api.OAuthTokens) error {
	return s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record := doc.Servers[name]
		if record.OAuth == nil {
			record.OAuth = &api.OAuthCredential{}
		}
		record.OAuth.Tokens = &tokens
		doc.Servers[name] = record
		return nil
	})
}

// SetOAuthClientInformation stores a dynamic registration result so repeat
// authorizations skip re-registering.
func (s *Store) SetOAuthClientInformation(scope api.Scope, name string, info api.ClientInformation) error {
	return s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record := doc.Servers[name]
		if record.OAuth == nil {
			record.OAuth = &api.OAuthCredential{}
		}
		record.OAuth.ClientInformation = &info
		doc.Servers[name] = record
		return nil
	})
}

// ClearOAuth drops all OAuth state for a server. Stored API keys survive.
func (s *Store) ClearOAuth(scope api.Scope, name string) error {
	return s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record, ok := doc.Servers[name]
		if !ok || record.OAuth == nil {
			return nil
		}
		record.OAuth = nil
		if record.APIKey == nil {
			delete(doc.Servers, name)
		} else {
			doc.Servers[name] = record
		}
		return nil
	})
}

// Delete removes every credential stored for a server within the scope.
func (s *Store) Delete(scope api.Scope, name string) error {
	return s.mutate(scope, func(doc *api.CredentialsDocument) error {
		delete(doc.Servers, name)
		return nil
	})
}

// Rename moves a server's credentials to a new name within the same scope.
// Returns whether anything moved. An existing record under the new name is
// overwritten; the registry rejects rename collisions before calling this.
func (s *Store) Rename(scope api.Scope, prev, next string) (bool, error) {
	moved := false
	err := s.mutate(scope, func(doc *api.CredentialsDocument) error {
		record, ok := doc.Servers[prev]
		if !ok {
			return nil
		}
		delete(doc.Servers, prev)
		doc.Servers[next] = record
		moved = true
		return nil
	})
	return moved, err
}

// MaskKey renders a secret for display. Short keys mask entirely; longer
// keys keep the first and last four characters.
func MaskKey(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "..." + value[len(value)-4:]
}
