// Package mcp is the boundary the session layer talks to: one Manager
// facade over the registry, credential store, auth resolver, OAuth
// coordinator, and live validation.
package mcp

import (
	"context"
	"fmt"
	"time"

	"cowork/internal/api"
	"cowork/internal/mcp/authstate"
	"cowork/internal/mcp/credentials"
	"cowork/internal/mcp/document"
	"cowork/internal/mcp/oauthflow"
	"cowork/internal/mcp/paths"
	"cowork/internal/mcp/registry"
	"cowork/internal/mcp/validate"
	"cowork/pkg/logging"
	"cowork/pkg/oauth"
)

// Manager wires the trust-and-configuration subsystem together.
type Manager struct {
	paths       paths.Paths
	registry    *registry.Registry
	creds       *credentials.Store
	coordinator *oauthflow.Coordinator
	validator   *validate.Validator
	watcher     *registry.Watcher

	now func() time.Time
}

// NewManager builds the subsystem for the given roots.
func NewManager(cfg paths.Config) *Manager {
	p := paths.Resolve(cfg)
	creds := credentials.NewStore(p)
	return &Manager{
		paths:       p,
		registry:    registry.New(p, creds),
		creds:       creds,
		coordinator: oauthflow.NewCoordinator(oauth.NewClient(), creds),
		validator:   validate.NewValidator(),
		now:         time.Now,
	}
}

// Close releases background resources: the config watcher and any live
// OAuth challenges.
func (m *Manager) Close() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
	m.coordinator.Close()
}

// LoadRegistry returns the merged server view.
func (m *Manager) LoadRegistry(ctx context.Context) (*api.Snapshot, error) {
	return m.registry.Load(ctx)
}

// Watch starts change notification for the config layers. onChange runs on
// a background goroutine after each debounced burst of file changes.
func (m *Manager) Watch(onChange func()) error {
	if m.watcher != nil {
		return nil
	}
	m.watcher = registry.NewWatcher(m.registry, onChange)
	return m.watcher.Start()
}

func (m *Manager) findServer(ctx context.Context, name string) (*api.Server, error) {
	snapshot, err := m.registry.Load(ctx)
	if err != nil {
		return nil, err
	}
	server := snapshot.Get(name)
	if server == nil {
		return nil, fmt.Errorf("server %q not found", name)
	}
	return server, nil
}

// ResolveAuth computes the usable auth state for a server. When a stored
// token is expired but refreshable, the refresh happens here so the caller
// gets back either ready headers or a definite failure.
func (m *Manager) ResolveAuth(ctx context.Context, name string) (*api.ResolvedAuth, error) {
	server, err := m.findServer(ctx, name)
	if err != nil {
		return nil, err
	}
	scope := api.ScopeForSource(server.Source)

	record, _, err := m.creds.Get(scope, name)
	if err != nil {
		return nil, err
	}

	resolved := authstate.Resolve(server.Definition.Auth, record, m.now())
	resolved.Scope = scope

	if resolved.NeedsRefresh {
		resourceURL := refreshResource(server.Definition)
		if _, err := m.coordinator.Refresh(ctx, name, scope, resourceURL); err != nil {
			logging.Warn("Manager", "Token refresh for server %s failed: %v", name, err)
			resolved.Mode = api.AuthModeError
			resolved.Message = fmt.Sprintf("token refresh failed: %v", err)
			return &resolved, nil
		}

		record, _, err = m.creds.Get(scope, name)
		if err != nil {
			return nil, err
		}
		resolved = authstate.Resolve(server.Definition.Auth, record, m.now())
		resolved.Scope = scope
	}

	return &resolved, nil
}

// refreshResource picks the resource URL used to re-discover the token
// endpoint for a refresh.
func refreshResource(def document.ServerDefinition) string {
	if decl, ok := def.Auth.(document.OAuthAuth); ok && decl.Resource != "" {
		return decl.Resource
	}
	return document.RemoteURL(def.Transport)
}

// Upsert adds or updates a server in the workspace config. A non-empty
// previousName different from the new name turns the operation into a
// rename plus update, carrying workspace credentials along.
func (m *Manager) Upsert(ctx context.Context, def document.ServerDefinition, previousName string) error {
	if previousName != "" && previousName != def.Name {
		if err := m.registry.Rename(ctx, previousName, def.Name); err != nil {
			return err
		}
	}
	return m.registry.Upsert(ctx, def)
}

// Delete removes a server from the workspace config.
func (m *Manager) Delete(ctx context.Context, name string) error {
	return m.registry.Delete(ctx, name)
}

// MigrateLegacy imports one scope's legacy server list.
func (m *Manager) MigrateLegacy(scope api.Scope) (*api.MigrationResult, error) {
	return m.registry.MigrateLegacy(scope)
}

// SetAPIKey stores a static secret for a server in its resolved scope. The
// key ID recorded alongside comes from the server's auth declaration.
func (m *Manager) SetAPIKey(ctx context.Context, name, key string) error {
	server, err := m.findServer(ctx, name)
	if err != nil {
		return err
	}
	decl, ok := server.Definition.Auth.(document.APIKeyAuth)
	if !ok {
		return fmt.Errorf("server %q does not declare api_key auth", name)
	}

	scope := api.ScopeForSource(server.Source)
	return m.creds.SetAPIKey(scope, name, key, decl.KeyID)
}

// Authorize starts an OAuth authorization attempt for a server.
func (m *Manager) Authorize(ctx context.Context, name string) (*oauthflow.AuthorizeResult, error) {
	server, err := m.findServer(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.coordinator.Authorize(ctx, *server)
}

// Callback completes an authorization. With an explicit code (code-paste
// mode) it exchanges immediately; with an empty code it polls the local
// listener and, if nothing arrived yet, returns the still-valid pending
// record so the caller can poll again.
func (m *Manager) Callback(ctx context.Context, name, code string) (*api.OAuthTokens, *api.OAuthPending, error) {
	server, err := m.findServer(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	scope := api.ScopeForSource(server.Source)

	if code == "" {
		record, _, err := m.creds.Get(scope, name)
		if err != nil {
			return nil, nil, err
		}
		if record.OAuth == nil || record.OAuth.Pending == nil {
			return nil, nil, fmt.Errorf("no pending authorization for server %q", name)
		}
		pending := record.OAuth.Pending

		captured, ok, err := m.coordinator.ConsumeCapturedCode(pending.ChallengeID)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, pending, nil
		}
		code = captured
	}

	tokens, err := m.coordinator.ExchangeCode(ctx, name, scope, code)
	if err != nil {
		return nil, nil, err
	}
	return tokens, nil, nil
}

// ClearAuth drops all OAuth state for a server, forcing re-authorization.
func (m *Manager) ClearAuth(ctx context.Context, name string) error {
	server, err := m.findServer(ctx, name)
	if err != nil {
		return err
	}
	return m.creds.ClearOAuth(api.ScopeForSource(server.Source), name)
}

// Validate connects to a server with its resolved auth headers and runs the
// protocol handshake under the validation timeout.
func (m *Manager) Validate(ctx context.Context, name string) (*validate.Result, error) {
	server, err := m.findServer(ctx, name)
	if err != nil {
		return nil, err
	}
	resolved, err := m.ResolveAuth(ctx, name)
	if err != nil {
		return nil, err
	}

	switch resolved.Mode {
	case api.AuthModeMissing, api.AuthModeOAuthPending, api.AuthModeError:
		return &validate.Result{
			OK:      false,
			Message: fmt.Sprintf("auth not ready (%s): %s", resolved.Mode, resolved.Message),
		}, nil
	}

	return m.validator.Validate(ctx, server.Definition, resolved.Headers), nil
}
