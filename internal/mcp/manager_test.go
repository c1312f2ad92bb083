package mcp

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowork/internal/api"
	"cowork/internal/mcp/document"
	"cowork/internal/mcp/paths"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(paths.Config{
		WorkspaceRoot:   filepath.Join(dir, "ws"),
		UserHome:        filepath.Join(dir, "home"),
		SystemConfigDir: filepath.Join(dir, "system"),
	})
	t.Cleanup(m.Close)
	return m
}

func apiKeyServer(name string) document.ServerDefinition {
	return document.ServerDefinition{
		Name:      name,
		Transport: document.HTTPTransport{URL: "https://" + name + ".example.com/mcp"},
		Retries:   document.DefaultRetries,
		Auth:      document.APIKeyAuth{HeaderName: "X-Api-Key", Prefix: "key "},
	}
}

func TestManager_UpsertAndResolve(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, apiKeyServer("github"), ""))

	resolved, err := m.ResolveAuth(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, api.AuthModeMissing, resolved.Mode)
	assert.Equal(t, api.ScopeWorkspace, resolved.Scope)

	require.NoError(t, m.SetAPIKey(ctx, "github", "sk-1234567890wxyz"))

	resolved, err = m.ResolveAuth(ctx, "github")
	require.NoError(t, err)
	assert.Equal(t, api.AuthModeAPIKey, resolved.Mode)
	assert.Equal(t, "key sk-1234567890wxyz", resolved.Headers["X-Api-Key"])
	assert.Equal(t, "sk-1...wxyz", resolved.MaskedKey)
}

func TestManager_SetAPIKeyRequiresDeclaration(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	def := apiKeyServer("open")
	def.Auth = document.NoAuth{}
	require.NoError(t, m.Upsert(ctx, def, ""))

	err := m.SetAPIKey(ctx, "open", "whatever-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not declare api_key")
}

func TestManager_UpsertWithRename(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, apiKeyServer("old"), ""))
	require.NoError(t, m.SetAPIKey(ctx, "old", "sk-1234567890wxyz"))

	renamed := apiKeyServer("new")
	require.NoError(t, m.Upsert(ctx, renamed, "old"))

	snapshot, err := m.LoadRegistry(ctx)
	require.NoError(t, err)
	assert.Nil(t, snapshot.Get("old"))
	require.NotNil(t, snapshot.Get("new"))

	resolved, err := m.ResolveAuth(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, api.AuthModeAPIKey, resolved.Mode, "credentials moved with the rename")
}

func TestManager_UnknownServer(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.ResolveAuth(ctx, "ghost")
	require.Error(t, err)

	_, err = m.Authorize(ctx, "ghost")
	require.Error(t, err)

	_, _, err = m.Callback(ctx, "ghost", "code")
	require.Error(t, err)
}

func TestManager_CallbackWithoutPending(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	def := apiKeyServer("linear")
	def.Auth = document.OAuthAuth{Mode: document.OAuthModeAuto}
	require.NoError(t, m.Upsert(ctx, def, ""))

	_, _, err := m.Callback(ctx, "linear", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pending authorization")
}

func TestManager_ValidateRefusesUnreadyAuth(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, apiKeyServer("github"), ""))

	result, err := m.Validate(ctx, "github")
	require.NoError(t, err)
	assert.False(t, result.OK)
	assert.Contains(t, result.Message, "auth not ready")
}

func TestManager_MigrateLegacyRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Nothing to migrate: clean no-op.
	result, err := m.MigrateLegacy(api.ScopeWorkspace)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)

	_, err = m.LoadRegistry(ctx)
	require.NoError(t, err)
}
