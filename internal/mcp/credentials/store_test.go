package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowork/internal/api"
	"cowork/internal/mcp/paths"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	p := paths.Resolve(paths.Config{
		WorkspaceRoot:   filepath.Join(dir, "ws"),
		UserHome:        filepath.Join(dir, "home"),
		SystemConfigDir: filepath.Join(dir, "system"),
	})
	store := NewStore(p)
	store.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return store
}

func TestLoad_MissingFileYieldsEmptyDocument(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.Load(api.ScopeUser)
	require.NoError(t, err)
	assert.Equal(t, api.CredentialsDocumentVersion, doc.Version)
	assert.Empty(t, doc.Servers)
}

func TestLoad_CorruptFileIsAnError(t *testing.T) {
	store := newTestStore(t)
	path := store.pathFor(api.ScopeUser)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o600))

	_, err := store.Load(api.ScopeUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	store := newTestStore(t)
	path := store.pathFor(api.ScopeUser)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 9, "servers": {}}`), 0o600))

	_, err := store.Load(api.ScopeUser)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version")
}

func TestSetAPIKey_RoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetAPIKey(api.ScopeUser, "github", "tok-1234567890", "k1"))

	record, ok, err := store.Get(api.ScopeUser, "github")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, record.APIKey)
	assert.Equal(t, "tok-1234567890", record.APIKey.Value)
	assert.Equal(t, "k1", record.APIKey.KeyID)
	assert.False(t, record.APIKey.UpdatedAt.IsZero())
}

func TestSetAPIKey_RejectsEmptyValue(t *testing.T) {
	store := newTestStore(t)
	err := store.SetAPIKey(api.ScopeUser, "github", "   ", "")
	require.Error(t, err)
}

func TestScopeIsolation(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetAPIKey(api.ScopeWorkspace, "github", "ws-secret-value", ""))

	_, ok, err := store.Get(api.ScopeUser, "github")
	require.NoError(t, err)
	assert.False(t, ok, "workspace secret must not leak into user scope")
}

func TestOAuthLifecycle(t *testing.T) {
	store := newTestStore(t)
	pending := api.OAuthPending{
		ChallengeID:  "ch-1",
		State:        "st-1",
		CodeVerifier: "ver-1",
		RedirectURI:  "http://127.0.0.1:51000/oauth/callback",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:    time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC),
	}

	require.NoError(t, store.SetOAuthPending(api.ScopeUser, "linear", pending))

	record, ok, err := store.Get(api.ScopeUser, "linear")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, record.OAuth)
	require.NotNil(t, record.OAuth.Pending)
	assert.Equal(t, "ch-1", record.OAuth.Pending.ChallengeID)

	tokens := api.OAuthTokens{
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		TokenType:    "Bearer",
		ExpiresAt:    time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		UpdatedAt:    time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	}
	require.NoError(t, store.CompleteOAuth(api.ScopeUser, "linear", tokens))

	record, _, err = store.Get(api.ScopeUser, "linear")
	require.NoError(t, err)
	assert.Nil(t, record.OAuth.Pending, "completing the exchange clears pending state")
	require.NotNil(t, record.OAuth.Tokens)
	assert.Equal(t, "at-1", record.OAuth.Tokens.AccessToken)
}

func TestSetOAuthTokens_PreservesPending(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetOAuthPending(api.ScopeUser, "linear", api.OAuthPending{ChallengeID: "ch"}))
	require.NoError(t, store.SetOAuthTokens(api.ScopeUser, "linear", api.OAuthTokens{AccessToken: "at"}))

	record, _, err := store.Get(api.ScopeUser, "linear")
	require.NoError(t, err)
	assert.NotNil(t, record.OAuth.Pending)
	assert.NotNil(t, record.OAuth.Tokens)
}

func TestSetOAuthClientInformation(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetOAuthClientInformation(api.ScopeUser, "linear", api.ClientInformation{
		ClientID: "client-abc",
	}))

	record, _, err := store.Get(api.ScopeUser, "linear")
	require.NoError(t, err)
	require.NotNil(t, record.OAuth)
	require.NotNil(t, record.OAuth.ClientInformation)
	assert.Equal(t, "client-abc", record.OAuth.ClientInformation.ClientID)
}

func TestClearOAuth_KeepsAPIKey(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetAPIKey(api.ScopeUser, "mixed", "secret-12345", ""))
	require.NoError(t, store.SetOAuthTokens(api.ScopeUser, "mixed", api.OAuthTokens{AccessToken: "at"}))

	require.NoError(t, store.ClearOAuth(api.ScopeUser, "mixed"))

	record, ok, err := store.Get(api.ScopeUser, "mixed")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, record.OAuth)
	assert.NotNil(t, record.APIKey)
}

func TestClearOAuth_RemovesEmptyRecord(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetOAuthTokens(api.ScopeUser, "solo", api.OAuthTokens{AccessToken: "at"}))
	require.NoError(t, store.ClearOAuth(api.ScopeUser, "solo"))

	_, ok, err := store.Get(api.ScopeUser, "solo")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetAPIKey(api.ScopeUser, "gone", "secret-12345", ""))
	require.NoError(t, store.Delete(api.ScopeUser, "gone"))

	_, ok, err := store.Get(api.ScopeUser, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRename(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetAPIKey(api.ScopeUser, "old", "secret-12345", ""))

	moved, err := store.Rename(api.ScopeUser, "old", "new")
	require.NoError(t, err)
	assert.True(t, moved)

	_, ok, err := store.Get(api.ScopeUser, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	record, ok, err := store.Get(api.ScopeUser, "new")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret-12345", record.APIKey.Value)
}

func TestRename_NothingStored(t *testing.T) {
	store := newTestStore(t)
	moved, err := store.Rename(api.ScopeUser, "absent", "elsewhere")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestFilePermissionsAndFormat(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetAPIKey(api.ScopeUser, "github", "secret-12345", ""))

	path := store.pathFor(api.ScopeUser)
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n', "document ends with a newline")

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "version")
	assert.Contains(t, doc, "updatedAt")
	assert.Contains(t, doc, "servers")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "********", MaskKey("12345678"))
	assert.Equal(t, "sk-1...wxyz", MaskKey("sk-1234567890wxyz"))
}
