package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	p := Resolve(Config{
		WorkspaceRoot:   "/work/proj",
		UserHome:        "/home/dev",
		SystemConfigDir: "/etc/xdg/cowork",
	})

	assert.Equal(t, filepath.FromSlash("/work/proj/.cowork/mcp-servers.json"), p.WorkspaceConfig)
	assert.Equal(t, filepath.FromSlash("/home/dev/.cowork/config/mcp-servers.json"), p.UserConfig)
	assert.Equal(t, filepath.FromSlash("/etc/xdg/cowork/mcp-servers.json"), p.SystemConfig)
	assert.Equal(t, filepath.FromSlash("/work/proj/.agent/mcp-servers.json"), p.WorkspaceLegacyConfig)
	assert.Equal(t, filepath.FromSlash("/home/dev/.agent/mcp-servers.json"), p.UserLegacyConfig)
	assert.Equal(t, filepath.FromSlash("/work/proj/.cowork/auth/mcp-credentials.json"), p.WorkspaceCredentials)
	assert.Equal(t, filepath.FromSlash("/home/dev/.cowork/auth/mcp-credentials.json"), p.UserCredentials)
}

func TestResolve_ExplicitAgentDirs(t *testing.T) {
	p := Resolve(Config{
		WorkspaceRoot:   "/work/proj",
		UserHome:        "/home/dev",
		SystemConfigDir: "/etc/xdg/cowork",
		ProjectAgentDir: "/work/proj/.custom-agent",
		UserAgentDir:    "/home/dev/.custom-agent",
	})

	assert.Equal(t, filepath.FromSlash("/work/proj/.custom-agent/mcp-servers.json"), p.WorkspaceLegacyConfig)
	assert.Equal(t, filepath.FromSlash("/home/dev/.custom-agent/mcp-servers.json"), p.UserLegacyConfig)
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := DefaultConfig("/work/proj")
	assert.NoError(t, err)
	assert.Equal(t, "/work/proj", cfg.WorkspaceRoot)
	assert.NotEmpty(t, cfg.UserHome)
	assert.NotEmpty(t, cfg.SystemConfigDir)
}
