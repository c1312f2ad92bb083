package paths

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Canonical file and directory names within the cowork config tree.
const (
	configDirName     = ".cowork"
	serversFileName   = "mcp-servers.json"
	credentialsSubdir = "auth"
	credentialsFile   = "mcp-credentials.json"
	userConfigSubdir  = "config"
)

// legacyAgentDirName is the pre-layering location of server lists, kept for
// backward-compatible reads and one-shot migration.
const legacyAgentDirName = ".agent"

// Config supplies the root directories everything else is derived from.
// All fields are plain directories; no I/O happens in this package.
type Config struct {
	// WorkspaceRoot is the root of the current workspace (project checkout).
	WorkspaceRoot string

	// UserHome is the user's home directory.
	UserHome string

	// SystemConfigDir holds the read-only system-wide server list.
	SystemConfigDir string

	// ProjectAgentDir is the legacy per-workspace config location.
	ProjectAgentDir string

	// UserAgentDir is the legacy per-user config location.
	UserAgentDir string
}

// Paths holds every canonical file location the subsystem touches.
type Paths struct {
	WorkspaceConfig       string // editable
	UserConfig            string // read-only from this subsystem
	SystemConfig          string // read-only
	WorkspaceLegacyConfig string
	UserLegacyConfig      string
	WorkspaceCredentials  string
	UserCredentials       string
}

// Resolve derives the canonical file locations from the supplied roots.
// Pure function: it never checks whether anything exists.
func Resolve(cfg Config) Paths {
	projectAgentDir := cfg.ProjectAgentDir
	if projectAgentDir == "" {
		projectAgentDir = filepath.Join(cfg.WorkspaceRoot, legacyAgentDirName)
	}
	userAgentDir := cfg.UserAgentDir
	if userAgentDir == "" {
		userAgentDir = filepath.Join(cfg.UserHome, legacyAgentDirName)
	}

	return Paths{
		WorkspaceConfig:       filepath.Join(cfg.WorkspaceRoot, configDirName, serversFileName),
		UserConfig:            filepath.Join(cfg.UserHome, configDirName, userConfigSubdir, serversFileName),
		SystemConfig:          filepath.Join(cfg.SystemConfigDir, serversFileName),
		WorkspaceLegacyConfig: filepath.Join(projectAgentDir, serversFileName),
		UserLegacyConfig:      filepath.Join(userAgentDir, serversFileName),
		WorkspaceCredentials:  filepath.Join(cfg.WorkspaceRoot, configDirName, credentialsSubdir, credentialsFile),
		UserCredentials:       filepath.Join(cfg.UserHome, configDirName, credentialsSubdir, credentialsFile),
	}
}

// DefaultConfig builds a Config for the given workspace root, deriving the
// user home from the environment and the system config dir from the XDG
// base directory spec.
func DefaultConfig(workspaceRoot string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("failed to determine home directory: %w", err)
	}

	return Config{
		WorkspaceRoot:   workspaceRoot,
		UserHome:        home,
		SystemConfigDir: systemConfigDir(),
	}, nil
}

// systemConfigDir picks the first XDG system config directory, falling back
// to /etc/xdg on platforms where the list is empty.
func systemConfigDir() string {
	for _, dir := range xdg.ConfigDirs {
		return filepath.Join(dir, "cowork")
	}
	return filepath.Join("/etc/xdg", "cowork")
}
