package api

import (
	"cowork/internal/mcp/document"
)

// Source identifies which config layer a server definition won from.
type Source string

const (
	SourceWorkspace       Source = "workspace"
	SourceUser            Source = "user"
	SourceSystem          Source = "system"
	SourceWorkspaceLegacy Source = "workspace_legacy"
	SourceUserLegacy      Source = "user_legacy"
)

// Sources lists all layers in merge precedence order, lowest first. A later
// layer overwrites an earlier one by name.
var Sources = []Source{
	SourceSystem,
	SourceUserLegacy,
	SourceUser,
	SourceWorkspaceLegacy,
	SourceWorkspace,
}

// Scope is the credential-storage partition a server's secrets live in.
type Scope string

const (
	ScopeWorkspace Scope = "workspace"
	ScopeUser      Scope = "user"
)

// ScopeForSource maps a layer to its credential scope. Workspace-origin
// servers (including workspace-legacy) always use the workspace document;
// there is deliberately no cross-scope fallback, so a workspace config can
// never silently inherit another user's secret.
func ScopeForSource(source Source) Scope {
	switch source {
	case SourceWorkspace, SourceWorkspaceLegacy:
		return ScopeWorkspace
	default:
		return ScopeUser
	}
}

// Server is a merged registry entry: a definition annotated with the layer
// it won from. Entries are recomputed on every registry load, never mutated
// in place.
type Server struct {
	Definition document.ServerDefinition `json:"definition"`
	Source     Source                    `json:"source"`
	Inherited  bool                      `json:"inherited"`
}

// Name returns the server's declared name.
func (s Server) Name() string {
	return s.Definition.Name
}

// FileInfo describes one layer's backing file after a registry load.
type FileInfo struct {
	Path       string `json:"path"`
	Exists     bool   `json:"exists"`
	Editable   bool   `json:"editable"`
	Legacy     bool   `json:"legacy"`
	ParseError string `json:"parseError,omitempty"`
	Count      int    `json:"count"`
}

// Snapshot is the result of one registry load.
type Snapshot struct {
	Servers  []Server            `json:"servers"`
	Files    map[Source]FileInfo `json:"files"`
	Warnings []string            `json:"warnings,omitempty"`
}

// Get returns the merged entry with the given name, or nil.
func (s *Snapshot) Get(name string) *Server {
	for i := range s.Servers {
		if s.Servers[i].Name() == name {
			return &s.Servers[i]
		}
	}
	return nil
}

// MigrationResult reports one legacy import.
type MigrationResult struct {
	Imported         int      `json:"imported"`
	SkippedConflicts []string `json:"skippedConflicts,omitempty"`
	ArchivedPath     string   `json:"archivedPath,omitempty"`
}
