// Package registry merges the layered MCP server config files into a single
// view and applies edits to the workspace layer.
//
// Five layers contribute definitions. In ascending precedence: system,
// legacy user, user, legacy workspace, workspace. A name defined in a higher
// layer shadows every lower one. Only the workspace file is edited by this
// subsystem; the other layers are read-only inputs.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"cowork/internal/api"
	"cowork/internal/mcp/atomicfile"
	"cowork/internal/mcp/credentials"
	"cowork/internal/mcp/document"
	"cowork/internal/mcp/paths"
	"cowork/pkg/logging"
)

const configFilePerm = 0o644

// Registry loads the merged server view and edits the workspace layer.
type Registry struct {
	paths paths.Paths
	creds *credentials.Store
}

// New creates a registry over the resolved file locations. The credential
// store is consulted when edits need to cascade, such as renames.
func New(p paths.Paths, creds *credentials.Store) *Registry {
	return &Registry{paths: p, creds: creds}
}

// layer binds one config source to its file and capabilities.
type layer struct {
	source   api.Source
	path     string
	editable bool
	legacy   bool
}

func (r *Registry) layers() []layer {
	return []layer{
		{source: api.SourceSystem, path: r.paths.SystemConfig},
		{source: api.SourceUserLegacy, path: r.paths.UserLegacyConfig, legacy: true},
		{source: api.SourceUser, path: r.paths.UserConfig},
		{source: api.SourceWorkspaceLegacy, path: r.paths.WorkspaceLegacyConfig, legacy: true},
		{source: api.SourceWorkspace, path: r.paths.WorkspaceConfig, editable: true},
	}
}

// layerResult is one layer's outcome from a concurrent load.
type layerResult struct {
	layer layer
	doc   *document.Document
	info  api.FileInfo
}

// Load reads all layers concurrently and merges them by precedence.
//
// A layer that fails to read or parse is skipped with a warning; one broken
// file must not take down the whole registry. Warnings and per-file status
// are reported in the snapshot so callers can surface them.
func (r *Registry) Load(ctx context.Context) (*api.Snapshot, error) {
	layers := r.layers()
	results := make([]layerResult, len(layers))

	g, ctx := errgroup.WithContext(ctx)
	for i, l := range layers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = r.loadLayer(l)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snapshot := &api.Snapshot{
		Files: make(map[api.Source]api.FileInfo, len(layers)),
	}

	merged := make(map[string]api.Server)
	for _, res := range results {
		snapshot.Files[res.layer.source] = res.info
		if res.info.ParseError != "" {
			snapshot.Warnings = append(snapshot.Warnings,
				fmt.Sprintf("ignoring %s: %s", res.info.Path, res.info.ParseError))
			continue
		}
		if res.doc == nil {
			continue
		}
		for _, def := range res.doc.Servers {
			merged[def.Name] = api.Server{
				Definition: def,
				Source:     res.layer.source,
				Inherited:  isInherited(res.layer.source),
			}
		}
	}

	snapshot.Servers = make([]api.Server, 0, len(merged))
	for _, server := range merged {
		snapshot.Servers = append(snapshot.Servers, server)
	}
	sort.Slice(snapshot.Servers, func(i, j int) bool {
		return snapshot.Servers[i].Name() < snapshot.Servers[j].Name()
	})

	logging.Debug("Registry", "Loaded %d servers from %d layers (%d warnings)",
		len(snapshot.Servers), len(layers), len(snapshot.Warnings))
	return snapshot, nil
}

func (r *Registry) loadLayer(l layer) layerResult {
	res := layerResult{
		layer: l,
		info: api.FileInfo{
			Path:     l.path,
			Editable: l.editable,
			Legacy:   l.legacy,
		},
	}

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return res
	}
	res.info.Exists = true
	if err != nil {
		res.info.ParseError = err.Error()
		return res
	}

	doc, err := document.Parse(data)
	if err != nil {
		res.info.ParseError = err.Error()
		return res
	}

	res.doc = doc
	res.info.Count = len(doc.Servers)
	return res
}

// isInherited reports whether a source sits outside the workspace, meaning
// the entry was configured at the user or system level.
func isInherited(source api.Source) bool {
	return api.ScopeForSource(source) != api.ScopeWorkspace
}

// loadEditable reads the workspace config for modification. Unlike Load,
// a parse failure here is fatal: blind rewrites of a file the user edited
// by hand would destroy their changes.
func (r *Registry) loadEditable() (*document.Document, error) {
	data, err := os.ReadFile(r.paths.WorkspaceConfig)
	if os.IsNotExist(err) {
		return document.Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.paths.WorkspaceConfig, err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("refusing to modify %s: %w", r.paths.WorkspaceConfig, err)
	}
	return doc, nil
}

func (r *Registry) writeEditable(doc *document.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return err
	}
	if err := atomicfile.Write(r.paths.WorkspaceConfig, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.paths.WorkspaceConfig, err)
	}
	return nil
}

// Upsert adds or replaces a server definition in the workspace layer. Adding
// a name that a lower layer defines is allowed and shadows it.
func (r *Registry) Upsert(ctx context.Context, server document.ServerDefinition) error {
	doc, err := r.loadEditable()
	if err != nil {
		return err
	}

	replaced := false
	for i := range doc.Servers {
		if doc.Servers[i].Name == server.Name {
			doc.Servers[i] = server
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Servers = append(doc.Servers, server)
	}

	if err := r.writeEditable(doc); err != nil {
		return err
	}
	if replaced {
		logging.Info("Registry", "Updated server %s in workspace config", server.Name)
	} else {
		logging.Info("Registry", "Added server %s to workspace config", server.Name)
	}
	return nil
}

// Delete removes a server from the workspace layer. Stored credentials are
// left in place so a re-add does not force re-authorization; Remove them
// separately if the secret itself should go.
func (r *Registry) Delete(ctx context.Context, name string) error {
	doc, err := r.loadEditable()
	if err != nil {
		return err
	}

	kept := doc.Servers[:0]
	found := false
	for _, def := range doc.Servers {
		if def.Name == name {
			found = true
			continue
		}
		kept = append(kept, def)
	}
	if !found {
		if r.definedElsewhere(ctx, name) {
			return fmt.Errorf("server %q is not defined in the workspace config; edit its defining file directly", name)
		}
		return fmt.Errorf("server %q not found", name)
	}
	doc.Servers = kept

	if err := r.writeEditable(doc); err != nil {
		return err
	}
	logging.Info("Registry", "Removed server %s from workspace config", name)
	return nil
}

// Rename changes a server's name in the workspace layer and moves its
// workspace-scope credentials along. The new name must not collide with any
// merged entry; failing fast here beats silently shadowing another layer.
func (r *Registry) Rename(ctx context.Context, prev, next string) error {
	if prev == next {
		return fmt.Errorf("old and new names are both %q", prev)
	}

	snapshot, err := r.Load(ctx)
	if err != nil {
		return err
	}
	if snapshot.Get(next) != nil {
		return fmt.Errorf("server %q already exists", next)
	}

	doc, err := r.loadEditable()
	if err != nil {
		return err
	}

	found := false
	for i := range doc.Servers {
		if doc.Servers[i].Name == prev {
			doc.Servers[i].Name = next
			found = true
			break
		}
	}
	if !found {
		if snapshot.Get(prev) != nil {
			return fmt.Errorf("server %q is not defined in the workspace config; edit its defining file directly", prev)
		}
		return fmt.Errorf("server %q not found", prev)
	}

	if err := r.writeEditable(doc); err != nil {
		return err
	}

	moved, err := r.creds.Rename(api.ScopeWorkspace, prev, next)
	if err != nil {
		return fmt.Errorf("renamed server but failed to move credentials: %w", err)
	}
	if moved {
		logging.Info("Registry", "Renamed server %s to %s (credentials moved)", prev, next)
	} else {
		logging.Info("Registry", "Renamed server %s to %s", prev, next)
	}
	return nil
}

// definedElsewhere reports whether the name resolves from a non-workspace
// layer, used to produce a more useful error than "not found".
func (r *Registry) definedElsewhere(ctx context.Context, name string) bool {
	snapshot, err := r.Load(ctx)
	if err != nil {
		return false
	}
	return snapshot.Get(name) != nil
}
