package registry

import (
	"fmt"
	"os"
	"time"

	"cowork/internal/api"
	"cowork/internal/mcp/atomicfile"
	"cowork/internal/mcp/document"
	"cowork/pkg/logging"
)

// MigrateLegacy imports one scope's legacy server list into its canonical
// config file, then archives the legacy file so the import never repeats.
//
// Names already present in the target are skipped and reported; migration
// must not clobber entries the user has since recreated. Running with no
// legacy file is a no-op, which makes the operation safe to call on every
// startup.
func (r *Registry) MigrateLegacy(scope api.Scope) (*api.MigrationResult, error) {
	var legacyPath, targetPath string
	if scope == api.ScopeWorkspace {
		legacyPath = r.paths.WorkspaceLegacyConfig
		targetPath = r.paths.WorkspaceConfig
	} else {
		legacyPath = r.paths.UserLegacyConfig
		targetPath = r.paths.UserConfig
	}

	data, err := os.ReadFile(legacyPath)
	if os.IsNotExist(err) {
		return &api.MigrationResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy config %s: %w", legacyPath, err)
	}

	legacy, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse legacy config %s: %w", legacyPath, err)
	}

	target, err := r.loadTarget(targetPath)
	if err != nil {
		return nil, err
	}

	result := &api.MigrationResult{}
	for _, def := range legacy.Servers {
		if target.Get(def.Name) != nil {
			result.SkippedConflicts = append(result.SkippedConflicts, def.Name)
			continue
		}
		target.Servers = append(target.Servers, def)
		result.Imported++
	}

	if result.Imported > 0 {
		out, err := target.Marshal()
		if err != nil {
			return nil, err
		}
		if err := atomicfile.Write(targetPath, out, configFilePerm); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", targetPath, err)
		}
	}

	archived := fmt.Sprintf("%s.migrated-%d", legacyPath, nowUnix())
	if err := os.Rename(legacyPath, archived); err != nil {
		return nil, fmt.Errorf("imported %d servers but failed to archive legacy config: %w", result.Imported, err)
	}
	result.ArchivedPath = archived

	logging.Info("Registry", "Migrated %d servers from %s (%d conflicts skipped)",
		result.Imported, legacyPath, len(result.SkippedConflicts))
	return result, nil
}

// nowUnix is a hook for deterministic archive names in tests.
var nowUnix = func() int64 { return time.Now().Unix() }

func (r *Registry) loadTarget(path string) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return document.Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("refusing to migrate into %s: %w", path, err)
	}
	return doc, nil
}
