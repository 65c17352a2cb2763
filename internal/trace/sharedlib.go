package trace

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ben-ranford/nfttrace/internal/resolve"
)

func sharedLibPatterns(platform string) []string {
	switch platform {
	case "darwin":
		return []string{"**/*.dylib"}
	case "win32":
		return []string{"**/*.dll"}
	default:
		return []string{"**/*.so", "**/*.so.*"}
	}
}

// emitSharedLibs lists the shared libraries shipped in the package of a
// native addon, skipping nested node_modules.
func (j *Job) emitSharedLibs(ctx context.Context, addon string) error {
	pkgBase := resolve.PackageBase(addon)
	if pkgBase == "" {
		return nil
	}
	for _, pattern := range sharedLibPatterns(j.opts.Platform) {
		files, err := j.Glob(ctx, pkgBase, pattern)
		if err != nil {
			return err
		}
		for _, file := range files {
			rel, err := filepath.Rel(pkgBase, file)
			if err != nil || strings.Contains("/"+filepath.ToSlash(rel), "/node_modules/") {
				continue
			}
			if _, err := j.emitFile(ctx, file, ReasonSharedLib, addon, false); err != nil {
				return err
			}
		}
	}
	return nil
}
