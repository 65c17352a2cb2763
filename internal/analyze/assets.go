package analyze

import (
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

var (
	excludedAssetExtensions = map[string]bool{".h": true, ".cmake": true, ".c": true, ".cpp": true}
	excludedAssetFiles      = map[string]bool{"CHANGELOG.md": true, "README.md": true, "readme.md": true, "changelog.md": true}
	repeatedGlobPattern     = regexp.MustCompile(`(/\*\*/\*)+`)
	globMeta                = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`)
)

// pendingGlob is a directory scan queued during the walk and run after it.
type pendingGlob struct {
	dir      string
	patterns []string
	asDeps   bool
}

// emitAssetPath records a file reference once the path is known to exist. A
// directory reference becomes a glob over its contents.
func (a *analyzer) emitAssetPath(assetPath string) {
	wildcardIndex := strings.Index(assetPath, staticeval.Wildcard)
	basePath := assetPath
	if wildcardIndex != -1 {
		basePath = assetPath[:max(strings.LastIndexByte(assetPath[:wildcardIndex], filepath.Separator), 0)]
	}
	info, err := a.host.Stat(a.ctx, basePath)
	if err != nil || info == nil {
		return
	}
	switch {
	case wildcardIndex != -1 && !info.IsDir():
	case !info.IsDir():
		a.addAsset(assetPath)
	case a.validWildcard(assetPath):
		a.emitAssetDirectory(assetPath)
	}
}

// validWildcard rejects directory references that would pull in far more
// than the module needs.
func (a *analyzer) validWildcard(assetDirPath string) bool {
	sep := string(filepath.Separator)
	suffix := ""
	switch {
	case strings.HasSuffix(assetDirPath, sep):
		suffix = sep
	case strings.HasSuffix(assetDirPath, sep+staticeval.Wildcard):
		suffix = sep + staticeval.Wildcard
	case strings.HasSuffix(assetDirPath, staticeval.Wildcard):
		suffix = staticeval.Wildcard
	}
	if assetDirPath == a.dir+suffix || assetDirPath == a.opts.Cwd+suffix {
		return false
	}
	if strings.HasSuffix(assetDirPath, sep+"node_modules"+suffix) {
		return false
	}
	if strings.HasPrefix(a.dir, strings.TrimSuffix(assetDirPath, suffix)+sep) {
		return false
	}
	if a.pkgBase != "" {
		nodeModulesBase := a.path[:strings.Index(a.path, sep+"node_modules")] + sep + "node_modules" + sep
		if !strings.HasPrefix(assetDirPath, nodeModulesBase) {
			a.logger.Debug("skipping asset emission outside package base",
				slog.String("path", strings.ReplaceAll(assetDirPath, staticeval.Wildcard, "*")),
				slog.String("file", a.path))
			return false
		}
	}
	return true
}

// splitWildcardPath splits a path holding wildcard placeholders into the
// directory before the first placeholder and a slash-separated glob pattern
// for the rest.
func splitWildcardPath(wildcardPath string) (string, string) {
	wildcardIndex := strings.Index(wildcardPath, staticeval.Wildcard)
	dirIndex := len(wildcardPath)
	if wildcardIndex != -1 {
		dirIndex = max(strings.LastIndexByte(wildcardPath[:wildcardIndex], filepath.Separator), 0)
	}
	dir := wildcardPath[:dirIndex]
	rest := filepath.ToSlash(wildcardPath[dirIndex:])

	var pattern strings.Builder
	for i := 0; i < len(rest); i++ {
		if rest[i] != staticeval.Wildcard[0] {
			pattern.WriteString(globMeta.Replace(rest[i : i+1]))
			continue
		}
		if i > 0 && rest[i-1] == '/' {
			pattern.WriteString("**/*")
		} else {
			pattern.WriteString("*")
		}
	}
	return dir, pattern.String()
}

// emitAssetDirectory queues a glob of a directory, or of a wildcard path, as
// assets.
func (a *analyzer) emitAssetDirectory(wildcardPath string) {
	if !a.opts.EmitGlobs {
		return
	}
	dir, pattern := splitWildcardPath(wildcardPath)
	pattern = repeatedGlobPattern.ReplaceAllString(pattern, "/**/*")
	if pattern == "" || pattern == "/" {
		pattern = "/**/*"
	}
	if a.host.IgnoreGlob(dir + filepath.FromSlash(pattern)) {
		return
	}
	a.pendingGlobs = append(a.pendingGlobs, pendingGlob{dir: dir, patterns: []string{strings.TrimPrefix(pattern, "/")}})
}

// emitWildcardRequire queues a glob for a relative require whose specifier
// is only partly known. Matches are recorded as dependencies.
func (a *analyzer) emitWildcardRequire(specifier string) {
	if !a.opts.EmitGlobs || (!strings.HasPrefix(specifier, "./") && !strings.HasPrefix(specifier, "../")) {
		return
	}
	dir, pattern := splitWildcardPath(filepath.Join(a.dir, filepath.FromSlash(specifier)))
	if pattern == "" {
		pattern = "/**/*"
	}
	patterns := []string{pattern}
	if !strings.HasSuffix(pattern, "*") {
		extensions := []string{".js", ".json", ".node"}
		if a.opts.TS {
			extensions = append([]string{".ts", ".tsx"}, extensions...)
		}
		for _, ext := range extensions {
			patterns = append(patterns, pattern+ext)
		}
	}
	if a.host.IgnoreGlob(dir + filepath.FromSlash(pattern)) {
		return
	}
	for i := range patterns {
		patterns[i] = strings.TrimPrefix(patterns[i], "/")
	}
	a.pendingGlobs = append(a.pendingGlobs, pendingGlob{dir: dir, patterns: patterns, asDeps: true})
}

// flushGlobs runs the queued globs one after another.
func (a *analyzer) flushGlobs() {
	for _, pending := range a.pendingGlobs {
		for _, pattern := range pending.patterns {
			if a.stopped() {
				return
			}
			a.logger.Debug("globbing", slog.String("dir", pending.dir), slog.String("pattern", pattern))
			files, err := a.host.Glob(a.ctx, pending.dir, pattern)
			if err != nil {
				a.fail(err)
				return
			}
			for _, file := range files {
				if !keepGlobMatch(pending.dir, file) {
					continue
				}
				if pending.asDeps {
					a.deps[file] = struct{}{}
				} else {
					a.addAsset(file)
				}
			}
		}
	}
	a.pendingGlobs = nil
}

func keepGlobMatch(dir, file string) bool {
	if excludedAssetExtensions[filepath.Ext(file)] || excludedAssetFiles[filepath.Base(file)] {
		return false
	}
	rel, err := filepath.Rel(dir, file)
	if err != nil {
		return false
	}
	for _, segment := range strings.Split(filepath.ToSlash(rel), "/") {
		if segment == "node_modules" {
			return false
		}
	}
	return true
}
