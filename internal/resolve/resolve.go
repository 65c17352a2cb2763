package resolve

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrModuleNotFound = errors.New("module not found")

type NotFoundError struct {
	Specifier string
	Parent    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("cannot find module '%s' loaded from %s", e.Specifier, e.Parent)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}

// Host is the file access the resolver needs. Every lookup goes through the
// trace job so results are cached and symlinks are recorded.
type Host interface {
	IsFile(ctx context.Context, path string) (bool, error)
	IsDir(ctx context.Context, path string) (bool, error)
	// Manifest returns the parsed package.json in dir, or nil when there is
	// none or it cannot be parsed.
	Manifest(ctx context.Context, dir string) (*Manifest, error)
	// PackageBoundary returns the nearest directory at or above path's
	// directory that holds a package.json, or "".
	PackageBoundary(ctx context.Context, path string) (string, error)
	Realpath(ctx context.Context, path, parent string) (string, error)
	// EmitManifest records a package.json consulted during resolution.
	EmitManifest(ctx context.Context, path, parent string) error
	// Warn records a non-fatal resolution problem.
	Warn(err error)
}

type Options struct {
	Base        string
	TS          bool
	Conditions  []string
	ExportsOnly bool
	Paths       map[string]string
}

type Resolver struct {
	host Host
	opts Options
}

func New(host Host, opts Options) *Resolver {
	return &Resolver{host: host, opts: opts}
}

func (r *Resolver) hasCondition(name string) bool {
	for _, condition := range r.opts.Conditions {
		if condition == name {
			return true
		}
	}
	return false
}

// Resolve maps specifier, as written in parent, to one or two real paths.
// Two paths are returned when exports-based and legacy resolution disagree
// and both targets exist. Core modules resolve to "node:<name>". Under the
// browser condition each file is passed through the browser map of its
// package, and files mapped to false are dropped.
func (r *Resolver) Resolve(ctx context.Context, specifier, parent string, cjs bool) ([]string, error) {
	var (
		resolved []string
		err      error
	)
	switch {
	case isPathSpecifier(specifier):
		var path string
		path, err = r.resolvePath(ctx, specifier, parent)
		resolved = []string{path}
	case strings.HasPrefix(specifier, "#"):
		var path string
		path, err = r.resolveImports(ctx, specifier, parent, cjs)
		resolved = []string{path}
	default:
		resolved, err = r.resolvePackage(ctx, specifier, parent, cjs)
	}
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(resolved))
	for _, path := range resolved {
		if strings.HasPrefix(path, builtinPrefix) {
			out = append(out, path)
			continue
		}
		realPath, err := r.host.Realpath(ctx, path, parent)
		if err != nil {
			return nil, err
		}
		realPath, keep, err := r.browserRemap(ctx, realPath, parent)
		if err != nil {
			return nil, err
		}
		if keep {
			out = append(out, realPath)
		}
	}
	return out, nil
}

// browserRemap applies the browser field of the package holding path. It
// reports false when the file is mapped to false. A target that does not
// resolve is reported through the host and the original file is kept.
func (r *Resolver) browserRemap(ctx context.Context, path, parent string) (string, bool, error) {
	if !r.hasCondition("browser") {
		return path, true, nil
	}
	boundary, err := r.host.PackageBoundary(ctx, path)
	if err != nil || boundary == "" {
		return path, true, err
	}
	manifest, err := r.host.Manifest(ctx, boundary)
	if err != nil || manifest == nil {
		return path, true, err
	}
	remaps, ok := manifest.Browser.(*Object)
	if !ok {
		return path, true, nil
	}
	for _, from := range remaps.Keys {
		if !browserKeyMatches(filepath.Join(boundary, filepath.FromSlash(from)), path) {
			continue
		}
		switch to := remaps.Values[from].(type) {
		case bool:
			if !to {
				return "", false, nil
			}
		case string:
			target, err := r.resolveFileOrDir(ctx, filepath.Join(boundary, filepath.FromSlash(to)), parent)
			if err != nil {
				return "", false, err
			}
			if target == "" {
				r.host.Warn(fmt.Errorf("browser field of %s maps %s to %s, which does not exist",
					filepath.Join(boundary, "package.json"), from, to))
				return path, true, nil
			}
			if target, err = r.host.Realpath(ctx, target, parent); err != nil {
				return "", false, err
			}
			return target, true, nil
		}
		return path, true, nil
	}
	return path, true, nil
}

// browserKeyMatches reports whether a browser map key names path. Keys may
// leave off the extension the way a require specifier can.
func browserKeyMatches(key, path string) bool {
	if key == path {
		return true
	}
	for _, ext := range []string{".js", ".json", ".node"} {
		if key+ext == path {
			return true
		}
	}
	return false
}

func isPathSpecifier(specifier string) bool {
	return filepath.IsAbs(specifier) ||
		specifier == "." || specifier == ".." ||
		strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

func (r *Resolver) resolvePath(ctx context.Context, specifier, parent string) (string, error) {
	path := specifier
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(parent), filepath.FromSlash(specifier))
	}
	if strings.HasSuffix(specifier, "/") {
		path += string(filepath.Separator)
	}
	resolved, err := r.resolveFileOrDir(ctx, path, parent)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", &NotFoundError{Specifier: path, Parent: parent}
	}
	return resolved, nil
}

func (r *Resolver) resolveFileOrDir(ctx context.Context, path, parent string) (string, error) {
	resolved, err := r.resolveFile(ctx, path, parent)
	if err != nil || resolved != "" {
		return resolved, err
	}
	return r.resolveDir(ctx, path, parent)
}

func (r *Resolver) resolveFile(ctx context.Context, path, parent string) (string, error) {
	if strings.HasSuffix(path, string(filepath.Separator)) || strings.HasSuffix(path, "/") {
		return "", nil
	}
	path, err := r.host.Realpath(ctx, path, parent)
	if err != nil {
		return "", err
	}

	candidates := []string{path}
	if r.opts.TS && r.inBaseSource(path) {
		candidates = append(candidates, path+".ts", path+".tsx")
	}
	candidates = append(candidates, path+".js", path+".json", path+".node")
	for _, candidate := range candidates {
		ok, err := r.host.IsFile(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", nil
}

// inBaseSource reports whether path is first-party code: under the base
// directory and not inside node_modules.
func (r *Resolver) inBaseSource(path string) bool {
	if r.opts.Base == "" || !strings.HasPrefix(path, r.opts.Base) {
		return false
	}
	sep := string(filepath.Separator)
	return !strings.Contains(path[len(r.opts.Base):], sep+nodeModules+sep)
}

func (r *Resolver) resolveDir(ctx context.Context, path, parent string) (string, error) {
	path = strings.TrimSuffix(path, string(filepath.Separator))
	isDir, err := r.host.IsDir(ctx, path)
	if err != nil || !isDir {
		return "", err
	}

	manifest, err := r.host.Manifest(ctx, path)
	if err != nil {
		return "", err
	}
	if main := r.mainField(manifest); main != "" {
		mainPath := filepath.Join(path, filepath.FromSlash(main))
		resolved, err := r.resolveFile(ctx, mainPath, parent)
		if err != nil {
			return "", err
		}
		if resolved == "" {
			if resolved, err = r.resolveFile(ctx, filepath.Join(mainPath, "index"), parent); err != nil {
				return "", err
			}
		}
		if resolved != "" {
			if err := r.host.EmitManifest(ctx, filepath.Join(path, "package.json"), parent); err != nil {
				return "", err
			}
			return resolved, nil
		}
	}
	return r.resolveFile(ctx, filepath.Join(path, "index"), parent)
}

func (r *Resolver) mainField(manifest *Manifest) string {
	if manifest == nil {
		return ""
	}
	if browser, ok := manifest.Browser.(string); ok && browser != "" && r.hasCondition("browser") {
		return browser
	}
	return manifest.Main
}

// finishExportsTarget checks a target produced from an exports or imports map.
// CommonJS resolution applies extension and directory probing; ESM requires
// the exact file.
func (r *Resolver) finishExportsTarget(ctx context.Context, target, parent string, cjs bool) (string, error) {
	if cjs {
		return r.resolveFileOrDir(ctx, target, parent)
	}
	ok, err := r.host.IsFile(ctx, target)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", &NotFoundError{Specifier: target, Parent: parent}
	}
	return target, nil
}

func (r *Resolver) resolveImports(ctx context.Context, name, parent string, cjs bool) (string, error) {
	if name == "#" || strings.HasPrefix(name, "#/") {
		return "", &NotFoundError{Specifier: name, Parent: parent}
	}
	boundary, err := r.host.PackageBoundary(ctx, parent)
	if err != nil {
		return "", err
	}
	if boundary == "" {
		return "", &NotFoundError{Specifier: name, Parent: parent}
	}
	manifest, err := r.host.Manifest(ctx, boundary)
	if err != nil {
		return "", err
	}
	if manifest == nil || !manifest.HasImports {
		return "", &NotFoundError{Specifier: name, Parent: parent}
	}
	target, ok := r.resolveExportsImports(boundary, manifest.Imports, name, true, cjs)
	if !ok {
		return "", &NotFoundError{Specifier: name, Parent: parent}
	}
	resolved, err := r.finishExportsTarget(ctx, target, parent, cjs)
	if err != nil {
		return "", err
	}
	if resolved == "" {
		return "", &NotFoundError{Specifier: name, Parent: parent}
	}
	if err := r.host.EmitManifest(ctx, filepath.Join(boundary, "package.json"), parent); err != nil {
		return "", err
	}
	return resolved, nil
}

func (r *Resolver) resolveSelf(ctx context.Context, name, pkgName, parent string, cjs bool) (string, error) {
	boundary, err := r.host.PackageBoundary(ctx, parent)
	if err != nil || boundary == "" {
		return "", err
	}
	manifest, err := r.host.Manifest(ctx, boundary)
	if err != nil {
		return "", err
	}
	if manifest == nil || manifest.Name == "" || manifest.Name != pkgName || !manifest.HasExports {
		return "", nil
	}
	target, ok := r.resolveExportsImports(boundary, manifest.Exports, "."+name[len(pkgName):], false, cjs)
	if !ok {
		return "", nil
	}
	resolved, err := r.finishExportsTarget(ctx, target, parent, cjs)
	if err != nil || resolved == "" {
		return "", err
	}
	if err := r.host.EmitManifest(ctx, filepath.Join(boundary, "package.json"), parent); err != nil {
		return "", err
	}
	return resolved, nil
}

func (r *Resolver) resolvePackage(ctx context.Context, name, parent string, cjs bool) ([]string, error) {
	if nodeBuiltinModules[name] {
		return []string{builtinPrefix + name}, nil
	}
	if strings.HasPrefix(name, builtinPrefix) {
		return []string{name}, nil
	}
	pkgName, _ := SpecifierPackage(name)
	subpath := "." + name[len(pkgName):]

	selfResolved, err := r.resolveSelf(ctx, name, pkgName, parent, cjs)
	if err != nil {
		return nil, err
	}

	for dir := filepath.Dir(parent); filepath.Dir(dir) != dir; dir = filepath.Dir(dir) {
		modulesDir := filepath.Join(dir, nodeModules)
		isDir, err := r.host.IsDir(ctx, modulesDir)
		if err != nil {
			return nil, err
		}
		if !isDir {
			continue
		}
		pkgDir := filepath.Join(modulesDir, filepath.FromSlash(pkgName))
		specPath := filepath.Join(modulesDir, filepath.FromSlash(name))
		manifest, err := r.host.Manifest(ctx, pkgDir)
		if err != nil {
			return nil, err
		}

		if manifest != nil && manifest.HasExports && selfResolved == "" {
			legacy := ""
			if !r.opts.ExportsOnly {
				if legacy, err = r.resolveFileOrDir(ctx, specPath, parent); err != nil {
					return nil, err
				}
			}
			resolved := ""
			if target, ok := r.resolveExportsImports(pkgDir, manifest.Exports, subpath, false, cjs); ok {
				if resolved, err = r.finishExportsTarget(ctx, target, parent, cjs); err != nil {
					return nil, err
				}
			}
			if resolved != "" {
				if err := r.host.EmitManifest(ctx, filepath.Join(pkgDir, "package.json"), parent); err != nil {
					return nil, err
				}
				if legacy != "" && legacy != resolved {
					return []string{resolved, legacy}, nil
				}
				return []string{resolved}, nil
			}
			if legacy != "" {
				return []string{legacy}, nil
			}
			continue
		}

		resolved, err := r.resolveFileOrDir(ctx, specPath, parent)
		if err != nil {
			return nil, err
		}
		if resolved != "" {
			if selfResolved != "" && selfResolved != resolved {
				return []string{resolved, selfResolved}, nil
			}
			return []string{resolved}, nil
		}
	}

	if selfResolved != "" {
		return []string{selfResolved}, nil
	}
	return r.resolveAlias(ctx, name, parent)
}

func (r *Resolver) resolveAlias(ctx context.Context, name, parent string) ([]string, error) {
	if target, ok := r.opts.Paths[name]; ok {
		return []string{target}, nil
	}
	for _, prefix := range sortedKeys(r.opts.Paths) {
		if !strings.HasSuffix(prefix, "/") || !strings.HasPrefix(name, prefix) {
			continue
		}
		target := r.opts.Paths[prefix] + name[len(prefix):]
		resolved, err := r.resolveFileOrDir(ctx, filepath.FromSlash(target), parent)
		if err != nil {
			return nil, err
		}
		if resolved == "" {
			return nil, &NotFoundError{Specifier: name, Parent: parent}
		}
		return []string{resolved}, nil
	}
	return nil, &NotFoundError{Specifier: name, Parent: parent}
}
