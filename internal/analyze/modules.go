package analyze

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ben-ranford/nfttrace/internal/resolve"
	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

var errNotString = errors.New("argument is not a string")

var fsFunctions = []string{
	"access", "accessSync", "createReadStream", "exists", "existsSync",
	"fstat", "fstatSync", "lstat", "lstatSync", "open", "readFile", "readFileSync",
	"stat", "statSync",
}

var fsDirFunctions = []string{"readdir", "readdirSync"}

// moduleRecord wraps a default export with its named exports, the shape a
// namespace import sees.
func moduleRecord(defaultExport any) *staticeval.Object {
	props := map[string]any{"default": defaultExport}
	if obj, ok := defaultExport.(*staticeval.Object); ok {
		for name, value := range obj.Props {
			props[name] = value
		}
	}
	return &staticeval.Object{Props: props}
}

func fsObject() *staticeval.Object {
	props := map[string]any{}
	for _, name := range fsFunctions {
		props[name] = staticeval.MarkerFsFn
	}
	for _, name := range fsDirFunctions {
		props[name] = staticeval.MarkerFsDirFn
	}
	return &staticeval.Object{Props: props, Partial: true}
}

func (a *analyzer) staticModules() map[string]*staticeval.Object {
	fsPromises := fsObject()
	fsModule := fsObject()
	fsModule.Props["promises"] = fsPromises

	return map[string]*staticeval.Object{
		"fs":          moduleRecord(fsModule),
		"fs/promises": moduleRecord(fsPromises),
		"path":        moduleRecord(a.pathObject()),
		"os":          moduleRecord(a.osObject()),
		"url": moduleRecord(&staticeval.Object{Props: map[string]any{
			"fileURLToPath": hostFunc(func(args []any) (any, error) {
				if len(args) == 0 {
					return nil, errNotString
				}
				path, ok := staticeval.FileURLToPath(args[0])
				if !ok {
					return nil, errNotString
				}
				return filepath.FromSlash(path), nil
			}),
			"pathToFileURL": hostFunc(func(args []any) (any, error) {
				path, err := stringArg(args, 0)
				if err != nil {
					return nil, err
				}
				return fileURL(a.absolute(path)), nil
			}),
		}, Partial: true}),
		"process": moduleRecord(a.processObject()),
		"module": moduleRecord(&staticeval.Object{Props: map[string]any{
			"createRequire": hostFunc(func([]any) (any, error) {
				return staticeval.MarkerBoundRequire, nil
			}),
		}, Partial: true}),
		"bindings":       moduleRecord(staticeval.MarkerBindings),
		"node-gyp-build": moduleRecord(staticeval.MarkerNodeGypBuild),
		"express": moduleRecord(hostFunc(func([]any) (any, error) {
			return &staticeval.Object{Props: map[string]any{
				"set":    staticeval.MarkerExpressSet,
				"engine": staticeval.MarkerExpressEngine,
			}, Partial: true}, nil
		})),
		"strong-globalize": {Props: map[string]any{
			"default":    &staticeval.Object{Props: map[string]any{"SetRootDir": staticeval.MarkerSetRootDir}, Partial: true},
			"SetRootDir": staticeval.MarkerSetRootDir,
		}},
		"pkginfo": moduleRecord(staticeval.MarkerPkgInfo),
	}
}

// lookupModule returns the modeled module for a specifier, accepting the
// node: prefix.
func (a *analyzer) lookupModule(specifier string) *staticeval.Object {
	return a.modules[strings.TrimPrefix(specifier, "node:")]
}

func (a *analyzer) installGlobals() {
	a.vars.setInitial("__dirname", a.dir)
	a.vars.setInitial("__filename", a.path)
	a.vars.setInitial("process", a.processObject())
	a.vars.setInitial("URL", staticeval.URLConstructor)
	a.vars.setInitial("import.meta", &staticeval.Object{Props: map[string]any{"url": a.importMetaURL}, Partial: true})
	if !a.isESM || a.opts.MixedModules {
		a.vars.setInitial("require", a.requireObject())
	}
}

func (a *analyzer) requireObject() *staticeval.Object {
	failed := map[string]struct{}{}
	resolveFn := &staticeval.Object{
		Trigger: true,
		Call: func(_ any, args []any) (any, error) {
			specifier, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			resolved, err := a.host.Resolve(a.ctx, specifier, a.path, true)
			if err != nil {
				if _, seen := failed[specifier]; !seen && a.ctx.Err() == nil {
					failed[specifier] = struct{}{}
					a.warn(fmt.Errorf("failed to resolve require.resolve(%q) in %s: %w", specifier, a.path, err))
				}
				return nil, err
			}
			if len(resolved) == 0 || resolve.IsBuiltin(resolved[0]) {
				return staticeval.UnknownProp, nil
			}
			return resolved[0], nil
		},
	}
	return &staticeval.Object{
		Props: map[string]any{"resolve": resolveFn},
		Call: func(_ any, args []any) (any, error) {
			specifier, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			if strings.Contains(specifier, staticeval.Wildcard) {
				return staticeval.UnknownProp, nil
			}
			a.addDep(specifier, false)
			module := a.lookupModule(specifier)
			if module == nil {
				return staticeval.UnknownProp, nil
			}
			value, _ := module.Get("default")
			return value, nil
		},
		Partial: true,
	}
}

func (a *analyzer) processObject() *staticeval.Object {
	return &staticeval.Object{Props: map[string]any{
		"cwd": hostFunc(func([]any) (any, error) {
			return a.opts.Cwd, nil
		}),
		"env": &staticeval.Object{Props: map[string]any{
			"NODE_ENV": staticeval.UnknownProp,
		}, Partial: true},
		"platform": a.opts.Platform,
		"arch":     a.opts.Arch,
	}, Partial: true}
}

func (a *analyzer) osObject() *staticeval.Object {
	eol := "\n"
	if a.opts.Platform == "win32" {
		eol = "\r\n"
	}
	return &staticeval.Object{Props: map[string]any{
		"platform": hostFunc(func([]any) (any, error) { return a.opts.Platform, nil }),
		"arch":     hostFunc(func([]any) (any, error) { return a.opts.Arch, nil }),
		"EOL":      eol,
	}, Partial: true}
}

func (a *analyzer) pathObject() *staticeval.Object {
	obj := &staticeval.Object{Props: map[string]any{
		"sep":       string(filepath.Separator),
		"delimiter": string(filepath.ListSeparator),
		"join": hostFunc(func(args []any) (any, error) {
			parts, err := stringArgs(args)
			if err != nil {
				return nil, err
			}
			joined := filepath.Join(parts...)
			if joined == "" {
				return ".", nil
			}
			return joined, nil
		}),
		"resolve": hostFunc(func(args []any) (any, error) {
			parts, err := stringArgs(args)
			if err != nil {
				return nil, err
			}
			resolved := a.opts.Cwd
			for _, part := range parts {
				if part == "" {
					continue
				}
				if filepath.IsAbs(part) {
					resolved = part
					continue
				}
				resolved = filepath.Join(resolved, part)
			}
			return filepath.Clean(resolved), nil
		}),
		"dirname": hostFunc(func(args []any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return filepath.Dir(strings.TrimRight(path, string(filepath.Separator))), nil
		}),
		"basename": hostFunc(func(args []any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			base := filepath.Base(path)
			if ext, err := stringArg(args, 1); err == nil && ext != base {
				base = strings.TrimSuffix(base, ext)
			}
			return base, nil
		}),
		"extname": hostFunc(func(args []any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return extname(path), nil
		}),
		"normalize": hostFunc(func(args []any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			normalized := filepath.Clean(path)
			if strings.HasSuffix(path, string(filepath.Separator)) && normalized != string(filepath.Separator) {
				normalized += string(filepath.Separator)
			}
			return normalized, nil
		}),
		"relative": hostFunc(func(args []any) (any, error) {
			parts, err := stringArgs(args)
			if err != nil || len(parts) != 2 {
				return nil, errNotString
			}
			rel, err := filepath.Rel(a.absolute(parts[0]), a.absolute(parts[1]))
			if err != nil {
				return nil, err
			}
			if rel == "." {
				return "", nil
			}
			return rel, nil
		}),
		"isAbsolute": hostFunc(func(args []any) (any, error) {
			path, err := stringArg(args, 0)
			if err != nil {
				return nil, err
			}
			return filepath.IsAbs(path), nil
		}),
	}}
	obj.Props["posix"] = obj
	obj.Props["win32"] = obj
	return obj
}

// absolute resolves path against the modeled process.cwd().
func (a *analyzer) absolute(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(a.opts.Cwd, path)
}

func extname(path string) string {
	base := filepath.Base(path)
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 || strings.Trim(base, ".") == "" {
		return ""
	}
	return base[idx:]
}

func hostFunc(fn func(args []any) (any, error)) *staticeval.Object {
	return &staticeval.Object{Call: func(_ any, args []any) (any, error) {
		return fn(args)
	}}
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", errNotString
	}
	s, ok := args[i].(string)
	if !ok {
		return "", errNotString
	}
	return s, nil
}

func stringArgs(args []any) ([]string, error) {
	out := make([]string, len(args))
	for i := range args {
		s, err := stringArg(args, i)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// isAbsolutePathOrURL reports whether a value looks like a file reference:
// an absolute path, a file: URL string, or a file: URL object.
func isAbsolutePathOrURL(v any) bool {
	switch typed := v.(type) {
	case *url.URL:
		return typed.Scheme == "file"
	case string:
		if strings.HasPrefix(typed, "file:") {
			_, err := url.Parse(typed)
			return err == nil
		}
		return filepath.IsAbs(typed)
	default:
		return false
	}
}

// assetPath converts a file reference to a cleaned local path.
func (a *analyzer) assetPath(v any) (string, bool) {
	if u, ok := v.(*url.URL); ok {
		path, ok := staticeval.FileURLToPath(u)
		if !ok {
			return "", false
		}
		return filepath.Clean(filepath.FromSlash(path)), true
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(s, "file:") {
		path, ok := staticeval.FileURLToPath(s)
		if !ok {
			return "", false
		}
		return filepath.Clean(filepath.FromSlash(path)), true
	}
	return a.absolute(s), true
}
