package analyze

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ben-ranford/nfttrace/internal/resolve"
	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

var ErrParse = errors.New("parse failed")

// Host is what the analyzer needs from the trace job.
type Host interface {
	// Stat returns nil with a nil error when path does not exist.
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
	// ReadFile returns nil with a nil error when path does not exist.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Resolve(ctx context.Context, specifier, parent string, cjs bool) ([]string, error)
	Glob(ctx context.Context, dir, pattern string) ([]string, error)
	// IgnoreGlob reports whether an absolute glob pattern is excluded from
	// the trace.
	IgnoreGlob(pattern string) bool
}

type Options struct {
	Base                    string
	Cwd                     string
	TS                      bool
	MixedModules            bool
	EmitGlobs               bool
	ComputeFileReferences   bool
	EvaluatePureExpressions bool
	// Platform and Arch use Node.js naming (linux, darwin, win32; x64, arm64).
	Platform string
	Arch     string
	Logger   *slog.Logger
}

type Result struct {
	Deps     []string
	Imports  []string
	Assets   []string
	IsESM    bool
	Warnings []error
}

type analyzer struct {
	ctx     context.Context
	host    Host
	opts    Options
	logger  *slog.Logger
	path    string
	dir     string
	pkgBase string
	content []byte
	root    *sitter.Node

	isESM         bool
	importMetaURL string
	vars          *bindingTable
	modules       map[string]*staticeval.Object

	deps    map[string]struct{}
	imports map[string]struct{}
	assets  map[string]struct{}

	pendingGlobs []pendingGlob
	warnings     []error
	err          error

	staticChildNode  *sitter.Node
	staticChildValue *staticeval.Value

	expressEngineDefined bool
	requireWrappers      map[uintptr]bool
	browserifyInternals  map[uintptr]map[string]bool
	internalStack        []map[string]bool
}

// Analyze statically inspects one JavaScript or TypeScript module and
// reports the specifiers it loads and the files it references.
func Analyze(ctx context.Context, host Host, opts Options, path string, source []byte) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Cwd == "" {
		opts.Cwd = opts.Base
	}
	content := stripShebang(source)
	tree, err := defaultParser.Parse(ctx, path, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return &Result{Warnings: []error{fmt.Errorf("%w: %s", ErrParse, path)}}, nil
	}

	a := &analyzer{
		ctx:                 ctx,
		host:                host,
		opts:                opts,
		logger:              opts.Logger,
		path:                path,
		dir:                 filepath.Dir(path),
		pkgBase:             resolve.PackageBase(path),
		content:             content,
		root:                root,
		importMetaURL:       fileURL(path).String(),
		vars:                newBindingTable(),
		deps:                map[string]struct{}{},
		imports:             map[string]struct{}{},
		assets:              map[string]struct{}{},
		requireWrappers:     map[uintptr]bool{},
		browserifyInternals: map[uintptr]map[string]bool{},
	}
	a.isESM = detectESM(root, content, path)
	a.modules = a.staticModules()
	a.installGlobals()
	if a.isESM || opts.MixedModules {
		a.scanModuleDeclarations()
	}

	a.handleSpecialCases()
	a.markWrappers(root)
	a.visit(root)
	a.flushGlobs()
	if a.err != nil {
		return nil, a.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Result{
		Deps:     sortedSet(a.deps),
		Imports:  sortedSet(a.imports),
		Assets:   sortedSet(a.assets),
		IsESM:    a.isESM,
		Warnings: a.warnings,
	}, nil
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// fail records the first fatal error.
func (a *analyzer) fail(err error) {
	if err == nil || a.err != nil {
		return
	}
	a.err = err
}

func (a *analyzer) stopped() bool {
	return a.err != nil || a.ctx.Err() != nil
}

// detectESM decides the module format. The .cjs and .cts extensions are
// always CommonJS and .mjs and .mts always ESM. Anything else is ESM when it
// has top-level import or export declarations or reads import.meta.
func detectESM(root *sitter.Node, content []byte, path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cjs", ".cts":
		return false
	case ".mjs", ".mts":
		return true
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		switch child.Type() {
		case "import_statement":
			if !isTypeOnlyImport(child) && firstNamedChildOfType(child, "import_require_clause") == nil {
				return true
			}
		case "export_statement":
			return true
		}
	}
	return usesImportMeta(root, content)
}

func isTypeOnlyImport(node *sitter.Node) bool {
	return hasChildOfType(node, "type") || hasChildOfType(node, "typeof")
}

func usesImportMeta(node *sitter.Node, content []byte) bool {
	if isImportMeta(node, content) {
		return true
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if usesImportMeta(node.NamedChild(i), content) {
			return true
		}
	}
	return false
}

func isImportMeta(node *sitter.Node, content []byte) bool {
	switch node.Type() {
	case "meta_property":
		return strings.Join(strings.Fields(nodeText(node, content)), "") == "import.meta"
	case "member_expression":
		object := node.ChildByFieldName("object")
		return object != nil && object.Type() == "import" && nodeText(node.ChildByFieldName("property"), content) == "meta"
	}
	return false
}

// scanModuleDeclarations records import and re-export sources and binds
// imports of modeled modules.
func (a *analyzer) scanModuleDeclarations() {
	for i := 0; i < int(a.root.NamedChildCount()); i++ {
		decl := a.root.NamedChild(i)
		switch decl.Type() {
		case "import_statement":
			if isTypeOnlyImport(decl) {
				continue
			}
			sourceNode := decl.ChildByFieldName("source")
			if sourceNode == nil {
				continue
			}
			source, ok := staticeval.StringLiteral(sourceNode, a.content)
			if !ok {
				continue
			}
			if firstNamedChildOfType(decl, "import_require_clause") != nil {
				continue
			}
			a.addDep(source, false)
			if module := a.lookupModule(source); module != nil {
				a.bindImportClause(firstNamedChildOfType(decl, "import_clause"), module)
			}
		case "export_statement":
			if sourceNode := decl.ChildByFieldName("source"); sourceNode != nil {
				if source, ok := staticeval.StringLiteral(sourceNode, a.content); ok {
					a.addDep(source, false)
				}
			}
		}
	}
}

func (a *analyzer) bindImportClause(clause *sitter.Node, module *staticeval.Object) {
	if clause == nil {
		return
	}
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		child := clause.NamedChild(i)
		switch child.Type() {
		case "identifier":
			if value, ok := module.Get("default"); ok {
				a.vars.set(nodeText(child, a.content), value)
			}
		case "namespace_import":
			if local := firstNamedChildOfType(child, "identifier"); local != nil {
				a.vars.set(nodeText(local, a.content), module)
			}
		case "named_imports":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				nameNode := spec.ChildByFieldName("name")
				local := spec.ChildByFieldName("alias")
				if local == nil {
					local = nameNode
				}
				name := nodeText(nameNode, a.content)
				if nameNode != nil && nameNode.Type() == "string" {
					name, _ = staticeval.StringLiteral(nameNode, a.content)
				}
				if value, ok := module.Get(name); ok {
					a.vars.set(nodeText(local, a.content), value)
				}
			}
		}
	}
}

// addDep records a specifier loaded by require (or a static import) unless
// it names a module bundled into an enclosing browserify registry.
func (a *analyzer) addDep(specifier string, dynamicImport bool) {
	if len(a.internalStack) > 0 && a.internalStack[len(a.internalStack)-1][specifier] {
		return
	}
	if dynamicImport {
		a.imports[specifier] = struct{}{}
		return
	}
	a.deps[specifier] = struct{}{}
}

func (a *analyzer) addAsset(path string) {
	a.assets[path] = struct{}{}
}

func (a *analyzer) warn(err error) {
	a.warnings = append(a.warnings, err)
}

// NodePlatform maps a GOOS value to Node's process.platform naming.
func NodePlatform(goos string) string {
	switch goos {
	case "windows":
		return "win32"
	default:
		return goos
	}
}

// NodeArch maps a GOARCH value to Node's process.arch naming.
func NodeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}

func fileURL(path string) *url.URL {
	return staticeval.PathToFileURL(filepath.ToSlash(path))
}
