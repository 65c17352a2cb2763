package analyze

import (
	"path/filepath"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

// callMarker reacts to a call of a recognised capability and reports
// whether the call's children should be skipped.
func (a *analyzer) callMarker(marker staticeval.Marker, node *sitter.Node, args []*sitter.Node) bool {
	switch marker {
	case staticeval.MarkerFsFn, staticeval.MarkerFsDirFn:
		if len(args) == 0 || !a.opts.ComputeFileReferences {
			return false
		}
		value := a.evaluate(args[0], true)
		if value == nil {
			return false
		}
		if marker == staticeval.MarkerFsDirFn && a.isDirnameIdentifier(args[0]) {
			a.emitAssetDirectory(a.dir)
			return false
		}
		a.staticChildValue = value
		a.staticChildNode = args[0]
		a.emitStaticChildAsset()
	case staticeval.MarkerBindings:
		if len(args) == 0 {
			return false
		}
		name, ok := bindingsName(a.evaluate(args[0], false))
		if !ok {
			return false
		}
		if resolved := a.findBinding(name); resolved != "" {
			a.staticChildValue = staticeval.Known(resolved)
			a.staticChildNode = node
			a.emitStaticChildAsset()
		}
	case staticeval.MarkerNodeGypBuild:
		if len(args) != 1 || !a.isDirnameIdentifier(args[0]) {
			return false
		}
		if resolved := a.findNodeGypBuild(); resolved != "" {
			a.staticChildValue = staticeval.Known(resolved)
			a.staticChildNode = node
			a.emitStaticChildAsset()
		}
	case staticeval.MarkerExpressSet:
		if len(args) < 2 || a.expressEngineDefined {
			return false
		}
		if setting, ok := a.evaluate(args[0], false).String(); ok && setting == "view engine" {
			a.processRequireArg(args[1], false)
			return true
		}
	case staticeval.MarkerExpressEngine:
		a.expressEngineDefined = true
	case staticeval.MarkerSetRootDir:
		if len(args) == 0 {
			return false
		}
		if rootDir, ok := a.evaluate(args[0], false).String(); ok && rootDir != "" {
			a.emitAssetDirectory(filepath.Join(rootDir, "intl"))
		}
		return true
	case staticeval.MarkerPkgInfo:
		a.emitNearestManifest()
	case staticeval.MarkerBoundRequire:
		if len(args) > 0 {
			a.processRequireArg(args[0], false)
		}
	}
	return false
}

func (a *analyzer) isDirnameIdentifier(node *sitter.Node) bool {
	return node.Type() == "identifier" && nodeText(node, a.content) == "__dirname" && a.vars.visible("__dirname")
}

// bindingsName extracts the addon name from bindings('name') or
// bindings({ bindings: 'name' }).
func bindingsName(value *staticeval.Value) (string, bool) {
	if !value.IsConcrete() {
		return "", false
	}
	var name string
	switch typed := value.Value.(type) {
	case string:
		name = typed
	case *staticeval.Object:
		raw, ok := typed.Get("bindings")
		if !ok {
			return "", false
		}
		name, ok = raw.(string)
		if !ok {
			return "", false
		}
	default:
		return "", false
	}
	if name == "" {
		return "", false
	}
	if filepath.Ext(name) != ".node" {
		name += ".node"
	}
	return name, true
}

// bindingTryDirs are the build output directories the bindings package
// searches, relative to the module root.
var bindingTryDirs = [][]string{
	{"build"},
	{"build", "Debug"},
	{"build", "Release"},
	{"out", "Debug"},
	{"Debug"},
	{"out", "Release"},
	{"Release"},
	{"build", "default"},
	{"addon-build", "release", "install-root"},
	{"addon-build", "debug", "install-root"},
	{"addon-build", "default", "install-root"},
}

// findBinding locates a native addon the way the bindings package does at
// runtime.
func (a *analyzer) findBinding(name string) string {
	root := a.pkgBase
	if root == "" {
		root = a.dir
	}
	for _, dir := range bindingTryDirs {
		candidate := filepath.Join(append(append([]string{root}, dir...), name)...)
		if info, err := a.host.Stat(a.ctx, candidate); err == nil && info != nil && !info.IsDir() {
			return candidate
		}
	}
	for _, pattern := range []string{
		"compiled/*/" + a.opts.Platform + "/" + a.opts.Arch + "/" + name,
		"lib/binding/node-v*-" + a.opts.Platform + "-" + a.opts.Arch + "/" + name,
	} {
		if match := a.firstGlobMatch(root, pattern); match != "" {
			return match
		}
	}
	return ""
}

// findNodeGypBuild locates the addon node-gyp-build would load: a local
// build first, then a prebuild for the target platform.
func (a *analyzer) findNodeGypBuild() string {
	root := a.pkgBase
	if root == "" {
		root = a.dir
	}
	for _, pattern := range []string{
		"build/Release/*.node",
		"build/Debug/*.node",
		"prebuilds/" + a.opts.Platform + "-" + a.opts.Arch + "/*.node",
	} {
		if match := a.firstGlobMatch(root, pattern); match != "" {
			return match
		}
	}
	return ""
}

func (a *analyzer) firstGlobMatch(dir, pattern string) string {
	matches, err := a.host.Glob(a.ctx, dir, pattern)
	if err != nil {
		a.fail(err)
		return ""
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

// emitNearestManifest adds the closest package.json above the module,
// stopping short of the filesystem root.
func (a *analyzer) emitNearestManifest() {
	dir := a.dir
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		candidate := filepath.Join(dir, "package.json")
		if info, err := a.host.Stat(a.ctx, candidate); err == nil && info != nil {
			a.addAsset(candidate)
			return
		}
		dir = parent
	}
}
