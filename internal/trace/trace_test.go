package trace

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/ben-ranford/nfttrace/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testOptions(base string) Options {
	opts := DefaultOptions()
	opts.Base = base
	opts.Platform = "linux"
	opts.Arch = "x64"
	return opts
}

func writeFiles(t *testing.T, base string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		testutil.MustWriteFile(t, filepath.Join(base, filepath.FromSlash(name)), content)
	}
}

func mustTrace(t *testing.T, base string, opts Options, entries ...string) *Result {
	t.Helper()
	paths := make([]string, len(entries))
	for i, entry := range entries {
		paths[i] = filepath.Join(base, filepath.FromSlash(entry))
	}
	result, err := Trace(context.Background(), paths, opts)
	if err != nil {
		t.Fatalf("trace: %v", err)
	}
	return result
}

func expectFiles(t *testing.T, label string, got []string, want ...string) {
	t.Helper()
	for i := range want {
		want[i] = filepath.FromSlash(want[i])
	}
	if len(want) == 0 {
		want = []string{}
	}
	if got == nil {
		got = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("%s: expected %v, got %v", label, want, got)
	}
}

func TestTraceDependencyAndAsset(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js": "require('./dep');\n",
		"dep.js": `const fs = require('fs');
const path = require('path');
module.exports = fs.readFileSync(path.join(__dirname, 'asset.txt'), 'utf8');
`,
		"asset.txt": "hello",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList, "asset.txt", "dep.js", "input.js")
	expectFiles(t, "esm files", result.ESMFileList)
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	input := result.Reasons["input.js"]
	if !input.Has(ReasonInitial) || len(input.Parents) != 0 {
		t.Fatalf("unexpected reason for input.js: %+v", input)
	}
	if dep := result.Reasons["dep.js"]; !dep.Has(ReasonDependency) || !reflect.DeepEqual(dep.Parents, []string{"input.js"}) {
		t.Fatalf("unexpected reason for dep.js: %+v", dep)
	}
	if asset := result.Reasons["asset.txt"]; !asset.Has(ReasonAsset) || !reflect.DeepEqual(asset.Parents, []string{"dep.js"}) {
		t.Fatalf("unexpected reason for asset.txt: %+v", asset)
	}
}

func TestTraceIsDeterministic(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":  "require('./a'); require('./b'); require('./c');\n",
		"a.js":      "require('./shared');\n",
		"b.js":      "require('./shared'); require('./c');\n",
		"c.js":      "require('./a');\n",
		"shared.js": "module.exports = 1;\n",
	})

	first := mustTrace(t, base, testOptions(base), "input.js")
	for i := 0; i < 5; i++ {
		again := mustTrace(t, base, testOptions(base), "input.js")
		if !reflect.DeepEqual(first.FileList, again.FileList) {
			t.Fatalf("run %d: expected %v, got %v", i, first.FileList, again.FileList)
		}
	}
	expectFiles(t, "files", first.FileList, "a.js", "b.js", "c.js", "input.js", "shared.js")
}

func TestTraceConditionalRequire(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js": "module.exports = require(process.env.FAST ? './a' : './b');\n",
		"a.js":     "module.exports = 'a';\n",
		"b.js":     "module.exports = 'b';\n",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList, "a.js", "b.js", "input.js")
}

func TestTraceWildcardAssetDirectory(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js": `const fs = require('fs');
const path = require('path');
module.exports = (name) => fs.readFileSync(path.join(__dirname, 'dir', name, 'x.txt'));
`,
		"dir/sub/x.txt":  "1",
		"dir/sub2/x.txt": "2",
		"dir/other.txt":  "3",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList, "dir/sub/x.txt", "dir/sub2/x.txt", "input.js")

	opts := testOptions(base)
	opts.Analysis.EmitGlobs = false
	result = mustTrace(t, base, opts, "input.js")
	expectFiles(t, "files without globs", result.FileList, "input.js")
}

func TestTraceConditionalExports(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"main.js":                       "require('pkg');\n",
		"main.mjs":                      "import 'pkg';\n",
		"node_modules/pkg/package.json": `{"name":"pkg","exports":{".":{"import":"./esm.js","require":"./cjs.js"}}}`,
		"node_modules/pkg/cjs.js":       "module.exports = 1;\n",
		"node_modules/pkg/esm.js":       "export default 1;\n",
	})

	cjs := mustTrace(t, base, testOptions(base), "main.js")
	expectFiles(t, "cjs files", cjs.FileList, "main.js", "node_modules/pkg/cjs.js", "node_modules/pkg/package.json")

	esm := mustTrace(t, base, testOptions(base), "main.mjs")
	expectFiles(t, "esm files", esm.FileList, "main.mjs", "node_modules/pkg/esm.js", "node_modules/pkg/package.json")
	expectFiles(t, "esm subset", esm.ESMFileList, "main.mjs", "node_modules/pkg/esm.js")
	if pkg := esm.Reasons[filepath.FromSlash("node_modules/pkg/package.json")]; !pkg.Has(ReasonResolve) {
		t.Fatalf("expected package.json to be tagged resolve, got %+v", pkg)
	}
}

func TestTraceResolutionFailureIsWarning(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":   "require('./missing');\nrequire('./present');\n",
		"present.js": "module.exports = 1;\n",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList, "input.js", "present.js")
	if len(result.Warnings) != 1 || !errors.Is(result.Warnings[0], ErrModuleNotFound) {
		t.Fatalf("expected one module-not-found warning, got %v", result.Warnings)
	}
}

func TestTraceParseFailureKeepsFile(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":  "require('./broken');\n",
		"broken.js": "function (\n",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList, "broken.js", "input.js")
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one parse warning, got %v", result.Warnings)
	}
}

func TestTraceIgnore(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":      "require('./vendor/big'); require('./lib');\n",
		"vendor/big.js": "module.exports = 1;\n",
		"lib.js":        "module.exports = 2;\n",
	})

	t.Run("patterns", func(t *testing.T) {
		opts := testOptions(base)
		opts.IgnorePatterns = []string{"vendor/**"}
		result := mustTrace(t, base, opts, "input.js")
		expectFiles(t, "files", result.FileList, "input.js", "lib.js")
		if reason := result.Reasons[filepath.FromSlash("vendor/big.js")]; !reason.Ignored {
			t.Fatalf("expected vendor/big.js to be recorded as ignored, got %+v", reason)
		}
	})

	t.Run("predicate", func(t *testing.T) {
		opts := testOptions(base)
		opts.Ignore = func(path, parent string) bool { return path == "lib.js" && parent == "input.js" }
		result := mustTrace(t, base, opts, "input.js")
		expectFiles(t, "files", result.FileList, "input.js", "vendor/big.js")
	})
}

func TestTraceOutsideBaseIsIgnored(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "app")
	writeFiles(t, root, map[string]string{
		"app/input.js":   "require('../shared/util');\n",
		"shared/util.js": "module.exports = 1;\n",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList, "input.js")
	if reason := result.Reasons[filepath.Join("..", "shared", "util.js")]; !reason.Ignored {
		t.Fatalf("expected file outside base to be ignored, got %+v", reason)
	}
}

func TestTraceSymlinkedEntry(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{"real.js": "require('./dep');\n", "dep.js": "module.exports = 1;\n"})
	testutil.MustSymlink(t, "real.js", filepath.Join(base, "link.js"))

	result := mustTrace(t, base, testOptions(base), "link.js")
	expectFiles(t, "files", result.FileList, "dep.js", "link.js", "real.js")
	if link := result.Reasons["link.js"]; !link.Has(ReasonResolve) {
		t.Fatalf("expected symlink to be tagged resolve, got %+v", link)
	}
	if target := result.Reasons["real.js"]; !target.Has(ReasonInitial) {
		t.Fatalf("expected real file to be tagged initial, got %+v", target)
	}
}

func TestTraceSymlinkedPackageDirectory(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":                  "require('pkg');\n",
		"packages/pkg/index.js":     "module.exports = 1;\n",
		"packages/pkg/package.json": `{"name":"pkg"}`,
	})
	testutil.MustSymlink(t, filepath.Join("..", "packages", "pkg"), filepath.Join(base, "node_modules", "pkg"))

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList,
		"input.js", "node_modules/pkg", "packages/pkg/index.js", "packages/pkg/package.json")
}

func TestTraceSymlinkCycleFails(t *testing.T) {
	base := t.TempDir()
	testutil.MustSymlink(t, "b.js", filepath.Join(base, "a.js"))
	testutil.MustSymlink(t, "a.js", filepath.Join(base, "b.js"))

	_, err := Trace(context.Background(), []string{filepath.Join(base, "a.js")}, testOptions(base))
	if !errors.Is(err, ErrSymlinkCycle) {
		t.Fatalf("expected symlink cycle error, got %v", err)
	}
}

func TestTraceSharedLibraries(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":                                    "require('addon');\n",
		"node_modules/addon/package.json":             `{"name":"addon"}`,
		"node_modules/addon/index.js":                 "module.exports = require('./build/Release/addon.node');\n",
		"node_modules/addon/build/Release/addon.node": "bin",
		"node_modules/addon/lib/libfoo.so.1":          "so",
		"node_modules/addon/node_modules/x/x.so":      "nested",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "files", result.FileList,
		"input.js",
		"node_modules/addon/build/Release/addon.node",
		"node_modules/addon/index.js",
		"node_modules/addon/lib/libfoo.so.1",
		"node_modules/addon/package.json",
	)
	lib := result.Reasons[filepath.FromSlash("node_modules/addon/lib/libfoo.so.1")]
	if !lib.Has(ReasonSharedLib) {
		t.Fatalf("expected sharedlib reason, got %+v", lib)
	}
}

func TestTraceBrowserRemap(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":                      "require('pkg');\n",
		"node_modules/pkg/package.json": `{"name":"pkg","main":"./server.js","browser":{"./server.js":"./client.js"}}`,
		"node_modules/pkg/server.js":    "module.exports = 'server';\n",
		"node_modules/pkg/client.js":    "module.exports = 'client';\n",
	})

	opts := testOptions(base)
	opts.Conditions = []string{"browser"}
	result := mustTrace(t, base, opts, "input.js")
	expectFiles(t, "files", result.FileList, "input.js", "node_modules/pkg/client.js", "node_modules/pkg/package.json")
}

func TestTraceBrowserRemapIsStable(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":                      "require('pkg');\nrequire('./node_modules/pkg/server.js');\n",
		"node_modules/pkg/package.json": `{"name":"pkg","main":"./index.js","browser":{"./server.js":"./client.js"}}`,
		"node_modules/pkg/index.js":     "module.exports = require('./server');\n",
		"node_modules/pkg/server.js":    "module.exports = 'server';\n",
		"node_modules/pkg/client.js":    "module.exports = 'client';\n",
	})

	want := []string{"input.js", "node_modules/pkg/client.js", "node_modules/pkg/index.js", "node_modules/pkg/package.json"}
	for i := range 50 {
		opts := testOptions(base)
		opts.Conditions = []string{"browser"}
		result := mustTrace(t, base, opts, "input.js")
		expectFiles(t, "run "+strconv.Itoa(i), result.FileList, append([]string(nil), want...)...)
	}
}

func TestTraceBrowserRemapProbesTarget(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":                      "require('pkg');\nrequire('pkg/legacy');\n",
		"node_modules/pkg/package.json": `{"name":"pkg","main":"./server.js","browser":{"./server.js":"./client","./legacy.js":"./gone"}}`,
		"node_modules/pkg/server.js":    "module.exports = 'server';\n",
		"node_modules/pkg/client.js":    "module.exports = 'client';\n",
		"node_modules/pkg/legacy.js":    "module.exports = 'legacy';\n",
	})

	opts := testOptions(base)
	opts.Conditions = []string{"browser"}
	result := mustTrace(t, base, opts, "input.js")
	expectFiles(t, "files", result.FileList,
		"input.js", "node_modules/pkg/client.js", "node_modules/pkg/legacy.js", "node_modules/pkg/package.json")
	found := false
	for _, warning := range result.Warnings {
		found = found || strings.Contains(warning.Error(), "gone")
	}
	if !found {
		t.Fatalf("expected a warning for the unresolvable browser target, got %v", result.Warnings)
	}
}

func TestTraceMixedModules(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.mjs": "import './esm.mjs';\nconst legacy = require('./legacy');\n",
		"esm.mjs":   "export default 1;\n",
		"legacy.js": "module.exports = 1;\n",
	})

	tests := []struct {
		name  string
		mixed bool
		want  []string
	}{
		{name: "require ignored in esm", mixed: false, want: []string{"esm.mjs", "input.mjs"}},
		{name: "require followed with mixed modules", mixed: true, want: []string{"esm.mjs", "input.mjs", "legacy.js"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := testOptions(base)
			opts.MixedModules = tc.mixed
			result := mustTrace(t, base, opts, "input.mjs")
			expectFiles(t, "files", result.FileList, tc.want...)
			expectFiles(t, "esm files", result.ESMFileList, "esm.mjs", "input.mjs")
		})
	}
}

func TestTraceResolveFuncOverride(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":  "require('virtual');\n",
		"target.js": "module.exports = 1;\n",
	})

	var asked []string
	opts := testOptions(base)
	opts.ResolveFunc = func(_ context.Context, specifier, _ string, _ bool) ([]string, error) {
		asked = append(asked, specifier)
		return []string{filepath.Join(base, "target.js")}, nil
	}
	result := mustTrace(t, base, opts, "input.js")
	expectFiles(t, "files", result.FileList, "input.js", "target.js")
	if !reflect.DeepEqual(asked, []string{"virtual"}) {
		t.Fatalf("unexpected resolve calls: %v", asked)
	}
}

func TestTraceReusesCache(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js": "require('./dep');\n",
		"dep.js":   "module.exports = 1;\n",
	})

	cache := NewCache()
	opts := testOptions(base)
	opts.Cache = cache
	first := mustTrace(t, base, opts, "input.js")

	stats := cache.Stats()
	if stats.Files == 0 || stats.Stats == 0 || stats.Symlinks == 0 || stats.Analyses == 0 {
		t.Fatalf("expected populated caches, got %+v", stats)
	}

	second := mustTrace(t, base, opts, "input.js")
	if !reflect.DeepEqual(first.FileList, second.FileList) {
		t.Fatalf("expected %v, got %v", first.FileList, second.FileList)
	}
	if after := cache.Stats(); after.Analyses != stats.Analyses {
		t.Fatalf("expected no new analyses, got %+v then %+v", stats, after)
	}
}

func TestTraceConcurrentTracesShareAnalysis(t *testing.T) {
	base := t.TempDir()
	entries := []string{"a.js", "b.js", "c.js", "d.js", "e.js", "f.js"}
	files := map[string]string{"shared.js": "module.exports = 1;\n"}
	for _, entry := range entries {
		files[entry] = "require('./shared');\n"
	}
	writeFiles(t, base, files)

	cache := NewCache()
	var wg sync.WaitGroup
	errs := make([]error, len(entries))
	for i, entry := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := testOptions(base)
			opts.Cache = cache
			_, errs[i] = Trace(context.Background(), []string{filepath.Join(base, entry)}, opts)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("trace %s: %v", entries[i], err)
		}
	}

	stats := cache.Stats()
	if stats.Analyses != len(entries)+1 || stats.AnalysisRuns != len(entries)+1 {
		t.Fatalf("expected shared.js to be analyzed once, got %+v", stats)
	}
}

func TestTraceZeroOptionsFollowsModulesOnly(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js":  "const fs = require('fs');\nrequire('./dep');\nfs.readFileSync(__dirname + '/asset.txt');\n",
		"dep.js":    "module.exports = 1;\n",
		"asset.txt": "x",
	})

	result := mustTrace(t, base, Options{Base: base}, "input.js")
	expectFiles(t, "zero options", result.FileList, "dep.js", "input.js")

	result = mustTrace(t, base, testOptions(base), "input.js")
	expectFiles(t, "default options", result.FileList, "asset.txt", "dep.js", "input.js")
}

func TestTraceCanceledContext(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{"input.js": "module.exports = 1;\n"})

	_, err := Trace(testutil.CanceledContext(), []string{filepath.Join(base, "input.js")}, testOptions(base))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestNewJobRejectsBadIgnorePattern(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.IgnorePatterns = []string{"[unclosed"}
	if _, err := NewJob(opts); err == nil {
		t.Fatal("expected invalid pattern error")
	}
}

func TestWhy(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js": "require('./dep');\n",
		"dep.js": `const fs = require('fs');
fs.readFileSync(__dirname + '/asset.txt');
require('./input');
`,
		"asset.txt": "x",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	if got := result.Why("asset.txt"); !reflect.DeepEqual(got, []string{"asset.txt", "dep.js", "input.js"}) {
		t.Fatalf("unexpected why chain: %v", got)
	}

	tree := result.WhyTree("asset.txt")
	lines := strings.Split(strings.TrimSuffix(tree, "\n"), "\n")
	want := []string{
		"asset.txt (asset)",
		"  dep.js (dependency)",
		"    input.js (dependency, initial)",
		"      dep.js (dependency) [seen]",
	}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("unexpected why tree:\n%s", tree)
	}
}

func TestWhyTerminatesAtInitial(t *testing.T) {
	base := t.TempDir()
	writeFiles(t, base, map[string]string{
		"input.js": "require('./a');\n",
		"a.js":     "require('./b');\n",
		"b.js":     "module.exports = 1;\n",
	})

	result := mustTrace(t, base, testOptions(base), "input.js")
	for _, file := range result.FileList {
		chain := result.Why(file)
		root := chain[len(chain)-1]
		if !result.Reasons[root].Has(ReasonInitial) {
			t.Fatalf("chain for %s ends at %s, which is not an entry file", file, root)
		}
	}
}
