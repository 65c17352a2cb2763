package analyze

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ben-ranford/nfttrace/internal/resolve"
)

// specialCase adds files a package is known to load in ways the walker
// cannot see. id is the module path with forward slashes.
type specialCase func(a *analyzer, id string)

var specialCases = map[string]specialCase{
	"argon2": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "argon2/argon2.js") {
			a.emitAssetDirectory(filepath.Join(a.dir, "build", "Release"))
			a.emitAssetDirectory(filepath.Join(a.dir, "prebuilds"))
			a.emitAssetDirectory(filepath.Join(a.dir, "lib", "binding"))
		}
	},
	"bull": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "bull/lib/commands/index.js") {
			a.emitAssetDirectory(a.dir)
		}
	},
	"camaro": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "camaro/dist/camaro.js") {
			a.emitAssetPath(filepath.Join(a.dir, "camaro.wasm"))
		}
	},
	"esbuild": func(a *analyzer, id string) {
		if !strings.HasSuffix(id, "esbuild/lib/main.js") {
			return
		}
		manifestPath := filepath.Join(a.dir, "..", "package.json")
		data, err := a.host.ReadFile(a.ctx, manifestPath)
		if err != nil || data == nil {
			return
		}
		var manifest struct {
			OptionalDependencies map[string]string `json:"optionalDependencies"`
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return
		}
		names := make([]string, 0, len(manifest.OptionalDependencies))
		for name := range manifest.OptionalDependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			a.emitAssetDirectory(filepath.Join(filepath.Dir(manifestPath), "..", filepath.FromSlash(name)))
		}
	},
	"google-gax": func(a *analyzer, id string) {
		if !strings.HasSuffix(id, "google-gax/build/src/grpc.js") {
			return
		}
		for i := 0; i < int(a.root.NamedChildCount()); i++ {
			stmt := a.root.NamedChild(i)
			if stmt.Type() != "variable_declaration" && stmt.Type() != "lexical_declaration" {
				continue
			}
			for _, name := range declarationNames(stmt, a.content) {
				if name == "googleProtoFilesDir" {
					a.emitAssetDirectory(filepath.Join(a.dir, "..", "..", "..", "google-proto-files"))
					return
				}
			}
		}
	},
	"oracledb": func(a *analyzer, id string) {
		if !strings.HasSuffix(id, "oracledb/lib/oracledb.js") {
			return
		}
		releaseDir := filepath.Join(a.dir, "..", "build", "Release")
		data, err := a.host.ReadFile(a.ctx, filepath.Join(a.dir, "..", "package.json"))
		if err != nil || data == nil {
			return
		}
		var manifest struct {
			Version string `json:"version"`
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			return
		}
		major, _, _ := strings.Cut(manifest.Version, ".")
		if n, err := strconv.Atoi(major); err == nil && n >= 4 {
			binary := "oracledb-" + manifest.Version + "-" + a.opts.Platform + "-" + a.opts.Arch + ".node"
			a.emitAssetPath(filepath.Join(releaseDir, binary))
			return
		}
		a.emitAssetDirectory(releaseDir)
	},
	"phantomjs-prebuilt": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "phantomjs-prebuilt/lib/phantomjs.js") {
			a.emitAssetDirectory(filepath.Join(a.dir, "..", "bin"))
		}
	},
	"semver": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "semver/index.js") {
			a.emitAssetPath(filepath.Join(a.dir, "preload.js"))
		}
	},
	"typescript": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "typescript/lib/tsc.js") {
			a.emitAssetDirectory(a.dir)
		}
	},
	"uglify-es": func(a *analyzer, id string) {
		if !strings.HasSuffix(id, "uglify-es/tools/node.js") {
			return
		}
		for _, name := range []string{
			"utils.js", "ast.js", "parse.js", "transform.js", "scope.js", "output.js",
			"compress.js", "sourcemap.js", "mozilla-ast.js", "propmangle.js", "minify.js",
		} {
			a.emitAssetPath(filepath.Join(a.dir, "..", "lib", name))
		}
		a.emitAssetPath(filepath.Join(a.dir, "exports.js"))
	},
	"@ffmpeg-installer/ffmpeg": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "@ffmpeg-installer/ffmpeg/index.js") {
			a.emitAssetDirectory(filepath.Join(a.dir, "..", a.opts.Platform+"-"+a.opts.Arch))
		}
	},
	"sharp": func(a *analyzer, id string) {
		if strings.HasSuffix(id, "sharp/lib/index.js") || strings.HasSuffix(id, "sharp/lib/sharp.js") {
			a.emitAssetDirectory(filepath.Join(a.dir, "..", "build", "Release"))
			a.emitAssetDirectory(filepath.Join(a.dir, "..", "vendor"))
		}
	},
}

func (a *analyzer) handleSpecialCases() {
	handler, ok := specialCases[resolve.PackageName(a.path)]
	if !ok {
		return
	}
	handler(a, filepath.ToSlash(a.path))
}
