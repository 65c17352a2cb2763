package trace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/ben-ranford/nfttrace/internal/analyze"
	"github.com/ben-ranford/nfttrace/internal/resolve"
	"github.com/ben-ranford/nfttrace/internal/safeio"
)

// Job is the state of one trace: the files found so far, why each was
// included, and the warnings collected on the way.
type Job struct {
	opts     Options
	fs       safeio.FileSystem
	cache    *Cache
	resolver *resolve.Resolver
	logger   *slog.Logger

	mu          sync.Mutex
	processed   map[string]struct{}
	fileList    map[string]struct{}
	esmFileList map[string]struct{}
	reasons     map[string]*reasonEntry
	warnings    []error
}

// Trace follows every dependency of files and returns the files a
// deployment of them needs. opts should come from DefaultOptions; a zero
// Options only follows module references.
func Trace(ctx context.Context, files []string, opts Options) (*Result, error) {
	job, err := NewJob(opts)
	if err != nil {
		return nil, err
	}
	return job.Trace(ctx, files)
}

func NewJob(opts Options) (*Job, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("trace options: %w", err)
	}
	for _, pattern := range opts.IgnorePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	j := &Job{
		opts:        opts,
		fs:          safeio.NewLimited(opts.FS, opts.FileIOConcurrency),
		cache:       opts.Cache,
		logger:      opts.Logger,
		processed:   map[string]struct{}{},
		fileList:    map[string]struct{}{},
		esmFileList: map[string]struct{}{},
		reasons:     map[string]*reasonEntry{},
	}
	j.resolver = resolve.New(j, resolve.Options{
		Base:        opts.Base,
		TS:          opts.TS,
		Conditions:  opts.Conditions,
		ExportsOnly: opts.ExportsOnly,
		Paths:       opts.Paths,
	})
	return j, nil
}

// Trace seeds the job with entry files and expands them. Relative entry
// paths are taken from the working directory.
func (j *Job) Trace(ctx context.Context, files []string) (*Result, error) {
	paths := make([]string, 0, len(files))
	for _, file := range files {
		path, err := filepath.Abs(file)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range paths {
		g.Go(func() error {
			if _, err := j.emitFile(gctx, path, ReasonInitial, "", false); err != nil {
				return err
			}
			return j.emitDependency(gctx, path, "")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return j.result(), nil
}

func (j *Job) relative(path string) string {
	rel, err := filepath.Rel(j.opts.Base, path)
	if err != nil {
		return path
	}
	return rel
}

func inPath(path, dir string) bool {
	prefix := strings.TrimSuffix(dir, string(filepath.Separator)) + string(filepath.Separator)
	return strings.HasPrefix(path, prefix) && path != prefix
}

func outsideBase(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
}

// ignored reports whether a base-relative path is excluded from the file
// list. Files outside the base are always excluded.
func (j *Job) ignored(rel, parent string) bool {
	if outsideBase(rel) {
		return true
	}
	if j.opts.Ignore != nil && j.opts.Ignore(rel, parent) {
		return true
	}
	slashed := filepath.ToSlash(rel)
	for _, pattern := range j.opts.IgnorePatterns {
		if ok, _ := doublestar.Match(pattern, slashed); ok {
			return true
		}
	}
	return false
}

// emitFile records path in the ledger with the given reason and reports
// whether it made it into the file list. A file is only checked against the
// ignore rules when it has a parent, so entry files are always listed.
func (j *Job) emitFile(ctx context.Context, path string, reason ReasonType, parent string, isRealpath bool) (bool, error) {
	if !isRealpath {
		var err error
		if path, err = j.realpath(ctx, path, parent); err != nil {
			return false, err
		}
	}
	rel := j.relative(path)
	if parent != "" {
		parent = j.relative(parent)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.reasons[rel]
	if !ok {
		entry = newReasonEntry()
		j.reasons[rel] = entry
	}
	entry.types[reason] = struct{}{}
	if parent != "" && j.ignored(rel, parent) {
		if _, listed := j.fileList[rel]; !listed {
			entry.ignored = true
		}
		return false, nil
	}
	if parent != "" {
		entry.parents[parent] = struct{}{}
	}
	j.fileList[rel] = struct{}{}
	return true, nil
}

// realpath resolves symlinks from the leaf upwards. Symlinks inside the base
// are emitted themselves so a copy of the traced tree keeps them.
func (j *Job) realpath(ctx context.Context, path, parent string) (string, error) {
	return j.realpathSeen(ctx, path, parent, map[string]struct{}{})
}

func (j *Job) realpathSeen(ctx context.Context, path, parent string, seen map[string]struct{}) (string, error) {
	if _, ok := seen[path]; ok {
		return "", fmt.Errorf("%w: %s", ErrSymlinkCycle, path)
	}
	seen[path] = struct{}{}

	link, err := j.readlink(ctx, path)
	if err != nil {
		return "", err
	}
	if link != "" {
		parentPath := filepath.Dir(path)
		target := link
		if !filepath.IsAbs(target) {
			target = filepath.Join(parentPath, target)
		}
		realParent, err := j.realpath(ctx, parentPath, parent)
		if err != nil {
			return "", err
		}
		if inPath(path, realParent) {
			if _, err := j.emitFile(ctx, path, ReasonResolve, parent, true); err != nil {
				return "", err
			}
		}
		return j.realpathSeen(ctx, target, parent, seen)
	}
	if !inPath(path, j.opts.Base) {
		return path, nil
	}
	dir, err := j.realpathSeen(ctx, filepath.Dir(path), parent, seen)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(path)), nil
}

// emitDependency expands one module: it lists the file, then analyzes it
// and expands everything it loads or references. Each path is analyzed at
// most once per job; later references only add a parent.
func (j *Job) emitDependency(ctx context.Context, path, parent string) error {
	j.mu.Lock()
	if _, done := j.processed[path]; done {
		j.mu.Unlock()
		if parent == "" {
			return nil
		}
		_, err := j.emitFile(ctx, path, ReasonDependency, parent, false)
		return err
	}
	j.processed[path] = struct{}{}
	j.mu.Unlock()

	emitted, err := j.emitFile(ctx, path, ReasonDependency, parent, false)
	if err != nil || !emitted {
		return err
	}

	switch filepath.Ext(path) {
	case ".json":
		return nil
	case ".node":
		return j.emitSharedLibs(ctx, path)
	case ".js":
		if err := j.emitPackageBoundary(ctx, path, path); err != nil {
			return err
		}
	}

	source, err := j.ReadFile(ctx, path)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("%w: %s", ErrFileMissing, path)
	}
	result, err := j.analyze(ctx, path, source)
	if err != nil {
		return err
	}

	j.mu.Lock()
	if result.IsESM {
		j.esmFileList[j.relative(path)] = struct{}{}
	}
	j.warnings = append(j.warnings, result.Warnings...)
	j.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, asset := range result.Assets {
		g.Go(func() error { return j.emitAsset(gctx, asset, path) })
	}
	for _, dep := range result.Deps {
		g.Go(func() error { return j.emitResolved(gctx, dep, path, !result.IsESM) })
	}
	for _, imp := range result.Imports {
		g.Go(func() error { return j.emitResolved(gctx, imp, path, false) })
	}
	return g.Wait()
}

func (j *Job) analyze(ctx context.Context, path string, source []byte) (*analyze.Result, error) {
	return j.cache.analyses.do(path, func() (*analyze.Result, error) {
		return analyze.Analyze(ctx, j, analyze.Options{
			Base:                    j.opts.Base,
			Cwd:                     j.opts.ProcessCwd,
			TS:                      j.opts.TS,
			MixedModules:            j.opts.MixedModules,
			EmitGlobs:               j.opts.Analysis.EmitGlobs,
			ComputeFileReferences:   j.opts.Analysis.ComputeFileReferences,
			EvaluatePureExpressions: j.opts.Analysis.EvaluatePureExpressions,
			Platform:                j.opts.Platform,
			Arch:                    j.opts.Arch,
			Logger:                  j.logger,
		}, path, source)
	})
}

// tracedAsModule reports whether an asset is code that should be analyzed
// rather than copied as data.
func (j *Job) tracedAsModule(asset string) bool {
	switch filepath.Ext(asset) {
	case ".js", ".mjs", ".cjs", ".node", "":
		return true
	case ".ts", ".tsx":
		if !j.opts.TS || !inPath(asset, j.opts.Base) {
			return false
		}
		sep := string(filepath.Separator)
		return !strings.Contains(asset[len(j.opts.Base):], sep+"node_modules"+sep)
	}
	return false
}

func (j *Job) emitAsset(ctx context.Context, asset, parent string) error {
	if j.tracedAsModule(asset) {
		return j.emitDependency(ctx, asset, parent)
	}
	if err := j.emitPackageBoundary(ctx, asset, parent); err != nil {
		return err
	}
	_, err := j.emitFile(ctx, asset, ReasonAsset, parent, false)
	return err
}

// emitPackageBoundary lists the package.json nearest to path, if any.
func (j *Job) emitPackageBoundary(ctx context.Context, path, parent string) error {
	boundary, err := j.PackageBoundary(ctx, path)
	if err != nil || boundary == "" {
		return err
	}
	_, err = j.emitFile(ctx, filepath.Join(boundary, "package.json"), ReasonResolve, parent, false)
	return err
}

// emitResolved resolves one specifier found in parent and expands the
// result. Failing to resolve is a warning, except for symlink cycles and
// cancellation.
func (j *Job) emitResolved(ctx context.Context, specifier, parent string, cjs bool) error {
	resolved, err := j.Resolve(ctx, specifier, parent, cjs)
	if err != nil {
		if errors.Is(err, ErrSymlinkCycle) || ctx.Err() != nil {
			return err
		}
		j.logger.Debug("failed to resolve dependency",
			slog.String("specifier", specifier),
			slog.String("parent", parent),
			slog.String("error", err.Error()))
		j.Warn(fmt.Errorf("failed to resolve dependency %s from %s: %w", specifier, parent, err))
		return nil
	}
	for _, path := range resolved {
		if strings.HasPrefix(path, "node:") {
			continue
		}
		if err := j.emitDependency(ctx, path, parent); err != nil {
			return err
		}
	}
	return nil
}

func (j *Job) Warn(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.warnings = append(j.warnings, err)
}

func (j *Job) result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	res := &Result{
		FileList:    sortedSet(j.fileList),
		ESMFileList: sortedSet(j.esmFileList),
		Reasons:     make(map[string]Reason, len(j.reasons)),
		Warnings:    append([]error(nil), j.warnings...),
	}
	for path, entry := range j.reasons {
		res.Reasons[path] = entry.reason()
	}
	return res
}

func sortedSet[K ~string](set map[K]struct{}) []K {
	out := make([]K, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func (j *Job) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return j.cache.files.do(path, func() ([]byte, error) {
		data, err := j.fs.ReadFile(ctx, path)
		if safeio.IsMissing(err) {
			return nil, nil
		}
		return data, err
	})
}

func (j *Job) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return j.cache.stats.do(path, func() (fs.FileInfo, error) {
		info, err := j.fs.Stat(ctx, path)
		if safeio.IsMissing(err) {
			return nil, nil
		}
		return info, err
	})
}

func (j *Job) readlink(ctx context.Context, path string) (string, error) {
	return j.cache.symlinks.do(path, func() (string, error) {
		return j.fs.Readlink(ctx, path)
	})
}

func (j *Job) Glob(ctx context.Context, dir, pattern string) ([]string, error) {
	return j.fs.Glob(ctx, dir, pattern)
}

// IgnoreGlob reports whether an absolute glob pattern falls under the
// ignore rules or outside the base.
func (j *Job) IgnoreGlob(pattern string) bool {
	return j.ignored(j.relative(pattern), "")
}

func (j *Job) Resolve(ctx context.Context, specifier, parent string, cjs bool) ([]string, error) {
	if j.opts.ResolveFunc != nil {
		return j.opts.ResolveFunc(ctx, specifier, parent, cjs)
	}
	return j.resolver.Resolve(ctx, specifier, parent, cjs)
}

func (j *Job) IsFile(ctx context.Context, path string) (bool, error) {
	info, err := j.Stat(ctx, path)
	return info != nil && !info.IsDir(), err
}

func (j *Job) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := j.Stat(ctx, path)
	return info != nil && info.IsDir(), err
}

// Manifest returns the parsed package.json in dir. A manifest that does not
// parse is treated as absent.
func (j *Job) Manifest(ctx context.Context, dir string) (*resolve.Manifest, error) {
	path := filepath.Join(dir, "package.json")
	if manifest, ok := j.cache.manifests.Get(path); ok {
		return manifest, nil
	}
	data, err := j.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	var manifest *resolve.Manifest
	if data != nil {
		if manifest, err = resolve.ParseManifest(data); err != nil {
			j.logger.Debug("ignoring unreadable package.json", slog.String("path", path), slog.String("error", err.Error()))
			manifest = nil
		}
	}
	j.cache.manifests.Add(path, manifest)
	return manifest, nil
}

func (j *Job) PackageBoundary(ctx context.Context, path string) (string, error) {
	for dir := filepath.Dir(path); filepath.Dir(dir) != dir; dir = filepath.Dir(dir) {
		ok, err := j.IsFile(ctx, filepath.Join(dir, "package.json"))
		if err != nil {
			return "", err
		}
		if ok {
			return dir, nil
		}
	}
	return "", nil
}

func (j *Job) Realpath(ctx context.Context, path, parent string) (string, error) {
	return j.realpath(ctx, path, parent)
}

func (j *Job) EmitManifest(ctx context.Context, path, parent string) error {
	_, err := j.emitFile(ctx, path, ReasonResolve, parent, false)
	return err
}

