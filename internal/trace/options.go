package trace

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ben-ranford/nfttrace/internal/analyze"
	"github.com/ben-ranford/nfttrace/internal/safeio"
)

const defaultFileIOConcurrency = 1024

// ResolveFunc replaces the built-in resolver. It returns the real paths a
// specifier loads, or "node:<name>" for core modules.
type ResolveFunc func(ctx context.Context, specifier, parent string, cjs bool) ([]string, error)

// AnalysisOptions toggles the analyzer heuristics. The zero value turns all
// of them off.
type AnalysisOptions struct {
	EmitGlobs               bool
	ComputeFileReferences   bool
	EvaluatePureExpressions bool
}

// Options configures a trace. Unset paths, conditions, I/O settings and
// platform fields are filled in, but TS and Analysis are taken as given: in
// a zero Options both are off. Start from DefaultOptions to get TypeScript
// resolution and asset analysis.
type Options struct {
	// Base is the root of the trace. Reported paths are relative to it.
	Base string
	// ProcessCwd is what process.cwd() evaluates to. Defaults to Base.
	ProcessCwd  string
	Conditions  []string
	ExportsOnly bool
	Paths       map[string]string

	// Ignore is called with the base-relative path of a file and of the
	// file that referenced it.
	Ignore         func(path, parent string) bool
	IgnorePatterns []string

	Analysis     AnalysisOptions
	Cache        *Cache
	TS           bool
	MixedModules bool

	FileIOConcurrency int
	FS                safeio.FileSystem
	ResolveFunc       ResolveFunc
	Logger            *slog.Logger

	// Platform and Arch select native addon builds and shared library
	// patterns, using Node.js naming.
	Platform string
	Arch     string
}

// DefaultOptions returns the options used when a caller only names entry
// files: TypeScript resolution and every analysis heuristic enabled.
func DefaultOptions() Options {
	return Options{
		Conditions: []string{"node"},
		Analysis: AnalysisOptions{
			EmitGlobs:               true,
			ComputeFileReferences:   true,
			EvaluatePureExpressions: true,
		},
		TS:                true,
		FileIOConcurrency: defaultFileIOConcurrency,
	}
}

func (o Options) withDefaults() (Options, error) {
	if o.Base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return o, err
		}
		o.Base = wd
	}
	base, err := filepath.Abs(o.Base)
	if err != nil {
		return o, err
	}
	o.Base = base
	if o.ProcessCwd == "" {
		o.ProcessCwd = o.Base
	} else if o.ProcessCwd, err = filepath.Abs(o.ProcessCwd); err != nil {
		return o, err
	}
	if len(o.Conditions) == 0 {
		o.Conditions = []string{"node"}
	}
	if o.FileIOConcurrency <= 0 {
		o.FileIOConcurrency = defaultFileIOConcurrency
	}
	if o.FS == nil {
		o.FS = safeio.OS{}
	}
	if o.Cache == nil {
		o.Cache = NewCache()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Platform == "" {
		o.Platform = analyze.NodePlatform(runtime.GOOS)
	}
	if o.Arch == "" {
		o.Arch = analyze.NodeArch(runtime.GOARCH)
	}
	return o, nil
}
