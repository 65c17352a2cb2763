package config

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ben-ranford/nfttrace/internal/testutil"
	"github.com/ben-ranford/nfttrace/internal/trace"
)

const (
	loadConfigErrFmt = "load config: %v"
	customConfigName = "custom.yml"
)

func TestLoadNoConfigFile(t *testing.T) {
	base := t.TempDir()
	cfg, path, err := Load(base, "")
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	if path != "" {
		t.Fatalf("expected no config path, got %q", path)
	}
	opts := cfg.Apply(trace.DefaultOptions())
	if !reflect.DeepEqual(opts, trace.DefaultOptions()) {
		t.Fatalf("expected defaults when no config file, got %+v", opts)
	}
}

func TestLoadYAMLConfig(t *testing.T) {
	base := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(base, ".nfttrace.yml"), strings.Join([]string{
		"processCwd: app",
		"conditions: [worker, node]",
		"exportsOnly: true",
		"paths:",
		"  \"@app/\": ./src/",
		"ignore:",
		"  - \"**/*.map\"",
		"ts: false",
		"analysis:",
		"  emitGlobs: false",
		"fileIOConcurrency: 8",
		"",
	}, "\n"))

	cfg, path, err := Load(base, "")
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	if !strings.HasSuffix(path, ".nfttrace.yml") {
		t.Fatalf("expected .nfttrace.yml path, got %q", path)
	}

	opts := cfg.Apply(trace.DefaultOptions())
	if opts.ProcessCwd != filepath.Join(base, "app") {
		t.Fatalf("expected processCwd relative to config, got %q", opts.ProcessCwd)
	}
	if !reflect.DeepEqual(opts.Conditions, []string{"worker", "node"}) {
		t.Fatalf("unexpected conditions: %v", opts.Conditions)
	}
	if !opts.ExportsOnly || opts.TS {
		t.Fatalf("unexpected flags: exportsOnly=%v ts=%v", opts.ExportsOnly, opts.TS)
	}
	if got := opts.Paths["@app/"]; got != filepath.Join(base, "src")+"/" {
		t.Fatalf("expected alias target to keep trailing slash, got %q", got)
	}
	if !reflect.DeepEqual(opts.IgnorePatterns, []string{"**/*.map"}) {
		t.Fatalf("unexpected ignore patterns: %v", opts.IgnorePatterns)
	}
	if opts.Analysis.EmitGlobs || !opts.Analysis.ComputeFileReferences || !opts.Analysis.EvaluatePureExpressions {
		t.Fatalf("expected only emitGlobs disabled, got %+v", opts.Analysis)
	}
	if opts.FileIOConcurrency != 8 {
		t.Fatalf("expected fileIOConcurrency=8, got %d", opts.FileIOConcurrency)
	}
}

func TestLoadJSONConfig(t *testing.T) {
	base := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(base, "nfttrace.json"), `{"mixedModules": true, "conditions": ["deno"]}`)

	cfg, _, err := Load(base, "")
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	opts := cfg.Apply(trace.DefaultOptions())
	if !opts.MixedModules || !reflect.DeepEqual(opts.Conditions, []string{"deno"}) {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestLoadTOMLConfig(t *testing.T) {
	base := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(base, "nfttrace.toml"), strings.Join([]string{
		"ignore = [\"fixtures/**\"]",
		"",
		"[analysis]",
		"computeFileReferences = false",
		"",
	}, "\n"))

	cfg, _, err := Load(base, "")
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	opts := cfg.Apply(trace.DefaultOptions())
	if opts.Analysis.ComputeFileReferences || !reflect.DeepEqual(opts.IgnorePatterns, []string{"fixtures/**"}) {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseAnalysisBoolean(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
		want trace.AnalysisOptions
	}{
		{name: "yaml false", path: "c.yml", data: "analysis: false\n", want: trace.AnalysisOptions{}},
		{name: "json false", path: "c.json", data: `{"analysis": false}`, want: trace.AnalysisOptions{}},
		{
			name: "toml true",
			path: "c.toml",
			data: "analysis = true\n",
			want: trace.AnalysisOptions{EmitGlobs: true, ComputeFileReferences: true, EvaluatePureExpressions: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Parse(tc.path, []byte(tc.data))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			base := trace.DefaultOptions()
			base.Analysis = trace.AnalysisOptions{EmitGlobs: true}
			if got := cfg.Apply(base).Analysis; got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}

	if _, err := Parse("c.yml", []byte("analysis: 3\n")); err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("expected a number to be rejected, got %v", err)
	}
}

func TestLoadPrefersYAMLOverOtherNames(t *testing.T) {
	base := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(base, ".nfttrace.yaml"), "ts: false\n")
	testutil.MustWriteFile(t, filepath.Join(base, "nfttrace.json"), `{"ts": true}`)

	_, path, err := Load(base, "")
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	if filepath.Base(path) != ".nfttrace.yaml" {
		t.Fatalf("expected .nfttrace.yaml to win, got %q", path)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	base := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(base, "configs", customConfigName), "exportsOnly: true\n")

	cfg, path, err := Load(base, filepath.Join("configs", customConfigName))
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	if path != filepath.Join(base, "configs", customConfigName) {
		t.Fatalf("unexpected path %q", path)
	}
	if opts := cfg.Apply(trace.DefaultOptions()); !opts.ExportsOnly {
		t.Fatalf("expected exportsOnly from explicit config")
	}

	outside := filepath.Join(t.TempDir(), customConfigName)
	testutil.MustWriteFile(t, outside, "mixedModules: true\n")
	cfg, _, err = Load(base, outside)
	if err != nil {
		t.Fatalf("load config outside base: %v", err)
	}
	if opts := cfg.Apply(trace.DefaultOptions()); !opts.MixedModules {
		t.Fatalf("expected mixedModules from config outside base")
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, _, err := Load(t.TempDir(), "missing.yml")
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected missing config error, got %v", err)
	}
}

func TestLoadEmptyYAMLConfig(t *testing.T) {
	base := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(base, ".nfttrace.yml"), "")
	cfg, _, err := Load(base, "")
	if err != nil {
		t.Fatalf(loadConfigErrFmt, err)
	}
	if opts := cfg.Apply(trace.DefaultOptions()); !reflect.DeepEqual(opts, trace.DefaultOptions()) {
		t.Fatalf("expected defaults from empty config, got %+v", opts)
	}
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		path string
		data string
		want string
	}{
		{name: "unknown yaml key", path: "c.yml", data: "tracing: true\n", want: "invalid config"},
		{name: "wrong type", path: "c.yml", data: "ts: yes please\n", want: "invalid config"},
		{name: "concurrency below one", path: "c.json", data: `{"fileIOConcurrency": 0}`, want: "invalid config"},
		{name: "unknown analysis key", path: "c.json", data: `{"analysis": {"deep": true}}`, want: "invalid config"},
		{name: "analysis string", path: "c.yml", data: "analysis: \"off\"\n", want: "invalid config"},
		{name: "multiple json values", path: "c.json", data: `{} {}`, want: "multiple JSON values"},
		{name: "broken toml", path: "c.toml", data: "ts = = true", want: "invalid TOML config"},
		{name: "broken yaml", path: "c.yml", data: "ts: [", want: "invalid YAML config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.path, []byte(tc.data))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
