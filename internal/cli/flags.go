package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ben-ranford/nfttrace/internal/app"
	"github.com/ben-ranford/nfttrace/internal/config"
	"github.com/ben-ranford/nfttrace/internal/report"
	"github.com/ben-ranford/nfttrace/internal/trace"
)

func addTraceFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("base", ".", "Root directory of the trace; files outside it are not reported")
	flags.String("cwd", "", "Directory process.cwd() evaluates to (default: base)")
	flags.String("config", "", "Config file path (default: .nfttrace.yml, .nfttrace.yaml, nfttrace.json or nfttrace.toml in base)")
	flags.StringArray("condition", nil, "Export condition to match, repeatable (default: node)")
	flags.Bool("exports-only", false, "Skip main fields for packages that declare exports")
	flags.StringArray("ignore", nil, "Glob of base-relative paths to leave out, repeatable")
	flags.Bool("no-ts", false, "Do not resolve TypeScript extensions")
	flags.Bool("mixed-modules", false, "Follow require calls inside ES modules")
	flags.Bool("no-analysis", false, "Disable asset analysis; only module references are traced")
	flags.Bool("no-globs", false, "Do not expand wildcard asset references")
	flags.Int("concurrency", 0, "Maximum concurrent file reads (default: 1024)")
	flags.BoolP("verbose", "v", false, "Log trace progress to stderr")
}

func (c *CLI) buildRequest(cmd *cobra.Command, mode app.Mode, args []string) (app.Request, error) {
	req := app.DefaultRequest()
	req.Mode = mode
	req.Entries = args
	if mode == app.ModeWhy {
		req.Target = args[0]
		req.Entries = args[1:]
	}

	opts, err := c.traceOptions(cmd)
	if err != nil {
		return req, err
	}
	req.Trace = opts

	switch mode {
	case app.ModePrint:
		value, err := stringFlag(cmd, "format")
		if err != nil {
			return req, err
		}
		format, err := report.ParseFormat(value)
		if err != nil {
			return req, &usageError{err: err}
		}
		req.Format = format
		if req.NFTDir, err = stringFlag(cmd, "nft-dir"); err != nil {
			return req, err
		}
	case app.ModeBuild:
		if req.OutDir, err = stringFlag(cmd, "out"); err != nil {
			return req, err
		}
		if req.OutDir == "" {
			return req, usageErrorf("build requires --out")
		}
	}
	return req, nil
}

// traceOptions layers defaults, then the config file, then any flag the
// user set explicitly.
func (c *CLI) traceOptions(cmd *cobra.Command) (trace.Options, error) {
	flags := cmd.Flags()
	base, err := stringFlag(cmd, "base")
	if err != nil {
		return trace.Options{}, err
	}
	configPath, err := stringFlag(cmd, "config")
	if err != nil {
		return trace.Options{}, err
	}
	cfg, _, err := config.Load(base, configPath)
	if err != nil {
		return trace.Options{}, err
	}
	opts := cfg.Apply(trace.DefaultOptions())
	if flags.Changed("base") || opts.Base == "" {
		opts.Base = base
	}

	if flags.Changed("cwd") {
		if opts.ProcessCwd, err = stringFlag(cmd, "cwd"); err != nil {
			return opts, err
		}
	}
	if flags.Changed("condition") {
		conditions, err := flags.GetStringArray("condition")
		if err != nil {
			return opts, fmt.Errorf("failed to read --condition flag: %w", err)
		}
		opts.Conditions = conditions
	}
	if flags.Changed("ignore") {
		patterns, err := flags.GetStringArray("ignore")
		if err != nil {
			return opts, fmt.Errorf("failed to read --ignore flag: %w", err)
		}
		opts.IgnorePatterns = append(opts.IgnorePatterns, patterns...)
	}
	if flags.Changed("concurrency") {
		n, err := flags.GetInt("concurrency")
		if err != nil {
			return opts, fmt.Errorf("failed to read --concurrency flag: %w", err)
		}
		if n < 1 {
			return opts, usageErrorf("--concurrency must be >= 1")
		}
		opts.FileIOConcurrency = n
	}

	switches := []struct {
		name  string
		apply func(bool)
	}{
		{"exports-only", func(v bool) { opts.ExportsOnly = v }},
		{"no-ts", func(v bool) { opts.TS = !v }},
		{"mixed-modules", func(v bool) { opts.MixedModules = v }},
		{"no-globs", func(v bool) { opts.Analysis.EmitGlobs = !v }},
	}
	for _, sw := range switches {
		if !flags.Changed(sw.name) {
			continue
		}
		value, err := flags.GetBool(sw.name)
		if err != nil {
			return opts, fmt.Errorf("failed to read --%s flag: %w", sw.name, err)
		}
		sw.apply(value)
	}
	if disabled, _ := flags.GetBool("no-analysis"); disabled {
		opts.Analysis = trace.AnalysisOptions{}
	}

	level := slog.LevelWarn
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(c.Err, &slog.HandlerOptions{Level: level}))
	return opts, nil
}

func stringFlag(cmd *cobra.Command, name string) (string, error) {
	if cmd.Flags().Lookup(name) == nil {
		return "", nil
	}
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to read --%s flag: %w", name, err)
	}
	return strings.TrimSpace(value), nil
}
