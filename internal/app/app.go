package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ben-ranford/nfttrace/internal/report"
	"github.com/ben-ranford/nfttrace/internal/trace"
	"github.com/ben-ranford/nfttrace/internal/workspace"
)

var (
	ErrUnknownMode = errors.New("unknown mode")
	ErrNotTraced   = errors.New("file was not reached by the trace")
	ErrOutRequired = errors.New("build needs an output directory")
)

// Tracer runs a trace. The trace package satisfies it through TraceFunc.
type Tracer interface {
	Trace(ctx context.Context, files []string, opts trace.Options) (*trace.Result, error)
}

type TraceFunc func(ctx context.Context, files []string, opts trace.Options) (*trace.Result, error)

func (f TraceFunc) Trace(ctx context.Context, files []string, opts trace.Options) (*trace.Result, error) {
	return f(ctx, files, opts)
}

type App struct {
	Tracer    Tracer
	Formatter report.Formatter
	Now       func() time.Time
}

func New() *App {
	return &App{
		Tracer:    TraceFunc(trace.Trace),
		Formatter: report.NewFormatter(),
		Now:       time.Now,
	}
}

func (a *App) Execute(ctx context.Context, req Request) (Output, error) {
	switch req.Mode {
	case ModePrint, ModeBuild, ModeSize, ModeWhy:
	default:
		return Output{}, fmt.Errorf("%w: %s", ErrUnknownMode, req.Mode)
	}
	if req.Mode == ModeBuild && req.OutDir == "" {
		return Output{}, ErrOutRequired
	}

	base, err := workspace.NormalizeBase(req.Trace.Base)
	if err != nil {
		return Output{}, fmt.Errorf("resolve base: %w", err)
	}
	req.Trace.Base = base
	entries, err := workspace.NormalizeEntries(req.Entries)
	if err != nil {
		return Output{}, err
	}

	result, err := a.Tracer.Trace(ctx, entries, req.Trace)
	if err != nil {
		return Output{}, err
	}
	rep := report.FromResult(base, relativeEntries(base, entries), result, a.Now())
	out := Output{Warnings: rep.Warnings}

	switch req.Mode {
	case ModePrint:
		formatter := a.Formatter
		if req.NFTDir != "" {
			formatter.NFTDir = req.NFTDir
		}
		out.Text, err = formatter.Format(rep, req.Format)
	case ModeBuild:
		out.Text, err = build(base, req.OutDir, result.FileList)
	case ModeSize:
		out.Text, err = size(base, result.FileList)
	case ModeWhy:
		out.Text, err = why(base, req.Target, result)
	}
	return out, err
}

func relativeEntries(base string, entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if rel, err := filepath.Rel(base, entry); err == nil {
			entry = rel
		}
		out = append(out, entry)
	}
	return out
}

func build(base, outDir string, files []string) (string, error) {
	out, err := workspace.PrepareOutDir(base, outDir)
	if err != nil {
		return "", err
	}
	for _, file := range files {
		if err := workspace.CopyEntry(base, out, file); err != nil {
			return "", fmt.Errorf("copy %s: %w", file, err)
		}
	}
	return fmt.Sprintf("Copied %d files to %s\n", len(files), out), nil
}

func size(base string, files []string) (string, error) {
	sizes := report.SizeReport{Files: make([]report.FileSize, 0, len(files))}
	for _, file := range files {
		info, err := os.Lstat(filepath.Join(base, file))
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", file, err)
		}
		sizes.Files = append(sizes.Files, report.FileSize{Path: file, Bytes: info.Size()})
		sizes.Total += info.Size()
	}
	return report.FormatSize(sizes), nil
}

func why(base, target string, result *trace.Result) (string, error) {
	if filepath.IsAbs(target) {
		if rel, err := filepath.Rel(base, target); err == nil {
			target = rel
		}
	}
	target = filepath.Clean(target)
	if _, ok := result.Reasons[target]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotTraced, target)
	}
	return result.WhyTree(target), nil
}
