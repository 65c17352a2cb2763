package app

import (
	"github.com/ben-ranford/nfttrace/internal/report"
	"github.com/ben-ranford/nfttrace/internal/trace"
)

type Mode string

const (
	ModePrint Mode = "print"
	ModeBuild Mode = "build"
	ModeSize  Mode = "size"
	ModeWhy   Mode = "why"
)

type Request struct {
	Mode    Mode
	Entries []string
	Format  report.Format
	// NFTDir is where an nft-format listing will live.
	NFTDir string
	// OutDir is the build destination. It is emptied first.
	OutDir string
	// Target is the file a why query explains, relative to the base or
	// absolute.
	Target string
	Trace  trace.Options
}

func DefaultRequest() Request {
	return Request{
		Mode:   ModePrint,
		Format: report.FormatList,
		Trace:  trace.DefaultOptions(),
	}
}

// Output is what a command prints. Warnings go after the primary text.
type Output struct {
	Text     string
	Warnings []string
}
