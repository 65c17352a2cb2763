package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ben-ranford/nfttrace/internal/trace"
)

type Format string

const (
	FormatList Format = "list"
	FormatJSON Format = "json"
	FormatNFT  Format = "nft"
)

const SchemaVersion = "1"

var ErrUnknownFormat = errors.New("unknown format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatList):
		return FormatList, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatNFT):
		return FormatNFT, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, value)
	}
}

// Report is a trace result in the shape it is printed in.
type Report struct {
	SchemaVersion string                  `json:"schemaVersion"`
	GeneratedAt   time.Time               `json:"generatedAt"`
	Base          string                  `json:"base"`
	Entries       []string                `json:"entries"`
	FileList      []string                `json:"fileList"`
	ESMFileList   []string                `json:"esmFileList"`
	Reasons       map[string]trace.Reason `json:"reasons"`
	Warnings      []string                `json:"warnings,omitempty"`
}

func FromResult(base string, entries []string, result *trace.Result, generatedAt time.Time) Report {
	rep := Report{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   generatedAt,
		Base:          base,
		Entries:       append([]string{}, entries...),
		FileList:      append([]string{}, result.FileList...),
		ESMFileList:   append([]string{}, result.ESMFileList...),
		Reasons:       result.Reasons,
	}
	if rep.Reasons == nil {
		rep.Reasons = map[string]trace.Reason{}
	}
	for _, warning := range result.Warnings {
		rep.Warnings = append(rep.Warnings, warning.Error())
	}
	return rep
}

// FileSize is the on-disk size of one traced file. Symlinks count as the
// link itself.
type FileSize struct {
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

type SizeReport struct {
	Files []FileSize `json:"files"`
	Total int64      `json:"total"`
}
