package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
)

type Formatter struct {
	// NFTDir is the directory the .nft.json output will be written to.
	// Paths in that format are relative to it. Defaults to the base.
	NFTDir string
}

func NewFormatter() Formatter {
	return Formatter{}
}

func (f Formatter) Format(report Report, format Format) (string, error) {
	switch format {
	case FormatList:
		return formatList(report), nil
	case FormatJSON:
		return marshal(report)
	case FormatNFT:
		return f.formatNFT(report)
	default:
		return "", ErrUnknownFormat
	}
}

func marshal(value any) (string, error) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", err
	}
	return string(payload) + "\n", nil
}

func formatList(report Report) string {
	var buffer bytes.Buffer
	for _, file := range report.FileList {
		buffer.WriteString(file)
		buffer.WriteString("\n")
	}
	return buffer.String()
}

type nftFile struct {
	Version int      `json:"version"`
	Files   []string `json:"files"`
}

func (f Formatter) formatNFT(report Report) (string, error) {
	dir := f.NFTDir
	if dir == "" {
		dir = report.Base
	}
	out := nftFile{Version: 1, Files: make([]string, 0, len(report.FileList))}
	for _, file := range report.FileList {
		rel, err := filepath.Rel(dir, filepath.Join(report.Base, file))
		if err != nil {
			return "", fmt.Errorf("relative path for %s: %w", file, err)
		}
		out.Files = append(out.Files, filepath.ToSlash(rel))
	}
	return marshal(out)
}

// FormatWarnings renders warnings for printing after the primary output.
func FormatWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	var buffer bytes.Buffer
	buffer.WriteString("Warnings:\n")
	for _, warning := range warnings {
		buffer.WriteString("- ")
		buffer.WriteString(warning)
		buffer.WriteString("\n")
	}
	return buffer.String()
}

func FormatSize(sizes SizeReport) string {
	var buffer bytes.Buffer
	writer := tabwriter.NewWriter(&buffer, 0, 0, 2, ' ', 0)
	for _, file := range sizes.Files {
		_, _ = fmt.Fprintf(writer, "%s\t%s\n", humanize.Bytes(uint64(max(file.Bytes, 0))), file.Path)
	}
	_ = writer.Flush()
	_, _ = fmt.Fprintf(&buffer, "Total: %s (%s bytes, %d files)\n",
		humanize.Bytes(uint64(max(sizes.Total, 0))), humanize.Comma(sizes.Total), len(sizes.Files))
	return buffer.String()
}
