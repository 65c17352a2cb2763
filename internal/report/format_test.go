package report

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ben-ranford/nfttrace/internal/trace"
)

func sampleReport() Report {
	result := &trace.Result{
		FileList:    []string{"asset.txt", "dep.js", "input.js"},
		ESMFileList: []string{},
		Reasons: map[string]trace.Reason{
			"input.js":  {Type: []trace.ReasonType{trace.ReasonDependency, trace.ReasonInitial}, Parents: []string{}},
			"dep.js":    {Type: []trace.ReasonType{trace.ReasonDependency}, Parents: []string{"input.js"}},
			"asset.txt": {Type: []trace.ReasonType{trace.ReasonAsset}, Parents: []string{"dep.js"}},
		},
		Warnings: []error{errors.New("failed to resolve dependency ./gone")},
	}
	return FromResult("/srv/app", []string{"input.js"}, result, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
}

func TestParseFormat(t *testing.T) {
	for input, want := range map[string]Format{"": FormatList, "list": FormatList, " JSON ": FormatJSON, "nft": FormatNFT} {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseFormat("sarif"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}

func TestFormatList(t *testing.T) {
	output, err := NewFormatter().Format(sampleReport(), FormatList)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output != "asset.txt\ndep.js\ninput.js\n" {
		t.Fatalf("unexpected list output: %q", output)
	}
}

func TestFormatJSONValidatesAgainstSchema(t *testing.T) {
	formatted, err := NewFormatter().Format(sampleReport(), FormatJSON)
	if err != nil {
		t.Fatalf("format json: %v", err)
	}

	schemaPath, err := filepath.Abs(filepath.Join("testdata", "trace-output.schema.json"))
	if err != nil {
		t.Fatalf("resolve schema path: %v", err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewReferenceLoader("file://"+filepath.ToSlash(schemaPath)),
		gojsonschema.NewStringLoader(formatted),
	)
	if err != nil {
		t.Fatalf("validate json schema: %v", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, item := range result.Errors() {
			messages = append(messages, item.String())
		}
		t.Fatalf("json output failed schema validation: %s", strings.Join(messages, "; "))
	}
}

func TestFormatNFT(t *testing.T) {
	formatter := Formatter{NFTDir: "/srv/app/dist"}
	output, err := formatter.Format(sampleReport(), FormatNFT)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded struct {
		Version int      `json:"version"`
		Files   []string `json:"files"`
	}
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		t.Fatalf("decode nft output: %v", err)
	}
	if decoded.Version != 1 {
		t.Fatalf("expected version 1, got %d", decoded.Version)
	}
	want := []string{"../asset.txt", "../dep.js", "../input.js"}
	if strings.Join(decoded.Files, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, decoded.Files)
	}
}

func TestFormatUnknown(t *testing.T) {
	if _, err := NewFormatter().Format(sampleReport(), Format("xml")); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected unknown format error, got %v", err)
	}
}

func TestFormatWarnings(t *testing.T) {
	if got := FormatWarnings(nil); got != "" {
		t.Fatalf("expected no output without warnings, got %q", got)
	}
	got := FormatWarnings(sampleReport().Warnings)
	if got != "Warnings:\n- failed to resolve dependency ./gone\n" {
		t.Fatalf("unexpected warnings output: %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	output := FormatSize(SizeReport{
		Files: []FileSize{{Path: "big.js", Bytes: 1536}, {Path: "small.js", Bytes: 12}},
		Total: 1548,
	})
	for _, want := range []string{"1.5 kB", "big.js", "12 B", "small.js", "Total: 1.5 kB (1,548 bytes, 2 files)"} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected size output to contain %q, got:\n%s", want, output)
		}
	}
}
