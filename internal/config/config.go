package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/nfttrace/internal/safeio"
	"github.com/ben-ranford/nfttrace/internal/trace"
)

const (
	readConfigFileErrFmt = "read config file %s: %w"
	parseConfigErrFmt    = "parse config file %s: %w"
)

var configNames = []string{".nfttrace.yml", ".nfttrace.yaml", "nfttrace.json", "nfttrace.toml"}

//go:embed schema.json
var schemaJSON string

var schema = gojsonschema.NewStringLoader(schemaJSON)

// File is a decoded config file. Unset keys are nil and leave the caller's
// options alone.
type File struct {
	Base              *string           `json:"base"`
	ProcessCwd        *string           `json:"processCwd"`
	Conditions        []string          `json:"conditions"`
	ExportsOnly       *bool             `json:"exportsOnly"`
	Paths             map[string]string `json:"paths"`
	Ignore            []string          `json:"ignore"`
	TS                *bool             `json:"ts"`
	MixedModules      *bool             `json:"mixedModules"`
	Analysis          *Analysis         `json:"analysis"`
	FileIOConcurrency *int              `json:"fileIOConcurrency"`

	// dir is the directory holding the file. Relative paths in the file
	// are taken from here.
	dir string
}

type Analysis struct {
	EmitGlobs               *bool `json:"emitGlobs"`
	ComputeFileReferences   *bool `json:"computeFileReferences"`
	EvaluatePureExpressions *bool `json:"evaluatePureExpressions"`
}

// Load finds and decodes the config for baseDir. An explicit path must
// exist; without one the well-known names are tried in order. The returned
// path is "" when no config file was found.
func Load(baseDir, explicitPath string) (File, string, error) {
	baseAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return File{}, "", fmt.Errorf("resolve base path: %w", err)
	}
	explicitPath = strings.TrimSpace(explicitPath)

	configPath, found, err := resolveConfigPath(baseAbs, explicitPath)
	if err != nil || !found {
		return File{}, "", err
	}
	data, err := readConfigFile(baseAbs, configPath, explicitPath != "")
	if err != nil {
		return File{}, "", fmt.Errorf(readConfigFileErrFmt, configPath, err)
	}
	cfg, err := Parse(configPath, data)
	if err != nil {
		return File{}, "", fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	return cfg, configPath, nil
}

func resolveConfigPath(baseDir, explicitPath string) (string, bool, error) {
	if explicitPath != "" {
		candidate := explicitPath
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(baseDir, candidate)
		}
		candidate = filepath.Clean(candidate)
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return "", false, fmt.Errorf("config file not found: %s", candidate)
			}
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
		return candidate, true, nil
	}

	for _, name := range configNames {
		candidate := filepath.Join(baseDir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !os.IsNotExist(err) {
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
	}
	return "", false, nil
}

func readConfigFile(baseDir, path string, explicitProvided bool) ([]byte, error) {
	if _, under := safeio.Contained(baseDir, path); !explicitProvided || under {
		return safeio.ReadFileUnder(baseDir, path)
	}
	return safeio.ReadFile(path)
}

// Parse decodes config data, choosing the format from the file extension.
// The document is checked against the config schema before it is turned
// into a File.
func Parse(path string, data []byte) (File, error) {
	var document any
	if err := decode(strings.ToLower(filepath.Ext(path)), data, &document); err != nil {
		return File{}, err
	}
	if err := validate(document); err != nil {
		return File{}, err
	}
	cfg, err := fromDocument(document)
	if err != nil {
		return File{}, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

func decode(ext string, data []byte, target any) error {
	switch ext {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		if err := decoder.Decode(target); err != nil {
			return fmt.Errorf("invalid JSON config: %w", err)
		}
		if decoder.More() {
			return errors.New("invalid JSON config: multiple JSON values")
		}
	case ".toml":
		if err := toml.NewDecoder(bytes.NewReader(data)).Decode(target); err != nil {
			return fmt.Errorf("invalid TOML config: %w", err)
		}
	default:
		if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(target); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("invalid YAML config: %w", err)
		}
	}
	return nil
}

// fromDocument maps a validated document onto File. All three formats go
// through the same JSON form, and a boolean analysis value switches every
// analysis option together.
func fromDocument(document any) (File, error) {
	var cfg File
	if document == nil {
		return cfg, nil
	}
	if fields, ok := document.(map[string]any); ok {
		if enabled, ok := fields["analysis"].(bool); ok {
			fields["analysis"] = map[string]any{
				"emitGlobs":               enabled,
				"computeFileReferences":   enabled,
				"evaluatePureExpressions": enabled,
			}
		}
	}
	normalized, err := json.Marshal(document)
	if err != nil {
		return cfg, fmt.Errorf("normalize config: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(normalized))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func validate(document any) error {
	if document == nil {
		return nil
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, item := range result.Errors() {
		messages = append(messages, item.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

func (f File) path(value string) string {
	if filepath.IsAbs(value) || f.dir == "" {
		return value
	}
	return filepath.Join(f.dir, value)
}

// Apply layers the config over opts.
func (f File) Apply(opts trace.Options) trace.Options {
	if f.Base != nil {
		opts.Base = f.path(*f.Base)
	}
	if f.ProcessCwd != nil {
		opts.ProcessCwd = f.path(*f.ProcessCwd)
	}
	if len(f.Conditions) > 0 {
		opts.Conditions = append([]string(nil), f.Conditions...)
	}
	if f.ExportsOnly != nil {
		opts.ExportsOnly = *f.ExportsOnly
	}
	if len(f.Paths) > 0 {
		opts.Paths = make(map[string]string, len(f.Paths))
		for prefix, target := range f.Paths {
			resolved := f.path(target)
			if strings.HasSuffix(target, "/") && !strings.HasSuffix(resolved, "/") {
				resolved += "/"
			}
			opts.Paths[prefix] = resolved
		}
	}
	if len(f.Ignore) > 0 {
		opts.IgnorePatterns = append(opts.IgnorePatterns, f.Ignore...)
	}
	if f.TS != nil {
		opts.TS = *f.TS
	}
	if f.MixedModules != nil {
		opts.MixedModules = *f.MixedModules
	}
	if f.Analysis != nil {
		applyBool(&opts.Analysis.EmitGlobs, f.Analysis.EmitGlobs)
		applyBool(&opts.Analysis.ComputeFileReferences, f.Analysis.ComputeFileReferences)
		applyBool(&opts.Analysis.EvaluatePureExpressions, f.Analysis.EvaluatePureExpressions)
	}
	if f.FileIOConcurrency != nil {
		opts.FileIOConcurrency = *f.FileIOConcurrency
	}
	return opts
}

func applyBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}
