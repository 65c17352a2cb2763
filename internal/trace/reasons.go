package trace

import (
	"path/filepath"
	"strings"
)

type ReasonType string

const (
	ReasonInitial    ReasonType = "initial"
	ReasonDependency ReasonType = "dependency"
	ReasonAsset      ReasonType = "asset"
	ReasonResolve    ReasonType = "resolve"
	ReasonSharedLib  ReasonType = "sharedlib"
)

// Reason explains why a file was reached. Ignored is set when the file was
// only ever reached by paths the ignore rules rejected.
type Reason struct {
	Type    []ReasonType `json:"type"`
	Ignored bool         `json:"ignored"`
	Parents []string     `json:"parents"`
}

func (r Reason) Has(t ReasonType) bool {
	for _, got := range r.Type {
		if got == t {
			return true
		}
	}
	return false
}

type reasonEntry struct {
	types   map[ReasonType]struct{}
	ignored bool
	parents map[string]struct{}
}

func newReasonEntry() *reasonEntry {
	return &reasonEntry{types: map[ReasonType]struct{}{}, parents: map[string]struct{}{}}
}

func (e *reasonEntry) reason() Reason {
	return Reason{Type: sortedSet(e.types), Ignored: e.ignored, Parents: sortedSet(e.parents)}
}

// Result is the outcome of a trace. Paths are relative to the base
// directory and sorted.
type Result struct {
	FileList    []string
	ESMFileList []string
	Reasons     map[string]Reason
	Warnings    []error
}

// Why lists file followed by every file that led to it, depth first,
// each at most once.
func (r *Result) Why(file string) []string {
	var lines []string
	seen := map[string]bool{}
	var walk func(string)
	walk = func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true
		lines = append(lines, path)
		for _, parent := range r.Reasons[path].Parents {
			walk(parent)
		}
	}
	walk(filepath.Clean(file))
	return lines
}

// WhyTree renders the same chain as Why with one level of indentation per
// hop. A file already shown is marked and not expanded again.
func (r *Result) WhyTree(file string) string {
	var b strings.Builder
	seen := map[string]bool{}
	var walk func(string, int)
	walk = func(path string, depth int) {
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(path)
		reason, ok := r.Reasons[path]
		if ok {
			types := make([]string, len(reason.Type))
			for i, t := range reason.Type {
				types[i] = string(t)
			}
			b.WriteString(" (" + strings.Join(types, ", ") + ")")
		}
		if seen[path] {
			b.WriteString(" [seen]\n")
			return
		}
		b.WriteString("\n")
		seen[path] = true
		for _, parent := range reason.Parents {
			walk(parent, depth+1)
		}
	}
	walk(filepath.Clean(file), 0)
	return b.String()
}
