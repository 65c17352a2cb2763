package staticeval

import (
	"context"
	"net/url"
	"strings"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

func parseExpression(t *testing.T, source string) (*sitter.Node, []byte) {
	t.Helper()
	content := []byte(source + ";")
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		t.Fatalf("parse %q: %v", source, err)
	}
	t.Cleanup(tree.Close)
	root := tree.RootNode()
	if root.HasError() {
		t.Fatalf("unexpected syntax error in %q", source)
	}
	stmt := root.NamedChild(0)
	if stmt == nil || stmt.Type() != "expression_statement" {
		t.Fatalf("expected expression statement for %q", source)
	}
	return stmt.NamedChild(0), content
}

func eval(t *testing.T, source string, vars MapBindings, computeBranches bool) *Value {
	t.Helper()
	node, content := parseExpression(t, source)
	return Evaluate(node, content, vars, computeBranches)
}

func testBindings() MapBindings {
	return MapBindings{
		"__dirname": "/app/lib",
		"name":      "data",
		"flags":     &Object{Props: map[string]any{"debug": true}},
		"env":       &Object{Partial: true, Props: map[string]any{"NODE_ENV": UnknownProp}},
		"join": &Object{Call: func(_ any, args []any) (any, error) {
			parts := make([]string, 0, len(args))
			for _, arg := range args {
				parts = append(parts, ToString(arg))
			}
			return strings.Join(parts, "/"), nil
		}},
		"URL": URLConstructor,
	}
}

func TestEvaluateConcreteValues(t *testing.T) {
	cases := []struct {
		source string
		want   any
	}{
		{source: `'a' + "b"`, want: "ab"},
		{source: `__dirname + '/file.txt'`, want: "/app/lib/file.txt"},
		{source: "`${__dirname}/${name}.json`", want: "/app/lib/data.json"},
		{source: `1 + 2 * 3`, want: float64(7)},
		{source: `'v' + 1`, want: "v1"},
		{source: `1 === 1`, want: true},
		{source: `'1' == 1`, want: true},
		{source: `!0`, want: true},
		{source: `-(2)`, want: float64(-2)},
		{source: `0x10 | 1`, want: float64(17)},
		{source: `flags.debug ? 'a' : 'b'`, want: "a"},
		{source: `flags['debug']`, want: true},
		{source: `flags.missing`, want: Undefined},
		{source: `join(__dirname, 'x')`, want: "/app/lib/x"},
		{source: `'a'.concat('b', 'c')`, want: "abc"},
		{source: `'' || 'fallback'`, want: "fallback"},
		{source: `null ?? 'x'`, want: "x"},
		{source: `[1, 2].length`, want: float64(2)},
		{source: `'a\nb'`, want: "a\nb"},
		{source: `typeof name`, want: "string"},
	}
	for _, tc := range cases {
		t.Run(tc.source, func(t *testing.T) {
			got := eval(t, tc.source, testBindings(), false)
			if !got.IsConcrete() {
				t.Fatalf("expected concrete value, got %#v", got)
			}
			if !StrictEquals(got.Value, tc.want) {
				t.Fatalf("expected %#v, got %#v", tc.want, got.Value)
			}
		})
	}
}

func TestEvaluateUnknown(t *testing.T) {
	cases := []string{
		`unknownVar`,
		`unknownVar.prop`,
		`unknownVar - 1`,
		`env.NODE_ENV`,
		`env.HOME`,
		`__dirname + unknownVar`,
		`join(unknownVar)`,
		`(a, b)`,
	}
	for _, source := range cases {
		t.Run(source, func(t *testing.T) {
			if got := eval(t, source, testBindings(), false); got != nil {
				t.Fatalf("expected unknown, got %#v", got)
			}
		})
	}
}

func TestEvaluateWildcards(t *testing.T) {
	got := eval(t, `__dirname + '/locale/' + lang + '.json'`, testBindings(), true)
	if !got.IsConcrete() {
		t.Fatalf("expected concrete wildcard value, got %#v", got)
	}
	if got.Value != "/app/lib/locale/"+Wildcard+".json" {
		t.Fatalf("unexpected wildcard string %q", got.Value)
	}
	if len(got.Wildcards) != 1 {
		t.Fatalf("expected one wildcard node, got %d", len(got.Wildcards))
	}

	got = eval(t, "`${__dirname}/${dir}/${file}`", testBindings(), true)
	if s, _ := got.String(); strings.Count(s, Wildcard) != 2 {
		t.Fatalf("expected two wildcards in template, got %#v", got)
	}

	got = eval(t, `join(__dirname, lang)`, testBindings(), true)
	if s, _ := got.String(); s != "/app/lib/"+Wildcard {
		t.Fatalf("expected wildcard join result, got %#v", got)
	}

	if got := eval(t, `join(lang)`, testBindings(), true); got != nil {
		t.Fatalf("expected all-wildcard call to be unknown, got %#v", got)
	}
}

func TestEvaluateConditional(t *testing.T) {
	got := eval(t, `__dirname + (cond ? '/a.node' : '/b.node')`, testBindings(), true)
	if !got.IsConditional() {
		t.Fatalf("expected conditional, got %#v", got)
	}
	if got.Then != "/app/lib/a.node" || got.Else != "/app/lib/b.node" {
		t.Fatalf("unexpected branches %#v / %#v", got.Then, got.Else)
	}

	if got := eval(t, `cond ? 'a' : 'b'`, testBindings(), false); got != nil {
		t.Fatalf("expected unknown without computeBranches, got %#v", got)
	}

	if got := eval(t, `(x ? 'a' : 'b') + (y ? 'c' : 'd')`, testBindings(), true); got != nil {
		t.Fatalf("expected nested conditionals to be unknown, got %#v", got)
	}

	got = eval(t, `join(__dirname, cond ? 'a' : 'b')`, testBindings(), true)
	if !got.IsConditional() || got.Then != "/app/lib/a" || got.Else != "/app/lib/b" {
		t.Fatalf("expected conditional call result, got %#v", got)
	}
}

func TestEvaluateURL(t *testing.T) {
	vars := testBindings()
	vars["import.meta"] = &Object{Props: map[string]any{"url": "file:///app/lib/index.mjs"}}
	got := eval(t, `new URL('./data.bin', import.meta.url)`, vars, false)
	if !got.IsConcrete() {
		t.Fatalf("expected URL value, got %#v", got)
	}
	u, ok := got.Value.(*url.URL)
	if !ok {
		t.Fatalf("expected *url.URL, got %T", got.Value)
	}
	path, ok := FileURLToPath(u)
	if !ok || path != "/app/lib/data.bin" {
		t.Fatalf("unexpected file path %q", path)
	}

	if got := eval(t, `new URL('./relative')`, vars, false); got != nil {
		t.Fatalf("expected relative URL without base to be unknown, got %#v", got)
	}
}

func TestToString(t *testing.T) {
	cases := map[string]any{
		"1.5":             1.5,
		"100":             float64(100),
		"null":            nil,
		"undefined":       Undefined,
		"a,b":             []any{"a", "b"},
		"[object Object]": &Object{},
	}
	for want, value := range cases {
		if got := ToString(value); got != want {
			t.Fatalf("ToString(%#v): expected %q, got %q", value, want, got)
		}
	}
}
