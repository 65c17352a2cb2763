package analyze

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	tsxlang "github.com/smacker/go-tree-sitter/typescript/tsx"
	tslang "github.com/smacker/go-tree-sitter/typescript/typescript"
)

type sourceParser struct {
	js  *sitter.Language
	ts  *sitter.Language
	tsx *sitter.Language
}

func newSourceParser() *sourceParser {
	return &sourceParser{
		js:  javascript.GetLanguage(),
		ts:  tslang.GetLanguage(),
		tsx: tsxlang.GetLanguage(),
	}
}

var defaultParser = newSourceParser()

func (p *sourceParser) Parse(ctx context.Context, path string, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.languageForPath(path))

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("tree-sitter returned nil tree for %s", path)
	}
	return tree, nil
}

// languageForPath picks a grammar by extension. Files with unknown or no
// extension are parsed as JavaScript, since anything reached through
// require() is executed as JavaScript.
func (p *sourceParser) languageForPath(path string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return p.ts
	case ".tsx":
		return p.tsx
	default:
		return p.js
	}
}

// stripShebang blanks a leading #! line in place of removing it so byte
// offsets stay valid.
func stripShebang(content []byte) []byte {
	if len(content) < 2 || content[0] != '#' || content[1] != '!' {
		return content
	}
	out := append([]byte(nil), content...)
	for i := 0; i < len(out) && out[i] != '\n'; i++ {
		out[i] = ' '
	}
	return out
}

func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return string(content[node.StartByte():node.EndByte()])
}

func firstNamedChildOfType(node *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		for _, typ := range types {
			if child.Type() == typ {
				return child
			}
		}
	}
	return nil
}

func hasChildOfType(node *sitter.Node, typ string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.ID() == b.ID()
}

// transparentNodes are syntax wrappers that do not change the value of
// their child.
var transparentNodes = map[string]bool{
	"arguments":                true,
	"parenthesized_expression": true,
	"template_substitution":    true,
}

// astParent returns the nearest ancestor that carries meaning of its own.
func astParent(node *sitter.Node) *sitter.Node {
	parent := node.Parent()
	for parent != nil && transparentNodes[parent.Type()] {
		parent = parent.Parent()
	}
	return parent
}

// unwrapParens strips grouping parentheses around an expression.
func unwrapParens(node *sitter.Node) *sitter.Node {
	for node != nil && node.Type() == "parenthesized_expression" {
		inner := firstNamedChildOfType(node, expressionTypes...)
		if inner == nil && node.NamedChildCount() > 0 {
			inner = node.NamedChild(0)
		}
		node = inner
	}
	return node
}

var expressionTypes = []string{
	"identifier", "string", "template_string", "binary_expression", "ternary_expression",
	"call_expression", "member_expression", "subscript_expression", "function_expression", "function",
	"arrow_function", "parenthesized_expression", "object", "array", "new_expression", "unary_expression",
	"assignment_expression", "sequence_expression", "await_expression",
}

var functionTypes = map[string]bool{
	"function_declaration":           true,
	"function_expression":            true,
	"function":                       true,
	"arrow_function":                 true,
	"generator_function":             true,
	"generator_function_declaration": true,
	"method_definition":              true,
}

func isFunctionNode(node *sitter.Node) bool {
	return node != nil && node.IsNamed() && functionTypes[node.Type()]
}

func callArguments(call *sitter.Node) []*sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, args.NamedChildCount())
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		out = append(out, child)
	}
	return out
}
