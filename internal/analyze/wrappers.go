package analyze

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

// markWrappers finds functions that receive the real require through a
// module wrapper (AMD define, UMD and IIFE wrappers, factory calls and
// browserify registries). Their require parameter does not shadow the
// module's require, so requires inside them are traced.
func (a *analyzer) markWrappers(node *sitter.Node) {
	if node.Type() == "call_expression" {
		a.markWrapperCall(node)
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		a.markWrappers(node.NamedChild(i))
	}
}

func (a *analyzer) markWrapperCall(call *sitter.Node) {
	callee := unwrapParens(call.ChildByFieldName("function"))
	args := callArguments(call)
	if callee == nil {
		return
	}

	if callee.Type() == "identifier" && nodeText(callee, a.content) == "define" {
		for _, arg := range args {
			if fn := unwrapParens(arg); isFunctionNode(fn) && paramIndex(fn, "require", a.content) != -1 {
				a.requireWrappers[fn.ID()] = true
			}
		}
		return
	}

	if !isFunctionNode(callee) {
		return
	}
	params := paramNames(callee, a.content)
	for i, name := range params {
		if name == "require" && i < len(args) && a.isRequireIdentifier(args[i]) {
			a.requireWrappers[callee.ID()] = true
		}
	}

	for j, arg := range args {
		factory := unwrapParens(arg)
		if !isFunctionNode(factory) || j >= len(params) || params[j] == "" {
			continue
		}
		if paramIndex(factory, "require", a.content) != -1 && a.passesRequire(callee.ChildByFieldName("body"), params[j]) {
			a.requireWrappers[factory.ID()] = true
		}
	}

	if len(args) > 0 {
		a.markBrowserifyRegistry(unwrapParens(args[0]))
	}
}

func (a *analyzer) isRequireIdentifier(node *sitter.Node) bool {
	node = unwrapParens(node)
	return node != nil && node.Type() == "identifier" && nodeText(node, a.content) == "require"
}

// passesRequire reports whether body calls fnName with require as an
// argument.
func (a *analyzer) passesRequire(body *sitter.Node, fnName string) bool {
	if body == nil {
		return false
	}
	if body.Type() == "call_expression" {
		callee := body.ChildByFieldName("function")
		if callee != nil && callee.Type() == "identifier" && nodeText(callee, a.content) == fnName {
			for _, arg := range callArguments(body) {
				if a.isRequireIdentifier(arg) {
					return true
				}
			}
		}
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if isFunctionNode(child) {
			continue
		}
		if a.passesRequire(child, fnName) {
			return true
		}
	}
	return false
}

// markBrowserifyRegistry recognises the module map of a browserify bundle:
//
//	{1: [function (require, module, exports) {...}, {"./dep": 2}], ...}
//
// Specifiers mapped to a registry id are bundled and are not traced.
func (a *analyzer) markBrowserifyRegistry(registry *sitter.Node) {
	if registry == nil || registry.Type() != "object" || registry.NamedChildCount() == 0 {
		return
	}
	type entry struct {
		fn       *sitter.Node
		internal map[string]bool
	}
	var entries []entry
	for i := 0; i < int(registry.NamedChildCount()); i++ {
		pair := registry.NamedChild(i)
		if pair.Type() == "comment" {
			continue
		}
		if pair.Type() != "pair" {
			return
		}
		value := pair.ChildByFieldName("value")
		if value == nil || value.Type() != "array" || value.NamedChildCount() < 2 {
			return
		}
		fn := unwrapParens(value.NamedChild(0))
		mapping := value.NamedChild(1)
		if !isFunctionNode(fn) || mapping.Type() != "object" {
			return
		}
		params := paramNames(fn, a.content)
		if len(params) == 0 || params[0] != "require" {
			return
		}
		entries = append(entries, entry{fn: fn, internal: a.internalSpecifiers(mapping)})
	}
	for _, e := range entries {
		a.requireWrappers[e.fn.ID()] = true
		a.browserifyInternals[e.fn.ID()] = e.internal
	}
}

func (a *analyzer) internalSpecifiers(mapping *sitter.Node) map[string]bool {
	internal := map[string]bool{}
	for i := 0; i < int(mapping.NamedChildCount()); i++ {
		pair := mapping.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		key := pair.ChildByFieldName("key")
		value := pair.ChildByFieldName("value")
		if key == nil || value == nil || value.Type() != "number" {
			continue
		}
		var specifier string
		switch key.Type() {
		case "string":
			s, ok := staticeval.StringLiteral(key, a.content)
			if !ok {
				continue
			}
			specifier = s
		default:
			specifier = nodeText(key, a.content)
		}
		internal[specifier] = true
	}
	return internal
}

// paramNames lists a function's parameters in order. Parameters that are
// not plain identifiers are reported as "".
func paramNames(fn *sitter.Node, content []byte) []string {
	if param := fn.ChildByFieldName("parameter"); param != nil {
		return []string{nodeText(param, content)}
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		param := params.NamedChild(i)
		if param.Type() == "comment" {
			continue
		}
		if param.Type() == "required_parameter" {
			param = param.ChildByFieldName("pattern")
		}
		if param != nil && param.Type() == "identifier" {
			names = append(names, nodeText(param, content))
		} else {
			names = append(names, "")
		}
	}
	return names
}

func paramIndex(fn *sitter.Node, name string, content []byte) int {
	for i, param := range paramNames(fn, content) {
		if param == name {
			return i
		}
	}
	return -1
}
