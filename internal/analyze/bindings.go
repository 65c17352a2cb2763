package analyze

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

type binding struct {
	value       any
	shadowDepth int
}

// bindingTable holds identifiers with statically known values. A name that
// is redeclared in an inner scope is shadowed rather than removed, so the
// outer value comes back when the scope closes.
type bindingTable struct {
	entries map[string]*binding
}

func newBindingTable() *bindingTable {
	return &bindingTable{entries: map[string]*binding{}}
}

func (b *bindingTable) Lookup(name string) (any, bool) {
	entry, ok := b.entries[name]
	if !ok || entry.shadowDepth > 0 {
		return nil, false
	}
	return entry.value, true
}

// visible reports whether name is bound and not shadowed.
func (b *bindingTable) visible(name string) bool {
	entry, ok := b.entries[name]
	return ok && entry.shadowDepth == 0
}

func (b *bindingTable) has(name string) bool {
	_, ok := b.entries[name]
	return ok
}

// hasValue reports whether name is visible and bound to something other
// than an unknown placeholder.
func (b *bindingTable) hasValue(name string) bool {
	entry, ok := b.entries[name]
	return ok && entry.shadowDepth == 0 && entry.value != staticeval.UnknownProp
}

func (b *bindingTable) set(name string, value any) {
	if name == "require" && value != staticeval.MarkerBoundRequire {
		return
	}
	b.entries[name] = &binding{value: value}
}

// setInitial installs a binding without the require guard.
func (b *bindingTable) setInitial(name string, value any) {
	b.entries[name] = &binding{value: value}
}

func (b *bindingTable) enterScope(names []string) {
	for _, name := range names {
		if entry, ok := b.entries[name]; ok {
			entry.shadowDepth++
		}
	}
}

func (b *bindingTable) leaveScope(names []string) {
	for _, name := range names {
		entry, ok := b.entries[name]
		if !ok {
			continue
		}
		if entry.shadowDepth > 0 {
			entry.shadowDepth--
		} else {
			delete(b.entries, name)
		}
	}
}

// scopeDeclarations returns the names a scope-creating node declares, or
// false when node does not open a scope.
func scopeDeclarations(node *sitter.Node, content []byte) ([]string, bool) {
	switch {
	case isFunctionNode(node):
		return functionScopeNames(node, content), true
	case node.Type() == "statement_block":
		if isFunctionNode(node.Parent()) {
			return nil, false
		}
		return blockScopeNames(node, content), true
	case node.Type() == "for_statement":
		var names []string
		if init := node.ChildByFieldName("initializer"); init != nil && init.Type() == "lexical_declaration" {
			names = declarationNames(init, content)
		}
		return names, true
	case node.Type() == "for_in_statement":
		kind := node.ChildByFieldName("kind")
		if kind == nil || (kind.Type() != "let" && kind.Type() != "const") {
			return nil, true
		}
		return bindingNames(node.ChildByFieldName("left"), content), true
	case node.Type() == "catch_clause":
		return bindingNames(node.ChildByFieldName("parameter"), content), true
	default:
		return nil, false
	}
}

func functionScopeNames(node *sitter.Node, content []byte) []string {
	var names []string
	if node.Type() == "function_expression" || node.Type() == "function" || node.Type() == "generator_function" {
		if name := node.ChildByFieldName("name"); name != nil {
			names = append(names, nodeText(name, content))
		}
	}
	if param := node.ChildByFieldName("parameter"); param != nil {
		names = append(names, bindingNames(param, content)...)
	}
	if params := node.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			names = append(names, bindingNames(params.NamedChild(i), content)...)
		}
	}
	body := node.ChildByFieldName("body")
	if body != nil && body.Type() == "statement_block" {
		names = append(names, blockScopeNames(body, content)...)
		collectHoistedVars(body, content, &names)
	}
	return names
}

// blockScopeNames lists let/const/class/function declarations made directly
// in a block.
func blockScopeNames(block *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		switch child.Type() {
		case "lexical_declaration":
			names = append(names, declarationNames(child, content)...)
		case "function_declaration", "generator_function_declaration", "class_declaration":
			if name := child.ChildByFieldName("name"); name != nil {
				names = append(names, nodeText(name, content))
			}
		}
	}
	return names
}

func collectHoistedVars(node *sitter.Node, content []byte, names *[]string) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if isFunctionNode(child) || child.Type() == "class_declaration" || child.Type() == "class" {
			continue
		}
		switch child.Type() {
		case "variable_declaration":
			*names = append(*names, declarationNames(child, content)...)
		case "for_in_statement":
			if kind := child.ChildByFieldName("kind"); kind != nil && kind.Type() == "var" {
				*names = append(*names, bindingNames(child.ChildByFieldName("left"), content)...)
			}
		}
		collectHoistedVars(child, content, names)
	}
}

func declarationNames(decl *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		declarator := decl.NamedChild(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}
		names = append(names, bindingNames(declarator.ChildByFieldName("name"), content)...)
	}
	return names
}

// bindingNames extracts identifiers bound by a parameter or declaration
// target, including destructuring patterns and TypeScript parameters.
func bindingNames(node *sitter.Node, content []byte) []string {
	if node == nil {
		return nil
	}
	switch node.Type() {
	case "identifier", "shorthand_property_identifier_pattern":
		return []string{nodeText(node, content)}
	case "assignment_pattern", "object_assignment_pattern":
		return bindingNames(node.ChildByFieldName("left"), content)
	case "required_parameter", "optional_parameter":
		return bindingNames(node.ChildByFieldName("pattern"), content)
	case "pair_pattern":
		return bindingNames(node.ChildByFieldName("value"), content)
	case "rest_pattern", "object_pattern", "array_pattern":
		var names []string
		for i := 0; i < int(node.NamedChildCount()); i++ {
			names = append(names, bindingNames(node.NamedChild(i), content)...)
		}
		return names
	default:
		return nil
	}
}

func removeName(names []string, name string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// isIdentifierRead reports whether an identifier node reads a variable, as
// opposed to declaring or naming something.
func isIdentifierRead(node *sitter.Node) bool {
	parent := node.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "object_pattern", "array_pattern", "rest_pattern", "formal_parameters",
		"required_parameter", "optional_parameter",
		"import_specifier", "import_clause", "namespace_import", "named_imports",
		"export_specifier", "import_require_clause", "labeled_statement",
		"break_statement", "continue_statement":
		return false
	case "assignment_expression", "augmented_assignment_expression":
		return sameNode(parent.ChildByFieldName("right"), node)
	case "assignment_pattern", "object_assignment_pattern":
		return sameNode(parent.ChildByFieldName("right"), node)
	case "pair_pattern":
		return false
	case "variable_declarator", "function_declaration", "function_expression", "function",
		"class_declaration", "class", "generator_function", "generator_function_declaration",
		"method_definition":
		return !sameNode(parent.ChildByFieldName("name"), node)
	case "arrow_function":
		return !sameNode(parent.ChildByFieldName("parameter"), node)
	case "catch_clause":
		return !sameNode(parent.ChildByFieldName("parameter"), node)
	case "for_in_statement":
		return !sameNode(parent.ChildByFieldName("left"), node)
	default:
		return true
	}
}
