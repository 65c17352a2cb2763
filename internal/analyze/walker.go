package analyze

import (
	"regexp"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ben-ranford/nfttrace/internal/staticeval"
)

var absolutePathPattern = regexp.MustCompile(`(?i)^/[^/]+|^[a-z]:[\\/][^\\/]+`)

func (a *analyzer) evaluate(node *sitter.Node, computeBranches bool) *staticeval.Value {
	return staticeval.Evaluate(node, a.content, a.vars, computeBranches)
}

// visit walks the tree depth first. Scope declarations shadow known
// bindings for the duration of the node.
func (a *analyzer) visit(node *sitter.Node) {
	if node == nil || a.stopped() {
		return
	}
	names, scoped := scopeDeclarations(node, a.content)
	if scoped {
		if a.requireWrappers[node.ID()] {
			names = removeName(names, "require")
		}
		a.vars.enterScope(names)
	}
	internals, browserify := a.browserifyInternals[node.ID()]
	if browserify {
		a.internalStack = append(a.internalStack, internals)
	}

	if !a.enter(node) {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			a.visit(node.NamedChild(i))
		}
	}

	if browserify {
		a.internalStack = a.internalStack[:len(a.internalStack)-1]
	}
	if scoped {
		a.vars.leaveScope(names)
	}
	a.leave(node)
}

func (a *analyzer) leave(node *sitter.Node) {
	if a.staticChildNode == nil || transparentNodes[node.Type()] {
		return
	}
	if parent := astParent(node); parent != nil {
		a.backtrack(parent)
	}
}

// enter handles one node on the way down and reports whether its children
// should be skipped.
func (a *analyzer) enter(node *sitter.Node) bool {
	switch node.Type() {
	case "identifier":
		if !a.opts.ComputeFileReferences || !isIdentifierRead(node) {
			return false
		}
		value, ok := a.vars.Lookup(nodeText(node, a.content))
		if !ok {
			return false
		}
		switch typed := value.(type) {
		case string:
			if !absolutePathPattern.MatchString(typed) {
				return false
			}
			a.staticChildValue = staticeval.Known(typed)
		case *staticeval.Object:
			if !typed.Trigger {
				return false
			}
			a.staticChildValue = staticeval.Known(nil)
		default:
			return false
		}
		a.staticChildNode = node
		return a.backtrackFrom(node)
	case "member_expression":
		if !a.opts.ComputeFileReferences || !a.isImportMetaURL(node) {
			return false
		}
		a.staticChildValue = staticeval.Known(a.importMetaURL)
		a.staticChildNode = node
		return a.backtrackFrom(node)
	case "call_expression":
		return a.enterCall(node)
	case "import_require_clause":
		sourceNode := node.ChildByFieldName("source")
		if sourceNode == nil {
			sourceNode = firstNamedChildOfType(node, "string")
		}
		if sourceNode != nil {
			if source, ok := staticeval.StringLiteral(sourceNode, a.content); ok {
				a.addDep(source, false)
			}
		}
		return false
	case "lexical_declaration", "variable_declaration":
		if parent := node.Parent(); parent != nil && (parent.Type() == "for_statement" || parent.Type() == "for_in_statement") {
			return false
		}
		if a.opts.EvaluatePureExpressions {
			a.enterDeclaration(node)
		}
		return false
	case "assignment_expression":
		if a.opts.EvaluatePureExpressions {
			a.enterAssignment(node)
		}
		return false
	}
	if isFunctionNode(node) && (!a.isESM || a.opts.MixedModules) {
		a.detectBoundRequire(node)
	}
	return false
}

func (a *analyzer) isImportMetaURL(node *sitter.Node) bool {
	object := node.ChildByFieldName("object")
	if object == nil || !isImportMeta(object, a.content) {
		return false
	}
	return nodeText(node.ChildByFieldName("property"), a.content) == "url"
}

// backtrackFrom continues the static child upwards from node. It always
// skips node's children.
func (a *analyzer) backtrackFrom(node *sitter.Node) bool {
	if parent := astParent(node); parent != nil {
		a.backtrack(parent)
	}
	return true
}

// backtrack tries to extend the static child to parent. When parent has no
// usable static value the child is emitted as an asset reference.
func (a *analyzer) backtrack(parent *sitter.Node) {
	if a.staticChildNode == nil {
		return
	}
	value := a.evaluate(parent, true)
	if usableStaticValue(value) {
		a.staticChildValue = value
		a.staticChildNode = parent
		return
	}
	a.emitStaticChildAsset()
}

func usableStaticValue(value *staticeval.Value) bool {
	switch {
	case value.IsConcrete():
		return !staticeval.IsMarkerOrFunc(value.Value)
	case value.IsConditional():
		return !staticeval.IsMarkerOrFunc(value.Then) && !staticeval.IsMarkerOrFunc(value.Else)
	default:
		return false
	}
}

func (a *analyzer) emitStaticChildAsset() {
	value := a.staticChildValue
	node := a.staticChildNode
	a.staticChildValue = nil
	a.staticChildNode = nil
	if value == nil {
		return
	}
	switch {
	case value.IsConcrete() && isAbsolutePathOrURL(value.Value):
		if path, ok := a.assetPath(value.Value); ok {
			a.emitAssetPath(path)
		}
	case value.IsConditional() && isAbsolutePathOrURL(value.Then) && isAbsolutePathOrURL(value.Else):
		for _, branch := range []any{value.Then, value.Else} {
			if path, ok := a.assetPath(branch); ok {
				a.emitAssetPath(path)
			}
		}
	case value.IsConcrete() && node != nil && node.Type() == "array":
		items, ok := value.Value.([]any)
		if !ok {
			return
		}
		for _, item := range items {
			if !isAbsolutePathOrURL(item) {
				continue
			}
			if path, ok := a.assetPath(item); ok {
				a.emitAssetPath(path)
			}
		}
	}
}

func (a *analyzer) enterCall(node *sitter.Node) bool {
	callee := node.ChildByFieldName("function")
	args := callArguments(node)
	if callee == nil {
		return false
	}
	commonJS := !a.isESM || a.opts.MixedModules

	switch {
	case callee.Type() == "import":
		if len(args) > 0 {
			a.processRequireArg(args[0], true)
		}
		return false
	case commonJS && callee.Type() == "identifier" && len(args) > 0 &&
		nodeText(callee, a.content) == "require" && a.vars.visible("require"):
		a.processRequireArg(args[0], false)
		return false
	case commonJS && callee.Type() == "member_expression" && len(args) > 0 && a.isModuleRequire(callee):
		a.processRequireArg(args[0], false)
		return false
	}

	if !a.opts.EvaluatePureExpressions {
		return false
	}
	calleeValue := a.evaluate(callee, false)
	if !calleeValue.IsConcrete() {
		return false
	}
	switch typed := calleeValue.Value.(type) {
	case *staticeval.Object:
		if !typed.Trigger || !a.opts.ComputeFileReferences {
			return false
		}
		a.staticChildValue = a.evaluate(node, true)
		if a.staticChildValue == nil {
			return false
		}
		a.staticChildNode = node
		return a.backtrackFrom(node)
	case staticeval.Marker:
		return a.callMarker(typed, node, args)
	}
	return false
}

// isModuleRequire matches module.require(...) when module is the real
// CommonJS module object.
func (a *analyzer) isModuleRequire(callee *sitter.Node) bool {
	object := callee.ChildByFieldName("object")
	property := callee.ChildByFieldName("property")
	if object == nil || property == nil || object.Type() != "identifier" {
		return false
	}
	return nodeText(object, a.content) == "module" && nodeText(property, a.content) == "require" && !a.vars.has("module")
}

// processRequireArg records the specifiers a require or import argument can
// evaluate to. Both arms of conditional and logical expressions count.
func (a *analyzer) processRequireArg(expr *sitter.Node, dynamicImport bool) {
	expr = unwrapParens(expr)
	if expr == nil {
		return
	}
	switch expr.Type() {
	case "ternary_expression":
		a.processRequireArg(expr.ChildByFieldName("consequence"), dynamicImport)
		a.processRequireArg(expr.ChildByFieldName("alternative"), dynamicImport)
		return
	case "binary_expression":
		switch operatorOf(expr, a.content) {
		case "&&", "||", "??":
			a.processRequireArg(expr.ChildByFieldName("left"), dynamicImport)
			a.processRequireArg(expr.ChildByFieldName("right"), dynamicImport)
			return
		}
	}

	computed := a.evaluate(expr, true)
	switch {
	case computed == nil:
	case computed.IsConcrete():
		specifier, ok := computed.Value.(string)
		if !ok {
			return
		}
		if computed.HasWildcards() {
			a.emitWildcardRequire(specifier)
			return
		}
		a.addDep(specifier, dynamicImport)
	case computed.IsConditional():
		if then, ok := computed.Then.(string); ok {
			a.addDep(then, dynamicImport)
		}
		if els, ok := computed.Else.(string); ok {
			a.addDep(els, dynamicImport)
		}
	}
}

func operatorOf(node *sitter.Node, content []byte) string {
	if op := node.ChildByFieldName("operator"); op != nil {
		return nodeText(op, content)
	}
	return ""
}

func (a *analyzer) enterDeclaration(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		declarator := node.NamedChild(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}
		init := declarator.ChildByFieldName("value")
		target := declarator.ChildByFieldName("name")
		if init == nil || target == nil {
			continue
		}
		computed := a.evaluate(init, true)
		if computed == nil {
			continue
		}
		switch target.Type() {
		case "identifier":
			a.vars.set(nodeText(target, a.content), bindingValue(computed))
		case "object_pattern":
			if computed.IsConcrete() {
				a.bindObjectPattern(target, computed.Value)
			}
		}
		if computed.IsConditional() && isAbsolutePathOrURL(computed.Then) && isAbsolutePathOrURL(computed.Else) {
			a.staticChildValue = computed
			a.staticChildNode = init
			a.emitStaticChildAsset()
		}
	}
}

// bindingValue is what a declaration binds for an evaluated initializer.
// Conditional and partially known values are not tracked.
func bindingValue(value *staticeval.Value) any {
	if !value.IsConcrete() || value.HasWildcards() {
		return staticeval.UnknownProp
	}
	return value.Value
}

func (a *analyzer) bindObjectPattern(pattern *sitter.Node, value any) {
	obj, ok := value.(*staticeval.Object)
	if !ok {
		return
	}
	for i := 0; i < int(pattern.NamedChildCount()); i++ {
		prop := pattern.NamedChild(i)
		var key, local string
		switch prop.Type() {
		case "shorthand_property_identifier_pattern":
			key = nodeText(prop, a.content)
			local = key
		case "pair_pattern":
			keyNode := prop.ChildByFieldName("key")
			valueNode := prop.ChildByFieldName("value")
			if keyNode == nil || valueNode == nil || valueNode.Type() != "identifier" || keyNode.Type() != "property_identifier" {
				continue
			}
			key = nodeText(keyNode, a.content)
			local = nodeText(valueNode, a.content)
		default:
			continue
		}
		if member, ok := obj.Get(key); ok {
			a.vars.set(local, member)
		}
	}
}

func (a *analyzer) enterAssignment(node *sitter.Node) {
	if parent := astParent(node); parent == nil || isLoop(parent) {
		return
	}
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}
	if left.Type() == "identifier" && a.vars.hasValue(nodeText(left, a.content)) {
		return
	}
	computed := a.evaluate(right, false)
	if !computed.IsConcrete() {
		return
	}
	switch left.Type() {
	case "identifier":
		a.vars.set(nodeText(left, a.content), computed.Value)
	case "object_pattern":
		a.bindObjectPattern(left, computed.Value)
	}
	if isAbsolutePathOrURL(computed.Value) {
		a.staticChildValue = computed
		a.staticChildNode = right
		a.emitStaticChildAsset()
	}
}

func isLoop(node *sitter.Node) bool {
	switch node.Type() {
	case "for_statement", "for_in_statement", "while_statement", "do_statement":
		return true
	}
	return false
}

// detectBoundRequire recognises small helpers that forward their argument
// to require, such as
//
//	function load(name) { var mod = require(name); return mod }
//
// and binds the helper's name so its calls are traced like require.
func (a *analyzer) detectBoundRequire(fn *sitter.Node) {
	param := firstParam(fn)
	if param == nil || param.Type() != "identifier" {
		return
	}
	var nameNode *sitter.Node
	switch {
	case fn.ChildByFieldName("name") != nil && fn.Type() != "method_definition":
		nameNode = fn.ChildByFieldName("name")
	case fn.Parent() != nil && fn.Parent().Type() == "variable_declarator":
		nameNode = fn.Parent().ChildByFieldName("name")
	}
	body := fn.ChildByFieldName("body")
	if nameNode == nil || nameNode.Type() != "identifier" || body == nil || body.Type() != "statement_block" {
		return
	}
	paramName := nodeText(param, a.content)
	requireVar := ""
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		switch stmt.Type() {
		case "variable_declaration", "lexical_declaration":
			if requireVar == "" {
				requireVar = a.requireDeclaration(stmt, paramName)
			}
		case "return_statement":
			returned := firstNamedChildOfType(stmt, expressionTypes...)
			if returned == nil {
				continue
			}
			if (requireVar != "" && returned.Type() == "identifier" && nodeText(returned, a.content) == requireVar) ||
				a.isRequireOf(returned, paramName) {
				a.vars.set(nodeText(nameNode, a.content), staticeval.MarkerBoundRequire)
				return
			}
		}
	}
}

// requireDeclaration returns the variable initialised with require(param)
// in decl, if any.
func (a *analyzer) requireDeclaration(decl *sitter.Node, paramName string) string {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		declarator := decl.NamedChild(i)
		if declarator.Type() != "variable_declarator" {
			continue
		}
		name := declarator.ChildByFieldName("name")
		if name != nil && name.Type() == "identifier" && a.isRequireOf(declarator.ChildByFieldName("value"), paramName) {
			return nodeText(name, a.content)
		}
	}
	return ""
}

func (a *analyzer) isRequireOf(node *sitter.Node, paramName string) bool {
	if node == nil || node.Type() != "call_expression" {
		return false
	}
	callee := node.ChildByFieldName("function")
	if callee == nil || callee.Type() != "identifier" || nodeText(callee, a.content) != "require" || !a.vars.visible("require") {
		return false
	}
	args := callArguments(node)
	return len(args) > 0 && args[0].Type() == "identifier" && nodeText(args[0], a.content) == paramName
}

func firstParam(fn *sitter.Node) *sitter.Node {
	if param := fn.ChildByFieldName("parameter"); param != nil {
		return param
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil || params.NamedChildCount() == 0 {
		return nil
	}
	param := params.NamedChild(0)
	if param.Type() == "required_parameter" {
		if pattern := param.ChildByFieldName("pattern"); pattern != nil {
			return pattern
		}
	}
	return param
}
