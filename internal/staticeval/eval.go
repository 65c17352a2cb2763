package staticeval

import (
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf16"

	sitter "github.com/smacker/go-tree-sitter"
)

// Evaluate computes the static value of an expression node. With
// computeBranches set, unknown operands of string concatenation become
// wildcards and unknown ternary tests produce a conditional value.
func Evaluate(node *sitter.Node, content []byte, vars Bindings, computeBranches bool) *Value {
	if node == nil {
		return nil
	}
	if vars == nil {
		vars = MapBindings{}
	}
	e := evaluator{content: content, vars: vars, computeBranches: computeBranches}
	return e.walk(node)
}

type evaluator struct {
	content         []byte
	vars            Bindings
	computeBranches bool
}

func (e *evaluator) text(node *sitter.Node) string {
	return nodeText(node, e.content)
}

func (e *evaluator) walk(node *sitter.Node) *Value {
	if node == nil {
		return nil
	}
	switch node.Type() {
	case "string":
		s, ok := StringLiteral(node, e.content)
		if !ok {
			return nil
		}
		return Known(s)
	case "number":
		f, ok := parseNumberLiteral(e.text(node))
		if !ok {
			return nil
		}
		return Known(f)
	case "true":
		return Known(true)
	case "false":
		return Known(false)
	case "null":
		return Known(nil)
	case "undefined":
		return Known(Undefined)
	case "template_string":
		return e.template(node)
	case "identifier":
		return e.identifier(e.text(node))
	case "this":
		return e.lookup("this")
	case "meta_property":
		return e.lookup(strings.Join(strings.Fields(e.text(node)), ""))
	case "parenthesized_expression", "as_expression", "satisfies_expression", "non_null_expression", "type_assertion":
		return e.walk(firstExpression(node))
	case "binary_expression":
		return e.binary(node)
	case "unary_expression":
		return e.unary(node)
	case "ternary_expression":
		return e.ternary(node)
	case "call_expression":
		return e.call(node)
	case "new_expression":
		return e.construct(node)
	case "member_expression":
		return e.member(node)
	case "subscript_expression":
		return e.subscript(node)
	case "array":
		return e.array(node)
	case "object":
		return e.object(node)
	default:
		return nil
	}
}

func firstExpression(node *sitter.Node) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		return child
	}
	return nil
}

func (e *evaluator) lookup(name string) *Value {
	v, ok := e.vars.Lookup(name)
	if !ok {
		return nil
	}
	if _, unknown := v.(unknownProp); unknown {
		return nil
	}
	return Known(v)
}

func (e *evaluator) identifier(name string) *Value {
	if v := e.lookup(name); v != nil {
		return v
	}
	switch name {
	case "undefined":
		return Known(Undefined)
	case "NaN":
		return Known(math.NaN())
	case "Infinity":
		return Known(math.Inf(1))
	}
	return nil
}

func (e *evaluator) template(node *sitter.Node) *Value {
	start := node.StartByte() + 1
	end := node.EndByte() - 1
	cooked := func(from, to uint32) string {
		if to <= from {
			return ""
		}
		return unescape(string(e.content[from:to]))
	}

	val := Known("")
	cursor := start
	for i := 0; i < int(node.NamedChildCount()); i++ {
		sub := node.NamedChild(i)
		if sub.Type() != "template_substitution" {
			continue
		}
		quasi := cooked(cursor, sub.StartByte())
		cursor = sub.EndByte()
		if val.Kind == Concrete {
			val.Value = val.Value.(string) + quasi
		} else {
			val.Then = val.Then.(string) + quasi
			val.Else = val.Else.(string) + quasi
		}

		expr := firstExpression(sub)
		part := e.walk(expr)
		if part == nil {
			if !e.computeBranches {
				return nil
			}
			part = &Value{Kind: Concrete, Value: Wildcard, Wildcards: []*sitter.Node{expr}}
		}

		switch {
		case part.Kind == Concrete && val.Kind == Concrete:
			val.Value = val.Value.(string) + ToString(part.Value)
			val.Wildcards = append(val.Wildcards, part.Wildcards...)
		case part.Kind == Concrete:
			if part.HasWildcards() {
				return nil
			}
			val.Then = val.Then.(string) + ToString(part.Value)
			val.Else = val.Else.(string) + ToString(part.Value)
		case val.Kind == Concrete:
			if val.HasWildcards() {
				return nil
			}
			prefix := val.Value.(string)
			val = Branch(part.Test, prefix+ToString(part.Then), prefix+ToString(part.Else))
		default:
			return nil
		}
	}

	tail := cooked(cursor, end)
	if val.Kind == Concrete {
		val.Value = val.Value.(string) + tail
	} else {
		val.Then = val.Then.(string) + tail
		val.Else = val.Else.(string) + tail
	}
	return val
}

func operatorOf(node *sitter.Node) string {
	if op := node.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if !child.IsNamed() {
			return child.Type()
		}
	}
	return ""
}

func isLogical(op string) bool {
	return op == "&&" || op == "||" || op == "??"
}

func (e *evaluator) binary(node *sitter.Node) *Value {
	op := operatorOf(node)
	leftNode := node.ChildByFieldName("left")
	rightNode := node.ChildByFieldName("right")

	l := e.walk(leftNode)
	if l == nil && op != "+" {
		return nil
	}
	if l.IsConcrete() && !l.HasWildcards() && isLogical(op) {
		switch {
		case op == "||" && Truthy(l.Value):
			return l
		case op == "&&" && !Truthy(l.Value):
			return l
		case op == "??" && !isNullish(l.Value):
			return l
		}
	}

	r := e.walk(rightNode)
	switch {
	case l == nil && r == nil:
		return nil
	case l == nil:
		s, ok := r.String()
		if !e.computeBranches || !ok {
			return nil
		}
		return &Value{Kind: Concrete, Value: Wildcard + s, Wildcards: append([]*sitter.Node{leftNode}, r.Wildcards...)}
	case r == nil:
		s, ok := l.String()
		if !e.computeBranches || op != "+" || !ok {
			return nil
		}
		return &Value{Kind: Concrete, Value: s + Wildcard, Wildcards: append(append([]*sitter.Node(nil), l.Wildcards...), rightNode)}
	case l.Kind == Conditional && r.Kind == Conditional:
		return nil
	case l.Kind == Conditional:
		if r.HasWildcards() {
			return nil
		}
		then, ok1 := binaryOp(op, l.Then, r.Value)
		els, ok2 := binaryOp(op, l.Else, r.Value)
		if !ok1 || !ok2 {
			return nil
		}
		return Branch(l.Test, then, els)
	case r.Kind == Conditional:
		if l.HasWildcards() {
			return nil
		}
		then, ok1 := binaryOp(op, l.Value, r.Then)
		els, ok2 := binaryOp(op, l.Value, r.Else)
		if !ok1 || !ok2 {
			return nil
		}
		return Branch(r.Test, then, els)
	}

	if (l.HasWildcards() || r.HasWildcards()) && op != "+" {
		return nil
	}
	result, ok := binaryOp(op, l.Value, r.Value)
	if !ok {
		return nil
	}
	out := Known(result)
	if l.HasWildcards() || r.HasWildcards() {
		if _, isString := result.(string); !isString {
			return nil
		}
		out.Wildcards = append(append([]*sitter.Node(nil), l.Wildcards...), r.Wildcards...)
	}
	return out
}

func (e *evaluator) unary(node *sitter.Node) *Value {
	op := operatorOf(node)
	arg := e.walk(node.ChildByFieldName("argument"))
	if arg == nil || arg.HasWildcards() {
		return nil
	}
	if arg.Kind == Conditional {
		then, ok1 := unaryOp(op, arg.Then)
		els, ok2 := unaryOp(op, arg.Else)
		if !ok1 || !ok2 {
			return nil
		}
		return Branch(arg.Test, then, els)
	}
	v, ok := unaryOp(op, arg.Value)
	if !ok {
		return nil
	}
	return Known(v)
}

func (e *evaluator) ternary(node *sitter.Node) *Value {
	testNode := node.ChildByFieldName("condition")
	test := e.walk(testNode)
	if test.IsConcrete() && !test.HasWildcards() {
		if Truthy(test.Value) {
			return e.walk(node.ChildByFieldName("consequence"))
		}
		return e.walk(node.ChildByFieldName("alternative"))
	}
	if !e.computeBranches {
		return nil
	}
	then := e.walk(node.ChildByFieldName("consequence"))
	if !then.IsConcrete() || then.HasWildcards() {
		return nil
	}
	els := e.walk(node.ChildByFieldName("alternative"))
	if !els.IsConcrete() || els.HasWildcards() {
		return nil
	}
	return Branch(testNode, then.Value, els.Value)
}

type callArgs struct {
	test      *sitter.Node
	args      []any
	argsElse  []any
	wildcards []*sitter.Node
}

// collectArgs evaluates call arguments. At most one argument may be
// conditional, and never together with wildcard arguments.
func (e *evaluator) collectArgs(argsNode *sitter.Node, allowWildcards bool) (callArgs, bool) {
	var out callArgs
	if argsNode == nil {
		return out, true
	}
	for i := 0; i < int(argsNode.NamedChildCount()); i++ {
		argNode := argsNode.NamedChild(i)
		if argNode.Type() == "comment" {
			continue
		}
		if argNode.Type() == "spread_element" {
			return out, false
		}
		arg := e.walk(argNode)
		if arg == nil {
			if !allowWildcards || !e.computeBranches {
				return out, false
			}
			arg = &Value{Kind: Concrete, Value: Wildcard, Wildcards: []*sitter.Node{argNode}}
		}
		if arg.Kind == Conditional {
			if len(out.wildcards) > 0 || out.test != nil {
				return out, false
			}
			out.test = arg.Test
			out.argsElse = append(append([]any(nil), out.args...), arg.Else)
			out.args = append(out.args, arg.Then)
			continue
		}
		if arg.HasWildcards() {
			if !allowWildcards || out.test != nil {
				return out, false
			}
			out.wildcards = append(out.wildcards, arg.Wildcards...)
		}
		out.args = append(out.args, arg.Value)
		if out.test != nil {
			out.argsElse = append(out.argsElse, arg.Value)
		}
	}
	return out, true
}

func (e *evaluator) call(node *sitter.Node) *Value {
	calleeNode := node.ChildByFieldName("function")
	callee := e.walk(calleeNode)
	if !callee.IsConcrete() {
		return nil
	}
	fn, ok := callee.Value.(*Object)
	if !ok || !fn.Callable() {
		return nil
	}

	var this any
	if calleeNode.Type() == "member_expression" {
		if obj := e.walk(calleeNode.ChildByFieldName("object")); obj.IsConcrete() {
			this = obj.Value
		}
	}

	argsNode := node.ChildByFieldName("arguments")
	args, ok := e.collectArgs(argsNode, true)
	if !ok {
		return nil
	}
	isConcat := calleeNode.Type() == "member_expression" && e.text(calleeNode.ChildByFieldName("property")) == "concat"
	if len(args.args) > 0 && !isConcat && allWildcardArgs(args.args) {
		return nil
	}

	result, err := fn.Call(this, args.args)
	if err != nil || result == UnknownProp {
		return nil
	}
	if args.test == nil {
		if len(args.wildcards) > 0 {
			s, ok := result.(string)
			if !ok || strings.Count(s, Wildcard) != len(args.wildcards) {
				return nil
			}
			return &Value{Kind: Concrete, Value: s, Wildcards: args.wildcards}
		}
		return Known(result)
	}
	resultElse, err := fn.Call(this, args.argsElse)
	if err != nil || resultElse == UnknownProp {
		return nil
	}
	return Branch(args.test, result, resultElse)
}

func allWildcardArgs(args []any) bool {
	for _, arg := range args {
		if arg != Wildcard {
			return false
		}
	}
	return true
}

func (e *evaluator) construct(node *sitter.Node) *Value {
	ctor := e.walk(node.ChildByFieldName("constructor"))
	if !ctor.IsConcrete() {
		return nil
	}
	fn, ok := ctor.Value.(*Object)
	if !ok || fn.Construct == nil {
		return nil
	}
	args, ok := e.collectArgs(node.ChildByFieldName("arguments"), false)
	if !ok {
		return nil
	}
	result, err := fn.Construct(nil, args.args)
	if err != nil {
		return nil
	}
	if args.test == nil {
		return Known(result)
	}
	resultElse, err := fn.Construct(nil, args.argsElse)
	if err != nil {
		return nil
	}
	return Branch(args.test, result, resultElse)
}

func (e *evaluator) member(node *sitter.Node) *Value {
	objectNode := node.ChildByFieldName("object")
	if objectNode != nil && objectNode.Type() == "import" {
		// older grammars parse import.meta as a member expression
		if e.text(node.ChildByFieldName("property")) != "meta" {
			return nil
		}
		return e.lookup("import.meta")
	}
	obj := e.walk(objectNode)
	if !obj.IsConcrete() || obj.HasWildcards() {
		return nil
	}
	property := node.ChildByFieldName("property")
	if property == nil {
		return nil
	}
	return memberValue(obj.Value, e.text(property))
}

func (e *evaluator) subscript(node *sitter.Node) *Value {
	obj := e.walk(node.ChildByFieldName("object"))
	if !obj.IsConcrete() || obj.HasWildcards() {
		return nil
	}
	index := e.walk(node.ChildByFieldName("index"))
	if !index.IsConcrete() || index.HasWildcards() {
		return nil
	}
	switch key := index.Value.(type) {
	case string:
		return memberValue(obj.Value, key)
	case float64:
		return memberValue(obj.Value, formatNumber(key))
	default:
		return nil
	}
}

func memberValue(obj any, name string) *Value {
	switch typed := obj.(type) {
	case Marker:
		return nil
	case *Object:
		v, ok := typed.Get(name)
		if !ok {
			if typed.Partial {
				return nil
			}
			return Known(Undefined)
		}
		if v == UnknownProp {
			return nil
		}
		return Known(v)
	case []any:
		if name == "length" {
			return Known(float64(len(typed)))
		}
		if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(typed) {
			return Known(typed[i])
		}
		return Known(Undefined)
	case *url.URL:
		return urlProperty(typed, name)
	case string:
		switch name {
		case "concat":
			return Known(&Object{Call: func(_ any, args []any) (any, error) {
				var b strings.Builder
				b.WriteString(typed)
				for _, arg := range args {
					b.WriteString(ToString(arg))
				}
				return b.String(), nil
			}})
		case "length":
			return Known(float64(len(utf16.Encode([]rune(typed)))))
		}
		return Known(Undefined)
	default:
		return Known(Undefined)
	}
}

func urlProperty(u *url.URL, name string) *Value {
	switch name {
	case "href":
		return Known(u.String())
	case "pathname":
		return Known(u.EscapedPath())
	case "protocol":
		return Known(u.Scheme + ":")
	case "host":
		return Known(u.Host)
	case "hostname":
		return Known(u.Hostname())
	case "search":
		if u.RawQuery == "" {
			return Known("")
		}
		return Known("?" + u.RawQuery)
	case "hash":
		if u.Fragment == "" {
			return Known("")
		}
		return Known("#" + u.EscapedFragment())
	default:
		return nil
	}
}

func (e *evaluator) array(node *sitter.Node) *Value {
	items := make([]any, 0, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		v := e.walk(child)
		if !v.IsConcrete() || v.HasWildcards() {
			return nil
		}
		items = append(items, v.Value)
	}
	return Known(items)
}

func (e *evaluator) object(node *sitter.Node) *Value {
	props := make(map[string]any, node.NamedChildCount())
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "comment":
			continue
		case "pair":
			key, ok := e.propertyKey(child.ChildByFieldName("key"))
			if !ok {
				return nil
			}
			v := e.walk(child.ChildByFieldName("value"))
			if !v.IsConcrete() || v.HasWildcards() {
				return nil
			}
			props[key] = v.Value
		case "shorthand_property_identifier":
			name := e.text(child)
			v := e.identifier(name)
			if !v.IsConcrete() || v.HasWildcards() {
				return nil
			}
			props[name] = v.Value
		default:
			return nil
		}
	}
	return Known(&Object{Props: props})
}

func (e *evaluator) propertyKey(key *sitter.Node) (string, bool) {
	if key == nil {
		return "", false
	}
	switch key.Type() {
	case "property_identifier":
		return e.text(key), true
	case "string":
		return StringLiteral(key, e.content)
	case "number":
		f, ok := parseNumberLiteral(e.text(key))
		return formatNumber(f), ok
	case "computed_property_name":
		v := e.walk(firstExpression(key))
		if !v.IsConcrete() || v.HasWildcards() {
			return "", false
		}
		return ToString(v.Value), true
	default:
		return "", false
	}
}

var errInvalidURL = errors.New("invalid URL")

// URLConstructor models the global URL class: new URL(input[, base]).
var URLConstructor = &Object{
	Construct: func(_ any, args []any) (any, error) {
		if len(args) == 0 {
			return nil, errInvalidURL
		}
		input, ok := urlInput(args[0])
		if !ok {
			return nil, errInvalidURL
		}
		ref, err := url.Parse(input)
		if err != nil {
			return nil, err
		}
		if len(args) > 1 && !isNullish(args[1]) {
			baseInput, ok := urlInput(args[1])
			if !ok {
				return nil, errInvalidURL
			}
			base, err := url.Parse(baseInput)
			if err != nil || !base.IsAbs() {
				return nil, errInvalidURL
			}
			return base.ResolveReference(ref), nil
		}
		if !ref.IsAbs() {
			return nil, errInvalidURL
		}
		return ref, nil
	},
	Props: map[string]any{},
}

func urlInput(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		return typed, true
	case *url.URL:
		return typed.String(), true
	default:
		return "", false
	}
}

// FileURLToPath converts a file: URL (or its string form) to a local path.
func FileURLToPath(v any) (string, bool) {
	var u *url.URL
	switch typed := v.(type) {
	case *url.URL:
		u = typed
	case string:
		parsed, err := url.Parse(typed)
		if err != nil {
			return "", false
		}
		u = parsed
	default:
		return "", false
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", false
	}
	return u.Path, true
}

// PathToFileURL converts an absolute local path to a file: URL.
func PathToFileURL(path string) *url.URL {
	return &url.URL{Scheme: "file", Path: path}
}
