package staticeval

import sitter "github.com/smacker/go-tree-sitter"

// Wildcard stands in for an unresolved expression inside a partially known
// string. It never occurs in real paths.
const Wildcard = "\x1a"

type Kind int

const (
	Concrete Kind = iota
	Conditional
)

// Value is the result of evaluating an expression. A nil *Value means the
// expression is unknown.
type Value struct {
	Kind      Kind
	Value     any
	Wildcards []*sitter.Node

	Test *sitter.Node
	Then any
	Else any
}

func Known(value any) *Value {
	return &Value{Kind: Concrete, Value: value}
}

func Branch(test *sitter.Node, then, els any) *Value {
	return &Value{Kind: Conditional, Test: test, Then: then, Else: els}
}

func (v *Value) IsConcrete() bool {
	return v != nil && v.Kind == Concrete
}

func (v *Value) IsConditional() bool {
	return v != nil && v.Kind == Conditional
}

func (v *Value) HasWildcards() bool {
	return v != nil && len(v.Wildcards) > 0
}

// String returns the concrete string value, if there is one.
func (v *Value) String() (string, bool) {
	if !v.IsConcrete() {
		return "", false
	}
	s, ok := v.Value.(string)
	return s, ok
}

type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined is the JavaScript undefined value. A Go nil is JavaScript null.
var Undefined = undefinedValue{}

type unknownProp struct{}

// UnknownProp marks a modeled property whose value is deliberately unknown,
// such as process.env.NODE_ENV.
var UnknownProp = unknownProp{}

// HostFunc is a Go implementation of a modeled JavaScript function. Returning
// an error makes the call expression unknown.
type HostFunc func(this any, args []any) (any, error)

// Object is a modeled JavaScript object. Partial objects report missing
// properties as unknown instead of undefined.
type Object struct {
	Props     map[string]any
	Call      HostFunc
	Construct HostFunc
	Partial   bool
	Trigger   bool
}

func (o *Object) Get(name string) (any, bool) {
	if o == nil || o.Props == nil {
		return nil, false
	}
	v, ok := o.Props[name]
	return v, ok
}

func (o *Object) Callable() bool {
	return o != nil && o.Call != nil
}

// Marker values are opaque capabilities the analyzer reacts to when they are
// called.
type Marker int

const (
	MarkerFsFn Marker = iota + 1
	MarkerFsDirFn
	MarkerBindings
	MarkerNodeGypBuild
	MarkerExpressSet
	MarkerExpressEngine
	MarkerSetRootDir
	MarkerPkgInfo
	MarkerBoundRequire
)

var markerNames = map[Marker]string{
	MarkerFsFn:          "fs",
	MarkerFsDirFn:       "fs-dir",
	MarkerBindings:      "bindings",
	MarkerNodeGypBuild:  "node-gyp-build",
	MarkerExpressSet:    "express-set",
	MarkerExpressEngine: "express-engine",
	MarkerSetRootDir:    "set-root-dir",
	MarkerPkgInfo:       "pkginfo",
	MarkerBoundRequire:  "bound-require",
}

func (m Marker) String() string {
	if name, ok := markerNames[m]; ok {
		return name
	}
	return "marker"
}

// IsMarkerOrFunc reports whether v is something that only matters when it is
// called.
func IsMarkerOrFunc(v any) bool {
	switch typed := v.(type) {
	case Marker:
		return true
	case *Object:
		return typed.Callable() || typed.Construct != nil
	default:
		return false
	}
}

// Bindings supplies identifier values during evaluation.
type Bindings interface {
	Lookup(name string) (any, bool)
}

type MapBindings map[string]any

func (m MapBindings) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}
