package staticeval

import (
	"math"
	"net/url"
	"strconv"
	"strings"
)

func Truthy(v any) bool {
	switch typed := v.(type) {
	case nil, undefinedValue:
		return false
	case bool:
		return typed
	case float64:
		return typed != 0 && !math.IsNaN(typed)
	case string:
		return typed != ""
	default:
		return true
	}
}

func isNullish(v any) bool {
	switch v.(type) {
	case nil, undefinedValue:
		return true
	default:
		return false
	}
}

// ToString converts a value the way JavaScript string concatenation does.
func ToString(v any) string {
	switch typed := v.(type) {
	case nil:
		return "null"
	case undefinedValue:
		return "undefined"
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return formatNumber(typed)
	case []any:
		parts := make([]string, len(typed))
		for i, item := range typed {
			if isNullish(item) {
				continue
			}
			parts[i] = ToString(item)
		}
		return strings.Join(parts, ",")
	case *url.URL:
		return typed.String()
	case *Object:
		if typed.Callable() {
			return "function () { [native code] }"
		}
		return "[object Object]"
	default:
		return ""
	}
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toNumber(v any) float64 {
	switch typed := v.(type) {
	case nil:
		return 0
	case undefinedValue:
		return math.NaN()
	case bool:
		if typed {
			return 1
		}
		return 0
	case float64:
		return typed
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0
		}
		if f, ok := parseNumberLiteral(trimmed); ok {
			return f
		}
		return math.NaN()
	case []any:
		if len(typed) == 0 {
			return 0
		}
		if len(typed) == 1 {
			return toNumber(ToString(typed[0]))
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

func toInt32(v any) int32 {
	f := toNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int32(uint32(int64(math.Trunc(f))))
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, undefinedValue, bool, float64, string:
		return true
	default:
		return false
	}
}

func StrictEquals(a, b any) bool {
	switch ta := a.(type) {
	case nil:
		return b == nil
	case undefinedValue:
		_, ok := b.(undefinedValue)
		return ok
	case bool:
		tb, ok := b.(bool)
		return ok && ta == tb
	case float64:
		tb, ok := b.(float64)
		return ok && ta == tb
	case string:
		tb, ok := b.(string)
		return ok && ta == tb
	case Marker:
		tb, ok := b.(Marker)
		return ok && ta == tb
	case *Object:
		tb, ok := b.(*Object)
		return ok && ta == tb
	case *url.URL:
		tb, ok := b.(*url.URL)
		return ok && ta == tb
	default:
		return false
	}
}

func looseEquals(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if isPrimitive(a) && isPrimitive(b) {
		_, as := a.(string)
		_, bs := b.(string)
		if as && bs {
			return a.(string) == b.(string)
		}
		return toNumber(a) == toNumber(b)
	}
	if isPrimitive(a) != isPrimitive(b) {
		if isPrimitive(a) {
			return looseEquals(a, ToString(b))
		}
		return looseEquals(ToString(a), b)
	}
	return StrictEquals(a, b)
}

func typeOf(v any) string {
	switch typed := v.(type) {
	case nil:
		return "object"
	case undefinedValue:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case Marker:
		return "function"
	case *Object:
		if typed.Callable() || typed.Construct != nil {
			return "function"
		}
		return "object"
	default:
		return "object"
	}
}

// binaryOp applies a JavaScript binary operator to two known operands.
func binaryOp(op string, a, b any) (any, bool) {
	switch op {
	case "==":
		return looseEquals(a, b), true
	case "!=":
		return !looseEquals(a, b), true
	case "===":
		return StrictEquals(a, b), true
	case "!==":
		return !StrictEquals(a, b), true
	case "+":
		_, as := a.(string)
		_, bs := b.(string)
		if as || bs || !isPrimitive(a) || !isPrimitive(b) {
			return ToString(a) + ToString(b), true
		}
		return toNumber(a) + toNumber(b), true
	case "-":
		return toNumber(a) - toNumber(b), true
	case "*":
		return toNumber(a) * toNumber(b), true
	case "/":
		return toNumber(a) / toNumber(b), true
	case "%":
		return math.Mod(toNumber(a), toNumber(b)), true
	case "**":
		return math.Pow(toNumber(a), toNumber(b)), true
	case "<", ">", "<=", ">=":
		return compare(op, a, b), true
	case "|":
		return float64(toInt32(a) | toInt32(b)), true
	case "&":
		return float64(toInt32(a) & toInt32(b)), true
	case "^":
		return float64(toInt32(a) ^ toInt32(b)), true
	case "<<":
		return float64(toInt32(a) << (uint32(toInt32(b)) & 31)), true
	case ">>":
		return float64(toInt32(a) >> (uint32(toInt32(b)) & 31)), true
	case ">>>":
		return float64(uint32(toInt32(a)) >> (uint32(toInt32(b)) & 31)), true
	case "&&":
		if Truthy(a) {
			return b, true
		}
		return a, true
	case "||":
		if Truthy(a) {
			return a, true
		}
		return b, true
	case "??":
		if isNullish(a) {
			return b, true
		}
		return a, true
	default:
		return nil, false
	}
}

func compare(op string, a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch op {
		case "<":
			return as < bs
		case ">":
			return as > bs
		case "<=":
			return as <= bs
		default:
			return as >= bs
		}
	}
	x, y := toNumber(a), toNumber(b)
	switch op {
	case "<":
		return x < y
	case ">":
		return x > y
	case "<=":
		return x <= y
	default:
		return x >= y
	}
}

func unaryOp(op string, v any) (any, bool) {
	switch op {
	case "+":
		return toNumber(v), true
	case "-":
		return -toNumber(v), true
	case "~":
		return float64(^toInt32(v)), true
	case "!":
		return !Truthy(v), true
	case "typeof":
		return typeOf(v), true
	case "void":
		return Undefined, true
	default:
		return nil, false
	}
}

func parseNumberLiteral(text string) (float64, bool) {
	text = strings.ReplaceAll(text, "_", "")
	text = strings.TrimSuffix(text, "n")
	lower := strings.ToLower(text)
	base := 0
	switch {
	case strings.HasPrefix(lower, "0x"):
		base = 16
	case strings.HasPrefix(lower, "0o"):
		base = 8
	case strings.HasPrefix(lower, "0b"):
		base = 2
	}
	if base != 0 {
		n, err := strconv.ParseUint(lower[2:], base, 64)
		if err != nil {
			return 0, false
		}
		return float64(n), true
	}
	if lower == "infinity" {
		return math.Inf(1), true
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
