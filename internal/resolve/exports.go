package resolve

import (
	"path/filepath"
	"sort"
	"strings"
)

// exportsTarget picks the target of one exports/imports entry. isNull marks an
// explicit null target; ok is false when no condition matched.
func (r *Resolver) exportsTarget(value any, cjs bool) (target string, isNull, ok bool) {
	switch typed := value.(type) {
	case string:
		return typed, false, true
	case nil:
		return "", true, true
	case []any:
		for _, item := range typed {
			target, isNull, ok := r.exportsTarget(item, cjs)
			if !ok {
				continue
			}
			if isNull || strings.HasPrefix(target, "./") {
				return target, isNull, true
			}
		}
	case *Object:
		for _, condition := range typed.Keys {
			if !r.conditionMatches(condition, cjs) {
				continue
			}
			target, isNull, ok := r.exportsTarget(typed.Values[condition], cjs)
			if ok {
				return target, isNull, true
			}
		}
	}
	return "", false, false
}

func (r *Resolver) conditionMatches(condition string, cjs bool) bool {
	switch condition {
	case "default", "module-sync":
		return true
	case "require":
		return cjs
	case "import":
		return !cjs
	default:
		return r.hasCondition(condition)
	}
}

// resolveExportsImports matches subpath against an exports or imports map
// rooted at pkgDir. Exact keys win, then the longest "*" pattern or "/"
// directory key.
func (r *Resolver) resolveExportsImports(pkgDir string, value any, subpath string, isImports, cjs bool) (string, bool) {
	var matchObj *Object
	obj, isObject := value.(*Object)
	switch {
	case isImports:
		if !isObject {
			return "", false
		}
		matchObj = obj
	case !isObject || (len(obj.Keys) > 0 && !strings.HasPrefix(obj.Keys[0], ".")):
		matchObj = &Object{Keys: []string{"."}, Values: map[string]any{".": value}}
	default:
		matchObj = obj
	}

	if entry, ok := matchObj.Get(subpath); ok {
		target, isNull, found := r.exportsTarget(entry, cjs)
		if found && !isNull && strings.HasPrefix(target, "./") {
			return joinPackagePath(pkgDir, target[1:]), true
		}
	}

	keys := append([]string(nil), matchObj.Keys...)
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, key := range keys {
		if strings.HasSuffix(key, "*") && strings.HasPrefix(subpath, key[:len(key)-1]) {
			target, isNull, found := r.exportsTarget(matchObj.Values[key], cjs)
			if found && !isNull && strings.HasPrefix(target, "./") {
				replacement := subpath[len(key)-1:]
				return joinPackagePath(pkgDir, strings.ReplaceAll(target[1:], "*", replacement)), true
			}
		}
		if !strings.HasSuffix(key, "/") || !strings.HasPrefix(subpath, key) {
			continue
		}
		target, isNull, found := r.exportsTarget(matchObj.Values[key], cjs)
		if found && !isNull && strings.HasSuffix(target, "/") && strings.HasPrefix(target, "./") {
			return joinPackagePath(pkgDir, target[1:]+subpath[len(key):]), true
		}
	}
	return "", false
}

// joinPackagePath appends a "/"-rooted package-relative path to pkgDir
// without cleaning it, so a trailing separator survives.
func joinPackagePath(pkgDir, rel string) string {
	return pkgDir + filepath.FromSlash(rel)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
