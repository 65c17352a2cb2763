package resolve

import "strings"

const nodeModules = "node_modules"

func isSep(c byte) bool {
	return c == '/' || c == '\\'
}

// packageSegment locates the package name following the last node_modules
// segment of path. It returns the end offset of the name within path.
func packageSegment(path string) (string, int, bool) {
	idx := strings.LastIndex(path, nodeModules)
	if idx <= 0 || !isSep(path[idx-1]) {
		return "", 0, false
	}
	start := idx + len(nodeModules)
	if start >= len(path) || !isSep(path[start]) {
		return "", 0, false
	}
	start++
	rest := path[start:]

	end := 0
	if strings.HasPrefix(rest, "@") {
		for end < len(rest) && !isSep(rest[end]) {
			end++
		}
		if end == len(rest) || end == 1 {
			return "", 0, false
		}
		end++
	}
	nameStart := end
	for end < len(rest) && !isSep(rest[end]) {
		end++
	}
	if end == nameStart {
		return "", 0, false
	}
	return strings.ReplaceAll(rest[:end], "\\", "/"), start + end, true
}

// PackageBase returns the directory of the innermost package containing path,
// such as /app/node_modules/@scope/pkg, or "" when path is not inside
// node_modules.
func PackageBase(path string) string {
	_, end, ok := packageSegment(path)
	if !ok {
		return ""
	}
	return path[:end]
}

// PackageName returns the name of the innermost package containing path.
func PackageName(path string) string {
	name, _, ok := packageSegment(path)
	if !ok {
		return ""
	}
	return name
}

// SpecifierPackage splits a bare specifier into its package name and subpath,
// for example "@scope/pkg/lib/x" into "@scope/pkg" and "/lib/x".
func SpecifierPackage(specifier string) (string, string) {
	parts := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") && len(parts) >= 2 {
		name := parts[0] + "/" + parts[1]
		return name, specifier[len(name):]
	}
	return parts[0], specifier[len(parts[0]):]
}
