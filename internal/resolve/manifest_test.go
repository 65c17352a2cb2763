package resolve

import "testing"

func TestParseManifestKeepsExportOrder(t *testing.T) {
	manifest, err := ParseManifest([]byte(`{
  "name": "ordered",
  "main": "./index.js",
  "exports": {"z": "./z.js", "a": "./a.js", "m": ["./m.js", null]}
}`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if manifest.Name != "ordered" || manifest.Main != "./index.js" || !manifest.HasExports {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
	exports, ok := manifest.Exports.(*Object)
	if !ok {
		t.Fatalf("expected ordered object, got %T", manifest.Exports)
	}
	want := []string{"z", "a", "m"}
	for i, key := range want {
		if exports.Keys[i] != key {
			t.Fatalf("expected key order %v, got %v", want, exports.Keys)
		}
	}
	items, ok := exports.Values["m"].([]any)
	if !ok || len(items) != 2 || items[1] != nil {
		t.Fatalf("unexpected array value %#v", exports.Values["m"])
	}
}

func TestParseManifestNullAndOddFields(t *testing.T) {
	manifest, err := ParseManifest([]byte(`{"name": 7, "main": ["x"], "exports": null}`))
	if err != nil {
		t.Fatalf("parse manifest: %v", err)
	}
	if manifest.Name != "" || manifest.Main != "" || manifest.HasExports {
		t.Fatalf("expected odd fields to be ignored, got %+v", manifest)
	}

	if _, err := ParseManifest([]byte(`{"name":`)); err == nil {
		t.Fatalf("expected invalid JSON to fail")
	}
}

func TestPackageBaseAndName(t *testing.T) {
	cases := []struct {
		path string
		base string
		name string
	}{
		{path: "/app/node_modules/pkg/lib/index.js", base: "/app/node_modules/pkg", name: "pkg"},
		{path: "/app/node_modules/@scope/pkg/index.js", base: "/app/node_modules/@scope/pkg", name: "@scope/pkg"},
		{path: "/app/node_modules/a/node_modules/b/x.js", base: "/app/node_modules/a/node_modules/b", name: "b"},
		{path: "/app/src/index.js", base: "", name: ""},
		{path: "/app/node_modules/", base: "", name: ""},
		{path: "/app/my_node_modules/pkg/x.js", base: "", name: ""},
	}
	for _, tc := range cases {
		if got := PackageBase(tc.path); got != tc.base {
			t.Fatalf("PackageBase(%q) = %q, want %q", tc.path, got, tc.base)
		}
		if got := PackageName(tc.path); got != tc.name {
			t.Fatalf("PackageName(%q) = %q, want %q", tc.path, got, tc.name)
		}
	}
}

func TestSpecifierPackage(t *testing.T) {
	cases := map[string][2]string{
		"lodash":          {"lodash", ""},
		"lodash/fp":       {"lodash", "/fp"},
		"@scope/pkg":      {"@scope/pkg", ""},
		"@scope/pkg/a/b":  {"@scope/pkg", "/a/b"},
		"@scope":          {"@scope", ""},
		"pkg/deep/sub.js": {"pkg", "/deep/sub.js"},
	}
	for specifier, want := range cases {
		name, subpath := SpecifierPackage(specifier)
		if name != want[0] || subpath != want[1] {
			t.Fatalf("SpecifierPackage(%q) = %q, %q; want %q, %q", specifier, name, subpath, want[0], want[1])
		}
	}
}
