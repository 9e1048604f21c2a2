package resolver

import (
	"testing"
)

// FuzzResolve feeds arbitrary names through both naming modes and checks that
// nothing outside the root is ever returned.
func FuzzResolve(f *testing.F) {
	f.Add("hero")
	f.Add("nested/card")
	f.Add("../etc/passwd")
	f.Add("/etc/passwd")
	f.Add("evil")
	f.Add("sections/../../templates-evil/_secret.liquid")
	f.Add("sibling/secret")
	f.Add("hero\x00.liquid")
	f.Add("./hero")

	_, root := layout(f)

	strict, err := New(root, "", "", "")
	if err != nil {
		f.Fatal(err)
	}
	loose, err := New(root, "", "", "", WithAllowExtensions(true))
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, name string) {
		for _, fs := range []*Local{strict, loose} {
			for _, kind := range []Kind{KindDefault, KindSection} {
				path, err := fs.Resolve(name, kind)
				if err != nil {
					continue
				}
				if !within(fs.Roots().Root, path) {
					t.Fatalf("Resolve(%q) = %q escapes %q", name, path, fs.Roots().Root)
				}
			}
		}
	})
}
