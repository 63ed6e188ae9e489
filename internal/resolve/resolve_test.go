package resolve

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gobolinux/runner/internal/enumerate"
	"github.com/gobolinux/runner/internal/manifest"
	"github.com/gobolinux/runner/internal/rlog"
	"github.com/gobolinux/runner/internal/version"
)

func testOptions(programsRoot string) Options {
	return Options{
		Source:          enumerate.Source{Kind: enumerate.LocalPrograms, Path: programsRoot},
		DefaultOperator: version.GreaterThanOrEqual,
		Quiet:           true,
		ProgramsRoot:    programsRoot,
		Log:             rlog.New(os.Stderr, rlog.Quiet),
	}
}

func mkdirs(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Join(root, p), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func TestResolveHappyPath(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Foo/1.0/bin", "Foo/2.0/bin", "Bar/1.4/lib", "Bar/1.5/lib", "Bar/2.0/lib")

	reqs, err := manifest.Parse(strings.NewReader("Bar >= 1.5\n"), manifest.Options{DefaultOperator: version.GreaterThanOrEqual})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Resolve(context.Background(), reqs, testOptions(root), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "Bar" || out[0].Version != "2.0" {
		t.Fatalf("got %+v", out)
	}
	if !strings.HasSuffix(out[0].Path, "/Bar/2.0") {
		t.Fatalf("path %q should end with /Bar/2.0", out[0].Path)
	}
}

func TestResolveRangeIntersection(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Baz/1.0", "Baz/1.3", "Baz/1.5", "Baz/2.0")

	reqs, err := manifest.Parse(strings.NewReader("Baz >= 1.0, < 2.0, != 1.3\n"), manifest.Options{DefaultOperator: version.GreaterThanOrEqual})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Resolve(context.Background(), reqs, testOptions(root), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []Resolved{{Name: "Baz", Version: "1.5", Path: filepath.Join(root, "Baz", "1.5")}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveAliasFallback(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Modern/3.0")

	reqs, err := manifest.Parse(strings.NewReader("Legacy\n"), manifest.Options{DefaultOperator: version.GreaterThanOrEqual})
	if err != nil {
		t.Fatal(err)
	}
	aliases := map[string][]string{"Legacy": {"Modern"}}
	out, err := Resolve(context.Background(), reqs, testOptions(root), aliases)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Name != "Modern" || out[0].Version != "3.0" {
		t.Fatalf("got %+v", out)
	}
}

func TestResolveStrictMode(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Qt/5.3")

	opts := testOptions(root)
	opts.DefaultOperator = version.Equal
	reqs, err := manifest.Parse(strings.NewReader("Qt 5.2\n"), manifest.Options{DefaultOperator: version.Equal})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Resolve(context.Background(), reqs, opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("strict =5.2 with only 5.3 installed should resolve nothing, got %+v", out)
	}
}

func TestResolveNameOnlyFollowsCurrent(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Bash/4.4", "Bash/5.1")
	if err := os.Symlink("5.1", filepath.Join(root, "Bash", "Current")); err != nil {
		t.Fatal(err)
	}

	reqs, err := manifest.Parse(strings.NewReader("Bash\n"), manifest.Options{DefaultOperator: version.GreaterThanOrEqual})
	if err != nil {
		t.Fatal(err)
	}
	out, err := Resolve(context.Background(), reqs, testOptions(root), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Version != "5.1" {
		t.Fatalf("expected Current symlink target 5.1, got %+v", out)
	}
}

func TestResolveDuplicateDropped(t *testing.T) {
	root := t.TempDir()
	mkdirs(t, root, "Bash/5.1")

	reqs, err := manifest.Parse(strings.NewReader("Bash >= 1.0\nBash >= 5.0\n"), manifest.Options{DefaultOperator: version.GreaterThanOrEqual})
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 parsed requirement lines, got %d", len(reqs))
	}
	out, err := Resolve(context.Background(), reqs, testOptions(root), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 {
		t.Fatalf("duplicate name should be dropped, got %+v", out)
	}
	if out[0].Version != "5.1" {
		t.Fatalf("first occurrence should resolve normally, got %+v", out)
	}
}

func TestAliasesParsesCompatibilityList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "CompatibilityList")
	if err := os.WriteFile(path, []byte("Legacy: Modern OtherModern\n# comment\nFoo: Bar\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	aliases, err := Aliases(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := aliases["Legacy"]; len(got) != 2 || got[0] != "Modern" || got[1] != "OtherModern" {
		t.Fatalf("got %v", got)
	}
	if got := aliases["Foo"]; len(got) != 1 || got[0] != "Bar" {
		t.Fatalf("got %v", got)
	}
}

func TestAliasesMissingFileNotError(t *testing.T) {
	aliases, err := Aliases(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing CompatibilityList should not error, got %v", err)
	}
	if aliases != nil {
		t.Fatalf("expected nil aliases, got %v", aliases)
	}
}
