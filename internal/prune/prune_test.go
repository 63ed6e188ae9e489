package prune

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPruneUnlinksShadowingSymlinks(t *testing.T) {
	root := t.TempDir()
	programsRoot := filepath.Join(root, "Programs")
	indexDir := filepath.Join(root, "Index")

	oldVer := filepath.Join(programsRoot, "Foo", "1.0")
	newVer := filepath.Join(programsRoot, "Foo", "2.0")
	if err := os.MkdirAll(oldVer, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(newVer, 0o755); err != nil {
		t.Fatal(err)
	}

	binDir := filepath.Join(indexDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	shadowing := filepath.Join(binDir, "foo-tool")
	if err := os.Symlink(filepath.Join(oldVer, "bin", "foo-tool"), shadowing); err != nil {
		t.Fatal(err)
	}
	keep := filepath.Join(binDir, "other-tool")
	if err := os.Symlink(filepath.Join(newVer, "bin", "other-tool"), keep); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{"include", "lib", "libexec", "share"} {
		if err := os.MkdirAll(filepath.Join(indexDir, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := Prune(programsRoot, indexDir, "Foo", "2.0"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Lstat(shadowing); !os.IsNotExist(err) {
		t.Fatalf("expected shadowing symlink to old version to be removed, err=%v", err)
	}
	if _, err := os.Lstat(keep); err != nil {
		t.Fatalf("symlink to kept version should survive, got %v", err)
	}
}

func TestPruneNoSiblingsIsNoop(t *testing.T) {
	root := t.TempDir()
	programsRoot := filepath.Join(root, "Programs")
	indexDir := filepath.Join(root, "Index")
	if err := os.MkdirAll(filepath.Join(programsRoot, "Foo", "1.0"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Prune(programsRoot, indexDir, "Foo", "1.0"); err != nil {
		t.Fatal(err)
	}
}
