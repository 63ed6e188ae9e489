package namespace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateWorkTreeLayout(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	layers, err := CreateWorkTree(1234, "bash")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(layers.Root)

	if dir := filepath.Dir(layers.Root); dir != filepath.Join(home, ".local", "Runner") {
		t.Fatalf("work tree should live under $HOME/.local/Runner, got %q", dir)
	}
	base := filepath.Base(layers.Root)
	if base[:5] != "1234-" {
		t.Fatalf("work tree name should start with the epoch, got %q", base)
	}

	for _, sub := range []string{"bin", "include", "lib", "libexec", "share"} {
		if _, err := os.Stat(filepath.Join(layers.UpperLayer, sub)); err != nil {
			t.Fatalf("upper_layer/%s missing: %v", sub, err)
		}
		if _, err := os.Stat(filepath.Join(layers.WriteLayer, sub)); err != nil {
			t.Fatalf("write_layer/%s missing: %v", sub, err)
		}
	}
}

func TestCreateWorkTreeFallsBackToTempDirWithoutHome(t *testing.T) {
	t.Setenv("HOME", "")

	layers, err := CreateWorkTree(1, "prog")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(layers.Root)

	if dir := filepath.Dir(layers.Root); dir != filepath.Clean(os.TempDir()) {
		t.Fatalf("expected fallback under os.TempDir(), got %q", dir)
	}
}

func TestRemoveWorkTreeDepthFirst(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "upper_layer", "bin")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "file"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("file", filepath.Join(nested, "link")); err != nil {
		t.Fatal(err)
	}

	if err := RemoveWorkTree(root); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected work tree to be fully removed, got err=%v", err)
	}
}

func TestRemoveWorkTreeMissingIsNotError(t *testing.T) {
	if err := RemoveWorkTree(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("removing an already-gone work tree should not error, got %v", err)
	}
}

func TestMountpointsParsesMountinfo(t *testing.T) {
	mounts, err := Mountpoints()
	if err != nil {
		t.Fatal(err)
	}
	if !mounts["/"] {
		t.Fatalf("expected root mountpoint to be present, got %v", mounts)
	}
}
