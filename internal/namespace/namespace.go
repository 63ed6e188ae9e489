// Package namespace sets up and tears down the per-invocation mount
// namespace and work tree: component G of spec.md §4.7.
//
// Grounded in original_source/src/Runner.c's create_mount_namespace (the
// MS_PRIVATE-then-MS_BIND-fallback dance) and the teacher's
// internal/build/mount.go mountpoint() helper for /proc/self/mountinfo
// inspection.
package namespace

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	runner "github.com/gobolinux/runner"
)

// Layers is the pair of directories overlayfs needs per composed
// subdirectory: an upper (read-write view) and a work (scratch) directory.
type Layers struct {
	Root       string // $HOME/.local/Runner/<epoch>-<basename>-XXXXXX
	UpperLayer string // Root/upper_layer
	WriteLayer string // Root/write_layer
}

// Unshare enters a new mount namespace. Must be called before any of the
// namespace's own mounts are made, and before make Private.
func Unshare() error {
	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return xerrors.Errorf("namespace: unshare: %w", err)
	}
	return nil
}

// MakePrivate makes dir (conventionally runner.IndexDir) a private mount so
// overlay mounts performed inside this namespace are invisible to the rest
// of the host. If dir isn't already a mountpoint, MS_PRIVATE fails with
// EINVAL; the fallback binds dir onto itself first and retries, mirroring
// create_mount_namespace's two-step dance.
func MakePrivate(dir string) error {
	err := unix.Mount(dir, dir, "", unix.MS_PRIVATE, "")
	if err == nil {
		return nil
	}
	if err != unix.EINVAL {
		return xerrors.Errorf("namespace: make %s private: %w", dir, err)
	}

	if bindErr := unix.Mount(dir, dir, "", unix.MS_BIND, ""); bindErr != nil {
		return xerrors.Errorf("namespace: bind %s onto itself: %w", dir, bindErr)
	}
	if err := unix.Mount(dir, dir, "", unix.MS_PRIVATE, ""); err != nil {
		unix.Unmount(dir, 0)
		return xerrors.Errorf("namespace: make %s private after bind: %w", dir, err)
	}
	return nil
}

// CreateWorkTree allocates the work directory for one invocation under
// $HOME/.local/Runner (falling back to /tmp if $HOME is unset), named
// "<epoch>-<executableBasename>-XXXXXX", and populates its write_layer and
// upper_layer subdirectories with one entry per canonical subdirectory.
func CreateWorkTree(epoch int64, executableBasename string) (Layers, error) {
	base := os.Getenv("HOME")
	if base == "" {
		base = os.TempDir()
	} else {
		base = filepath.Join(base, ".local", "Runner")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return Layers{}, xerrors.Errorf("namespace: work tree base: %w", err)
	}

	prefix := strconv.FormatInt(epoch, 10) + "-" + executableBasename + "-"
	root, err := ioutil.TempDir(base, prefix)
	if err != nil {
		return Layers{}, xerrors.Errorf("namespace: mkdtemp: %w", err)
	}

	layers := Layers{
		Root:       root,
		UpperLayer: filepath.Join(root, "upper_layer"),
		WriteLayer: filepath.Join(root, "write_layer"),
	}
	for _, sub := range runner.CanonicalSubdirs {
		if err := os.MkdirAll(filepath.Join(layers.UpperLayer, sub), 0o755); err != nil {
			os.RemoveAll(root)
			return Layers{}, xerrors.Errorf("namespace: upper_layer/%s: %w", sub, err)
		}
		if err := os.MkdirAll(filepath.Join(layers.WriteLayer, sub), 0o755); err != nil {
			os.RemoveAll(root)
			return Layers{}, xerrors.Errorf("namespace: write_layer/%s: %w", sub, err)
		}
	}
	return layers, nil
}

// RemoveWorkTree walks root in depth-first post-order, unlinking files and
// symlinks and rmdir-ing directories after their children are gone, per
// spec.md §4.7 step 4. Unlike os.RemoveAll it does not simply shell out to
// a generic recursive delete — the ordering is an explicit invariant tests
// rely on.
func RemoveWorkTree(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return xerrors.Errorf("namespace: readdir %s: %w", root, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(root, name)
		info, err := os.Lstat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return xerrors.Errorf("namespace: lstat %s: %w", path, err)
		}
		if info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			if err := RemoveWorkTree(path); err != nil {
				return err
			}
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return xerrors.Errorf("namespace: remove %s: %w", path, err)
		}
	}
	return os.Remove(root)
}

// Mountpoint reports whether fn is currently a mountpoint, by scanning
// /proc/self/mountinfo the way the teacher's mountpoint() helper does.
func Mountpoint(fn string) (bool, error) {
	b, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return false, xerrors.Errorf("namespace: %w", err)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		parts := strings.Split(line, " ")
		if len(parts) < 5 {
			continue
		}
		if parts[4] == fn {
			return true, nil
		}
	}
	return false, nil
}

// Mountpoints returns the set of mount target paths currently recorded in
// /proc/self/mountinfo, for the before/after diff the P4 testable property
// relies on (spec.md §8).
func Mountpoints() (map[string]bool, error) {
	b, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return nil, xerrors.Errorf("namespace: %w", err)
	}
	out := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		parts := strings.Split(line, " ")
		if len(parts) < 5 {
			continue
		}
		out[parts[4]] = true
	}
	return out, nil
}
