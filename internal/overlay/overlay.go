// Package overlay builds and mounts the per-subdirectory overlay views
// that compose a sandbox: component F of spec.md §4.6.
//
// The per-target mount loop is grounded in
// original_source/src/Runner.c's mount_overlay; the syscall style
// (golang.org/x/sys/unix.Mount, xerrors wrapping) follows the teacher's
// internal/build/mount.go.
package overlay

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/orcaman/writerseeker"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	runner "github.com/gobolinux/runner"
)

// reverseAliases maps a canonical target back to every source directory
// name that folds into it, canonical name included (bin -> [bin, sbin]).
var reverseAliases = buildReverseAliases()

func buildReverseAliases() map[string][]string {
	out := map[string][]string{}
	for _, t := range runner.CanonicalSubdirs {
		out[t] = append(out[t], t)
	}
	for src, target := range runner.SubdirAliases {
		out[target] = append(out[target], src)
	}
	return out
}

// Mount describes one overlay mount this package is responsible for
// tearing down again.
type Mount struct {
	Target string // e.g. "/System/Index/bin"
}

// Options controls how lowerdir strings are assembled.
type Options struct {
	IndexDir string // "/System/Index"
	// Pure drops the base IndexDir/<target> tail from lowerdir so only the
	// listed dependency paths compose the view (spec.md §4.6, --pure).
	Pure bool
}

// Compose mounts one overlay per canonical target subdirectory that has at
// least one lowerdir entry among depPaths. It mounts each target
// independently; a failure aborts composition, unmounting whatever
// targets it already mounted, and returns the error.
func Compose(depPaths []string, upperLayer, writeLayer string, opts Options) ([]Mount, error) {
	var mounted []Mount
	for _, target := range runner.CanonicalSubdirs {
		lower := lowerdirFor(target, depPaths, opts)
		if len(lower) == 0 {
			continue
		}

		indexTarget := filepath.Join(opts.IndexDir, target)
		optString := optionString(lower, filepath.Join(upperLayer, target), filepath.Join(writeLayer, target))

		if err := unix.Mount("overlay", indexTarget, "overlay", 0, optString); err != nil {
			unmountAll(mounted)
			return nil, xerrors.Errorf("overlay: mount %s: %w", indexTarget, err)
		}
		mounted = append(mounted, Mount{Target: indexTarget})
	}
	return mounted, nil
}

// lowerdirFor collects the lowerdir entries for one target: for every
// dependency path and every source directory name folded into target, the
// path is added if it exists and isn't an ignored leaf. The base index
// directory is appended last unless opts.Pure is set.
func lowerdirFor(target string, depPaths []string, opts Options) []string {
	var dirs []string
	for _, dep := range depPaths {
		for _, src := range reverseAliases[target] {
			if runner.IsIgnoredLeaf(src) {
				continue
			}
			candidate := filepath.Join(dep, src)
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				dirs = append(dirs, candidate)
			}
		}
	}
	if len(dirs) == 0 {
		return nil
	}
	if !opts.Pure {
		dirs = append(dirs, filepath.Join(opts.IndexDir, target))
	}
	return dirs
}

// optionString renders the overlay mount option string
// "lowerdir=a:b:c,upperdir=...,workdir=...", assembled in a writerseeker
// buffer.
func optionString(lower []string, upperdir, workdir string) string {
	var ws writerseeker.WriterSeeker
	w := &ws
	w.Write([]byte("lowerdir="))
	w.Write([]byte(strings.Join(lower, ":")))
	w.Write([]byte(",upperdir="))
	w.Write([]byte(upperdir))
	w.Write([]byte(",workdir="))
	w.Write([]byte(workdir))

	r := ws.Reader()
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)
	for {
		n, err := r.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	return string(buf)
}

// Unmount tears down the given mounts, most-recently-mounted first.
func Unmount(mounts []Mount) error {
	return unmountAll(mounts)
}

func unmountAll(mounts []Mount) error {
	var first error
	for i := len(mounts) - 1; i >= 0; i-- {
		if err := unix.Unmount(mounts[i].Target, 0); err != nil && first == nil {
			first = xerrors.Errorf("overlay: unmount %s: %w", mounts[i].Target, err)
		}
	}
	return first
}
