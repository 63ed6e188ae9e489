// Package prune removes symlinks from the composed index view that would
// otherwise shadow the version actually selected for a dependency:
// component I of spec.md §4.9.
//
// Unlike the other components this one has no direct analogue in
// original_source/src/FindDependencies.c or Runner.c; it is grounded on
// spec.md's own description of the substring-match symlink walk, carried
// over faithfully including its acknowledged prefix-unsafety.
package prune

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	runner "github.com/gobolinux/runner"
)

// Prune walks every sibling version of resolvedName (other than
// resolvedVersion) under programsRoot, and for each canonical subdirectory
// unlinks, from indexDir, any symlink whose target contains the sibling's
// directory as a substring.
//
// The substring check (strings.Contains, mirroring the original's
// strstr(target, srcdir)) is prefix-unsafe: a sibling directory
// ".../Foo/1.0" also matches a target under ".../Foo/1.0.1", so links into
// a kept version whose name extends a sibling's name are removed too.
func Prune(programsRoot, indexDir, resolvedName, resolvedVersion string) error {
	siblings, err := siblingVersionDirs(programsRoot, resolvedName, resolvedVersion)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		for _, target := range runner.CanonicalSubdirs {
			if err := pruneOne(sib, filepath.Join(indexDir, target)); err != nil {
				return err
			}
		}
	}
	return nil
}

func siblingVersionDirs(programsRoot, name, keep string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(programsRoot, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("prune: %s: %w", name, err)
	}
	var out []string
	for _, e := range entries {
		if e.Name() == keep || e.Name() == "Current" || e.Name() == "Settings" || e.Name() == "Variable" {
			continue
		}
		if !e.IsDir() && e.Type()&os.ModeSymlink == 0 {
			continue
		}
		out = append(out, filepath.Join(programsRoot, name, e.Name()))
	}
	return out, nil
}

// pruneOne walks indexView (the composed /System/Index/<target> directory)
// and unlinks every symlink whose readlink target contains sibling as a
// substring.
func pruneOne(sibling, indexView string) error {
	return filepath.Walk(indexView, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			return nil
		}
		if strings.Contains(target, sibling) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return xerrors.Errorf("prune: removing %s: %w", path, err)
			}
		}
		return nil
	})
}
