// Package runner captures the process-wide configuration of the sandboxed
// execution engine: the fixed filesystem layout it composes views out of,
// supported architectures, and the small amount of cross-cutting machinery
// (deferred cleanup, SIGINT handling) every component shares.
package runner

import "os"

// IndexDir is the unified directory tree every sandboxed process sees.
// Components mount overlays on top of its canonical subdirectories.
const IndexDir = "/System/Index"

// ProgramsDir is where each package version lives in its own directory,
// e.g. ProgramsDir+"/Bash/5.1".
const ProgramsDir = "/Programs"

// CompatibilityListPath is the global alias table consulted by the resolver
// (component D) before giving up on a dependency name.
const CompatibilityListPath = "/System/Settings/Scripts/CompatibilityList"

// CanonicalSubdirs are the directories composed into IndexDir. Order is not
// significant, but components that iterate it should do so deterministically
// (tests rely on stable mount ordering).
var CanonicalSubdirs = []string{"bin", "include", "lib", "libexec", "share"}

// SubdirAliases folds source-tree directories into one of CanonicalSubdirs:
// a dependency's sbin/ contributes to the composed bin/, and lib64/
// contributes to the composed lib/.
var SubdirAliases = map[string]string{
	"sbin":  "bin",
	"lib64": "lib",
}

// ignoredLeafDirs names subtrees that are never added to a lowerdir even when
// present, because they depend on sibling Functions/ directories that do not
// exist under IndexDir (component F, §4.6).
var ignoredLeafDirs = map[string]bool{
	"Scripts":      true,
	"Compile":      true,
	"DevelScripts": true,
}

// GoboPrograms returns the configured programs root, honoring the
// goboPrograms environment variable the way internal/env.findDistriRoot
// honors DISTRIROOT in the teacher.
func GoboPrograms() string {
	if v := os.Getenv("goboPrograms"); v != "" {
		return v
	}
	return ProgramsDir
}

// IsIgnoredLeaf reports whether dir (a basename such as "Scripts") must never
// be added to a lowerdir, per §4.6.
func IsIgnoredLeaf(dir string) bool {
	return ignoredLeafDirs[dir]
}
