// Package archinfo decides whether an installed program version is usable
// on the requested architecture, per spec.md §4.3/§4.4.
//
// Grounded in original_source/src/FindDependencies.c's
// SupportedArchitecture and RunningKernelInfo.
package archinfo

import (
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Normalize maps the handful of architecture spellings the engine must
// fold together: i386 is always reported as i686.
func Normalize(arch string) string {
	if strings.Contains(arch, "i386") {
		return "i686"
	}
	return arch
}

// Running returns the running kernel's machine architecture
// (uname.machine), normalized.
func Running() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", err
	}
	return Normalize(charsToString(uts.Machine[:])), nil
}

func charsToString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// SupportedArchitecture reports whether programsRoot/name/version is
// usable given wantedArch (the caller-supplied -a/--arch override, or ""
// to compare against the running kernel's own architecture).
//
// A missing Resources/Architecture file means the package predates
// architecture tagging and is accepted unconditionally, matching the
// original's "open() fails → return true".
func SupportedArchitecture(programsRoot, name, version, wantedArch string) (bool, error) {
	path := filepath.Join(programsRoot, name, version, "Resources", "Architecture")
	data, err := os.ReadFile(path)
	if err != nil {
		return true, nil
	}
	line := Normalize(strings.TrimSpace(string(data)))

	if wantedArch != "" {
		return line == wantedArch || line == "noarch", nil
	}
	running, err := Running()
	if err != nil {
		// Can't determine the running architecture; don't block on it.
		return true, nil
	}
	if line != running && line != "noarch" {
		return false, nil
	}
	return true, nil
}
