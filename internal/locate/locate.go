// Package locate finds the /Programs/<Name>/<Version> directory that owns
// an executable, and probes its target architecture: component E of
// spec.md §4.5.
//
// Grounded in original_source/src/Runner.c's executable-path resolution
// and the teacher's debug/elf usage in cmd/distri/buildid.go.
package locate

import (
	"bufio"
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/gobolinux/runner/internal/archinfo"
)

// ProgramDir finds the /Programs/<Name>/<Version> directory owning token,
// an executable path or bare name to be searched on $PATH. Returns "", nil
// if no owning program directory could be determined (e.g. a system
// binary outside /Programs).
func ProgramDir(token, programsRoot, pathEnv string) (string, error) {
	return programDir(token, programsRoot, pathEnv, 1)
}

func programDir(token, programsRoot, pathEnv string, shebangDepth int) (string, error) {
	resolved, err := resolveExecutable(token, pathEnv)
	if err != nil {
		return "", err
	}

	if dir, ok := truncateToVersionDir(resolved, programsRoot); ok {
		return dir, nil
	}

	if shebangDepth <= 0 {
		return "", nil
	}
	interp, ok, err := readShebang(resolved)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return programDir(interp, programsRoot, pathEnv, shebangDepth-1)
}

// resolveExecutable turns token into an absolute, symlink-resolved path:
// realpath directly if it starts with '.' or '/', else the first $PATH
// hit followed by realpath.
func resolveExecutable(token, pathEnv string) (string, error) {
	if strings.HasPrefix(token, ".") || strings.HasPrefix(token, "/") {
		return filepath.EvalSymlinks(token)
	}
	if pathEnv == "" {
		pathEnv = "/bin"
	}
	for _, dir := range strings.Split(pathEnv, ":") {
		candidate := filepath.Join(dir, token)
		if _, err := os.Stat(candidate); err == nil {
			return filepath.EvalSymlinks(candidate)
		}
	}
	return "", xerrors.Errorf("locate: %s: not found on PATH", token)
}

// truncateToVersionDir reports whether path sits under
// <programsRoot>/<Name>/<Version>/..., truncating to that prefix.
func truncateToVersionDir(path, programsRoot string) (string, bool) {
	rel, err := filepath.Rel(programsRoot, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) < 2 {
		return "", false
	}
	return filepath.Join(programsRoot, parts[0], parts[1]), true
}

// readShebang reads the first line of path; if it begins with "#!", the
// interpreter token is returned, honoring "/usr/bin/env <name>" by
// skipping ahead to the following token (spec.md §4.5).
func readShebang(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, nil
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", false, nil
	}
	line = strings.TrimRight(line, "\n")
	if !strings.HasPrefix(line, "#!") {
		return "", false, nil
	}
	fields := strings.Fields(strings.TrimPrefix(line, "#!"))
	if len(fields) == 0 {
		return "", false, nil
	}
	if strings.HasSuffix(fields[0], "env") && len(fields) > 1 {
		return fields[1], true, nil
	}
	return fields[0], true, nil
}

// ELFArchitecture reads path's ELF header and maps its machine field to
// the engine's architecture identifiers (EM_386→i686, EM_X86_64→x86_64).
// Any other machine, or a file that isn't a parseable ELF, is reported as
// an error so the caller can fall back to a text Resources/Architecture
// file.
func ELFArchitecture(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", xerrors.Errorf("locate: %s: %w", path, err)
	}
	defer f.Close()

	switch f.Machine {
	case elf.EM_386:
		return archinfo.Normalize("i386"), nil
	case elf.EM_X86_64:
		return "x86_64", nil
	default:
		return "", xerrors.Errorf("locate: %s: unsupported ELF machine %v", path, f.Machine)
	}
}

// LookPath is exec.LookPath, kept here so callers needing only a plain
// $PATH search (without the /Programs truncation ProgramDir performs)
// have one place to import from.
func LookPath(file string) (string, error) {
	return exec.LookPath(file)
}
