// Package launch builds the optional environment-sourcing wrapper script
// and execs the sandboxed target: component H of spec.md §4.8.
//
// Grounded in original_source/src/Runner.c's update_env_var_list and the
// tail of its main() (setuid drop, LD_LIBRARY_PATH/PATH prepending,
// execvp); wrapper writing follows the teacher's renameio.WriteFile idiom
// (cmd/distri/build.go, cmd/distri/bump.go).
package launch

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// EnvironmentFile is the optional per-program/per-dependency shell snippet
// the wrapper sources, relative to a program directory.
const EnvironmentFile = "Resources/Environment"

// WrapperName is the script name the composer writes inside the work tree,
// per spec.md §4.8.
const WrapperName = "wrapper"

// CollectEnvironmentFiles returns, in order, the Resources/Environment path
// under each of programDirs that exists and is non-empty. programDirs is
// conventionally the caller's own program directory followed by each
// resolved dependency's directory.
func CollectEnvironmentFiles(programDirs []string) ([]string, error) {
	var found []string
	for _, dir := range programDirs {
		path := filepath.Join(dir, EnvironmentFile)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, xerrors.Errorf("launch: %s: %w", path, err)
		}
		if info.Size() == 0 {
			continue
		}
		found = append(found, path)
	}
	return found, nil
}

// WriteWrapper renders and atomically writes the bash wrapper at
// <workdir>/wrapper: one "source" line per environment file, followed by
// the quoted target command line. Returns "" if envFiles is empty — no
// wrapper is produced in that case (spec.md §4.8).
func WriteWrapper(workdir string, envFiles []string, argv []string) (string, error) {
	if len(envFiles) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n\n")
	for _, f := range envFiles {
		b.WriteString("source ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(quoteArgv(argv))
	b.WriteString("\n")

	path := filepath.Join(workdir, WrapperName)
	if err := renameio.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		return "", xerrors.Errorf("launch: writing wrapper: %w", err)
	}
	return path, nil
}

// quoteArgv joins argv into a shell command line, double-quoting any
// argument that contains a space (spec.md §4.8).
func quoteArgv(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if strings.Contains(a, " ") {
			quoted[i] = `"` + a + `"`
		} else {
			quoted[i] = a
		}
	}
	return strings.Join(quoted, " ")
}

// PrependEnv prepends value to the ':'-separated environment variable
// named key, the Go equivalent of update_env_var_list: an unset or empty
// variable is simply set to value.
func PrependEnv(key, value string) {
	existing := os.Getenv(key)
	if existing == "" {
		os.Setenv(key, value)
		return
	}
	os.Setenv(key, value+":"+existing)
}

// PrepareChildEnvironment applies the fixed set of environment
// adjustments the launcher makes before exec: GOBOLINUX_RUNNER=1, and
// lib/lib64/bin prepended from indexDir (spec.md §4.8, §5 "Environment
// variables read").
func PrepareChildEnvironment(indexDir string) {
	os.Setenv("GOBOLINUX_RUNNER", "1")
	PrependEnv("LD_LIBRARY_PATH", filepath.Join(indexDir, "lib"))
	PrependEnv("LD_LIBRARY_PATH", filepath.Join(indexDir, "lib64"))
	PrependEnv("PATH", filepath.Join(indexDir, "bin"))
}

// DropPrivileges calls setuid(getuid()), relinquishing the setuid-root
// elevation now that every privileged mount operation has completed
// (spec.md §4.8, §5 "Privileges").
func DropPrivileges() error {
	if err := syscall.Setuid(syscall.Getuid()); err != nil {
		return xerrors.Errorf("launch: setuid: %w", err)
	}
	return nil
}

// ExitStatus maps a *os.ProcessState to the exit code the parent should
// terminate with: the child's own exit status, or 1 if it was signaled
// (spec.md §4.8).
func ExitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 1
	}
	return state.ExitCode()
}
