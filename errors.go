package runner

import "fmt"

// ExitCode is one of the fixed process exit statuses defined in spec.md §7.
type ExitCode int

const (
	ExitOutOfMemory        ExitCode = 1
	ExitNoExecutable       ExitCode = 2
	ExitNoSandbox          ExitCode = 3
	ExitNamespaceFailed    ExitCode = 4
	ExitOverlayMountFailed ExitCode = 5
	ExitWriteLayerFailed   ExitCode = 6
	ExitBadArguments       ExitCode = 7
	ExitWrapperFailed      ExitCode = 8
)

// SetupError is a fatal error raised during the strictly-ordered setup phase
// (parse → resolve → unshare → … → exec, spec.md §5). cmd/runner maps it to
// the matching ExitCode at the one place exit codes are decided.
type SetupError struct {
	Code ExitCode
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("Error: %v (exit %d)", e.Err, e.Code)
}

func (e *SetupError) Unwrap() error { return e.Err }

// NewSetupError wraps err with the exit code it must terminate the process
// with.
func NewSetupError(code ExitCode, err error) error {
	return &SetupError{Code: code, Err: err}
}

// Warnf formats a non-fatal, recoverable message in the
// "WARNING: <context>: <detail>" shape spec.md §7 mandates for recoverable
// errors (ManifestSyntax, DependencyNotFound, ArchitectureMismatch,
// MissingCompatibilityList). Callers gate this on the --quiet flag.
func Warnf(context, format string, args ...interface{}) string {
	return fmt.Sprintf("WARNING: %s: %s", context, fmt.Sprintf(format, args...))
}
