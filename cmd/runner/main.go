// Command runner is the sandboxed execution engine's entrypoint: it
// resolves a target's dependency closure, composes a private mount
// namespace exposing exactly that closure, and execs the target inside
// it.
//
// Grounded in original_source/src/Runner.c's main() for the strict setup
// ordering and exit codes, and the teacher's cmd/distri/distri.go for flag
// parsing style (a single flat flag.FlagSet, no subcommands here since
// spec.md §6 describes one verb).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	runner "github.com/gobolinux/runner"
	"github.com/gobolinux/runner/internal/archinfo"
	"github.com/gobolinux/runner/internal/enumerate"
	"github.com/gobolinux/runner/internal/fuseview"
	"github.com/gobolinux/runner/internal/launch"
	"github.com/gobolinux/runner/internal/locate"
	"github.com/gobolinux/runner/internal/manifest"
	"github.com/gobolinux/runner/internal/namespace"
	"github.com/gobolinux/runner/internal/overlay"
	"github.com/gobolinux/runner/internal/prune"
	"github.com/gobolinux/runner/internal/resolve"
	"github.com/gobolinux/runner/internal/rlog"
	"github.com/gobolinux/runner/internal/version"
)

const help = `runner [flags] <executable> [args...]

Run executable inside a private mount namespace exposing only its
dependency closure.
`

// minAdvisedKernel is the baseline the overlay/namespace machinery was
// validated against (original_source's "4.0" constant).
const minAdvisedKernel = "4.0"

type config struct {
	arch          string
	deps          stringSlice
	quiet         bool
	verbose       int
	check         bool
	strict        bool
	pure          bool
	fallback      bool
	noSourceEnv   bool
	noCleanup     bool
	noRemoveDeps  bool
	executable    string
	executableArg []string
}

type stringSlice []string

func (s *stringSlice) String() string     { return strings.Join(*s, ",") }
func (s *stringSlice) Set(v string) error { *s = append(*s, v); return nil }

func parseFlags(args []string) (config, error) {
	fset := flag.NewFlagSet("runner", flag.ContinueOnError)
	fset.Usage = func() {
		fmt.Fprint(os.Stderr, help)
		fset.PrintDefaults()
	}

	var cfg config
	fset.StringVar(&cfg.arch, "a", "", "force architecture filter")
	fset.StringVar(&cfg.arch, "arch", "", "force architecture filter")
	fset.Var(&cfg.deps, "d", "extra manifest file (repeatable)")
	fset.Var(&cfg.deps, "dependencies", "extra manifest file (repeatable)")
	fset.BoolVar(&cfg.quiet, "q", false, "suppress non-fatal warnings")
	fset.BoolVar(&cfg.quiet, "quiet", false, "suppress non-fatal warnings")
	var verboseCount, verboseLong int
	fset.Var(countFlag{&verboseCount}, "v", "progress on stderr; repeat for debug tracing")
	fset.Var(countFlag{&verboseLong}, "verbose", "progress on stderr; repeat for debug tracing")
	fset.BoolVar(&cfg.check, "c", false, "exit 0 iff sandbox can be constructed on this host")
	fset.BoolVar(&cfg.check, "check", false, "exit 0 iff sandbox can be constructed on this host")
	fset.BoolVar(&cfg.strict, "S", false, "default operator becomes = instead of >=")
	fset.BoolVar(&cfg.strict, "strict", false, "default operator becomes = instead of >=")
	fset.BoolVar(&cfg.pure, "p", false, "exclude base /System/Index/<T> from lowerdir")
	fset.BoolVar(&cfg.pure, "pure", false, "exclude base /System/Index/<T> from lowerdir")
	fset.BoolVar(&cfg.fallback, "f", false, "if sandbox unavailable, exec the target directly")
	fset.BoolVar(&cfg.fallback, "fallback", false, "if sandbox unavailable, exec the target directly")
	fset.BoolVar(&cfg.noSourceEnv, "E", false, "skip wrapper generation")
	fset.BoolVar(&cfg.noSourceEnv, "no-source-env", false, "skip wrapper generation")
	fset.BoolVar(&cfg.noCleanup, "C", false, "retain the work tree on exit")
	fset.BoolVar(&cfg.noCleanup, "no-cleanup", false, "retain the work tree on exit")
	fset.BoolVar(&cfg.noRemoveDeps, "R", false, "disable pruner")
	fset.BoolVar(&cfg.noRemoveDeps, "no-removedeps", false, "disable pruner")

	if err := fset.Parse(args); err != nil {
		return config{}, runner.NewSetupError(runner.ExitBadArguments, err)
	}
	cfg.verbose = verboseCount + verboseLong

	if cfg.arch != "" {
		cfg.arch = archinfo.Normalize(cfg.arch)
		if !runner.Architectures[cfg.arch] {
			return config{}, runner.NewSetupError(runner.ExitBadArguments, xerrors.Errorf("unrecognized -a/--arch %q", cfg.arch))
		}
	}

	if cfg.pure {
		cfg.noRemoveDeps = true
	}

	rest := fset.Args()
	if len(rest) == 0 {
		if cfg.check {
			return cfg, nil
		}
		return config{}, runner.NewSetupError(runner.ExitNoExecutable, xerrors.New("no executable was specified"))
	}
	cfg.executable = rest[0]
	cfg.executableArg = rest[1:]
	return cfg, nil
}

// countFlag lets -v be repeated (flag.Bool doesn't accumulate).
type countFlag struct{ n *int }

func (c countFlag) String() string { return "" }
func (c countFlag) Set(string) error {
	*c.n++
	return nil
}
func (c countFlag) IsBoolFlag() bool { return true }

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		reportAndExit(err)
	}

	if cfg.check {
		if err := checkSandboxAvailable(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(int(runner.ExitNoSandbox))
		}
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		reportAndExit(err)
	}
}

func reportAndExit(err error) {
	var setup *runner.SetupError
	if xerrors.As(err, &setup) {
		fmt.Fprintln(os.Stderr, setup.Error())
		os.Exit(int(setup.Code))
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func run(cfg config) error {
	log := rlog.New(os.Stderr, levelFor(cfg.verbose, cfg.quiet))

	advisekernel(log)

	uid, euid := os.Getuid(), os.Geteuid()
	if uid > 0 && uid == euid {
		if cfg.fallback {
			return execDirect(cfg)
		}
		return runner.NewSetupError(runner.ExitNoSandbox, xerrors.New("this program needs the setuid bit to be set to function correctly"))
	}

	ctx, cancel := runner.InterruptibleContext()
	defer cancel()

	programsRoot := runner.GoboPrograms()

	programDir, err := locate.ProgramDir(cfg.executable, programsRoot, os.Getenv("PATH"))
	if err != nil {
		return runner.NewSetupError(runner.ExitNoSandbox, err)
	}

	defaultOp := version.GreaterThanOrEqual
	if cfg.strict {
		defaultOp = version.Equal
	}

	reqs, err := loadRequirements(programDir, cfg.deps, defaultOp)
	if err != nil {
		return runner.NewSetupError(runner.ExitBadArguments, err)
	}

	aliases, err := resolve.Aliases(runner.CompatibilityListPath)
	if err != nil {
		log.Warn(cfg.quiet, runner.CompatibilityListPath, "%v", err)
	}

	resolveOpts := resolve.Options{
		Source:          enumerate.Source{Kind: enumerate.LocalPrograms, Path: programsRoot},
		Arch:            cfg.arch,
		Quiet:           cfg.quiet,
		DefaultOperator: defaultOp,
		ProgramsRoot:    programsRoot,
		Log:             log,
	}
	resolved, err := resolve.Resolve(ctx, reqs, resolveOpts, aliases)
	if err != nil {
		return runner.NewSetupError(runner.ExitBadArguments, err)
	}
	log.Progress("resolved %d dependencies", len(resolved))

	if err := namespace.Unshare(); err != nil {
		return runner.NewSetupError(runner.ExitNamespaceFailed, err)
	}
	if err := namespace.MakePrivate(runner.IndexDir); err != nil {
		return runner.NewSetupError(runner.ExitNamespaceFailed, err)
	}

	epoch := time.Now().Unix()
	layers, err := namespace.CreateWorkTree(epoch, filepath.Base(cfg.executable))
	if err != nil {
		return runner.NewSetupError(runner.ExitWriteLayerFailed, err)
	}
	if !cfg.noCleanup {
		runner.RegisterAtExit(func() error { return namespace.RemoveWorkTree(layers.Root) })
	}

	var depPaths []string
	for _, r := range resolved {
		depPaths = append(depPaths, r.Path)
	}

	mounts, err := overlay.Compose(depPaths, layers.UpperLayer, layers.WriteLayer, overlay.Options{
		IndexDir: runner.IndexDir,
		Pure:     cfg.pure,
	})
	if err != nil {
		if cfg.fallback {
			return execDirect(cfg)
		}
		log.Warn(cfg.quiet, runner.IndexDir, "overlay mount failed, falling back to fuseview: %v", err)
		if ferr := mountFuseview(ctx, depPaths, cfg); ferr != nil {
			return runner.NewSetupError(runner.ExitOverlayMountFailed, xerrors.Errorf("overlay: %v; fuseview fallback: %w", err, ferr))
		}
	} else {
		runner.RegisterAtExit(func() error { return overlay.Unmount(mounts) })
	}

	if !cfg.noRemoveDeps {
		for _, r := range resolved {
			if err := prune.Prune(programsRoot, runner.IndexDir, r.Name, r.Version); err != nil {
				log.Warn(cfg.quiet, r.Name, "prune: %v", err)
			}
		}
	}

	argv := append([]string{cfg.executable}, cfg.executableArg...)
	var wrapperPath string
	if !cfg.noSourceEnv {
		envDirs := append([]string{programDir}, depPaths...)
		envFiles, err := launch.CollectEnvironmentFiles(envDirs)
		if err != nil {
			return runner.NewSetupError(runner.ExitWrapperFailed, err)
		}
		wrapperPath, err = launch.WriteWrapper(layers.Root, envFiles, argv)
		if err != nil {
			return runner.NewSetupError(runner.ExitWrapperFailed, err)
		}
	}

	if err := launch.DropPrivileges(); err != nil {
		return runner.NewSetupError(runner.ExitNoSandbox, err)
	}
	launch.PrepareChildEnvironment(runner.IndexDir)

	childArgv := argv
	childPath := cfg.executable
	if wrapperPath != "" {
		childPath = wrapperPath
		childArgv = []string{wrapperPath}
	}

	cmd := exec.Command(childPath, childArgv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		runner.RunAtExit()
		return runner.NewSetupError(runner.ExitNoSandbox, err)
	}
	cmd.Wait()
	if cleanupErr := runner.RunAtExit(); cleanupErr != nil {
		log.Warn(cfg.quiet, "cleanup", "%v", cleanupErr)
	}

	os.Exit(launch.ExitStatus(cmd.ProcessState))
	return nil
}

func levelFor(verbose int, quiet bool) rlog.Level {
	if quiet {
		return rlog.Quiet
	}
	if verbose >= 2 {
		return rlog.Debug
	}
	if verbose == 1 {
		return rlog.Verbose
	}
	return rlog.Quiet
}

// advisekernel warns (never fails) if the running kernel predates the
// baseline the overlay machinery was validated against, using the same
// version comparator component A uses for manifest matching.
func advisekernel(log *rlog.Logger) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return
	}
	release := charsToString(uts.Release[:])
	if version.Compare(minAdvisedKernel, release) > 0 {
		fmt.Fprintf(os.Stderr, "Running on Linux %s. At least Linux %s is needed.\n", release, minAdvisedKernel)
	}
}

func charsToString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// checkSandboxAvailable implements --check's "can be constructed on this
// host" scope: user namespace support present or running uid 0,
// /proc/self/mountinfo readable, and /System/Index exists.
func checkSandboxAvailable() error {
	uid := os.Getuid()
	if uid != 0 {
		if b, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
			if strings.TrimSpace(string(b)) == "0" {
				return xerrors.New("user namespaces are disabled (kernel.unprivileged_userns_clone=0) and not running as root")
			}
		}
	}
	if _, err := os.ReadFile("/proc/self/mountinfo"); err != nil {
		return xerrors.Errorf("/proc/self/mountinfo unreadable: %w", err)
	}
	if _, err := os.Stat(runner.IndexDir); err != nil {
		return xerrors.Errorf("%s: %w", runner.IndexDir, err)
	}
	return nil
}

// loadRequirements parses the target's own Resources/Dependencies plus any
// -d/--dependencies files, in that order.
func loadRequirements(programDir string, extra []string, defaultOp version.Operator) ([]manifest.Requirement, error) {
	var files []string
	ownDeps := filepath.Join(programDir, "Resources", "Dependencies")
	if _, err := os.Stat(ownDeps); err == nil {
		files = append(files, ownDeps)
	}
	files = append(files, extra...)

	var out []manifest.Requirement
	for _, f := range files {
		file, err := os.Open(f)
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", f, err)
		}
		reqs, err := manifest.Parse(file, manifest.Options{DefaultOperator: defaultOp})
		file.Close()
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", f, err)
		}
		out = append(out, reqs...)
	}
	return out, nil
}

// mountFuseview serves the merged dependency view through internal/fuseview
// instead of an overlayfs mount, for kernels where overlay mounts are
// unavailable and -f/--fallback wasn't requested. roots mirrors the
// lowerdir order an overlay mount would have used: dependency paths first
// (highest-priority earliest), the existing index tree last unless --pure.
func mountFuseview(ctx context.Context, depPaths []string, cfg config) error {
	roots := append([]string{}, depPaths...)
	if !cfg.pure {
		roots = append(roots, runner.IndexDir)
	}
	fs, err := fuseview.Build(ctx, roots)
	if err != nil {
		return xerrors.Errorf("fuseview: build: %w", err)
	}
	mfs, err := fuseview.Mount(runner.IndexDir, fs)
	if err != nil {
		return err
	}
	runner.RegisterAtExit(func() error {
		if err := mfs.Unmount(); err != nil {
			return xerrors.Errorf("fuseview: unmount: %w", err)
		}
		return mfs.Join(context.Background())
	})
	return nil
}

// execDirect is the -f/--fallback path, taken when the setuid bit isn't set
// or the overlay mount fails: run the target with no sandbox at all.
func execDirect(cfg config) error {
	argv := append([]string{cfg.executable}, cfg.executableArg...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		os.Exit(launch.ExitStatus(cmd.ProcessState))
	}
	os.Exit(0)
	return nil
}
