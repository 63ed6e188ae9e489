// Package resolve picks, for each requirement, the concrete version to
// compose into the sandbox: component D of spec.md §4.4.
//
// Grounded in original_source/src/FindDependencies.c's GetCompatible,
// GetBestVersion, GetCurrentVersion and GetManagerRulesFromAlien.
package resolve

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/gobolinux/runner/internal/archinfo"
	"github.com/gobolinux/runner/internal/enumerate"
	"github.com/gobolinux/runner/internal/manifest"
	"github.com/gobolinux/runner/internal/rlog"
	"github.com/gobolinux/runner/internal/version"
)

// CompatibilityListPath is the alias table the resolver consults before
// enumeration, per spec.md §4.4 step 1.
const CompatibilityListPath = "/System/Settings/Scripts/CompatibilityList"

// maxAlienDepth bounds the implicit-dependency recursion an Alien manager
// rule can trigger (spec.md's supplemented §4.4 step 5): a manager rule
// that names itself, directly or through a cycle of other Alien
// namespaces, must not recurse forever.
const maxAlienDepth = 8

// Resolved is one concrete dependency picked for composition: spec.md §3's
// "Resolved dependency" tuple.
type Resolved struct {
	Name    string
	Version string
	// Path is <programsRoot>/<name>/<version> for LocalPrograms sources,
	// else the catalog URL returned for the chosen version.
	Path string
}

// Options bundles the immutable search parameters of one resolve pass
// (spec.md §3's "Search options").
type Options struct {
	Source          enumerate.Source
	Arch            string
	Quiet           bool
	DefaultOperator version.Operator
	ProgramsRoot    string
	Log             *rlog.Logger
}

// Aliases loads the CompatibilityList alias table: lines of the form
// "A: B [C ...]". A missing file is not an error — the resolver simply
// has no aliases to try (spec.md's MissingCompatibilityList warning is
// emitted by the caller, which knows whether --quiet was set).
func Aliases(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	aliases := map[string][]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name == "" {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) == 0 {
			continue
		}
		aliases[name] = fields
	}
	return aliases, sc.Err()
}

// Resolve resolves every requirement in reqs, in order, against opts.
// Requirements whose name already appears in the output (by name) are
// dropped with a warning (spec.md §4.4, P3).
func Resolve(ctx context.Context, reqs []manifest.Requirement, opts Options, aliases map[string][]string) ([]Resolved, error) {
	var out []Resolved
	seen := map[string]bool{}
	for _, req := range reqs {
		if seen[req.Name] {
			opts.Log.Warn(opts.Quiet, req.Name, "duplicate dependency, skipping")
			continue
		}
		res, ok, err := resolveOne(ctx, req, opts, aliases)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seen[res.Name] = true
		out = append(out, res)

		if strings.Contains(req.Name, ":") {
			implicit, err := resolveAlienManagerRule(ctx, req.Name, opts, aliases, seen, 0)
			if err != nil {
				return nil, err
			}
			out = append(out, implicit...)
		}
	}
	return out, nil
}

// resolveOne resolves a single requirement, trying the name itself and
// then, if unmatched, each CompatibilityList alias in turn (step 1).
func resolveOne(ctx context.Context, req manifest.Requirement, opts Options, aliases map[string][]string) (Resolved, bool, error) {
	candidates := append([]string{req.Name}, aliases[req.Name]...)
	var lastTried string
	for _, name := range candidates {
		lastTried = name
		workingReq := req
		workingReq.Name = name

		res, ok, err := resolveAgainst(ctx, workingReq, opts)
		if err != nil {
			return Resolved{}, false, err
		}
		if ok {
			if name != req.Name {
				opts.Log.Warn(opts.Quiet, req.Name, "using %s instead (found in CompatibilityList)", name)
			}
			return res, true, nil
		}
	}
	opts.Log.Warn(opts.Quiet, lastTried, "no packages matching requirements were found, skipping dependency")
	return Resolved{}, false, nil
}

// resolveAgainst resolves req.Name as given, without trying aliases.
func resolveAgainst(ctx context.Context, req manifest.Requirement, opts Options) (Resolved, bool, error) {
	if req.NoVersion && opts.Source.Kind == enumerate.LocalPrograms && !strings.Contains(req.Name, ":") {
		v, ok, err := currentVersion(opts.ProgramsRoot, req.Name)
		if err != nil {
			return Resolved{}, false, err
		}
		if ok {
			return Resolved{
				Name:    req.Name,
				Version: v,
				Path:    filepath.Join(opts.ProgramsRoot, req.Name, v),
			}, true, nil
		}
		// No Current symlink: fall back to enumerating installed versions.
	}

	candidates, err := enumerate.Enumerate(ctx, req.Name, opts.Source, opts.Arch)
	if err != nil {
		return Resolved{}, false, err
	}

	best, ok := bestCandidate(candidates, req)
	if !ok {
		return Resolved{}, false, nil
	}

	if opts.Source.Kind == enumerate.LocalPrograms {
		return Resolved{
			Name:    req.Name,
			Version: best.Version,
			Path:    filepath.Join(opts.ProgramsRoot, req.Name, best.Version),
		}, true, nil
	}
	return Resolved{Name: req.Name, Version: best.Version, Path: best.URL}, true, nil
}

// bestCandidate picks the lexicographically (version-algebra) greatest
// candidate among those satisfying req's range list.
func bestCandidate(candidates []enumerate.Candidate, req manifest.Requirement) (enumerate.Candidate, bool) {
	var best enumerate.Candidate
	found := false
	for _, c := range candidates {
		if !req.Satisfies(c.Version) {
			continue
		}
		if !found || version.Compare(c.Version, best.Version) >= 0 {
			best = c
			found = true
		}
	}
	return best, found
}

// currentVersion follows <programsRoot>/<name>/Current and returns its
// target's base name as the resolved version.
func currentVersion(programsRoot, name string) (string, bool, error) {
	target, err := os.Readlink(filepath.Join(programsRoot, name, "Current"))
	if err != nil {
		return "", false, nil
	}
	return filepath.Base(target), true, nil
}

// resolveAlienManagerRule recurses into the implicit dependencies an Alien
// backend reports for an installed foreign package, parsing its stdout
// with the same manifest grammar (spec.md §4.4 step 5, depth-capped per
// SPEC_FULL.md to guard against a manager rule cycle).
func resolveAlienManagerRule(ctx context.Context, alienDep string, opts Options, aliases map[string][]string, seen map[string]bool, depth int) ([]Resolved, error) {
	if depth >= maxAlienDepth {
		opts.Log.Warn(opts.Quiet, alienDep, "Alien manager-rule recursion exceeded depth %d, stopping", maxAlienDepth)
		return nil, nil
	}
	idx := strings.IndexByte(alienDep, ':')
	if idx < 0 {
		return nil, nil
	}
	ns := alienDep[:idx]

	stream, err := managerRuleStream(ctx, ns)
	if err != nil || stream == nil {
		return nil, nil
	}
	reqs, err := manifest.Parse(stream, manifest.Options{DefaultOperator: opts.DefaultOperator})
	if err != nil {
		return nil, err
	}

	var out []Resolved
	for _, req := range reqs {
		if seen[req.Name] {
			continue
		}
		res, ok, err := resolveOne(ctx, req, opts, aliases)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		seen[res.Name] = true
		out = append(out, res)
		if strings.Contains(req.Name, ":") {
			nested, err := resolveAlienManagerRule(ctx, req.Name, opts, aliases, seen, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// managerRuleStream runs "Alien-<ns> --get-manager-rule" and returns its
// stdout as a manifest-parseable stream. A helper that is missing or exits
// nonzero yields a nil stream — the contract is opaque and errors are
// ignored (spec.md §6, External helpers invoked).
func managerRuleStream(ctx context.Context, ns string) (io.Reader, error) {
	cmd := exec.CommandContext(ctx, "Alien-"+ns, "--get-manager-rule")
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}
	return strings.NewReader(string(out)), nil
}

// SupportedArchitecture re-exports archinfo's filter so callers of this
// package (the CLI entrypoint, tests) don't need a second import for the
// one predicate the resolver itself doesn't call directly anymore — the
// filtering already happened inside the enumerator (§4.3).
var SupportedArchitecture = archinfo.SupportedArchitecture
