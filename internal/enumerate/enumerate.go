// Package enumerate lists the candidate versions of a dependency name
// available from a repository source, per spec.md §4.3.
//
// Grounded in original_source/src/FindDependencies.c's
// GetVersionsFromReadDir, GetVersionsFromStore and GetVersionsFromAlien.
package enumerate

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/gobolinux/runner/internal/archinfo"
)

// SourceKind is the tagged enum of repository sources spec.md §3 describes.
type SourceKind int

const (
	LocalPrograms SourceKind = iota
	LocalDirectory
	PackageStore
	RecipeStore
)

// Source pins down where candidate versions of a dependency come from.
// Path is only meaningful for LocalPrograms (the programs root) and
// LocalDirectory (the directory of archives to glob).
type Source struct {
	Kind SourceKind
	Path string
}

// Candidate is one enumerated version together with where it came from:
// a program directory for LocalPrograms, or a catalog URL otherwise.
type Candidate struct {
	Version string
	URL     string
}

var ignoredNames = map[string]bool{
	"Current":  true,
	"Settings": true,
	"Variable": true,
}

// IsVersionDirectory reports whether candidate is a legal version
// directory name: not a dotfile, not one of the reserved siblings, and
// not tagged -failed or -Disabled (spec.md §3 invariants).
func IsVersionDirectory(candidate string) bool {
	if candidate == "" || candidate[0] == '.' {
		return false
	}
	if ignoredNames[candidate] {
		return false
	}
	if strings.HasSuffix(candidate, "-failed") || strings.HasSuffix(candidate, "-Disabled") {
		return false
	}
	return true
}

// Enumerate returns the candidate versions of name from src. For Alien
// dependencies (name containing ':') it always delegates to the external
// Alien backend regardless of src's kind, per §4.3.
func Enumerate(ctx context.Context, name string, src Source, arch string) ([]Candidate, error) {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		return enumerateAlien(ctx, name[:idx], name[idx+1:])
	}
	switch src.Kind {
	case LocalPrograms:
		return enumerateLocalPrograms(src.Path, name, arch)
	case LocalDirectory:
		return enumerateArchives(ctx, "bash", "-c",
			"ls '"+src.Path+"/"+name+"'--*--*.tar.bz2 2> /dev/null")
	case PackageStore:
		return enumerateArchives(ctx, "FindPackage", "--types=official_package", "--full-list", name)
	case RecipeStore:
		return enumerateArchives(ctx, "FindPackage", "--types=recipe", "--full-list", name)
	default:
		return nil, xerrors.Errorf("enumerate: unknown source kind %d", src.Kind)
	}
}

// enumerateLocalPrograms reads <programsRoot>/<name>/ and keeps entries
// that are legal version directories and pass the architecture filter.
// A name with no directory under programsRoot yields no candidates.
func enumerateLocalPrograms(programsRoot, name, arch string) ([]Candidate, error) {
	dir := filepath.Join(programsRoot, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("%s: %w", dir, err)
	}
	var out []Candidate
	for _, e := range entries {
		if !IsVersionDirectory(e.Name()) {
			continue
		}
		ok, err := archinfo.SupportedArchitecture(programsRoot, name, e.Name(), arch)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Candidate{Version: e.Name()})
	}
	return out, nil
}

// enumerateArchives runs an external catalog command whose stdout lists
// one archive URL per line, parses each as "<anything>--<version>--<anything>"
// and dedupes adjacent duplicates, mirroring GetVersionsFromStore.
func enumerateArchives(ctx context.Context, name string, args ...string) ([]Candidate, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		// A missing or failing catalog helper is not fatal to the caller —
		// it simply yields no candidates, as the original's popen/WARN does.
		return nil, nil
	}
	var candidates []Candidate
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		version, ok := parseArchiveVersion(line)
		if !ok {
			continue
		}
		if n := len(candidates); n > 0 && candidates[n-1].Version == version {
			continue
		}
		candidates = append(candidates, Candidate{Version: version, URL: line})
	}
	return candidates, nil
}

// parseArchiveVersion extracts the version component out of an archive
// path of the form ".../<name>--<version>--<arch>.tar.bz2": the text
// between the first and second "--" delimiters.
func parseArchiveVersion(path string) (string, bool) {
	base := filepath.Base(path)
	first := strings.Index(base, "--")
	if first < 0 {
		return "", false
	}
	rest := base[first+2:]
	second := strings.Index(rest, "--")
	if second < 0 {
		return "", false
	}
	return rest[:second], true
}

// enumerateAlien delegates version enumeration to an external
// "Alien-<ns>" helper, one version per stdout line (spec.md §4.3).
func enumerateAlien(ctx context.Context, ns, localName string) ([]Candidate, error) {
	cmd := exec.CommandContext(ctx, "Alien-"+ns, "--getversion", localName)
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}
	var candidates []Candidate
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		v := strings.TrimSpace(sc.Text())
		if v == "" {
			continue
		}
		candidates = append(candidates, Candidate{Version: v})
	}
	return candidates, nil
}

// SortDescending orders candidates newest-first by cmp (normally
// version.Compare); candidates that compare equal keep their relative
// order. It gives callers a deterministic enumeration order before the
// resolver's own best-candidate selection.
func SortDescending(candidates []Candidate, cmp func(a, b string) int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return cmp(candidates[i].Version, candidates[j].Version) > 0
	})
}
