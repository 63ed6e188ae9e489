// Package manifest parses Resources/Dependencies-style files: one
// requirement per line, each with a comma-separated list of version
// clauses, per spec.md §4.2.
//
// The grammar and the range-construction/restriction algorithm are ported
// from original_source/src/FindDependencies.c's ParseName, MakeVersion,
// ParseVersions, CreateRangeFromVersion and LimitRange.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/xerrors"

	"github.com/gobolinux/runner/internal/version"
)

// Range is a closed-shape pair (Low, High) with the invariant that
// Low.Op ∈ {>, >=, =, NONE} and High.Op ∈ {<, <=, =, NONE}. It represents
// one convex region of the version order (spec.md §3).
type Range struct {
	Low  version.Bound
	High version.Bound
}

// Contains reports whether candidate lies within r, i.e. satisfies both
// bounds (spec.md §4.1's match rule, applied to each end of the range).
func (r Range) Contains(candidate string) bool {
	return r.Low.Satisfies(candidate) && r.High.Satisfies(candidate)
}

// Requirement is a dependency name paired with the ordered list of ranges
// any one of which a candidate version may satisfy.
type Requirement struct {
	Name   string
	Ranges []Range
	// NoVersion is true when the manifest line named a dependency with no
	// version clause at all (a bare "Bash" line). The resolver uses this to
	// follow the Current symlink instead of enumerating (spec.md §4.4); when
	// there is no Current symlink it enumerates as for any other line.
	NoVersion bool
}

// Satisfies reports whether candidate lies in at least one of r's ranges.
// An empty Ranges list (the result of an unsatisfiable restriction, §4.2)
// never matches.
func (r Requirement) Satisfies(candidate string) bool {
	for _, rg := range r.Ranges {
		if rg.Contains(candidate) {
			return true
		}
	}
	return false
}

// clause is one parsed "<op> <version>" token from the comma-separated
// list following a dependency name.
type clause struct {
	op      version.Operator
	version string
}

// DefaultOperator controls how a version clause with no explicit operator
// is interpreted. Callers normally pass version.GreaterThanOrEqual;
// --strict (spec.md §6) passes version.Equal instead.
type Options struct {
	DefaultOperator version.Operator
	// OnlyName, if non-empty, makes Parse skip every line whose dependency
	// name does not match — mirroring FindDependencies' -d/--dependency
	// filter used by the implicit-dependency recursion.
	OnlyName string
}

// Parse reads a manifest from r and returns one Requirement per
// non-empty, non-comment line that survives the --dependency filter.
//
// Preprocessing, per line: strip the trailing newline; delete everything
// from the first '#' (comment) or '[' (conditional tag); if the next
// unread byte in the stream is neither printable nor whitespace, the line
// is almost certainly binary content (e.g. an ELF file handed to the
// engine by mistake) and parsing stops, keeping whatever lines were
// already parsed.
func Parse(r io.Reader, opts Options) ([]Requirement, error) {
	br := bufio.NewReader(r)
	var reqs []Requirement
	lineNo := 0
	for {
		line, stop, err := readLine(br)
		if err != nil {
			return reqs, xerrors.Errorf("manifest: %w", err)
		}
		if stop {
			break
		}
		lineNo++
		if isEmptyLine(line) {
			continue
		}
		req, ok, err := parseLine(line, opts)
		if err != nil {
			return reqs, xerrors.Errorf("manifest: line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// readLine returns the next preprocessed line, or stop=true at EOF (or
// once a likely-binary byte is seen, per Parse's doc comment).
func readLine(br *bufio.Reader) (line string, stop bool, err error) {
	raw, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", false, err
	}
	if raw == "" && err == io.EOF {
		return "", true, nil
	}
	raw = strings.TrimRight(raw, "\n")
	raw = strings.TrimRight(raw, "\r")

	if idx := strings.IndexByte(raw, '#'); idx >= 0 {
		raw = raw[:idx]
	}
	if idx := strings.IndexByte(raw, '['); idx >= 0 {
		raw = raw[:idx]
	}

	next, peekErr := br.Peek(1)
	if peekErr == nil && !isPrintableOrSpace(next[0]) {
		return "", true, nil
	}
	return raw, false, nil
}

func isPrintableOrSpace(b byte) bool {
	r := rune(b)
	return unicode.IsPrint(r) || unicode.IsSpace(r)
}

func isEmptyLine(line string) bool {
	return strings.TrimSpace(line) == ""
}

// parseLine tokenizes a single non-empty line into a dependency name and
// its comma-separated version clauses, then folds the clauses into a
// range list.
func parseLine(line string, opts Options) (Requirement, bool, error) {
	name, rest := splitName(line)
	if name == "" {
		return Requirement{}, false, nil
	}
	if opts.OnlyName != "" && name != opts.OnlyName {
		return Requirement{}, false, nil
	}

	noVersion := strings.TrimSpace(rest) == ""
	clauses, err := parseClauses(rest, opts.DefaultOperator)
	if err != nil {
		return Requirement{}, false, xerrors.Errorf("%s: %w", name, err)
	}

	return Requirement{Name: name, Ranges: buildRanges(clauses), NoVersion: noVersion}, true, nil
}

// splitName consumes the first whitespace/operator-delimited token as the
// dependency name, returning the remainder of the line unconsumed
// (ParseName's strtok_r(buf, " \t><=!", ...) in the original).
func splitName(line string) (name, rest string) {
	isDelim := func(r rune) bool {
		switch r {
		case ' ', '\t', '>', '<', '=', '!', ',':
			return true
		}
		return false
	}
	i := strings.IndexFunc(line, isDelim)
	if i < 0 {
		return strings.TrimSpace(line), ""
	}
	return strings.TrimSpace(line[:i]), line[i:]
}

// parseClauses splits rest on commas and parses each piece with
// makeVersion. A rest that is empty (or all whitespace) yields a single
// synthetic ">= 0" clause, matching every legal candidate (spec.md §4.2).
func parseClauses(rest string, defaultOp version.Operator) ([]clause, error) {
	var clauses []clause
	for _, part := range strings.Split(rest, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		c, err := makeVersion(part, defaultOp)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 0 {
		clauses = append(clauses, clause{op: version.GreaterThanOrEqual, version: "0"})
	}
	return clauses, nil
}

// makeVersion parses one "<op><version>" token. A token with no
// recognized operator prefix is the bare version text, interpreted under
// defaultOp (GreaterThanOrEqual unless the caller is in --strict mode).
func makeVersion(tok string, defaultOp version.Operator) (clause, error) {
	tok = strings.TrimSpace(tok)
	ops := []struct {
		prefix string
		op     version.Operator
	}{
		{">=", version.GreaterThanOrEqual},
		{"==", version.Equal},
		{"!=", version.NotEqual},
		{"<=", version.LessThanOrEqual},
		{">", version.GreaterThan},
		{"=", version.Equal},
		{"<", version.LessThan},
	}
	for _, o := range ops {
		if strings.HasPrefix(tok, o.prefix) {
			v := strings.TrimSpace(strings.TrimPrefix(tok, o.prefix))
			return clause{op: o.op, version: v}, nil
		}
	}
	if defaultOp == version.None {
		defaultOp = version.GreaterThanOrEqual
	}
	return clause{op: defaultOp, version: tok}, nil
}

// buildRanges folds a flat clause list into the Range list described by
// spec.md §4.2: the first clause seeds a range via rangeFromClause (a
// leading "!=" instead splits an unbounded range around its version), and
// each later clause either restricts an existing range that already
// contains it, or — if none does and the clause isn't "!=" — clears the
// whole list (an unsatisfiable requirement).
func buildRanges(clauses []clause) []Range {
	var ranges []Range
	for _, c := range clauses {
		if len(ranges) == 0 {
			if c.op == version.NotEqual {
				ranges = limitRange([]Range{{}}, 0, c)
				continue
			}
			ranges = append(ranges, rangeFromClause(c))
			continue
		}
		idx := indexOfContaining(ranges, c.version)
		if idx >= 0 {
			ranges = limitRange(ranges, idx, c)
			continue
		}
		if c.op != version.NotEqual {
			return nil
		}
	}
	return ranges
}

func rangeFromClause(c clause) Range {
	switch c.op {
	case version.GreaterThan, version.GreaterThanOrEqual:
		return Range{
			Low:  version.Bound{Op: c.op, Version: c.version},
			High: version.Bound{Op: version.LessThan, Version: ""},
		}
	case version.LessThan, version.LessThanOrEqual:
		return Range{
			Low:  version.Bound{Op: version.GreaterThan, Version: ""},
			High: version.Bound{Op: c.op, Version: c.version},
		}
	case version.Equal, version.NotEqual:
		return Range{
			Low:  version.Bound{Op: version.Equal, Version: c.version},
			High: version.Bound{Op: version.None, Version: ""},
		}
	default:
		return Range{}
	}
}

// indexOfContaining returns the index of the first range in ranges that
// already contains candidate (VersionInRangeList), or -1.
func indexOfContaining(ranges []Range, candidate string) int {
	for i, r := range ranges {
		if r.Contains(candidate) {
			return i
		}
	}
	return -1
}

// limitRange applies LimitRange's restriction rules to ranges[idx] in
// place, appending a second range when c splits it (the "!=" case).
func limitRange(ranges []Range, idx int, c clause) []Range {
	r := ranges[idx]
	switch c.op {
	case version.GreaterThan, version.GreaterThanOrEqual:
		r.Low = version.Bound{Op: c.op, Version: c.version}
	case version.LessThan, version.LessThanOrEqual:
		r.High = version.Bound{Op: c.op, Version: c.version}
	case version.Equal:
		r.Low = version.Bound{Op: version.Equal, Version: c.version}
		r.High = version.Bound{Op: version.Equal, Version: c.version}
	case version.NotEqual:
		high := Range{
			Low:  version.Bound{Op: version.GreaterThan, Version: c.version},
			High: r.High,
		}
		r.High = version.Bound{Op: version.LessThan, Version: c.version}
		ranges[idx] = r
		return append(ranges, high)
	default:
		r = Range{}
	}
	ranges[idx] = r
	return ranges
}

// String renders r in the manifest grammar, one group of comma-separated
// clauses per range. Ranges produced by a "!=" split do not parse back
// into the same ranges.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	for i, rg := range r.Ranges {
		if i > 0 || rg.Low.Op != version.None || rg.High.Op != version.None {
			b.WriteString(" ")
		}
		b.WriteString(formatRange(rg))
		if i < len(r.Ranges)-1 {
			b.WriteString(",")
		}
	}
	return b.String()
}

func formatRange(r Range) string {
	if r.Low.Op == version.Equal && r.High.Op == version.Equal && r.Low.Version == r.High.Version {
		return fmt.Sprintf("= %s", r.Low.Version)
	}
	var parts []string
	if r.Low.Version != "" {
		parts = append(parts, fmt.Sprintf("%s %s", r.Low.Op, r.Low.Version))
	}
	if r.High.Version != "" {
		parts = append(parts, fmt.Sprintf("%s %s", r.High.Op, r.High.Version))
	}
	return strings.Join(parts, ", ")
}
