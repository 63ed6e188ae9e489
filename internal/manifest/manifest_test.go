package manifest

import (
	"strings"
	"testing"

	"github.com/gobolinux/runner/internal/version"
)

func mustParse(t *testing.T, text string, opts Options) []Requirement {
	t.Helper()
	reqs, err := Parse(strings.NewReader(text), opts)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return reqs
}

func TestParseNameOnly(t *testing.T) {
	reqs := mustParse(t, "Bash\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	if len(reqs) != 1 || reqs[0].Name != "Bash" {
		t.Fatalf("got %+v", reqs)
	}
	if len(reqs[0].Ranges) != 1 {
		t.Fatalf("want synthetic >= 0 range, got %+v", reqs[0].Ranges)
	}
	if !reqs[0].Satisfies("0.1") {
		t.Fatalf("name-only requirement should match every legal candidate")
	}
	if !reqs[0].NoVersion {
		t.Fatalf("bare name line should be flagged NoVersion")
	}
}

func TestNoVersionFalseWhenClauseGiven(t *testing.T) {
	reqs := mustParse(t, "Bar >= 1.5\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	if reqs[0].NoVersion {
		t.Fatalf("line with an explicit clause must not be flagged NoVersion")
	}
}

func TestParseDefaultOperator(t *testing.T) {
	reqs := mustParse(t, "Qt 5.2\n", Options{DefaultOperator: version.Equal})
	if !reqs[0].Satisfies("5.2") || reqs[0].Satisfies("5.3") {
		t.Fatalf("strict default operator should pin to =5.2, got ranges %+v", reqs[0].Ranges)
	}
}

func TestCommentAndTagStripped(t *testing.T) {
	reqs := mustParse(t, "Bar >= 1.5 [!cross] # needed for x\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	if len(reqs) != 1 || reqs[0].Name != "Bar" {
		t.Fatalf("got %+v", reqs)
	}
	if !reqs[0].Satisfies("2.0") || reqs[0].Satisfies("1.0") {
		t.Fatalf("tag/comment should not leak into the version bound: %+v", reqs[0].Ranges)
	}
}

func TestEmptyAndCommentOnlyLinesSkipped(t *testing.T) {
	reqs := mustParse(t, "\n# just a comment\n   \nBash\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	if len(reqs) != 1 || reqs[0].Name != "Bash" {
		t.Fatalf("got %+v", reqs)
	}
}

func TestRangeIntersection(t *testing.T) {
	reqs := mustParse(t, "Baz >= 1.0, < 2.0, != 1.3\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	req := reqs[0]
	for _, tt := range []struct {
		candidate string
		want      bool
	}{
		{"0.9", false},
		{"1.0", true},
		{"1.3", false},
		{"1.5", true},
		{"2.0", false},
		{"1.9999", true},
	} {
		if got := req.Satisfies(tt.candidate); got != tt.want {
			t.Errorf("Satisfies(%q) = %v, want %v (ranges=%+v)", tt.candidate, got, tt.want, req.Ranges)
		}
	}
}

func TestNotEqualSplitsRange(t *testing.T) {
	reqs := mustParse(t, "Foo != 1.3\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	req := reqs[0]
	if len(req.Ranges) != 2 {
		t.Fatalf("!= should split into two ranges, got %+v", req.Ranges)
	}
	if req.Satisfies("1.3") {
		t.Fatalf("excluded version must not satisfy")
	}
	if !req.Satisfies("1.2") || !req.Satisfies("1.4") {
		t.Fatalf("neighbors of the excluded version must satisfy: %+v", req.Ranges)
	}
}

func TestUnsatisfiableRestrictionClearsRanges(t *testing.T) {
	// A second clause whose version is outside the first clause's range,
	// and that isn't !=, makes the requirement unsatisfiable.
	reqs := mustParse(t, "Conflict >= 2.0, < 1.0\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	req := reqs[0]
	if len(req.Ranges) != 0 {
		t.Fatalf("expected cleared range list, got %+v", req.Ranges)
	}
	if req.Satisfies("5.0") {
		t.Fatalf("unsatisfiable requirement must reject everything")
	}
}

func TestOnlyNameFilter(t *testing.T) {
	reqs := mustParse(t, "Foo >= 1.0\nBar >= 2.0\n", Options{DefaultOperator: version.GreaterThanOrEqual, OnlyName: "Bar"})
	if len(reqs) != 1 || reqs[0].Name != "Bar" {
		t.Fatalf("got %+v", reqs)
	}
}

func TestBinaryContentHaltsParsing(t *testing.T) {
	// The byte immediately following "Bar >= 2.0\n" is binary garbage, so
	// that line itself is discarded (it halts "at that line"); only the
	// earlier, already-yielded Foo line survives.
	text := "Foo >= 1.0\n" + "Bar >= 2.0\n" + "\x00\x01binarygarbage"
	reqs := mustParse(t, text, Options{DefaultOperator: version.GreaterThanOrEqual})
	if len(reqs) != 1 || reqs[0].Name != "Foo" {
		t.Fatalf("earlier lines should survive a binary tail, got %+v", reqs)
	}
}

func TestEqualCollapsesRange(t *testing.T) {
	reqs := mustParse(t, "Pkg = 3.0\n", Options{DefaultOperator: version.GreaterThanOrEqual})
	req := reqs[0]
	if !req.Satisfies("3.0") || req.Satisfies("3.1") || req.Satisfies("2.9") {
		t.Fatalf("= should pin to exactly one version: %+v", req.Ranges)
	}
}
