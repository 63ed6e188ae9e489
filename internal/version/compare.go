package version

import (
	"strconv"
	"strings"
)

// Compare returns -1, 0, or +1 according to whether candidate is older than,
// equal to, or newer than specified, per spec.md §4.1.
//
// specified may carry a trailing bracketed tag (e.g. "1.2.3 [!cross]"); the
// tag is metadata, not part of the version, and is stripped before
// comparison.
func Compare(candidate, specified string) int {
	specified = stripTag(specified)

	if candidate == specified {
		return 0
	}

	if startsWithLetter(candidate) && startsWithLetter(specified) {
		return strcmp(candidate, specified)
	}

	candSegs := strings.Split(candidate, ".")
	specSegs := strings.Split(specified, ".")

	n := len(candSegs)
	if len(specSegs) < n {
		n = len(specSegs)
	}

	for i := 0; i < n; i++ {
		c, s := candSegs[i], specSegs[i]
		last := i == n-1

		if strings.Contains(c, "-r") || strings.Contains(s, "-r") {
			if cmp := compareRevisioned(c, s); cmp != 0 {
				return cmp
			}
			if last {
				return 0
			}
			continue
		}

		if last {
			// One side has no further dot segment at this position
			// (step 4): compare major numbers over the untruncated
			// segment, breaking ties by the first alpha run. A
			// trailing run of segments beyond this point never gets
			// examined, so "2.1" ties "2" the same as "2.0" does.
			return compareMajor(c, s)
		}

		if cmp := compareSegmentPlain(c, s); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// compareSegmentPlain compares a single matched-position dot segment as an
// integer, C atoi-style: leading digits are parsed and any trailing
// non-digit run is ignored. No alpha tie-break here (step 3); that only
// applies once one side has exhausted its segments (step 4).
func compareSegmentPlain(c, s string) int {
	return compareInts(atoiLeading(c), atoiLeading(s))
}

// compareMajor compares the major number of two segments, breaking ties by
// the first alpha run when both carry one (e.g. "2a" vs "2b").
func compareMajor(c, s string) int {
	if cmp := compareInts(atoiLeading(c), atoiLeading(s)); cmp != 0 {
		return cmp
	}
	ca, sa := firstAlpha(c), firstAlpha(s)
	if ca == "" || sa == "" {
		return 0
	}
	return strcmp(ca, sa)
}

// compareRevisioned compares two dot-segment strings that may carry a
// "-r<N>" revision suffix, splitting into (main, revision) and comparing
// lexicographically by (main_int, revision_int). An absent "-r" counts as
// revision 0.
func compareRevisioned(a, b string) int {
	aMain, aRev := splitRevision(a)
	bMain, bRev := splitRevision(b)
	if cmp := compareSegmentPlain(aMain, bMain); cmp != 0 {
		return cmp
	}
	return compareInts(aRev, bRev)
}

func splitRevision(s string) (main string, revision int) {
	idx := strings.Index(s, "-r")
	if idx < 0 {
		return s, 0
	}
	main = s[:idx]
	revision = atoiLeading(s[idx+2:])
	return main, revision
}

// atoiLeading parses the leading run of decimal digits in s, C atoi-style:
// a non-numeric prefix yields 0, and any trailing non-digit content (an
// alpha suffix like the "a" in "2a") is ignored.
func atoiLeading(s string) int {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func strcmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func startsWithLetter(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func firstAlpha(s string) string {
	start := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if isAlpha && start < 0 {
			start = i
		} else if !isAlpha && start >= 0 {
			return s[start:i]
		}
	}
	if start >= 0 {
		return s[start:]
	}
	return ""
}

func stripTag(s string) string {
	if idx := strings.IndexByte(s, '['); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
