package version

import "testing"

func TestCompare(t *testing.T) {
	for _, tt := range []struct {
		candidate, specified string
		want                 int
	}{
		{"1.5", "1.5", 0},
		{"2.0", "1.5", 1},
		{"1.4", "1.5", -1},
		{"1.2.3", "1.2.3", 0},
		{"1.2.10", "1.2.9", 1},
		{"1.10", "1.9", 1},
		{"1.5", "1.5 [!cross]", 0},
		{"1.5", "1.5 [!cross]  ", 0},
		{"foo", "bar", 1}, // strcmp("foo","bar") > 0
		{"bar", "foo", -1},
		{"1.0-r2", "1.0-r1", 1},
		{"1.0-r1", "1.0-r1", 0},
		{"1.0", "1.0-r1", -1}, // absent -r counts as revision 0
		{"1.0-r0", "1.0", 0},
		{"2", "1.5", 1}, // exhausted side compared by major
		{"1.5", "2", -1},
		{"2.0", "2", 0},       // trailing zero segment doesn't make it newer
		{"2", "2.0", 0},
		{"2.0.0", "2.0", 0},
		{"2.0.0", "2", 0},
		{"2.1", "2", 0},        // exhaustion ties on the major, "1" is never examined
		{"2", "2.1", 0},
	} {
		t.Run(tt.candidate+"_"+tt.specified, func(t *testing.T) {
			got := Compare(tt.candidate, tt.specified)
			if got != tt.want {
				t.Fatalf("Compare(%q, %q) = %d, want %d", tt.candidate, tt.specified, got, tt.want)
			}
		})
	}
}

func TestCompareMajorAlphaTieBreak(t *testing.T) {
	// Both sides have major "2"; alpha suffix decides.
	got := Compare("2a", "2b")
	if got >= 0 {
		t.Fatalf("Compare(2a, 2b) = %d, want < 0", got)
	}
}

func TestCompareInteriorAlphaIgnored(t *testing.T) {
	// "2a" vs "2b" is a matched (non-exhausted) position here, not the
	// exhausted one, so the alpha suffix must not decide it: "5" == "5".
	got := Compare("2a.5", "2b.5")
	if got != 0 {
		t.Fatalf("Compare(2a.5, 2b.5) = %d, want 0", got)
	}
}

func TestCompareTotalOrder(t *testing.T) {
	versions := []string{"1.0", "1.1", "1.2", "1.10", "2.0"}
	for i := 0; i < len(versions)-1; i++ {
		a, b := versions[i], versions[i+1]
		if Compare(a, b) >= 0 {
			t.Fatalf("Compare(%q, %q) should be < 0", a, b)
		}
		if Compare(b, a) <= 0 {
			t.Fatalf("Compare(%q, %q) should be > 0", b, a)
		}
	}
}

func TestBoundSatisfies(t *testing.T) {
	for _, tt := range []struct {
		bound Bound
		cand  string
		want  bool
	}{
		{Bound{GreaterThanOrEqual, "1.5"}, "2.0", true},
		{Bound{GreaterThanOrEqual, "1.5"}, "1.4", false},
		{Bound{NotEqual, "1.3"}, "1.3", false},
		{Bound{NotEqual, "1.3"}, "1.4", true},
		{Bound{None, ""}, "anything", true},
		{Bound{Equal, ""}, "anything", true}, // empty version = no constraint
	} {
		got := tt.bound.Satisfies(tt.cand)
		if got != tt.want {
			t.Errorf("Bound{%v,%q}.Satisfies(%q) = %v, want %v", tt.bound.Op, tt.bound.Version, tt.cand, got, tt.want)
		}
	}
}
