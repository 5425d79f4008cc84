package crucible

import "testing"

func TestParseConstraintRejects(t *testing.T) {
	bad := []string{
		"1:2:3",
		"1.2,",
		"=",
		"4:3",
		"1.2 :3",
	}
	for _, in := range bad {
		if _, err := ParseConstraint(in); err == nil {
			t.Errorf("ParseConstraint(%q) succeeded, expected error", in)
		}
	}
	// a descending pair that shares a component prefix is a legal family range
	if _, err := ParseConstraint("3.2:3"); err != nil {
		t.Errorf("ParseConstraint(3.2:3) failed: %s", err)
	}
}

func TestConstraintMatching(t *testing.T) {
	cases := []struct {
		c, v  string
		match bool
	}{
		// bare versions admit the whole family
		{"12", "12", true},
		{"12", "12.3", true},
		{"12", "12.3.1", true},
		{"12", "13.0", false},
		{"12", "120", false},
		// exact pins admit only themselves
		{"=12", "12", true},
		{"=12", "12.3", false},
		// ranges are inclusive, upper bound family-inclusive
		{"2:3", "2.0", true},
		{"2:3", "3", true},
		{"2:3", "3.6.9", true},
		{"2:3", "4.0", false},
		{"2:3", "1.9", false},
		{":3", "3.9", true},
		{":3", "4.0", false},
		{"2:", "99", true},
		{"2:", "1.9", false},
		{":", "develop", true},
		// unions
		{"1.2,2.0:2.4", "1.2.5", true},
		{"1.2,2.0:2.4", "2.3", true},
		{"1.2,2.0:2.4", "2.5", false},
	}
	for _, c := range cases {
		if got := mkc(c.c).Matches(mkv(c.v)); got != c.match {
			t.Errorf("(%s).Matches(%s) = %v, expected %v", c.c, c.v, got, c.match)
		}
	}
}

func TestConstraintIntersect(t *testing.T) {
	cases := []struct {
		a, b string
		out  string // "<none>" for empty
	}{
		{"2:3", "3:4", "3"},
		{"2:3", "3.6:4", "3.6:3"},
		{":3", ":3.6", ":3.6"},
		{"1:2", "3:4", "<none>"},
		{"=1.2", "1:2", "=1.2"},
		{"=1.2", "=1.3", "<none>"},
		{"1.2,2.0", "=2.0", "=2.0"},
		{"1.2,2.0:2.4", ":2.2", "1.2,2.0:2.2"},
		{":", "1:2", "1:2"},
	}
	for _, c := range cases {
		got := mkc(c.a).Intersect(mkc(c.b))
		if got.String() != c.out {
			t.Errorf("(%s).Intersect(%s) = %s, expected %s", c.a, c.b, got, c.out)
		}
		// intersection commutes
		rev := mkc(c.b).Intersect(mkc(c.a))
		if rev.String() != c.out {
			t.Errorf("(%s).Intersect(%s) = %s, expected %s", c.b, c.a, rev, c.out)
		}
	}
}

func TestConstraintIntersectAdmission(t *testing.T) {
	// the family-range overlap that motivates prefix-aware upper bounds
	got := mkc("2:3").Intersect(mkc("3:4"))
	if IsEmpty(got) {
		t.Fatal("2:3 and 3:4 must overlap on the 3.x family")
	}
	if !got.Matches(mkv("3.6.9")) {
		t.Error("intersection of 2:3 and 3:4 must admit 3.6.9")
	}
	if got.Matches(mkv("4.0")) {
		t.Error("intersection of 2:3 and 3:4 must not admit 4.0")
	}
}

func TestMatchesAny(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1:2", "2:3", true},
		{"1:2", "3:4", false},
		{"=1.2", "1.2", true},
		{":", "<anything>", true},
	}
	for _, c := range cases {
		b := Any()
		if c.b != "<anything>" {
			b = mkc(c.b)
		}
		if got := mkc(c.a).MatchesAny(b); got != c.want {
			t.Errorf("(%s).MatchesAny(%s) = %v, expected %v", c.a, c.b, got, c.want)
		}
	}
	if None().MatchesAny(Any()) {
		t.Error("the empty constraint matched something")
	}
	if Any().MatchesAny(None()) {
		t.Error("the wildcard matched the empty constraint")
	}
}

func TestAnyNone(t *testing.T) {
	if !IsAny(Any()) || !IsAny(nil) {
		t.Error("IsAny misidentified the wildcard")
	}
	if IsAny(mkc("1.2")) {
		t.Error("IsAny accepted a bounded constraint")
	}
	if !IsEmpty(None()) || IsEmpty(Any()) {
		t.Error("IsEmpty misidentified the empty constraint")
	}
	for _, body := range []string{"", ":"} {
		if c := mkc(body); !IsAny(c) {
			t.Errorf("ParseConstraint(%q) = %s, expected the wildcard", body, c)
		}
	}
}

func TestConstraintStringRoundTrip(t *testing.T) {
	for _, body := range []string{"12", "=12", "2:3", ":3", "2:", ":", "1.2,2.0:2.4", "git.mybranch"} {
		c := mkc(body)
		if c.String() != body {
			t.Errorf("ParseConstraint(%q).String() = %q", body, c.String())
		}
		again := mkc(c.String())
		if again.String() != body {
			t.Errorf("%q did not survive a second round trip: %q", body, again.String())
		}
	}
}

func TestIntersectConstraintsFold(t *testing.T) {
	out := intersectConstraints(nil, mkc("1:3"), nil, mkc("2:"))
	if out.String() != "2:3" {
		t.Errorf("fold produced %s, expected 2:3", out)
	}
	if !IsEmpty(intersectConstraints(mkc("=1"), mkc("=2"))) {
		t.Error("fold over disjoint pins must be empty")
	}
	if !IsAny(intersectConstraints()) {
		t.Error("empty fold must be unconstrained")
	}
}

func TestConstraintRequests(t *testing.T) {
	if !constraintRequests(mkc("=develop"), mkv("develop")) {
		t.Error("exact pin on develop not recognized")
	}
	if !constraintRequests(mkc("develop"), mkv("develop")) {
		t.Error("bare family form naming develop not recognized")
	}
	if !constraintRequests(mkc("develop,1.0"), mkv("develop")) {
		t.Error("union member naming develop not recognized")
	}
	if constraintRequests(mkc("12"), mkv("12.3")) {
		t.Error("family form must only name its own bound")
	}
	if constraintRequests(mkc("1:2"), mkv("develop")) {
		t.Error("true range must not count as a request")
	}
	if constraintRequests(mkc("=1.2"), mkv("1.3")) {
		t.Error("pin on a different version recognized")
	}
	if constraintRequests(mkc(":"), mkv("develop")) {
		t.Error("wildcard must not count as a request")
	}
}
