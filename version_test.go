package crucible

import (
	"sort"
	"strings"
	"testing"
)

func TestParseVersionRejects(t *testing.T) {
	bad := []string{
		"",
		".1.2",
		"1.2.",
		"1.2 3",
		"1.2/3",
		"1.2+3",
		"git.",
	}
	for _, in := range bad {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("ParseVersion(%q) succeeded, expected VersionParseError", in)
		} else if _, ok := err.(*VersionParseError); !ok {
			t.Errorf("ParseVersion(%q) returned %T, expected *VersionParseError", in, err)
		}
	}
}

func TestVersionOrdering(t *testing.T) {
	// each entry must compare strictly less than every later entry
	ascending := []string{
		"1.0-alpha1",
		"1.0-alpha2",
		"1.0-beta1",
		"1.0-rc1",
		"1.0-rc2",
		"1.0",
		"1.0.1",
		"1.2",
		"1.2a",
		"1.2.1",
		"1.10",
		"2.0",
		"10.0",
		"stable",
		"trunk",
		"head",
		"master",
		"main",
		"develop",
	}
	for i := 0; i < len(ascending); i++ {
		for j := i + 1; j < len(ascending); j++ {
			a, b := mkv(ascending[i]), mkv(ascending[j])
			if c := a.Compare(b); c != -1 {
				t.Errorf("Compare(%q, %q) = %d, expected -1", ascending[i], ascending[j], c)
			}
			if c := b.Compare(a); c != 1 {
				t.Errorf("Compare(%q, %q) = %d, expected 1", ascending[j], ascending[i], c)
			}
		}
	}
}

func TestVersionEquality(t *testing.T) {
	if !mkv("1.2.0").Equal(mkv("1.2.0")) {
		t.Error("identical versions reported unequal")
	}
	if mkv("1.2").Equal(mkv("1.2.0")) {
		t.Error("1.2 and 1.2.0 reported equal; extension must differ from prefix")
	}
	if c := mkv("1.2rc3").Compare(mkv("1.2-rc.3")); c != 0 {
		t.Errorf("delimiter style changed prerelease ordering: got %d", c)
	}
}

func TestVersionSort(t *testing.T) {
	vs := Versions{mkv("2.0"), mkv("1.0"), mkv("develop"), mkv("1.0-rc1"), mkv("1.10")}
	sort.Sort(vs)
	var got []string
	for _, v := range vs {
		got = append(got, v.String())
	}
	want := "1.0-rc1 1.0 1.10 2.0 develop"
	if s := strings.Join(got, " "); s != want {
		t.Errorf("sorted order %q, expected %q", s, want)
	}
}

func TestVersionPrefix(t *testing.T) {
	cases := []struct {
		v, p string
		want bool
	}{
		{"3.6.9", "3", true},
		{"3.6.9", "3.6", true},
		{"3.6.9", "3.6.9", true},
		{"3.6.9", "3.7", false},
		{"3", "3.6", false},
		{"30.1", "3", false},
		{"1.2rc3", "1.2", true},
	}
	for _, c := range cases {
		if got := mkv(c.v).HasPrefix(mkv(c.p)); got != c.want {
			t.Errorf("HasPrefix(%q, %q) = %v, expected %v", c.v, c.p, got, c.want)
		}
	}
}

func TestInfinityVersions(t *testing.T) {
	for _, s := range []string{"develop", "main", "master", "head", "trunk", "stable"} {
		if !mkv(s).IsInfinity() {
			t.Errorf("%q not reported as an infinity version", s)
		}
	}
	if mkv("1.0").IsInfinity() {
		t.Error("1.0 reported as an infinity version")
	}
	// infinity only counts in the leading component
	if mkv("1.0-develop").IsInfinity() {
		t.Error("1.0-develop reported as an infinity version")
	}
}

func TestGitRefVersions(t *testing.T) {
	unbound := mkv("git.mybranch")
	if !unbound.IsGitRef() || unbound.GitRef() != "mybranch" {
		t.Fatalf("git.mybranch parsed wrong: ref=%q", unbound.GitRef())
	}
	if !unbound.IsInfinity() {
		t.Error("unbound ref must compare as a development head")
	}
	if unbound.Compare(mkv("99.9")) != 1 {
		t.Error("unbound ref must outrank any numeric release")
	}

	bound := mkv("git.v1tag=1.2")
	if !bound.IsGitRef() {
		t.Fatal("bound ref lost its reference identity")
	}
	if bound.Compare(mkv("1.2")) != 0 {
		t.Error("ref bound to 1.2 must compare equal to 1.2")
	}
	if bound.Equal(mkv("1.2")) {
		t.Error("ref bound to 1.2 must stay distinguishable from plain 1.2")
	}

	// commit distance breaks ties above the ancestor tag
	near := mkv("git.br").Bind(mkv("1.2"), 1)
	far := mkv("git.br2").Bind(mkv("1.2"), 5)
	if near.Compare(far) != -1 {
		t.Error("greater commit distance past the same tag must rank higher")
	}
	if near.Compare(mkv("1.2")) != 1 {
		t.Error("ref one commit past 1.2 must outrank 1.2")
	}
	if near.Compare(mkv("1.2.1")) != -1 {
		t.Error("ref just past 1.2 must not outrank 1.2.1")
	}
}

type staticRefs map[string]string

func (m staticRefs) ResolveRef(pkg PackageName, ref string) (Version, int, error) {
	b, has := m[ref]
	if !has {
		return Version{}, 0, &ErrUnknownPackage{Name: pkg}
	}
	return mkv(b), 2, nil
}

func TestResolveGitVersion(t *testing.T) {
	rr := staticRefs{"feature": "2.1"}

	v := resolveGitVersion(rr, "pkg", mkv("git.feature"))
	if v.unboundRef() {
		t.Fatal("resolvable ref stayed unbound")
	}
	if v.Compare(mkv("2.1")) != 1 {
		t.Error("resolved ref with distance 2 must rank above its ancestor tag")
	}

	// unresolvable refs stay unbound and track development state
	u := resolveGitVersion(rr, "pkg", mkv("git.unknown"))
	if !u.unboundRef() {
		t.Error("unresolvable ref must remain unbound")
	}

	// nil resolver passes versions through
	p := resolveGitVersion(nil, "pkg", mkv("git.feature"))
	if !p.unboundRef() {
		t.Error("nil resolver must not bind anything")
	}
}
