package crucible

import (
	"fmt"
	"strconv"
	"strings"
)

// Infinity components. Any of these outranks every numeric or string
// component; among themselves, earlier entries rank higher.
var infinityOrder = []string{"develop", "main", "master", "head", "trunk", "stable"}

func infinityRank(s string) (int, bool) {
	for i, tok := range infinityOrder {
		if s == tok {
			// higher rank for earlier entries
			return len(infinityOrder) - i, true
		}
	}
	return 0, false
}

type componentKind uint8

const (
	componentString componentKind = iota
	componentNumeric
	componentInfinity
)

// component is one delimited piece of a version identifier. Ordering
// between kinds is infinity > numeric > string; within a kind, numeric
// compares numerically and the rest by string.
type component struct {
	kind componentKind
	num  uint64
	str  string
	inf  int
}

func (c component) String() string {
	if c.kind == componentNumeric {
		return strconv.FormatUint(c.num, 10)
	}
	return c.str
}

func compareComponents(a, b component) int {
	if a.kind != b.kind {
		if a.kind > b.kind {
			return 1
		}
		return -1
	}

	switch a.kind {
	case componentNumeric:
		switch {
		case a.num > b.num:
			return 1
		case a.num < b.num:
			return -1
		}
		return 0
	case componentInfinity:
		switch {
		case a.inf > b.inf:
			return 1
		case a.inf < b.inf:
			return -1
		}
		return 0
	default:
		return strings.Compare(a.str, b.str)
	}
}

// prerelease kinds, ascending. A version without a prerelease suffix
// outranks one with, given equal release components.
const (
	preAlpha = iota + 1
	preBeta
	preRC
)

type prerelease struct {
	kind int
	num  uint64
}

func (p prerelease) String() string {
	var s string
	switch p.kind {
	case preAlpha:
		s = "alpha"
	case preBeta:
		s = "beta"
	case preRC:
		s = "rc"
	}
	return s + strconv.FormatUint(p.num, 10)
}

// gitRef marks a version as a VCS reference. The surrounding Version's
// components hold the comparable stand-in, either user-supplied or
// derived from the nearest ancestor tag by a RefResolver.
type gitRef struct {
	ref      string
	bound    bool
	distance int
}

// Version is an ordered version identifier: a sequence of components
// plus an optional prerelease suffix, or a git reference bound to a
// comparable stand-in version.
type Version struct {
	raw        string
	components []component
	pre        *prerelease
	git        *gitRef
}

// VersionParseError reports a malformed version identifier.
type VersionParseError struct {
	Input string
	Prob  string
}

func (e *VersionParseError) Error() string {
	return fmt.Sprintf("invalid version %q: %s", e.Input, e.Prob)
}

const versionChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._-"

// ParseVersion parses a version identifier into an ordered Version.
//
// Identifiers prefixed with "git." denote VCS references; an "=version"
// suffix binds the ref to an explicit comparable version, otherwise the
// ref remains unbound until a RefResolver supplies one.
func ParseVersion(body string) (Version, error) {
	if body == "" {
		return Version{}, &VersionParseError{Input: body, Prob: "empty string"}
	}

	if strings.HasPrefix(body, "git.") {
		return parseGitVersion(body)
	}

	for _, r := range body {
		if !strings.ContainsRune(versionChars, r) {
			return Version{}, &VersionParseError{Input: body, Prob: fmt.Sprintf("illegal character %q", r)}
		}
	}
	if strings.HasPrefix(body, ".") || strings.HasSuffix(body, ".") {
		return Version{}, &VersionParseError{Input: body, Prob: "leading or trailing delimiter"}
	}

	v := Version{raw: body}
	v.components, v.pre = splitComponents(body)
	return v, nil
}

func parseGitVersion(body string) (Version, error) {
	spec := strings.TrimPrefix(body, "git.")
	ref := spec
	var bound string
	if i := strings.IndexByte(spec, '='); i >= 0 {
		ref, bound = spec[:i], spec[i+1:]
	}
	if ref == "" {
		return Version{}, &VersionParseError{Input: body, Prob: "empty git reference"}
	}

	v := Version{raw: body, git: &gitRef{ref: ref}}
	if bound != "" {
		bv, err := ParseVersion(bound)
		if err != nil {
			return Version{}, &VersionParseError{Input: body, Prob: "bad bound version: " + bound}
		}
		v.components, v.pre = bv.components, bv.pre
		v.git.bound = true
	}
	return v, nil
}

// MustParseVersion is ParseVersion, panicking on error. For statically
// known inputs.
func MustParseVersion(body string) Version {
	v, err := ParseVersion(body)
	if err != nil {
		panic(err)
	}
	return v
}

var prereleaseNames = map[string]int{
	"alpha": preAlpha,
	"beta":  preBeta,
	"rc":    preRC,
}

func splitComponents(body string) ([]component, *prerelease) {
	var parts []string
	var cur strings.Builder
	var lastDigit, started bool
	for _, r := range body {
		switch {
		case r == '.' || r == '-' || r == '_':
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			started = false
		default:
			digit := r >= '0' && r <= '9'
			// split on letter/digit boundaries, so "1.2rc3"
			// yields [1 2 rc 3]
			if started && digit != lastDigit {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			cur.WriteRune(r)
			lastDigit = digit
			started = true
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}

	var pre *prerelease
	if n := len(parts); n > 0 {
		consumed := false
		if n > 1 {
			if u, err := strconv.ParseUint(parts[n-1], 10, 64); err == nil {
				if kind, ok := prereleaseNames[parts[n-2]]; ok {
					pre = &prerelease{kind: kind, num: u}
					parts = parts[:n-2]
					consumed = true
				}
			}
		}
		if !consumed {
			if kind, ok := prereleaseNames[parts[n-1]]; ok {
				pre = &prerelease{kind: kind}
				parts = parts[:n-1]
			}
		}
	}

	comps := make([]component, 0, len(parts))
	for _, p := range parts {
		comps = append(comps, makeComponent(p))
	}
	return comps, pre
}

func makeComponent(p string) component {
	if u, err := strconv.ParseUint(p, 10, 64); err == nil {
		return component{kind: componentNumeric, num: u}
	}
	if rank, ok := infinityRank(p); ok {
		return component{kind: componentInfinity, str: p, inf: rank}
	}
	return component{kind: componentString, str: p}
}

func (v Version) String() string {
	return v.raw
}

// IsGitRef indicates whether the version is a VCS reference.
func (v Version) IsGitRef() bool {
	return v.git != nil
}

// GitRef returns the VCS reference name, or "" for ordinary versions.
func (v Version) GitRef() string {
	if v.git == nil {
		return ""
	}
	return v.git.ref
}

// IsInfinity reports whether the leading component is one of the
// infinity tokens. Such versions are never auto-selected by the solver
// unless explicitly required.
func (v Version) IsInfinity() bool {
	if v.unboundRef() {
		// unresolved refs track moving development state
		return true
	}
	return len(v.components) > 0 && v.components[0].kind == componentInfinity
}

// HasPrefix reports whether p's components are a leading subsequence
// of v's. Range bounds use this: an upper bound of 3 admits every
// 3.x release, not only versions comparing at or below the literal 3.
func (v Version) HasPrefix(p Version) bool {
	if len(p.components) > len(v.components) {
		return false
	}
	for i := range p.components {
		if compareComponents(v.components[i], p.components[i]) != 0 {
			return false
		}
	}
	if p.pre != nil {
		return v.pre != nil && comparePre(v.pre, p.pre) == 0
	}
	return true
}

// Bind returns a copy of a git-ref version bound to the given
// comparable version, offset by distance commits past it. Calling Bind
// on a non-ref version is a no-op.
func (v Version) Bind(bound Version, distance int) Version {
	if v.git == nil {
		return v
	}
	return Version{
		raw:        v.raw,
		components: bound.components,
		pre:        bound.pre,
		git:        &gitRef{ref: v.git.ref, bound: true, distance: distance},
	}
}

// Compare implements the version-model ordering: compare
// component-wise with infinity > numeric > string, shorter prefixes
// rank below their extensions, and prerelease suffixes break ties
// below the plain release. Returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	// Unbound git refs compare as development heads
	vu, ou := v.unboundRef(), o.unboundRef()
	if vu || ou {
		switch {
		case vu && ou:
			return strings.Compare(v.git.ref, o.git.ref)
		case vu:
			return 1
		default:
			return -1
		}
	}

	for i := 0; i < len(v.components) && i < len(o.components); i++ {
		if c := compareComponents(v.components[i], o.components[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(v.components) > len(o.components):
		return 1
	case len(v.components) < len(o.components):
		return -1
	}

	if c := comparePre(v.pre, o.pre); c != 0 {
		return c
	}

	// Equal release: a ref further past its ancestor tag ranks higher
	var vd, od int
	if v.git != nil {
		vd = v.git.distance
	}
	if o.git != nil {
		od = o.git.distance
	}
	switch {
	case vd > od:
		return 1
	case vd < od:
		return -1
	}
	return 0
}

func (v Version) unboundRef() bool {
	return v.git != nil && !v.git.bound
}

func comparePre(a, b *prerelease) int {
	if a == nil && b == nil {
		return 0
	}
	// absent prerelease outranks present
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}
	switch {
	case a.kind > b.kind:
		return 1
	case a.kind < b.kind:
		return -1
	case a.num > b.num:
		return 1
	case a.num < b.num:
		return -1
	}
	return 0
}

// Equal is Compare == 0, plus agreement on the git reference itself, so
// two refs bound to the same tag stay distinguishable.
func (v Version) Equal(o Version) bool {
	if (v.git == nil) != (o.git == nil) {
		return false
	}
	if v.git != nil && v.git.ref != o.git.ref {
		return false
	}
	return v.Compare(o) == 0
}

// Satisfies indicates whether the version is admitted by c. Nil c is
// treated as unconstrained.
func (v Version) Satisfies(c Constraint) bool {
	if c == nil {
		return true
	}
	return c.Matches(v)
}

// Versions implements sort.Interface in ascending version order.
type Versions []Version

func (vs Versions) Len() int           { return len(vs) }
func (vs Versions) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }
func (vs Versions) Less(i, j int) bool { return vs[i].Compare(vs[j]) < 0 }

// RefResolver derives a comparable version for a VCS reference from
// registry-side data: the nearest ancestor tag and the commit distance
// from it. Implementations perform no I/O as seen by the core.
type RefResolver interface {
	ResolveRef(pkg PackageName, ref string) (ancestor Version, distance int, err error)
}

// resolveGitVersion binds an unbound ref version via rr, if possible.
// Already-bound versions and ordinary versions pass through.
func resolveGitVersion(rr RefResolver, pkg PackageName, v Version) Version {
	if rr == nil || v.git == nil || v.git.bound {
		return v
	}
	anc, dist, err := rr.ResolveRef(pkg, v.git.ref)
	if err != nil {
		return v
	}
	return v.Bind(anc, dist)
}
