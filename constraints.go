package crucible

import (
	"fmt"
	"strings"
)

var (
	none = noneConstraint{}
	anyc = anyConstraint{}
)

// A Constraint provides structured limitations on the versions that are
// admissible for a package.
type Constraint interface {
	fmt.Stringer
	// Matches indicates if the provided Version is allowed by the Constraint.
	Matches(Version) bool
	// MatchesAny indicates if the intersection of the Constraint with the
	// provided Constraint could allow *any* Version.
	MatchesAny(Constraint) bool
	// Intersect computes the intersection of the Constraint with the
	// provided Constraint.
	Intersect(Constraint) Constraint
}

// Any returns a constraint that matches every version.
func Any() Constraint {
	return anyc
}

// None returns the empty constraint.
func None() Constraint {
	return none
}

// IsAny indicates if the provided constraint is the wildcard constraint.
func IsAny(c Constraint) bool {
	if c == nil {
		return true
	}
	_, ok := c.(anyConstraint)
	return ok
}

// IsEmpty indicates if the provided constraint admits no version at all.
func IsEmpty(c Constraint) bool {
	_, ok := c.(noneConstraint)
	return ok
}

// ParseConstraint parses the textual constraint grammar: a
// comma-separated union of exact versions and colon ranges ("a:b",
// ":b", "a:", ":").
func ParseConstraint(body string) (Constraint, error) {
	if body == "" || body == ":" {
		return anyc, nil
	}

	parts := strings.Split(body, ",")
	cs := make([]Constraint, 0, len(parts))
	for _, p := range parts {
		c, err := parseConstraintTerm(p)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	if len(cs) == 1 {
		return cs[0], nil
	}
	return unionConstraint(cs), nil
}

// MustParseConstraint is ParseConstraint, panicking on error.
func MustParseConstraint(body string) Constraint {
	c, err := ParseConstraint(body)
	if err != nil {
		panic(err)
	}
	return c
}

func parseConstraintTerm(p string) (Constraint, error) {
	if p == "" {
		return nil, &VersionParseError{Input: p, Prob: "empty constraint term"}
	}
	if i := strings.IndexByte(p, ':'); i >= 0 {
		if strings.IndexByte(p[i+1:], ':') >= 0 {
			return nil, &VersionParseError{Input: p, Prob: "more than one range separator"}
		}
		var rc rangeConstraint
		if lo := p[:i]; lo != "" {
			v, err := ParseVersion(lo)
			if err != nil {
				return nil, err
			}
			rc.lo = &v
		}
		if hi := p[i+1:]; hi != "" {
			v, err := ParseVersion(hi)
			if err != nil {
				return nil, err
			}
			rc.hi = &v
		}
		if rc.lo == nil && rc.hi == nil {
			return anyc, nil
		}
		if rc.lo != nil && rc.hi != nil && rc.lo.Compare(*rc.hi) > 0 && !rc.lo.HasPrefix(*rc.hi) {
			return nil, &VersionParseError{Input: p, Prob: "range lower bound above upper bound"}
		}
		return rc, nil
	}

	// "=1.2" pins exactly; a bare "1.2" admits the whole 1.2.x family
	if strings.HasPrefix(p, "=") {
		v, err := ParseVersion(p[1:])
		if err != nil {
			return nil, err
		}
		return exactVersion{v: v}, nil
	}
	v, err := ParseVersion(p)
	if err != nil {
		return nil, err
	}
	return rangeConstraint{lo: &v, hi: &v}, nil
}

// ExactVersion returns a constraint admitting only v.
func ExactVersion(v Version) Constraint {
	return exactVersion{v: v}
}

// VersionRange returns an inclusive range constraint. Either bound may
// be nil, leaving that side open.
func VersionRange(lo, hi *Version) Constraint {
	if lo == nil && hi == nil {
		return anyc
	}
	if lo != nil && hi != nil && lo.Compare(*hi) > 0 && !lo.HasPrefix(*hi) {
		return none
	}
	return rangeConstraint{lo: lo, hi: hi}
}

type exactVersion struct {
	v Version
}

func (c exactVersion) String() string {
	return "=" + c.v.String()
}

func (c exactVersion) Matches(v Version) bool {
	return c.v.Equal(v)
}

func (c exactVersion) MatchesAny(c2 Constraint) bool {
	return !IsEmpty(c.Intersect(c2))
}

func (c exactVersion) Intersect(c2 Constraint) Constraint {
	switch tc := c2.(type) {
	case nil:
		return c
	case anyConstraint:
		return c
	case noneConstraint:
		return none
	case exactVersion:
		if c.v.Equal(tc.v) {
			return c
		}
	default:
		if c2.Matches(c.v) {
			return c
		}
	}
	return none
}

// Version exposes the pinned version of an exact constraint, for
// callers that need to distinguish pins from ranges.
func (c exactVersion) Version() Version {
	return c.v
}

type rangeConstraint struct {
	lo, hi *Version
}

func (c rangeConstraint) String() string {
	if c.lo != nil && c.hi != nil && c.lo.Equal(*c.hi) {
		// the bare-version family form parses back to the same range
		return c.lo.String()
	}
	var lo, hi string
	if c.lo != nil {
		lo = c.lo.String()
	}
	if c.hi != nil {
		hi = c.hi.String()
	}
	return lo + ":" + hi
}

// Matches applies inclusive bounds with family semantics on the upper
// side: an upper bound admits any version it is a component-prefix of,
// so :3 takes in 3.6.9.
func (c rangeConstraint) Matches(v Version) bool {
	if c.lo != nil && v.Compare(*c.lo) < 0 {
		return false
	}
	if c.hi != nil && v.Compare(*c.hi) > 0 && !v.HasPrefix(*c.hi) {
		return false
	}
	return true
}

func (c rangeConstraint) MatchesAny(c2 Constraint) bool {
	return !IsEmpty(c.Intersect(c2))
}

func (c rangeConstraint) Intersect(c2 Constraint) Constraint {
	switch tc := c2.(type) {
	case nil:
		return c
	case anyConstraint:
		return c
	case noneConstraint:
		return none
	case exactVersion:
		return tc.Intersect(c)
	case rangeConstraint:
		lo := c.lo
		if tc.lo != nil && (lo == nil || tc.lo.Compare(*lo) > 0) {
			lo = tc.lo
		}
		return VersionRange(lo, tighterUpper(c.hi, tc.hi))
	case unionConstraint:
		return tc.Intersect(c)
	}
	return none
}

// tighterUpper picks the more restrictive of two upper bounds under
// family semantics. A bound that extends the other as a component
// prefix admits strictly fewer versions (:3.6 sits inside :3), so the
// extension wins; otherwise the lower bound value does.
func tighterUpper(a, b *Version) *Version {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.HasPrefix(*a) {
		return b
	}
	if a.HasPrefix(*b) {
		return a
	}
	if b.Compare(*a) < 0 {
		return b
	}
	return a
}

// unionConstraint is a comma union of exacts and ranges.
type unionConstraint []Constraint

func (c unionConstraint) String() string {
	parts := make([]string, 0, len(c))
	for _, m := range c {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ",")
}

func (c unionConstraint) Matches(v Version) bool {
	for _, m := range c {
		if m.Matches(v) {
			return true
		}
	}
	return false
}

func (c unionConstraint) MatchesAny(c2 Constraint) bool {
	return !IsEmpty(c.Intersect(c2))
}

func (c unionConstraint) Intersect(c2 Constraint) Constraint {
	switch c2.(type) {
	case nil:
		return c
	case anyConstraint:
		return c
	case noneConstraint:
		return none
	}

	var out []Constraint
	for _, m := range c {
		if r := m.Intersect(c2); !IsEmpty(r) {
			if u, ok := r.(unionConstraint); ok {
				out = append(out, u...)
			} else {
				out = append(out, r)
			}
		}
	}
	switch len(out) {
	case 0:
		return none
	case 1:
		return out[0]
	}
	return unionConstraint(out)
}

type anyConstraint struct{}

func (anyConstraint) String() string {
	return ":"
}

func (anyConstraint) Matches(Version) bool {
	return true
}

func (anyConstraint) MatchesAny(c Constraint) bool {
	return !IsEmpty(c)
}

func (anyConstraint) Intersect(c Constraint) Constraint {
	if c == nil {
		return anyc
	}
	return c
}

type noneConstraint struct{}

func (noneConstraint) String() string {
	return "<none>"
}

func (noneConstraint) Matches(Version) bool {
	return false
}

func (noneConstraint) MatchesAny(Constraint) bool {
	return false
}

func (noneConstraint) Intersect(Constraint) Constraint {
	return none
}

// intersectConstraints folds Intersect over cs, treating nil members as
// unconstrained.
func intersectConstraints(cs ...Constraint) Constraint {
	var out Constraint = anyc
	for _, c := range cs {
		if c == nil {
			continue
		}
		out = out.Intersect(c)
		if IsEmpty(out) {
			return none
		}
	}
	return out
}

// constraintRequests reports whether c names v outright: an exact pin,
// the bare-version family form whose sole bound is v, or a union
// carrying either. The solver withholds infinity and deprecated
// versions from ordinary selection; naming the version in a request is
// the way to reach them.
func constraintRequests(c Constraint, v Version) bool {
	switch cc := c.(type) {
	case exactVersion:
		return cc.v.Equal(v)
	case rangeConstraint:
		return cc.lo != nil && cc.hi != nil && cc.lo.Equal(*cc.hi) && cc.lo.Equal(v)
	case unionConstraint:
		for _, m := range cc {
			if constraintRequests(m, v) {
				return true
			}
		}
	}
	return false
}
