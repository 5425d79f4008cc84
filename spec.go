package crucible

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// PackageName identifies a package, or a virtual interface a package
// may provide.
type PackageName string

// Arch is the architecture triplet committed on every concrete node.
type Arch struct {
	Platform string `yaml:"platform"`
	OS       string `yaml:"os"`
	Target   string `yaml:"target"`
}

func (a Arch) String() string {
	return a.Platform + "-" + a.OS + "-" + a.Target
}

// IsComplete reports whether all three fields are committed.
func (a Arch) IsComplete() bool {
	return a.Platform != "" && a.OS != "" && a.Target != ""
}

// CompilerSpec is a compiler binding request: %name[@constraint].
type CompilerSpec struct {
	Name    PackageName
	Version Constraint
}

func (c CompilerSpec) String() string {
	if c.Version == nil || IsAny(c.Version) {
		return "%" + string(c.Name)
	}
	return "%" + string(c.Name) + "@" + c.Version.String()
}

// DepType tags a dependency edge. Test edges are excluded from hash
// identity.
type DepType uint8

const (
	DepBuild DepType = 1 << iota
	DepLink
	DepRun
	DepTest
)

// DepDefault is the edge type used when a directive names none.
const DepDefault = DepBuild | DepLink

func (t DepType) String() string {
	var parts []string
	if t&DepBuild != 0 {
		parts = append(parts, "build")
	}
	if t&DepLink != 0 {
		parts = append(parts, "link")
	}
	if t&DepRun != 0 {
		parts = append(parts, "run")
	}
	if t&DepTest != 0 {
		parts = append(parts, "test")
	}
	return strings.Join(parts, ",")
}

// ParseDepType parses a comma list of build/link/run/test.
func ParseDepType(s string) (DepType, error) {
	var t DepType
	for _, p := range strings.Split(s, ",") {
		switch strings.TrimSpace(p) {
		case "build":
			t |= DepBuild
		case "link":
			t |= DepLink
		case "run":
			t |= DepRun
		case "test":
			t |= DepTest
		case "":
		default:
			return 0, errors.Errorf("unknown dependency type %q", p)
		}
	}
	if t == 0 {
		t = DepDefault
	}
	return t, nil
}

// Spec is an abstract, partially constrained package request. No value
// is committed; every field other than Name may be absent.
type Spec struct {
	Name     PackageName
	Version  Constraint
	Variants map[string]VariantValue
	Compiler *CompilerSpec
	Arch     *Arch
	// Deps holds recursive sub-constraints on dependencies (the ^
	// grammar form).
	Deps []*Spec
	// HashRef is a (possibly partial) content-hash reference to a
	// known concrete spec; when set, all other fields are empty.
	HashRef string
}

// NewSpec returns an unconstrained abstract spec for a package.
func NewSpec(name PackageName) *Spec {
	return &Spec{Name: name}
}

// SetVariant records a variant constraint on the abstract spec.
func (s *Spec) SetVariant(name string, v VariantValue) *Spec {
	if s.Variants == nil {
		s.Variants = make(map[string]VariantValue)
	}
	s.Variants[name] = v
	return s
}

// ConstrainVersion intersects the spec's version constraint with c.
func (s *Spec) ConstrainVersion(c Constraint) *Spec {
	s.Version = intersectConstraints(s.Version, c)
	return s
}

// DepOn returns the sub-constraint on the named dependency, if any.
func (s *Spec) DepOn(name PackageName) *Spec {
	for _, d := range s.Deps {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (s *Spec) String() string {
	if s == nil {
		return ""
	}
	if s.HashRef != "" {
		return "/" + s.HashRef
	}

	var b strings.Builder
	b.WriteString(string(s.Name))
	if s.Version != nil && !IsAny(s.Version) {
		b.WriteString("@" + s.Version.String())
	}
	for _, name := range sortedVariantNames(s.Variants) {
		b.WriteString(" " + s.Variants[name].Render(name))
	}
	if s.Compiler != nil {
		b.WriteString(" " + s.Compiler.String())
	}
	if s.Arch != nil {
		b.WriteString(" arch=" + s.Arch.String())
	}
	for _, d := range s.Deps {
		b.WriteString(" ^" + d.String())
	}
	return strings.TrimSpace(b.String())
}

func sortedVariantNames(m map[string]VariantValue) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Edge is a typed dependency edge of a concrete node, carrying the
// virtuals the target was selected to provide along it.
type Edge struct {
	To       *ConcreteSpec
	Types    DepType
	Virtuals []PackageName
}

// ConcreteSpec is a fully determined package instance: one version,
// a complete variant assignment, one provider per required language,
// an architecture triplet, and typed edges to other concrete nodes.
type ConcreteSpec struct {
	Name      PackageName
	Version   Version
	Variants  map[string]VariantValue
	Providers map[string]PackageName
	// Flags holds per-language compiler flags contributed by toolchain
	// expansion.
	Flags map[string]string
	Arch  Arch
	Edges []Edge

	// Recipe is the content fingerprint of the package definition;
	// Patches lists applied patch identifiers. Both feed the hash.
	Recipe  string
	Patches []string

	hash   string
	frozen bool
}

// AttrView over a concrete node: everything is committed.

func (c *ConcreteSpec) AttrName() PackageName { return c.Name }

func (c *ConcreteSpec) AttrVersion() (Version, bool) { return c.Version, true }

func (c *ConcreteSpec) AttrVariant(name string) (VariantValue, bool) {
	v, has := c.Variants[name]
	if !has {
		// absent variants are definitively absent on a concrete node
		return VariantValue{}, true
	}
	return v, true
}

func (c *ConcreteSpec) AttrProvider(lang string) (PackageName, bool) {
	return c.Providers[lang], true
}

func (c *ConcreteSpec) AttrArch() (Arch, bool) { return c.Arch, true }

// DepByName returns the edge target with the given package name, if
// reachable directly.
func (c *ConcreteSpec) DepByName(name PackageName) *ConcreteSpec {
	for _, e := range c.Edges {
		if e.To.Name == name {
			return e.To
		}
	}
	return nil
}

func (c *ConcreteSpec) String() string {
	var b strings.Builder
	b.WriteString(string(c.Name))
	b.WriteString("@" + c.Version.String())
	for _, name := range sortedVariantNames(c.Variants) {
		b.WriteString(" " + c.Variants[name].Render(name))
	}
	for _, lang := range sortedKeys(c.Providers) {
		b.WriteString(fmt.Sprintf(" %%%s=%s", lang, c.Providers[lang]))
	}
	if c.Arch.IsComplete() {
		b.WriteString(" arch=" + c.Arch.String())
	}
	return b.String()
}

func sortedKeys(m map[string]PackageName) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Walk visits every node reachable from c exactly once, parents before
// children, in deterministic edge order.
func (c *ConcreteSpec) Walk(fn func(*ConcreteSpec)) {
	seen := make(map[*ConcreteSpec]struct{})
	var visit func(n *ConcreteSpec)
	visit = func(n *ConcreteSpec) {
		if _, has := seen[n]; has {
			return
		}
		seen[n] = struct{}{}
		fn(n)
		for _, e := range n.Edges {
			visit(e.To)
		}
	}
	visit(c)
}

// Satisfies reports whether the concrete node meets every constraint
// the abstract spec carries (name, version, variants, compiler, arch).
// Dependency sub-constraints are checked against reachable nodes.
func (c *ConcreteSpec) Satisfies(s *Spec) bool {
	if s == nil {
		return true
	}
	if s.Name != "" && s.Name != c.Name {
		return false
	}
	if s.Version != nil && !s.Version.Matches(c.Version) {
		return false
	}
	for name, want := range s.Variants {
		got, has := c.Variants[name]
		if !has || !matchVariantValue(got, want) {
			return false
		}
	}
	if s.Compiler != nil {
		if compilerBindingTristate(s.Compiler, c) != TriTrue {
			return false
		}
	}
	if s.Arch != nil {
		if s.Arch.Platform != "" && s.Arch.Platform != c.Arch.Platform {
			return false
		}
		if s.Arch.OS != "" && s.Arch.OS != c.Arch.OS {
			return false
		}
		if s.Arch.Target != "" && s.Arch.Target != c.Arch.Target {
			return false
		}
	}
	for _, ds := range s.Deps {
		dep := c.findReachable(ds.Name)
		if dep == nil || !dep.Satisfies(ds) {
			return false
		}
	}
	return true
}

func matchVariantValue(got, want VariantValue) bool {
	if got.Equal(want) {
		return true
	}
	// multi-valued: a request for a subset is satisfied by a superset
	if !want.IsBool() && len(got.List()) > len(want.List()) {
		for _, w := range want.List() {
			if !got.Contains(w) {
				return false
			}
		}
		return true
	}
	return false
}

func (c *ConcreteSpec) findReachable(name PackageName) *ConcreteSpec {
	var found *ConcreteSpec
	c.Walk(func(n *ConcreteSpec) {
		if found == nil && n.Name == name {
			found = n
		}
	})
	return found
}

// freeze marks the whole DAG immutable and precomputes hashes. Any
// later mutation attempt through checked paths panics.
func (c *ConcreteSpec) freeze() {
	c.Walk(func(n *ConcreteSpec) {
		n.frozen = true
	})
}

// IsFrozen reports whether the node has been finalized by a solve.
func (c *ConcreteSpec) IsFrozen() bool {
	return c.frozen
}

// validateDAG enforces the concrete-DAG invariants: acyclicity, the
// one-configuration-per-package rule, complete variant assignment, and
// complete architecture.
func validateDAG(root *ConcreteSpec) error {
	byName := make(map[PackageName]*ConcreteSpec)

	// cycle check via colored DFS
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[*ConcreteSpec]int)
	var visit func(n *ConcreteSpec) error
	visit = func(n *ConcreteSpec) error {
		switch color[n] {
		case grey:
			return errors.Errorf("dependency cycle through %s", n.Name)
		case black:
			return nil
		}
		color[n] = grey

		if prior, has := byName[n.Name]; has && prior != n {
			return &DependencyConsistencyError{
				Package: n.Name,
				First:   prior.String(),
				Second:  n.String(),
				Message: "two configurations of one package reachable in a single graph",
			}
		}
		byName[n.Name] = n

		if !n.Arch.IsComplete() {
			return errors.Errorf("node %s has incomplete architecture %q", n.Name, n.Arch)
		}
		for name, v := range n.Variants {
			if !v.IsSet() {
				return errors.Errorf("node %s carries unset variant %q", n.Name, name)
			}
		}

		for _, e := range n.Edges {
			if err := visit(e.To); err != nil {
				return err
			}
		}
		color[n] = black
		return nil
	}
	return visit(root)
}
