package crucible

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Registry is the pull-based, read-only source of package directive
// sets. Implementations hold pre-loaded static data for the duration
// of one solve and perform no filesystem or network I/O as seen by the
// core.
type Registry interface {
	// Directives returns the full directive set for a package.
	Directives(name PackageName) (*PackageDirectives, error)
	// Providers lists the packages declaring a provides directive for
	// the virtual, in deterministic order.
	Providers(virtual PackageName) []PackageName
	// Exists reports whether a package definition is present.
	Exists(name PackageName) bool
	// IsVirtual reports whether the name refers to a virtual interface
	// rather than a package.
	IsVirtual(name PackageName) bool
}

// ErrUnknownPackage is returned by registries for undeclared packages.
type ErrUnknownPackage struct {
	Name PackageName
}

func (e *ErrUnknownPackage) Error() string {
	return "no package definition for " + string(e.Name)
}

// MemRegistry is a Registry over an in-memory directive index.
type MemRegistry struct {
	pkgs      map[PackageName]*PackageDirectives
	providers map[PackageName][]PackageName
	refs      map[PackageName]map[string]refInfo
}

type refInfo struct {
	ancestor Version
	distance int
}

// NewMemRegistry builds a registry from directive sets. Provider
// tables are derived once, up front.
func NewMemRegistry(pkgs ...*PackageDirectives) *MemRegistry {
	r := &MemRegistry{
		pkgs:      make(map[PackageName]*PackageDirectives, len(pkgs)),
		providers: make(map[PackageName][]PackageName),
		refs:      make(map[PackageName]map[string]refInfo),
	}
	for _, pd := range pkgs {
		r.Add(pd)
	}
	return r
}

// Add inserts or replaces a package's directive set.
func (r *MemRegistry) Add(pd *PackageDirectives) {
	r.pkgs[pd.Name] = pd
	r.reindex()
}

func (r *MemRegistry) reindex() {
	r.providers = make(map[PackageName][]PackageName)
	for name, pd := range r.pkgs {
		for _, p := range pd.Provides {
			r.providers[p.Virtual] = append(r.providers[p.Virtual], name)
		}
	}
	for v := range r.providers {
		sort.Slice(r.providers[v], func(i, j int) bool {
			return r.providers[v][i] < r.providers[v][j]
		})
	}
}

// SetRef records nearest-ancestor-tag data for a VCS reference, making
// the registry usable as a RefResolver.
func (r *MemRegistry) SetRef(pkg PackageName, ref string, ancestor Version, distance int) {
	if r.refs[pkg] == nil {
		r.refs[pkg] = make(map[string]refInfo)
	}
	r.refs[pkg][ref] = refInfo{ancestor: ancestor, distance: distance}
}

// ResolveRef implements RefResolver from the recorded ref table.
func (r *MemRegistry) ResolveRef(pkg PackageName, ref string) (Version, int, error) {
	if ri, has := r.refs[pkg][ref]; has {
		return ri.ancestor, ri.distance, nil
	}
	return Version{}, 0, errors.Errorf("no ancestor tag recorded for %s ref %q", pkg, ref)
}

func (r *MemRegistry) Directives(name PackageName) (*PackageDirectives, error) {
	if pd, has := r.pkgs[name]; has {
		return pd, nil
	}
	return nil, &ErrUnknownPackage{Name: name}
}

func (r *MemRegistry) Providers(virtual PackageName) []PackageName {
	return r.providers[virtual]
}

func (r *MemRegistry) Exists(name PackageName) bool {
	_, has := r.pkgs[name]
	return has
}

func (r *MemRegistry) IsVirtual(name PackageName) bool {
	_, isPkg := r.pkgs[name]
	_, provided := r.providers[name]
	return !isPkg && provided
}

// YAML index schema. The index is the declarative output of the
// package-definition parser; decoding it is pure data transformation
// over pre-loaded bytes.

type registryIndexYAML struct {
	Packages map[string]packageYAML `yaml:"packages"`
}

type packageYAML struct {
	Recipe       string            `yaml:"recipe"`
	Versions     []versionYAML     `yaml:"versions"`
	Variants     []variantYAML     `yaml:"variants"`
	Dependencies []dependencyYAML  `yaml:"dependencies"`
	Provides     []providesYAML    `yaml:"provides"`
	Conflicts    []conflictYAML    `yaml:"conflicts"`
	Requirements []requirementYAML `yaml:"requirements"`
	Patches      []patchYAML       `yaml:"patches"`
}

// versionYAML accepts either a bare scalar version or a mapping with
// flags.
type versionYAML struct {
	Version    string `yaml:"version"`
	Preferred  bool   `yaml:"preferred"`
	Deprecated bool   `yaml:"deprecated"`
}

func (v *versionYAML) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&v.Version)
	}
	type plain versionYAML
	return node.Decode((*plain)(v))
}

type variantYAML struct {
	Name         string     `yaml:"name"`
	Kind         string     `yaml:"kind"`
	Values       []string   `yaml:"values"`
	ValueWhens   []string   `yaml:"value_whens"`
	Multiplicity string     `yaml:"multiplicity"`
	Groups       [][]string `yaml:"groups"`
	Default      string     `yaml:"default"`
	Sticky       bool       `yaml:"sticky"`
	When         string     `yaml:"when"`
}

type dependencyYAML struct {
	Spec      string   `yaml:"spec"`
	Types     string   `yaml:"types"`
	When      string   `yaml:"when"`
	Propagate []string `yaml:"propagate"`
}

type providesYAML struct {
	Virtual  string `yaml:"virtual"`
	Versions string `yaml:"versions"`
	When     string `yaml:"when"`
	Joint    string `yaml:"joint"`
}

type conflictYAML struct {
	Pattern string `yaml:"pattern"`
	When    string `yaml:"when"`
	Message string `yaml:"message"`
}

type requirementYAML struct {
	Specs   []string `yaml:"specs"`
	Policy  string   `yaml:"policy"`
	When    string   `yaml:"when"`
	Message string   `yaml:"message"`
}

type patchYAML struct {
	ID   string `yaml:"id"`
	When string `yaml:"when"`
}

// DecodeRegistry builds a MemRegistry from a YAML package index held
// in memory.
func DecodeRegistry(data []byte) (*MemRegistry, error) {
	var idx registryIndexYAML
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, errors.Wrap(err, "decoding registry index")
	}

	reg := NewMemRegistry()
	for name, py := range idx.Packages {
		pd, err := decodePackage(PackageName(name), py)
		if err != nil {
			return nil, errors.Wrapf(err, "package %s", name)
		}
		reg.pkgs[pd.Name] = pd
	}
	reg.reindex()
	return reg, nil
}

func decodePackage(name PackageName, py packageYAML) (*PackageDirectives, error) {
	pd := &PackageDirectives{Name: name, Recipe: py.Recipe}

	for _, vy := range py.Versions {
		v, err := ParseVersion(vy.Version)
		if err != nil {
			return nil, err
		}
		pd.Versions = append(pd.Versions, VersionDecl{
			Version:    v,
			Preferred:  vy.Preferred,
			Deprecated: vy.Deprecated,
		})
	}

	for _, vy := range py.Variants {
		vd, err := decodeVariant(vy)
		if err != nil {
			return nil, errors.Wrapf(err, "variant %s", vy.Name)
		}
		pd.Variants = append(pd.Variants, vd)
	}

	for _, dy := range py.Dependencies {
		ds, err := ParseSpec(dy.Spec)
		if err != nil {
			return nil, err
		}
		dt, err := ParseDepType(dy.Types)
		if err != nil {
			return nil, err
		}
		when, err := decodeWhen(dy.When)
		if err != nil {
			return nil, err
		}
		pd.Dependencies = append(pd.Dependencies, DependencyDirective{
			Spec:      ds,
			Types:     dt,
			When:      when,
			Propagate: dy.Propagate,
		})
	}

	for _, pvy := range py.Provides {
		var c Constraint
		if pvy.Versions != "" {
			var err error
			c, err = ParseConstraint(pvy.Versions)
			if err != nil {
				return nil, err
			}
		}
		when, err := decodeWhen(pvy.When)
		if err != nil {
			return nil, err
		}
		pd.Provides = append(pd.Provides, ProvidesDirective{
			Virtual:    PackageName(pvy.Virtual),
			Constraint: c,
			When:       when,
			JointGroup: pvy.Joint,
		})
	}

	for _, cy := range py.Conflicts {
		pat, err := parsePattern(cy.Pattern)
		if err != nil {
			return nil, err
		}
		when, err := decodeWhen(cy.When)
		if err != nil {
			return nil, err
		}
		pd.Conflicts = append(pd.Conflicts, ConflictDirective{
			Pattern: pat,
			When:    when,
			Message: cy.Message,
		})
	}

	for _, ry := range py.Requirements {
		var pats []*Spec
		for _, s := range ry.Specs {
			pat, err := parsePattern(s)
			if err != nil {
				return nil, err
			}
			pats = append(pats, pat)
		}
		var pol RequirementPolicy
		switch ry.Policy {
		case "", "any_of":
			pol = RequireAnyOf
		case "one_of":
			pol = RequireOneOf
		default:
			return nil, errors.Errorf("unknown requirement policy %q", ry.Policy)
		}
		when, err := decodeWhen(ry.When)
		if err != nil {
			return nil, err
		}
		pd.Requirements = append(pd.Requirements, RequirementDirective{
			Patterns: pats,
			Policy:   pol,
			When:     when,
			Message:  ry.Message,
		})
	}

	for _, py := range py.Patches {
		when, err := decodeWhen(py.When)
		if err != nil {
			return nil, err
		}
		pd.Patches = append(pd.Patches, PatchDirective{ID: py.ID, When: when})
	}

	return pd, nil
}

func decodeVariant(vy variantYAML) (VariantDefinition, error) {
	vd := VariantDefinition{Name: vy.Name, Sticky: vy.Sticky, Groups: vy.Groups}

	switch vy.Kind {
	case "", "bool":
		vd.Kind = VariantBool
	case "single":
		vd.Kind = VariantSingle
	case "multi":
		vd.Kind = VariantMulti
	default:
		return vd, errors.Errorf("unknown variant kind %q", vy.Kind)
	}

	switch vy.Multiplicity {
	case "", "one":
		vd.Multi = MultiplicityNone
	case "any":
		vd.Multi = MultiplicityAnyCombination
	case "disjoint":
		vd.Multi = MultiplicityDisjointSets
	default:
		return vd, errors.Errorf("unknown multiplicity %q", vy.Multiplicity)
	}

	for i, val := range vy.Values {
		dv := DeclaredValue{Value: val}
		if i < len(vy.ValueWhens) && vy.ValueWhens[i] != "" {
			w, err := ParseWhen(vy.ValueWhens[i])
			if err != nil {
				return vd, err
			}
			dv.When = w
		}
		vd.Values = append(vd.Values, dv)
	}

	if vy.Default != "" {
		switch vd.Kind {
		case VariantBool:
			vd.Default = BoolValue(vy.Default == "true")
		case VariantSingle:
			vd.Default = SingleValue(vy.Default)
		case VariantMulti:
			vd.Default = MultiValue(splitComma(vy.Default)...)
		}
	} else if vd.Kind == VariantBool {
		vd.Default = BoolValue(false)
	}

	if vy.When != "" {
		w, err := ParseWhen(vy.When)
		if err != nil {
			return vd, err
		}
		vd.When = w
	}
	return vd, nil
}

func decodeWhen(s string) (WhenClause, error) {
	if s == "" {
		return nil, nil
	}
	return ParseWhen(s)
}

// parsePattern parses a conflict/requirement pattern, which may be
// anonymous ("+cuda+rocm") or name a package ("mpich@3:").
func parsePattern(s string) (*Spec, error) {
	if s == "" {
		return nil, errors.New("empty pattern")
	}
	switch s[0] {
	case '@', '+', '~', '%':
		return ParseAnonymousSpec(s)
	}
	return ParseSpec(s)
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
