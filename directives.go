package crucible

// Declarative directive records, as produced by the registry's index
// parser. Each record carries an unevaluated when-predicate; a
// directive whose predicate is false against the final committed
// attributes is absent, not merely off.

// VersionDecl declares one version of a package.
type VersionDecl struct {
	Version   Version
	Preferred bool
	// Deprecated versions are never auto-selected; only an explicit
	// requirement can reach them.
	Deprecated bool
}

// DependencyDirective declares a dependency on a package or virtual.
// Target constraints (version, variants, compiler) live on Spec.
type DependencyDirective struct {
	Spec  *Spec
	Types DepType
	When  WhenClause
	// Propagate lists variant names whose committed value on the
	// depender is forced onto the dependency.
	Propagate []string
}

// ProvidesDirective declares that a package satisfies a virtual.
type ProvidesDirective struct {
	Virtual    PackageName
	Constraint Constraint
	When       WhenClause
	// JointGroup tags virtuals that must be provided together: a
	// package providing a strict subset of a group is disqualified as
	// a provider for any member of it.
	JointGroup string
}

// ConflictDirective forbids configurations matching Pattern whenever
// When holds.
type ConflictDirective struct {
	Pattern *Spec
	When    WhenClause
	Message string
}

// RequirementPolicy selects how a requirement group is judged.
type RequirementPolicy uint8

const (
	// RequireAnyOf is satisfied when at least one pattern matches.
	RequireAnyOf RequirementPolicy = iota
	// RequireOneOf is satisfied when exactly one pattern matches.
	RequireOneOf
)

func (p RequirementPolicy) String() string {
	if p == RequireOneOf {
		return "one_of"
	}
	return "any_of"
}

// RequirementDirective imposes one or more patterns on a package under
// the given policy.
type RequirementDirective struct {
	Patterns []*Spec
	Policy   RequirementPolicy
	When     WhenClause
	Message  string
}

// PatchDirective records an applied patch; patch identity feeds the
// spec hash.
type PatchDirective struct {
	ID   string
	When WhenClause
}

// PackageDirectives is the full directive set for one package.
type PackageDirectives struct {
	Name         PackageName
	Versions     []VersionDecl
	Variants     []VariantDefinition
	Dependencies []DependencyDirective
	Provides     []ProvidesDirective
	Conflicts    []ConflictDirective
	Requirements []RequirementDirective
	Patches      []PatchDirective
	// Recipe is the content fingerprint of the package definition.
	Recipe string
}

// Variant returns the named variant definition, or nil.
func (pd *PackageDirectives) Variant(name string) *VariantDefinition {
	for i := range pd.Variants {
		if pd.Variants[i].Name == name {
			return &pd.Variants[i]
		}
	}
	return nil
}

// MergeDirectives flattens an inheritance chain of directive sets,
// base first. For records sharing a key, the last-defined non-when
// attributes win while when-predicates accumulate with logical OR.
func MergeDirectives(chain ...*PackageDirectives) *PackageDirectives {
	out := &PackageDirectives{}
	for _, pd := range chain {
		if pd == nil {
			continue
		}
		if pd.Name != "" {
			out.Name = pd.Name
		}
		if pd.Recipe != "" {
			out.Recipe = pd.Recipe
		}
		for _, v := range pd.Versions {
			mergeVersionDecl(out, v)
		}
		for _, v := range pd.Variants {
			mergeVariantDef(out, v)
		}
		for _, d := range pd.Dependencies {
			mergeDependency(out, d)
		}
		for _, p := range pd.Provides {
			mergeProvides(out, p)
		}
		out.Conflicts = append(out.Conflicts, pd.Conflicts...)
		out.Requirements = append(out.Requirements, pd.Requirements...)
		out.Patches = append(out.Patches, pd.Patches...)
	}
	return out
}

func mergeVersionDecl(out *PackageDirectives, v VersionDecl) {
	for i := range out.Versions {
		if out.Versions[i].Version.Equal(v.Version) {
			out.Versions[i] = v
			return
		}
	}
	out.Versions = append(out.Versions, v)
}

func mergeVariantDef(out *PackageDirectives, v VariantDefinition) {
	for i := range out.Variants {
		if out.Variants[i].Name == v.Name {
			when := orWhen(out.Variants[i].When, v.When)
			out.Variants[i] = v
			out.Variants[i].When = when
			return
		}
	}
	out.Variants = append(out.Variants, v)
}

func mergeDependency(out *PackageDirectives, d DependencyDirective) {
	key := d.Spec.String()
	for i := range out.Dependencies {
		if out.Dependencies[i].Spec.String() == key {
			when := orWhen(out.Dependencies[i].When, d.When)
			out.Dependencies[i] = d
			out.Dependencies[i].When = when
			return
		}
	}
	out.Dependencies = append(out.Dependencies, d)
}

func mergeProvides(out *PackageDirectives, p ProvidesDirective) {
	for i := range out.Provides {
		prior := out.Provides[i]
		if prior.Virtual != p.Virtual {
			continue
		}
		sameConstraint := (prior.Constraint == nil && p.Constraint == nil) ||
			(prior.Constraint != nil && p.Constraint != nil && prior.Constraint.String() == p.Constraint.String())
		if sameConstraint {
			when := orWhen(prior.When, p.When)
			out.Provides[i] = p
			out.Provides[i].When = when
			return
		}
	}
	out.Provides = append(out.Provides, p)
}

// orWhen combines two predicates with OR; a nil side means
// unconditional, which dominates.
func orWhen(a, b WhenClause) WhenClause {
	if a == nil || b == nil {
		return nil
	}
	return WhenAnyOf(a, b)
}
