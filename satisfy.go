package crucible

import (
	"github.com/pkg/errors"
)

// satisfiable checks a candidate atom against the whole current solver
// state. Checks run exhaustively and every violation is collected, so
// a rejection explains everything wrong with the candidate rather than
// the first thing found.
func (s *solver) satisfiable(a atom, ref PackageName) error {
	var fails []error

	fails = append(fails, s.checkVersionAllowed(a, ref)...)
	fails = append(fails, s.checkVariantAsserts(a, ref)...)
	fails = append(fails, s.checkVariantValidity(a)...)
	fails = append(fails, s.checkArchAsserts(a, ref)...)
	fails = append(fails, s.checkConflicts(a)...)
	fails = append(fails, s.checkRequirements(a)...)
	fails = append(fails, s.checkNodeUnification(a, ref)...)
	fails = append(fails, s.checkProviderUnification(a)...)
	fails = append(fails, s.checkDepConstraints(a)...)

	if len(fails) == 0 {
		return nil
	}
	return &atomFailure{goal: a, fails: fails}
}

// checkVersionAllowed verifies the candidate's version against every
// depender constraint, on the selecting reference and on the package
// name itself when they differ.
func (s *solver) checkVersionAllowed(a atom, ref PackageName) []error {
	deps := s.sel.getDependenciesOn(ref)
	if ref != a.Name {
		deps = append(deps, s.sel.getDependenciesOn(a.Name)...)
	}

	var failparent []dependency
	for _, d := range deps {
		if d.dep.Spec == nil || d.dep.Spec.Version == nil {
			continue
		}
		// constraints on a virtual bind the provided virtual's
		// version, checked during provider expansion, not the
		// provider's own version
		if d.ref != a.Name && s.params.Registry.IsVirtual(baseRef(d.ref)) {
			continue
		}
		if !a.Version.Satisfies(d.dep.Spec.Version) {
			failparent = append(failparent, d)
		}
	}
	if len(failparent) == 0 {
		return nil
	}
	return []error{&versionNotAllowedFailure{
		goal:       a,
		failparent: failparent,
		c:          s.sel.getConstraint(ref),
	}}
}

func baseRef(ref PackageName) PackageName {
	v, _, scoped := splitLangRef(ref)
	if scoped {
		return v
	}
	return ref
}

// checkVariantAsserts verifies every depender-asserted variant value
// against the candidate's committed assignment. Asserting a value for
// a variant that does not exist prunes the candidate; assertions are
// never silently dropped.
func (s *solver) checkVariantAsserts(a atom, ref PackageName) []error {
	pd, err := s.directives(a.Name)
	if err != nil {
		return []error{err}
	}

	deps := s.sel.getDependenciesOn(ref)
	if ref != a.Name {
		deps = append(deps, s.sel.getDependenciesOn(a.Name)...)
	}

	var fails []error
	for _, d := range deps {
		if d.dep.Spec == nil {
			continue
		}
		for _, name := range sortedVariantNames(d.dep.Spec.Variants) {
			want := d.dep.Spec.Variants[name]
			def := pd.Variant(name)
			if def == nil || (def.When != nil && def.When.Eval(a) == TriFalse) {
				fails = append(fails, &missingVariantFailure{goal: a, variant: name})
				continue
			}
			got, has := a.Variants[name]
			if !has || !matchVariantValue(got, want) {
				fails = append(fails, &variantFailure{
					goal: a,
					err: &VariantValidationError{
						Pkg:     a.Name,
						Variant: name,
						Value:   got,
						Prob:    "committed value does not satisfy " + want.Render(name) + " requested by " + string(d.depender.Name),
					},
				})
			}
		}
	}
	return fails
}

// checkVariantValidity validates the candidate's committed assignment
// against the variant definitions themselves.
func (s *solver) checkVariantValidity(a atom) []error {
	pd, err := s.directives(a.Name)
	if err != nil {
		return []error{err}
	}

	var fails []error
	for _, name := range sortedVariantNames(a.Variants) {
		def := pd.Variant(name)
		if def == nil {
			fails = append(fails, &missingVariantFailure{goal: a, variant: name})
			continue
		}
		if err := def.Validate(a.Name, a.Variants[name], a); err != nil {
			ve := err.(*VariantValidationError)
			fails = append(fails, &variantFailure{goal: a, err: ve})
		}
	}
	return fails
}

// checkArchAsserts verifies depender arch constraints against the
// candidate's architecture.
func (s *solver) checkArchAsserts(a atom, ref PackageName) []error {
	deps := s.sel.getDependenciesOn(ref)
	if ref != a.Name {
		deps = append(deps, s.sel.getDependenciesOn(a.Name)...)
	}

	var fails []error
	for _, d := range deps {
		if d.dep.Spec == nil || d.dep.Spec.Arch == nil {
			continue
		}
		want := d.dep.Spec.Arch
		cl := archClause{platform: want.Platform, os: want.OS, target: want.Target}
		if cl.Eval(a) == TriFalse {
			fails = append(fails, errors.Errorf(
				"could not use %s: architecture %s does not satisfy %s from %s",
				a, a.Arch, want, d.depender.Name))
		}
	}
	return fails
}

// checkConflicts evaluates package and configuration conflict
// directives against the candidate. Undecided predicates (conditioned
// on providers not yet bound) defer to final validation.
func (s *solver) checkConflicts(a atom) []error {
	pd, err := s.directives(a.Name)
	if err != nil {
		return []error{err}
	}
	rules := s.rulesFor(a.Name)

	var fails []error
	check := func(cds []ConflictDirective) {
		for _, cd := range cds {
			if cd.When != nil && cd.When.Eval(a) != TriTrue {
				continue
			}
			if cd.Pattern != nil && WhenSpec(cd.Pattern).Eval(a) != TriTrue {
				continue
			}
			fails = append(fails, &conflictFailure{goal: a, pattern: cd.Pattern, message: cd.Message})
		}
	}
	check(pd.Conflicts)
	check(rules.Conflicts)
	return fails
}

// checkRequirements evaluates package and configuration requirement
// groups under their policies. A group with any undecided pattern
// defers to final validation rather than failing early.
func (s *solver) checkRequirements(a atom) []error {
	pd, err := s.directives(a.Name)
	if err != nil {
		return []error{err}
	}
	rules := s.rulesFor(a.Name)

	var fails []error
	check := func(rds []RequirementDirective) {
		for _, rd := range rds {
			if rd.When != nil && rd.When.Eval(a) != TriTrue {
				continue
			}
			matched, undecided := 0, 0
			for _, p := range rd.Patterns {
				switch WhenSpec(p).Eval(a) {
				case TriTrue:
					matched++
				case TriUndecided:
					undecided++
				}
			}
			switch rd.Policy {
			case RequireAnyOf:
				if matched == 0 && undecided == 0 {
					fails = append(fails, &requirementFailure{goal: a, req: rd, matched: matched})
				}
			case RequireOneOf:
				if matched > 1 || (matched == 0 && undecided == 0) {
					fails = append(fails, &requirementFailure{goal: a, req: rd, matched: matched})
				}
			}
		}
	}
	check(pd.Requirements)
	check(rules.Requirements)
	return fails
}

// checkNodeUnification enforces one configuration per package name
// across the whole selection: a candidate whose name is already
// selected (under another reference) must be identical to the selected
// configuration.
func (s *solver) checkNodeUnification(a atom, ref PackageName) []error {
	for _, sa := range s.sel.atoms {
		if sa.a.Name != a.Name || sa.ref == ref {
			continue
		}
		if !sa.a.Version.Equal(a.Version) {
			return []error{errors.Errorf(
				"could not use %s: %s is already selected at version %s",
				a, a.Name, sa.a.Version)}
		}
		if !variantsEqual(sa.a.Variants, a.Variants) {
			return []error{errors.Errorf(
				"could not use %s: %s is already selected with a different variant assignment",
				a, a.Name)}
		}
	}
	return nil
}

// checkProviderUnification enforces one provider per virtual across
// the graph. Language virtuals are exempt; their references are scoped
// per depender precisely so different nodes may bind different
// compilers.
func (s *solver) checkProviderUnification(a atom) []error {
	var fails []error
	for _, v := range a.provides {
		if isLanguageVirtual(v) {
			continue
		}
		if prior, has := s.sel.selected(v); has && prior.Name != a.Name {
			fails = append(fails, errors.Errorf(
				"could not use %s: virtual %s is already provided by %s",
				a, v, prior.Name))
		}
	}
	return fails
}

func variantsEqual(x, y map[string]VariantValue) bool {
	if len(x) != len(y) {
		return false
	}
	for k, v := range x {
		if o, has := y[k]; !has || !v.Equal(o) {
			return false
		}
	}
	return true
}

// checkDepConstraints forward-checks the dependencies the candidate
// would introduce: each must not reject an already-selected target,
// and must overlap the constraints its siblings already impose.
func (s *solver) checkDepConstraints(a atom) []error {
	var fails []error
	for _, d := range s.dependenciesOf(a) {
		if d.dep.Spec == nil {
			continue
		}

		if sel, has := s.sel.selected(d.ref); has {
			if d.dep.Spec.Version != nil &&
				!s.params.Registry.IsVirtual(baseRef(d.ref)) &&
				!sel.Version.Satisfies(d.dep.Spec.Version) {
				fails = append(fails, &constraintNotAllowedFailure{goal: d, v: sel.Version})
			}
			for _, name := range sortedVariantNames(d.dep.Spec.Variants) {
				want := d.dep.Spec.Variants[name]
				if got, has := sel.Variants[name]; !has || !matchVariantValue(got, want) {
					fails = append(fails, &variantFailure{
						goal: a,
						err: &VariantValidationError{
							Pkg:     sel.Name,
							Variant: name,
							Value:   got,
							Prob:    "already-selected configuration does not satisfy " + want.Render(name),
						},
					})
				}
			}
			continue
		}

		if d.dep.Spec.Version == nil {
			continue
		}
		c := d.dep.Spec.Version

		sibs := s.sel.getDependenciesOn(d.ref)
		var failsib, nofailsib []dependency
		for _, sib := range sibs {
			if sib.dep.Spec == nil || sib.dep.Spec.Version == nil {
				continue
			}
			if IsEmpty(c.Intersect(sib.dep.Spec.Version)) {
				failsib = append(failsib, sib)
			} else {
				nofailsib = append(nofailsib, sib)
			}
		}
		if len(failsib) > 0 {
			fails = append(fails, &disjointConstraintFailure{
				goal:      d,
				failsib:   failsib,
				nofailsib: nofailsib,
				c:         c,
			})
		}
	}
	return fails
}
