package crucible

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
)

// assemble materializes the selection into frozen, hashed, validated
// concrete DAGs, one root per requested root spec, in request order.
// Hash-referenced roots pass through from the reuse snapshot.
func (s *solver) assemble() ([]*ConcreteSpec, error) {
	nodes := make(map[PackageName]*ConcreteSpec)
	order := make([]PackageName, 0, len(s.sel.atoms))

	for _, sa := range s.sel.atoms {
		if _, has := nodes[sa.a.Name]; has {
			continue
		}
		n, err := s.buildNode(sa.a)
		if err != nil {
			return nil, err
		}
		nodes[sa.a.Name] = n
		order = append(order, sa.a.Name)
	}

	for _, sa := range s.sel.atoms {
		if err := s.wireEdges(nodes[sa.a.Name], sa.a, nodes); err != nil {
			return nil, err
		}
	}

	for _, name := range order {
		if err := s.finalValidate(nodes[name]); err != nil {
			return nil, err
		}
	}

	roots := make([]*ConcreteSpec, 0, len(s.params.Roots))
	fixed := 0
	for _, r := range s.params.Roots {
		if r.HashRef != "" {
			roots = append(roots, s.fixed[fixed])
			fixed++
			continue
		}
		a, has := s.sel.selected(r.Name)
		if !has {
			return nil, &HashInvariantViolation{Node: r.Name, Prob: "root vanished from selection"}
		}
		root := nodes[a.Name]
		if err := validateDAG(root); err != nil {
			return nil, err
		}
		if !root.Satisfies(r) {
			return nil, &HashInvariantViolation{Node: r.Name, Prob: "assembled root does not satisfy its request"}
		}
		root.freeze()
		if err := stampHashes(root); err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return roots, nil
}

// buildNode turns a selected atom into an edge-less concrete node.
// Reused atoms rebuild from directives like any other; identical
// inputs hash identically, so reuse needs no special node sharing.
func (s *solver) buildNode(a atom) (*ConcreteSpec, error) {
	pd, err := s.directives(a.Name)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]VariantValue, len(a.Variants))
	for k, v := range a.Variants {
		vars[k] = v
	}
	n := &ConcreteSpec{
		Name:     a.Name,
		Version:  a.Version,
		Variants: vars,
		Arch:     a.Arch,
		Recipe:   pd.Recipe,
	}
	if a.reused != nil {
		// provider bindings and flags carry over
		for l, p := range a.reused.Providers {
			if n.Providers == nil {
				n.Providers = make(map[string]PackageName)
			}
			n.Providers[l] = p
		}
		for l, f := range a.reused.Flags {
			if n.Flags == nil {
				n.Flags = make(map[string]string)
			}
			n.Flags[l] = f
		}
	}
	return n, nil
}

// wireEdges attaches the atom's active dependencies as typed edges on
// its node, recording language-provider bindings and compiler flags
// as it goes. Edges to one target merge and come out sorted by target
// name.
func (s *solver) wireEdges(n *ConcreteSpec, a atom, nodes map[PackageName]*ConcreteSpec) error {
	if len(n.Edges) > 0 {
		// a second selection of the same package already wired it
		return nil
	}

	byTarget := make(map[PackageName]*Edge)
	for _, d := range s.dependenciesOf(a) {
		ta, has := s.sel.selected(d.ref)
		if !has {
			return &HashInvariantViolation{Node: n.Name, Prob: fmt.Sprintf("dependency %s vanished from selection", d.ref)}
		}
		target, has := nodes[ta.Name]
		if !has {
			return &HashInvariantViolation{Node: n.Name, Prob: fmt.Sprintf("no node assembled for %s", ta.Name)}
		}

		e, has := byTarget[ta.Name]
		if !has {
			e = &Edge{To: target}
			byTarget[ta.Name] = e
		}
		e.Types |= d.dep.Types

		virtual, _, scoped := splitLangRef(d.ref)
		if scoped || s.params.Registry.IsVirtual(d.ref) {
			base := d.ref
			if scoped {
				base = virtual
			}
			e.Virtuals = appendUnique(e.Virtuals, base)
		}
		if scoped {
			if n.Providers == nil {
				n.Providers = make(map[string]PackageName)
			}
			n.Providers[string(virtual)] = ta.Name
			if f := s.filterFor(virtual, a.Name); f != nil && f.flags != "" {
				if n.Flags == nil {
					n.Flags = make(map[string]string)
				}
				n.Flags[string(virtual)] = f.flags
			}
		}
	}

	if a.reused != nil {
		// virtual annotations survive from the original edges; the
		// re-derived dependencies are keyed by name alone
		for _, orig := range a.reused.Edges {
			if e, has := byTarget[orig.To.Name]; has {
				for _, v := range orig.Virtuals {
					e.Virtuals = appendUnique(e.Virtuals, v)
				}
			}
		}
	}

	targets := make([]PackageName, 0, len(byTarget))
	for t := range byTarget {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	for _, t := range targets {
		e := byTarget[t]
		sort.Slice(e.Virtuals, func(i, j int) bool { return e.Virtuals[i] < e.Virtuals[j] })
		n.Edges = append(n.Edges, *e)
	}
	return nil
}

// finalValidate re-runs every directive against the fully committed
// node. Predicates that were undecided during search (conditioned on
// provider bindings) now evaluate definitively.
func (s *solver) finalValidate(n *ConcreteSpec) error {
	pd, err := s.directives(n.Name)
	if err != nil {
		return err
	}
	rules := s.rulesFor(n.Name)

	agg := &UnsatisfiableConstraintError{Package: n.Name}

	checkConflicts := func(cds []ConflictDirective) {
		for _, cd := range cds {
			if cd.When != nil && cd.When.Eval(n) != TriTrue {
				continue
			}
			if cd.Pattern != nil && WhenSpec(cd.Pattern).Eval(n) != TriTrue {
				continue
			}
			agg.Violations = append(agg.Violations, Violation{
				Kind: "conflict", Detail: cd.Pattern.String(), Message: cd.Message,
			})
		}
	}
	checkConflicts(pd.Conflicts)
	checkConflicts(rules.Conflicts)

	checkReqs := func(rds []RequirementDirective) {
		for _, rd := range rds {
			if rd.When != nil && rd.When.Eval(n) != TriTrue {
				continue
			}
			matched := 0
			for _, p := range rd.Patterns {
				if WhenSpec(p).Eval(n) == TriTrue {
					matched++
				}
			}
			bad := (rd.Policy == RequireAnyOf && matched == 0) ||
				(rd.Policy == RequireOneOf && matched != 1)
			if bad {
				agg.Violations = append(agg.Violations, Violation{
					Kind:    "requirement",
					Detail:  fmt.Sprintf("%s group had %d match(es)", rd.Policy, matched),
					Message: rd.Message,
				})
			}
		}
	}
	checkReqs(pd.Requirements)
	checkReqs(rules.Requirements)

	for _, name := range sortedVariantNames(n.Variants) {
		if def := pd.Variant(name); def != nil {
			if err := def.Validate(n.Name, n.Variants[name], n); err != nil {
				agg.Violations = append(agg.Violations, Violation{Kind: "variant", Detail: err.Error()})
			}
		}
	}

	// a dependency whose predicate only settled once providers bound
	// must have been wired
	for _, dd := range pd.Dependencies {
		if evalWhen(dd.When, n) != TriTrue {
			continue
		}
		name := dd.Spec.Name
		found := false
		for _, e := range n.Edges {
			if e.To.Name == name {
				found = true
				break
			}
			for _, v := range e.Virtuals {
				if v == name {
					found = true
					break
				}
			}
		}
		if !found {
			agg.Violations = append(agg.Violations, Violation{
				Kind:   "dependency",
				Detail: fmt.Sprintf("dependency on %s became active after provider binding and is unsatisfied", name),
			})
		}
	}

	// patches commit against the final attributes
	n.Patches = n.Patches[:0]
	for _, p := range pd.Patches {
		if evalWhen(p.When, n) == TriTrue {
			n.Patches = append(n.Patches, p.ID)
		}
	}
	sort.Strings(n.Patches)

	if len(agg.Violations) > 0 {
		return agg
	}
	return nil
}

func appendUnique(l []PackageName, p PackageName) []PackageName {
	for _, x := range l {
		if x == p {
			return l
		}
	}
	return append(l, p)
}

// digestInputs digests the canonical rendering of a solve's inputs.
// Sorted root literals come first, then a stable walk of the
// configuration snapshot.
func digestInputs(rootLines []string, cfg *Config) []byte {
	var b strings.Builder
	for _, l := range rootLines {
		fmt.Fprintf(&b, "root:%s\n", l)
	}
	if cfg != nil {
		fmt.Fprintf(&b, "arch:%s\n", cfg.Arch)
		for _, sc := range cfg.Scopes {
			fmt.Fprintf(&b, "scope:%s\n", sc.Name)
			if sc.All != nil {
				writeRules(&b, "all", sc.All)
			}
			names := make([]string, 0, len(sc.Packages))
			for n := range sc.Packages {
				names = append(names, string(n))
			}
			sort.Strings(names)
			for _, n := range names {
				writeRules(&b, n, sc.Packages[PackageName(n)])
			}
		}
		for _, tc := range cfg.Toolchains {
			fmt.Fprintf(&b, "toolchain:%s\n", tc.Name)
			for _, e := range tc.Entries {
				fmt.Fprintf(&b, "  %s=%s@%v flags=%q\n", e.Lang, e.Provider, e.Version, e.Flags)
			}
		}
	}
	sum := sha256.Sum256([]byte(b.String()))
	return sum[:]
}

func writeRules(b *strings.Builder, name string, r *PackageRules) {
	fmt.Fprintf(b, " pkg:%s\n", name)
	for _, c := range r.VersionOrder {
		fmt.Fprintf(b, "  version:%s\n", c)
	}
	for _, vn := range sortedVariantNames(r.VariantPrefs) {
		fmt.Fprintf(b, "  variant:%s\n", r.VariantPrefs[vn].Render(vn))
	}
	virts := make([]string, 0, len(r.ProviderOrder))
	for v := range r.ProviderOrder {
		virts = append(virts, string(v))
	}
	sort.Strings(virts)
	for _, v := range virts {
		provs := make([]string, 0)
		for _, p := range r.ProviderOrder[PackageName(v)] {
			provs = append(provs, string(p))
		}
		fmt.Fprintf(b, "  providers:%s=%s\n", v, strings.Join(provs, ","))
	}
	for _, t := range r.TargetOrder {
		fmt.Fprintf(b, "  target:%s\n", t)
	}
	for _, c := range r.Conflicts {
		fmt.Fprintf(b, "  conflict:%v\n", c.Pattern)
	}
	for _, rq := range r.Requirements {
		pats := make([]string, 0, len(rq.Patterns))
		for _, p := range rq.Patterns {
			pats = append(pats, p.String())
		}
		fmt.Fprintf(b, "  require:%s(%s)\n", rq.Policy, strings.Join(pats, ","))
	}
}
