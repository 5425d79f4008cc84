package crucible

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// candidatesFor produces the ordered candidate atoms for a reference:
// virtuals expand to provider atoms, packages to version and variant
// assignments. unified is the intersection of every depender's version
// constraint; variantReqs the unified variant assertions.
func (s *solver) candidatesFor(ref PackageName, unified Constraint, variantReqs map[string]VariantValue) ([]atom, error) {
	if virtual, depender, scoped := splitLangRef(ref); scoped {
		return s.virtualCandidates(ref, virtual, depender, unified)
	}
	if s.params.Registry.IsVirtual(ref) {
		return s.virtualCandidates(ref, ref, "", unified)
	}
	return s.packageCandidates(ref, unified, variantReqs, nil)
}

// packageCandidates orders a package's candidate atoms by decreasing
// desirability: reuse-pool hits first, then versions admitted by the
// configured preference lists, then remaining versions descending.
// Each version carries a deterministic primary variant assignment plus
// bounded alternates for variants that appear in conflict or
// requirement patterns.
func (s *solver) packageCandidates(name PackageName, unified Constraint, variantReqs map[string]VariantValue, provides []PackageName) ([]atom, error) {
	pd, err := s.directives(name)
	if err != nil {
		return nil, err
	}
	rules := s.rulesFor(name)

	var out []atom

	// reuse-pool hits come first; an existing concrete spec that
	// satisfies all constraints is always preferred over building new
	for _, cs := range s.params.Reuse.Query(name, unified) {
		a := atom{
			Name:     name,
			Version:  cs.Version,
			Variants: cs.Variants,
			Arch:     cs.Arch,
			provides: provides,
			reused:   cs,
		}
		out = append(out, a)
		if s.l.Level >= logrus.DebugLevel {
			s.l.WithFields(logrus.Fields{
				"name": name,
				"hash": cs.ShortHash(7),
			}).Debug("Admitted reuse candidate")
		}
	}

	for _, v := range s.orderedVersions(pd, rules, unified) {
		for _, vars := range s.variantAssignments(pd, v, variantReqs, rules) {
			out = append(out, atom{
				Name:     name,
				Version:  v,
				Variants: vars,
				Arch:     s.targetArch(rules),
				provides: provides,
			})
		}
	}
	return out, nil
}

// orderedVersions filters and orders a package's declared versions.
// Infinity versions (develop, main and friends) and deprecated
// versions are withheld unless the unified constraint names them.
func (s *solver) orderedVersions(pd *PackageDirectives, rules PackageRules, unified Constraint) []Version {
	type ranked struct {
		v Version
		// position in the configured preference lists; lower wins,
		// unranked sorts after every ranked entry
		pref int
		decl VersionDecl
	}

	var rs []ranked
	for _, vd := range pd.Versions {
		v := resolveGitVersion(s.params.Refs, pd.Name, vd.Version)
		if !v.Satisfies(unified) {
			continue
		}
		if (v.IsInfinity() || vd.Deprecated) && !constraintRequests(unified, v) {
			continue
		}
		pref := len(rules.VersionOrder)
		for i, c := range rules.VersionOrder {
			if v.Satisfies(c) {
				pref = i
				break
			}
		}
		rs = append(rs, ranked{v: v, pref: pref, decl: vd})
	}

	// exact pin on a version never declared (a git ref, typically)
	if ev, ok := unified.(exactVersion); ok {
		found := false
		for _, r := range rs {
			if r.v.Equal(ev.v) {
				found = true
				break
			}
		}
		if !found {
			rs = append(rs, ranked{v: resolveGitVersion(s.params.Refs, pd.Name, ev.v), pref: 0})
		}
	}

	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].pref != rs[j].pref {
			return rs[i].pref < rs[j].pref
		}
		if rs[i].decl.Preferred != rs[j].decl.Preferred {
			return rs[i].decl.Preferred
		}
		return rs[i].v.Compare(rs[j].v) > 0
	})

	out := make([]Version, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.v)
	}
	return out
}

// variantAssignments produces the deterministic variant assignments to
// try for one version: a primary assignment (requested value, else
// configured preference, else declared default), then one alternate
// per flippable boolean variant that a conflict or requirement pattern
// mentions. Sticky variants never leave their requested or default
// value.
func (s *solver) variantAssignments(pd *PackageDirectives, v Version, reqs map[string]VariantValue, rules PackageRules) []map[string]VariantValue {
	base := atom{Name: pd.Name, Version: v}

	primary := make(map[string]VariantValue)
	var active []*VariantDefinition
	for i := range pd.Variants {
		d := &pd.Variants[i]
		// a variant whose existence condition is false under this
		// version does not exist on the node at all
		if d.When != nil && d.When.Eval(base) == TriFalse {
			continue
		}
		active = append(active, d)
		if val, has := reqs[d.Name]; has {
			primary[d.Name] = val
			continue
		}
		if val, has := rules.VariantPrefs[d.Name]; has && !d.Sticky {
			primary[d.Name] = val
			continue
		}
		primary[d.Name] = defaultValueOf(d)
	}

	out := []map[string]VariantValue{primary}
	for _, name := range s.flippableVariants(pd, rules) {
		d := pd.Variant(name)
		if d == nil || d.Sticky || d.Kind != VariantBool {
			continue
		}
		if _, pinned := reqs[name]; pinned {
			continue
		}
		cur, has := primary[name]
		if !has {
			continue
		}
		alt := make(map[string]VariantValue, len(primary))
		for k, vv := range primary {
			alt[k] = vv
		}
		alt[name] = BoolValue(!cur.Bool())
		out = append(out, alt)
	}
	return out
}

func defaultValueOf(d *VariantDefinition) VariantValue {
	if d.Default.IsSet() {
		return d.Default
	}
	if d.Kind == VariantBool {
		return BoolValue(false)
	}
	if len(d.Values) > 0 {
		return SingleValue(d.Values[0].Value)
	}
	return VariantValue{}
}

// flippableVariants names this package's variants that appear in a
// conflict or requirement pattern, sorted. Those are the assignments
// worth exploring beyond the primary; flipping anything else cannot
// change satisfiability.
func (s *solver) flippableVariants(pd *PackageDirectives, rules PackageRules) []string {
	seen := make(map[string]bool)
	note := func(sp *Spec) {
		if sp == nil {
			return
		}
		for name := range sp.Variants {
			seen[name] = true
		}
	}
	for _, c := range pd.Conflicts {
		note(c.Pattern)
	}
	for _, c := range rules.Conflicts {
		note(c.Pattern)
	}
	for _, r := range pd.Requirements {
		for _, p := range r.Patterns {
			note(p)
		}
	}
	for _, r := range rules.Requirements {
		for _, p := range r.Patterns {
			note(p)
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *solver) targetArch(rules PackageRules) Arch {
	if s.params.Config == nil {
		return Arch{}
	}
	a := s.params.Config.Arch
	if len(rules.TargetOrder) > 0 {
		a.Target = rules.TargetOrder[0]
	}
	return a
}

// virtualCandidates expands a virtual reference into provider atoms,
// honoring configured provider order, provides-constraint overlap with
// the requested constraint, joint provision groups, and any compiler
// filter scoped to the depending node.
func (s *solver) virtualCandidates(ref, virtual, depender PackageName, unified Constraint) ([]atom, error) {
	providers := s.params.Registry.Providers(virtual)
	rejected := make(map[PackageName]string)

	var filter *compilerFilter
	if depender != "" {
		filter = s.filterFor(virtual, depender)
	}

	ordered := orderProviders(providers, s.rulesFor(virtual).ProviderOrder[virtual])

	var out []atom
	for _, p := range ordered {
		if filter != nil && filter.provider != "" && filter.provider != p {
			rejected[p] = fmt.Sprintf("compiler request names %s", filter.provider)
			continue
		}
		pd, err := s.directives(p)
		if err != nil {
			rejected[p] = err.Error()
			continue
		}

		pc := Any()
		if filter != nil && filter.version != nil {
			pc = filter.version
		}
		cands, err := s.packageCandidates(p, pc, nil, nil)
		if err != nil {
			rejected[p] = err.Error()
			continue
		}

		admitted := 0
		for _, a := range cands {
			prov, ok := providedVirtuals(pd, a, virtual, unified)
			if !ok {
				continue
			}
			a.provides = prov
			out = append(out, a)
			admitted++
		}
		if admitted == 0 {
			rejected[p] = fmt.Sprintf("no version of %s provides %s@%s", p, virtual, unified)
		}
	}

	if len(out) == 0 {
		return nil, &AmbiguousVirtualProviderError{
			Virtual:    virtual,
			Constraint: unified,
			Rejected:   rejected,
		}
	}
	return out, nil
}

// orderProviders puts configured preferences first, in order, with the
// rest following in registry order.
func orderProviders(providers, prefs []PackageName) []PackageName {
	if len(prefs) == 0 {
		return providers
	}
	out := make([]PackageName, 0, len(providers))
	taken := make(map[PackageName]bool)
	for _, p := range prefs {
		for _, q := range providers {
			if q == p && !taken[q] {
				out = append(out, q)
				taken[q] = true
			}
		}
	}
	for _, q := range providers {
		if !taken[q] {
			out = append(out, q)
		}
	}
	return out
}

// providedVirtuals evaluates a provider candidate against one
// requested virtual. The candidate is admitted only if some active
// provides directive for the virtual overlaps the requested
// constraint; the returned list covers the matched directive's whole
// joint group, so co-selection conflicts disqualify partial providers
// through ordinary backtracking.
func providedVirtuals(pd *PackageDirectives, a atom, virtual PackageName, unified Constraint) ([]PackageName, bool) {
	var group string
	matched := false
	for _, pr := range pd.Provides {
		if pr.Virtual != virtual {
			continue
		}
		if pr.When != nil && pr.When.Eval(a) == TriFalse {
			continue
		}
		if pr.Constraint != nil && !pr.Constraint.MatchesAny(unified) {
			continue
		}
		matched = true
		group = pr.JointGroup
		break
	}
	if !matched {
		return nil, false
	}

	prov := []PackageName{virtual}
	if group != "" {
		for _, pr := range pd.Provides {
			if pr.JointGroup != group || pr.Virtual == virtual {
				continue
			}
			if pr.When != nil && pr.When.Eval(a) == TriFalse {
				continue
			}
			prov = append(prov, pr.Virtual)
		}
	}
	return prov, true
}

// filterFor derives the compiler filter governing one scoped language
// reference: the first depender-supplied %request on the depending
// node, in dependency registration order, expanded against that node.
func (s *solver) filterFor(virtual, depender PackageName) *compilerFilter {
	node, has := s.sel.selected(depender)
	if !has {
		return nil
	}
	for _, d := range s.dependersOf(depender) {
		if d.dep.Spec == nil || d.dep.Spec.Compiler == nil {
			continue
		}
		filters := expandCompilerRequest(s.params.Config, d.dep.Spec.Compiler, node)
		if f, ok := filters[string(virtual)]; ok {
			return &f
		}
	}
	return nil
}

// dependersOf collects every dependency targeting a package, whether
// registered under its name or under a virtual it was selected for.
func (s *solver) dependersOf(name PackageName) []dependency {
	out := append([]dependency(nil), s.sel.getDependenciesOn(name)...)
	for _, sa := range s.sel.atoms {
		if sa.a.Name != name || sa.ref == name {
			continue
		}
		out = append(out, s.sel.getDependenciesOn(sa.ref)...)
	}
	return out
}
