package crucible

import "fmt"

// atom is one candidate commitment for a node: a package at one
// version with a full variant assignment and an architecture. Provider
// bindings accumulate as language-virtual edges resolve.
type atom struct {
	Name     PackageName
	Version  Version
	Variants map[string]VariantValue
	Arch     Arch

	// virtuals this atom was selected to provide, if reached through
	// virtual references
	provides []PackageName
	// non-nil when the atom was lifted from the reuse pool
	reused *ConcreteSpec
}

var emptyAtom = atom{}

func (a atom) String() string {
	s := fmt.Sprintf("%s@%s", a.Name, a.Version)
	for _, name := range sortedVariantNames(a.Variants) {
		s += " " + a.Variants[name].Render(name)
	}
	return s
}

// AttrView over an in-flight atom. Variants and version are committed
// at atom construction; providers commit later, so provider lookups
// report uncommitted.
func (a atom) AttrName() PackageName { return a.Name }

func (a atom) AttrVersion() (Version, bool) { return a.Version, true }

func (a atom) AttrVariant(name string) (VariantValue, bool) {
	v, has := a.Variants[name]
	if !has {
		// full assignment is committed with the atom, so absence is
		// definitive
		return VariantValue{}, true
	}
	return v, true
}

func (a atom) AttrProvider(lang string) (PackageName, bool) {
	return "", false
}

func (a atom) AttrArch() (Arch, bool) { return a.Arch, true }

// dependency pairs a depender atom with the directive that introduced
// the edge. ref is the reference the directive targeted: the package
// name itself, or a virtual.
type dependency struct {
	depender atom
	dep      DependencyDirective
	ref      PackageName
}

// selectedAtom pairs an atom with the reference it was selected to
// satisfy; for provider atoms the reference is the virtual, not the
// package name.
type selectedAtom struct {
	a   atom
	ref PackageName
}

// selection tracks the in-flight solution: the stack of selected atoms
// and, per reference, the dependencies various dependers have
// introduced on it.
type selection struct {
	atoms []selectedAtom
	deps  map[PackageName][]dependency
}

func newSelection() *selection {
	return &selection{
		deps: make(map[PackageName][]dependency),
	}
}

func (s *selection) push(a atom, ref PackageName) {
	s.atoms = append(s.atoms, selectedAtom{a: a, ref: ref})
}

func (s *selection) pop() selectedAtom {
	var sa selectedAtom
	sa, s.atoms = s.atoms[len(s.atoms)-1], s.atoms[:len(s.atoms)-1]
	return sa
}

func (s *selection) getDependenciesOn(ref PackageName) []dependency {
	return s.deps[ref]
}

func (s *selection) pushDep(ref PackageName, d dependency) int {
	s.deps[ref] = append(s.deps[ref], d)
	return len(s.deps[ref])
}

func (s *selection) popDep(ref PackageName) {
	l := s.deps[ref]
	s.deps[ref] = l[:len(l)-1]
}

// selected returns the selected atom for a reference, resolving
// virtuals to the provider selected for them.
func (s *selection) selected(ref PackageName) (atom, bool) {
	for _, sa := range s.atoms {
		if sa.ref == ref || sa.a.Name == ref {
			return sa.a, true
		}
		for _, v := range sa.a.provides {
			if v == ref {
				return sa.a, true
			}
		}
	}
	return emptyAtom, false
}

// getConstraint unifies the version constraints every depender places
// on a reference. The intersection is what any candidate must satisfy
// (the dependency-consistency rule).
func (s *selection) getConstraint(ref PackageName) Constraint {
	deps := s.deps[ref]
	var out Constraint = anyc
	for _, d := range deps {
		if d.dep.Spec != nil && d.dep.Spec.Version != nil {
			out = out.Intersect(d.dep.Spec.Version)
			if IsEmpty(out) {
				return none
			}
		}
	}
	return out
}

// getVariantConstraints unifies the variant assertions dependers place
// on a reference. Conflicting assertions surface as a nil map plus the
// two clashing dependers.
func (s *selection) getVariantConstraints(ref PackageName) (map[string]VariantValue, *dependency, *dependency) {
	merged := make(map[string]VariantValue)
	setBy := make(map[string]*dependency)
	deps := s.deps[ref]
	for i := range deps {
		d := &deps[i]
		if d.dep.Spec == nil {
			continue
		}
		for name, want := range d.dep.Spec.Variants {
			if prior, has := merged[name]; has && !prior.Equal(want) {
				return nil, setBy[name], d
			}
			merged[name] = want
			setBy[name] = d
		}
	}
	return merged, nil, nil
}

// unselected is the priority queue of references awaiting selection.
type unselected struct {
	sl  []PackageName
	cmp func(i, j int) bool
}

func (u *unselected) Len() int {
	return len(u.sl)
}

func (u *unselected) Less(i, j int) bool {
	return u.cmp(i, j)
}

func (u *unselected) Swap(i, j int) {
	u.sl[i], u.sl[j] = u.sl[j], u.sl[i]
}

func (u *unselected) Push(x interface{}) {
	u.sl = append(u.sl, x.(PackageName))
}

func (u *unselected) Pop() interface{} {
	var v interface{}
	v, u.sl = u.sl[len(u.sl)-1], u.sl[:len(u.sl)-1]
	return v
}

// remove dequeues a reference regardless of position. The splice does
// not re-establish the heap ordering, so after a removal the head may
// not be the minimal reference; selection needs the order to be
// deterministic for given inputs, not strictly minimal.
func (u *unselected) remove(ref PackageName) {
	for k, p := range u.sl {
		if p == ref {
			if k == len(u.sl)-1 {
				u.sl = u.sl[:len(u.sl)-1]
			} else {
				u.sl = append(u.sl[:k], u.sl[k+1:]...)
			}
			return
		}
	}
}
