package crucible

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// rootName is the synthetic depender holding the requested root specs.
// Multiple roots solve as one joint instance, so shared dependencies
// unify exactly once across roots.
const rootName = PackageName("(root)")

// SolveParams carries everything one concretization consumes. All
// inputs are snapshots: the solver never observes them change.
type SolveParams struct {
	Roots    []*Spec
	Registry Registry
	Config   *Config
	Reuse    *ReusePool
	Refs     RefResolver
}

// BadParamsError reports unusable solve parameters.
type BadParamsError string

func (e BadParamsError) Error() string {
	return string(e)
}

// CanceledError is the diagnostic returned when a solve is canceled or
// times out. No partial graph accompanies it.
type CanceledError struct {
	Cause    error
	Attempts int
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("concretization abandoned after %d attempt(s): %s", e.Attempts, e.Cause)
}

// Solver turns abstract specs into concrete DAGs.
type Solver interface {
	Solve(ctx context.Context) (Result, error)
}

// NewSolver validates params and prepares a solver. A nil logger gets
// a default whose output is discarded at the default level.
func NewSolver(params SolveParams, l *logrus.Logger) (Solver, error) {
	if l == nil {
		l = logrus.New()
		l.Level = logrus.WarnLevel
	}
	if params.Registry == nil {
		return nil, BadParamsError("no registry provided")
	}
	if len(params.Roots) == 0 {
		return nil, BadParamsError("no root specs to concretize")
	}
	for _, r := range params.Roots {
		if r.Name == "" && r.HashRef == "" {
			return nil, BadParamsError("root spec has neither name nor hash reference")
		}
	}

	return &solver{
		params: params,
		l:      l,
	}, nil
}

// solver is a backtracking constraint solver over concretization
// atoms: package, version, variant assignment, provider bindings and
// architecture per node.
type solver struct {
	params SolveParams
	l      *logrus.Logger

	sel      *selection
	unsel    *unselected
	queues   []*candidateQueue
	rootDeps []dependency
	// roots resolved directly by hash reference
	fixed    []*ConcreteSpec
	attempts int

	rootRank map[PackageName]int
	dirCache map[PackageName]*PackageDirectives
	rules    map[PackageName]PackageRules
}

func (s *solver) Solve(ctx context.Context) (Result, error) {
	s.sel = newSelection()
	s.unsel = &unselected{cmp: s.unselectedComparator}
	s.queues = nil
	s.rootDeps = nil
	s.fixed = nil
	s.attempts = 0
	s.rootRank = make(map[PackageName]int)
	s.dirCache = make(map[PackageName]*PackageDirectives)
	s.rules = make(map[PackageName]PackageRules)

	if err := s.prepareRoots(); err != nil {
		return nil, err
	}

	heap.Init(s.unsel)
	s.selectDeps(atom{Name: rootName}, s.rootDeps)

	if err := s.solve(ctx); err != nil {
		return nil, err
	}

	roots, err := s.assemble()
	if err != nil {
		return nil, err
	}
	return &result{
		roots:  roots,
		att:    s.attempts,
		digest: s.params.InputDigest(),
	}, nil
}

// prepareRoots resolves /hash references against the reuse snapshot
// and registers ordinary roots as dependencies of the synthetic root.
func (s *solver) prepareRoots() error {
	rootAtom := atom{Name: rootName}
	for i, r := range s.params.Roots {
		if r.HashRef != "" {
			cs, ok := s.params.Reuse.LookupHash(r.HashRef)
			if !ok {
				return BadParamsError(fmt.Sprintf("hash reference /%s matches no known spec, or is ambiguous", r.HashRef))
			}
			s.fixed = append(s.fixed, cs)
			continue
		}
		s.rootRank[r.Name] = i + 1
		s.rootDeps = append(s.rootDeps, dependency{
			depender: rootAtom,
			dep:      DependencyDirective{Spec: r, Types: DepDefault},
			ref:      r.Name,
		})
	}
	return nil
}

func (s *solver) solve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return &CanceledError{Cause: ctx.Err(), Attempts: s.attempts}
		default:
		}

		ref, has := s.nextUnselected()
		if !has {
			// no more references to select; solution found
			return nil
		}

		if s.l.Level >= logrus.DebugLevel {
			s.l.WithFields(logrus.Fields{
				"attempts": s.attempts,
				"ref":      ref,
				"selcount": len(s.sel.atoms),
			}).Debug("Beginning step in solve loop")
		}

		// A previously selected atom may already cover this reference
		// (a provider reached both via its virtual and by name).
		if a, already := s.sel.selected(ref); already {
			if err := s.satisfiable(a, ref); err == nil {
				s.unsel.remove(ref)
				continue
			}
			if s.backtrack() {
				continue
			}
			return s.finalFailure(ref)
		}

		q, err := s.createQueue(ref)
		if err != nil {
			// failure somewhere down the line; try backtracking
			if s.backtrack() {
				continue
			}
			return err
		}

		if s.l.Level >= logrus.InfoLevel {
			s.l.WithFields(logrus.Fields{
				"ref":  q.ref,
				"atom": q.current().String(),
			}).Info("Accepted candidate atom")
		}

		s.selectAtom(q.current(), ref)
		s.queues = append(s.queues, q)
	}
}

// createQueue builds the candidate queue for a reference and walks it
// to the first satisfiable candidate.
func (s *solver) createQueue(ref PackageName) (*candidateQueue, error) {
	unified := s.sel.getConstraint(ref)
	if IsEmpty(unified) {
		return nil, s.consistencyError(ref)
	}
	variantReqs, d1, d2 := s.sel.getVariantConstraints(ref)
	if d1 != nil {
		return nil, &DependencyConsistencyError{
			Package: ref,
			First:   d1.depender.String(),
			Second:  d2.depender.String(),
			Message: "conflicting variant assertions on shared dependency",
		}
	}

	cands, err := s.candidatesFor(ref, unified, variantReqs)
	if err != nil {
		return nil, err
	}

	q := newCandidateQueue(ref, cands)
	if q.isExhausted() {
		return nil, &noVersionError{pkg: ref}
	}

	if s.l.Level >= logrus.DebugLevel {
		s.l.WithFields(logrus.Fields{
			"ref":   ref,
			"queue": q.String(),
		}).Debug("Created candidate queue")
	}

	return q, s.findValidCandidate(q)
}

// consistencyError names two dependers whose version constraints on a
// shared reference cannot be unified.
func (s *solver) consistencyError(ref PackageName) error {
	deps := s.sel.getDependenciesOn(ref)
	for i := range deps {
		ci := specVersionOf(deps[i].dep.Spec)
		for j := i + 1; j < len(deps); j++ {
			cj := specVersionOf(deps[j].dep.Spec)
			if IsEmpty(ci.Intersect(cj)) {
				return &DependencyConsistencyError{
					Package: ref,
					First:   fmt.Sprintf("%s (wants %s)", deps[i].depender, ci),
					Second:  fmt.Sprintf("%s (wants %s)", deps[j].depender, cj),
					Message: "version constraints have empty intersection",
				}
			}
		}
	}
	return &DependencyConsistencyError{
		Package: ref,
		Message: "version constraints have empty intersection",
	}
}

func specVersionOf(sp *Spec) Constraint {
	if sp == nil || sp.Version == nil {
		return anyc
	}
	return sp.Version
}

// findValidCandidate walks a queue until its head satisfies the
// current solver state, or the queue exhausts.
func (s *solver) findValidCandidate(q *candidateQueue) error {
	faillen := len(q.fails)

	for !q.isExhausted() {
		cur := q.current()
		err := s.satisfiable(cur, q.ref)
		if err == nil {
			if s.l.Level >= logrus.DebugLevel {
				s.l.WithFields(logrus.Fields{
					"ref":  q.ref,
					"atom": cur.String(),
				}).Debug("Found acceptable candidate")
			}
			return nil
		}
		q.advance(err)
	}

	if s.l.Level >= logrus.InfoLevel {
		s.l.WithField("ref", q.ref).Info("Candidate queue completely exhausted")
	}

	return &noVersionError{
		pkg:   q.ref,
		fails: q.fails[faillen:],
	}
}

// backtrack works backwards from the current failed state, advancing
// choice points deepest-first until one offers another satisfiable
// candidate. Chronological order keeps the search complete: no
// alternative is ever discarded without being tried.
func (s *solver) backtrack() bool {
	if s.l.Level >= logrus.DebugLevel {
		s.l.WithFields(logrus.Fields{
			"selcount":   len(s.sel.atoms),
			"queuecount": len(s.queues),
			"attempts":   s.attempts,
		}).Debug("Beginning backtracking")
	}

	for len(s.queues) > 0 {
		q := s.queues[len(s.queues)-1]
		s.unselectLast()

		// the head was fine in isolation; something downstream of it
		// proved unsatisfiable
		q.advance(nil)
		if !q.isExhausted() && s.findValidCandidate(q) == nil {
			if s.l.Level >= logrus.InfoLevel {
				s.l.WithFields(logrus.Fields{
					"ref":  q.ref,
					"atom": q.current().String(),
				}).Info("Backtracking found valid candidate, attempting next solution")
			}
			s.selectAtom(q.current(), q.ref)
			s.attempts++
			return true
		}

		if s.l.Level >= logrus.InfoLevel {
			s.l.WithField("ref", q.ref).Info("Backtracking popped off reference")
		}
		s.queues, s.queues[len(s.queues)-1] = s.queues[:len(s.queues)-1], nil
	}
	return false
}

func (s *solver) nextUnselected() (PackageName, bool) {
	if len(s.unsel.sl) > 0 {
		return s.unsel.sl[0], true
	}
	return "", false
}

func (s *solver) unselectedComparator(i, j int) bool {
	iname, jname := s.unsel.sl[i], s.unsel.sl[j]
	if iname == jname {
		return false
	}

	// requested roots first, in request order
	irank, jrank := s.rootRank[iname], s.rootRank[jname]
	switch {
	case irank != 0 && jrank == 0:
		return true
	case irank == 0 && jrank != 0:
		return false
	case irank != 0:
		return irank < jrank
	}

	return iname < jname
}

func (s *solver) selectAtom(a atom, ref PackageName) {
	s.unsel.remove(ref)
	for _, v := range a.provides {
		s.unsel.remove(v)
	}
	s.sel.push(a, ref)
	s.selectDeps(a, s.dependenciesOf(a))
}

func (s *solver) selectDeps(a atom, deps []dependency) {
	for _, d := range deps {
		n := s.sel.pushDep(d.ref, d)
		// enqueue on first dependency, unless an atom already covers it
		if n == 1 {
			if _, already := s.sel.selected(d.ref); !already {
				heap.Push(s.unsel, d.ref)
			}
		}
	}
}

func (s *solver) unselectLast() {
	sa := s.sel.pop()
	heap.Push(s.unsel, sa.ref)

	for _, d := range s.dependenciesOf(sa.a) {
		s.sel.popDep(d.ref)
		if len(s.sel.getDependenciesOn(d.ref)) == 0 {
			if s.l.Level >= logrus.DebugLevel {
				s.l.WithFields(logrus.Fields{
					"ref":   d.ref,
					"pname": sa.a.Name,
				}).Debug("Removing reference from unselected queue; last depender was unselected")
			}
			s.unsel.remove(d.ref)
		}
	}
}

// dependenciesOf returns the active dependencies of an atom: those
// whose when-predicate holds under the atom's committed attributes.
// Undecided predicates (provider-conditioned) stay inactive here and
// are re-checked during final validation.
func (s *solver) dependenciesOf(a atom) []dependency {
	if a.Name == rootName {
		return s.rootDeps
	}
	if a.reused != nil {
		return reusedDependencies(a)
	}

	pd, err := s.directives(a.Name)
	if err != nil {
		// selection only ever proposes atoms from known packages
		panic(fmt.Sprintf("directives vanished for selected package %s: %s", a.Name, err))
	}

	var out []dependency
	for _, dd := range pd.Dependencies {
		if evalWhen(dd.When, a) != TriTrue {
			continue
		}
		d := dependency{depender: a, dep: dd, ref: dd.Spec.Name}
		if isLanguageVirtual(dd.Spec.Name) {
			d.ref = scopedLangRef(dd.Spec.Name, a.Name)
		}
		if len(dd.Propagate) > 0 {
			d.dep.Spec = propagateVariants(dd.Spec, dd.Propagate, a)
		}
		out = append(out, d)
	}
	return out
}

// reusedDependencies re-derives a reused spec's edges as exact-pinned
// dependencies. Each target then unifies like any other reference and
// comes back out of the reuse pool (or rebuilds identically), so
// reuse never forks a second configuration of a shared package.
func reusedDependencies(a atom) []dependency {
	out := make([]dependency, 0, len(a.reused.Edges))
	for _, e := range a.reused.Edges {
		sp := &Spec{
			Name:    e.To.Name,
			Version: ExactVersion(e.To.Version),
		}
		if len(e.To.Variants) > 0 {
			sp.Variants = make(map[string]VariantValue, len(e.To.Variants))
			for k, v := range e.To.Variants {
				sp.Variants[k] = v
			}
		}
		out = append(out, dependency{
			depender: a,
			dep:      DependencyDirective{Spec: sp, Types: e.Types},
			ref:      e.To.Name,
		})
	}
	return out
}

// propagateVariants forces the depender's committed values for the
// listed variants onto the dependency's constraint spec.
func propagateVariants(sp *Spec, names []string, from atom) *Spec {
	out := &Spec{
		Name:     sp.Name,
		Version:  sp.Version,
		Compiler: sp.Compiler,
		Arch:     sp.Arch,
		Deps:     sp.Deps,
	}
	out.Variants = make(map[string]VariantValue, len(sp.Variants)+len(names))
	for k, v := range sp.Variants {
		out.Variants[k] = v
	}
	for _, n := range names {
		if v, has := from.Variants[n]; has {
			out.Variants[n] = v
		}
	}
	return out
}

func (s *solver) directives(name PackageName) (*PackageDirectives, error) {
	if pd, has := s.dirCache[name]; has {
		return pd, nil
	}
	pd, err := s.params.Registry.Directives(name)
	if err != nil {
		return nil, err
	}
	s.dirCache[name] = pd
	return pd, nil
}

func (s *solver) rulesFor(name PackageName) PackageRules {
	if r, has := s.rules[name]; has {
		return r
	}
	r := s.params.Config.RulesFor(name)
	s.rules[name] = r
	return r
}

// finalFailure is reached when an already-selected atom stops
// satisfying a new reference and no backtracking remains.
func (s *solver) finalFailure(ref PackageName) error {
	err := s.satisfiableErr(ref)
	if err != nil {
		return err
	}
	return &noVersionError{pkg: ref}
}

func (s *solver) satisfiableErr(ref PackageName) error {
	if a, has := s.sel.selected(ref); has {
		if err := s.satisfiable(a, ref); err != nil {
			if af, ok := err.(*atomFailure); ok {
				return collectViolations(ref, af.asFailedCandidates(a))
			}
			return err
		}
	}
	return nil
}

// InputDigest canonically digests a solve's inputs: sorted root
// literals plus the configuration snapshot. Matching digests across
// runs mean a prior result is still in sync.
func (p SolveParams) InputDigest() []byte {
	lines := make([]string, 0, len(p.Roots))
	for _, r := range p.Roots {
		lines = append(lines, r.String())
	}
	sort.Strings(lines)
	return digestInputs(lines, p.Config)
}
