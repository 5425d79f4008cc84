package crucible

import (
	"bytes"
	"fmt"
	"strings"
)

// SolveError is implemented by all structured solver failures.
type SolveError interface {
	error
	// Pkg names the package the failure is about.
	Pkg() PackageName
}

type traceError interface {
	traceString() string
}

// UnsatisfiableConstraintError aggregates every violated hard
// directive for a failing node. The solver collects all violations
// before failing, never just the first.
type UnsatisfiableConstraintError struct {
	Package    PackageName
	Violations []Violation
}

// Violation is one violated requirement or conflict directive.
type Violation struct {
	// Kind is "requirement", "conflict", "version", "variant" or
	// "dependency".
	Kind    string
	Detail  string
	Message string
}

func (e *UnsatisfiableConstraintError) Pkg() PackageName { return e.Package }

func (e *UnsatisfiableConstraintError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("no satisfying configuration for %s", e.Package)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "cannot concretize %s; %d constraint(s) violated:", e.Package, len(e.Violations))
	for _, v := range e.Violations {
		fmt.Fprintf(&buf, "\n\t%s: %s", v.Kind, v.Detail)
		if v.Message != "" {
			fmt.Fprintf(&buf, " (%s)", v.Message)
		}
	}
	return buf.String()
}

func (e *UnsatisfiableConstraintError) traceString() string {
	kinds := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		kinds = append(kinds, v.Kind)
	}
	return fmt.Sprintf("%s unsat [%s]", e.Package, strings.Join(kinds, " "))
}

// DependencyConsistencyError reports that two requirers impose
// constraints on one shared package that cannot be unified.
type DependencyConsistencyError struct {
	Package PackageName
	// First and Second render the two requiring nodes.
	First, Second string
	Message       string
}

func (e *DependencyConsistencyError) Pkg() PackageName { return e.Package }

func (e *DependencyConsistencyError) Error() string {
	return fmt.Sprintf("conflicting requirements on %s: %s vs %s: %s",
		e.Package, e.First, e.Second, e.Message)
}

// AmbiguousVirtualProviderError reports that no provider satisfies a
// requested virtual, or that the joint-provision rule disqualified all
// candidates.
type AmbiguousVirtualProviderError struct {
	Virtual    PackageName
	Constraint Constraint
	// Rejected maps each disqualified provider to the reason.
	Rejected map[PackageName]string
}

func (e *AmbiguousVirtualProviderError) Pkg() PackageName { return e.Virtual }

func (e *AmbiguousVirtualProviderError) Error() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "no provider satisfies virtual %s", e.Virtual)
	if e.Constraint != nil && !IsAny(e.Constraint) {
		fmt.Fprintf(&buf, "@%s", e.Constraint)
	}
	for p, reason := range e.Rejected {
		fmt.Fprintf(&buf, "\n\t%s: %s", p, reason)
	}
	return buf.String()
}

// HashInvariantViolation reports an internal canonicalization
// inconsistency. It is unreachable on a DAG that passed validation.
type HashInvariantViolation struct {
	Node PackageName
	Prob string
}

func (e *HashInvariantViolation) Pkg() PackageName { return e.Node }

func (e *HashInvariantViolation) Error() string {
	return fmt.Sprintf("hash invariant violated at %s: %s", e.Node, e.Prob)
}

// noVersionError aggregates the failures that eliminated every
// candidate in a node's queue.
type noVersionError struct {
	pkg   PackageName
	fails []failedCandidate
}

func (e *noVersionError) Pkg() PackageName { return e.pkg }

func (e *noVersionError) Error() string {
	if len(e.fails) == 0 {
		return fmt.Sprintf("no candidate configurations found for %s", e.pkg)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "could not find any configuration of %s that met constraints:", e.pkg)
	for _, f := range e.fails {
		fmt.Fprintf(&buf, "\n\t%s: %s", f.c, failReason(f.f))
	}
	return buf.String()
}

// failReason tolerates candidates eliminated during backtracking,
// which carry no failure of their own.
func failReason(err error) string {
	if err == nil {
		return "downstream constraints eliminated this candidate"
	}
	return err.Error()
}

func (e *noVersionError) traceString() string {
	if len(e.fails) == 0 {
		return "no candidates found"
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "no candidates of %s met constraints:", e.pkg)
	for _, f := range e.fails {
		if te, ok := f.f.(traceError); ok {
			fmt.Fprintf(&buf, "\n  %s: %s", f.c, te.traceString())
		} else {
			fmt.Fprintf(&buf, "\n  %s: %s", f.c, failReason(f.f))
		}
	}
	return buf.String()
}

// versionNotAllowedFailure: a candidate's version is rejected by the
// unified constraint of its dependers.
type versionNotAllowedFailure struct {
	goal       atom
	failparent []dependency
	c          Constraint
}

func (e *versionNotAllowedFailure) Error() string {
	if len(e.failparent) == 1 {
		return fmt.Sprintf(
			"could not use %s, as it is not allowed by constraint %s from %s",
			e.goal, e.failparent[0].dep.Spec.Version, e.failparent[0].depender.Name)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "could not use %s, as it is not allowed by constraints from:", e.goal)
	for _, f := range e.failparent {
		fmt.Fprintf(&buf, "\n\t%s from %s", f.dep.Spec.Version, f.depender.Name)
	}
	return buf.String()
}

func (e *versionNotAllowedFailure) traceString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s not allowed by constraint %s:", e.goal, e.c)
	for _, f := range e.failparent {
		fmt.Fprintf(&buf, "\n  %s from %s", f.dep.Spec.Version, f.depender.Name)
	}
	return buf.String()
}

// disjointConstraintFailure: a candidate's dependency constraint has
// no overlap with constraints already selected siblings impose.
type disjointConstraintFailure struct {
	goal      dependency
	failsib   []dependency
	nofailsib []dependency
	c         Constraint
}

func (e *disjointConstraintFailure) Error() string {
	if len(e.failsib) == 1 {
		return fmt.Sprintf(
			"could not use %s, as its constraint %s on %s has no overlap with constraint %s from %s",
			e.goal.depender, e.goal.dep.Spec.Version, e.goal.dep.Spec.Name,
			e.failsib[0].dep.Spec.Version, e.failsib[0].depender.Name)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "could not use %s, as its constraint %s on %s conflicts with:",
		e.goal.depender, e.goal.dep.Spec.Version, e.goal.dep.Spec.Name)
	sibs := e.failsib
	if len(sibs) == 0 {
		sibs = e.nofailsib
	}
	for _, s := range sibs {
		fmt.Fprintf(&buf, "\n\t%s from %s", s.dep.Spec.Version, s.depender.Name)
	}
	return buf.String()
}

func (e *disjointConstraintFailure) traceString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "constraint %s on %s disjoint with other dependers:", e.goal.dep.Spec.Version, e.goal.dep.Spec.Name)
	for _, f := range e.failsib {
		fmt.Fprintf(&buf, "\n  %s from %s (no overlap)", f.dep.Spec.Version, f.depender.Name)
	}
	for _, f := range e.nofailsib {
		fmt.Fprintf(&buf, "\n  %s from %s (some overlap)", f.dep.Spec.Version, f.depender.Name)
	}
	return buf.String()
}

// constraintNotAllowedFailure: a candidate introduces a dep constraint
// that rejects the already-selected version of the target.
type constraintNotAllowedFailure struct {
	goal dependency
	v    Version
}

func (e *constraintNotAllowedFailure) Error() string {
	return fmt.Sprintf(
		"could not use %s, as its constraint %s on %s does not allow the selected version %s",
		e.goal.depender, e.goal.dep.Spec.Version, e.goal.dep.Spec.Name, e.v)
}

func (e *constraintNotAllowedFailure) traceString() string {
	return fmt.Sprintf("%s constrains %s with %s, but %s is already selected",
		e.goal.depender, e.goal.dep.Spec.Name, e.goal.dep.Spec.Version, e.v)
}

// conflictFailure: a conflict directive matched the candidate.
type conflictFailure struct {
	goal    atom
	pattern *Spec
	message string
}

func (e *conflictFailure) Error() string {
	msg := fmt.Sprintf("could not use %s: conflicts with %s", e.goal, e.pattern)
	if e.message != "" {
		msg += " (" + e.message + ")"
	}
	return msg
}

func (e *conflictFailure) traceString() string {
	return fmt.Sprintf("%s hits conflict %s", e.goal, e.pattern)
}

// requirementFailure: a requirement group was not satisfied under its
// policy.
type requirementFailure struct {
	goal    atom
	req     RequirementDirective
	matched int
}

func (e *requirementFailure) Error() string {
	pats := make([]string, 0, len(e.req.Patterns))
	for _, p := range e.req.Patterns {
		pats = append(pats, p.String())
	}
	msg := fmt.Sprintf("could not use %s: requirement %s(%s) had %d match(es)",
		e.goal, e.req.Policy, strings.Join(pats, ", "), e.matched)
	if e.req.Message != "" {
		msg += " (" + e.req.Message + ")"
	}
	return msg
}

func (e *requirementFailure) traceString() string {
	return fmt.Sprintf("%s fails %s requirement", e.goal, e.req.Policy)
}

// variantFailure wraps a VariantValidationError as a candidate
// failure.
type variantFailure struct {
	goal atom
	err  *VariantValidationError
}

func (e *variantFailure) Error() string {
	return fmt.Sprintf("could not use %s: %s", e.goal, e.err)
}

func (e *variantFailure) traceString() string {
	return fmt.Sprintf("%s invalid variant %s", e.goal, e.err.Variant)
}

// missingVariantFailure: the request asserts a value for a variant
// that does not exist under the candidate's committed attributes.
// Absence is pruning, never a silent ignore.
type missingVariantFailure struct {
	goal    atom
	variant string
}

func (e *missingVariantFailure) Error() string {
	return fmt.Sprintf("could not use %s: variant %q does not exist under these attributes", e.goal, e.variant)
}

func (e *missingVariantFailure) traceString() string {
	return fmt.Sprintf("%s lacks variant %s", e.goal, e.variant)
}

// atomFailure bundles every hard-constraint violation one candidate
// atom triggered. Candidates are checked exhaustively so diagnostics
// name all violated directives, not just the first.
type atomFailure struct {
	goal  atom
	fails []error
}

func (e *atomFailure) Error() string {
	if len(e.fails) == 1 {
		return e.fails[0].Error()
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "could not use %s; %d constraint(s) violated:", e.goal, len(e.fails))
	for _, f := range e.fails {
		fmt.Fprintf(&buf, "\n\t%s", f.Error())
	}
	return buf.String()
}

func (e *atomFailure) traceString() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s violates %d constraint(s):", e.goal, len(e.fails))
	for _, f := range e.fails {
		if te, ok := f.(traceError); ok {
			fmt.Fprintf(&buf, "\n  %s", te.traceString())
		} else {
			fmt.Fprintf(&buf, "\n  %s", f.Error())
		}
	}
	return buf.String()
}

// asFailedCandidates explodes the bundle so each violation gets its
// own Violation entry in the aggregate error.
func (e *atomFailure) asFailedCandidates(a atom) []failedCandidate {
	out := make([]failedCandidate, 0, len(e.fails))
	for _, f := range e.fails {
		out = append(out, failedCandidate{c: a, f: f})
	}
	return out
}

// collectViolations folds candidate failures into the per-package
// aggregate the caller receives.
func collectViolations(pkg PackageName, fails []failedCandidate) *UnsatisfiableConstraintError {
	agg := &UnsatisfiableConstraintError{Package: pkg}
	for _, fc := range fails {
		if af, ok := fc.f.(*atomFailure); ok {
			for _, sub := range af.asFailedCandidates(fc.c) {
				agg.Violations = append(agg.Violations, violationOf(sub))
			}
			continue
		}
		agg.Violations = append(agg.Violations, violationOf(fc))
	}
	return agg
}

func violationOf(fc failedCandidate) Violation {
	switch f := fc.f.(type) {
	case *conflictFailure:
		return Violation{Kind: "conflict", Detail: f.pattern.String(), Message: f.message}
	case *requirementFailure:
		return Violation{Kind: "requirement", Detail: f.Error(), Message: f.req.Message}
	case *variantFailure:
		return Violation{Kind: "variant", Detail: f.err.Error()}
	case *missingVariantFailure:
		return Violation{Kind: "variant", Detail: f.Error()}
	case *versionNotAllowedFailure:
		return Violation{Kind: "version", Detail: f.Error()}
	case *disjointConstraintFailure, *constraintNotAllowedFailure:
		return Violation{Kind: "dependency", Detail: fc.f.Error()}
	default:
		return Violation{Kind: "constraint", Detail: fc.f.Error()}
	}
}
