package crucible

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of a successful solve.
type Result interface {
	// Roots holds one frozen concrete DAG per requested root spec, in
	// request order.
	Roots() []*ConcreteSpec
	// Attempts reports how many times the solver backtracked before
	// finding the solution.
	Attempts() int
	// InputDigest is the canonical digest of the solve's inputs. Two
	// solves with equal digests produce identical roots.
	InputDigest() []byte
}

type result struct {
	roots  []*ConcreteSpec
	att    int
	digest []byte
}

func (r *result) Roots() []*ConcreteSpec { return r.roots }
func (r *result) Attempts() int          { return r.att }
func (r *result) InputDigest() []byte    { return r.digest }

// Concretize is the convenience entry point: solve the given roots
// and return the concrete DAGs directly. Concretization is a
// fixpoint; feeding a result's own hash references back in returns
// the same frozen specs.
func Concretize(ctx context.Context, params SolveParams, l *logrus.Logger) ([]*ConcreteSpec, error) {
	sl, err := NewSolver(params, l)
	if err != nil {
		return nil, err
	}
	r, err := sl.Solve(ctx)
	if err != nil {
		return nil, err
	}
	return r.Roots(), nil
}
