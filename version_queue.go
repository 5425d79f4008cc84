package crucible

import (
	"fmt"
	"strings"
)

type failedCandidate struct {
	c atom
	f error
}

// candidateQueue walks the candidate atoms for one reference in
// decreasing desirability: reuse-pool hits first, then
// preference-ordered versions, then remaining versions descending.
// Infinity and deprecated versions are withheld unless explicitly
// required. The ordering is fixed at construction; the queue only ever
// advances.
type candidateQueue struct {
	ref   PackageName
	pi    []atom
	fails []failedCandidate
}

func newCandidateQueue(ref PackageName, candidates []atom) *candidateQueue {
	return &candidateQueue{ref: ref, pi: candidates}
}

func (q *candidateQueue) current() atom {
	if len(q.pi) > 0 {
		return q.pi[0]
	}
	return emptyAtom
}

// advance moves to the next candidate, recording the failure that
// eliminated the current one.
func (q *candidateQueue) advance(fail error) {
	if len(q.pi) == 0 {
		return
	}
	q.fails = append(q.fails, failedCandidate{c: q.pi[0], f: fail})
	q.pi = q.pi[1:]
}

func (q *candidateQueue) isExhausted() bool {
	return len(q.pi) == 0
}

func (q *candidateQueue) String() string {
	var cs []string
	for _, a := range q.pi {
		cs = append(cs, a.String())
	}
	return fmt.Sprintf("[%s]", strings.Join(cs, ", "))
}
