package crucible

import (
	"context"
	"sort"
	"sync"

	radix "github.com/armon/go-radix"
	"golang.org/x/sync/errgroup"
)

// ReuseSource supplies previously concretized specs eligible to
// satisfy a requirement without rebuilding: the local store, upstream
// stores, binary-cache indices.
type ReuseSource interface {
	Query(ctx context.Context, name PackageName, c Constraint) ([]*ConcreteSpec, error)
	// All enumerates every spec the source holds, for snapshot
	// construction.
	All(ctx context.Context) ([]*ConcreteSpec, error)
}

// ReusePool is an immutable snapshot of reuse candidates, fixed at
// solve start so mid-solve changes in any source cannot perturb
// determinism. Lookup by content-hash prefix backs /hash spec
// references.
type ReusePool struct {
	byName map[PackageName][]*ConcreteSpec
	byHash *hashTrie
}

// SnapshotReuse drains all sources concurrently into one immutable
// pool. Callers revalidate snapshot freshness before acting on solve
// results; that responsibility is outside the core.
func SnapshotReuse(ctx context.Context, sources ...ReuseSource) (*ReusePool, error) {
	var mu sync.Mutex
	var all []*ConcreteSpec

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		src := src
		g.Go(func() error {
			specs, err := src.All(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, specs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pool := &ReusePool{
		byName: make(map[PackageName][]*ConcreteSpec),
		byHash: newHashTrie(),
	}
	for _, cs := range all {
		h, err := SpecHash(cs)
		if err != nil {
			continue
		}
		if _, dup := pool.byHash.Get(h); dup {
			continue
		}
		pool.byHash.Insert(h, cs)
		pool.byName[cs.Name] = append(pool.byName[cs.Name], cs)
	}

	// newest versions first, hash as deterministic tie-break
	for name := range pool.byName {
		l := pool.byName[name]
		sort.Slice(l, func(i, j int) bool {
			if c := l[i].Version.Compare(l[j].Version); c != 0 {
				return c > 0
			}
			hi, _ := SpecHash(l[i])
			hj, _ := SpecHash(l[j])
			return hi < hj
		})
	}
	return pool, nil
}

// Query returns the snapshot's candidates for a package admitted by c,
// best first.
func (p *ReusePool) Query(name PackageName, c Constraint) []*ConcreteSpec {
	if p == nil {
		return nil
	}
	var out []*ConcreteSpec
	for _, cs := range p.byName[name] {
		if cs.Version.Satisfies(c) {
			out = append(out, cs)
		}
	}
	return out
}

// LookupHash resolves a (possibly partial) content-hash prefix to the
// single spec it denotes. ok is false when the prefix is unknown or
// ambiguous.
func (p *ReusePool) LookupHash(prefix string) (*ConcreteSpec, bool) {
	if p == nil {
		return nil, false
	}
	return p.byHash.UniquePrefix(prefix)
}

// Len reports the number of distinct specs in the snapshot.
func (p *ReusePool) Len() int {
	if p == nil {
		return 0
	}
	return p.byHash.Len()
}

// hashTrie is a typed wrapper over a radix tree keyed by spec hashes,
// so prefix walks need no type assertions at call sites.
type hashTrie struct {
	t *radix.Tree
}

func newHashTrie() *hashTrie {
	return &hashTrie{t: radix.New()}
}

func (h *hashTrie) Insert(hash string, cs *ConcreteSpec) {
	h.t.Insert(hash, cs)
}

func (h *hashTrie) Get(hash string) (*ConcreteSpec, bool) {
	if v, has := h.t.Get(hash); has {
		return v.(*ConcreteSpec), true
	}
	return nil, false
}

func (h *hashTrie) Len() int {
	return h.t.Len()
}

// UniquePrefix returns the sole spec whose hash begins with prefix.
func (h *hashTrie) UniquePrefix(prefix string) (*ConcreteSpec, bool) {
	var found *ConcreteSpec
	n := 0
	h.t.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		found = v.(*ConcreteSpec)
		n++
		return n > 1
	})
	if n != 1 {
		return nil, false
	}
	return found, true
}

// MemReuseSource is a ReuseSource over a fixed in-memory set, the
// form local-store and cache-index adapters reduce to.
type MemReuseSource struct {
	Specs []*ConcreteSpec
}

func (m *MemReuseSource) Query(ctx context.Context, name PackageName, c Constraint) ([]*ConcreteSpec, error) {
	var out []*ConcreteSpec
	for _, cs := range m.Specs {
		if cs.Name == name && cs.Version.Satisfies(c) {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (m *MemReuseSource) All(ctx context.Context) ([]*ConcreteSpec, error) {
	return m.Specs, nil
}
