package crucible

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// SpecHash canonicalizes a concrete node's committed attributes and
// digests them into the stable content identity used for install-path
// naming, cache addressing and deduplication.
//
// The canonical form covers: name, version, variant assignments
// sorted by name, language-provider bindings, architecture, compiler
// flags, the recipe fingerprint, sorted patch identifiers, and the
// sorted hashes of build+link+run dependencies. Test edges are
// excluded from identity. Declaration order never affects the digest.
func SpecHash(cs *ConcreteSpec) (string, error) {
	return hashNode(cs, make(map[*ConcreteSpec]string), make(map[*ConcreteSpec]bool))
}

func hashNode(cs *ConcreteSpec, memo map[*ConcreteSpec]string, inflight map[*ConcreteSpec]bool) (string, error) {
	if h, has := memo[cs]; has {
		return h, nil
	}
	if cs.hash != "" {
		memo[cs] = cs.hash
		return cs.hash, nil
	}
	if inflight[cs] {
		// acyclicity is a DAG invariant; a cycle here means the graph
		// was corrupted after validation
		return "", &HashInvariantViolation{Node: cs.Name, Prob: "cycle reached during hashing"}
	}
	inflight[cs] = true
	defer delete(inflight, cs)

	var depHashes []string
	for _, e := range cs.Edges {
		if e.Types&(DepBuild|DepLink|DepRun) == 0 {
			// test-only edge
			continue
		}
		dh, err := hashNode(e.To, memo, inflight)
		if err != nil {
			return "", err
		}
		depHashes = append(depHashes, fmt.Sprintf("%s=%s", e.To.Name, dh))
	}
	sort.Strings(depHashes)

	var b strings.Builder
	fmt.Fprintf(&b, "name:%s\n", cs.Name)
	fmt.Fprintf(&b, "version:%s\n", cs.Version)
	for _, name := range sortedVariantNames(cs.Variants) {
		fmt.Fprintf(&b, "variant:%s=%s\n", name, cs.Variants[name])
	}
	for _, lang := range sortedKeys(cs.Providers) {
		fmt.Fprintf(&b, "provider:%s=%s\n", lang, cs.Providers[lang])
	}
	for _, lang := range sortedStringKeys(cs.Flags) {
		fmt.Fprintf(&b, "flags:%s=%s\n", lang, cs.Flags[lang])
	}
	fmt.Fprintf(&b, "arch:%s\n", cs.Arch)
	fmt.Fprintf(&b, "recipe:%s\n", cs.Recipe)
	patches := append([]string(nil), cs.Patches...)
	sort.Strings(patches)
	for _, p := range patches {
		fmt.Fprintf(&b, "patch:%s\n", p)
	}
	for _, dh := range depHashes {
		fmt.Fprintf(&b, "dep:%s\n", dh)
	}

	sum := sha256.Sum256([]byte(b.String()))
	h := hex.EncodeToString(sum[:])
	memo[cs] = h
	if cs.frozen {
		cs.hash = h
	}
	return h, nil
}

func sortedStringKeys(m map[string]string) []string {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// stampHashes precomputes and memoizes hashes across a frozen DAG.
func stampHashes(root *ConcreteSpec) error {
	memo := make(map[*ConcreteSpec]string)
	inflight := make(map[*ConcreteSpec]bool)
	var firstErr error
	root.Walk(func(n *ConcreteSpec) {
		if firstErr != nil {
			return
		}
		if _, err := hashNode(n, memo, inflight); err != nil {
			firstErr = err
		}
	})
	return firstErr
}

// Hash returns the node's stamped identity. It is only available on
// frozen nodes produced by a solve.
func (c *ConcreteSpec) Hash() string {
	return c.hash
}

// ShortHash returns the leading n characters of the identity, the
// form used in install paths and /hash references.
func (c *ConcreteSpec) ShortHash(n int) string {
	if n > len(c.hash) {
		n = len(c.hash)
	}
	return c.hash[:n]
}
