package crucible

import (
	"fmt"
	"strings"
)

// Tristate is the result of evaluating a when-predicate against a
// partially committed node. Undecided means the predicate depends on
// an attribute not yet fixed; the solver defers such directives and
// re-evaluates as attributes commit.
type Tristate uint8

const (
	TriUndecided Tristate = iota
	TriFalse
	TriTrue
)

func (t Tristate) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	}
	return "undecided"
}

// AttrView exposes the committed attributes of a (possibly partial)
// node to predicate evaluation. The second return reports whether the
// attribute has been committed yet.
type AttrView interface {
	AttrName() PackageName
	AttrVersion() (Version, bool)
	AttrVariant(name string) (VariantValue, bool)
	AttrProvider(lang string) (PackageName, bool)
	AttrArch() (Arch, bool)
}

// WhenClause is a predicate over node attributes, re-evaluable as
// attributes are progressively committed.
type WhenClause interface {
	fmt.Stringer
	Eval(n AttrView) Tristate
}

// evalWhen treats a nil clause as unconditionally true.
func evalWhen(w WhenClause, n AttrView) Tristate {
	if w == nil {
		return TriTrue
	}
	return w.Eval(n)
}

// WhenAlways is the always-true predicate.
func WhenAlways() WhenClause {
	return alwaysClause{}
}

type alwaysClause struct{}

func (alwaysClause) String() string        { return "true" }
func (alwaysClause) Eval(AttrView) Tristate { return TriTrue }

// WhenAll conjoins clauses. An empty conjunction is true.
func WhenAll(ws ...WhenClause) WhenClause {
	if len(ws) == 1 {
		return ws[0]
	}
	return andClause(ws)
}

type andClause []WhenClause

func (c andClause) String() string {
	return joinClauses(c, " and ")
}

func (c andClause) Eval(n AttrView) Tristate {
	out := TriTrue
	for _, w := range c {
		switch evalWhen(w, n) {
		case TriFalse:
			return TriFalse
		case TriUndecided:
			out = TriUndecided
		}
	}
	return out
}

// WhenAnyOf disjoins clauses. Directive merge accumulates when-clauses
// with OR, so this is also the flattening combinator.
func WhenAnyOf(ws ...WhenClause) WhenClause {
	if len(ws) == 1 {
		return ws[0]
	}
	return orClause(ws)
}

type orClause []WhenClause

func (c orClause) String() string {
	return joinClauses(c, " or ")
}

func (c orClause) Eval(n AttrView) Tristate {
	out := TriFalse
	for _, w := range c {
		// nil members of a disjunction are unconditional matches
		switch evalWhen(w, n) {
		case TriTrue:
			return TriTrue
		case TriUndecided:
			out = TriUndecided
		}
	}
	return out
}

// WhenNot negates a clause; undecided stays undecided.
func WhenNot(w WhenClause) WhenClause {
	return notClause{w: w}
}

type notClause struct {
	w WhenClause
}

func (c notClause) String() string {
	return "not (" + c.w.String() + ")"
}

func (c notClause) Eval(n AttrView) Tristate {
	switch evalWhen(c.w, n) {
	case TriTrue:
		return TriFalse
	case TriFalse:
		return TriTrue
	}
	return TriUndecided
}

func joinClauses(ws []WhenClause, sep string) string {
	parts := make([]string, 0, len(ws))
	for _, w := range ws {
		if w == nil {
			parts = append(parts, "true")
			continue
		}
		parts = append(parts, w.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// WhenVersion holds when the node's committed version satisfies c.
func WhenVersion(c Constraint) WhenClause {
	return versionClause{c: c}
}

type versionClause struct {
	c Constraint
}

func (c versionClause) String() string {
	return "@" + c.c.String()
}

func (c versionClause) Eval(n AttrView) Tristate {
	v, ok := n.AttrVersion()
	if !ok {
		return TriUndecided
	}
	if c.c.Matches(v) {
		return TriTrue
	}
	return TriFalse
}

// WhenVariant holds when the named variant is committed to val.
func WhenVariant(name string, val VariantValue) WhenClause {
	return variantClause{name: name, val: val}
}

type variantClause struct {
	name string
	val  VariantValue
}

func (c variantClause) String() string {
	return c.val.Render(c.name)
}

func (c variantClause) Eval(n AttrView) Tristate {
	v, ok := n.AttrVariant(c.name)
	if !ok {
		return TriUndecided
	}
	// for multi variants, requiring a value means set membership
	if len(c.val.List()) > 0 && !c.val.IsBool() && len(v.List()) > len(c.val.List()) {
		for _, want := range c.val.List() {
			if !v.Contains(want) {
				return TriFalse
			}
		}
		return TriTrue
	}
	if v.Equal(c.val) {
		return TriTrue
	}
	return TriFalse
}

// WhenProvider holds when the named provider is bound for lang.
func WhenProvider(lang string, provider PackageName) WhenClause {
	return providerClause{lang: lang, provider: provider}
}

type providerClause struct {
	lang     string
	provider PackageName
}

func (c providerClause) String() string {
	return "%" + string(c.provider) + " for " + c.lang
}

func (c providerClause) Eval(n AttrView) Tristate {
	p, ok := n.AttrProvider(c.lang)
	if !ok {
		return TriUndecided
	}
	if p == c.provider {
		return TriTrue
	}
	return TriFalse
}

// WhenTarget holds when the node's architecture matches the given
// fields; empty fields are wildcards.
func WhenTarget(platform, os, target string) WhenClause {
	return archClause{platform: platform, os: os, target: target}
}

type archClause struct {
	platform, os, target string
}

func (c archClause) String() string {
	return fmt.Sprintf("arch=%s-%s-%s", orAnyStr(c.platform), orAnyStr(c.os), orAnyStr(c.target))
}

func orAnyStr(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func (c archClause) Eval(n AttrView) Tristate {
	a, ok := n.AttrArch()
	if !ok {
		return TriUndecided
	}
	if c.platform != "" && a.Platform != c.platform {
		return TriFalse
	}
	if c.os != "" && a.OS != c.os {
		return TriFalse
	}
	if c.target != "" && a.Target != c.target {
		return TriFalse
	}
	return TriTrue
}

// WhenSpec matches the node against an abstract spec's constraints:
// name (if set), version constraint, variant assignments and compiler
// binding all must hold. This is the predicate form produced by
// parsing "when" strings in registry indices.
func WhenSpec(s *Spec) WhenClause {
	return specClause{s: s}
}

// ParseWhen parses a when-predicate in the anonymous-spec grammar
// ("@2: +cuda %gcc").
func ParseWhen(body string) (WhenClause, error) {
	s, err := ParseAnonymousSpec(body)
	if err != nil {
		return nil, err
	}
	return specClause{s: s}, nil
}

// MustParseWhen is ParseWhen, panicking on error.
func MustParseWhen(body string) WhenClause {
	w, err := ParseWhen(body)
	if err != nil {
		panic(err)
	}
	return w
}

type specClause struct {
	s *Spec
}

func (c specClause) String() string {
	return c.s.String()
}

func (c specClause) Eval(n AttrView) Tristate {
	out := TriTrue
	merge := func(t Tristate) {
		switch t {
		case TriFalse:
			out = TriFalse
		case TriUndecided:
			if out != TriFalse {
				out = TriUndecided
			}
		}
	}

	if c.s.Name != "" && c.s.Name != n.AttrName() {
		return TriFalse
	}
	if c.s.Version != nil {
		merge(versionClause{c: c.s.Version}.Eval(n))
	}
	for name, val := range c.s.Variants {
		merge(variantClause{name: name, val: val}.Eval(n))
	}
	if c.s.Compiler != nil {
		merge(compilerBindingTristate(c.s.Compiler, n))
	}
	if c.s.Arch != nil {
		merge(archClause{platform: c.s.Arch.Platform, os: c.s.Arch.OS, target: c.s.Arch.Target}.Eval(n))
	}
	return out
}

// compilerBindingTristate checks a %compiler constraint against any of
// the node's language provider bindings.
func compilerBindingTristate(cs *CompilerSpec, n AttrView) Tristate {
	out := TriFalse
	undecided := false
	for _, lang := range languageVirtuals {
		p, ok := n.AttrProvider(lang)
		if !ok {
			undecided = true
			continue
		}
		if p == cs.Name {
			out = TriTrue
		}
	}
	if out == TriTrue {
		return TriTrue
	}
	if undecided {
		return TriUndecided
	}
	return TriFalse
}
