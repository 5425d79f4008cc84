package crucible

import (
	"fmt"
	"sort"
	"strings"
)

// VariantKind distinguishes boolean, single-valued and multi-valued
// variants.
type VariantKind uint8

const (
	VariantBool VariantKind = iota
	VariantSingle
	VariantMulti
)

func (k VariantKind) String() string {
	switch k {
	case VariantBool:
		return "bool"
	case VariantSingle:
		return "single"
	case VariantMulti:
		return "multi"
	}
	return "unknown"
}

// Multiplicity validators for multi-valued variants.
type Multiplicity uint8

const (
	// MultiplicityNone admits exactly one of the declared values.
	MultiplicityNone Multiplicity = iota
	// MultiplicityAnyCombination admits any nonempty subset.
	MultiplicityAnyCombination
	// MultiplicityDisjointSets admits subsets drawn from exactly one of
	// the declared disjoint value groups.
	MultiplicityDisjointSets
)

// VariantValue is a committed value for a variant: one flag for bool
// variants, one string for single-valued, a set for multi-valued.
// The zero value means "unset".
type VariantValue struct {
	vals []string
}

// BoolValue builds a boolean variant value.
func BoolValue(b bool) VariantValue {
	if b {
		return VariantValue{vals: []string{"true"}}
	}
	return VariantValue{vals: []string{"false"}}
}

// SingleValue builds a single-valued variant value.
func SingleValue(v string) VariantValue {
	return VariantValue{vals: []string{v}}
}

// MultiValue builds a multi-valued variant value. Values are stored
// sorted and deduplicated, so construction order never leaks into
// comparisons or hashing.
func MultiValue(vs ...string) VariantValue {
	seen := make(map[string]struct{}, len(vs))
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if _, has := seen[v]; !has {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return VariantValue{vals: out}
}

// IsSet reports whether the value carries anything at all.
func (v VariantValue) IsSet() bool {
	return len(v.vals) > 0
}

// IsBool reports whether the value is one of the boolean literals.
func (v VariantValue) IsBool() bool {
	return len(v.vals) == 1 && (v.vals[0] == "true" || v.vals[0] == "false")
}

// Bool returns the boolean interpretation; false for non-bool values.
func (v VariantValue) Bool() bool {
	return len(v.vals) == 1 && v.vals[0] == "true"
}

// List returns the committed values in canonical order.
func (v VariantValue) List() []string {
	return v.vals
}

// Single returns the sole value, or "" if unset or multiple.
func (v VariantValue) Single() string {
	if len(v.vals) != 1 {
		return ""
	}
	return v.vals[0]
}

// Contains reports set membership.
func (v VariantValue) Contains(s string) bool {
	for _, x := range v.vals {
		if x == s {
			return true
		}
	}
	return false
}

// Equal is set equality.
func (v VariantValue) Equal(o VariantValue) bool {
	if len(v.vals) != len(o.vals) {
		return false
	}
	for i := range v.vals {
		if v.vals[i] != o.vals[i] {
			return false
		}
	}
	return true
}

func (v VariantValue) String() string {
	return strings.Join(v.vals, ",")
}

// Render produces spec-grammar syntax for a named variant value:
// "+name"/"~name" for booleans, "name=a,b" otherwise.
func (v VariantValue) Render(name string) string {
	if v.IsBool() {
		if v.Bool() {
			return "+" + name
		}
		return "~" + name
	}
	return name + "=" + v.String()
}

// DeclaredValue is one allowed value of a variant, optionally gated by
// a when-predicate.
type DeclaredValue struct {
	Value string
	When  WhenClause
}

// VariantDefinition declares a variant on a package.
type VariantDefinition struct {
	Name    string
	Kind    VariantKind
	Values  []DeclaredValue
	Multi   Multiplicity
	// Disjoint value groups, consulted when Multi is
	// MultiplicityDisjointSets.
	Groups  [][]string
	Default VariantValue
	// Sticky variants may only take the user-requested value or the
	// default; the solver never substitutes alternatives.
	Sticky bool
	// When gates the existence of the variant itself.
	When WhenClause
}

// VariantValidationError reports an inadmissible variant value.
type VariantValidationError struct {
	Pkg     PackageName
	Variant string
	Value   VariantValue
	Prob    string
}

func (e *VariantValidationError) Error() string {
	return fmt.Sprintf("invalid value %q for variant %q of package %s: %s",
		e.Value, e.Variant, e.Pkg, e.Prob)
}

// Validate checks a committed value against the definition, evaluating
// declared-value conditions against the (fully or partially committed)
// node n. Undecided value conditions are treated as admissible; the
// solver re-validates once the node is complete.
func (d *VariantDefinition) Validate(pkg PackageName, val VariantValue, n AttrView) error {
	fail := func(prob string) error {
		return &VariantValidationError{Pkg: pkg, Variant: d.Name, Value: val, Prob: prob}
	}

	if !val.IsSet() {
		return fail("no value committed")
	}

	switch d.Kind {
	case VariantBool:
		if !val.IsBool() {
			return fail("boolean variant requires true or false")
		}
		return nil
	case VariantSingle:
		if len(val.List()) != 1 {
			return fail("single-valued variant committed with multiple values")
		}
	case VariantMulti:
		switch d.Multi {
		case MultiplicityNone:
			if len(val.List()) != 1 {
				return fail("variant admits exactly one value")
			}
		case MultiplicityDisjointSets:
			if !inOneGroup(d.Groups, val.List()) {
				return fail("values span more than one disjoint value group")
			}
		}
	}

	if len(d.Values) == 0 {
		return nil
	}
	for _, want := range val.List() {
		if !d.valueAllowed(want, n) {
			return fail(fmt.Sprintf("value %q is not among the declared values", want))
		}
	}
	return nil
}

func (d *VariantDefinition) valueAllowed(want string, n AttrView) bool {
	for _, dv := range d.Values {
		if dv.Value != want {
			continue
		}
		if dv.When == nil {
			return true
		}
		// False rules the value out; True and Undecided both pass
		// here, with a final re-validation on the committed node.
		if dv.When.Eval(n) != TriFalse {
			return true
		}
	}
	return false
}

func inOneGroup(groups [][]string, vals []string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		all := true
		for _, v := range vals {
			found := false
			for _, gv := range g {
				if gv == v {
					found = true
					break
				}
			}
			if !found {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// allowedValues enumerates the values a solver may try for this
// variant on node n, honoring per-value conditions. Bool variants
// report the two literals. Free-form variants report nothing.
func (d *VariantDefinition) allowedValues(n AttrView) []string {
	if d.Kind == VariantBool {
		return []string{"true", "false"}
	}
	out := make([]string, 0, len(d.Values))
	for _, dv := range d.Values {
		if dv.When == nil || dv.When.Eval(n) != TriFalse {
			out = append(out, dv.Value)
		}
	}
	return out
}
