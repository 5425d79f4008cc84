package crucible

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SpecParseError reports malformed input to the abstract-spec grammar.
type SpecParseError struct {
	Input string
	Prob  string
}

func (e *SpecParseError) Error() string {
	return "invalid spec " + strconv.Quote(e.Input) + ": " + e.Prob
}

// ParseSpec parses the abstract-spec grammar:
//
//	name[@constraint][+var|~var|var=value ...][%compiler][^dep-spec ...]
//
// A leading "/prefix" instead denotes a reference to a known concrete
// spec by (partial) content hash. Sigil tokens after a ^dep attach to
// that dependency until the next ^.
func ParseSpec(body string) (*Spec, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, &SpecParseError{Input: body, Prob: "empty spec"}
	}
	if strings.HasPrefix(body, "/") {
		ref := body[1:]
		if ref == "" || strings.ContainsAny(ref, " \t") {
			return nil, &SpecParseError{Input: body, Prob: "malformed hash reference"}
		}
		return &Spec{HashRef: ref}, nil
	}

	toks, err := lexSpec(body)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 || toks[0].sigil != sigilName {
		return nil, &SpecParseError{Input: body, Prob: "spec must begin with a package name"}
	}
	return assembleSpec(body, toks, false)
}

// ParseAnonymousSpec parses constraint syntax with no leading package
// name, as used by when-predicates ("@2: +cuda %gcc").
func ParseAnonymousSpec(body string) (*Spec, error) {
	body = strings.TrimSpace(body)
	toks, err := lexSpec(body)
	if err != nil {
		return nil, err
	}
	return assembleSpec(body, toks, true)
}

// MustParseSpec is ParseSpec, panicking on error.
func MustParseSpec(body string) *Spec {
	s, err := ParseSpec(body)
	if err != nil {
		panic(err)
	}
	return s
}

type sigil uint8

const (
	sigilName sigil = iota
	sigilVersion
	sigilPlusVar
	sigilTildeVar
	sigilKeyValue
	sigilCompiler
	sigilDep
)

type specToken struct {
	sigil sigil
	body  string
}

const wordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._-"
const constraintChars = wordChars + ",:="

func lexSpec(body string) ([]specToken, error) {
	var toks []specToken
	i := 0
	n := len(body)
	scan := func(allowed string) string {
		start := i
		for i < n && strings.IndexByte(allowed, body[i]) >= 0 {
			i++
		}
		return body[start:i]
	}

	for i < n {
		c := body[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '@':
			i++
			w := scan(constraintChars)
			if w == "" {
				return nil, &SpecParseError{Input: body, Prob: "@ with no version constraint"}
			}
			toks = append(toks, specToken{sigilVersion, w})
		case c == '+':
			i++
			w := scan(wordChars)
			if w == "" {
				return nil, &SpecParseError{Input: body, Prob: "+ with no variant name"}
			}
			toks = append(toks, specToken{sigilPlusVar, w})
		case c == '~':
			i++
			w := scan(wordChars)
			if w == "" {
				return nil, &SpecParseError{Input: body, Prob: "~ with no variant name"}
			}
			toks = append(toks, specToken{sigilTildeVar, w})
		case c == '%':
			i++
			w := scan(wordChars)
			if w == "" {
				return nil, &SpecParseError{Input: body, Prob: "% with no compiler name"}
			}
			toks = append(toks, specToken{sigilCompiler, w})
		case c == '^':
			i++
			w := scan(wordChars)
			if w == "" {
				return nil, &SpecParseError{Input: body, Prob: "^ with no dependency name"}
			}
			toks = append(toks, specToken{sigilDep, w})
		case strings.IndexByte(wordChars, c) >= 0:
			w := scan(wordChars)
			if i < n && body[i] == '=' {
				i++
				v := scan(wordChars + ",")
				if v == "" {
					return nil, &SpecParseError{Input: body, Prob: "variant " + w + " assigned no value"}
				}
				toks = append(toks, specToken{sigilKeyValue, w + "=" + v})
			} else {
				toks = append(toks, specToken{sigilName, w})
			}
		default:
			return nil, &SpecParseError{Input: body, Prob: "unexpected character " + string(c)}
		}
	}
	return toks, nil
}

func assembleSpec(body string, toks []specToken, anonymous bool) (*Spec, error) {
	root := &Spec{}
	cur := root
	// whether the most recent sigil was %compiler, so a following @
	// binds the compiler's version rather than the package's
	var inCompiler bool

	for idx, t := range toks {
		switch t.sigil {
		case sigilName:
			if idx == 0 && !anonymous {
				root.Name = PackageName(t.body)
				continue
			}
			return nil, &SpecParseError{Input: body, Prob: "stray token " + t.body}
		case sigilVersion:
			c, err := ParseConstraint(t.body)
			if err != nil {
				return nil, errors.Wrapf(err, "parsing spec %q", body)
			}
			if inCompiler {
				cur.Compiler.Version = intersectConstraints(cur.Compiler.Version, c)
				inCompiler = false
			} else {
				cur.ConstrainVersion(c)
			}
			continue
		case sigilPlusVar:
			cur.SetVariant(t.body, BoolValue(true))
		case sigilTildeVar:
			cur.SetVariant(t.body, BoolValue(false))
		case sigilKeyValue:
			eq := strings.IndexByte(t.body, '=')
			key, val := t.body[:eq], t.body[eq+1:]
			if key == "arch" {
				a, err := parseArch(val)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing spec %q", body)
				}
				cur.Arch = &a
			} else {
				vals := strings.Split(val, ",")
				if len(vals) == 1 {
					cur.SetVariant(key, SingleValue(val))
				} else {
					cur.SetVariant(key, MultiValue(vals...))
				}
			}
		case sigilCompiler:
			cur.Compiler = &CompilerSpec{Name: PackageName(t.body)}
			inCompiler = true
			continue
		case sigilDep:
			d := &Spec{Name: PackageName(t.body)}
			root.Deps = append(root.Deps, d)
			cur = d
		}
		inCompiler = false
	}

	if anonymous && root.Name != "" {
		return nil, &SpecParseError{Input: body, Prob: "anonymous spec must not name a package"}
	}
	return root, nil
}

func parseArch(val string) (Arch, error) {
	parts := strings.SplitN(val, "-", 3)
	if len(parts) != 3 {
		return Arch{}, errors.Errorf("arch %q is not a platform-os-target triplet", val)
	}
	return Arch{Platform: parts[0], OS: parts[1], Target: parts[2]}, nil
}
