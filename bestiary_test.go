package crucible

import (
	"fmt"
	"strings"
)

// nvSplit splits an "info" string on " " into name and the rest.
//
// This is for narrow use - panics if there are less than two resulting
// items in the slice.
func nvSplit(info string) (name, rest string) {
	s := strings.SplitN(info, " ", 2)
	if len(s) < 2 {
		panic(fmt.Sprintf("Malformed name/version info string '%s'", info))
	}
	return s[0], s[1]
}

// mkv - make a version, panicking on bad test data.
func mkv(body string) Version {
	v, err := ParseVersion(body)
	if err != nil {
		panic(fmt.Sprintf("Error parsing '%s' as a version: %s", body, err))
	}
	return v
}

// mkc - make a constraint.
func mkc(body string) Constraint {
	c, err := ParseConstraint(body)
	if err != nil {
		panic(fmt.Sprintf("Error parsing '%s' as a constraint: %s", body, err))
	}
	return c
}

// mkspec - make an abstract spec from the request grammar.
func mkspec(body string) *Spec {
	s, err := ParseSpec(body)
	if err != nil {
		panic(fmt.Sprintf("Error parsing '%s' as a spec: %s", body, err))
	}
	return s
}

// mkwhen - make a when-predicate; empty input means unconditional.
func mkwhen(body string) WhenClause {
	if body == "" {
		return nil
	}
	w, err := ParseWhen(body)
	if err != nil {
		panic(fmt.Sprintf("Error parsing '%s' as a when clause: %s", body, err))
	}
	return w
}

// mkpd - make package directives.
//
// The info string is the package name followed by its declared
// versions, newest last. A '*' suffix marks a version preferred, a '!'
// suffix marks it deprecated.
//
// Each dep string is a spec in the request grammar, optionally led by
// paren groups: "(test)", "(run)", "(build)" override the default
// build+link edge type; "(when <expr>)" gates the dependency;
// "(propagate <var>,...)" forces the depender's values down the edge.
func mkpd(info string, deps ...string) *PackageDirectives {
	name, vlist := nvSplit(info)
	pd := &PackageDirectives{
		Name:   PackageName(name),
		Recipe: "recipe-of-" + name,
	}
	for _, vs := range strings.Fields(vlist) {
		vd := VersionDecl{}
		if strings.HasSuffix(vs, "*") {
			vd.Preferred = true
			vs = strings.TrimSuffix(vs, "*")
		}
		if strings.HasSuffix(vs, "!") {
			vd.Deprecated = true
			vs = strings.TrimSuffix(vs, "!")
		}
		vd.Version = mkv(vs)
		pd.Versions = append(pd.Versions, vd)
	}

	for _, dep := range deps {
		dd := DependencyDirective{Types: DepDefault}
		for strings.HasPrefix(dep, "(") {
			end := strings.Index(dep, ")")
			if end < 0 {
				panic(fmt.Sprintf("Malformed dep string '%s'", dep))
			}
			mod := dep[1:end]
			dep = strings.TrimLeft(dep[end+1:], " ")
			switch {
			case mod == "test":
				dd.Types = DepTest
			case mod == "run":
				dd.Types = DepRun
			case mod == "build":
				dd.Types = DepBuild
			case strings.HasPrefix(mod, "when "):
				dd.When = mkwhen(strings.TrimPrefix(mod, "when "))
			case strings.HasPrefix(mod, "propagate "):
				dd.Propagate = strings.Split(strings.TrimPrefix(mod, "propagate "), ",")
			default:
				panic(fmt.Sprintf("Unknown dep modifier '%s'", mod))
			}
		}
		dd.Spec = mkspec(dep)
		pd.Dependencies = append(pd.Dependencies, dd)
	}
	return pd
}

// provides attaches provides directives: each entry is
// "virtual[@constraint]", optionally "virtual@c when <expr>" or
// "virtual@c joint <group>".
func provides(pd *PackageDirectives, entries ...string) *PackageDirectives {
	for _, e := range entries {
		p := ProvidesDirective{}
		if i := strings.Index(e, " joint "); i >= 0 {
			p.JointGroup = e[i+len(" joint "):]
			e = e[:i]
		}
		if i := strings.Index(e, " when "); i >= 0 {
			p.When = mkwhen(e[i+len(" when "):])
			e = e[:i]
		}
		if i := strings.Index(e, "@"); i >= 0 {
			p.Constraint = mkc(e[i+1:])
			e = e[:i]
		}
		p.Virtual = PackageName(e)
		pd.Provides = append(pd.Provides, p)
	}
	return pd
}

// variants attaches variant definitions. Each def is
// "name kind default [allowed...]"; kind is bool, single or multi,
// with a '!' suffix for sticky. A default of "-" means none declared.
func variants(pd *PackageDirectives, defs ...string) *PackageDirectives {
	for _, def := range defs {
		f := strings.Fields(def)
		if len(f) < 3 {
			panic(fmt.Sprintf("Malformed variant def '%s'", def))
		}
		d := VariantDefinition{Name: f[0]}
		kind := f[1]
		if strings.HasSuffix(kind, "!") {
			d.Sticky = true
			kind = strings.TrimSuffix(kind, "!")
		}
		switch kind {
		case "bool":
			d.Kind = VariantBool
			d.Default = BoolValue(f[2] == "true")
		case "single":
			d.Kind = VariantSingle
			if f[2] != "-" {
				d.Default = SingleValue(f[2])
			}
		case "multi":
			d.Kind = VariantMulti
			d.Multi = MultiplicityAnyCombination
			if f[2] != "-" {
				d.Default = MultiValue(strings.Split(f[2], ",")...)
			}
		default:
			panic(fmt.Sprintf("Unknown variant kind '%s'", kind))
		}
		for _, v := range f[3:] {
			d.Values = append(d.Values, DeclaredValue{Value: v})
		}
		pd.Variants = append(pd.Variants, d)
	}
	return pd
}

// conflicts attaches a conflict directive.
func conflicts(pd *PackageDirectives, pattern, when, msg string) *PackageDirectives {
	cd := ConflictDirective{When: mkwhen(when), Message: msg}
	if pattern != "" {
		p, err := parsePattern(pattern)
		if err != nil {
			panic(fmt.Sprintf("Error parsing conflict pattern '%s': %s", pattern, err))
		}
		cd.Pattern = p
	}
	pd.Conflicts = append(pd.Conflicts, cd)
	return pd
}

// requires attaches a requirement directive; policy is "any_of" or
// "one_of".
func requires(pd *PackageDirectives, policy, when string, patterns ...string) *PackageDirectives {
	rd := RequirementDirective{When: mkwhen(when)}
	if policy == "one_of" {
		rd.Policy = RequireOneOf
	}
	for _, ps := range patterns {
		p, err := parsePattern(ps)
		if err != nil {
			panic(fmt.Sprintf("Error parsing requirement pattern '%s': %s", ps, err))
		}
		rd.Patterns = append(rd.Patterns, p)
	}
	pd.Requirements = append(pd.Requirements, rd)
	return pd
}

// patches attaches patch directives; each entry is "id" or
// "id when <expr>".
func patches(pd *PackageDirectives, entries ...string) *PackageDirectives {
	for _, e := range entries {
		p := PatchDirective{}
		if i := strings.Index(e, " when "); i >= 0 {
			p.When = mkwhen(e[i+len(" when "):])
			e = e[:i]
		}
		p.ID = e
		pd.Patches = append(pd.Patches, p)
	}
	return pd
}

// mkresults makes an expected result set from "name version" pairs.
func mkresults(pairs ...string) map[string]string {
	m := make(map[string]string)
	for _, pair := range pairs {
		name, v := nvSplit(pair)
		m[name] = v
	}
	return m
}

// testArch is the architecture every fixture solves for unless its
// config says otherwise.
var testArch = Arch{Platform: "linux", OS: "ubuntu22", Target: "x86_64"}

func mkcfg(mut ...func(*Config)) *Config {
	cfg := &Config{Arch: testArch}
	for _, m := range mut {
		m(cfg)
	}
	return cfg
}

type fixture struct {
	// name of this fixture datum
	n string
	// package universe; roots may name any of them
	pkgs []*PackageDirectives
	// root request specs, in the request grammar
	roots []string
	// configuration; nil means a bare config with the test arch
	cfg *Config
	// reuse pool contents, if any
	reuse []*ConcreteSpec
	// expected results; map of package name to version
	r map[string]string
	// expected variant renderings per package, checked when set
	rv map[string]string
	// max attempts the solver should need. 0 means no limit
	maxAttempts int
	// packages expected to have errors, if any
	errp []string
}

var fixtures = []fixture{
	{
		n: "no dependencies",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0"),
		},
		roots: []string{"root"},
		r:     mkresults("root 1.0"),
	},
	{
		n: "simple dependency tree",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "a", "b"),
			mkpd("a 1.0", "aa", "ab"),
			mkpd("aa 1.0"),
			mkpd("ab 1.0"),
			mkpd("b 1.0", "ba", "bb"),
			mkpd("ba 1.0"),
			mkpd("bb 1.0"),
		},
		roots: []string{"root"},
		r: mkresults(
			"root 1.0",
			"a 1.0", "aa 1.0", "ab 1.0",
			"b 1.0", "ba 1.0", "bb 1.0",
		),
	},
	{
		n: "newest version wins",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0 2.4 3.0"),
		},
		roots: []string{"a"},
		r:     mkresults("a 3.0"),
	},
	{
		n: "preferred version beats newer",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0* 3.0"),
		},
		roots: []string{"a"},
		r:     mkresults("a 2.0"),
	},
	{
		n: "shared dependency with overlapping constraints",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "a", "b"),
			mkpd("a 1.0", "shared@2:3"),
			mkpd("b 1.0", "shared@3:4"),
			mkpd("shared 2.0 3.0 3.6.9 4.0 5.0"),
		},
		roots: []string{"root"},
		r: mkresults(
			"root 1.0",
			"a 1.0",
			"b 1.0",
			"shared 3.6.9",
		),
	},
	{
		n: "shared dependency constrained from the root request",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "a", "shared@:2"),
			mkpd("a 1.0", "shared"),
			mkpd("shared 1.0 2.0 3.0"),
		},
		roots: []string{"root"},
		r: mkresults(
			"root 1.0",
			"a 1.0",
			"shared 2.0",
		),
	},
	{
		n: "backtracks through versions on downstream conflict",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "a", "b"),
			mkpd("a 1.0", "c@1"),
			mkpd("a 2.0", "c@2"),
			mkpd("b 1.0", "c@1"),
			mkpd("c 1.0"),
			mkpd("c 2.0"),
		},
		roots: []string{"root"},
		r: mkresults(
			"root 1.0",
			"a 1.0",
			"b 1.0",
			"c 1.0",
		),
	},
	{
		n: "disjoint constraints on shared dependency fail",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "a", "b"),
			mkpd("a 1.0", "shared@:2"),
			mkpd("b 1.0", "shared@4:"),
			mkpd("shared 1.0 5.0"),
		},
		roots: []string{"root"},
		errp:  []string{"b", "a"},
	},
	{
		n: "infinity version withheld unless pinned",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0 develop"),
		},
		roots: []string{"a"},
		r:     mkresults("a 2.0"),
	},
	{
		n: "infinity version reachable by exact pin",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0 develop"),
		},
		roots: []string{"a@=develop"},
		r:     mkresults("a develop"),
	},
	{
		n: "infinity version reachable by naming it in a range",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 develop"),
		},
		roots: []string{"a@develop"},
		r:     mkresults("a develop"),
	},
	{
		n: "deprecated version withheld unless pinned",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0!"),
		},
		roots: []string{"a"},
		r:     mkresults("a 1.0"),
	},
	{
		n: "deprecated version reachable by exact pin",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0!"),
		},
		roots: []string{"a@=2.0"},
		r:     mkresults("a 2.0"),
	},
	{
		n: "deprecated version reachable by naming it in a range",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0!"),
		},
		roots: []string{"a@2.0"},
		r:     mkresults("a 2.0"),
	},
	{
		n: "variant default commits when nothing asserts it",
		pkgs: []*PackageDirectives{
			variants(mkpd("a 1.0"), "cuda bool false"),
		},
		roots: []string{"a"},
		r:     mkresults("a 1.0"),
		rv:    map[string]string{"a": "~cuda"},
	},
	{
		n: "requested variant value overrides the default",
		pkgs: []*PackageDirectives{
			variants(mkpd("a 1.0"), "cuda bool false"),
		},
		roots: []string{"a+cuda"},
		r:     mkresults("a 1.0"),
		rv:    map[string]string{"a": "+cuda"},
	},
	{
		n: "asserting a nonexistent variant prunes, never ignores",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0"),
		},
		roots: []string{"a+cuda"},
		errp:  []string{"a"},
	},
	{
		n: "conditional dependency activates on variant",
		pkgs: []*PackageDirectives{
			variants(mkpd("a 1.0", "(when +cuda) cudart"), "cuda bool false"),
			mkpd("cudart 11.0 12.0"),
		},
		roots: []string{"a+cuda"},
		r: mkresults(
			"a 1.0",
			"cudart 12.0",
		),
	},
	{
		n: "conditional dependency stays inactive off variant",
		pkgs: []*PackageDirectives{
			variants(mkpd("a 1.0", "(when +cuda) cudart"), "cuda bool false"),
			mkpd("cudart 11.0 12.0"),
		},
		roots: []string{"a"},
		r:     mkresults("a 1.0"),
	},
	{
		n: "conditional constraint tightens by version",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0", "(when @2:) b@2:"),
			mkpd("b 1.0 2.0"),
		},
		roots: []string{"a@2:"},
		r: mkresults(
			"a 2.0",
			"b 2.0",
		),
	},
	{
		n: "variant propagation forces value downstream",
		pkgs: []*PackageDirectives{
			variants(mkpd("a 1.0", "(propagate debug) b"), "debug bool false"),
			variants(mkpd("b 1.0"), "debug bool false"),
		},
		roots: []string{"a+debug"},
		r:     mkresults("a 1.0", "b 1.0"),
		rv:    map[string]string{"a": "+debug", "b": "+debug"},
	},
	{
		n: "conflict directive rejects matching configuration",
		pkgs: []*PackageDirectives{
			conflicts(variants(mkpd("a 1.0 2.0"), "cuda bool false"),
				"+cuda", "@2:", "cuda broken on 2.x"),
		},
		roots: []string{"a@2:+cuda"},
		errp:  []string{"a"},
	},
	{
		n: "conflict drives backtrack to older version",
		pkgs: []*PackageDirectives{
			conflicts(variants(mkpd("a 1.0 2.0"), "cuda bool false"),
				"+cuda", "@2:", "cuda broken on 2.x"),
		},
		roots: []string{"a+cuda"},
		r:     mkresults("a 1.0"),
		rv:    map[string]string{"a": "+cuda"},
	},
	{
		n: "conflict flips a non-sticky variant default",
		pkgs: []*PackageDirectives{
			conflicts(variants(mkpd("a 1.0"), "shared bool true"),
				"+shared", "", "static only"),
		},
		roots: []string{"a"},
		r:     mkresults("a 1.0"),
		rv:    map[string]string{"a": "~shared"},
	},
	{
		n: "sticky variant refuses the flip",
		pkgs: []*PackageDirectives{
			conflicts(variants(mkpd("a 1.0"), "shared bool! true"),
				"+shared", "", "static only"),
		},
		roots: []string{"a"},
		errp:  []string{"a"},
	},
	{
		n: "requirement beats newest-version preference",
		pkgs: []*PackageDirectives{
			requires(mkpd("a 1.0 2.0 3.0"), "any_of", "", "@:2"),
		},
		roots: []string{"a"},
		r:     mkresults("a 2.0"),
	},
	{
		n: "one_of requirement rejects double match",
		pkgs: []*PackageDirectives{
			requires(variants(mkpd("a 1.0"), "x bool true", "y bool true"),
				"one_of", "", "+x", "+y"),
		},
		roots: []string{"a+x+y"},
		errp:  []string{"a"},
	},
	{
		n: "virtual resolves through sole provider",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "mpi"),
			provides(mkpd("mpich 3.2 3.4"), "mpi@3:"),
		},
		roots: []string{"root"},
		r: mkresults(
			"root 1.0",
			"mpich 3.4",
		),
	},
	{
		n: "provider preference order picks the configured provider",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "mpi"),
			provides(mkpd("mpich 3.4"), "mpi@3:"),
			provides(mkpd("openmpi 4.1"), "mpi@3:"),
		},
		roots: []string{"root"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "site",
				All: &PackageRules{
					ProviderOrder: map[PackageName][]PackageName{
						"mpi": {"openmpi", "mpich"},
					},
				},
			}}
		}),
		r: mkresults(
			"root 1.0",
			"openmpi 4.1",
		),
	},
	{
		n: "provider rejected when provides constraint misses request",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "mpi@3:"),
			provides(mkpd("oldmpi 1.0"), "mpi@:2"),
			provides(mkpd("newmpi 1.0"), "mpi@3:"),
		},
		roots: []string{"root"},
		r: mkresults(
			"root 1.0",
			"newmpi 1.0",
		),
	},
	{
		n: "no provider overlaps the requested virtual constraint",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "mpi@4:"),
			provides(mkpd("oldmpi 1.0"), "mpi@:2"),
		},
		roots: []string{"root"},
		errp:  []string{"mpi"},
	},
	{
		n: "joint provision disqualifies subset provider on co-selection",
		pkgs: []*PackageDirectives{
			mkpd("root 1.0", "blas", "lapack"),
			provides(mkpd("netlib-blas 1.0"), "blas"),
			provides(mkpd("openblas 0.3"), "blas joint blaslapack", "lapack joint blaslapack"),
		},
		roots: []string{"root"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "site",
				All: &PackageRules{
					ProviderOrder: map[PackageName][]PackageName{
						"blas": {"netlib-blas", "openblas"},
					},
				},
			}}
		}),
		r: mkresults(
			"root 1.0",
			"openblas 0.3",
		),
	},
	{
		n: "version preference list reorders candidates",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0 3.0"),
		},
		roots: []string{"a"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "user",
				Packages: map[PackageName]*PackageRules{
					"a": {VersionOrder: []Constraint{mkc("2.0")}},
				},
			}}
		}),
		r: mkresults("a 2.0"),
	},
	{
		n: "preference list ranks by list position",
		pkgs: []*PackageDirectives{
			mkpd("a 2.2 2.3 2.4 3.0"),
		},
		roots: []string{"a"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "user",
				Packages: map[PackageName]*PackageRules{
					"a": {VersionOrder: []Constraint{mkc("2.2"), mkc("2.4"), mkc("2.3")}},
				},
			}}
		}),
		r: mkresults("a 2.2"),
	},
	{
		n: "requirement overrides the preference list",
		pkgs: []*PackageDirectives{
			mkpd("a 2.2 2.4 3.0 3.5"),
		},
		roots: []string{"a"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "site",
				Packages: map[PackageName]*PackageRules{
					"a": {
						VersionOrder: []Constraint{mkc("2.4"), mkc("2.2")},
						Requirements: []RequirementDirective{{
							Patterns: []*Spec{mkspec("a@3:")},
						}},
					},
				},
			}}
		}),
		r: mkresults("a 3.5"),
	},
	{
		n: "config requirement is hard, not a preference",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0 3.0"),
		},
		roots: []string{"a"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "site",
				Packages: map[PackageName]*PackageRules{
					"a": {Requirements: []RequirementDirective{{
						Patterns: []*Spec{mkspec("a@:1")},
					}}},
				},
			}}
		}),
		r: mkresults("a 1.0"),
	},
	{
		n: "package rules replace the all scope lists",
		pkgs: []*PackageDirectives{
			mkpd("a 1.0 2.0 3.0"),
		},
		roots: []string{"a"},
		cfg: mkcfg(func(c *Config) {
			c.Scopes = []ConfigScope{{
				Name: "site",
				All:  &PackageRules{VersionOrder: []Constraint{mkc("1.0")}},
				Packages: map[PackageName]*PackageRules{
					"a": {VersionOrder: []Constraint{mkc("2.0")}},
				},
			}}
		}),
		r: mkresults("a 2.0"),
	},
	{
		n: "two roots unify their shared dependency",
		pkgs: []*PackageDirectives{
			mkpd("x 1.0", "shared@:3"),
			mkpd("y 1.0", "shared@2:"),
			mkpd("shared 1.0 2.0 3.0 4.0"),
		},
		roots: []string{"x", "y"},
		r: mkresults(
			"x 1.0",
			"y 1.0",
			"shared 3.0",
		),
	},
	{
		n: "compiler binds per depender through language virtuals",
		pkgs: []*PackageDirectives{
			mkpd("app 1.0", "c"),
			provides(mkpd("gcc 12.0 13.0"), "c", "cxx"),
		},
		roots: []string{"app"},
		r: mkresults(
			"app 1.0",
			"gcc 13.0",
		),
	},
	{
		n: "compiler request pins the provider and version",
		pkgs: []*PackageDirectives{
			mkpd("app 1.0", "c"),
			provides(mkpd("gcc 12.0 13.0"), "c", "cxx"),
			provides(mkpd("llvm 17.0"), "c", "cxx"),
		},
		roots: []string{"app %gcc@12"},
		r: mkresults(
			"app 1.0",
			"gcc 12.0",
		),
	},
	{
		n: "mixed toolchain binds distinct compilers to distinct nodes",
		pkgs: []*PackageDirectives{
			mkpd("app 1.0", "c", "lib %llvm"),
			mkpd("lib 1.0", "c"),
			provides(mkpd("gcc 13.0"), "c", "cxx"),
			provides(mkpd("llvm 17.0"), "c", "cxx"),
		},
		roots: []string{"app %gcc"},
		r: mkresults(
			"app 1.0",
			"lib 1.0",
			"gcc 13.0",
			"llvm 17.0",
		),
	},
	{
		n: "patch applies only under its condition",
		pkgs: []*PackageDirectives{
			patches(variants(mkpd("a 1.0"), "cuda bool false"),
				"always-patch", "cuda-fix when +cuda"),
		},
		roots: []string{"a+cuda"},
		r:     mkresults("a 1.0"),
	},
}
