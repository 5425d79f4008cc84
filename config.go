package crucible

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// PackageRules is one scope's entry for a package (or for the "all"
// pseudo-package): hard requirements, hard conflicts, and ordered soft
// preferences.
type PackageRules struct {
	Requirements []RequirementDirective
	Conflicts    []ConflictDirective
	// VersionOrder lists version constraints in descending preference.
	VersionOrder []Constraint
	VariantPrefs map[string]VariantValue
	// ProviderOrder lists providers per virtual in descending
	// preference.
	ProviderOrder map[PackageName][]PackageName
	TargetOrder   []string
}

// ConfigScope is one configuration scope, already ordered by the
// caller. Scope include/merge order is whatever the caller serialized;
// the core concatenates in list order and does not reorder.
type ConfigScope struct {
	Name     string
	All      *PackageRules
	Packages map[PackageName]*PackageRules
}

// Toolchain is a named bundle of per-language provider and flag
// constraints. It is pure sugar: expansion applies each entry only at
// nodes that actually require that language.
type Toolchain struct {
	Name    string
	Entries []ToolchainEntry
}

// ToolchainEntry binds one language to a provider, optionally with
// flags and a gate condition.
type ToolchainEntry struct {
	Lang     string
	Provider PackageName
	Version  Constraint
	Flags    string
	When     WhenClause
}

// Config is the immutable configuration snapshot passed explicitly
// into each solve.
type Config struct {
	Scopes     []ConfigScope
	Arch       Arch
	Toolchains []Toolchain
}

// Toolchain returns the named toolchain, or nil.
func (c *Config) Toolchain(name string) *Toolchain {
	if c == nil {
		return nil
	}
	for i := range c.Toolchains {
		if c.Toolchains[i].Name == name {
			return &c.Toolchains[i]
		}
	}
	return nil
}

// RulesFor produces the effective rule set for one package: scope
// entries concatenate in scope order, except that any package-specific
// list fully replaces the corresponding list from the "all" scope
// entries. That replacement (rather than merge) is documented,
// intentional behavior.
func (c *Config) RulesFor(name PackageName) PackageRules {
	var out PackageRules
	if c == nil {
		return out
	}

	var all, pkg PackageRules
	for _, sc := range c.Scopes {
		if sc.All != nil {
			appendRules(&all, sc.All)
		}
		if pr, has := sc.Packages[name]; has {
			appendRules(&pkg, pr)
		}
	}

	out.Requirements = replaceOrFallbackReqs(pkg.Requirements, all.Requirements)
	out.Conflicts = replaceOrFallbackConflicts(pkg.Conflicts, all.Conflicts)
	out.VersionOrder = replaceOrFallbackConstraints(pkg.VersionOrder, all.VersionOrder)
	out.TargetOrder = replaceOrFallbackStrings(pkg.TargetOrder, all.TargetOrder)

	if len(pkg.VariantPrefs) > 0 {
		out.VariantPrefs = pkg.VariantPrefs
	} else {
		out.VariantPrefs = all.VariantPrefs
	}

	out.ProviderOrder = make(map[PackageName][]PackageName)
	for v, order := range all.ProviderOrder {
		out.ProviderOrder[v] = order
	}
	// per-virtual replacement, not concatenation
	for v, order := range pkg.ProviderOrder {
		out.ProviderOrder[v] = order
	}

	return out
}

func appendRules(dst *PackageRules, src *PackageRules) {
	dst.Requirements = append(dst.Requirements, src.Requirements...)
	dst.Conflicts = append(dst.Conflicts, src.Conflicts...)
	dst.VersionOrder = append(dst.VersionOrder, src.VersionOrder...)
	dst.TargetOrder = append(dst.TargetOrder, src.TargetOrder...)
	if len(src.VariantPrefs) > 0 {
		if dst.VariantPrefs == nil {
			dst.VariantPrefs = make(map[string]VariantValue)
		}
		for k, v := range src.VariantPrefs {
			dst.VariantPrefs[k] = v
		}
	}
	if len(src.ProviderOrder) > 0 {
		if dst.ProviderOrder == nil {
			dst.ProviderOrder = make(map[PackageName][]PackageName)
		}
		for k, v := range src.ProviderOrder {
			dst.ProviderOrder[k] = append(dst.ProviderOrder[k], v...)
		}
	}
}

func replaceOrFallbackReqs(pkg, all []RequirementDirective) []RequirementDirective {
	if len(pkg) > 0 {
		return pkg
	}
	return all
}

func replaceOrFallbackConflicts(pkg, all []ConflictDirective) []ConflictDirective {
	if len(pkg) > 0 {
		return pkg
	}
	return all
}

func replaceOrFallbackConstraints(pkg, all []Constraint) []Constraint {
	if len(pkg) > 0 {
		return pkg
	}
	return all
}

func replaceOrFallbackStrings(pkg, all []string) []string {
	if len(pkg) > 0 {
		return pkg
	}
	return all
}

// YAML config schema, decoded from pre-loaded bytes.

type configYAML struct {
	Arch       Arch            `yaml:"arch"`
	Scopes     []scopeYAML     `yaml:"scopes"`
	Toolchains []toolchainYAML `yaml:"toolchains"`
}

type scopeYAML struct {
	Name     string               `yaml:"name"`
	Packages map[string]rulesYAML `yaml:"packages"`
}

type rulesYAML struct {
	Require      []requirementYAML           `yaml:"require"`
	Conflicts    []conflictYAML              `yaml:"conflicts"`
	VersionOrder []string                    `yaml:"version_order"`
	Variants     string                      `yaml:"variants"`
	Providers    map[string][]string         `yaml:"providers"`
	Targets      []string                    `yaml:"targets"`
}

type toolchainYAML struct {
	Name    string               `yaml:"name"`
	Entries []toolchainEntryYAML `yaml:"entries"`
}

type toolchainEntryYAML struct {
	Lang     string `yaml:"lang"`
	Provider string `yaml:"provider"`
	Version  string `yaml:"version"`
	Flags    string `yaml:"flags"`
	When     string `yaml:"when"`
}

// DecodeConfig builds a Config snapshot from a YAML document held in
// memory. Scope order in the document is preserved verbatim.
func DecodeConfig(data []byte) (*Config, error) {
	var cy configYAML
	if err := yaml.Unmarshal(data, &cy); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	cfg := &Config{Arch: cy.Arch}
	for _, sy := range cy.Scopes {
		sc := ConfigScope{Name: sy.Name, Packages: make(map[PackageName]*PackageRules)}
		for name, ry := range sy.Packages {
			pr, err := decodeRules(ry)
			if err != nil {
				return nil, errors.Wrapf(err, "scope %s, package %s", sy.Name, name)
			}
			if name == "all" {
				sc.All = pr
			} else {
				sc.Packages[PackageName(name)] = pr
			}
		}
		cfg.Scopes = append(cfg.Scopes, sc)
	}

	for _, ty := range cy.Toolchains {
		tc := Toolchain{Name: ty.Name}
		for _, ey := range ty.Entries {
			e := ToolchainEntry{
				Lang:     ey.Lang,
				Provider: PackageName(ey.Provider),
				Flags:    ey.Flags,
			}
			if ey.Version != "" {
				c, err := ParseConstraint(ey.Version)
				if err != nil {
					return nil, errors.Wrapf(err, "toolchain %s", ty.Name)
				}
				e.Version = c
			}
			if ey.When != "" {
				w, err := ParseWhen(ey.When)
				if err != nil {
					return nil, errors.Wrapf(err, "toolchain %s", ty.Name)
				}
				e.When = w
			}
			tc.Entries = append(tc.Entries, e)
		}
		cfg.Toolchains = append(cfg.Toolchains, tc)
	}

	return cfg, nil
}

func decodeRules(ry rulesYAML) (*PackageRules, error) {
	pr := &PackageRules{}

	for _, req := range ry.Require {
		var pats []*Spec
		for _, s := range req.Specs {
			pat, err := parsePattern(s)
			if err != nil {
				return nil, err
			}
			pats = append(pats, pat)
		}
		pol := RequireAnyOf
		if req.Policy == "one_of" {
			pol = RequireOneOf
		}
		when, err := decodeWhen(req.When)
		if err != nil {
			return nil, err
		}
		pr.Requirements = append(pr.Requirements, RequirementDirective{
			Patterns: pats,
			Policy:   pol,
			When:     when,
			Message:  req.Message,
		})
	}

	for _, cy := range ry.Conflicts {
		pat, err := parsePattern(cy.Pattern)
		if err != nil {
			return nil, err
		}
		when, err := decodeWhen(cy.When)
		if err != nil {
			return nil, err
		}
		pr.Conflicts = append(pr.Conflicts, ConflictDirective{
			Pattern: pat,
			When:    when,
			Message: cy.Message,
		})
	}

	for _, vs := range ry.VersionOrder {
		c, err := ParseConstraint(vs)
		if err != nil {
			return nil, err
		}
		pr.VersionOrder = append(pr.VersionOrder, c)
	}

	if ry.Variants != "" {
		s, err := ParseAnonymousSpec(ry.Variants)
		if err != nil {
			return nil, err
		}
		pr.VariantPrefs = s.Variants
	}

	if len(ry.Providers) > 0 {
		pr.ProviderOrder = make(map[PackageName][]PackageName, len(ry.Providers))
		for v, order := range ry.Providers {
			names := make([]PackageName, 0, len(order))
			for _, n := range order {
				names = append(names, PackageName(n))
			}
			pr.ProviderOrder[PackageName(v)] = names
		}
	}

	pr.TargetOrder = ry.Targets
	return pr, nil
}
