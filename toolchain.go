package crucible

// Language virtuals. A package that needs a compiler for a language
// declares an ordinary dependency on the virtual; compilers are the
// packages providing them.
var languageVirtuals = []string{"c", "cxx", "fortran"}

func isLanguageVirtual(name PackageName) bool {
	for _, l := range languageVirtuals {
		if PackageName(l) == name {
			return true
		}
	}
	return false
}

// langRefSep scopes language-virtual references per depender, so
// different nodes of one DAG may bind different compilers (a mixed
// toolchain) while each node keeps exactly one provider per language.
const langRefSep = "%for%"

func scopedLangRef(virtual, depender PackageName) PackageName {
	return virtual + langRefSep + depender
}

// splitLangRef undoes scopedLangRef; ok is false for ordinary refs.
func splitLangRef(ref PackageName) (virtual, depender PackageName, ok bool) {
	s := string(ref)
	for i := 0; i+len(langRefSep) <= len(s); i++ {
		if s[i:i+len(langRefSep)] == langRefSep {
			return PackageName(s[:i]), PackageName(s[i+len(langRefSep):]), true
		}
	}
	return ref, "", false
}

// compilerFilter is the per-node compiler constraint a %compiler
// request or a toolchain entry expands into.
type compilerFilter struct {
	provider PackageName
	version  Constraint
	flags    string
}

// expandCompilerRequest translates a node's %name request into
// per-language filters. A name matching a configured toolchain
// expands its entries; anything else pins every language to that one
// provider. Entries apply only if their gate holds for the node. The
// filter map is consulted lazily per language dependency, so toolchains
// never constrain packages that do not require the language.
func expandCompilerRequest(cfg *Config, cs *CompilerSpec, n AttrView) map[string]compilerFilter {
	out := make(map[string]compilerFilter)
	if cs == nil {
		return out
	}
	if tc := cfg.Toolchain(string(cs.Name)); tc != nil {
		for _, e := range tc.Entries {
			if e.When != nil && e.When.Eval(n) == TriFalse {
				continue
			}
			out[e.Lang] = compilerFilter{provider: e.Provider, version: e.Version, flags: e.Flags}
		}
		return out
	}
	for _, lang := range languageVirtuals {
		out[lang] = compilerFilter{provider: cs.Name, version: cs.Version}
	}
	return out
}
