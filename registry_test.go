package crucible

import "testing"

const sampleIndexYAML = `
packages:
  openmpi:
    recipe: sha-openmpi-1
    versions:
      - "4.1.6"
      - version: "4.1.5"
        preferred: true
      - version: "3.1.0"
        deprecated: true
      - "git.main"
    variants:
      - name: cuda
      - name: fabrics
        kind: multi
        multiplicity: any
        values: [ofi, ucx, verbs]
        default: "ofi,ucx"
      - name: scheduler
        kind: single
        values: [slurm, pbs, none]
        value_whens: ["", "@4:", ""]
        default: none
        sticky: true
    dependencies:
      - spec: "hwloc@2:"
      - spec: "cuda"
        when: "+cuda"
        types: "build,link"
      - spec: "perl"
        types: "build"
        propagate: [cuda]
    provides:
      - virtual: mpi
        versions: "3.1"
    conflicts:
      - pattern: "%nvhpc"
        when: "@:4.0"
        message: "nvhpc builds start at 4.1"
    requirements:
      - policy: one_of
        specs: ["+cuda", "~cuda"]
    patches:
      - id: fix-ucx-race
        when: "@4.1:"
  mpich:
    provides:
      - virtual: mpi
  hwloc: {}
  cuda: {}
  perl: {}
`

func decodeIndex(t *testing.T) *MemRegistry {
	t.Helper()
	reg, err := DecodeRegistry([]byte(sampleIndexYAML))
	if err != nil {
		t.Fatalf("DecodeRegistry failed: %s", err)
	}
	return reg
}

func TestDecodeRegistry(t *testing.T) {
	reg := decodeIndex(t)

	pd, err := reg.Directives("openmpi")
	if err != nil {
		t.Fatalf("Directives(openmpi) failed: %s", err)
	}
	if pd.Recipe != "sha-openmpi-1" {
		t.Errorf("recipe = %q", pd.Recipe)
	}

	if len(pd.Versions) != 4 {
		t.Fatalf("versions = %d", len(pd.Versions))
	}
	if pd.Versions[0].Preferred || !pd.Versions[1].Preferred {
		t.Error("preferred flag on the wrong declaration")
	}
	if !pd.Versions[2].Deprecated {
		t.Error("deprecated flag lost")
	}
	if !pd.Versions[3].Version.IsGitRef() {
		t.Error("ref version lost its reference identity")
	}

	if len(pd.Variants) != 3 {
		t.Fatalf("variants = %d", len(pd.Variants))
	}
	cuda := pd.Variants[0]
	if cuda.Kind != VariantBool || cuda.Default.Bool() {
		t.Error("bare variant must default to bool false")
	}
	fab := pd.Variants[1]
	if fab.Kind != VariantMulti || fab.Multi != MultiplicityAnyCombination {
		t.Error("multi variant kind lost")
	}
	if fab.Default.String() != "ofi,ucx" {
		t.Errorf("multi default = %q", fab.Default)
	}
	sched := pd.Variants[2]
	if !sched.Sticky || sched.Kind != VariantSingle {
		t.Error("sticky single variant lost")
	}
	if sched.Values[1].When == nil || sched.Values[0].When != nil {
		t.Error("per-value condition attached to the wrong value")
	}

	if len(pd.Dependencies) != 3 {
		t.Fatalf("dependencies = %d", len(pd.Dependencies))
	}
	if pd.Dependencies[0].Types != DepDefault {
		t.Error("untyped dependency must default to build,link")
	}
	if pd.Dependencies[1].When == nil {
		t.Error("conditional dependency lost its gate")
	}
	if pd.Dependencies[2].Types != DepBuild || len(pd.Dependencies[2].Propagate) != 1 {
		t.Error("build dep propagation lost")
	}

	if len(pd.Provides) != 1 || pd.Provides[0].Virtual != "mpi" {
		t.Fatal("provides lost")
	}
	if !pd.Provides[0].Constraint.Matches(mkv("3.1.2")) {
		t.Error("provided virtual version lost family semantics")
	}

	if len(pd.Conflicts) != 1 || pd.Conflicts[0].When == nil {
		t.Error("conflict lost")
	}
	if len(pd.Requirements) != 1 || pd.Requirements[0].Policy != RequireOneOf {
		t.Error("requirement lost")
	}
	if len(pd.Patches) != 1 || pd.Patches[0].ID != "fix-ucx-race" {
		t.Error("patch lost")
	}
}

func TestDecodeRegistryRejects(t *testing.T) {
	bad := []string{
		`packages: {p: {versions: [".bad."]}}`,
		`packages: {p: {variants: [{name: v, kind: weird}]}}`,
		`packages: {p: {variants: [{name: v, kind: multi, multiplicity: most}]}}`,
		`packages: {p: {dependencies: [{spec: "@2:"}]}}`,
		`packages: {p: {dependencies: [{spec: "q", types: "compile"}]}}`,
		`packages: {p: {requirements: [{policy: some_of, specs: ["+x"]}]}}`,
		`packages: {p: {conflicts: [{pattern: ""}]}}`,
	}
	for _, in := range bad {
		if _, err := DecodeRegistry([]byte(in)); err == nil {
			t.Errorf("DecodeRegistry(%q) succeeded, expected error", in)
		}
	}
}

func TestRegistryLookups(t *testing.T) {
	reg := decodeIndex(t)

	if !reg.Exists("openmpi") || reg.Exists("nope") {
		t.Error("Exists misreported")
	}
	if _, err := reg.Directives("nope"); err == nil {
		t.Error("Directives on an unknown package succeeded")
	} else if _, is := err.(*ErrUnknownPackage); !is {
		t.Errorf("unexpected error type %T", err)
	}

	provs := reg.Providers("mpi")
	if len(provs) != 2 || provs[0] != "mpich" || provs[1] != "openmpi" {
		t.Errorf("Providers(mpi) = %v, expected sorted mpich, openmpi", provs)
	}
	if reg.Providers("blas") != nil {
		t.Error("Providers on an unknown virtual produced names")
	}

	if !reg.IsVirtual("mpi") {
		t.Error("mpi not recognized as virtual")
	}
	if reg.IsVirtual("openmpi") || reg.IsVirtual("nope") {
		t.Error("IsVirtual misreported a package or unknown name")
	}
}

func TestRegistryRefResolution(t *testing.T) {
	reg := decodeIndex(t)
	reg.SetRef("openmpi", "main", mkv("4.1.6"), 12)

	anc, dist, err := reg.ResolveRef("openmpi", "main")
	if err != nil {
		t.Fatalf("ResolveRef failed: %s", err)
	}
	if !anc.Equal(mkv("4.1.6")) || dist != 12 {
		t.Errorf("ResolveRef = %s +%d", anc, dist)
	}
	if _, _, err := reg.ResolveRef("openmpi", "unknown"); err == nil {
		t.Error("ResolveRef succeeded on an unrecorded ref")
	}

	bound := resolveGitVersion(reg, "openmpi", mkv("git.main"))
	if bound.Compare(mkv("4.1.6")) != 1 {
		t.Error("bound ref must rank just above its ancestor tag")
	}
}
