// Package scenario runs end-to-end boundary scenarios described in YAML and
// renders each run as a deterministic trace of calls, results and ledger
// events.
package scenario

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffi-boundary/config"
)

// Scenario is a sequence of boundary calls with expectations.
type Scenario struct {
	// Name identifies the scenario and its golden trace.
	Name string `yaml:"name"`
	// Description says what the scenario demonstrates.
	Description string `yaml:"description"`
	// Backend overrides the configured memory backend when set.
	Backend string `yaml:"backend,omitempty"`
	Steps   []Step `yaml:"steps"`
}

// Step operations.
const (
	OpPing       = "ping"
	OpPassCInt   = "pass_cint"
	OpPassInt32  = "pass_int32"
	OpGetCInt    = "get_cint"
	OpPoint      = "point"
	OpInteger    = "integer"
	OpFloat      = "float"
	OpAcquire    = "acquire"
	OpMake       = "make"
	OpRead       = "read"
	OpRelease    = "release"
	OpReleaseRaw = "release_raw"
)

// Step is one call. Constructors bind their result to As; read and release
// name a binding in Ref.
type Step struct {
	Op     string  `yaml:"op"`
	As     string  `yaml:"as,omitempty"`
	Ref    string  `yaml:"ref,omitempty"`
	X      int32   `yaml:"x,omitempty"`
	Y      int32   `yaml:"y,omitempty"`
	Value  float64 `yaml:"value,omitempty"`
	Name   string  `yaml:"name,omitempty"`
	Values []int32 `yaml:"values,omitempty"`
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is checked against a step's result. Only the fields that are set
// are compared.
type Expect struct {
	X      *int32   `yaml:"x,omitempty"`
	Y      *int32   `yaml:"y,omitempty"`
	Tag    string   `yaml:"tag,omitempty"`
	Value  *float64 `yaml:"value,omitempty"`
	Name   *string  `yaml:"name,omitempty"`
	Len    *int     `yaml:"len,omitempty"`
	Values []int32  `yaml:"values,omitempty"`
	// Error is the expected error kind, such as "double_release".
	Error string `yaml:"error,omitempty"`
}

var ops = map[string]struct {
	binds, refs bool
}{
	OpPing:       {},
	OpPassCInt:   {},
	OpPassInt32:  {},
	OpGetCInt:    {},
	OpPoint:      {binds: true},
	OpInteger:    {binds: true},
	OpFloat:      {binds: true},
	OpAcquire:    {binds: true},
	OpMake:       {binds: true},
	OpRead:       {refs: true},
	OpRelease:    {refs: true},
	OpReleaseRaw: {refs: true},
}

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Parse decodes one scenario. Unknown keys are rejected.
func Parse(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// Load reads a scenario file.
func Load(file string) (*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Builtin returns the scenarios shipped with the package, sorted by name.
func Builtin() ([]*Scenario, error) {
	entries, err := fs.Glob(builtinFS, "builtin/*.yaml")
	if err != nil {
		return nil, err
	}
	out := make([]*Scenario, 0, len(entries))
	for _, e := range entries {
		data, err := builtinFS.ReadFile(e)
		if err != nil {
			return nil, err
		}
		sc, err := Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path.Base(e), err)
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Validate checks that every step is well formed and that every reference
// names an earlier binding.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	switch s.Backend {
	case "", config.BackendWazero, config.BackendLinear:
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}

	bound := make(map[string]bool)
	for i, st := range s.Steps {
		def, ok := ops[st.Op]
		if !ok {
			return fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
		if def.binds {
			if st.As == "" {
				return fmt.Errorf("step %d: %s needs \"as\"", i+1, st.Op)
			}
			if bound[st.As] {
				return fmt.Errorf("step %d: %q is already bound", i+1, st.As)
			}
			bound[st.As] = true
		}
		if def.refs && !bound[st.Ref] {
			return fmt.Errorf("step %d: %s refers to unbound %q", i+1, st.Op, st.Ref)
		}
	}
	return nil
}
