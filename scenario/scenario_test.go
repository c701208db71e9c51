package scenario

import (
	"context"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffi-boundary/boundary"
	"github.com/wippyai/ffi-boundary/config"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

type backend struct {
	name string
	cfg  func() config.Config
	opts []boundary.Option
}

func backends() []backend {
	wazeroCfg := func() config.Config { return config.Default() }
	linearCfg := func() config.Config {
		c := config.Default()
		c.Memory.Backend = config.BackendLinear
		return c
	}
	return []backend{
		{name: "wazero", cfg: wazeroCfg},
		{name: "wazero-direct", cfg: wazeroCfg, opts: []boundary.Option{boundary.WithDirectCalls()}},
		{name: "linear", cfg: linearCfg},
	}
}

func TestBuiltinGolden(t *testing.T) {
	scenarios, err := Builtin()
	require.NoError(t, err)
	require.Len(t, scenarios, 6)

	for _, sc := range scenarios {
		for _, be := range backends() {
			t.Run(sc.Name+"/"+be.name, func(t *testing.T) {
				res, err := Run(context.Background(), sc, be.cfg(), be.opts...)
				require.NoError(t, err)
				assert.Empty(t, res.Failures)
				assert.True(t, res.Passed())

				g := newGoldie(t)
				g.Assert(t, sc.Name, []byte(res.String()))
			})
		}
	}
}

func TestBuiltinSorted(t *testing.T) {
	scenarios, err := Builtin()
	require.NoError(t, err)

	names := make([]string, len(scenarios))
	for i, sc := range scenarios {
		names[i] = sc.Name
	}
	assert.Equal(t, []string{
		"ownership",
		"scalars",
		"scenario_a_aggregate",
		"scenario_b_integer",
		"scenario_c_float",
		"scenario_d_collection",
	}, names)
}

func TestParseRejectsUnknownField(t *testing.T) {
	_, err := Parse(strings.NewReader(`
name: bad
steps:
  - op: ping
    colour: red
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "steps: [{op: ping}]", "name is required"},
		{"no steps", "name: x", "steps list is required"},
		{"unknown op", "name: x\nsteps: [{op: jump}]", `unknown op "jump"`},
		{"missing as", "name: x\nsteps: [{op: point, x: 1}]", `point needs "as"`},
		{"unbound ref", "name: x\nsteps: [{op: read, ref: p}]", `refers to unbound "p"`},
		{"rebind", "name: x\nsteps: [{op: acquire, as: a}, {op: acquire, as: a}]", `"a" is already bound`},
		{"backend", "name: x\nbackend: mmap\nsteps: [{op: ping}]", `unknown backend "mmap"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFailedExpectationsAreReported(t *testing.T) {
	sc, err := Parse(strings.NewReader(`
name: wrong
backend: linear
steps:
  - op: point
    as: p
    x: 1
    y: 2
  - op: read
    ref: p
    expect:
      x: 9
  - op: release
    ref: p
  - op: integer
    as: n
    value: 5
  - op: read
    ref: n
    expect:
      tag: float
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), sc, config.Default())
	require.NoError(t, err)
	require.False(t, res.Passed())
	require.Len(t, res.Failures, 3)
	assert.Equal(t, "step 2: x 1, want 9", res.Failures[0])
	assert.Contains(t, res.Failures[1], "step 3: unexpected error")
	assert.Contains(t, res.Failures[1], "no_release_path")
	assert.Equal(t, `step 5: tag "integer", want "float"`, res.Failures[2])
	assert.Contains(t, res.String(), "[3] release p -> error no_release_path")
}

func TestLeakedCollectionFails(t *testing.T) {
	sc, err := Parse(strings.NewReader(`
name: leak
backend: linear
steps:
  - op: make
    as: c
    name: kept
    values: [1]
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), sc, config.Default())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "collection #1.0 never released", res.Failures[0])
	assert.Len(t, res.Report.Leaked(), 1)
	assert.Contains(t, res.String(), "close: outstanding 1, retained 0, leaked 1")
}

func TestFloatBitsCompared(t *testing.T) {
	sc, err := Parse(strings.NewReader(`
name: bits
backend: linear
steps:
  - op: float
    as: f
    value: 0.1
  - op: read
    ref: f
    expect:
      tag: float
      value: 0.1
`))
	require.NoError(t, err)

	res, err := Run(context.Background(), sc, config.Default())
	require.NoError(t, err)
	assert.True(t, res.Passed(), res.Failures)
	assert.Contains(t, res.String(), "[2] read f -> float(0.1)")
}
