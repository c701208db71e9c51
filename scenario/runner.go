package scenario

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/wippyai/ffi-boundary/boundary"
	"github.com/wippyai/ffi-boundary/config"
	"github.com/wippyai/ffi-boundary/consumer"
	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/ledger"
)

// Result is the outcome of one run.
type Result struct {
	Scenario *Scenario
	// Trace is deterministic for a given scenario whatever the backend, so
	// it can be compared against a golden file.
	Trace []string
	// Failures lists every unmet expectation and unexpected error.
	Failures []string
	Report   boundary.Report
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// String joins the trace lines.
func (r *Result) String() string {
	return strings.Join(r.Trace, "\n") + "\n"
}

type binding struct {
	h          ledger.Handle
	point      *consumer.PointRef
	number     *consumer.NumberRef
	collection *consumer.CollectionRef
}

type runner struct {
	sc       *Scenario
	client   *consumer.Client
	rec      *ledger.Recorder
	bindings map[string]*binding
	res      *Result
}

// Run opens a fresh session, executes every step and closes the session.
// Errors returned by steps are part of the trace; Run itself fails only
// when the session cannot be opened.
func Run(ctx context.Context, sc *Scenario, cfg config.Config, opts ...boundary.Option) (*Result, error) {
	if sc.Backend != "" {
		cfg.Memory.Backend = sc.Backend
	}
	rec := &ledger.Recorder{}
	sess, err := boundary.Open(ctx, cfg, append(slices.Clone(opts), boundary.WithObserver(rec))...)
	if err != nil {
		return nil, err
	}

	r := &runner{
		sc:       sc,
		client:   sess.Client(),
		rec:      rec,
		bindings: make(map[string]*binding),
		res:      &Result{Scenario: sc},
	}
	for i, st := range sc.Steps {
		rec.Reset()
		r.step(ctx, i+1, st)
		r.events()
	}

	rec.Reset()
	report, err := sess.Close(ctx)
	r.res.Report = report
	r.tracef("close: outstanding %d, retained %d, leaked %d",
		len(report.Outstanding), len(report.Retained()), len(report.Leaked()))
	r.events()
	r.tracef("heap: allocs %d, frees %d, live %d",
		report.Heap.Allocs, report.Heap.Frees, report.Heap.LiveBlocks)
	for _, e := range report.Leaked() {
		r.fail("collection %s never released", e.Handle)
	}
	if err != nil {
		return r.res, fmt.Errorf("close session: %w", err)
	}
	return r.res, nil
}

func (r *runner) tracef(format string, args ...any) {
	r.res.Trace = append(r.res.Trace, fmt.Sprintf(format, args...))
}

func (r *runner) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.res.Failures = append(r.res.Failures, msg)
	r.res.Trace = append(r.res.Trace, "    FAIL: "+msg)
}

func (r *runner) events() {
	for _, e := range r.rec.Events() {
		line := fmt.Sprintf("    ledger: %s %s %s", e.Type, e.Handle, e.TypeID)
		if e.Type == ledger.EventTransferred {
			line += fmt.Sprintf(" %s->%s", e.From, e.To)
		}
		r.res.Trace = append(r.res.Trace, line)
	}
}

func (r *runner) step(ctx context.Context, n int, st Step) {
	var (
		call   string
		result string
		err    error
	)
	switch st.Op {
	case OpPing:
		call, err = "ping()", r.client.Ping(ctx)
	case OpPassCInt:
		call, err = fmt.Sprintf("pass_cint(%d)", int64(st.Value)), r.client.PassInt(ctx, int64(st.Value))
	case OpPassInt32:
		call, err = fmt.Sprintf("pass_int32(%d)", int64(st.Value)), r.client.PassInt32(ctx, int32(st.Value))
	case OpGetCInt:
		call = "get_cint()"
		var v int32
		if v, err = r.client.GetCInt(ctx); err == nil {
			result = strconv.Itoa(int(v))
			r.expectNumber(n, st.Expect, "", float64(v))
		}
	case OpPoint:
		call = fmt.Sprintf("point(%d, %d)", st.X, st.Y)
		var p *consumer.PointRef
		if p, err = r.client.NewPoint(ctx, st.X, st.Y); err == nil {
			result = r.bind(st.As, &binding{h: p.Handle(), point: p})
		}
	case OpInteger:
		call = fmt.Sprintf("integer(%d)", int64(st.Value))
		var nr *consumer.NumberRef
		if nr, err = r.client.NewInteger(ctx, int32(st.Value)); err == nil {
			result = r.bind(st.As, &binding{h: nr.Handle(), number: nr})
		}
	case OpFloat:
		call = fmt.Sprintf("float(%s)", formatFloat(float32(st.Value)))
		var nr *consumer.NumberRef
		if nr, err = r.client.NewFloat(ctx, float32(st.Value)); err == nil {
			result = r.bind(st.As, &binding{h: nr.Handle(), number: nr})
		}
	case OpAcquire:
		call = "acquire()"
		var c *consumer.CollectionRef
		if c, err = r.client.AcquireCollection(ctx); err == nil {
			result = r.bind(st.As, &binding{h: c.Handle(), collection: c})
		}
	case OpMake:
		call = fmt.Sprintf("make(%q, %v)", st.Name, st.Values)
		var c *consumer.CollectionRef
		if c, err = r.client.MakeCollection(ctx, st.Name, st.Values); err == nil {
			result = r.bind(st.As, &binding{h: c.Handle(), collection: c})
		}
	case OpRead:
		call = "read " + st.Ref
		result, err = r.read(ctx, n, st)
	case OpRelease:
		call = "release " + st.Ref
		b := r.bindings[st.Ref]
		if b.collection == nil {
			err = errors.NoReleasePath(uint32(b.h), r.typeOf(b).String())
		} else {
			err = b.collection.Release(ctx)
		}
	case OpReleaseRaw:
		call = "release_raw " + st.Ref
		err = r.client.ReleaseHandle(ctx, r.bindings[st.Ref].h)
	}

	switch {
	case err != nil:
		r.tracef("[%d] %s -> error %s", n, call, errors.KindOf(err))
	case result == "":
		r.tracef("[%d] %s -> ok", n, call)
	default:
		r.tracef("[%d] %s -> %s", n, call, result)
	}
	r.expectError(n, st.Expect, err)
}

func (r *runner) bind(name string, b *binding) string {
	r.bindings[name] = b
	return fmt.Sprintf("%s %s", name, b.h)
}

func (r *runner) typeOf(b *binding) contract.TypeID {
	switch {
	case b.point != nil:
		return contract.TypePoint
	case b.number != nil:
		return contract.TypeNumber
	case b.collection != nil:
		return contract.TypeNamedCollection
	}
	return contract.TypeInvalid
}

func (r *runner) read(ctx context.Context, n int, st Step) (string, error) {
	b := r.bindings[st.Ref]
	ex := st.Expect
	switch {
	case b.point != nil:
		p, err := b.point.Read(ctx)
		if err != nil {
			return "", err
		}
		if ex != nil {
			check(r, n, "x", ex.X, p.X)
			check(r, n, "y", ex.Y, p.Y)
		}
		return fmt.Sprintf("point{x: %d, y: %d}", p.X, p.Y), nil

	case b.number != nil:
		v, err := b.number.Read(ctx)
		if err != nil {
			return "", err
		}
		text := contract.MatchNumber(v,
			func(i int32) string {
				r.expectNumber(n, ex, "integer", float64(i))
				return fmt.Sprintf("integer(%d)", i)
			},
			func(f float32) string {
				if ex != nil && ex.Value != nil && math.Float32bits(float32(*ex.Value)) != math.Float32bits(f) {
					r.fail("step %d: float bits %#08x, want %#08x", n,
						math.Float32bits(f), math.Float32bits(float32(*ex.Value)))
				}
				r.expectNumber(n, ex, "float", math.NaN())
				return fmt.Sprintf("float(%s)", formatFloat(f))
			},
		)
		return text, nil

	case b.collection != nil:
		c, err := b.collection.Read(ctx)
		if err != nil {
			return "", err
		}
		if ex != nil {
			check(r, n, "name", ex.Name, c.Name)
			check(r, n, "len", ex.Len, c.Len())
			if ex.Values != nil && !slices.Equal(ex.Values, c.Values) {
				r.fail("step %d: values %v, want %v", n, c.Values, ex.Values)
			}
		}
		return fmt.Sprintf("%s{name: %q, len: %d, values: %v}",
			contract.TypeNamedCollection, c.Name, c.Len(), c.Values), nil
	}
	return "", errors.NotFound(errors.PhaseDecode, "binding", st.Ref)
}

// expectNumber checks the tag and, unless got is NaN, the value.
func (r *runner) expectNumber(n int, ex *Expect, tag string, got float64) {
	if ex == nil {
		return
	}
	if ex.Tag != "" && ex.Tag != tag {
		r.fail("step %d: tag %q, want %q", n, tag, ex.Tag)
	}
	if ex.Value != nil && !math.IsNaN(got) && *ex.Value != got {
		r.fail("step %d: value %v, want %v", n, got, *ex.Value)
	}
}

func (r *runner) expectError(n int, ex *Expect, err error) {
	want := ""
	if ex != nil {
		want = ex.Error
	}
	switch {
	case err == nil && want != "":
		r.fail("step %d: succeeded, want error %s", n, want)
	case err != nil && want == "":
		r.fail("step %d: unexpected error: %v", n, err)
	case err != nil && string(errors.KindOf(err)) != want:
		r.fail("step %d: error %s, want %s", n, errors.KindOf(err), want)
	}
}

func check[T comparable](r *runner, n int, field string, want *T, got T) {
	if want != nil && *want != got {
		r.fail("step %d: %s %v, want %v", n, field, got, *want)
	}
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', -1, 32)
}
