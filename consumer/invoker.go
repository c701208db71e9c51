package consumer

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/producer"
)

// Invoker calls a flat entry point by name.
type Invoker interface {
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
}

// WazeroInvoker calls the exports of an instantiated wazero module, normally
// the call module producer.Bind returns. wazero refuses calls into host
// modules.
type WazeroInvoker struct {
	mod api.Module
}

// NewWazeroInvoker calls the exports of mod.
func NewWazeroInvoker(mod api.Module) *WazeroInvoker {
	return &WazeroInvoker{mod: mod}
}

func (w *WazeroInvoker) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := w.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "entry point", name)
	}
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCall, errors.KindInvalidInput, err, "call "+name)
	}
	return results, nil
}

// DirectInvoker calls entry points in process without a wazero runtime.
type DirectInvoker struct {
	exports map[string]producer.Export
}

// NewDirectInvoker calls the given exports.
func NewDirectInvoker(exports []producer.Export) *DirectInvoker {
	m := make(map[string]producer.Export, len(exports))
	for _, e := range exports {
		m[e.Name] = e
	}
	return &DirectInvoker{exports: m}
}

func (d *DirectInvoker) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	exp, ok := d.exports[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCall, "entry point", name)
	}
	if len(params) != len(exp.Params) {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Path(name).
			Detail("expected %d params, got %d", len(exp.Params), len(params)).
			Build()
	}
	stack := make([]uint64, max(len(exp.Params), len(exp.Results)))
	copy(stack, params)
	exp.Fn(ctx, nil, stack)
	return stack[:len(exp.Results)], nil
}

var (
	_ Invoker = (*WazeroInvoker)(nil)
	_ Invoker = (*DirectInvoker)(nil)
)

// expectResults checks the result count of a call before it is indexed.
func expectResults(name string, results []uint64) error {
	sig, ok := contract.Lookup(name)
	if !ok {
		return errors.NotFound(errors.PhaseCall, "entry point", name)
	}
	if len(results) != len(sig.Results) {
		return errors.New(errors.PhaseCall, errors.KindTypeMismatch).
			Path(name).
			Detail("expected %d results, got %d", len(sig.Results), len(results)).
			Build()
	}
	return nil
}
