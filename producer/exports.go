package producer

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/ledger"
	"github.com/wippyai/ffi-boundary/memory"
	"github.com/wippyai/ffi-boundary/transcoder"
)

// Export is one flat entry point.
type Export struct {
	contract.Signature
	Fn api.GoModuleFunc
}

// Exports returns the flat form of every entry point, in contract order.
// Failing constructors leave the null handle on the stack; the caller reads
// last_error for the reason.
func (l *Library) Exports() []Export {
	fns := map[string]api.GoModuleFunc{
		contract.FnPing: func(ctx context.Context, _ api.Module, _ []uint64) {
			l.Ping()
		},
		contract.FnPassCInt: func(ctx context.Context, _ api.Module, stack []uint64) {
			l.PassCInt(transcoder.LiftS32(stack[0]))
		},
		contract.FnPassInt32: func(ctx context.Context, _ api.Module, stack []uint64) {
			l.PassInt32(transcoder.LiftS32(stack[0]))
		},
		contract.FnGetCInt: func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = transcoder.LowerS32(l.GetCInt())
		},
		contract.FnGetPoint: func(ctx context.Context, _ api.Module, stack []uint64) {
			h, _ := l.GetPoint(transcoder.LiftS32(stack[0]), transcoder.LiftS32(stack[1]))
			stack[0] = lowerHandle(h)
		},
		contract.FnGetIntegerNumber: func(ctx context.Context, _ api.Module, stack []uint64) {
			h, _ := l.GetIntegerNumber(transcoder.LiftS32(stack[0]))
			stack[0] = lowerHandle(h)
		},
		contract.FnGetFloatNumber: func(ctx context.Context, _ api.Module, stack []uint64) {
			h, _ := l.GetFloatNumber(transcoder.LiftF32(stack[0]))
			stack[0] = lowerHandle(h)
		},
		contract.FnGetNamedCollection: func(ctx context.Context, _ api.Module, stack []uint64) {
			h, _ := l.GetNamedCollection()
			stack[0] = lowerHandle(h)
		},
		contract.FnMakeNamedCollection: func(ctx context.Context, _ api.Module, stack []uint64) {
			h, _ := l.MakeNamedCollection(
				transcoder.LiftU32(stack[0]),
				transcoder.LiftU32(stack[1]),
				transcoder.LiftU32(stack[2]))
			stack[0] = lowerHandle(h)
		},
		contract.FnFreeNamedCollection: func(ctx context.Context, _ api.Module, stack []uint64) {
			err := l.FreeNamedCollection(ledger.Handle(transcoder.LiftU32(stack[0])))
			stack[0] = transcoder.LowerS32(int32(contract.StatusOf(err)))
		},
		contract.FnBorrow: func(ctx context.Context, _ api.Module, stack []uint64) {
			addr, _ := l.Borrow(ledger.Handle(transcoder.LiftU32(stack[0])))
			stack[0] = transcoder.LowerU32(addr)
		},
		contract.FnReturnBorrow: func(ctx context.Context, _ api.Module, stack []uint64) {
			err := l.ReturnBorrow(ledger.Handle(transcoder.LiftU32(stack[0])))
			stack[0] = transcoder.LowerS32(int32(contract.StatusOf(err)))
		},
		contract.FnRealloc: func(ctx context.Context, _ api.Module, stack []uint64) {
			ptr, _ := l.Realloc(
				transcoder.LiftU32(stack[0]),
				transcoder.LiftU32(stack[1]),
				transcoder.LiftU32(stack[2]),
				transcoder.LiftU32(stack[3]))
			stack[0] = transcoder.LowerU32(ptr)
		},
		contract.FnLastError: func(ctx context.Context, _ api.Module, stack []uint64) {
			stack[0] = transcoder.LowerS32(int32(l.LastError()))
		},
	}

	exports := make([]Export, 0, len(contract.Signatures))
	for _, sig := range contract.Signatures {
		exports = append(exports, Export{Signature: sig, Fn: fns[sig.Name]})
	}
	return exports
}

func lowerHandle(h ledger.Handle) uint64 {
	return transcoder.LowerU32(uint32(h))
}

// Bind instantiates the host module contract.ModuleName in rt, exporting
// every entry point of lib, and returns the call module that forwards to
// it. wazero does not call into host modules directly. When rt already holds
// the shared memory module the call module re-exports that memory too.
func Bind(ctx context.Context, rt wazero.Runtime, lib *Library) (api.Module, error) {
	builder := rt.NewHostModuleBuilder(contract.ModuleName)
	for _, exp := range lib.Exports() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(exp.Fn, exp.Params, exp.Results).
			WithName(exp.Name).
			WithParameterNames(exp.ParamNames...).
			Export(exp.Name)
	}
	host, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, err
	}

	bin := callModule(contract.Signatures, rt.Module(memory.ModuleName) != nil)
	mod, err := rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName(CallModuleName))
	if err != nil {
		_ = host.Close(ctx)
		return nil, err
	}
	return mod, nil
}
