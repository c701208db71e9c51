package producer

import (
	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/internal/wasmbin"
	"github.com/wippyai/ffi-boundary/memory"
)

// CallModuleName is the wasm module the consumer calls through. It imports
// every entry point from contract.ModuleName and exports a function of the
// same name that forwards to it.
const CallModuleName = "cffi_call"

// callModule encodes the call module for sigs. Function i is import i; the
// forwarding function for it is n+i. With importMemory set the module also
// imports the shared memory and exports it as memory.ExportName.
func callModule(sigs []contract.Signature, importMemory bool) []byte {
	n := uint32(len(sigs))

	types := wasmbin.AppendULEB(nil, n)
	for _, sig := range sigs {
		types = append(types, 0x60)
		types = wasmbin.AppendULEB(types, uint32(len(sig.Params)))
		for _, p := range sig.Params {
			types = append(types, wasmbin.ValType(p))
		}
		types = wasmbin.AppendULEB(types, uint32(len(sig.Results)))
		for _, r := range sig.Results {
			types = append(types, wasmbin.ValType(r))
		}
	}

	imports := n
	if importMemory {
		imports++
	}
	imps := wasmbin.AppendULEB(nil, imports)
	for i, sig := range sigs {
		imps = wasmbin.AppendName(imps, contract.ModuleName)
		imps = wasmbin.AppendName(imps, sig.Name)
		imps = append(imps, wasmbin.KindFunc)
		imps = wasmbin.AppendULEB(imps, uint32(i))
	}
	if importMemory {
		imps = wasmbin.AppendName(imps, memory.ModuleName)
		imps = wasmbin.AppendName(imps, memory.ExportName)
		imps = append(imps, wasmbin.KindMemory)
		imps = wasmbin.AppendLimits(imps, 0, 0)
	}

	funcs := wasmbin.AppendULEB(nil, n)
	for i := range sigs {
		funcs = wasmbin.AppendULEB(funcs, uint32(i))
	}

	exps := wasmbin.AppendULEB(nil, imports)
	for i, sig := range sigs {
		exps = wasmbin.AppendName(exps, sig.Name)
		exps = append(exps, wasmbin.KindFunc)
		exps = wasmbin.AppendULEB(exps, n+uint32(i))
	}
	if importMemory {
		exps = wasmbin.AppendName(exps, memory.ExportName)
		exps = append(exps, wasmbin.KindMemory, 0x00)
	}

	code := wasmbin.AppendULEB(nil, n)
	for i, sig := range sigs {
		body := []byte{0x00} // no locals
		for p := range sig.Params {
			body = append(body, 0x20) // local.get
			body = wasmbin.AppendULEB(body, uint32(p))
		}
		body = append(body, 0x10) // call
		body = wasmbin.AppendULEB(body, uint32(i))
		body = append(body, 0x0b) // end
		code = wasmbin.AppendULEB(code, uint32(len(body)))
		code = append(code, body...)
	}

	out := append([]byte(nil), wasmbin.Header...)
	out = wasmbin.AppendSection(out, wasmbin.SectionType, types)
	out = wasmbin.AppendSection(out, wasmbin.SectionImport, imps)
	out = wasmbin.AppendSection(out, wasmbin.SectionFunction, funcs)
	out = wasmbin.AppendSection(out, wasmbin.SectionExport, exps)
	return wasmbin.AppendSection(out, wasmbin.SectionCode, code)
}
