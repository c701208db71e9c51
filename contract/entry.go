package contract

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/ffi-boundary/errors"
)

// ModuleName is the import module the entry points are exported under.
const ModuleName = "cffi"

// Entry point names. The names are part of the contract.
const (
	FnPing                = "ping"
	FnPassCInt            = "pass_cint"
	FnPassInt32           = "pass_int32"
	FnGetCInt             = "get_cint"
	FnGetPoint            = "get_point"
	FnGetIntegerNumber    = "get_integer_number"
	FnGetFloatNumber      = "get_float_number"
	FnGetNamedCollection  = "get_named_collection"
	FnMakeNamedCollection = "make_named_collection"
	FnFreeNamedCollection = "free_named_collection"
	FnBorrow              = "borrow"
	FnReturnBorrow        = "return_borrow"
	FnRealloc             = "cabi_realloc"
	FnLastError           = "last_error"
)

// CIntValue is what get_cint returns.
const CIntValue int32 = 56

// Signature is the flat signature of an entry point.
type Signature struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	// ParamNames and CResult are used when rendering the C header.
	ParamNames []string
	CParams    []string
	CResult    string
	Doc        string
}

var (
	i32 = api.ValueTypeI32
	f32 = api.ValueTypeF32
)

// Signatures lists every entry point in declaration order.
var Signatures = []Signature{
	{Name: FnPing, CResult: "void", Doc: "No-argument call; the producer logs it."},
	{Name: FnPassCInt, Params: []api.ValueType{i32}, ParamNames: []string{"value"}, CParams: []string{"int"}, CResult: "void"},
	{Name: FnPassInt32, Params: []api.ValueType{i32}, ParamNames: []string{"value"}, CParams: []string{"int32_t"}, CResult: "void"},
	{Name: FnGetCInt, Results: []api.ValueType{i32}, CResult: "int", Doc: "Returns 56."},
	{Name: FnGetPoint, Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"x", "y"}, CParams: []string{"int32_t", "int32_t"}, CResult: "cffi_handle_t",
		Doc: "Ownership moves to the caller. No release entry point exists."},
	{Name: FnGetIntegerNumber, Params: []api.ValueType{i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"value"}, CParams: []string{"int32_t"}, CResult: "cffi_handle_t",
		Doc: "Ownership moves to the caller. No release entry point exists."},
	{Name: FnGetFloatNumber, Params: []api.ValueType{f32}, Results: []api.ValueType{i32},
		ParamNames: []string{"value"}, CParams: []string{"float"}, CResult: "cffi_handle_t",
		Doc: "Ownership moves to the caller. No release entry point exists."},
	{Name: FnGetNamedCollection, Results: []api.ValueType{i32}, CResult: "cffi_handle_t",
		Doc: "Ownership moves to the caller. Release with free_named_collection."},
	{Name: FnMakeNamedCollection, Params: []api.ValueType{i32, i32, i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"name", "values", "len"}, CParams: []string{"const char *", "const int32_t *", "uint32_t"}, CResult: "cffi_handle_t",
		Doc: "Copies the staged name and values. Release with free_named_collection."},
	{Name: FnFreeNamedCollection, Params: []api.ValueType{i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"collection"}, CParams: []string{"cffi_handle_t"}, CResult: "cffi_status_t",
		Doc: "Call exactly once per collection. Freeing CFFI_NULL_HANDLE does nothing."},
	{Name: FnBorrow, Params: []api.ValueType{i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"handle"}, CParams: []string{"cffi_handle_t"}, CResult: "const void *",
		Doc: "Address of the block behind handle, laid out as its type above. NULL on failure. Pair with return_borrow."},
	{Name: FnReturnBorrow, Params: []api.ValueType{i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"handle"}, CParams: []string{"cffi_handle_t"}, CResult: "cffi_status_t",
		Doc: "Ends one borrow. A borrowed collection cannot be freed."},
	{Name: FnRealloc, Params: []api.ValueType{i32, i32, i32, i32}, Results: []api.ValueType{i32},
		ParamNames: []string{"ptr", "old_size", "align", "new_size"}, CParams: []string{"void *", "uint32_t", "uint32_t", "uint32_t"}, CResult: "void *"},
	{Name: FnLastError, Results: []api.ValueType{i32}, CResult: "cffi_status_t",
		Doc: "Status of the most recent failed call."},
}

// Lookup returns the signature of the named entry point.
func Lookup(name string) (Signature, bool) {
	for _, s := range Signatures {
		if s.Name == name {
			return s, true
		}
	}
	return Signature{}, false
}

// Status is the i32 status code returned by release entry points and
// last_error.
type Status int32

const (
	StatusOK Status = iota
	StatusAllocation
	StatusInvalidInput
	StatusDoubleRelease
	StatusUseAfterRelease
	StatusUnknownHandle
	StatusNotOwner
	StatusNoReleasePath
	StatusOutstandingBorrow
	StatusOutOfBounds
)

var statusNames = [...]string{
	StatusOK:                "ok",
	StatusAllocation:        "allocation",
	StatusInvalidInput:      "invalid input",
	StatusDoubleRelease:     "double release",
	StatusUseAfterRelease:   "use after release",
	StatusUnknownHandle:     "unknown handle",
	StatusNotOwner:          "not owner",
	StatusNoReleasePath:     "no release path",
	StatusOutstandingBorrow: "outstanding borrow",
	StatusOutOfBounds:       "out of bounds",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Statuses lists every defined status code.
func Statuses() []Status {
	out := make([]Status, len(statusNames))
	for i := range out {
		out[i] = Status(i)
	}
	return out
}

var kindStatus = map[errors.Kind]Status{
	errors.KindAllocation:        StatusAllocation,
	errors.KindInvalidInput:      StatusInvalidInput,
	errors.KindDoubleRelease:     StatusDoubleRelease,
	errors.KindUseAfterRelease:   StatusUseAfterRelease,
	errors.KindUnknownHandle:     StatusUnknownHandle,
	errors.KindNotOwner:          StatusNotOwner,
	errors.KindNoReleasePath:     StatusNoReleasePath,
	errors.KindOutstandingBorrow: StatusOutstandingBorrow,
	errors.KindOutOfBounds:       StatusOutOfBounds,
}

// StatusOf maps an error to the status code reported across the boundary.
// Kinds without a code of their own report StatusInvalidInput.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if s, ok := kindStatus[errors.KindOf(err)]; ok {
		return s
	}
	return StatusInvalidInput
}

// Kind returns the error kind a status code stands for.
func (s Status) Kind() (errors.Kind, bool) {
	for k, v := range kindStatus {
		if v == s {
			return k, true
		}
	}
	return "", false
}

// Err converts a status code back into an error in the given phase.
func (s Status) Err(phase errors.Phase, detail string) error {
	if s == StatusOK {
		return nil
	}
	kind, ok := s.Kind()
	if !ok {
		kind = errors.KindInvalidData
		detail = fmt.Sprintf("unknown status %d: %s", int32(s), detail)
	}
	return errors.New(phase, kind).Value(int32(s)).Detail("%s", detail).Build()
}
