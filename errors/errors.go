package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLayout   Phase = "layout"   // layout calculation
	PhaseEncode   Phase = "encode"   // Go value to linear memory
	PhaseDecode   Phase = "decode"   // linear memory to Go value
	PhaseAlloc    Phase = "alloc"    // producer heap
	PhaseTransfer Phase = "transfer" // ownership hand-off and borrows
	PhaseRelease  Phase = "release"  // paired release calls
	PhaseCall     Phase = "call"     // flat entry point invocation
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch      Kind = "type_mismatch"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindAllocation        Kind = "allocation"
	KindOverflow          Kind = "overflow"
	KindInvalidVariant    Kind = "invalid_variant"
	KindUnterminated      Kind = "unterminated"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindUnknownHandle     Kind = "unknown_handle"
	KindNotOwner          Kind = "not_owner"
	KindDoubleRelease     Kind = "double_release"
	KindUseAfterRelease   Kind = "use_after_release"
	KindNoReleasePath     Kind = "no_release_path"
	KindOutstandingBorrow Kind = "outstanding_borrow"
	KindClosed            Kind = "closed"
)

// Error is the structured error type used throughout the boundary
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	GoType  string
	WitType string
	Detail  string
	Path    []string
}

// Error renders "[phase] kind at a.b: WIT type t - detail (caused by: ...)",
// leaving out the parts that are empty.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Phase, e.Kind)
	if len(e.Path) > 0 {
		b.WriteString(" at " + strings.Join(e.Path, "."))
	}
	sep := ": "
	if types := e.types(); types != "" {
		b.WriteString(sep + types)
		sep = " - "
	}
	if e.Detail != "" {
		b.WriteString(sep + e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: " + e.Cause.Error() + ")")
	}
	return b.String()
}

func (e *Error) types() string {
	switch {
	case e.GoType != "" && e.WitType != "":
		return "Go type " + e.GoType + ", WIT type " + e.WitType
	case e.GoType != "":
		return "Go type " + e.GoType
	case e.WitType != "":
		return "WIT type " + e.WitType
	}
	return ""
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same phase and kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Phase == t.Phase && e.Kind == t.Kind
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder assembles an *Error field by field.
type Builder struct {
	err Error
}

func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

// Path sets the dotted field path, outermost first.
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

func (b *Builder) WitType(t string) *Builder {
	b.err.WitType = t
	return b
}

// Value records the offending value.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the message; args are applied with fmt.Sprintf when present.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	b.err.Detail = msg
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates a type mismatch error
func TypeMismatch(phase Phase, path []string, goType, witType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Path:    path,
		GoType:  goType,
		WitType: witType,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size, align uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// InvalidDiscriminant creates an invalid discriminant error for variants
func InvalidDiscriminant(phase Phase, path []string, disc uint32, maxValid uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidVariant,
		Path:   path,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// MemoryOutOfBounds creates an error for an access outside linear memory
func MemoryOutOfBounds(phase Phase, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("memory access [%d, %d) outside %d bytes", offset, uint64(offset)+uint64(length), size),
		Value:  offset,
	}
}

// Overflow creates an overflow error
func Overflow(phase Phase, path []string, value any, targetType string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindOverflow,
		Path:    path,
		WitType: targetType,
		Detail:  fmt.Sprintf("value %v overflows %s", value, targetType),
		Value:   value,
	}
}

// Unterminated creates an error for a C string without a NUL within limit bytes
func Unterminated(path []string, ptr uint32, limit uint32) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnterminated,
		Path:   path,
		Detail: fmt.Sprintf("no NUL terminator within %d bytes of %#x", limit, ptr),
		Value:  ptr,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Ledger convenience constructors

// UnknownHandle creates an error for a handle the ledger never issued
func UnknownHandle(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownHandle,
		Detail: fmt.Sprintf("handle %#x was never issued", handle),
		Value:  handle,
	}
}

// DoubleRelease creates an error for a second release of the same handle
func DoubleRelease(handle uint32) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindDoubleRelease,
		Detail: fmt.Sprintf("handle %#x already released", handle),
		Value:  handle,
	}
}

// UseAfterRelease creates an error for access through a released handle
func UseAfterRelease(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUseAfterRelease,
		Detail: fmt.Sprintf("handle %#x used after release", handle),
		Value:  handle,
	}
}

// NotOwner creates an error for an operation by a side that does not own the handle
func NotOwner(phase Phase, handle uint32, side, owner string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotOwner,
		Detail: fmt.Sprintf("handle %#x is owned by %s, not %s", handle, owner, side),
		Value:  handle,
	}
}

// NoReleasePath creates an error for releasing a type the contract gives no release path
func NoReleasePath(handle uint32, typeName string) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindNoReleasePath,
		Detail: fmt.Sprintf("handle %#x: %s has no release entry point", handle, typeName),
		Value:  handle,
	}
}

// OutstandingBorrow creates an error for releasing a handle that is still borrowed
func OutstandingBorrow(handle uint32, borrows uint32) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindOutstandingBorrow,
		Detail: fmt.Sprintf("handle %#x has %d outstanding borrow(s)", handle, borrows),
		Value:  handle,
	}
}

// Closed creates an error for use of a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Config creates a configuration error
func Config(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}
