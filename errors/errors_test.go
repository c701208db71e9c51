package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseEncode,
				Kind:    KindTypeMismatch,
				Path:    []string{"point", "x"},
				GoType:  "int64",
				WitType: "s32",
				Detail:  "cannot narrow",
			},
			contains: []string{"[encode]", "type_mismatch", "point.x", "int64", "s32", "cannot narrow"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseAlloc,
				Kind:   KindAllocation,
				Detail: "heap full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[alloc]", "allocation", "heap full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseEncode,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should walk to cause")
	}
}

func TestError_Is(t *testing.T) {
	err := DoubleRelease(0x10001)

	if !errors.Is(err, &Error{Phase: PhaseRelease, Kind: KindDoubleRelease}) {
		t.Error("Is should match same phase and kind")
	}
	if errors.Is(err, &Error{Phase: PhaseTransfer, Kind: KindDoubleRelease}) {
		t.Error("Is should not match different phase")
	}
	if errors.Is(err, &Error{Phase: PhaseRelease, Kind: KindUseAfterRelease}) {
		t.Error("Is should not match different kind")
	}
}

func TestIsKind(t *testing.T) {
	inner := UseAfterRelease(PhaseTransfer, 7)
	outer := Wrap(PhaseCall, KindInvalidData, inner, "read collection")
	wrapped := fmt.Errorf("client: %w", outer)

	if !IsKind(wrapped, KindUseAfterRelease) {
		t.Error("IsKind should find the inner kind")
	}
	if !IsKind(wrapped, KindInvalidData) {
		t.Error("IsKind should find the outer kind")
	}
	if IsKind(wrapped, KindDoubleRelease) {
		t.Error("IsKind matched an absent kind")
	}
	if IsKind(errors.New("plain"), KindInvalidData) {
		t.Error("IsKind matched a plain error")
	}
	if KindOf(wrapped) != KindInvalidData {
		t.Errorf("KindOf = %q, want %q", KindOf(wrapped), KindInvalidData)
	}
	if KindOf(nil) != "" {
		t.Error("KindOf(nil) should be empty")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseDecode, KindInvalidVariant).
		Path("number", "tag").
		WitType("variant").
		Value(9).
		Cause(cause).
		Detail("tag %d of %d", 9, 2).
		Build()

	if err.Phase != PhaseDecode {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseDecode)
	}
	if err.Kind != KindInvalidVariant {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidVariant)
	}
	if len(err.Path) != 2 || err.Path[0] != "number" || err.Path[1] != "tag" {
		t.Errorf("Path = %v, want [number tag]", err.Path)
	}
	if err.Value != 9 {
		t.Errorf("Value = %v, want 9", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "tag 9 of 2" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		name  string
		phase Phase
		kind  Kind
		text  string
	}{
		{AllocationFailed(1024, 8, nil), "AllocationFailed", PhaseAlloc, KindAllocation, "1024"},
		{InvalidDiscriminant(PhaseDecode, nil, 5, 1), "InvalidDiscriminant", PhaseDecode, KindInvalidVariant, "max 1"},
		{MemoryOutOfBounds(PhaseDecode, 65532, 8, 65536), "MemoryOutOfBounds", PhaseDecode, KindOutOfBounds, "65540"},
		{Overflow(PhaseEncode, nil, int64(1)<<40, "s32"), "Overflow", PhaseEncode, KindOverflow, "s32"},
		{Unterminated(nil, 0x40, 16), "Unterminated", PhaseDecode, KindUnterminated, "NUL"},
		{UnknownHandle(PhaseTransfer, 3), "UnknownHandle", PhaseTransfer, KindUnknownHandle, "never issued"},
		{DoubleRelease(3), "DoubleRelease", PhaseRelease, KindDoubleRelease, "already released"},
		{UseAfterRelease(PhaseTransfer, 3), "UseAfterRelease", PhaseTransfer, KindUseAfterRelease, "after release"},
		{NotOwner(PhaseRelease, 3, "producer", "consumer"), "NotOwner", PhaseRelease, KindNotOwner, "owned by consumer"},
		{NoReleasePath(3, "point"), "NoReleasePath", PhaseRelease, KindNoReleasePath, "point"},
		{OutstandingBorrow(3, 2), "OutstandingBorrow", PhaseRelease, KindOutstandingBorrow, "2 outstanding"},
		{Closed(PhaseAlloc, "heap"), "Closed", PhaseAlloc, KindClosed, "heap closed"},
		{Config("bad backend", nil), "Config", PhaseConfig, KindInvalidInput, "bad backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %v, want %v", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", tt.err.Kind, tt.kind)
			}
			if !strings.Contains(tt.err.Error(), tt.text) {
				t.Errorf("Error() = %q, should contain %q", tt.err.Error(), tt.text)
			}
		})
	}
}
