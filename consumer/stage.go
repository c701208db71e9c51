package consumer

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/wippyai/ffi-boundary/contract"
	"github.com/wippyai/ffi-boundary/errors"
	"github.com/wippyai/ffi-boundary/layout"
	"github.com/wippyai/ffi-boundary/transcoder"
)

type staged struct {
	ptr, size, align uint32
}

// stager allocates argument buffers in shared memory through cabi_realloc
// and frees them when the call is done.
type stager struct {
	c      *Client
	blocks []staged
}

func (s *stager) alloc(ctx context.Context, size, align uint32) (uint32, error) {
	ptr, err := s.c.realloc(ctx, 0, 0, align, size)
	if err != nil {
		return 0, err
	}
	s.blocks = append(s.blocks, staged{ptr: ptr, size: size, align: align})
	return ptr, nil
}

// cstring stages the bytes of str unchanged with a NUL terminator. A name
// that is not in NFC is logged: it will not compare equal to its composed
// form on the other side.
func (s *stager) cstring(ctx context.Context, str string) (uint32, error) {
	if !norm.NFC.IsNormalString(str) {
		s.c.log.Debug("staging name that is not NFC", zap.String("name", str))
	}
	for i := 0; i < len(str); i++ {
		if str[i] == 0 {
			return 0, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
				Path(contract.FieldName).
				Detail("name has interior NUL at byte %d", i).
				Build()
		}
	}
	if len(str) >= layout.MaxStringSize {
		return 0, errors.Overflow(errors.PhaseEncode, []string{contract.FieldName}, len(str), "c string")
	}
	size := uint32(len(str)) + 1
	ptr, err := s.alloc(ctx, size, 1)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	copy(buf, str)
	if err := s.c.mem.Write(ptr, buf); err != nil {
		return 0, err
	}
	return ptr, nil
}

// int32s stages values as contiguous s32 elements.
func (s *stager) int32s(ctx context.Context, values []int32) (uint32, error) {
	if len(values) > layout.MaxListLength {
		return 0, errors.Overflow(errors.PhaseEncode, []string{contract.FieldValues}, len(values), "list length")
	}
	elem := contract.ElementLayout
	size := uint32(len(values)) * elem.Size
	ptr, err := s.alloc(ctx, size, elem.Align)
	if err != nil {
		return 0, err
	}
	for i, v := range values {
		if err := transcoder.StoreScalar(s.c.mem, ptr+uint32(i)*elem.Size, contract.ElementType, transcoder.LowerS32(v)); err != nil {
			return 0, err
		}
	}
	return ptr, nil
}

// free releases every staged buffer, newest first, and returns the first
// error.
func (s *stager) free(ctx context.Context) error {
	var first error
	for i := len(s.blocks) - 1; i >= 0; i-- {
		b := s.blocks[i]
		if _, err := s.c.realloc(ctx, b.ptr, b.size, b.align, 0); err != nil && first == nil {
			first = err
		}
	}
	s.blocks = nil
	return first
}
