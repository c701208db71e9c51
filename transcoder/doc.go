// Package transcoder moves values in and out of the agreed byte layout.
//
// Values are handled as raw bit patterns ([]uint64), the same representation
// the flat calling convention uses for stack slots. The WIT type of a slot
// decides its width; the layout package decides its offset.
//
// # Memory Layout
//
//	Type            Size    Alignment
//	──────────────────────────────────
//	u8/s8           1       1
//	u16/s16         2       2
//	u32/s32/f32     4       4
//	u64/s64/f64     8       8
//	record          sum     max field align
//	variant         varies  max case align
//	list<T>         pointer + explicit count, elements contiguous
//	C string        pointer, bytes end at the first NUL
//
// # Key Types
//
//	Encoder         - Allocates and writes records, variants, lists, C strings
//	Decoder         - Reads them back by fixed offset
//	AllocationList  - Tracks allocations made while encoding for rollback
//
// # Flat values
//
// Scalars crossing the calling convention are lowered to uint64 stack slots
// with Lower*/Lift* helpers. Narrowing helpers (NarrowS32 and friends) refuse
// values that do not fit instead of truncating them.
//
// # Floats
//
// Float bits are stored exactly as given. NaN payloads are not canonicalized,
// so a float written and read back is bit-identical.
//
// # Variants
//
// EncodeVariant zeroes the block, writes the payload and writes the
// discriminant last, so the block never holds a discriminant that disagrees
// with its payload. DecodeVariant rejects discriminants outside the closed
// case set and reads only the payload of the matching case.
//
// # Thread Safety
//
// Encoder and Decoder hold only a layout calculator and are safe for
// concurrent use.
//
// # Error Handling
//
// Errors use the structured types from the errors package:
//
//	[decode] invalid_variant at number.tag: discriminant 7 out of range (max 1)
//	[decode] unterminated at collection.name: no NUL terminator within 16777216 bytes of 0x40
package transcoder
