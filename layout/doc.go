// Package layout computes the byte layout both sides of the boundary agree on.
//
// Layouts are derived from WIT type descriptions, so a producer and a
// consumer that never see each other's source still compute the same size,
// alignment and field offsets from the same declaration.
//
// # Layout Rules
//
//   - Scalars: size equals alignment (u8=1, s32=4, f64=8, etc.)
//   - Records: fields laid out in declaration order, each aligned to its
//     own alignment; total size rounded up to the largest alignment
//   - Variants: discriminant (1, 2 or 4 bytes by case count) followed by the
//     largest payload, aligned to the largest payload alignment
//   - Lists/Strings: (pointer, length) pair in memory, content elsewhere
//
// Field order is part of the contract. Reordering fields is a breaking change
// for every caller; nothing here reorders to save padding.
//
// # Usage
//
//	calc := layout.NewCalculator()
//	info := calc.Calculate(pointType)
//	// info.Size, info.Align, info.FieldOffs["y"]
package layout
