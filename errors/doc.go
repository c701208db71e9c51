// Package errors is the error vocabulary shared by every layer of the
// boundary.
//
// An *Error carries a Phase, the layer that failed, and a Kind, what went
// wrong. Optional context includes the field path, the WIT and Go type
// names, the offending value and a cause. Kinds that cross the flat ABI map
// one to one onto the i32 status codes in package contract.
//
// Ledger and heap failures have dedicated constructors:
//
//	errors.DoubleRelease(uint32(h))
//	errors.UseAfterRelease(errors.PhaseDecode, uint32(h))
//
// Anything else goes through the Builder:
//
//	errors.New(errors.PhaseDecode, errors.KindInvalidVariant).
//		Path("number", "tag").
//		Detail("discriminant %d out of range", 7).
//		Build()
//
// errors.Is matches on phase and kind; IsKind and KindOf look at the kind
// alone, which is what status mapping needs.
package errors
