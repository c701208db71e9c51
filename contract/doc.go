// Package contract is the agreement both sides of the boundary compile
// against: the WIT descriptions of every shared layout, the Go renderings of
// those values, the entry point names, and the status codes.
//
// # Layouts
//
//	Point            record  { x: s32, y: s32 }                       size 8,  align 4
//	Number           variant { integer(s32), float(f32) }             size 8,  align 4
//	NamedCollection  record  { name: u32, values: u32, len: u32 }     size 12, align 4
//
// In NamedCollection, name is the address of a NUL-terminated byte string,
// values the address of len contiguous s32 elements.
//
// The discriminant values of Number are part of the contract:
//
//	0  integer
//	1  float
//
// # Ownership
//
// Every constructor entry point transfers ownership of a freshly allocated
// block to the caller. Only NamedCollection has a release entry point
// (free_named_collection). Point and Number have none; see ReleasePolicy.
//
// WriteHeader renders all of the above as a C header for a 32-bit consumer.
package contract
