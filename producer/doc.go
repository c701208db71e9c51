// Package producer is the side of the boundary that owns the heap. It
// implements every contract entry point twice: as a Go method returning
// typed results and errors, and as a flat function over a []uint64 stack
// that reports failure through the null handle and last_error.
//
//	lib := producer.New(mem, heap, table, producer.Options{})
//	mod, err := producer.Bind(ctx, rt, lib)   // host module "cffi"
//
// Every block a constructor allocates is registered in the ledger and
// transferred to the consumer before the handle is returned.
package producer
