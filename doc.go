// Package ffiboundary provides an in-process binary boundary between two
// independently compiled sides that share one linear memory and one flat
// calling convention.
//
// Values cross the boundary in four shapes:
//
//   - Scalars: fixed-width integers and floats passed by value on the stack
//   - Aggregates: fixed-layout records allocated by the producer
//   - Tagged values: a discriminant plus exactly one active payload
//   - Collections: a NUL-terminated name, a buffer pointer and an exact count
//
// # Architecture Overview
//
//	ffiboundary/         Root package with core Memory and Allocator interfaces
//	├── boundary/        Session wiring: memory, heap, ledger, producer, consumer
//	├── producer/        Entry points that allocate and hand out handles
//	├── consumer/        Typed client that borrows, reads and releases handles
//	├── contract/        Shared layouts, discriminants, status codes, C header
//	├── transcoder/      Scalar, record, variant, list and C string codecs
//	├── layout/          Size, alignment and offset calculation
//	├── ledger/          Ownership table: single owner, borrows, release
//	├── memory/          Linear memory backends and the producer heap
//	├── config/          YAML configuration
//	├── scenario/        YAML end-to-end scenarios with golden traces
//	├── errors/          Structured error types
//	├── internal/wasmbin Wasm binary encoding for generated modules
//	└── cmd/ffiboundary/ CLI: layout, header, check, inspect, config
//
// # Quick Start
//
//	sess, err := boundary.Open(ctx, config.Default())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close(ctx)
//
//	coll, err := sess.Client().MakeCollection(ctx, "demo", []int32{10, 20, 30})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c, _ := coll.Read(ctx)
//	fmt.Println(c.Name, c.Values) // demo [10 20 30]
//	_ = coll.Release(ctx)
//
// # Ownership
//
// Every allocation handed to the consumer is tracked by a ledger handle with
// exactly one owner. Collections have a paired release entry point that must
// be called exactly once. Points and numbers have no release path; they stay
// in the ledger as retained values until the session closes and the whole
// linear memory is dropped.
//
// # Thread Safety
//
// The heap and the ledger are safe for concurrent use. A handle, and the
// reference wrapping it, must be used by a single goroutine.
package ffiboundary
