// Package boundary opens a complete session: the shared linear memory, the
// producer heap inside it, the ownership ledger, the producer library bound
// as a host module, and a consumer client calling it by name.
//
//	sess, err := boundary.Open(ctx, config.Default())
//	...
//	report, err := sess.Close(ctx)
//	for _, e := range report.Retained { ... }
//
// With the wazero backend the memory is exported by a module instantiated in
// a private wazero runtime and every consumer call goes through the
// runtime's function call path. With the linear backend the memory is a Go
// slice and calls go straight to the flat entry points.
package boundary
