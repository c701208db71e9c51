// Package consumer calls the contract entry points by name over the flat
// calling convention and wraps every returned handle in a typed reference.
//
//	client := consumer.NewClient(consumer.NewWazeroInvoker(mod), mem, nil)
//	coll, err := client.AcquireCollection(ctx)
//	c, err := coll.Read(ctx)
//	err = coll.Release(ctx)
//
// References read the shared block through a ledger borrow that lasts only
// for the read. A released or moved reference refuses every further use.
package consumer
