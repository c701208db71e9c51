// Package ledger tracks who owns every block that crosses the boundary.
//
// Each allocation the producer hands out is registered as a Handle. A handle
// has exactly one owner at a time and moves between sides only through
// Transfer:
//
//	h, _ := table.Register(contract.TypeNamedCollection, ptr, contract.PolicyPaired)
//	_ = table.Transfer(h, ledger.SideProducer, ledger.SideConsumer)
//
// The owner reads the block through a borrow. The returned representation
// (the block address) is only valid until the borrow is returned:
//
//	rep, err := table.Borrow(h, ledger.SideConsumer)
//	...
//	table.ReturnBorrow(h)
//
// # Release
//
// Release is two-phase. BeginRelease moves a live handle to releasing, which
// blocks new borrows while the producer frees the block's children and then
// the block itself. FinishRelease marks the slot released:
//
//	live --BeginRelease--> releasing --FinishRelease--> released
//	                           |
//	                           +--AbortRelease--> live
//
// Handles whose type has PolicyUnspecified cannot be released; BeginRelease
// returns KindNoReleasePath. They stay outstanding until Close reports them.
//
// # Tombstones
//
// Handles carry a generation. A released slot may be reused for a new
// registration, but the old handle still carries the old generation, so a
// second release reports KindDoubleRelease and a borrow reports
// KindUseAfterRelease instead of silently touching the new occupant.
//
// # Observers
//
// Observers receive every lifecycle event. ZapObserver logs them; Recorder
// keeps them for later inspection.
package ledger
