// Package syncqueue persists the pending-operations queue of the local store.
//
// Items are appended with a fresh timestamp and synced=0, read back in
// enqueue order (enqueued_at, then id for items sharing a millisecond),
// flipped to synced once replayed and pruned opportunistically.
package syncqueue
