// Package syncer replays the local queue of offline mutations against the
// remote store.
//
// A cycle reads every unsynced item in enqueue order and dispatches it by
// action. Successful items are marked synced; a failed item is recorded
// and left in the queue, and later items addressed to the same entry are
// held until the next cycle so that an update never overtakes its create.
// A connectivity error ends the cycle early because every remaining item
// would fail the same way.
//
// Creates are idempotent: the temporary id travels to the remote row as
// client_id and is looked up before inserting, so a create replayed after
// a crash between the remote insert and MarkQueueItemAsSynced adopts the
// existing row instead of duplicating it.
package syncer
