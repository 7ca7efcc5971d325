// Package queue is the durable, ordered record of writes that still have
// to reach the remote store.
//
// Every mutation gets a seq from a logical clock that resumes from the
// highest persisted seq on open, so per-entity order survives restarts.
// Collapsible operations (status, items, payment, update) replace the
// payload of an existing pending mutation for the same entity instead of
// appending. Failed mutations back off exponentially: base·2^(n-1), capped.
//
// The queue never talks to the network. The sync engine pulls Heads and
// reports outcomes through MarkSyncing, MarkSynced, MarkFailed and
// MarkRejected.
package queue
