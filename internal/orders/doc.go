// Package orders is the only writer of operational orders and tables.
//
// Every write follows the same steps: validate, apply to the cache,
// enqueue a mutation, persist the cache, return. The network is never on
// that path; the sync engine sends queued mutations later.
//
// Completing an order schedules its side effects as mutations of their
// own: the table is released, and inventory is deducted by a mutation in
// the order's lane, behind the status write. A rejected deduction never
// rolls back the status; the order is flagged for reconciliation instead.
package orders
