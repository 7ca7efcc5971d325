// Package store provides SQLite-backed durable local storage for a POS
// terminal.
//
// Two tables live in one database file:
//   - kv: tenant-scoped key/value strings (serialized cache snapshots,
//     carts, "modifying order" markers)
//   - mutations: the durable log of writes that still have to reach the
//     remote store
//
// # Ordering
//
// Mutations are ordered by seq, a logical clock persisted in the table
// itself. Reads that feed the sync engine always use ORDER BY seq ASC so a
// replay after restart sees the same order.
//
// # Dedup
//
// A partial UNIQUE index allows at most one pending mutation per
// (tenant, entity, operation) for collapsible operations. The queue
// replaces the payload of that row instead of appending.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
package store
