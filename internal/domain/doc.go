// Package domain defines the entities shared by the POS cache, the mutation
// queue and the sync engine.
//
// Reference data (categories, products, variants, deals, deal products and
// tables) is loaded wholesale from the remote store and replaced atomically.
// Operational data (orders, customers, payment transactions, table
// occupancy) is mutated locally and reaches the remote store through
// Mutation records.
//
// # Identifiers
//
// Entities created while offline carry a local-temporary id (prefix
// "local-"). The sync engine rewrites every reference to such an id once
// the remote store assigns the permanent one. Mutation ids are UUIDv7 and
// double as the idempotency key for the remote store.
//
// # Canonical JSON
//
// MarshalCanonical produces RFC 8785 style output (sorted keys, NFC
// strings, no HTML escaping). It backs PayloadHash, which the queue uses
// to detect no-op re-enqueues, and the golden traces of the scenario
// harness.
package domain
