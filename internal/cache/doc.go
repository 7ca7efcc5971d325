// Package cache is the tenant-scoped, in-memory snapshot every screen
// reads from.
//
// Reads are synchronous and never fail: before the reference snapshot has
// loaded they return empty slices. Operational data (orders, customers,
// tables, payment transactions) is mirrored to a Backend under one key per
// field, so a corrupt field is dropped on restore without losing the rest.
//
// Only the order lifecycle manager, the customer resolver and the sync
// engine write operational data, and each write is followed by
// SaveCacheToStorage before control returns to the caller.
package cache
