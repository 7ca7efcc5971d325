// Package remote is the boundary to the authoritative store.
//
// The core only needs four capabilities: fetch the reference snapshot of a
// tenant, apply one mutation and get an acknowledgement, probe liveness,
// and (optionally) receive server-originated order events. Implementations:
//
//   - HTTPClient: REST client with the mutation id as Idempotency-Key
//   - Postgres: direct pgx adapter with an idempotency table
//   - Memory: in-process authoritative store for tests and demos
//   - Realtime: websocket subscriber for order events
//
// # Errors
//
// A *BusinessError is a permanent, logical rejection (insufficient stock,
// version conflict). Every other error is transient and the mutation is
// retried with backoff.
//
// # Versions
//
// Order payloads carry expected_version and terminal_id. A write is
// rejected with CodeVersionConflict when the remote order moved past
// expected_version and the last writer was another terminal.
package remote
