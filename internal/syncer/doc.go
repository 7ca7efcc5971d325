// Package syncer drains the mutation queue to the remote store.
//
// Each drain works in rounds. A round takes the head mutation of every
// entity (lowest unsynced seq, due now) and sends it. Mutations of one
// entity therefore reach the remote store in enqueue order, while entities
// never wait on each other: a failing entity backs off and the rest
// continue.
//
// A mutation whose payload still references another entity's
// local-temporary id waits until that entity's create is acknowledged and
// the id is rewritten. Rounds repeat while they make progress, so a create
// and the writes that depend on it go out in a single drain.
package syncer
