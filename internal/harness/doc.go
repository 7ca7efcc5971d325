// Package harness runs scripted terminal sessions and checks their outcome.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_completion
//	description: "A completion made offline syncs once the link returns"
//	offline: false
//	stock: { p-2: 10 }
//	steps:
//	  - do: offline
//	  - do: place_order
//	    as: o1
//	    args:
//	      table: t-1
//	      items: [{ product: p-2, name: Fries, quantity: 2, price: 200 }]
//	  - do: update_status
//	    args: { order: o1, status: Completed }
//	    expect:
//	      result: { offline: true }
//	  - do: online
//	  - do: sync
//	assertions:
//	  - type: order
//	    ref: o1
//	    expect: { status: Completed, _isSynced: true }
//	  - type: network_status
//	    expect: { unsyncedOrders: 0 }
//
// Steps bound with "as" are referenced by name in later steps and in
// assertion refs; string expectations starting with "$" resolve to the
// bound id. Bindings follow the local-to-server id rewrites of sync steps.
//
// # Assertion Types
//
//   - network_status: subset match on the status the UI polls
//   - order, customer, table: subset match on the cached entity
//   - remote: subset match on the entity held by the remote store
//   - queue: number of mutations matching a where clause
//   - stock: remaining remote stock of a product
//   - warnings: number of sync warnings of a kind
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite store, a manual clock starting at
// testutil.Epoch and sequential ids. No background loop runs: the network
// only changes on offline/online steps and the queue only drains on sync
// steps. The same scenario therefore always yields the same trace, which
// is compared against testdata/golden with goldie.
package harness
