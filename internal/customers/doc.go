// Package customers resolves customers by phone without creating
// duplicates across offline sessions.
//
// A customer created while offline gets a local-temporary id and a queued
// create mutation. The sync engine rewrites that id to the server id once
// the create is acknowledged, on the customer and on every order that
// references it.
package customers
