// Package session assembles one terminal's offline-first stack for a
// tenant: the cache, the mutation queue, the network monitor, the order and
// customer services, and the sync engine that connects them to the remote
// store.
//
// A Session replaces process-wide singletons. Everything it owns is bound
// to exactly one tenant at a time; SwitchTenant rebinds it.
package session
