// Package api exposes a Session over HTTP for the point-of-sale UI.
//
// Every write answers with the Result of the underlying service, including
// isOffline; network trouble never turns into an HTTP error.
package api
