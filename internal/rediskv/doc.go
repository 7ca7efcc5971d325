// Package rediskv stores cache state in Redis and provides a distributed
// lock, for terminals that share one tenant's state across processes.
//
// Values live under "<prefix>:<tenant>:<key>". The SQLite store remains the
// default backend; Redis is selected with storage.backend=redis.
package rediskv
