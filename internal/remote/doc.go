// Package remote defines the contract of the authoritative backend the sync
// engine reconciles against, and the typed errors every implementation
// returns.
//
// Three implementations live in subpackages:
//
//   - memory: an in-process backend for tests and demos
//   - sqlbackend: a SQL backend (PostgreSQL in production, SQLite locally)
//   - httpapi: an HTTP server exposing any Backend plus a client implementing it
package remote
