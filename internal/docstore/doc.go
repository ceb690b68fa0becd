// Package docstore provides server-side document persistence with
// optimistic concurrency control.
//
// A document is a full text snapshot plus a version counter the store
// assigns. Writes never carry content directly: ApplyPatch takes a patch in
// its wire form and an expected version, applies the patch on top of the
// stored snapshot, and bumps the version by one. A stale expected version
// fails with a ConflictError, leaving the document untouched. Versions therefore increase by exactly one per accepted write
// and are never assigned by clients.
//
// Three implementations share the Store interface: an in-memory map for
// tests and the conformance harness, SQLite for single-node deployments,
// and Postgres for shared ones. Patch application is identical across all
// three; it goes through the same codec the sync client diffs with, so the
// round-trip law holds across the wire.
package docstore
