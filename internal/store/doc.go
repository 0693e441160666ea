// Package store persists artifact metadata in a SQLite table keyed by
// artifact id. Upserts are idempotent with last-write-wins semantics,
// which lets the indexer re-run over unchanged repositories without
// touching stored rows.
//
// The store also backs keyword search, the fallback retrieval path used
// when semantic search returns nothing.
package store
