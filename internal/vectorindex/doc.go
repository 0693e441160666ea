// Package vectorindex provides similarity search over artifact embeddings.
//
// Two backends implement the Index interface: an embedded SQLite store
// that computes cosine distance in process, and a remote Qdrant
// collection reached over gRPC. Both order results by ascending
// distance so callers are backend agnostic.
package vectorindex
