// Package index defines the vector index boundary used by the matcher and
// the resolver.
//
// An index stores exactly one vector per point id together with a flat
// key/value payload, and answers top-K similarity queries restricted by an
// exact-match filter.
//
// Two implementations ship with the module:
//
//   - flat: in-process exact search with roaring posting lists for filters
//     and snapshot/restore through a blobstore.
//   - qdrant: a client for the Qdrant REST API.
//
// # Scores
//
// Scores are similarities: higher is always more similar. Cosine and dot
// product scores are returned as computed; Euclidean distances d are mapped
// to 1/(1+d).
//
// # Errors
//
// Transport and storage faults are reported as ErrUnavailable so callers can
// tell them apart from an empty result.
package index
