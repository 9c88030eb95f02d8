// Package retriever serves similarity queries over the vector store.
//
// A query is embedded with the same gateway used for indexing and refused
// with types.ErrStaleIndex when the store was built with an incompatible
// model. Candidates are over-fetched so that results can favour distinct
// documents: the best chunk of each document is chosen first, then the
// remaining slots are filled with the next best chunks regardless of
// document. Cached responses are keyed by model, query, k and minimum score
// and are purged whenever the index changes.
package retriever
