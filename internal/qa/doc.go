// Package qa exposes the vault QA operations used by the MCP server and the
// CLI: indexing, retrieval, garbage collection, clearing and status.
//
// The core indexer does not serialize passes; Service does, rejecting a
// concurrent pass with types.ErrIndexingInProgress. Service also applies the
// auto-index strategy.
package qa
