// Package indexer keeps a vector store in step with a document source.
//
// An indexing pass moves through fixed stages:
//
//	CHECK_MODEL  compare the store's embedding model marker with the current model
//	REBUILD      on mismatch, destroy the store and mark a rebuild as pending
//	DIFF         select documents modified after the latest indexed mtime
//	EMBED        chunk and embed the selected documents concurrently
//	PERSIST      replace each document's records in the store
//	DONE         advance the mtime and model markers
//
// A document that fails to chunk, embed or persist is reported in the pass
// result and retried on the next pass. The mtime marker never moves past it.
//
// The indexer does not serialize passes. Callers hold an IndexLock (and a
// file lock across processes) around IndexAll.
package indexer
