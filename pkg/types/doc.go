// Package types provides shared type definitions for the vault index.
//
// This package defines the data model used across the indexer, the vector
// store backends, the retriever and the command layer.
//
// # Core Types
//
// Document is a read-only snapshot of a note owned by the document source:
//
//	doc := types.Document{
//	    Path:       "projects/roadmap.md",
//	    Title:      "roadmap",
//	    Content:    body,
//	    ModifiedAt: info.ModTime(),
//	    Metadata:   map[string]any{"tags": []any{"planning"}},
//	}
//
// Chunk is a bounded slice of a document's content, and VectorRecord is the
// persisted form of a chunk together with its embedding:
//
//	rec := types.VectorRecord{
//	    ID:             fingerprint.RecordID(fp, 0),
//	    DocumentPath:   doc.Path,
//	    EmbeddingModel: "text-embedding-3-small",
//	    Vector:         vec,
//	    Text:           chunk.Text,
//	}
//
// Markers holds the singleton values that live in the same store as the
// vectors: the latest indexed modification time, the embedding model that
// produced the stored vectors, the documents the last pass failed on, and a
// generation counter that advances with every record write.
//
// # Errors
//
// The error taxonomy is expressed as sentinel errors checked with errors.Is:
//
//   - ErrEmbeddingProvider: embedding call failed, surfaced per document
//   - ErrStorage: vector store I/O failed, fatal for the current pass
//   - ErrStaleIndex: query-time model mismatch
//   - ErrConfiguration: no embedding provider configured
//
// Per-document failures are reported as *DocumentError values that unwrap
// to their cause:
//
//	var docErr *types.DocumentError
//	if errors.As(err, &docErr) && errors.Is(err, types.ErrEmbeddingProvider) {
//	    log.Printf("skipping %s: %v", docErr.Path, docErr.Err)
//	}
package types
