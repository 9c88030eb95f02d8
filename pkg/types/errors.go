package types

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the indexer, retriever and command layer
var (
	// ErrEmbeddingProvider is a network, auth or quota failure of the embedding provider
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrStorage is an I/O failure of the persistent vector store
	ErrStorage = errors.New("storage error")
	// ErrStaleIndex means the stored vectors were produced by an incompatible model
	ErrStaleIndex = errors.New("stale index: embedding model changed, re-index required")
	// ErrConfiguration means no usable embedding provider is configured
	ErrConfiguration = errors.New("configuration error")

	ErrDocumentNotFound   = errors.New("document not found")
	ErrIndexingInProgress = errors.New("indexing already in progress")
)

// Validation errors
var (
	ErrMissingPath    = errors.New("document path is required")
	ErrMissingModTime = errors.New("document modification time is required")
)

// Stages at which a single document can fail during an indexing pass
const (
	StageRead    = "read"
	StageChunk   = "chunk"
	StageEmbed   = "embed"
	StagePersist = "persist"
)

// DocumentError records a failure confined to one document
type DocumentError struct {
	Path  string
	Stage string
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Path, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// StorageErr wraps err with ErrStorage unless it already carries it
func StorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
