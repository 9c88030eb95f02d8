// Package source provides the documents that get indexed.
//
// A Source lists and reads notes. Sources that can observe their backing
// store also implement Watcher so deleted notes can be evicted from the
// index as soon as they disappear.
package source

import (
	"context"
	"errors"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

var (
	// ErrInvalidPath is returned for paths that escape the source root or
	// do not name a visible note
	ErrInvalidPath = errors.New("invalid document path")

	// ErrNotDirectory is returned when a vault root is not a directory
	ErrNotDirectory = errors.New("vault root is not a directory")
)

// Source lists and reads documents
type Source interface {
	// ListDocuments returns a snapshot of every document in the source
	ListDocuments(ctx context.Context) ([]types.Document, error)

	// ReadDocument returns one document. Missing documents yield an error
	// wrapping types.ErrDocumentNotFound.
	ReadDocument(ctx context.Context, path string) (*types.Document, error)

	// Name identifies the source, e.g. the vault name
	Name() string
}

// Watcher is implemented by sources that report deletions. Watch blocks
// until ctx is done, calling onDeleted with the document path of every
// removed or renamed-away document.
type Watcher interface {
	Watch(ctx context.Context, onDeleted func(path string)) error
}
