package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed upsert or query arguments
	ErrInvalidInput = errors.New("invalid input")
	// ErrClosed is returned by a store after Close
	ErrClosed = errors.New("store is closed")
	// ErrUnknownBackend is returned by Open for an unsupported backend name
	ErrUnknownBackend = fmt.Errorf("%w: unknown storage backend", types.ErrConfiguration)
)

// Store is the persistent vector store of one collection. Besides chunk
// records it holds the index markers (latest indexed mtime, active embedding
// model) so that records and markers share one lifecycle.
//
// Every I/O failure is returned wrapped with types.ErrStorage.
type Store interface {
	// Upsert replaces every record of doc with one record per chunk.
	// Old records are deleted before new ones are inserted, in a single
	// transaction where the backend supports it.
	Upsert(ctx context.Context, doc *types.Document, chunks []types.Chunk, vectors [][]float32, model string) error

	// DeleteDocument removes all records of the document at path
	DeleteDocument(ctx context.Context, path string) (int, error)

	// DeletePrefix removes all records whose ID starts with prefix
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// DocumentRecords returns the records of one document in chunk order
	DocumentRecords(ctx context.Context, path string) ([]types.VectorRecord, error)

	// Query returns the k records most similar to vector. Ties are broken
	// by newer ModifiedAt, then DocumentPath, then ChunkIndex.
	Query(ctx context.Context, vector []float32, k int) ([]types.ScoredRecord, error)

	// Markers
	LatestMtime(ctx context.Context) (*time.Time, error)
	ActiveEmbeddingModel(ctx context.Context) (string, error)
	Markers(ctx context.Context) (*types.Markers, error)
	// SetMarkers writes both markers and clears the rebuild-pending flag
	SetMarkers(ctx context.Context, mtime time.Time, model string) error
	// SetActiveEmbeddingModel writes the model marker only
	SetActiveEmbeddingModel(ctx context.Context, model string) error
	// SetRebuildPending records that a rebuild started and has not finished
	SetRebuildPending(ctx context.Context) error
	// SetFailedPaths replaces the set of documents to retry on the next pass.
	// An empty set removes the marker.
	SetFailedPaths(ctx context.Context, paths []string) error
	// Generation changes whenever records are written or deleted, including
	// by another process sharing the store
	Generation(ctx context.Context) (int64, error)

	// DestroyAndRecreate drops all records and markers, leaving an empty
	// usable store. The generation still advances.
	DestroyAndRecreate(ctx context.Context) error

	// AllDocumentPaths returns the set of document paths with stored records
	AllDocumentPaths(ctx context.Context) (map[string]struct{}, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)

	Stats(ctx context.Context) (*Stats, error)
	Backend() string
	Close() error
}

// Stats summarises a store
type Stats struct {
	Backend   string        `json:"backend"`
	Location  string        `json:"location,omitempty"`
	Records   int           `json:"records"`
	Documents int           `json:"documents"`
	Markers   types.Markers `json:"markers"`
}

// Marker keys shared by all backends
const (
	markerLatestMtime    = "latest_mtime"
	markerEmbeddingModel = "embedding_model"
	markerRebuildPending = "rebuild_pending"
	markerFailedPaths    = "failed_paths"
	// markerGeneration survives DestroyAndRecreate so a cached generation
	// is never reused for different records
	markerGeneration = "generation"
)

// markerNames lists every marker key in read order
var markerNames = []string{
	markerLatestMtime, markerEmbeddingModel, markerRebuildPending, markerFailedPaths, markerGeneration,
}

// buildRecords turns a document's chunks and vectors into records
func buildRecords(doc *types.Document, chunks []types.Chunk, vectors [][]float32, model string) ([]types.VectorRecord, error) {
	if doc == nil || doc.Path == "" {
		return nil, fmt.Errorf("%w: document path is required", ErrInvalidInput)
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%w: %d chunks but %d vectors", ErrInvalidInput, len(chunks), len(vectors))
	}
	if model == "" && len(chunks) > 0 {
		return nil, fmt.Errorf("%w: embedding model is required", ErrInvalidInput)
	}

	fp := fingerprint.Fingerprint(doc.Path)
	records := make([]types.VectorRecord, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return nil, fmt.Errorf("%w: empty vector for chunk %d", ErrInvalidInput, i)
		}
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])

		records[i] = types.VectorRecord{
			ID:             fingerprint.RecordID(fp, i),
			Fingerprint:    fp,
			DocumentPath:   doc.Path,
			Title:          doc.Title,
			ChunkIndex:     i,
			ModifiedAt:     doc.ModifiedAt,
			EmbeddingModel: model,
			Vector:         vec,
			Text:           chunk.Text,
			Metadata:       doc.Metadata,
		}
	}
	return records, nil
}

// markersFrom assembles Markers from raw marker values
func markersFrom(values map[string]string) (*types.Markers, error) {
	m := &types.Markers{
		ActiveEmbeddingModel: values[markerEmbeddingModel],
		RebuildPending:       values[markerRebuildPending] == "1",
	}
	if raw, ok := values[markerLatestMtime]; ok && raw != "" {
		t, err := parseMtime(raw)
		if err != nil {
			return nil, err
		}
		m.LatestMtime = &t
	}
	if raw := values[markerFailedPaths]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.FailedPaths); err != nil {
			return nil, fmt.Errorf("invalid failed paths marker: %w", err)
		}
	}
	if raw := values[markerGeneration]; raw != "" {
		gen, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid generation marker %q: %w", raw, err)
		}
		m.Generation = gen
	}
	return m, nil
}

// encodeFailedPaths returns the marker value for paths, sorted and
// deduplicated. It returns "" for an empty set.
func encodeFailedPaths(paths []string) (string, error) {
	if len(paths) == 0 {
		return "", nil
	}
	set := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := set[p]; ok {
			continue
		}
		set[p] = struct{}{}
		unique = append(unique, p)
	}
	sort.Strings(unique)
	raw, err := json.Marshal(unique)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
