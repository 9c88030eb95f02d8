package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// BackendMemory names the in-process backend
const BackendMemory = "memory"

// MemoryStore is a map-backed Store for tests and ephemeral runs
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]types.VectorRecord // by record ID
	markers map[string]string
	closed  bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]types.VectorRecord),
		markers: make(map[string]string),
	}
}

func (m *MemoryStore) check() error {
	if m.closed {
		return types.StorageErr("memory store", ErrClosed)
	}
	return nil
}

// Backend returns the backend name
func (m *MemoryStore) Backend() string {
	return BackendMemory
}

// Upsert implements Store
func (m *MemoryStore) Upsert(_ context.Context, doc *types.Document, chunks []types.Chunk, vectors [][]float32, model string) error {
	records, err := buildRecords(doc, chunks, vectors, model)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}

	m.deletePrefixLocked(fingerprint.Prefix(fingerprint.Fingerprint(doc.Path)))
	for _, rec := range records {
		m.records[rec.ID] = rec
	}
	m.bumpLocked()
	return nil
}

func (m *MemoryStore) bumpLocked() {
	gen, _ := strconv.ParseInt(m.markers[markerGeneration], 10, 64)
	m.markers[markerGeneration] = strconv.FormatInt(gen+1, 10)
}

func (m *MemoryStore) deletePrefixLocked(prefix string) int {
	n := 0
	for id := range m.records {
		if strings.HasPrefix(id, prefix) {
			delete(m.records, id)
			n++
		}
	}
	return n
}

// DeleteDocument implements Store
func (m *MemoryStore) DeleteDocument(ctx context.Context, path string) (int, error) {
	return m.DeletePrefix(ctx, fingerprint.Prefix(fingerprint.Fingerprint(path)))
}

// DeletePrefix implements Store
func (m *MemoryStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	n := m.deletePrefixLocked(prefix)
	if n > 0 {
		m.bumpLocked()
	}
	return n, nil
}

// DocumentRecords implements Store
func (m *MemoryStore) DocumentRecords(_ context.Context, path string) ([]types.VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	prefix := fingerprint.Prefix(fingerprint.Fingerprint(path))
	var records []types.VectorRecord
	for id, rec := range m.records {
		if strings.HasPrefix(id, prefix) {
			records = append(records, copyRecord(rec))
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ChunkIndex < records[j].ChunkIndex
	})
	return records, nil
}

// Query implements Store
func (m *MemoryStore) Query(_ context.Context, vector []float32, k int) ([]types.ScoredRecord, error) {
	if err := validateQuery(vector, k); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}

	candidates := make([]candidate, 0, len(m.records))
	for _, rec := range m.records {
		if c, ok := scoreRecord(rec, vector); ok {
			c.record = copyRecord(c.record)
			candidates = append(candidates, c)
		}
	}
	return topK(candidates, k), nil
}

// Markers implements Store
func (m *MemoryStore) Markers(_ context.Context) (*types.Markers, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	markers, err := markersFrom(m.markers)
	if err != nil {
		return nil, types.StorageErr("read markers", err)
	}
	return markers, nil
}

// Generation implements Store
func (m *MemoryStore) Generation(ctx context.Context) (int64, error) {
	markers, err := m.Markers(ctx)
	if err != nil {
		return 0, err
	}
	return markers.Generation, nil
}

// LatestMtime implements Store
func (m *MemoryStore) LatestMtime(ctx context.Context) (*time.Time, error) {
	markers, err := m.Markers(ctx)
	if err != nil {
		return nil, err
	}
	return markers.LatestMtime, nil
}

// ActiveEmbeddingModel implements Store
func (m *MemoryStore) ActiveEmbeddingModel(ctx context.Context) (string, error) {
	markers, err := m.Markers(ctx)
	if err != nil {
		return "", err
	}
	return markers.ActiveEmbeddingModel, nil
}

// SetMarkers implements Store
func (m *MemoryStore) SetMarkers(_ context.Context, mtime time.Time, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.markers[markerLatestMtime] = formatMtime(mtime)
	m.markers[markerEmbeddingModel] = model
	delete(m.markers, markerRebuildPending)
	return nil
}

// SetActiveEmbeddingModel implements Store
func (m *MemoryStore) SetActiveEmbeddingModel(_ context.Context, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.markers[markerEmbeddingModel] = model
	return nil
}

// SetRebuildPending implements Store
func (m *MemoryStore) SetRebuildPending(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.markers[markerRebuildPending] = "1"
	return nil
}

// SetFailedPaths implements Store
func (m *MemoryStore) SetFailedPaths(_ context.Context, paths []string) error {
	raw, err := encodeFailedPaths(paths)
	if err != nil {
		return types.StorageErr("set failed paths", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	if raw == "" {
		delete(m.markers, markerFailedPaths)
	} else {
		m.markers[markerFailedPaths] = raw
	}
	return nil
}

// DestroyAndRecreate implements Store
func (m *MemoryStore) DestroyAndRecreate(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	gen := m.markers[markerGeneration]
	m.records = make(map[string]types.VectorRecord)
	m.markers = map[string]string{markerGeneration: gen}
	m.bumpLocked()
	return nil
}

// AllDocumentPaths implements Store
func (m *MemoryStore) AllDocumentPaths(_ context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	paths := make(map[string]struct{})
	for _, rec := range m.records {
		paths[rec.DocumentPath] = struct{}{}
	}
	return paths, nil
}

// Count implements Store
func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return 0, err
	}
	return len(m.records), nil
}

// Stats implements Store
func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	paths, err := m.AllDocumentPaths(ctx)
	if err != nil {
		return nil, err
	}
	count, err := m.Count(ctx)
	if err != nil {
		return nil, err
	}
	markers, err := m.Markers(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Backend:   BackendMemory,
		Records:   count,
		Documents: len(paths),
		Markers:   *markers,
	}, nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyRecord(rec types.VectorRecord) types.VectorRecord {
	vec := make([]float32, len(rec.Vector))
	copy(vec, rec.Vector)
	rec.Vector = vec
	return rec
}
