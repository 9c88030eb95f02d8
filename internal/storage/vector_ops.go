package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// candidate represents a record with its similarity score
type candidate struct {
	record types.VectorRecord
	score  float64
}

// less orders candidates by score descending, then newer ModifiedAt, then
// lexicographic path, then chunk index
func (c candidate) less(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if !c.record.ModifiedAt.Equal(o.record.ModifiedAt) {
		return c.record.ModifiedAt.After(o.record.ModifiedAt)
	}
	if c.record.DocumentPath != o.record.DocumentPath {
		return c.record.DocumentPath < o.record.DocumentPath
	}
	return c.record.ChunkIndex < o.record.ChunkIndex
}

// sortCandidates sorts candidates best first using O(n log n) algorithm
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].less(candidates[j])
	})
}

// scoreRecord returns the candidate for rec, or false when the vector
// dimension does not match the query
func scoreRecord(rec types.VectorRecord, query []float32) (candidate, bool) {
	if len(rec.Vector) != len(query) {
		return candidate{}, false
	}
	return candidate{record: rec, score: cosineSimilarity(query, rec.Vector)}, true
}

// topK sorts candidates and returns the best k as scored records
func topK(candidates []candidate, k int) []types.ScoredRecord {
	sortCandidates(candidates)
	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]types.ScoredRecord, k)
	for i := 0; i < k; i++ {
		results[i] = types.ScoredRecord{Record: candidates[i].record, Score: candidates[i].score}
	}
	return results
}

func validateQuery(vector []float32, k int) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty query vector", ErrInvalidInput)
	}
	if k < 0 {
		return fmt.Errorf("%w: k must not be negative", ErrInvalidInput)
	}
	return nil
}

// formatMtime encodes a marker time with nanosecond precision
func formatMtime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseMtime(raw string) (time.Time, error) {
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid mtime marker %q: %w", raw, err)
	}
	return time.Unix(0, ns), nil
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
