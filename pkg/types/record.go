package types

import "time"

// VectorRecord is one persisted chunk embedding
type VectorRecord struct {
	// ID is fingerprint + ":" + zero-padded chunk index
	ID             string
	Fingerprint    string
	DocumentPath   string
	Title          string
	ChunkIndex     int
	ModifiedAt     time.Time
	EmbeddingModel string
	Vector         []float32
	Text           string
	Metadata       map[string]any
}

// ScoredRecord is a VectorRecord with its similarity to a query vector
type ScoredRecord struct {
	Record VectorRecord
	Score  float64
}

// Markers is the global index state kept next to the records
type Markers struct {
	LatestMtime          *time.Time `json:"latest_mtime,omitempty"`    // nil until the first successful pass
	ActiveEmbeddingModel string     `json:"embedding_model,omitempty"` // empty until the first successful pass
	RebuildPending       bool       `json:"rebuild_pending"`           // set after a destroy, cleared by SetMarkers
	FailedPaths          []string   `json:"failed_paths,omitempty"`    // documents the last pass could not index
	Generation           int64      `json:"generation"`                // bumped by every record mutation
}
