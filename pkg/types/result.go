package types

// RankedChunk is a single retrieval result with source attribution
type RankedChunk struct {
	Text         string  `json:"text"`
	DocumentPath string  `json:"path"`
	Title        string  `json:"title"`
	ChunkIndex   int     `json:"chunk_index"`
	Score        float64 `json:"score"` // Cosine similarity to the query
	Rank         int     `json:"rank"`  // Position in result set (1-based)
}
