package types

// Chunk is a contiguous slice of a document's content, the retrieval granularity
type Chunk struct {
	Fingerprint  string // Fingerprint of the owning document's path
	DocumentPath string
	Index        int // Position within the document (0-based)
	Text         string
}
