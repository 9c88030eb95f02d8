// Package chunker splits note text into bounded chunks for embedding.
//
// Text is divided at paragraph breaks first, then at sentence terminators
// (including the full-width 。！？), and only then hard-cut on rune
// boundaries. Pieces are packed greedily up to MaxChunkChars and each chunk
// after the first opens with a word-aligned tail of its predecessor.
package chunker
