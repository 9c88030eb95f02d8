package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

const (
	// DefaultChunkSize is the default number of characters (runes) per chunk
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the default number of overlapping characters
	DefaultChunkOverlap = 200
)

// paragraphBreak matches a blank line, possibly holding only whitespace
var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Chunker splits note text into bounded, overlapping chunks
type Chunker struct {
	MaxChunkChars int
	OverlapChars  int
}

// Option configures the chunker
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.MaxChunkChars = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.OverlapChars = overlap
		}
	}
}

// New creates a new Chunker with the given options
func New(opts ...Option) *Chunker {
	c := &Chunker{
		MaxChunkChars: DefaultChunkSize,
		OverlapChars:  DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap stays below chunk size
	if c.OverlapChars >= c.MaxChunkChars {
		c.OverlapChars = c.MaxChunkChars / 4
	}

	return c
}

// piece is an indivisible unit of packing. sep is placed before it when it
// follows other text in the same chunk.
type piece struct {
	text string
	sep  string
}

// ChunkDocument splits a document's content into chunks addressed by the
// document's fingerprint
func (c *Chunker) ChunkDocument(doc *types.Document) []types.Chunk {
	texts := c.Split(doc.Content)
	if len(texts) == 0 {
		return nil
	}

	fp := fingerprint.Fingerprint(doc.Path)
	chunks := make([]types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = types.Chunk{
			Fingerprint:  fp,
			DocumentPath: doc.Path,
			Index:        i,
			Text:         text,
		}
	}
	return chunks
}

// Split divides text at paragraph boundaries, then sentence boundaries, then
// hard rune-safe cuts, and packs the pieces greedily up to MaxChunkChars.
// Each chunk after the first starts with the tail of the previous chunk.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0

	for _, p := range c.pieces(text) {
		pLen := utf8.RuneCountInString(p.text)

		if currentLen > 0 && currentLen+utf8.RuneCountInString(p.sep)+pLen > c.MaxChunkChars {
			prev := current.String()
			chunks = append(chunks, prev)

			current.Reset()
			currentLen = 0

			tail := c.overlapTail(prev, c.MaxChunkChars-pLen-utf8.RuneCountInString(p.sep))
			if tail != "" {
				current.WriteString(tail)
				currentLen = utf8.RuneCountInString(tail)
			}
		}

		if currentLen > 0 {
			current.WriteString(p.sep)
			currentLen += utf8.RuneCountInString(p.sep)
		}
		current.WriteString(p.text)
		currentLen += pLen
	}

	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// pieces breaks text into units no longer than MaxChunkChars
func (c *Chunker) pieces(text string) []piece {
	var out []piece

	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if utf8.RuneCountInString(para) <= c.MaxChunkChars {
			out = append(out, piece{text: para, sep: "\n\n"})
			continue
		}

		for i, sentence := range splitSentences(para) {
			if i == 0 {
				sentence.sep = "\n\n"
			}
			if utf8.RuneCountInString(sentence.text) <= c.MaxChunkChars {
				out = append(out, sentence)
				continue
			}
			for j, cut := range c.hardCut(sentence.text) {
				if j == 0 {
					cut.sep = sentence.sep
				}
				out = append(out, cut)
			}
		}
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isWideSentenceEnd(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// splitSentences splits a paragraph after sentence terminators and at line
// breaks. The returned sep records what stood between two sentences.
func splitSentences(para string) []piece {
	runes := []rune(para)
	var out []piece
	sep := ""
	start := 0

	emit := func(end int) {
		s := strings.TrimSpace(string(runes[start:end]))
		if s != "" {
			out = append(out, piece{text: s, sep: sep})
		}
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		boundary := false
		switch {
		case r == '\n':
			boundary = true
		case isWideSentenceEnd(r):
			boundary = true
		case isSentenceEnd(r):
			boundary = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		}
		if !boundary {
			continue
		}

		emit(i + 1)

		// Consume the whitespace after the boundary and remember its shape
		j := i + 1
		newline := r == '\n'
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			if runes[j] == '\n' {
				newline = true
			}
			j++
		}
		switch {
		case newline:
			sep = "\n"
		case j > i+1:
			sep = " "
		default:
			sep = ""
		}
		start = j
		i = j - 1
	}
	emit(len(runes))
	return out
}

// hardCut splits an overlong sentence into windows of at most
// MaxChunkChars runes, preferring to cut at whitespace in the back half of
// each window
func (c *Chunker) hardCut(s string) []piece {
	runes := []rune(s)
	var out []piece
	sep := ""

	for len(runes) > 0 {
		if len(runes) <= c.MaxChunkChars {
			out = append(out, piece{text: string(runes), sep: sep})
			break
		}

		cut := c.MaxChunkChars
		for k := c.MaxChunkChars; k > c.MaxChunkChars/2; k-- {
			if unicode.IsSpace(runes[k]) {
				cut = k
				break
			}
		}

		text := strings.TrimSpace(string(runes[:cut]))
		if text != "" {
			out = append(out, piece{text: text, sep: sep})
		}

		next := cut
		sep = ""
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
			sep = " "
		}
		runes = runes[next:]
	}
	return out
}

// overlapTail returns the trailing OverlapChars runes of prev, limited to
// limit runes and snapped forward to a word boundary when one exists
func (c *Chunker) overlapTail(prev string, limit int) string {
	n := c.OverlapChars
	if limit < n {
		n = limit
	}
	if n <= 0 {
		return ""
	}

	runes := []rune(prev)
	if n >= len(runes) {
		return ""
	}

	start := len(runes) - n
	if !unicode.IsSpace(runes[start-1]) {
		for k := start; k < len(runes); k++ {
			if unicode.IsSpace(runes[k]) {
				start = k + 1
				break
			}
		}
	}
	return strings.TrimSpace(string(runes[start:]))
}
