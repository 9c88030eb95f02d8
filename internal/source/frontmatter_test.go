package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitFrontmatter(t *testing.T) {
	t.Run("parses metadata and strips block", func(t *testing.T) {
		content := "---\ntitle: Hello\ntags: [work, \"#Project\"]\n---\n\n# Body\nText."
		meta, body := splitFrontmatter(content)

		require.NotNil(t, meta)
		assert.Equal(t, "Hello", meta["title"])
		assert.Equal(t, []any{"work", "#Project"}, meta["tags"])
		assert.Equal(t, "# Body\nText.", body)
	})

	t.Run("no frontmatter", func(t *testing.T) {
		meta, body := splitFrontmatter("# Title\n---\nnot yaml")
		assert.Nil(t, meta)
		assert.Equal(t, "# Title\n---\nnot yaml", body)
	})

	t.Run("unterminated block is body", func(t *testing.T) {
		content := "---\ntitle: x\nno closing"
		meta, body := splitFrontmatter(content)
		assert.Nil(t, meta)
		assert.Equal(t, content, body)
	})

	t.Run("invalid yaml is body", func(t *testing.T) {
		content := "---\n: [unbalanced\n---\nbody"
		meta, body := splitFrontmatter(content)
		assert.Nil(t, meta)
		assert.Equal(t, content, body)
	})

	t.Run("empty block", func(t *testing.T) {
		meta, body := splitFrontmatter("---\n---\nbody")
		assert.NotNil(t, meta)
		assert.Empty(t, meta)
		assert.Equal(t, "body", body)
	})

	t.Run("crlf and bom", func(t *testing.T) {
		meta, body := splitFrontmatter("\ufeff---\r\ntag: daily\r\n---\r\nbody")
		require.NotNil(t, meta)
		assert.Equal(t, "daily", meta["tag"])
		assert.Equal(t, "body", body)
	})

	t.Run("block at end of file", func(t *testing.T) {
		meta, body := splitFrontmatter("---\na: 1\n---")
		require.NotNil(t, meta)
		assert.Equal(t, 1, meta["a"])
		assert.Equal(t, "", body)
	})
}
