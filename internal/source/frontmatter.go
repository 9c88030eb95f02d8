package source

import (
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelim = "---"

// splitFrontmatter separates a leading YAML frontmatter block from the note
// body. Notes without a well formed block are returned unchanged with nil
// metadata.
func splitFrontmatter(content string) (map[string]any, string) {
	s := strings.TrimPrefix(content, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	if !strings.HasPrefix(s, frontmatterDelim+"\n") {
		return nil, content
	}
	rest := s[len(frontmatterDelim)+1:]

	var fmText, body string
	found := false
	offset := 0
	for offset <= len(rest) {
		end := strings.IndexByte(rest[offset:], '\n')
		var line string
		if end < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+end]
		}

		if strings.TrimRight(line, " \t") == frontmatterDelim {
			fmText = rest[:offset]
			if end >= 0 {
				body = rest[offset+end+1:]
			}
			found = true
			break
		}
		if end < 0 {
			break
		}
		offset += end + 1
	}
	if !found {
		return nil, content
	}

	meta := make(map[string]any)
	if strings.TrimSpace(fmText) != "" {
		if err := yaml.Unmarshal([]byte(fmText), &meta); err != nil {
			return nil, content
		}
	}
	if meta == nil {
		meta = make(map[string]any)
	}
	return meta, strings.TrimLeft(body, "\n")
}
