package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Document is a snapshot of one source item owned by the document source
type Document struct {
	Path       string // Unique, stable identifier within the collection
	Title      string
	Content    string
	ModifiedAt time.Time
	Metadata   map[string]any // Frontmatter / annotations, e.g. "tags"
}

// Tags returns the document's tags, lower-cased, without a leading '#',
// deduplicated and sorted. Tags are read from Metadata["tags"] (or "tag")
// which may be a single string, a comma or space separated string, or a list.
func (d *Document) Tags() []string {
	if d == nil || d.Metadata == nil {
		return nil
	}

	raw, ok := d.Metadata["tags"]
	if !ok {
		raw, ok = d.Metadata["tag"]
	}
	if !ok || raw == nil {
		return nil
	}

	var values []string
	switch v := raw.(type) {
	case string:
		values = strings.FieldsFunc(v, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
	case []string:
		values = v
	case []any:
		for _, item := range v {
			if item != nil {
				values = append(values, fmt.Sprint(item))
			}
		}
	default:
		values = []string{fmt.Sprint(v)}
	}

	seen := make(map[string]struct{}, len(values))
	tags := make([]string, 0, len(values))
	for _, value := range values {
		tag := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(value), "#"))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Validate checks that the document can be indexed
func (d *Document) Validate() error {
	if d.Path == "" {
		return ErrMissingPath
	}
	if d.ModifiedAt.IsZero() {
		return ErrMissingModTime
	}
	return nil
}
