// Package exclusion decides which notes are kept out of the QA index.
//
// Rules are parsed from the comma separated qaExclusionPaths setting. Each
// entry names a folder, a note path, a note title (optionally as a
// [[wikilink]]) or, when prefixed with '#', a tag.
package exclusion

import (
	"path"
	"strings"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// Rules is a parsed exclusion list. The zero value excludes nothing.
type Rules struct {
	paths []string
	tags  map[string]struct{}
}

// Parse builds Rules from a comma separated list of paths, titles and tags
func Parse(list string) Rules {
	var r Rules
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		entry = strings.TrimPrefix(entry, "[[")
		entry = strings.TrimSuffix(entry, "]]")

		if strings.HasPrefix(entry, "#") {
			tag := strings.ToLower(strings.TrimLeft(entry, "#"))
			if tag == "" {
				continue
			}
			if r.tags == nil {
				r.tags = make(map[string]struct{})
			}
			r.tags[tag] = struct{}{}
			continue
		}

		entry = strings.ToLower(strings.TrimPrefix(entry, "/"))
		if entry == "" {
			continue
		}
		r.paths = append(r.paths, entry)
	}
	return r
}

// Empty reports whether no rule was parsed
func (r Rules) Empty() bool {
	return len(r.paths) == 0 && len(r.tags) == 0
}

// Paths returns the normalized path entries
func (r Rules) Paths() []string {
	return append([]string(nil), r.paths...)
}

// Excludes reports whether doc matches any rule
func (r Rules) Excludes(doc *types.Document) bool {
	if doc == nil {
		return false
	}
	if r.MatchesPath(doc.Path) {
		return true
	}
	if len(r.tags) == 0 {
		return false
	}
	for _, tag := range doc.Tags() {
		if _, ok := r.tags[tag]; ok {
			return true
		}
	}
	return false
}

// MatchesPath reports whether filePath is covered by a path rule. A rule
// matches the exact path, a leading folder, a trailing component, an
// interior folder, or the file name with its .md extension.
func (r Rules) MatchesPath(filePath string) bool {
	if len(r.paths) == 0 {
		return false
	}

	p := strings.ToLower(filePath)
	fileName := path.Base(p)

	for _, rule := range r.paths {
		switch {
		case p == rule,
			strings.HasPrefix(p, rule+"/"),
			strings.HasSuffix(p, "/"+rule),
			strings.Contains(p, "/"+rule+"/"),
			fileName == rule+".md":
			return true
		}
	}
	return false
}

// Filter returns the documents not excluded by r, preserving order
func (r Rules) Filter(docs []types.Document) []types.Document {
	if r.Empty() {
		return docs
	}
	out := make([]types.Document, 0, len(docs))
	for i := range docs {
		if !r.Excludes(&docs[i]) {
			out = append(out, docs[i])
		}
	}
	return out
}
