package embedder

import "strings"

// modelFamilies lists model names that produce interchangeable vectors
var modelFamilies = [][]string{
	{"nomic-embed-text", "nomic-embed-text:latest", "nomic-embed-text:v1.5"},
	{"small", "cohereai"},
}

var familyOf = func() map[string]int {
	m := make(map[string]int)
	for i, family := range modelFamilies {
		for _, name := range family {
			m[name] = i
		}
	}
	return m
}()

// ModelsCompatible reports whether vectors produced by model a can be
// compared with vectors produced by model b. Either argument may be a
// "name|provider" model key. An empty model is never compatible.
func ModelsCompatible(a, b string) bool {
	a, _ = ParseModelKey(a)
	b, _ = ParseModelKey(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	fa, okA := familyOf[a]
	fb, okB := familyOf[b]
	return okA && okB && fa == fb
}

// ParseModelKey splits a "name|provider" model key. A key without a
// separator is a bare model name.
func ParseModelKey(key string) (name, provider string) {
	name, provider, _ = strings.Cut(strings.TrimSpace(key), "|")
	return strings.TrimSpace(name), strings.ToLower(strings.TrimSpace(provider))
}
