package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// Memory is an in-process Source. It is safe for concurrent use and
// notifies watchers synchronously from Remove.
type Memory struct {
	mu       sync.RWMutex
	name     string
	docs     map[string]types.Document
	watchers map[int]func(string)
	nextID   int
}

// NewMemory creates a Memory source holding docs
func NewMemory(name string, docs ...types.Document) *Memory {
	m := &Memory{
		name:     name,
		docs:     make(map[string]types.Document, len(docs)),
		watchers: make(map[int]func(string)),
	}
	for _, d := range docs {
		m.docs[d.Path] = d
	}
	return m
}

// Name returns the source name
func (m *Memory) Name() string {
	return m.name
}

// Put adds or replaces a document
func (m *Memory) Put(doc types.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Path] = doc
}

// Remove deletes a document and notifies watchers
func (m *Memory) Remove(path string) {
	m.mu.Lock()
	_, existed := m.docs[path]
	delete(m.docs, path)
	callbacks := make([]func(string), 0, len(m.watchers))
	for _, fn := range m.watchers {
		callbacks = append(callbacks, fn)
	}
	m.mu.Unlock()

	if !existed {
		return
	}
	for _, fn := range callbacks {
		fn(path)
	}
}

// ListDocuments returns all documents sorted by path
func (m *Memory) ListDocuments(ctx context.Context) ([]types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]types.Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

// ReadDocument returns the document stored at path
func (m *Memory) ReadDocument(ctx context.Context, path string) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrDocumentNotFound, path)
	}
	return &d, nil
}

// Watch registers onDeleted until ctx is done
func (m *Memory) Watch(ctx context.Context, onDeleted func(path string)) error {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = onDeleted
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.watchers, id)
	m.mu.Unlock()
	return nil
}

// Watching reports the number of registered watchers
func (m *Memory) Watching() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.watchers)
}
