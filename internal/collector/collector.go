// Package collector evicts index records of documents that no longer exist
// in the source, or that are now excluded from it.
package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/exclusion"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/source"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
)

// Result reports one collection
type Result struct {
	RemovedDocuments int      `json:"removed_documents"`
	RemovedRecords   int      `json:"removed_records"`
	Paths            []string `json:"paths,omitempty"`
}

// Collector removes stale documents from a store
type Collector struct {
	store storage.Store
}

// New creates a Collector over store
func New(store storage.Store) *Collector {
	return &Collector{store: store}
}

// Collect removes every stored document whose path is not in live. It is
// idempotent: a second call with the same live set removes nothing.
func (c *Collector) Collect(ctx context.Context, live map[string]struct{}) (*Result, error) {
	stored, err := c.store.AllDocumentPaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed documents: %w", err)
	}

	stale := make([]string, 0)
	for path := range stored {
		if _, ok := live[path]; !ok {
			stale = append(stale, path)
		}
	}
	sort.Strings(stale)

	result := &Result{}
	for _, path := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		n, err := c.store.DeleteDocument(ctx, path)
		if err != nil {
			return result, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		result.RemovedDocuments++
		result.RemovedRecords += n
		result.Paths = append(result.Paths, path)
		logger.Debug("Collected %s (%d records)", path, n)
	}

	logger.Info("Garbage collection removed %d documents (%d records)", result.RemovedDocuments, result.RemovedRecords)
	return result, nil
}

// CollectFromSource builds the live set from src, leaving out documents
// matched by rules, and collects everything else
func (c *Collector) CollectFromSource(ctx context.Context, src source.Source, rules exclusion.Rules) (*Result, error) {
	live, err := LiveSet(ctx, src, rules)
	if err != nil {
		return nil, err
	}
	return c.Collect(ctx, live)
}

// LiveSet lists src and returns the paths of the documents rules keep
func LiveSet(ctx context.Context, src source.Source, rules exclusion.Rules) (map[string]struct{}, error) {
	docs, err := src.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	live := make(map[string]struct{}, len(docs))
	for i := range docs {
		if rules.Excludes(&docs[i]) {
			continue
		}
		live[docs[i].Path] = struct{}{}
	}
	return live, nil
}
