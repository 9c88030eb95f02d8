package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]types.ScoredRecord, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		results, err := searchVectorOptimized(ctx, db, queryVector, limit)
		if err == nil || !isMissingFunction(err) {
			return results, err
		}
		// Extension compiled in but not loaded; fall through
	}
	return searchVectorFallback(ctx, db, queryVector, limit)
}

func isMissingFunction(err error) bool {
	return strings.Contains(err.Error(), "no such function")
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]types.ScoredRecord, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better); convert to similarity
	query := `
		SELECT ` + recordColumns + `,
			1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM records
		WHERE dimension = ?
		ORDER BY similarity DESC, modified_at DESC, document_path ASC, chunk_index ASC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, queryVectorBlob, len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.ScoredRecord, 0, limit)
	for rows.Next() {
		var score float64
		rec, err := scanRecord(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, types.ScoredRecord{Record: *rec, Score: score})
	}

	return results, rows.Err()
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]types.ScoredRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE dimension = ?", len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, 1000)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if c, ok := scoreRecord(*rec, queryVector); ok {
			candidates = append(candidates, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topK(candidates, limit), nil
}
