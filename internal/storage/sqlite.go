package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// BackendSQLite names the SQLite backend
const BackendSQLite = "sqlite"

// SQLiteStorage implements Store on a single SQLite database file
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, types.StorageErr("open database", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, types.StorageErr("apply migrations", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Backend returns the backend name
func (s *SQLiteStorage) Backend() string {
	return BackendSQLite
}

// DB exposes the underlying handle for migrations tooling
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn inside a transaction, rolling back on error
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Record operations

const recordColumns = `id, fingerprint, document_path, title, chunk_index, modified_at,
	embedding_model, vector, text, metadata`

// deleteFingerprintWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteFingerprintWithQuerier(ctx context.Context, q querier, fp string) (int, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM records WHERE fingerprint = ?", fp)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// insertRecordWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertRecordWithQuerier(ctx context.Context, q querier, rec *types.VectorRecord) error {
	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		raw, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO records (id, fingerprint, document_path, title, chunk_index, modified_at,
		                     embedding_model, dimension, vector, text, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.Fingerprint, rec.DocumentPath, rec.Title, rec.ChunkIndex,
		rec.ModifiedAt.UnixNano(), rec.EmbeddingModel, len(rec.Vector),
		serializeVector(rec.Vector), rec.Text, metadata)
	if err != nil {
		return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return nil
}

// Upsert implements Store
func (s *SQLiteStorage) Upsert(ctx context.Context, doc *types.Document, chunks []types.Chunk, vectors [][]float32, model string) error {
	records, err := buildRecords(doc, chunks, vectors, model)
	if err != nil {
		return err
	}

	fp := fingerprint.Fingerprint(doc.Path)
	err = s.withTx(ctx, func(q querier) error {
		if _, err := s.deleteFingerprintWithQuerier(ctx, q, fp); err != nil {
			return err
		}
		for i := range records {
			if err := s.insertRecordWithQuerier(ctx, q, &records[i]); err != nil {
				return err
			}
		}
		return s.bumpGenerationWithQuerier(ctx, q)
	})
	return types.StorageErr("upsert "+doc.Path, err)
}

// DeleteDocument implements Store
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, path string) (int, error) {
	var n int
	err := s.withTx(ctx, func(q querier) error {
		var err error
		n, err = s.deleteFingerprintWithQuerier(ctx, q, fingerprint.Fingerprint(path))
		if err != nil || n == 0 {
			return err
		}
		return s.bumpGenerationWithQuerier(ctx, q)
	})
	if err != nil {
		return 0, types.StorageErr("delete "+path, err)
	}
	return n, nil
}

// DeletePrefix implements Store
func (s *SQLiteStorage) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var n int64
	err := s.withTx(ctx, func(q querier) error {
		// substr avoids LIKE wildcard escaping
		result, err := q.ExecContext(ctx,
			"DELETE FROM records WHERE substr(id, 1, ?) = ?", len(prefix), prefix)
		if err != nil {
			return err
		}
		if n, err = result.RowsAffected(); err != nil || n == 0 {
			return err
		}
		return s.bumpGenerationWithQuerier(ctx, q)
	})
	if err != nil {
		return 0, types.StorageErr("delete prefix", err)
	}
	return int(n), nil
}

// DocumentRecords implements Store
func (s *SQLiteStorage) DocumentRecords(ctx context.Context, path string) ([]types.VectorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE fingerprint = ? ORDER BY chunk_index",
		fingerprint.Fingerprint(path))
	if err != nil {
		return nil, types.StorageErr("document records", err)
	}
	defer func() { _ = rows.Close() }()

	var records []types.VectorRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, types.StorageErr("document records", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageErr("document records", err)
	}
	return records, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner, extra ...interface{}) (*types.VectorRecord, error) {
	var rec types.VectorRecord
	var modifiedAt int64
	var blob []byte
	var metadata sql.NullString

	dest := []interface{}{
		&rec.ID, &rec.Fingerprint, &rec.DocumentPath, &rec.Title, &rec.ChunkIndex,
		&modifiedAt, &rec.EmbeddingModel, &blob, &rec.Text, &metadata,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	rec.ModifiedAt = time.Unix(0, modifiedAt)
	rec.Vector = deserializeVector(blob)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", rec.ID, err)
		}
	}
	return &rec, nil
}

// Query implements Store
func (s *SQLiteStorage) Query(ctx context.Context, vector []float32, k int) ([]types.ScoredRecord, error) {
	if err := validateQuery(vector, k); err != nil {
		return nil, err
	}
	if k == 0 {
		return []types.ScoredRecord{}, nil
	}

	results, err := searchVector(ctx, s.db, vector, k)
	if err != nil {
		return nil, types.StorageErr("query", err)
	}
	return results, nil
}

// AllDocumentPaths implements Store
func (s *SQLiteStorage) AllDocumentPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT document_path FROM records")
	if err != nil {
		return nil, types.StorageErr("list paths", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, types.StorageErr("list paths", err)
		}
		paths[p] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, types.StorageErr("list paths", err)
	}
	return paths, nil
}

// Count implements Store
func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, types.StorageErr("count", err)
	}
	return n, nil
}

// Marker operations

func (s *SQLiteStorage) readMarkers(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM markers")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	return values, rows.Err()
}

// setMarkerWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) setMarkerWithQuerier(ctx context.Context, q querier, key, value string) error {
	query := `
		INSERT INTO markers (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set marker %s: %w", key, err)
	}
	return nil
}

// bumpGenerationWithQuerier advances the generation marker
func (s *SQLiteStorage) bumpGenerationWithQuerier(ctx context.Context, q querier) error {
	query := `
		INSERT INTO markers (key, value, updated_at) VALUES (?, '1', CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT),
		                               updated_at = excluded.updated_at
	`
	if _, err := q.ExecContext(ctx, query, markerGeneration); err != nil {
		return fmt.Errorf("failed to bump generation: %w", err)
	}
	return nil
}

// Generation implements Store
func (s *SQLiteStorage) Generation(ctx context.Context) (int64, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM markers WHERE key = ?", markerGeneration).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, types.StorageErr("read generation", err)
	}
	gen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, types.StorageErr("read generation", err)
	}
	return gen, nil
}

// Markers implements Store
func (s *SQLiteStorage) Markers(ctx context.Context) (*types.Markers, error) {
	values, err := s.readMarkers(ctx)
	if err != nil {
		return nil, types.StorageErr("read markers", err)
	}
	m, err := markersFrom(values)
	if err != nil {
		return nil, types.StorageErr("read markers", err)
	}
	return m, nil
}

// LatestMtime implements Store
func (s *SQLiteStorage) LatestMtime(ctx context.Context) (*time.Time, error) {
	m, err := s.Markers(ctx)
	if err != nil {
		return nil, err
	}
	return m.LatestMtime, nil
}

// ActiveEmbeddingModel implements Store
func (s *SQLiteStorage) ActiveEmbeddingModel(ctx context.Context) (string, error) {
	m, err := s.Markers(ctx)
	if err != nil {
		return "", err
	}
	return m.ActiveEmbeddingModel, nil
}

// SetMarkers implements Store
func (s *SQLiteStorage) SetMarkers(ctx context.Context, mtime time.Time, model string) error {
	err := s.withTx(ctx, func(q querier) error {
		if err := s.setMarkerWithQuerier(ctx, q, markerLatestMtime, formatMtime(mtime)); err != nil {
			return err
		}
		if err := s.setMarkerWithQuerier(ctx, q, markerEmbeddingModel, model); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, "DELETE FROM markers WHERE key = ?", markerRebuildPending)
		return err
	})
	return types.StorageErr("set markers", err)
}

// SetActiveEmbeddingModel implements Store
func (s *SQLiteStorage) SetActiveEmbeddingModel(ctx context.Context, model string) error {
	return types.StorageErr("set model marker", s.setMarkerWithQuerier(ctx, s.db, markerEmbeddingModel, model))
}

// SetRebuildPending implements Store
func (s *SQLiteStorage) SetRebuildPending(ctx context.Context) error {
	return types.StorageErr("set rebuild marker", s.setMarkerWithQuerier(ctx, s.db, markerRebuildPending, "1"))
}

// SetFailedPaths implements Store
func (s *SQLiteStorage) SetFailedPaths(ctx context.Context, paths []string) error {
	raw, err := encodeFailedPaths(paths)
	if err != nil {
		return types.StorageErr("set failed paths", err)
	}
	if raw == "" {
		_, err = s.db.ExecContext(ctx, "DELETE FROM markers WHERE key = ?", markerFailedPaths)
		return types.StorageErr("set failed paths", err)
	}
	return types.StorageErr("set failed paths", s.setMarkerWithQuerier(ctx, s.db, markerFailedPaths, raw))
}

// DestroyAndRecreate implements Store
func (s *SQLiteStorage) DestroyAndRecreate(ctx context.Context) error {
	err := s.withTx(ctx, func(q querier) error {
		if _, err := q.ExecContext(ctx, "DELETE FROM records"); err != nil {
			return fmt.Errorf("failed to drop records: %w", err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM markers WHERE key <> ?", markerGeneration); err != nil {
			return fmt.Errorf("failed to drop markers: %w", err)
		}
		return s.bumpGenerationWithQuerier(ctx, q)
	})
	if err != nil {
		return types.StorageErr("destroy", err)
	}

	// Reclaim space; not fatal when another reader holds the file
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil && !strings.Contains(err.Error(), "locked") {
		return types.StorageErr("vacuum", err)
	}
	return nil
}

// Stats implements Store
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Backend: BackendSQLite, Location: s.path}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT fingerprint) FROM records").Scan(&stats.Records, &stats.Documents)
	if err != nil {
		return nil, types.StorageErr("stats", err)
	}

	m, err := s.Markers(ctx)
	if err != nil {
		return nil, err
	}
	stats.Markers = *m
	return stats, nil
}
