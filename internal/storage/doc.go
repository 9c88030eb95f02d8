// Package storage is the persistent vector store of a collection.
//
// Each collection (vault) gets its own store instance, named by
// fingerprint.CollectionID of the vault name. A store holds one record per
// note chunk plus two markers, the latest indexed modification time and the
// embedding model that produced the vectors, so that records and markers are
// created, cleared and destroyed together.
//
// # Backends
//
//   - SQLiteStorage: one database file per collection. The driver is picked
//     at build time: modernc.org/sqlite by default, mattn/go-sqlite3 with
//     -tags sqlite_vec (similarity computed in SQL when sqlite-vec is
//     loaded). Schema changes are versioned migrations (Masterminds/semver).
//   - RedisStore: a flat key namespace on a Redis server; upserts commit
//     with WATCH/MULTI/EXEC.
//   - MemoryStore: a mutex-guarded map for tests and throwaway runs.
//
// Open picks one from a Config:
//
//	store, err := storage.Open(ctx, storage.Config{
//	    Backend: "sqlite",
//	    Path:    filepath.Join(dataDir, fingerprint.CollectionID(vault)+".db"),
//	})
//
// # One generation per document
//
// Record IDs are fingerprint + ":" + zero-padded chunk index. Upsert deletes
// every record with the document's fingerprint prefix, then inserts the new
// chunks, so a changed note never has old and new chunks visible together.
//
// # Vector Storage
//
// SQLite stores vectors as little-endian float32 BLOBs (4 bytes per
// dimension); Redis stores JSON records. Query skips records whose
// dimension differs from the query vector and orders equal scores by newer
// ModifiedAt, then document path, then chunk index.
//
// # Errors
//
// Every I/O failure is returned wrapped with types.ErrStorage. Malformed
// arguments return ErrInvalidInput.
package storage
