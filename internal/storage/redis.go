package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/fingerprint"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/pkg/types"
)

// BackendRedis names the Redis backend
const BackendRedis = "redis"

const (
	// Default key namespace prefix
	defaultRedisNamespace = "copilot"
	// Records fetched per MGET while scanning for a query
	redisScanBatch = 500
	// Optimistic-lock retries for an upsert
	redisMaxTxRetries = 5
)

// RedisStore implements Store on a flat Redis key namespace:
//
//	<ns>:rec:<id>          JSON record
//	<ns>:fp:<fingerprint>  set of record IDs of one document
//	<ns>:ids               set of all record IDs
//	<ns>:docs              hash fingerprint -> document path
//	<ns>:marker:<name>     index markers, including the generation counter
type RedisStore struct {
	client *redis.Client
	ns     string
}

// NewRedisStore creates a Redis-backed store under namespace
func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = defaultRedisNamespace
	}
	return &RedisStore{
		client: client,
		ns:     namespace,
	}
}

// Backend returns the backend name
func (s *RedisStore) Backend() string {
	return BackendRedis
}

func (s *RedisStore) recKey(id string) string  { return s.ns + ":rec:" + id }
func (s *RedisStore) fpKey(fp string) string   { return s.ns + ":fp:" + fp }
func (s *RedisStore) idsKey() string           { return s.ns + ":ids" }
func (s *RedisStore) docsKey() string          { return s.ns + ":docs" }
func (s *RedisStore) markerKey(n string) string { return s.ns + ":marker:" + n }

// Upsert implements Store
// Uses WATCH/MULTI/EXEC on the document's ID set so the delete of the old
// generation and the insert of the new one commit together.
func (s *RedisStore) Upsert(ctx context.Context, doc *types.Document, chunks []types.Chunk, vectors [][]float32, model string) error {
	records, err := buildRecords(doc, chunks, vectors, model)
	if err != nil {
		return err
	}

	fp := fingerprint.Fingerprint(doc.Path)
	payloads := make([][]byte, len(records))
	for i := range records {
		payloads[i], err = json.Marshal(&records[i])
		if err != nil {
			return types.StorageErr("encode record", err)
		}
	}

	txf := func(tx *redis.Tx) error {
		oldIDs, err := tx.SMembers(ctx, s.fpKey(fp)).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Delete old generation
			for _, id := range oldIDs {
				pipe.Del(ctx, s.recKey(id))
				pipe.SRem(ctx, s.idsKey(), id)
			}
			pipe.Del(ctx, s.fpKey(fp))

			// Insert new generation
			for i, rec := range records {
				pipe.Set(ctx, s.recKey(rec.ID), payloads[i], 0)
				pipe.SAdd(ctx, s.fpKey(fp), rec.ID)
				pipe.SAdd(ctx, s.idsKey(), rec.ID)
			}
			if len(records) > 0 {
				pipe.HSet(ctx, s.docsKey(), fp, doc.Path)
			} else {
				pipe.HDel(ctx, s.docsKey(), fp)
			}
			pipe.Incr(ctx, s.markerKey(markerGeneration))
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxTxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, s.fpKey(fp))
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	return types.StorageErr("upsert "+doc.Path, err)
}

// DeleteDocument implements Store
func (s *RedisStore) DeleteDocument(ctx context.Context, path string) (int, error) {
	return s.DeletePrefix(ctx, fingerprint.Prefix(fingerprint.Fingerprint(path)))
}

// DeletePrefix implements Store
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, types.StorageErr("delete prefix", err)
	}

	byFP := make(map[string][]string)
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		fp, _, err := fingerprint.ParseRecordID(id)
		if err != nil {
			continue
		}
		byFP[fp] = append(byFP[fp], id)
	}
	if len(byFP) == 0 {
		return 0, nil
	}

	deleted := 0
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for fp, fpIDs := range byFP {
			for _, id := range fpIDs {
				pipe.Del(ctx, s.recKey(id))
				pipe.SRem(ctx, s.idsKey(), id)
				pipe.SRem(ctx, s.fpKey(fp), id)
			}
			deleted += len(fpIDs)
		}
		pipe.Incr(ctx, s.markerKey(markerGeneration))
		return nil
	})
	if err != nil {
		return 0, types.StorageErr("delete prefix", err)
	}

	// Forget documents with no records left
	for fp := range byFP {
		n, err := s.client.SCard(ctx, s.fpKey(fp)).Result()
		if err != nil {
			return deleted, types.StorageErr("delete prefix", err)
		}
		if n == 0 {
			if err := s.client.HDel(ctx, s.docsKey(), fp).Err(); err != nil {
				return deleted, types.StorageErr("delete prefix", err)
			}
		}
	}
	return deleted, nil
}

// loadRecords fetches and decodes the records with the given IDs
func (s *RedisStore) loadRecords(ctx context.Context, ids []string, fn func(rec types.VectorRecord)) error {
	for start := 0; start < len(ids); start += redisScanBatch {
		end := start + redisScanBatch
		if end > len(ids) {
			end = len(ids)
		}

		keys := make([]string, end-start)
		for i, id := range ids[start:end] {
			keys[i] = s.recKey(id)
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue // deleted between SMEMBERS and MGET
			}
			var rec types.VectorRecord
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			fn(rec)
		}
	}
	return nil
}

// DocumentRecords implements Store
func (s *RedisStore) DocumentRecords(ctx context.Context, path string) ([]types.VectorRecord, error) {
	ids, err := s.client.SMembers(ctx, s.fpKey(fingerprint.Fingerprint(path))).Result()
	if err != nil {
		return nil, types.StorageErr("document records", err)
	}

	var records []types.VectorRecord
	err = s.loadRecords(ctx, ids, func(rec types.VectorRecord) {
		records = append(records, rec)
	})
	if err != nil {
		return nil, types.StorageErr("document records", err)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ChunkIndex < records[j].ChunkIndex
	})
	return records, nil
}

// Query implements Store
func (s *RedisStore) Query(ctx context.Context, vector []float32, k int) ([]types.ScoredRecord, error) {
	if err := validateQuery(vector, k); err != nil {
		return nil, err
	}

	ids, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, types.StorageErr("query", err)
	}

	candidates := make([]candidate, 0, len(ids))
	err = s.loadRecords(ctx, ids, func(rec types.VectorRecord) {
		if c, ok := scoreRecord(rec, vector); ok {
			candidates = append(candidates, c)
		}
	})
	if err != nil {
		return nil, types.StorageErr("query", err)
	}
	return topK(candidates, k), nil
}

// Markers implements Store
func (s *RedisStore) Markers(ctx context.Context) (*types.Markers, error) {
	names := markerNames
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.markerKey(n)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, types.StorageErr("read markers", err)
	}

	raw := make(map[string]string, len(names))
	for i, v := range values {
		if str, ok := v.(string); ok {
			raw[names[i]] = str
		}
	}
	m, err := markersFrom(raw)
	if err != nil {
		return nil, types.StorageErr("read markers", err)
	}
	return m, nil
}

// LatestMtime implements Store
func (s *RedisStore) LatestMtime(ctx context.Context) (*time.Time, error) {
	m, err := s.Markers(ctx)
	if err != nil {
		return nil, err
	}
	return m.LatestMtime, nil
}

// ActiveEmbeddingModel implements Store
func (s *RedisStore) ActiveEmbeddingModel(ctx context.Context) (string, error) {
	m, err := s.Markers(ctx)
	if err != nil {
		return "", err
	}
	return m.ActiveEmbeddingModel, nil
}

// SetMarkers implements Store
func (s *RedisStore) SetMarkers(ctx context.Context, mtime time.Time, model string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.markerKey(markerLatestMtime), formatMtime(mtime), 0)
		pipe.Set(ctx, s.markerKey(markerEmbeddingModel), model, 0)
		pipe.Del(ctx, s.markerKey(markerRebuildPending))
		return nil
	})
	return types.StorageErr("set markers", err)
}

// SetActiveEmbeddingModel implements Store
func (s *RedisStore) SetActiveEmbeddingModel(ctx context.Context, model string) error {
	return types.StorageErr("set model marker", s.client.Set(ctx, s.markerKey(markerEmbeddingModel), model, 0).Err())
}

// SetRebuildPending implements Store
func (s *RedisStore) SetRebuildPending(ctx context.Context) error {
	return types.StorageErr("set rebuild marker", s.client.Set(ctx, s.markerKey(markerRebuildPending), "1", 0).Err())
}

// SetFailedPaths implements Store
func (s *RedisStore) SetFailedPaths(ctx context.Context, paths []string) error {
	raw, err := encodeFailedPaths(paths)
	if err != nil {
		return types.StorageErr("set failed paths", err)
	}
	if raw == "" {
		return types.StorageErr("set failed paths", s.client.Del(ctx, s.markerKey(markerFailedPaths)).Err())
	}
	return types.StorageErr("set failed paths", s.client.Set(ctx, s.markerKey(markerFailedPaths), raw, 0).Err())
}

// Generation implements Store
func (s *RedisStore) Generation(ctx context.Context) (int64, error) {
	gen, err := s.client.Get(ctx, s.markerKey(markerGeneration)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, types.StorageErr("read generation", err)
	}
	return gen, nil
}

// DestroyAndRecreate implements Store
// Deletes every key of the namespace except the generation counter; the
// namespace needs no setup to be reused.
func (s *RedisStore) DestroyAndRecreate(ctx context.Context) error {
	genKey := s.markerKey(markerGeneration)
	iter := s.client.Scan(ctx, 0, s.ns+":*", redisScanBatch).Iterator()
	batch := make([]string, 0, redisScanBatch)
	for iter.Next(ctx) {
		if iter.Val() == genKey {
			continue
		}
		batch = append(batch, iter.Val())
		if len(batch) == redisScanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return types.StorageErr("destroy", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return types.StorageErr("destroy", err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return types.StorageErr("destroy", err)
		}
	}
	return types.StorageErr("destroy", s.client.Incr(ctx, genKey).Err())
}

// AllDocumentPaths implements Store
func (s *RedisStore) AllDocumentPaths(ctx context.Context) (map[string]struct{}, error) {
	values, err := s.client.HVals(ctx, s.docsKey()).Result()
	if err != nil {
		return nil, types.StorageErr("list paths", err)
	}
	paths := make(map[string]struct{}, len(values))
	for _, p := range values {
		paths[p] = struct{}{}
	}
	return paths, nil
}

// Count implements Store
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, types.StorageErr("count", err)
	}
	return int(n), nil
}

// Stats implements Store
func (s *RedisStore) Stats(ctx context.Context) (*Stats, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.client.HLen(ctx, s.docsKey()).Result()
	if err != nil {
		return nil, types.StorageErr("stats", err)
	}
	m, err := s.Markers(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Backend:   BackendRedis,
		Location:  s.client.Options().Addr + "/" + s.ns,
		Records:   count,
		Documents: int(docs),
		Markers:   *m,
	}, nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
