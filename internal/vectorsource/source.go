package vectorsource

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"seagoat/internal/retry"
	"seagoat/pkg/types"
)

// DefaultBatchSize is chroma.batchSize's default: the number of chunks
// embedded and inserted together inside one transaction.
const DefaultBatchSize = 500

// Config configures a Source.
type Config struct {
	// Path is the SQLite file path. Empty means an in-memory database,
	// useful for tests.
	Path string
	// EmbeddingFunctionName selects the EmbeddingFunction by registry name.
	EmbeddingFunctionName string
	// BatchSize bounds how many chunks are embedded per upsert transaction.
	BatchSize int
	// CacheSize bounds the embedding memoization LRU.
	CacheSize int
	// RetryConfig governs retries against the backend on transient failure.
	RetryConfig retry.Config
}

// Source is the Vector Source: a SQLite-backed similarity index over chunk
// embeddings. It satisfies the {upsert, query, delete} capability set the
// Engine fans queries out to.
type Source struct {
	db       *sql.DB
	embedder *memoEmbedder

	mu             sync.Mutex
	currentBlobIDs map[string]string

	batchSize int
	retryCfg  retry.Config
}

// Open creates or attaches to a Vector Source database and applies pending
// migrations.
func Open(ctx context.Context, cfg Config) (*Source, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "vectorsource.Open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, types.NewError(types.KindBackendUnavailable, "vectorsource.Open", fmt.Errorf("enabling WAL: %w", err))
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, types.NewError(types.KindBackendUnavailable, "vectorsource.Open", fmt.Errorf("applying migrations: %w", err))
	}

	embedder, err := newMemoEmbedder(ResolveEmbeddingFunction(cfg.EmbeddingFunctionName), cfg.CacheSize)
	if err != nil {
		_ = db.Close()
		return nil, types.NewError(types.KindInternal, "vectorsource.Open", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	retryCfg := cfg.RetryConfig
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Default()
	}

	return &Source{
		db:             db,
		embedder:       embedder,
		currentBlobIDs: make(map[string]string),
		batchSize:      batchSize,
		retryCfg:       retryCfg,
	}, nil
}

// Close releases the underlying database handle.
func (s *Source) Close() error {
	return s.db.Close()
}

// Upsert embeds and stores chunks, batched at s.batchSize chunks per
// transaction. It records each chunk's path/blob id pairing so Query can
// filter out rows a concurrent delete hasn't caught up to yet.
func (s *Source) Upsert(ctx context.Context, chunks []*types.Chunk) error {
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := s.upsertBatch(ctx, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) upsertBatch(ctx context.Context, batch []*types.Chunk) error {
	_, err := retry.Do(ctx, s.retryCfg, func() (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = tx.Rollback() }()

		for _, c := range batch {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chunks (id, path, start_line, line_count, content, blob_id)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					start_line = excluded.start_line,
					line_count = excluded.line_count,
					content = excluded.content,
					blob_id = excluded.blob_id
			`, c.ID, c.Path, c.StartLine, c.LineCount, c.Content, c.BlobID); err != nil {
				return struct{}{}, fmt.Errorf("upserting chunk %s: %w", c.ID, err)
			}

			vector, hash, err := s.embedder.embed(ctx, c.Content)
			if err != nil {
				return struct{}{}, fmt.Errorf("embedding chunk %s: %w", c.ID, err)
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO embeddings (chunk_id, vector, dimension, content_hash)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(chunk_id) DO UPDATE SET
					vector = excluded.vector,
					dimension = excluded.dimension,
					content_hash = excluded.content_hash
			`, c.ID, serializeVector(vector), len(vector), hash); err != nil {
				return struct{}{}, fmt.Errorf("upserting embedding for chunk %s: %w", c.ID, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil {
		return types.NewError(types.KindBackendUnavailable, "vectorsource.Upsert", err)
	}

	s.mu.Lock()
	for _, c := range batch {
		s.currentBlobIDs[c.Path] = c.BlobID
	}
	s.mu.Unlock()
	return nil
}

// Delete removes chunks (and their embeddings, via cascade) by id.
func (s *Source) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := retry.Do(ctx, s.retryCfg, func() (struct{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, "DELETE FROM chunks WHERE id = ?")
		if err != nil {
			return struct{}{}, err
		}
		defer func() { _ = stmt.Close() }()

		for _, id := range chunkIDs {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return struct{}{}, fmt.Errorf("deleting chunk %s: %w", id, err)
			}
		}
		return struct{}{}, tx.Commit()
	})
	if err != nil {
		return types.NewError(types.KindBackendUnavailable, "vectorsource.Delete", err)
	}
	return nil
}

// ForgetPath clears the staleness-tracking entry for a path that has been
// removed from the repository entirely, so a stray row left behind by a
// partial delete can never again be surfaced as current.
func (s *Source) ForgetPath(path string) {
	s.mu.Lock()
	delete(s.currentBlobIDs, path)
	s.mu.Unlock()
}

// Query embeds text and returns the limit nearest chunks by cosine
// similarity, dropping any row whose blob id no longer matches the file's
// current blob id.
func (s *Source) Query(ctx context.Context, text string, limit int) ([]types.Hit, error) {
	if limit <= 0 {
		return nil, nil
	}

	vector, _, err := s.embedder.embed(ctx, text)
	if err != nil {
		return nil, types.NewError(types.KindInternal, "vectorsource.Query", err)
	}

	var candidates []scoredRow
	_, err = retry.Do(ctx, s.retryCfg, func() (struct{}, error) {
		var runErr error
		if VectorExtensionAvailable {
			candidates, runErr = s.queryOptimized(ctx, vector, limit)
		} else {
			candidates, runErr = s.queryFallback(ctx, vector, limit)
		}
		return struct{}{}, runErr
	})
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "vectorsource.Query", err)
	}

	s.mu.Lock()
	current := make(map[string]string, len(s.currentBlobIDs))
	for k, v := range s.currentBlobIDs {
		current[k] = v
	}
	s.mu.Unlock()

	hits := make([]types.Hit, 0, len(candidates))
	for _, c := range candidates {
		if want, ok := current[c.path]; ok && want != c.blobID {
			continue
		}
		hits = append(hits, types.Hit{Path: c.path, Line: c.startLine, Score: c.score, Source: types.SourceVector})
	}
	return hits, nil
}

// ChunkIDsForPath returns every chunk id currently stored for path,
// regardless of blob id, so a caller can delete a file's prior chunks
// before upserting its freshly cut ones.
func (s *Source) ChunkIDsForPath(ctx context.Context, path string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM chunks WHERE path = ?", path)
	if err != nil {
		return nil, types.NewError(types.KindBackendUnavailable, "vectorsource.ChunkIDsForPath", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewError(types.KindBackendUnavailable, "vectorsource.ChunkIDsForPath", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// StoredBlobID returns the blob id on file for path's chunks, and whether
// any chunk for that path exists at all. Unlike currentBlobIDs, this reads
// the database directly, so it reflects what was persisted in a prior
// process lifetime, not just this one.
func (s *Source) StoredBlobID(ctx context.Context, path string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT blob_id FROM chunks WHERE path = ? LIMIT 1", path)
	var blobID string
	if err := row.Scan(&blobID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, types.NewError(types.KindBackendUnavailable, "vectorsource.StoredBlobID", err)
	}
	return blobID, true, nil
}

type scoredRow struct {
	path      string
	startLine int
	blobID    string
	score     float64
}

// queryOptimized pushes cosine distance computation into SQLite via the
// custom scalar function registered in build_cgo.go.
func (s *Source) queryOptimized(ctx context.Context, vector []float32, limit int) ([]scoredRow, error) {
	blob := serializeVector(vector)
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.path, c.start_line, c.blob_id, vec_distance_cosine(e.vector, ?) AS distance
		FROM chunks c
		INNER JOIN embeddings e ON c.id = e.chunk_id
		ORDER BY distance ASC
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []scoredRow
	for rows.Next() {
		var r scoredRow
		var distance float64
		if err := rows.Scan(&r.path, &r.startLine, &r.blobID, &distance); err != nil {
			return nil, err
		}
		r.score = distanceToSimilarity(distance)
		out = append(out, r)
	}
	return out, rows.Err()
}

// queryFallback scans every embedding and computes cosine similarity in Go,
// used when the build has no native SQL-side cosine distance function.
func (s *Source) queryFallback(ctx context.Context, vector []float32, limit int) ([]scoredRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.path, c.start_line, c.blob_id, e.vector
		FROM chunks c
		INNER JOIN embeddings e ON c.id = e.chunk_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []scoredRow
	for rows.Next() {
		var path, blobID string
		var startLine int
		var blob []byte
		if err := rows.Scan(&path, &startLine, &blobID, &blob); err != nil {
			return nil, err
		}
		candidate := deserializeVector(blob)
		distance := 1.0 - cosineSimilarity(vector, candidate)
		all = append(all, scoredRow{path: path, startLine: startLine, blobID: blobID, score: distanceToSimilarity(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// distanceToSimilarity converts a vector distance into a [0,1] similarity
// score per §4.4's formula, clamped against embedding functions whose
// distances can stray outside the range a well-behaved metric assumes.
func distanceToSimilarity(distance float64) float64 {
	similarity := 1.0 / (1.0 + distance)
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
