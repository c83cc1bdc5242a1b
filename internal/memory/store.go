// Package memory implements the hybrid-recall Memory Store, per spec §3
// and §4.8: a `modernc.org/sqlite` FTS5 chunk store fused with an optional
// `philippgille/chromem-go` vector collection, degrading to FTS-only when
// the vector backend is unavailable. Grounded on
// Qefaraki-picoclaw/pkg/memory/vectorstore.go for chromem-go collection
// usage (GetOrCreateCollection with an injected EmbeddingFunc, AddDocument,
// Query) and on the teacher's atomic-store idiom for the FTS write path.
package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/42atom/msgcode/internal/config"
	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	_ "modernc.org/sqlite"
)

// Store is one workspace's memory database: an FTS5 chunk index plus an
// optional chromem-go vector collection. Score fusion uses
// config.FuseWeights (spec §9 Open Question 3: default 0.7 vector / 0.3
// text).
type Store struct {
	db              *sql.DB
	vectorDB        *chromem.DB
	vectorColl      *chromem.Collection
	vectorAvailable bool
	weights         config.FuseWeights
	model           string
}

// Hit is one search result, scored 0..1.
type Hit struct {
	ID    string
	Text  string
	Score float64
}

// Open opens (creating if absent) `<ws>/.msgcode/memory/`. embeddingFn may
// be nil (e.g. no provider API key configured yet) or fail to construct a
// working collection; either way the store still opens and reports
// vectorAvailable=false, so hybrid search silently degrades to FTS-only
// (spec §3, §4.8).
func Open(workspacePath string, embeddingFn chromem.EmbeddingFunc, model string, weights config.FuseWeights) (*Store, error) {
	dir := filepath.Join(workspacePath, ".msgcode", "memory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "memory.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer serialization, spec §5

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory schema: %w", err)
	}

	s := &Store{db: db, weights: weights, model: model}

	if embeddingFn == nil {
		slog.Info("memory: no embedding function configured, running FTS-only")
		return s, nil
	}

	vdb, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		slog.Warn("memory: vector backend unavailable, degrading to FTS-only", "error", err)
		return s, nil
	}
	coll, err := vdb.GetOrCreateCollection("chunks", nil, s.cachedEmbeddingFunc(embeddingFn))
	if err != nil {
		slog.Warn("memory: vector collection unavailable, degrading to FTS-only", "error", err)
		return s, nil
	}
	s.vectorDB = vdb
	s.vectorColl = coll
	s.vectorAvailable = true
	return s, nil
}

// VectorAvailable reports whether the vector backend is live (probed once
// at Open).
func (s *Store) VectorAvailable() bool { return s.vectorAvailable }

// cachedEmbeddingFunc wraps a raw embedding function with the embed_cache
// table, keyed by textDigest+model, so repeated writes of identical chunks
// never re-request an embedding.
func (s *Store) cachedEmbeddingFunc(inner chromem.EmbeddingFunc) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		digest := digestOf(text)
		if cached, ok := s.lookupEmbedCache(digest); ok {
			return cached, nil
		}
		embedding, err := inner(ctx, text)
		if err != nil {
			return nil, err
		}
		s.storeEmbedCache(digest, embedding)
		return embedding, nil
	}
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			textDigest TEXT NOT NULL,
			createdAt TEXT NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(text, content='chunks', content_rowid='rowid')`,
		`CREATE TABLE IF NOT EXISTS embed_cache (
			textDigest TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			PRIMARY KEY (textDigest, model)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// Write splits text into one chunk (callers pre-chunk larger text) and
// writes it to the FTS index and, when available, the vector collection
// (spec §4.8 write path). A vector-write failure degrades the chunk to
// FTS-only rather than failing the whole write. Writing the same chunk text
// twice is a no-op past the first write (spec §8 round-trip law: "writing
// the same chunk twice yields one row and one FTS/vec entry") — the
// existing id is returned rather than inserting a duplicate.
func (s *Store) Write(ctx context.Context, text string) (string, error) {
	digest := digestOf(text)
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existingID string
	switch err := tx.QueryRowContext(ctx, `SELECT id FROM chunks WHERE textDigest = ?`, digest).Scan(&existingID); {
	case err == nil:
		return existingID, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("check existing chunk: %w", err)
	}

	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks (id, text, textDigest, createdAt) VALUES (?, ?, ?, ?)`, id, text, digest, now); err != nil {
		return "", fmt.Errorf("insert chunk: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (rowid, text) VALUES (last_insert_rowid(), ?)`, text); err != nil {
		return "", fmt.Errorf("insert fts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}

	if s.vectorAvailable {
		doc := chromem.Document{ID: id, Content: text}
		if err := s.vectorColl.AddDocument(ctx, doc); err != nil {
			slog.Warn("memory: vector write failed, chunk kept FTS-only", "error", err)
		}
	}
	return id, nil
}

// Search implements `search(query, topK)`: FTS5 MATCH plus, when
// available, cosine-similarity kNN over the vector collection, fused by
// the configured weights (spec §4.8 read path). All failures degrade
// silently — the caller never blocks the main reply on a memory error.
func (s *Store) Search(ctx context.Context, query string, topK int) []Hit {
	ftsHits := s.searchFTS(ctx, query, topK*2)
	sort.Slice(ftsHits, func(i, j int) bool { return ftsHits[i].Score > ftsHits[j].Score })

	if !s.vectorAvailable {
		return capHits(ftsHits, topK)
	}
	if s.vectorColl.Count() == 0 {
		return capHits(ftsHits, topK)
	}

	limit := topK * 2
	if limit > s.vectorColl.Count() {
		limit = s.vectorColl.Count()
	}
	vecResults, err := s.vectorColl.Query(ctx, query, limit, nil, nil)
	if err != nil {
		slog.Warn("memory: vector query failed, falling back to FTS-only", "error", err)
		return capHits(ftsHits, topK)
	}

	fused := fuse(ftsHits, vecResults, s.weights)
	return capHits(fused, topK)
}

func (s *Store) searchFTS(ctx context.Context, query string, limit int) []Hit {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.text, bm25(chunks_fts) FROM chunks_fts
		 JOIN chunks c ON c.rowid = chunks_fts.rowid
		 WHERE chunks_fts MATCH ? ORDER BY bm25(chunks_fts) LIMIT ?`, query, limit)
	if err != nil {
		slog.Warn("memory: fts query failed", "error", err)
		return nil
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var bm25 float64
		if err := rows.Scan(&h.ID, &h.Text, &bm25); err != nil {
			continue
		}
		// sqlite's bm25() is lower-is-better and typically negative;
		// fold it into a 0..1-ish score for fusion with cosine similarity.
		if bm25 < 0 {
			h.Score = 1.0 / (1.0 - bm25)
		}
		hits = append(hits, h)
	}
	return hits
}

func fuse(ftsHits []Hit, vecResults []chromem.Result, w config.FuseWeights) []Hit {
	byID := make(map[string]*Hit, len(ftsHits)+len(vecResults))
	for _, h := range ftsHits {
		hh := h
		byID[h.ID] = &hh
	}
	for _, r := range vecResults {
		if existing, ok := byID[r.ID]; ok {
			existing.Score = existing.Score*w.Text + float64(r.Similarity)*w.Vector
		} else {
			byID[r.ID] = &Hit{ID: r.ID, Text: r.Content, Score: float64(r.Similarity) * w.Vector}
		}
	}
	out := make([]Hit, 0, len(byID))
	for _, h := range byID {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func capHits(hits []Hit, topK int) []Hit {
	if topK > 0 && len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

func (s *Store) Close() error {
	return s.db.Close()
}

func digestOf(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Store) lookupEmbedCache(digest string) ([]float32, bool) {
	row := s.db.QueryRow(`SELECT embedding FROM embed_cache WHERE textDigest = ? AND model = ?`, digest, s.model)
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		return nil, false
	}
	return bytesToFloat32(blob), true
}

func (s *Store) storeEmbedCache(digest string, embedding []float32) {
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO embed_cache (textDigest, model, embedding) VALUES (?, ?, ?)`, digest, s.model, float32ToBytes(embedding)); err != nil {
		slog.Warn("memory: embed_cache write failed", "error", err)
	}
}

func float32ToBytes(f []float32) []byte {
	out := make([]byte, len(f)*4)
	for i, v := range f {
		bits := math.Float32bits(v)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func bytesToFloat32(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}
