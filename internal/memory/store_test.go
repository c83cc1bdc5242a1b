package memory

import (
	"context"
	"testing"

	"github.com/42atom/msgcode/internal/config"
)

func TestStoreFTSOnlyRoundTrip(t *testing.T) {
	store, err := Open(t.TempDir(), nil, "", config.DefaultFuseWeights())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if store.VectorAvailable() {
		t.Fatalf("expected FTS-only store with nil embedding function")
	}

	ctx := context.Background()
	if _, err := store.Write(ctx, "the deploy window closes at 5pm on fridays"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Write(ctx, "bananas are a good source of potassium"); err != nil {
		t.Fatalf("write: %v", err)
	}

	hits := store.Search(ctx, "deploy window", 5)
	if len(hits) == 0 {
		t.Fatalf("expected at least one FTS hit")
	}
	if hits[0].Text != "the deploy window closes at 5pm on fridays" {
		t.Fatalf("unexpected top hit: %+v", hits[0])
	}
}

func TestStoreWriteDedupsIdenticalChunk(t *testing.T) {
	store, err := Open(t.TempDir(), nil, "", config.DefaultFuseWeights())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	text := "the deploy window closes at 5pm on fridays"
	firstID, err := store.Write(ctx, text)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	secondID, err := store.Write(ctx, text)
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if firstID != secondID {
		t.Fatalf("expected identical chunk to return the same id, got %q and %q", firstID, secondID)
	}

	var rowCount int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&rowCount); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if rowCount != 1 {
		t.Fatalf("expected exactly one chunks row after writing the same text twice, got %d", rowCount)
	}

	var ftsCount int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks_fts`).Scan(&ftsCount); err != nil {
		t.Fatalf("count chunks_fts: %v", err)
	}
	if ftsCount != 1 {
		t.Fatalf("expected exactly one chunks_fts row after writing the same text twice, got %d", ftsCount)
	}
}

func TestStoreSearchEmptyWithNoChunks(t *testing.T) {
	store, err := Open(t.TempDir(), nil, "", config.DefaultFuseWeights())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	hits := store.Search(context.Background(), "anything", 5)
	if len(hits) != 0 {
		t.Fatalf("expected no hits on empty store, got %+v", hits)
	}
}
