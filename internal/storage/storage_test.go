package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/niyio-cyber/NECIM-Market/internal/logging"
)

func sampleSnapshot(at time.Time) *domain.Snapshot {
	return &domain.Snapshot{
		Version:     domain.SchemaVersion,
		GeneratedAt: at,
		Items: []domain.ClassifiedItem{
			{ID: "a", Title: "Bridge bid", Categories: []string{"Highway"}, Score: 6, Sources: []string{"A"}},
		},
		SourceHealth: map[string]domain.SourceHealth{
			"A": {Status: domain.HealthOK, Items: 1},
			"B": {Status: domain.HealthFailed, Detail: "timeout"},
		},
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "out", "necmis.json"), "", 0)
	snap, err := fs.Load()
	if err != nil || snap != nil {
		t.Fatalf("Load on missing file = %v, %v; want nil, nil", snap, err)
	}
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "data", "necmis.json"), "", 0)
	snap := sampleSnapshot(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	payload, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if err := fs.Save(payload); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	back, err := fs.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(back.Items) != 1 || back.FailedSources() != 1 {
		t.Fatalf("unexpected snapshot: %+v", back)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "data"))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestFileStoreSaveFailureIsWriteError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	// parent "directory" is a regular file
	fs := NewFileStore(filepath.Join(blocker, "necmis.json"), "", 0)
	if err := fs.Save([]byte("{}")); !errors.Is(err, ErrWrite) {
		t.Fatalf("expected ErrWrite, got %v", err)
	}
}

func TestFileStoreHistoryIsBounded(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "necmis.json"), filepath.Join(dir, "history"), 3)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		snap := sampleSnapshot(base.Add(time.Duration(i) * time.Hour))
		payload, _ := snap.Encode()
		if err := fs.Publish(context.Background(), uuid.NewString(), snap, payload); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	names, err := fs.History()
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("history len = %d, want 3", len(names))
	}
	if !strings.HasPrefix(names[0], "snapshot-20250101T040000Z") {
		t.Fatalf("newest first expected, got %v", names)
	}
}

func TestReaderFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "necmis.json"), "", 0)
	r := &Reader{Files: fs}

	snap, raw, err := r.Latest(context.Background())
	if err != nil || snap != nil || raw != nil {
		t.Fatalf("empty store should return nils, got %v %v %v", snap, raw, err)
	}

	payload, _ := sampleSnapshot(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)).Encode()
	if err := fs.Save(payload); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	snap, raw, err = r.Latest(context.Background())
	if err != nil || snap == nil || string(raw) != string(payload) {
		t.Fatalf("Latest = %v, %q, %v", snap, raw, err)
	}
}

func TestHistoryStorePostgres(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	h, err := NewHistoryStore(dsn, 2)
	if err != nil {
		t.Fatalf("NewHistoryStore error: %v", err)
	}
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := 0; i < 3; i++ {
		snap := sampleSnapshot(base.Add(time.Duration(i) * time.Minute))
		payload, _ := snap.Encode()
		id := uuid.NewString()
		ids = append(ids, id)
		if err := h.Publish(ctx, id, snap, payload); err != nil {
			t.Fatalf("Publish error: %v", err)
		}
	}
	list, err := h.List(ctx, 10)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 || list[0].ID != ids[2] {
		t.Fatalf("unexpected history: %+v", list)
	}
}

func TestReaderIgnoresUnreachableCache(t *testing.T) {
	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "necmis.json"), "", 0)
	payload, _ := sampleSnapshot(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)).Encode()
	if err := fs.Save(payload); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	cache := NewSnapshotCache("127.0.0.1:1", time.Minute, logging.Discard())
	defer cache.Close()

	r := &Reader{Files: fs, Cache: cache, Logger: logging.Discard()}
	snap, raw, err := r.Latest(context.Background())
	if err != nil || snap == nil || string(raw) != string(payload) {
		t.Fatalf("Latest = %v, %q, %v", snap, raw, err)
	}
}

func TestSnapshotCacheRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	cache := NewSnapshotCache(addr, time.Minute, logging.Discard())
	defer cache.Close()
	if err := cache.Redis.Del(ctx, latestKey).Err(); err != nil {
		t.Fatalf("Del error: %v", err)
	}

	if bs, err := cache.Latest(ctx); err != nil || bs != nil {
		t.Fatalf("miss should return nil, nil; got %q, %v", bs, err)
	}

	dir := t.TempDir()
	fs := NewFileStore(filepath.Join(dir, "necmis.json"), "", 0)
	r := &Reader{Files: fs, Cache: cache, Logger: logging.Discard()}

	older := sampleSnapshot(time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	filePayload, _ := older.Encode()
	if err := fs.Save(filePayload); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	// a cache miss serves the file and backfills Redis
	if _, raw, err := r.Latest(ctx); err != nil || string(raw) != string(filePayload) {
		t.Fatalf("Latest = %q, %v", raw, err)
	}
	if bs, _ := cache.Latest(ctx); string(bs) != string(filePayload) {
		t.Fatalf("cache not backfilled: %q", bs)
	}

	newer := sampleSnapshot(time.Date(2025, 1, 11, 0, 0, 0, 0, time.UTC))
	cachePayload, _ := newer.Encode()
	if err := cache.Publish(ctx, uuid.NewString(), newer, cachePayload); err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "necmis.json")); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	snap, raw, err := r.Latest(ctx)
	if err != nil || string(raw) != string(cachePayload) {
		t.Fatalf("cache should be served first: %q, %v", raw, err)
	}
	if !snap.GeneratedAt.Equal(newer.GeneratedAt) {
		t.Fatalf("generated_at = %v", snap.GeneratedAt)
	}
	if ttl := cache.Redis.TTL(ctx, latestKey).Val(); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}
