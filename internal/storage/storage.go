package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SnapshotRecord archives one published snapshot.
type SnapshotRecord struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	GeneratedAt   time.Time      `gorm:"index" json:"generatedAt"`
	RuleSet       string         `gorm:"size:64" json:"ruleSet"`
	ItemCount     int            `json:"itemCount"`
	SourceCount   int            `json:"sourceCount"`
	FailedSources int            `json:"failedSources"`
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// HistoryStore keeps the last Keep snapshots in Postgres.
type HistoryStore struct {
	DB   *gorm.DB
	Keep int
}

func NewHistoryStore(dsn string, keep int) (*HistoryStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, err
	}
	return &HistoryStore{DB: db, Keep: keep}, nil
}

// Publish inserts the run and trims older rows beyond Keep.
func (h *HistoryStore) Publish(ctx context.Context, runID string, snap *domain.Snapshot, payload []byte) error {
	rec := &SnapshotRecord{
		ID:            runID,
		GeneratedAt:   snap.GeneratedAt,
		RuleSet:       snap.RuleSet,
		ItemCount:     len(snap.Items),
		SourceCount:   len(snap.SourceHealth),
		FailedSources: snap.FailedSources(),
		Payload:       datatypes.JSON(payload),
	}
	db := h.DB.WithContext(ctx)
	if err := db.Create(rec).Error; err != nil {
		return fmt.Errorf("archive snapshot: %w", err)
	}
	if h.Keep <= 0 {
		return nil
	}
	keep := db.Model(&SnapshotRecord{}).Select("id").Order("generated_at DESC").Limit(h.Keep)
	return db.Where("id NOT IN (?)", keep).Delete(&SnapshotRecord{}).Error
}

// List returns archived runs without payloads, newest first.
func (h *HistoryStore) List(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []SnapshotRecord
	err := h.DB.WithContext(ctx).
		Omit("payload").
		Order("generated_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

const latestKey = "necmis:snapshot:latest"

// SnapshotCache mirrors the latest encoded snapshot into Redis for the API.
type SnapshotCache struct {
	Redis *redis.Client
	TTL   time.Duration
}

func NewSnapshotCache(addr string, ttl time.Duration, logger *slog.Logger) *SnapshotCache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed", "addr", addr, "err", err)
	}
	return &SnapshotCache{Redis: rdb, TTL: ttl}
}

func (c *SnapshotCache) Publish(ctx context.Context, _ string, _ *domain.Snapshot, payload []byte) error {
	return c.Redis.Set(ctx, latestKey, payload, c.TTL).Err()
}

// Latest returns the cached payload, or nil on a miss.
func (c *SnapshotCache) Latest(ctx context.Context) ([]byte, error) {
	bs, err := c.Redis.Get(ctx, latestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return bs, err
}

func (c *SnapshotCache) Close() error { return c.Redis.Close() }

// Reader serves the latest snapshot to the API: Redis first, file second.
// Cache is optional.
type Reader struct {
	Files  *FileStore
	Cache  *SnapshotCache
	Logger *slog.Logger
}

// Latest returns the decoded snapshot with its encoded form, or nil when
// nothing has been published yet.
func (r *Reader) Latest(ctx context.Context) (*domain.Snapshot, []byte, error) {
	if r.Cache != nil {
		bs, err := r.Cache.Latest(ctx)
		if err != nil && r.Logger != nil {
			r.Logger.Warn("snapshot cache read failed", "err", err)
		}
		if len(bs) > 0 {
			if snap, err := domain.DecodeSnapshot(bs); err == nil {
				return snap, bs, nil
			}
		}
	}

	bs, err := r.Files.Raw()
	if err != nil || bs == nil {
		return nil, nil, err
	}
	snap, err := domain.DecodeSnapshot(bs)
	if err != nil {
		return nil, nil, err
	}
	if r.Cache != nil {
		_ = r.Cache.Publish(ctx, "", snap, bs)
	}
	return snap, bs, nil
}
