package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arclight-ai/resolve/researchtype"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNotFound is returned by Retrieve on a cache miss.
var ErrNotFound = errors.New("store: cache entry not found")

// Config configures the Redis primary store and its Postgres sidecar index.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DefaultTTL    time.Duration
}

// DefaultConfig returns production-sane defaults.
func DefaultConfig() Config {
	return Config{RedisAddr: "localhost:6379", DefaultTTL: time.Hour}
}

// indexEntry is the Postgres sidecar row kept alongside every Redis payload,
// so list/search/stats don't require scanning the Redis keyspace.
type indexEntry struct {
	CacheKey      string `gorm:"primaryKey"`
	OriginalQuery string
	ResearchType  string
	SizeBytes     int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	HitCount      int
}

func (indexEntry) TableName() string { return "resolve_cache_index" }

// EntrySummary is one row returned by ListEntries.
type EntrySummary struct {
	CacheKey      string
	OriginalQuery string
	ResearchType  researchtype.Type
	CreatedAt     time.Time
	ExpiresAt     time.Time
	HitCount      int
}

// Stats summarizes the cache's current state.
type Stats struct {
	Entries int
	Bytes   int64
	HitRate float64
}

// SearchResult is one row returned by Search, a substring match over
// indexed original queries.
type SearchResult struct {
	CacheKey      string
	OriginalQuery string
	ResearchType  researchtype.Type
}

// Store is the Redis-backed content-addressed result cache with a Postgres
// sidecar index for operations Redis can't do efficiently (list, search,
// aggregate stats).
type Store struct {
	cfg    Config
	redis  *redis.Client
	db     *gorm.DB
	logger *zap.Logger

	hits, misses int64
}

// New connects to Redis and, if db is non-nil, ensures the sidecar index
// table exists via AutoMigrate.
func New(cfg Config, db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}

	if db != nil {
		if err := db.AutoMigrate(&indexEntry{}); err != nil {
			return nil, fmt.Errorf("store: migrate cache index: %w", err)
		}
	}

	return &Store{cfg: cfg, redis: client, db: db, logger: logger.With(zap.String("component", "store"))}, nil
}

// Store persists result under the given cache key and returns any write
// error. Concurrent stores of the same key are last-writer-wins via Redis SET.
func (s *Store) Store(ctx context.Context, key string, result researchtype.ResearchResult, ttl time.Duration) error {
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}

	if err := s.redis.Set(ctx, redisKey(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}

	if s.db != nil {
		entry := indexEntry{
			CacheKey:      key,
			OriginalQuery: result.Request.OriginalQuery,
			ResearchType:  string(result.Request.ResearchType),
			SizeBytes:     len(payload),
			CreatedAt:     time.Now(),
			ExpiresAt:     time.Now().Add(ttl),
		}
		if err := s.db.Save(&entry).Error; err != nil {
			s.logger.Warn("store: sidecar index write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

// Retrieve returns the result stored under key, or ErrNotFound on a miss.
func (s *Store) Retrieve(ctx context.Context, key string) (researchtype.ResearchResult, error) {
	payload, err := s.redis.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		s.misses++
		return researchtype.ResearchResult{}, ErrNotFound
	}
	if err != nil {
		return researchtype.ResearchResult{}, fmt.Errorf("store: redis get: %w", err)
	}

	var result researchtype.ResearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return researchtype.ResearchResult{}, fmt.Errorf("store: unmarshal result: %w", err)
	}

	s.hits++
	if s.db != nil {
		s.db.Model(&indexEntry{}).Where("cache_key = ?", key).UpdateColumn("hit_count", gorm.Expr("hit_count + 1"))
	}
	return result, nil
}

// Delete removes key from both the primary store and the sidecar index.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	if s.db != nil {
		s.db.Where("cache_key = ?", key).Delete(&indexEntry{})
	}
	return nil
}

// ListEntries returns a page of sidecar index rows, most recent first.
func (s *Store) ListEntries(ctx context.Context, limit, offset int) ([]EntrySummary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store: list requires the sidecar index")
	}
	var rows []indexEntry
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]EntrySummary, len(rows))
	for i, r := range rows {
		out[i] = EntrySummary{
			CacheKey:      r.CacheKey,
			OriginalQuery: r.OriginalQuery,
			ResearchType:  researchtype.Type(r.ResearchType),
			CreatedAt:     r.CreatedAt,
			ExpiresAt:     r.ExpiresAt,
			HitCount:      r.HitCount,
		}
	}
	return out, nil
}

// GetCacheStats reports entry count, total bytes, and hit rate since
// process start.
func (s *Store) GetCacheStats(ctx context.Context) (Stats, error) {
	stats := Stats{}
	if s.db != nil {
		var row struct {
			Count int
			Bytes int64
		}
		if err := s.db.WithContext(ctx).Model(&indexEntry{}).Select("count(*) as count, coalesce(sum(size_bytes),0) as bytes").Scan(&row).Error; err != nil {
			return stats, err
		}
		stats.Entries = row.Count
		stats.Bytes = row.Bytes
	}
	total := s.hits + s.misses
	if total > 0 {
		stats.HitRate = float64(s.hits) / float64(total)
	}
	return stats, nil
}

// CleanupExpired removes sidecar index rows past their expiry (Redis
// expires its own keys automatically; this reconciles the index).
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&indexEntry{})
	return int(result.RowsAffected), result.Error
}

// Search returns sidecar index rows whose original query contains the
// substring, case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store: search requires the sidecar index")
	}
	var rows []indexEntry
	pattern := "%" + strings.ToLower(query) + "%"
	if err := s.db.WithContext(ctx).Where("lower(original_query) LIKE ?", pattern).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SearchResult, len(rows))
	for i, r := range rows {
		out[i] = SearchResult{CacheKey: r.CacheKey, OriginalQuery: r.OriginalQuery, ResearchType: researchtype.Type(r.ResearchType)}
	}
	return out, nil
}

func redisKey(key string) string { return "resolve:cache:" + key }
