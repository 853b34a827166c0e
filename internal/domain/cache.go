package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require clinicID for strict per-clinic isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, clinicID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, clinicID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, clinicID string, key string) error

	// GetSearch retrieves cached search results for a normalized query.
	GetSearch(ctx context.Context, clinicID string, query string) ([]SearchHit, error)

	// SetSearch caches search results for a normalized query.
	SetSearch(ctx context.Context, clinicID string, query string, hits []SearchHit, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for per-clinic usage tracking (e.g., consults in a time window).
	IncrementCounter(ctx context.Context, clinicID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// SearchHit is a cached catalog match for a search query.
type SearchHit struct {
	RecommendationID string `json:"recommendationId"`
	Score            int    `json:"score"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
