package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require clinicID for strict per-clinic isolation.
type Repository interface {
	// Consult operations
	SaveConsult(ctx context.Context, clinicID string, consult *Consult) error
	GetConsult(ctx context.Context, clinicID string, consultID string) (*Consult, error)
	ListConsultsByRecommendation(ctx context.Context, clinicID string, recommendationID string, since time.Time) ([]*Consult, error)

	// Eligibility rule operations
	SaveEligibilityRule(ctx context.Context, clinicID string, rule *EligibilityRule) error
	GetEligibilityRule(ctx context.Context, clinicID string, ruleID string) (*EligibilityRule, error)
	ListEligibilityRules(ctx context.Context, clinicID string) ([]*EligibilityRule, error)
	DeleteEligibilityRule(ctx context.Context, clinicID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
