// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinical-go/thrombocalc/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveConsult stores a consult with clinic isolation.
func (r *SQLRepository) SaveConsult(ctx context.Context, clinicID string, consult *domain.Consult) error {
	if clinicID == "" {
		return fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	overrides, _ := json.Marshal(consult.Overrides)
	projection, _ := json.Marshal(consult.Projection)
	metadata, _ := json.Marshal(consult.Metadata)

	agrees := 0
	if consult.Agrees {
		agrees = 1
	}

	query := `
		INSERT INTO consults (
			id, clinic_id, recommendation_id, risk,
			testing_threshold, treatment_threshold, decision,
			ash_decision, agrees, overrides, projection, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		consult.ID, clinicID, consult.RecommendationID, consult.Risk,
		consult.Thresholds.Testing, consult.Thresholds.Treatment, consult.Decision,
		consult.AshDecision, agrees,
		string(overrides), string(projection), string(metadata),
		consult.Timestamp,
	)
	return err
}

// GetConsult retrieves a consult by ID with clinic isolation.
func (r *SQLRepository) GetConsult(ctx context.Context, clinicID string, consultID string) (*domain.Consult, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, clinic_id, recommendation_id, risk,
			   testing_threshold, treatment_threshold, decision,
			   ash_decision, agrees, overrides, projection, metadata, timestamp
		FROM consults
		WHERE clinic_id = ? AND id = ?
	`

	consult, err := scanConsult(r.db.QueryRowContext(ctx, r.rebind(query), clinicID, consultID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return consult, err
}

// ListConsultsByRecommendation retrieves consults for a recommendation with
// clinic isolation, newest first.
func (r *SQLRepository) ListConsultsByRecommendation(ctx context.Context, clinicID string, recommendationID string, since time.Time) ([]*domain.Consult, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, clinic_id, recommendation_id, risk,
			   testing_threshold, treatment_threshold, decision,
			   ash_decision, agrees, overrides, projection, metadata, timestamp
		FROM consults
		WHERE clinic_id = ?
		  AND recommendation_id = ?
		  AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), clinicID, recommendationID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var consults []*domain.Consult
	for rows.Next() {
		consult, err := scanConsult(rows)
		if err != nil {
			return nil, err
		}
		consults = append(consults, consult)
	}

	return consults, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanConsult(row scanner) (*domain.Consult, error) {
	var consult domain.Consult
	var overrides, projection, metadata string
	var agrees int

	err := row.Scan(
		&consult.ID, &consult.ClinicID, &consult.RecommendationID, &consult.Risk,
		&consult.Thresholds.Testing, &consult.Thresholds.Treatment, &consult.Decision,
		&consult.AshDecision, &agrees,
		&overrides, &projection, &metadata,
		&consult.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	consult.Agrees = agrees == 1
	json.Unmarshal([]byte(overrides), &consult.Overrides)
	json.Unmarshal([]byte(projection), &consult.Projection)
	json.Unmarshal([]byte(metadata), &consult.Metadata)

	return &consult, nil
}

// SaveEligibilityRule stores an eligibility rule with clinic isolation.
func (r *SQLRepository) SaveEligibilityRule(ctx context.Context, clinicID string, rule *domain.EligibilityRule) error {
	if clinicID == "" {
		return fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	appliesTo, _ := json.Marshal(rule.AppliesTo)

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO eligibility_rules (
			id, clinic_id, name, description, version, expression, applies_to, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, clinic_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			applies_to = excluded.applies_to,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, clinicID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(appliesTo), enabled,
		now, now,
	)
	return err
}

// GetEligibilityRule retrieves an eligibility rule with clinic isolation.
func (r *SQLRepository) GetEligibilityRule(ctx context.Context, clinicID string, ruleID string) (*domain.EligibilityRule, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, clinic_id, name, description, version, expression, applies_to, enabled
		FROM eligibility_rules
		WHERE clinic_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.EligibilityRule
	var appliesTo string
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), clinicID, ruleID).Scan(
		&rule.ID, &rule.ClinicID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &appliesTo, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1
	json.Unmarshal([]byte(appliesTo), &rule.AppliesTo)

	return &rule, nil
}

// ListEligibilityRules retrieves all active eligibility rules for a clinic.
func (r *SQLRepository) ListEligibilityRules(ctx context.Context, clinicID string) ([]*domain.EligibilityRule, error) {
	if clinicID == "" {
		return nil, fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, clinic_id, name, description, version, expression, applies_to, enabled
		FROM eligibility_rules
		WHERE clinic_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.EligibilityRule
	for rows.Next() {
		var rule domain.EligibilityRule
		var appliesTo string
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.ClinicID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &appliesTo, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		json.Unmarshal([]byte(appliesTo), &rule.AppliesTo)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteEligibilityRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteEligibilityRule(ctx context.Context, clinicID string, ruleID string) error {
	if clinicID == "" {
		return fmt.Errorf("%w: clinicID is required", ErrInvalidInput)
	}

	query := `
		UPDATE eligibility_rules
		SET enabled = 0, updated_at = ?
		WHERE clinic_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), clinicID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
