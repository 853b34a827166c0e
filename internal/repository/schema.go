package repository

// Schema definitions for the Thrombocalc database.
// Compatible with both SQLite and PostgreSQL.

const schemaConsults = `
CREATE TABLE IF NOT EXISTS consults (
    id TEXT PRIMARY KEY,
    clinic_id TEXT NOT NULL,
    recommendation_id TEXT NOT NULL,
    risk REAL NOT NULL,
    testing_threshold REAL NOT NULL,
    treatment_threshold REAL NOT NULL,
    decision TEXT NOT NULL,
    ash_decision TEXT NOT NULL,
    agrees INTEGER NOT NULL DEFAULT 0,
    overrides TEXT,
    projection TEXT NOT NULL,
    metadata TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consults_clinic ON consults(clinic_id);
CREATE INDEX IF NOT EXISTS idx_consults_recommendation ON consults(clinic_id, recommendation_id);
CREATE INDEX IF NOT EXISTS idx_consults_timestamp ON consults(clinic_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_consults_agrees ON consults(clinic_id, agrees);
`

const schemaEligibilityRules = `
CREATE TABLE IF NOT EXISTS eligibility_rules (
    id TEXT NOT NULL,
    clinic_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    applies_to TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, clinic_id, version)
);

CREATE INDEX IF NOT EXISTS idx_eligibility_rules_clinic ON eligibility_rules(clinic_id);
CREATE INDEX IF NOT EXISTS idx_eligibility_rules_enabled ON eligibility_rules(clinic_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaConsults,
		schemaEligibilityRules,
	}
}
