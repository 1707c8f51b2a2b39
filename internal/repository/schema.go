package repository

// Schema definitions for the scamscore database.
// Compatible with both SQLite and PostgreSQL.

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    scam_probability REAL NOT NULL,
    tier TEXT NOT NULL,
    label TEXT NOT NULL,
    color TEXT NOT NULL,
    probability_text TEXT NOT NULL,
    fill REAL NOT NULL,
    features TEXT NOT NULL,
    model_version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tenant ON assessments(tenant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_tier ON assessments(tenant_id, tier);
CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(tenant_id, created_at);
`

// schemaModelArtifacts stores registered classifiers. The payload is the
// model.json document and columns is the JSON-encoded column schema.
const schemaModelArtifacts = `
CREATE TABLE IF NOT EXISTS model_artifacts (
    name TEXT NOT NULL,
    version TEXT NOT NULL,
    kind TEXT NOT NULL,
    columns TEXT NOT NULL,
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, version)
);

CREATE INDEX IF NOT EXISTS idx_model_artifacts_created ON model_artifacts(name, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAssessments,
		schemaModelArtifacts,
	}
}
