package sqlstore

// schema is applied on Open. Every statement is idempotent and valid for
// both PostgreSQL and SQLite. Indexed columns mirror the filters the store
// serves; the full entity lives in payload as JSON.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS organs (
		id          TEXT PRIMARY KEY,
		revision    BIGINT NOT NULL,
		status      TEXT NOT NULL,
		organ_type  TEXT NOT NULL,
		blood_group TEXT NOT NULL,
		donor_id    TEXT NOT NULL,
		created_ms  BIGINT NOT NULL,
		payload     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS organs_status_idx ON organs (status, organ_type, blood_group)`,
	`CREATE INDEX IF NOT EXISTS organs_donor_idx ON organs (donor_id)`,
	`CREATE TABLE IF NOT EXISTS requests (
		id          TEXT PRIMARY KEY,
		revision    BIGINT NOT NULL,
		status      TEXT NOT NULL,
		organ_type  TEXT NOT NULL,
		blood_group TEXT NOT NULL,
		hospital_id TEXT NOT NULL,
		urgency     INTEGER NOT NULL,
		created_ms  BIGINT NOT NULL,
		payload     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS requests_status_idx ON requests (status, organ_type, blood_group)`,
	`CREATE INDEX IF NOT EXISTS requests_hospital_idx ON requests (hospital_id)`,
	`CREATE TABLE IF NOT EXISTS allocations (
		id          TEXT PRIMARY KEY,
		revision    BIGINT NOT NULL,
		status      TEXT NOT NULL,
		hospital_id TEXT NOT NULL,
		organ_id    TEXT NOT NULL,
		created_ms  BIGINT NOT NULL,
		payload     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS allocations_hospital_idx ON allocations (hospital_id, status)`,
	`CREATE TABLE IF NOT EXISTS consents (
		id       TEXT PRIMARY KEY,
		revision BIGINT NOT NULL,
		donor_id TEXT NOT NULL,
		payload  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id       TEXT PRIMARY KEY,
		revision BIGINT NOT NULL,
		role     TEXT NOT NULL,
		payload  TEXT NOT NULL
	)`,
}

// tables lists every table in dependency-free order, used by Truncate.
var tables = []string{"organs", "requests", "allocations", "consents", "users"}
