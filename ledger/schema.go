package ledger

// Schema creates the job table. It is valid for both SQLite and Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS patch_jobs (
	id          TEXT PRIMARY KEY,
	collection  TEXT NOT NULL,
	archive     TEXT NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	output      TEXT NOT NULL DEFAULT '',
	pairs       INTEGER NOT NULL DEFAULT 0,
	applied     INTEGER NOT NULL DEFAULT 0,
	started_at  BIGINT NOT NULL,
	finished_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patch_jobs_collection ON patch_jobs (collection, status);
CREATE INDEX IF NOT EXISTS idx_patch_jobs_finished ON patch_jobs (finished_at);
`
