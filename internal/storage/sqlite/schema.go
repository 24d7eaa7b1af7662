package sqlite

// SchemaVersion gates re-running the DDL below. Forward-only: opening a
// store whose version is current skips the script entirely.
const SchemaVersion = 1

// Schema is the full DDL for the sqrl store. Every statement is idempotent
// so re-running on a current database is a no-op.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
    id          TEXT PRIMARY KEY,
    project_id  TEXT,
    scope       TEXT NOT NULL CHECK (scope IN ('global', 'project', 'repo_path')),

    owner_type  TEXT NOT NULL CHECK (owner_type IN ('user', 'team', 'org')),
    owner_id    TEXT NOT NULL,

    kind        TEXT NOT NULL CHECK (kind IN ('preference', 'invariant', 'pattern', 'guard', 'note')),
    tier        TEXT NOT NULL CHECK (tier IN ('short_term', 'long_term', 'emergency')),
    polarity    INTEGER DEFAULT 1 CHECK (polarity IN (1, -1)),
    key         TEXT,
    text        TEXT NOT NULL,

    status      TEXT NOT NULL DEFAULT 'provisional' CHECK (status IN ('provisional', 'active', 'deprecated')),
    confidence  REAL CHECK (confidence >= 0.0 AND confidence <= 1.0),
    expires_at  TEXT,
    embedding   BLOB,

    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope);
CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner_type, owner_id);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(key);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);

CREATE TABLE IF NOT EXISTS evidence (
    id           TEXT PRIMARY KEY,
    memory_id    TEXT NOT NULL,
    episode_id   TEXT NOT NULL,
    source       TEXT CHECK (source IN ('failure_then_success', 'user_correction', 'explicit_statement', 'pattern_observed', 'guard_triggered')),
    frustration  TEXT CHECK (frustration IN ('none', 'mild', 'moderate', 'severe')),
    created_at   TEXT NOT NULL,
    FOREIGN KEY (memory_id) REFERENCES memories(id),
    FOREIGN KEY (episode_id) REFERENCES episodes(id)
);

CREATE INDEX IF NOT EXISTS idx_evidence_memory ON evidence(memory_id);
CREATE INDEX IF NOT EXISTS idx_evidence_episode ON evidence(episode_id);

CREATE TABLE IF NOT EXISTS memory_metrics (
    memory_id              TEXT PRIMARY KEY,
    use_count              INTEGER DEFAULT 0,
    opportunities          INTEGER DEFAULT 0,
    suspected_regret_hits  INTEGER DEFAULT 0,
    estimated_regret_saved REAL DEFAULT 0.0,
    last_used_at           TEXT,
    last_evaluated_at      TEXT,
    FOREIGN KEY (memory_id) REFERENCES memories(id)
);

CREATE TABLE IF NOT EXISTS episodes (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    start_ts    TEXT NOT NULL,
    end_ts      TEXT NOT NULL,
    events_json TEXT NOT NULL,
    processed   INTEGER DEFAULT 0,
    created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_project ON episodes(project_id);
CREATE INDEX IF NOT EXISTS idx_episodes_processed ON episodes(processed);
CREATE INDEX IF NOT EXISTS idx_episodes_start ON episodes(start_ts);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`
