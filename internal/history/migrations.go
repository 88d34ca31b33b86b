package history

const schema = `
CREATE TABLE IF NOT EXISTS iterations (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    action TEXT NOT NULL,
    mode TEXT NOT NULL,
    project TEXT,
    mission TEXT,
    available_pct REAL DEFAULT 0,
    input_tokens INTEGER DEFAULT 0,
    output_tokens INTEGER DEFAULT 0,
    quota_exhausted BOOLEAN DEFAULT FALSE,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_iterations_started_at ON iterations(started_at);
CREATE INDEX IF NOT EXISTS idx_iterations_project ON iterations(project);
`
