package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS resources (
    id TEXT PRIMARY KEY,
    resource_type TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    state_json TEXT NOT NULL,
    config_json TEXT NOT NULL,
    recovery_attempts INTEGER NOT NULL DEFAULT 0,
    current_escalation_tier INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_resources_type ON resources(resource_type);

CREATE TABLE IF NOT EXISTS transitions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_id TEXT NOT NULL,
    from_state_json TEXT,
    to_state_json TEXT NOT NULL,
    substate TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    occurred_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transitions_resource ON transitions(resource_id);
CREATE INDEX IF NOT EXISTS idx_transitions_occurred_at ON transitions(occurred_at);
`
