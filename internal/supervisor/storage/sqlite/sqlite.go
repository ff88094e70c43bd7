// Package sqlite implements supervisor.LifecycleStorage on top of sqlite,
// in the teacher's WAL-mode, embedded-schema-string style.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/vc/internal/supervisor"
)

// Storage implements supervisor.LifecycleStorage using sqlite.
type Storage struct {
	db *sql.DB
}

// New opens (creating if necessary) the sqlite database at path, with WAL
// mode enabled for concurrent readers, and applies the schema.
func New(path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveInstance upserts instance by ID.
func (s *Storage) SaveInstance(ctx context.Context, instance supervisor.ResourceInstance) error {
	stateJSON, err := json.Marshal(instance.State)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}
	configJSON, err := json.Marshal(instance.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (id, resource_type, instance_id, state_json, config_json,
			recovery_attempts, current_escalation_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			state_json = excluded.state_json,
			config_json = excluded.config_json,
			recovery_attempts = excluded.recovery_attempts,
			current_escalation_tier = excluded.current_escalation_tier,
			updated_at = CURRENT_TIMESTAMP
	`, instance.ID.String(), instance.ResourceType.String(), instance.ID.InstanceID,
		string(stateJSON), string(configJSON),
		instance.RecoveryAttempts, instance.CurrentEscalationTier, instance.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", instance.ID.String(), err)
	}
	return nil
}

// RemoveInstance deletes id's row, if present.
func (s *Storage) RemoveInstance(ctx context.Context, id supervisor.ResourceId) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to remove instance %s: %w", id.String(), err)
	}
	return nil
}

// LoadActiveInstances returns every row whose last-known state is
// non-terminal; a row whose id, state_json or config_json fails to parse is
// skipped with a warning logged rather than aborting the whole load.
func (s *Storage) LoadActiveInstances(ctx context.Context) ([]supervisor.ResourceInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state_json, config_json, recovery_attempts, current_escalation_tier, created_at
		FROM resources
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query active instances: %w", err)
	}
	defer rows.Close()

	var out []supervisor.ResourceInstance
	for rows.Next() {
		var (
			idStr      string
			stateJSON  string
			configJSON string
			attempts   uint32
			tier       uint8
			createdAt  sql.NullTime
		)
		if err := rows.Scan(&idStr, &stateJSON, &configJSON, &attempts, &tier, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance row: %w", err)
		}

		id, err := supervisor.ParseResourceId(idStr)
		if err != nil {
			slog.Warn("skipping stored resource with malformed id", "id", idStr, "error", err)
			continue
		}
		var state supervisor.ResourceState
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			slog.Warn("skipping stored resource with unparseable state", "id", idStr, "error", err)
			continue
		}
		if state.IsTerminal() {
			continue
		}
		var config supervisor.ResourceConfig
		if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
			slog.Warn("skipping stored resource with unparseable config", "id", idStr, "error", err)
			continue
		}

		out = append(out, supervisor.ResourceInstance{
			ID:                    id,
			ResourceType:          id.Type,
			State:                 state,
			Config:                config,
			CreatedAt:             createdAt.Time,
			RecoveryAttempts:      attempts,
			CurrentEscalationTier: tier,
		})
	}
	return out, rows.Err()
}

// RecordTransition appends transition to the durable log.
func (s *Storage) RecordTransition(ctx context.Context, transition supervisor.StateTransition, substate string) error {
	var fromJSON []byte
	if transition.FromState.Kind != "" {
		var err error
		fromJSON, err = json.Marshal(transition.FromState)
		if err != nil {
			return fmt.Errorf("marshalling from_state: %w", err)
		}
	}
	toJSON, err := json.Marshal(transition.ToState)
	if err != nil {
		return fmt.Errorf("marshalling to_state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transitions (resource_id, from_state_json, to_state_json, substate, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, transition.ResourceID.String(), nullableString(fromJSON), string(toJSON), substate, transition.Reason, transition.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record transition for %s: %w", transition.ResourceID.String(), err)
	}
	return nil
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
