package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBLog mirrors audit events into a SQL table for ad-hoc querying alongside
// the canonical JSONL files. Works against PostgreSQL (lib/pq) and SQLite
// (mattn/go-sqlite3); the driver name selects placeholder style and column
// types.
type DBLog struct {
	db     *sql.DB
	driver string
}

// NewDBLog ensures the audit table exists and returns the sink.
func NewDBLog(db *sql.DB, driver string) (*DBLog, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	l := &DBLog{db: db, driver: driver}
	if err := l.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit table: %w", err)
	}
	return l, nil
}

func (l *DBLog) ensureTable() error {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	if l.driver == "sqlite3" {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	query := `
	CREATE TABLE IF NOT EXISTS config_audit_events (
		` + idColumn + `,
		event_id VARCHAR(64) NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		action VARCHAR(32) NOT NULL,
		user_id VARCHAR(255),
		user_email VARCHAR(255),
		field_name VARCHAR(255),
		old_value TEXT,
		new_value TEXT,
		environment VARCHAR(64),
		severity VARCHAR(16) NOT NULL,
		ip_address VARCHAR(45),
		user_agent TEXT,
		session_id VARCHAR(128),
		request_id VARCHAR(128),
		success BOOLEAN NOT NULL,
		error_message TEXT,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_config_audit_timestamp ON config_audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_config_audit_user ON config_audit_events(user_id);
	CREATE INDEX IF NOT EXISTS idx_config_audit_action ON config_audit_events(action);
	CREATE INDEX IF NOT EXISTS idx_config_audit_field ON config_audit_events(field_name);
	`

	_, err := l.db.Exec(query)
	return err
}

// rebind converts $N placeholders to ? for drivers that want them.
func (l *DBLog) rebind(query string) string {
	if l.driver != "sqlite3" {
		return query
	}
	for i := 17; i >= 1; i-- {
		query = strings.Replace(query, "$"+strconv.Itoa(i), "?", 1)
	}
	return query
}

// Log inserts one event. Values are serialized through the event's masking
// MarshalJSON path so the database never stores raw secret material.
func (l *DBLog) Log(ctx context.Context, event *Event) error {
	// Round-trip through JSON to apply masking uniformly with the file sink.
	masked, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	var row Event
	if err := json.Unmarshal(masked, &row); err != nil {
		return fmt.Errorf("failed to decode masked audit event: %w", err)
	}

	var metadataJSON []byte
	if row.Metadata != nil {
		metadataJSON, err = json.Marshal(row.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := l.rebind(`
		INSERT INTO config_audit_events (
			event_id, timestamp, action,
			user_id, user_email, field_name,
			old_value, new_value, environment,
			severity, ip_address, user_agent,
			session_id, request_id, success,
			error_message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $17
		)`)

	_, err = l.db.ExecContext(ctx, query,
		row.ID, row.Timestamp, string(row.Action),
		row.UserID, row.UserEmail, row.FieldName,
		stringify(row.OldValue), stringify(row.NewValue), row.Environment,
		string(row.Severity), row.IPAddress, row.UserAgent,
		row.SessionID, row.RequestID, row.Success,
		row.ErrorMessage, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

func stringify(v interface{}) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmt.Sprintf("%v", v), Valid: true}
}

// Recent returns the most recent events up to limit, newest first.
func (l *DBLog) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := l.rebind(`
		SELECT event_id, timestamp, action, user_id, user_email, field_name,
		       environment, severity, success, error_message
		FROM config_audit_events
		ORDER BY timestamp DESC
		LIMIT $1`)

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e         Event
			ts        time.Time
			action    string
			severity  string
			userID    sql.NullString
			userEmail sql.NullString
			fieldName sql.NullString
			env       sql.NullString
			errMsg    sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &action, &userID, &userEmail, &fieldName,
			&env, &severity, &e.Success, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Timestamp = ts
		e.Action = Action(action)
		e.Severity = Severity(severity)
		e.UserID = userID.String
		e.UserEmail = userEmail.String
		e.FieldName = fieldName.String
		e.Environment = env.String
		e.ErrorMessage = errMsg.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close is a no-op; the caller owns the *sql.DB.
func (l *DBLog) Close() error {
	return nil
}
