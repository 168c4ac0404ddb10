package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deal-report/internal/model"
)

// SQLiteStore implements AuditStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS audit_log (
	id                TEXT PRIMARY KEY,
	endpoint          TEXT NOT NULL,
	method            TEXT NOT NULL,
	status_code       INTEGER NOT NULL,
	request_snapshot  TEXT NOT NULL,
	response_snapshot TEXT NOT NULL,
	session_id        TEXT,
	user_agent        TEXT,
	ip                TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_session_id ON audit_log(session_id);
`

// Migrate creates the audit table.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendAudit inserts one audit record.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *model.AuditLogEntry) error {
	reqJSON, respJSON, err := marshalSnapshots(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: append audit")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, endpoint, method, status_code, request_snapshot, response_snapshot, session_id, user_agent, ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Endpoint, entry.Method, entry.StatusCode,
		string(reqJSON), string(respJSON),
		nullable(entry.SessionID), nullable(entry.UserAgent), nullable(entry.IP),
		entry.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert audit %s", entry.ID)
}

func marshalSnapshots(entry *model.AuditLogEntry) ([]byte, []byte, error) {
	if entry.ID == "" {
		return nil, nil, eris.New("audit entry has no id")
	}
	req := entry.RequestSnapshot
	if req == nil {
		req = map[string]any{}
	}
	resp := entry.ResponseSnapshot
	if resp == nil {
		resp = map[string]any{}
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal request snapshot")
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal response snapshot")
	}
	return reqJSON, respJSON, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
