package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-report/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testEntry(id string) *model.AuditLogEntry {
	return &model.AuditLogEntry{
		ID:               id,
		Endpoint:         "/api/evaluate",
		Method:           "POST",
		StatusCode:       200,
		RequestSnapshot:  map[string]any{"role": "buyer", "make": "Ford"},
		ResponseSnapshot: map[string]any{"verdict": "Walk"},
		SessionID:        "sess-1",
		UserAgent:        "curl/8.0",
		IP:               "203.0.113.7",
		Timestamp:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLite_AppendAudit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAudit(ctx, testEntry("a1")))

	var endpoint, method, reqJSON, respJSON, session string
	var status int
	err := st.db.QueryRowContext(ctx,
		`SELECT endpoint, method, status_code, request_snapshot, response_snapshot, session_id FROM audit_log WHERE id = ?`, "a1",
	).Scan(&endpoint, &method, &status, &reqJSON, &respJSON, &session)
	require.NoError(t, err)

	assert.Equal(t, "/api/evaluate", endpoint)
	assert.Equal(t, "POST", method)
	assert.Equal(t, 200, status)
	assert.Equal(t, "sess-1", session)

	var req map[string]any
	require.NoError(t, json.Unmarshal([]byte(reqJSON), &req))
	assert.Equal(t, "Ford", req["make"])
	assert.JSONEq(t, `{"verdict":"Walk"}`, respJSON)
}

func TestSQLite_AppendAudit_Minimal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	entry := &model.AuditLogEntry{ID: "a2", Endpoint: "evaluate", Method: "CLI", StatusCode: 502, Timestamp: time.Now()}
	require.NoError(t, st.AppendAudit(ctx, entry))

	var respJSON string
	var session *string
	err := st.db.QueryRowContext(ctx, `SELECT response_snapshot, session_id FROM audit_log WHERE id = ?`, "a2").Scan(&respJSON, &session)
	require.NoError(t, err)
	assert.Equal(t, "{}", respJSON)
	assert.Nil(t, session)
}

func TestSQLite_AppendAudit_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AppendAudit(ctx, testEntry("dup")))
	err := st.AppendAudit(ctx, testEntry("dup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: insert audit dup")
}

func TestSQLite_AppendAudit_NoID(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.AppendAudit(context.Background(), &model.AuditLogEntry{Endpoint: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}
