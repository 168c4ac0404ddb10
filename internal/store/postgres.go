package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-report/internal/db"
	"github.com/sells-group/deal-report/internal/model"
)

// PostgresStore implements AuditStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const insertAuditSQL = `INSERT INTO audit_log (id, endpoint, method, status_code, request_snapshot, response_snapshot, session_id, user_agent, ip, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"insert_audit": insertAuditSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS audit_log (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	endpoint          TEXT NOT NULL,
	method            TEXT NOT NULL,
	status_code       INTEGER NOT NULL,
	request_snapshot  JSONB NOT NULL,
	response_snapshot JSONB NOT NULL,
	session_id        TEXT,
	user_agent        TEXT,
	ip                TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_session_id ON audit_log(session_id);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate creates the audit table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// AppendAudit inserts one audit record.
func (s *PostgresStore) AppendAudit(ctx context.Context, entry *model.AuditLogEntry) error {
	reqJSON, respJSON, err := marshalSnapshots(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: append audit")
	}
	_, err = s.pool.Exec(ctx, insertAuditSQL,
		entry.ID, entry.Endpoint, entry.Method, entry.StatusCode,
		reqJSON, respJSON,
		nullable(entry.SessionID), nullable(entry.UserAgent), nullable(entry.IP),
		entry.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert audit %s", entry.ID)
}
