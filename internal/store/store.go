// Package store persists audit records and provides the fire-and-forget
// sink the pipeline writes them through.
package store

import (
	"context"

	"github.com/sells-group/deal-report/internal/model"
)

// AuditStore is an append-only audit log. There is no read path.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *model.AuditLogEntry) error
	Migrate(ctx context.Context) error
	Close() error
}
