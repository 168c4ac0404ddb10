package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/deal-report/internal/model"
)

const defaultWriteTimeout = 5 * time.Second

// Sink writes audit records in the background. A write never blocks the
// caller and its failure is only logged.
type Sink struct {
	store   AuditStore
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewSink creates a Sink. A nil store makes Record a no-op.
func NewSink(store AuditStore, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Sink{store: store, timeout: timeout, now: time.Now}
}

// Record schedules entry for writing and returns immediately. The write
// outlives ctx cancellation but is bounded by the sink timeout.
func (s *Sink) Record(ctx context.Context, entry model.AuditLogEntry) {
	if s == nil || s.store == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now().UTC()
	}

	wctx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("audit: write panicked",
					zap.String("audit_id", entry.ID),
					zap.Any("panic", r),
				)
			}
		}()

		cctx, cancel := context.WithTimeout(wctx, s.timeout)
		defer cancel()
		if err := s.store.AppendAudit(cctx, &entry); err != nil {
			zap.L().Error("audit: write failed",
				zap.String("audit_id", entry.ID),
				zap.String("endpoint", entry.Endpoint),
				zap.Int("status_code", entry.StatusCode),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (s *Sink) Wait() {
	if s == nil {
		return
	}
	s.wg.Wait()
}
