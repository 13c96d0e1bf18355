package audit

import (
	"context"
	"log"
	"time"

	"github.com/stepflow/gateway/pkg/storage"
)

// Sweeper enforces the audit retention window.
type Sweeper struct {
	Store     storage.AuditStore
	Retention time.Duration
	Interval  time.Duration
	Logger    *log.Logger
}

// Run purges expired log rows on every tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.Retention).UTC()
			removed, err := s.Store.PurgeBefore(ctx, cutoff)
			if err != nil {
				logger.Printf("purging audit logs err=%v", err)
				continue
			}
			if removed > 0 {
				logger.Printf("purged audit logs count=%d cutoff=%s", removed, cutoff.Format(time.RFC3339))
			}
		}
	}
}
