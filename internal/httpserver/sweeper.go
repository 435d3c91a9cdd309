package httpserver

import (
	"context"
	"log/slog"
	"time"

	"quickclip/internal/storage"
)

// sweep deletes entries older than the retention window from both
// namespaces. It runs after every successful save; failures are logged and
// never surfaced, so housekeeping cannot fail the write that triggered it.
func (s *Server) sweep(ctx context.Context) {
	cutoff := s.nowTime().UTC().Add(-s.retention)

	if removed, err := s.store.SweepTexts(ctx, cutoff); err != nil {
		s.logError("sweep texts", err)
	} else if removed > 0 && s.logger != nil {
		s.logger.Info("swept expired text entries", "count", removed)
	}

	if removed, err := s.store.SweepFiles(ctx, cutoff); err != nil {
		s.logError("sweep files", err)
	} else if removed > 0 && s.logger != nil {
		s.logger.Info("swept expired file entries", "count", removed)
	}
}

// StartJanitor launches an optional background sweeper for deployments that
// want expiry to run even without write traffic. With interval <= 0 it does
// nothing; the save-triggered sweep remains the default mechanism.
func StartJanitor(ctx context.Context, store storage.Store, interval, retention time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if retention <= 0 {
		retention = storage.Retention
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx, store, retention, logger)
			}
		}
	}()
}

func sweepOnce(ctx context.Context, store storage.Store, retention time.Duration, logger *slog.Logger) {
	c, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cutoff := time.Now().UTC().Add(-retention)
	if _, err := store.SweepTexts(c, cutoff); err != nil && logger != nil {
		logger.Error("janitor sweep texts", "error", err)
	}
	if _, err := store.SweepFiles(c, cutoff); err != nil && logger != nil {
		logger.Error("janitor sweep files", "error", err)
	}
}
