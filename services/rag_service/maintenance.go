package rag_service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Maintenance recovers documents left in processing by a crashed or
// restarted ingestion.
type Maintenance struct {
	docs   DocumentStore
	logger *slog.Logger
	now    func() time.Time
}

func NewMaintenance(docs DocumentStore, logger *slog.Logger) *Maintenance {
	return &Maintenance{docs: docs, logger: logger, now: time.Now}
}

// ResetStaleProcessing marks as failed every document that has been
// processing for longer than olderThan.
func (m *Maintenance) ResetStaleProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive, got %s", olderThan)
	}
	cutoff := m.now().Add(-olderThan)
	n, err := m.docs.MarkStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale documents: %w", err)
	}
	if n > 0 {
		m.logger.Warn("Reset stale processing documents",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff))
	}
	return n, nil
}
