package toggle

import (
	"context"

	"github.com/anonto42/nano-midea/engagement/internal/metrics"
	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"go.uber.org/zap"
)

// Reconciler applies counter deltas inside a toggle transaction.
// A counter never goes below zero: an adjustment that would make it negative
// is clamped and reported as drift.
type Reconciler struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewReconciler creates a Reconciler
func NewReconciler(logger *zap.Logger, m *metrics.Metrics) *Reconciler {
	return &Reconciler{logger: logger, metrics: m}
}

// Adjust adds delta to the named counter of the post read as counters and
// writes the result through tx. It returns the new counter value.
func (r *Reconciler) Adjust(ctx context.Context, tx repositories.Tx, counters *models.PostCounters, field models.CounterField, delta int) (int, error) {
	current := counters.Get(field)
	next := current + delta
	if next < 0 {
		r.logger.Warn("Counter drift, clamping at zero",
			zap.String("post_id", counters.PostID),
			zap.String("field", string(field)),
			zap.Int("current", current),
			zap.Int("delta", delta),
		)
		r.metrics.CounterClampsTotal.WithLabelValues(string(field)).Inc()
		next = 0
	}
	if err := tx.SetCounter(ctx, counters.PostID, field, next); err != nil {
		return 0, err
	}
	counters.Set(field, next)
	return next, nil
}
