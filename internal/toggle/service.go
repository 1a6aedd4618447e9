package toggle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/cache"
	"github.com/anonto42/nano-midea/engagement/internal/events"
	"github.com/anonto42/nano-midea/engagement/internal/metrics"
	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds the transaction attempts of one Toggle call
const DefaultMaxAttempts = 3

// Result is the committed state of a relation and its counter
type Result struct {
	Active bool `json:"active"`
	Count  int  `json:"count"`
}

// Service is the only writer of relations and their post counters
type Service struct {
	store       repositories.RelationStore
	reconciler  *Reconciler
	cache       cache.RelationCache
	publisher   events.Publisher
	metrics     *metrics.Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	maxAttempts int
}

// Option configures a Service
type Option func(*Service)

// WithCache enables the isActive read cache
func WithCache(c cache.RelationCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher enables relation events after commit
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics sets the collectors the service reports to
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxAttempts overrides DefaultMaxAttempts
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a toggle Service
func NewService(store repositories.RelationStore, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:       store,
		logger:      logger,
		tracer:      otel.Tracer("github.com/anonto42/nano-midea/engagement/internal/toggle"),
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}
	s.reconciler = NewReconciler(logger, s.metrics)
	return s
}

// Toggle flips the actor's relation on the target and adjusts the target's
// counter in the same transaction. Write conflicts are retried up to the
// configured number of attempts; every other failure is returned as is.
func (s *Service) Toggle(ctx context.Context, actorID, targetID string, kind models.RelationKind) (Result, error) {
	if !kind.Valid() {
		s.metrics.TogglesTotal.WithLabelValues("unknown", outcome(ErrInvalidKind)).Inc()
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidKind, string(kind))
	}
	if actorID == "" {
		s.metrics.TogglesTotal.WithLabelValues(string(kind), outcome(ErrUnauthenticated)).Inc()
		return Result{}, ErrUnauthenticated
	}
	if !models.ValidTargetID(targetID) {
		s.metrics.TogglesTotal.WithLabelValues(string(kind), outcome(ErrTargetNotFound)).Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}

	ctx, span := s.tracer.Start(ctx, "toggle.Toggle", trace.WithAttributes(
		attribute.String("relation.kind", string(kind)),
		attribute.String("relation.target_id", targetID),
	))
	defer span.End()
	start := time.Now()

	var (
		res     Result
		version int64
		err     error
	)
	for attempt := 1; ; attempt++ {
		res, version, err = s.toggleOnce(ctx, actorID, targetID, kind)
		if !errors.Is(err, repositories.ErrTxConflict) || attempt >= s.maxAttempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			break
		}
		s.metrics.ToggleRetriesTotal.WithLabelValues(string(kind)).Inc()
		s.logger.Debug("Toggle conflict, retrying",
			zap.String("actor_id", actorID),
			zap.String("target_id", targetID),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
		)
	}
	err = mapStoreError(err, targetID)

	s.metrics.ToggleDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	s.metrics.TogglesTotal.WithLabelValues(string(kind), outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		if !errors.Is(err, ErrTargetNotFound) {
			s.logger.Warn("Toggle failed",
				zap.String("actor_id", actorID),
				zap.String("target_id", targetID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
		return Result{}, err
	}

	span.SetAttributes(attribute.Bool("relation.active", res.Active), attribute.Int("relation.count", res.Count))
	s.afterCommit(ctx, actorID, targetID, kind, res, version)
	return res, nil
}

// toggleOnce runs one transaction attempt and returns the committed result
// together with the version of the flipped relation
func (s *Service) toggleOnce(ctx context.Context, actorID, targetID string, kind models.RelationKind) (Result, int64, error) {
	field, err := kind.CounterField()
	if err != nil {
		return Result{}, 0, fmt.Errorf("%w: %w", ErrInvalidKind, err)
	}
	var (
		res     Result
		version int64
	)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		counters, err := tx.GetCounters(ctx, targetID)
		if err != nil {
			return err
		}
		current, err := tx.GetRelation(ctx, actorID, targetID, kind)
		if err != nil {
			return err
		}

		active := current == nil || !current.Active
		delta := -1
		if active {
			delta = 1
		}

		rel, err := tx.UpsertActive(ctx, actorID, targetID, kind, active)
		if err != nil {
			return err
		}
		count, err := s.reconciler.Adjust(ctx, tx, counters, field, delta)
		if err != nil {
			return err
		}
		res = Result{Active: active, Count: count}
		version = rel.Version
		return nil
	})
	return res, version, err
}

// afterCommit runs the best-effort side effects of a committed toggle
func (s *Service) afterCommit(ctx context.Context, actorID, targetID string, kind models.RelationKind, res Result, version int64) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, actorID, targetID, kind, res.Active, version); err != nil {
			s.logger.Warn("Failed to update relation cache", zap.String("target_id", targetID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		event := events.RelationToggledEvent{
			ActorID:   actorID,
			TargetID:  targetID,
			Kind:      kind,
			Active:    res.Active,
			Count:     res.Count,
			Timestamp: time.Now().UTC(),
		}
		if err := s.publisher.PublishRelationToggled(ctx, event); err != nil {
			s.metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Failed to publish relation event", zap.String("target_id", targetID), zap.Error(err))
		} else {
			s.metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
		}
	}
}

// IsActive reports whether the actor currently holds the relation on the target.
// A cache fill carries the version that was read, so it loses to any toggle
// that committed in the meantime.
func (s *Service) IsActive(ctx context.Context, actorID, targetID string, kind models.RelationKind) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidKind, string(kind))
	}
	if actorID == "" {
		return false, ErrUnauthenticated
	}
	if !models.ValidTargetID(targetID) {
		return false, nil
	}
	ctx, span := s.tracer.Start(ctx, "toggle.IsActive", trace.WithAttributes(
		attribute.String("relation.kind", string(kind)),
		attribute.String("relation.target_id", targetID),
	))
	defer span.End()

	if s.cache == nil {
		s.metrics.StatusLookupsTotal.WithLabelValues("disabled").Inc()
	} else {
		active, found, err := s.cache.Get(ctx, actorID, targetID, kind)
		switch {
		case err != nil:
			s.metrics.StatusLookupsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("Relation cache read failed", zap.String("target_id", targetID), zap.Error(err))
		case found:
			s.metrics.StatusLookupsTotal.WithLabelValues("hit").Inc()
			return active, nil
		default:
			s.metrics.StatusLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	rel, err := s.store.GetRelation(ctx, actorID, targetID, kind)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	var (
		active  bool
		version int64
	)
	if rel != nil {
		active, version = rel.Active, rel.Version
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, actorID, targetID, kind, active, version); err != nil {
			s.logger.Warn("Relation cache write failed", zap.String("target_id", targetID), zap.Error(err))
		}
	}
	return active, nil
}
