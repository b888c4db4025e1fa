package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/domain/plan"
	"github.com/artpar/usagebill/ports"
)

const defaultPlanLoadTimeout = 10 * time.Second

// PlanLoader reads plan versions through an optional cache. Concurrent loads
// of the same version share one store read. A cached version is served only
// while its Revision matches the store, so adjustments replaced by another
// process are picked up on the next load.
type PlanLoader struct {
	store   ports.PlanStore
	cache   ports.PlanCache // nil = no cache
	metrics ports.MetricsRecorder
	logger  zerolog.Logger
	group   singleflight.Group
	timeout time.Duration

	mu   sync.Mutex
	gens map[string]uint64 // per-ID invalidation generation
}

// NewPlanLoader creates a loader. cache and recorder may be nil.
func NewPlanLoader(store ports.PlanStore, cache ports.PlanCache, recorder ports.MetricsRecorder, logger zerolog.Logger) *PlanLoader {
	if recorder == nil {
		recorder = NopMetrics{}
	}
	return &PlanLoader{
		store:   store,
		cache:   cache,
		metrics: recorder,
		logger:  logger,
		timeout: defaultPlanLoadTimeout,
		gens:    make(map[string]uint64),
	}
}

// Load returns the plan version with components and adjustment resolved.
// Cache failures are logged and fall through to the store.
func (l *PlanLoader) Load(ctx context.Context, id string) (plan.Version, error) {
	if l.cache != nil {
		if v, ok := l.cached(ctx, id); ok {
			return v, nil
		}
	}

	// The shared load outlives any single caller's cancellation.
	ch := l.group.DoChan(id, func() (any, error) {
		gen := l.generation(id)

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		v, err := l.store.GetPlanVersion(loadCtx, id)
		if err != nil {
			return plan.Version{}, err
		}
		// An Invalidate during the read means v may predate the change.
		if l.cache != nil && l.generation(id) == gen {
			if err := l.cache.Set(loadCtx, v); err != nil {
				l.logger.Warn().Err(err).Str("plan_version", id).Msg("plan cache write failed")
			}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return plan.Version{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return plan.Version{}, fmt.Errorf("load plan version %s: %w", id, res.Err)
		}
		return res.Val.(plan.Version), nil
	}
}

// cached returns the cached version of id if its revision is still current.
func (l *PlanLoader) cached(ctx context.Context, id string) (plan.Version, bool) {
	v, ok, err := l.cache.Get(ctx, id)
	if err != nil {
		l.logger.Warn().Err(err).Str("plan_version", id).Msg("plan cache read failed")
		return plan.Version{}, false
	}
	if !ok {
		l.metrics.PlanCacheLookup(false)
		return plan.Version{}, false
	}

	rev, err := l.store.PlanVersionRevision(ctx, id)
	if err != nil {
		// The full load reports the store error.
		l.metrics.PlanCacheLookup(false)
		return plan.Version{}, false
	}
	if rev != v.Revision {
		l.logger.Debug().
			Str("plan_version", id).
			Int64("cached", v.Revision).
			Int64("current", rev).
			Msg("stale plan cache entry")
		l.metrics.PlanCacheLookup(false)
		return plan.Version{}, false
	}

	l.metrics.PlanCacheLookup(true)
	return v, true
}

func (l *PlanLoader) generation(id string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gens[id]
}

// Invalidate drops a cached plan version. Loads already reading the store
// will not cache their result, and later loads do not join them.
func (l *PlanLoader) Invalidate(ctx context.Context, id string) error {
	l.mu.Lock()
	l.gens[id]++
	l.mu.Unlock()
	l.group.Forget(id)

	if l.cache == nil {
		return nil
	}
	return l.cache.Invalidate(ctx, id)
}

// PlanService administers plan versions.
type PlanService struct {
	writer ports.PlanWriter
	loader *PlanLoader
	logger zerolog.Logger
}

// NewPlanService creates a plan service.
func NewPlanService(writer ports.PlanWriter, loader *PlanLoader, logger zerolog.Logger) *PlanService {
	return &PlanService{writer: writer, loader: loader, logger: logger}
}

// SetAdjustment replaces the price adjustment of a plan version. The previous
// adjustment, if any, is superseded.
func (s *PlanService) SetAdjustment(ctx context.Context, versionID string, adj billing.PriceAdjustment) error {
	if err := adj.Validate(); err != nil {
		return err
	}
	if err := s.writer.SetPriceAdjustment(ctx, versionID, adj); err != nil {
		return fmt.Errorf("set price adjustment on %s: %w", versionID, err)
	}
	if err := s.loader.Invalidate(ctx, versionID); err != nil {
		s.logger.Warn().Err(err).Str("plan_version", versionID).Msg("plan cache invalidation failed")
	}

	s.logger.Info().
		Str("plan_version", versionID).
		Str("type", string(adj.Type)).
		Str("amount", adj.Amount.String()).
		Msg("price adjustment set")
	return nil
}
