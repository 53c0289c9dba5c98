// internal/orchestrator/orchestrator.go

// Package orchestrator runs location lookups across a vehicle roster.
// Providers run concurrently with each other; within one provider the
// vehicles run strictly sequentially, each on its own scraper instance with
// its own browser, disposed before the next begins. Sharing one session
// across vehicles was rejected: every lookup mutates page and frame state
// that must not leak into the next.
package orchestrator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dfmorales/rastreo-cli/api/schemas"
	"github.com/dfmorales/rastreo-cli/internal/config"
	"github.com/dfmorales/rastreo-cli/internal/scraper"
)

var errLoginFailed = errors.New("portal rejected the credentials")

// ScraperFactory builds the state machine for one portal. Swappable in tests.
type ScraperFactory func(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (scraper.Scraper, error)

// Persister accepts one record per successful lookup. Optional.
type Persister func(ctx context.Context, rec *schemas.LocationRecord) error

// Result pairs one roster entry with its outcome.
type Result struct {
	Vehicle schemas.Vehicle
	Record  *schemas.LocationRecord
	Err     error
}

type Orchestrator struct {
	cfg     *config.Config
	logger  *zap.Logger
	factory ScraperFactory
	limiter *rate.Limiter
	persist Persister
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFactory substitutes the scraper constructor.
func WithFactory(f ScraperFactory) Option {
	return func(o *Orchestrator) { o.factory = f }
}

// WithPersister stores each successful record as it arrives.
func WithPersister(p Persister) Option {
	return func(o *Orchestrator) { o.persist = p }
}

func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger.Named("orchestrator"),
		factory: scraper.New,
		limiter: rate.NewLimiter(rate.Limit(cfg.Orchestrator.LookupsPerMinute/60.0), 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the roster and returns one result per vehicle, in roster
// order. A server-down failure aborts the rest of that provider's batch,
// since every remaining lookup would hit the same dead portal; other
// failures are recorded and the batch continues.
func (o *Orchestrator) Run(ctx context.Context, vehicles []schemas.Vehicle) []Result {
	byProvider := make(map[schemas.ProviderID][]int)
	order := make([]schemas.ProviderID, 0, len(vehicles))
	for i, v := range vehicles {
		if _, seen := byProvider[v.Provider]; !seen {
			order = append(order, v.Provider)
		}
		byProvider[v.Provider] = append(byProvider[v.Provider], i)
	}

	results := make([]Result, len(vehicles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, provider := range order {
		indexes := byProvider[provider]
		g.Go(func() error {
			o.runBatch(gctx, provider, vehicles, indexes, results, &mu)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) runBatch(ctx context.Context, provider schemas.ProviderID, vehicles []schemas.Vehicle, indexes []int, results []Result, mu *sync.Mutex) {
	log := o.logger.With(zap.String("provider", string(provider)))

	var abortErr error
	for _, i := range indexes {
		v := vehicles[i]
		res := Result{Vehicle: v}

		switch {
		case abortErr != nil:
			res.Err = abortErr
		case ctx.Err() != nil:
			res.Err = ctx.Err()
		default:
			res.Record, res.Err = o.runOne(ctx, v, log)
			if schemas.IsServerDown(res.Err) {
				log.Error("portal down, aborting provider batch", zap.Error(res.Err))
				abortErr = res.Err
			}
		}

		mu.Lock()
		results[i] = res
		mu.Unlock()
	}
}

// runOne performs the full lifecycle for one vehicle: pace, build, login,
// locate, persist, dispose. The deferred Close guarantees disposal before
// the next vehicle's browser starts.
func (o *Orchestrator) runOne(ctx context.Context, v schemas.Vehicle, log *zap.Logger) (*schemas.LocationRecord, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s, err := o.factory(ctx, v.Provider, o.cfg, o.logger)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ok, err := s.Login(ctx, v.Credentials.Username, v.Credentials.Password, v.Plate)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn("login failed", zap.String("plate", schemas.NormalizePlate(v.Plate)))
		return nil, schemas.NewScrapeError(schemas.FailureTransient, string(v.Provider)+".login", errLoginFailed)
	}

	rec, err := s.GetVehicleLocation(ctx, v.Plate)
	if err != nil {
		return nil, err
	}
	log.Info("location extracted",
		zap.String("plate", rec.Plate),
		zap.Float64("lat", rec.Latitude),
		zap.Float64("lon", rec.Longitude))

	if o.persist != nil {
		if err := o.persist(ctx, rec); err != nil {
			log.Error("failed to persist location", zap.String("plate", rec.Plate), zap.Error(err))
		}
	}
	return rec, nil
}
