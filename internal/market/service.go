package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Service is the market core: stock ledger, order queue, settlement and the
// per-tick price update. It owns no goroutines; a scheduler drives OnTick.
type Service struct {
	store Store
	log   *slog.Logger
	rand  RandomSource
	now   func() time.Time

	tickMu sync.Mutex
}

type Option func(*Service)

func WithRandomSource(r RandomSource) Option {
	return func(s *Service) { s.rand = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store: store,
		log:   logger,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rand == nil {
		s.rand = NewRandomSource(0)
	}
	return s
}

// Now reports the clock the core stamps transactions with. Schedulers use it
// to compute the next deadline.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// InitConfig stores the market configuration. It is meant to run once during
// start-up; later calls replace the row.
func (s *Service) InitConfig(ctx context.Context, cfg MarketConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.store.Update(ctx, func(tx Tx) error {
		return tx.PutConfig(cfg)
	})
}

func (s *Service) Config(ctx context.Context) (MarketConfig, error) {
	var cfg MarketConfig
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		cfg, err = tx.Config()
		return err
	})
	return cfg, err
}

// OnTick runs one market cycle: every pending order is settled, then every
// stock is repriced from the demand the settlement produced. It does not
// observe cancellation of ctx once started. Overlapping calls return
// ErrTickInProgress without doing any work.
func (s *Service) OnTick(ctx context.Context) error {
	if !s.tickMu.TryLock() {
		return ErrTickInProgress
	}
	defer s.tickMu.Unlock()

	ctx = context.WithoutCancel(ctx)
	started := s.Now()

	report, err := s.SettleAllPending(ctx)
	if err != nil {
		return fmt.Errorf("settle pending: %w", err)
	}
	changes, err := s.UpdatePrices(ctx)
	if err != nil {
		return fmt.Errorf("update prices: %w", err)
	}
	s.log.Info("market tick complete",
		"confirmed", report.Confirmed,
		"rejected", report.Rejected,
		"stocks", len(changes),
		"elapsed", s.Now().Sub(started).String(),
	)
	return nil
}
