package game

import (
	"context"
	"errors"
	"time"

	"clickstonks/internal/market"
	"clickstonks/internal/scheduler"
)

// Jobs returns the periodic work of a running game: the market tick and the
// passive income payout.
func (s *Service) Jobs(marketEvery, playerEvery time.Duration) []scheduler.Job {
	return []scheduler.Job{
		{
			Name:  "market-tick",
			Every: marketEvery,
			Run: func(ctx context.Context) error {
				err := s.market.OnTick(ctx)
				if errors.Is(err, market.ErrTickInProgress) {
					s.log.Debug("market tick skipped, previous tick still running")
					return nil
				}
				return err
			},
		},
		{
			Name:  "passive-income",
			Every: playerEvery,
			Run: func(ctx context.Context) error {
				paid, err := s.PayPassiveIncome(ctx)
				if err != nil {
					return err
				}
				if paid > 0 {
					s.log.Debug("passive income paid", "players", paid)
				}
				return nil
			},
		},
	}
}
