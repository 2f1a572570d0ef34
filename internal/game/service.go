package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"clickstonks/internal/market"
)

// Service owns players: registration, clicking, passive income and upgrades.
// Trading goes through market.Service, which shares the same store.
type Service struct {
	store  market.Store
	market *market.Service
	log    *slog.Logger
}

func NewService(store market.Store, mkt *market.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, market: mkt, log: logger}
}

// Register connects a player. Unknown ids are created with the starting
// values; a nil id gets a fresh one. Known players are marked online.
func (s *Service) Register(ctx context.Context, id market.PlayerID, username string) (market.Player, error) {
	var name *string
	if username != "" {
		clean, err := normalizeUsername(username)
		if err != nil {
			return market.Player{}, err
		}
		name = &clean
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	var out market.Player
	created := false
	err := s.store.Update(ctx, func(tx market.Tx) error {
		created = false
		p, err := tx.Player(id)
		switch {
		case err == nil:
			p.Online = true
			if err := tx.PutPlayer(p); err != nil {
				return err
			}
			out = p
			return nil
		case !errors.Is(err, market.ErrNotFound):
			return err
		}
		p = newPlayer(id, name, s.market.Now())
		if err := tx.InsertPlayer(p); err != nil {
			return err
		}
		created = true
		out = p
		return nil
	})
	if err != nil {
		return market.Player{}, err
	}
	if created {
		s.log.Info("player registered", "player_id", id)
	}
	return out, nil
}

// Disconnect marks a player offline. Unknown players are ignored.
func (s *Service) Disconnect(ctx context.Context, id market.PlayerID) error {
	return s.store.Update(ctx, func(tx market.Tx) error {
		p, err := tx.Player(id)
		if errors.Is(err, market.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		p.Online = false
		return tx.PutPlayer(p)
	})
}

func (s *Service) SetName(ctx context.Context, id market.PlayerID, username string) error {
	clean, err := normalizeUsername(username)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, func(tx market.Tx) error {
		p, err := tx.Player(id)
		if err != nil {
			return err
		}
		p.Username = &clean
		return tx.PutPlayer(p)
	})
}

func (s *Service) Player(ctx context.Context, id market.PlayerID) (market.Player, error) {
	var out market.Player
	err := s.store.View(ctx, func(tx market.Tx) error {
		var err error
		out, err = tx.Player(id)
		return err
	})
	return out, err
}

// Click credits the player's click power once the cooldown since the last
// credited click has elapsed.
func (s *Service) Click(ctx context.Context, id market.PlayerID) (ClickResult, error) {
	var out ClickResult
	err := s.store.Update(ctx, func(tx market.Tx) error {
		p, err := tx.Player(id)
		if err != nil {
			return err
		}
		now := s.market.Now()
		allowed := p.LastClick.Add(p.ClickCooldown)
		if now.Before(allowed) {
			return fmt.Errorf("%w: next click in %s", ErrClickCooldown, allowed.Sub(now))
		}
		money, err := market.AddChecked(p.Money, p.ClickPower)
		if err != nil {
			return err
		}
		if money > maxMoney {
			return fmt.Errorf("%w: balance limit reached", market.ErrOverflow)
		}
		p.Money = money
		p.LastClick = now
		if err := tx.PutPlayer(p); err != nil {
			return err
		}
		out = ClickResult{Money: money, Earned: p.ClickPower, NextClick: now.Add(p.ClickCooldown)}
		return nil
	})
	return out, err
}

// PayPassiveIncome credits every player's passive income once and reports how
// many players were paid.
func (s *Service) PayPassiveIncome(ctx context.Context) (int, error) {
	paid := 0
	err := s.store.Update(ctx, func(tx market.Tx) error {
		paid = 0
		players, err := tx.Players()
		if err != nil {
			return err
		}
		for _, p := range players {
			if p.PassiveIncome == 0 {
				continue
			}
			p.Money = creditMoney(p.Money, p.PassiveIncome)
			if err := tx.PutPlayer(p); err != nil {
				return err
			}
			paid++
		}
		return nil
	})
	return paid, err
}

// BuyUpgrade charges the upgrade cost and applies the bonuses it defines.
func (s *Service) BuyUpgrade(ctx context.Context, id market.PlayerID, upgradeID market.UpgradeID) (market.Player, error) {
	var out market.Player
	err := s.store.Update(ctx, func(tx market.Tx) error {
		p, err := tx.Player(id)
		if err != nil {
			return err
		}
		if slices.Contains(p.Upgrades, upgradeID) {
			return fmt.Errorf("%w: %d", ErrUpgradeOwned, upgradeID)
		}
		u, err := UpgradeByID(upgradeID)
		if err != nil {
			return err
		}
		cost, err := market.Scale(u.Cost)
		if err != nil {
			return fmt.Errorf("upgrade cost: %w", err)
		}
		if p.Money < cost {
			return fmt.Errorf("%w: need %s, have %s", market.ErrInsufficientFunds, market.FormatScaled(cost), market.FormatScaled(p.Money))
		}
		p.Money -= cost

		if u.PassiveIncomeBonus != nil {
			if p.PassiveIncome, err = market.AddChecked(p.PassiveIncome, *u.PassiveIncomeBonus); err != nil {
				return err
			}
		}
		if u.ClickPowerBonus != nil {
			if p.ClickPower, err = market.AddChecked(p.ClickPower, *u.ClickPowerBonus); err != nil {
				return err
			}
		}
		if u.ClickCooldownBonus != nil {
			p.ClickCooldown = max(p.ClickCooldown-*u.ClickCooldownBonus, 0)
		}
		p.Upgrades = append(p.Upgrades, upgradeID)
		if err := tx.PutPlayer(p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return market.Player{}, err
	}
	s.log.Info("upgrade bought", "player_id", id, "upgrade_id", upgradeID)
	return out, nil
}

// Dashboard values a player's holdings at current prices.
func (s *Service) Dashboard(ctx context.Context, id market.PlayerID) (Dashboard, error) {
	var out Dashboard
	err := s.store.View(ctx, func(tx market.Tx) error {
		p, err := tx.Player(id)
		if err != nil {
			return err
		}
		out = Dashboard{Player: p, Positions: []PositionView{}, NetWorth: p.Money}
		ids := make([]market.StockID, 0, len(p.Holdings))
		for stockID := range p.Holdings {
			ids = append(ids, stockID)
		}
		slices.Sort(ids)
		for _, stockID := range ids {
			st, err := tx.Stock(stockID)
			if err != nil {
				return err
			}
			amount := p.Holdings[stockID]
			value, err := market.MulChecked(st.PricePerShare, amount)
			if err != nil {
				return err
			}
			if out.NetWorth, err = market.AddChecked(out.NetWorth, value); err != nil {
				return err
			}
			out.Positions = append(out.Positions, PositionView{
				StockID:       stockID,
				Name:          st.Name,
				Amount:        amount,
				PricePerShare: st.PricePerShare,
				Value:         value,
			})
		}
		return nil
	})
	return out, err
}

// SeedDefaults stores cfg when no market configuration exists yet and lists
// the default stocks when the ledger is empty. It is safe to run on every
// start.
func (s *Service) SeedDefaults(ctx context.Context, cfg market.MarketConfig) error {
	if _, err := s.market.Config(ctx); errors.Is(err, market.ErrNotInitialized) {
		if err := s.market.InitConfig(ctx, cfg); err != nil {
			return fmt.Errorf("init market config: %w", err)
		}
		s.log.Info("market config initialized", "demand_curve", cfg.DemandCurve)
	} else if err != nil {
		return err
	}

	stocks, err := s.market.ListStocks(ctx)
	if err != nil {
		return err
	}
	if len(stocks) > 0 {
		return nil
	}
	for _, st := range DefaultStocks {
		if _, err := s.market.CreateStock(ctx, market.CreateStockInput{
			Name:         st.Name,
			Description:  st.Description,
			InitialPrice: st.InitialPrice,
			TotalShares:  st.TotalShares,
			Volatility:   st.Volatility,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", st.Name, err)
		}
	}
	return nil
}
