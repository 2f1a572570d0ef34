package game

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"clickstonks/internal/market"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestGame(t *testing.T) (*Service, *market.Service, *market.MemoryStore, *fakeClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := market.NewMemoryStore()
	mkt := market.NewService(store, logger,
		market.WithClock(clock.Now),
		market.WithRandomSource(market.NewRandomSource(7)),
	)
	return NewService(store, mkt, logger), mkt, store, clock
}

func mustRegister(t *testing.T, svc *Service) market.PlayerID {
	t.Helper()
	p, err := svc.Register(context.Background(), uuid.Nil, "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return p.ID
}

func setMoney(t *testing.T, store market.Store, id market.PlayerID, money uint64) {
	t.Helper()
	err := store.Update(context.Background(), func(tx market.Tx) error {
		p, err := tx.Player(id)
		if err != nil {
			return err
		}
		p.Money = money
		return tx.PutPlayer(p)
	})
	if err != nil {
		t.Fatalf("set money: %v", err)
	}
}

func TestRegisterCreatesThenReconnects(t *testing.T) {
	svc, _, _, _ := newTestGame(t)
	ctx := context.Background()
	id := uuid.New()

	p, err := svc.Register(ctx, id, "  Ada ")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p.ID != id || p.Username == nil || *p.Username != "Ada" {
		t.Fatalf("unexpected player: %+v", p)
	}
	if p.Money != StartingMoney || p.ClickPower != StartingClickPower || p.ClickCooldown != StartingClickCooldown || !p.Online {
		t.Fatalf("starting values not applied: %+v", p)
	}

	if err := svc.Disconnect(ctx, id); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if p, _ := svc.Player(ctx, id); p.Online {
		t.Fatalf("player still online after disconnect")
	}

	setMoney(t, svc.store, id, 42)
	again, err := svc.Register(ctx, id, "")
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if !again.Online || again.Money != 42 || *again.Username != "Ada" {
		t.Fatalf("reconnect reset player: %+v", again)
	}

	if err := svc.Disconnect(ctx, uuid.New()); err != nil {
		t.Fatalf("disconnect of unknown player: %v", err)
	}
}

func TestSetName(t *testing.T) {
	svc, _, _, _ := newTestGame(t)
	ctx := context.Background()
	id := mustRegister(t, svc)

	if err := svc.SetName(ctx, id, "  Grace  "); err != nil {
		t.Fatalf("set name: %v", err)
	}
	if p, _ := svc.Player(ctx, id); p.Username == nil || *p.Username != "Grace" {
		t.Fatalf("name not stored: %+v", p)
	}
	if err := svc.SetName(ctx, id, "   "); !errors.Is(err, market.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := svc.SetName(ctx, uuid.New(), "Ghost"); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClickHonoursCooldown(t *testing.T) {
	svc, _, _, clock := newTestGame(t)
	ctx := context.Background()
	id := mustRegister(t, svc)

	res, err := svc.Click(ctx, id)
	if err != nil {
		t.Fatalf("first click: %v", err)
	}
	if res.Money != StartingMoney+StartingClickPower || res.Earned != StartingClickPower {
		t.Fatalf("unexpected click result: %+v", res)
	}

	clock.Advance(StartingClickCooldown / 2)
	if _, err := svc.Click(ctx, id); !errors.Is(err, ErrClickCooldown) {
		t.Fatalf("expected cooldown, got %v", err)
	}

	clock.Advance(StartingClickCooldown / 2)
	res, err = svc.Click(ctx, id)
	if err != nil {
		t.Fatalf("click after cooldown: %v", err)
	}
	if res.Money != StartingMoney+2*StartingClickPower {
		t.Fatalf("money=%d", res.Money)
	}

	if _, err := svc.Click(ctx, uuid.New()); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPayPassiveIncome(t *testing.T) {
	svc, _, store, _ := newTestGame(t)
	ctx := context.Background()
	earner := mustRegister(t, svc)
	idle := mustRegister(t, svc)
	if err := store.Update(ctx, func(tx market.Tx) error {
		p, err := tx.Player(earner)
		if err != nil {
			return err
		}
		p.PassiveIncome = 250
		return tx.PutPlayer(p)
	}); err != nil {
		t.Fatalf("set income: %v", err)
	}

	for range 3 {
		paid, err := svc.PayPassiveIncome(ctx)
		if err != nil {
			t.Fatalf("pay: %v", err)
		}
		if paid != 1 {
			t.Fatalf("paid=%d want 1", paid)
		}
	}
	if p, _ := svc.Player(ctx, earner); p.Money != StartingMoney+750 {
		t.Fatalf("earner money=%d", p.Money)
	}
	if p, _ := svc.Player(ctx, idle); p.Money != StartingMoney {
		t.Fatalf("idle money=%d", p.Money)
	}
}

func TestBuyUpgrade(t *testing.T) {
	svc, _, store, _ := newTestGame(t)
	ctx := context.Background()
	id := mustRegister(t, svc)

	if _, err := svc.BuyUpgrade(ctx, id, 1); !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	setMoney(t, store, id, 20_000_000)
	p, err := svc.BuyUpgrade(ctx, id, 1)
	if err != nil {
		t.Fatalf("buy passive: %v", err)
	}
	if p.Money != 20_000_000-1_000_000 || p.PassiveIncome != 100 || p.ClickPower != StartingClickPower {
		t.Fatalf("unexpected player after passive upgrade: %+v", p)
	}
	if _, err := svc.BuyUpgrade(ctx, id, 1); !errors.Is(err, ErrUpgradeOwned) {
		t.Fatalf("expected owned, got %v", err)
	}

	p, err = svc.BuyUpgrade(ctx, id, 4)
	if err != nil {
		t.Fatalf("buy faster clicks: %v", err)
	}
	if p.ClickCooldown != 800*time.Millisecond || p.PassiveIncome != 100 {
		t.Fatalf("unexpected player after cooldown upgrade: %+v", p)
	}
	if len(p.Upgrades) != 2 {
		t.Fatalf("upgrades=%v", p.Upgrades)
	}

	if _, err := svc.BuyUpgrade(ctx, id, 99); !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBuyUpgradeCooldownSaturatesAtZero(t *testing.T) {
	svc, _, store, _ := newTestGame(t)
	ctx := context.Background()
	id := mustRegister(t, svc)
	if err := store.Update(ctx, func(tx market.Tx) error {
		p, err := tx.Player(id)
		if err != nil {
			return err
		}
		p.Money = 10_000_000
		p.ClickCooldown = 50 * time.Millisecond
		return tx.PutPlayer(p)
	}); err != nil {
		t.Fatalf("prepare player: %v", err)
	}

	p, err := svc.BuyUpgrade(ctx, id, 4)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if p.ClickCooldown != 0 {
		t.Fatalf("cooldown=%s want 0", p.ClickCooldown)
	}
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	svc, mkt, _, _ := newTestGame(t)
	ctx := context.Background()

	for range 2 {
		if err := svc.SeedDefaults(ctx, market.DefaultMarketConfig()); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	stocks, err := mkt.ListStocks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stocks) != len(DefaultStocks) {
		t.Fatalf("stocks=%d want %d", len(stocks), len(DefaultStocks))
	}
	if stocks[1].Name != "ByteMiner" || stocks[1].PricePerShare != 5_000 {
		t.Fatalf("unexpected seed row: %+v", stocks[1])
	}
	cfg, err := mkt.Config(ctx)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Sensitivity != 20 || cfg.SlippageFactor != 10 || cfg.MinPrice != 1 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestDashboardValuesHoldings(t *testing.T) {
	svc, mkt, store, _ := newTestGame(t)
	ctx := context.Background()
	if err := svc.SeedDefaults(ctx, market.DefaultMarketConfig()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	id := mustRegister(t, svc)
	setMoney(t, store, id, 1_000_000)

	if _, err := mkt.BuyStock(ctx, id, 2, 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	d, err := svc.Dashboard(ctx, id)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	// 10 shares at 5.000 plus a 1% fee
	if d.Player.Money != 1_000_000-50_500 {
		t.Fatalf("money=%d", d.Player.Money)
	}
	if len(d.Positions) != 1 || d.Positions[0].Value != 50_000 || d.Positions[0].Name != "ByteMiner" {
		t.Fatalf("unexpected positions: %+v", d.Positions)
	}
	if d.NetWorth != d.Player.Money+50_000 {
		t.Fatalf("net worth=%d", d.NetWorth)
	}
}
