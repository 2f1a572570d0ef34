package market

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
)

// seqRand replays fixed draws. Int63n fails the test if a draw is out of range
// or the sequence is exhausted.
type seqRand struct {
	t     testing.TB
	draws []int64
}

func (r *seqRand) Int63n(n int64) int64 {
	r.t.Helper()
	if len(r.draws) == 0 {
		r.t.Fatalf("unexpected random draw (n=%d)", n)
	}
	v := r.draws[0]
	r.draws = r.draws[1:]
	if v < 0 || v >= n {
		r.t.Fatalf("draw %d outside [0,%d)", v, n)
	}
	return v
}

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t testing.TB, draws ...int64) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, quietLogger(),
		WithRandomSource(&seqRand{t: t, draws: draws}),
		WithClock(func() time.Time { return testEpoch }),
	)
	return svc, store
}

// quietConfig is a deterministic configuration: no event transitions.
func quietConfig() MarketConfig {
	cfg := DefaultMarketConfig()
	cfg.EventStartPerMille = 0
	cfg.EventEndPerMille = 0
	cfg.MinPrice = 1
	return cfg
}

func mustInitConfig(t testing.TB, svc *Service, cfg MarketConfig) {
	t.Helper()
	if err := svc.InitConfig(context.Background(), cfg); err != nil {
		t.Fatalf("init config: %v", err)
	}
}

func mustCreateStock(t testing.TB, svc *Service, price, shares, volatility uint64) StockID {
	t.Helper()
	id, err := svc.CreateStock(context.Background(), CreateStockInput{
		Name:         "Banana Corp",
		Description:  "Potassium-based optimism.",
		InitialPrice: price,
		TotalShares:  shares,
		Volatility:   volatility,
	})
	if err != nil {
		t.Fatalf("create stock: %v", err)
	}
	return id
}

func mustAddPlayer(t testing.TB, store Store, money, buyFee, sellFee uint64) PlayerID {
	t.Helper()
	id := uuid.New()
	err := store.Update(context.Background(), func(tx Tx) error {
		return tx.InsertPlayer(Player{
			ID:          id,
			Money:       money,
			BuyFeeRate:  buyFee,
			SellFeeRate: sellFee,
			Holdings:    map[StockID]uint64{},
		})
	})
	if err != nil {
		t.Fatalf("insert player: %v", err)
	}
	return id
}

// mustGrantShares moves shares from the float into a player's holding so the
// conservation invariant keeps holding.
func mustGrantShares(t testing.TB, store Store, player PlayerID, stockID StockID, amount uint64) {
	t.Helper()
	err := store.Update(context.Background(), func(tx Tx) error {
		st, err := tx.Stock(stockID)
		if err != nil {
			return err
		}
		p, err := tx.Player(player)
		if err != nil {
			return err
		}
		st.AvailableShares -= amount
		p.Holdings[stockID] += amount
		if err := tx.PutStock(st); err != nil {
			return err
		}
		return tx.PutPlayer(p)
	})
	if err != nil {
		t.Fatalf("grant shares: %v", err)
	}
}

func mustSetStock(t testing.TB, store Store, id StockID, mutate func(*Stock)) {
	t.Helper()
	err := store.Update(context.Background(), func(tx Tx) error {
		st, err := tx.Stock(id)
		if err != nil {
			return err
		}
		mutate(&st)
		return tx.PutStock(st)
	})
	if err != nil {
		t.Fatalf("set stock: %v", err)
	}
}

func mustStock(t testing.TB, svc *Service, id StockID) Stock {
	t.Helper()
	st, err := svc.GetStock(context.Background(), id)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return st
}

func mustPlayer(t testing.TB, store Store, id PlayerID) Player {
	t.Helper()
	var p Player
	err := store.View(context.Background(), func(tx Tx) error {
		var err error
		p, err = tx.Player(id)
		return err
	})
	if err != nil {
		t.Fatalf("get player: %v", err)
	}
	return p
}

func heldTotal(t testing.TB, store Store, id StockID) uint64 {
	t.Helper()
	var sum uint64
	err := store.View(context.Background(), func(tx Tx) error {
		players, err := tx.Players()
		if err != nil {
			return err
		}
		for _, p := range players {
			sum += p.Holdings[id]
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sum holdings: %v", err)
	}
	return sum
}
