package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOnTickSettlesBeforeRepricing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	mustInitConfig(t, svc, quietConfig())
	id := mustCreateStock(t, svc, 10, 1000, 0)
	player := mustAddPlayer(t, store, 5_000_000, 0, 0)

	order, err := svc.CreateTransaction(ctx, player, id, 200, Buy)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.OnTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	tr, err := svc.GetTransaction(ctx, order)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if tr.Status != StatusConfirmed {
		t.Fatalf("order not settled: %+v", tr)
	}
	st := mustStock(t, svc, id)
	// the 200 settled buys drive +2%
	if st.PricePerShare != 10_200 || st.LastPrice != 10_000 {
		t.Fatalf("price=%d last=%d want 10200/10000", st.PricePerShare, st.LastPrice)
	}
	if st.RecentBuys != 0 || st.AvailableShares != 800 {
		t.Fatalf("unexpected stock: %+v", st)
	}
}

func TestOnTickWithoutConfigStillSettles(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := mustCreateStock(t, svc, 10, 1000, 0)
	player := mustAddPlayer(t, store, 100_000, 0, 0)
	order, _ := svc.CreateTransaction(ctx, player, id, 5, Buy)

	err := svc.OnTick(ctx)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if tr, _ := svc.GetTransaction(ctx, order); tr.Status != StatusConfirmed {
		t.Fatalf("settlement skipped: %+v", tr)
	}
	if st := mustStock(t, svc, id); st.RecentBuys != 5 || st.PricePerShare != 10_000 {
		t.Fatalf("unexpected stock: %+v", st)
	}
}

func TestOnTickIgnoresCancellation(t *testing.T) {
	svc, store := newTestService(t)
	mustInitConfig(t, svc, quietConfig())
	id := mustCreateStock(t, svc, 10, 1000, 0)
	mustSetStock(t, store, id, func(st *Stock) { st.RecentBuys = 100 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.OnTick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if st := mustStock(t, svc, id); st.PricePerShare != 10_100 {
		t.Fatalf("price=%d want 10100", st.PricePerShare)
	}
}

// gateStore parks the first View until released, holding a tick mid-flight.
type gateStore struct {
	Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateStore) View(ctx context.Context, fn func(tx Tx) error) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Store.View(ctx, fn)
}

func TestOnTickRejectsOverlap(t *testing.T) {
	gate := &gateStore{
		Store:   NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc := NewService(gate, quietLogger(), WithRandomSource(&seqRand{t: t}))
	mustInitConfig(t, svc, quietConfig())

	done := make(chan error, 1)
	go func() { done <- svc.OnTick(context.Background()) }()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never started")
	}
	if err := svc.OnTick(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("expected tick in progress, got %v", err)
	}
	close(gate.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first tick: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first tick never finished")
	}
	if err := svc.OnTick(context.Background()); err != nil {
		t.Fatalf("tick after release: %v", err)
	}
}
