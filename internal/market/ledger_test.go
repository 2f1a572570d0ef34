package market

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestCreateStockScalesPrice(t *testing.T) {
	svc, _ := newTestService(t)
	id := mustCreateStock(t, svc, 10, 1000, 0)

	st := mustStock(t, svc, id)
	if st.PricePerShare != 10_000 || st.LastPrice != 10_000 {
		t.Fatalf("price=%d last=%d want 10000", st.PricePerShare, st.LastPrice)
	}
	if st.AvailableShares != 1000 || st.TotalShares != 1000 {
		t.Fatalf("available=%d total=%d", st.AvailableShares, st.TotalShares)
	}
	if st.Momentum != 0 || st.RecentBuys != 0 || st.RecentSells != 0 || st.Event != EventNone {
		t.Fatalf("unexpected initial state: %+v", st)
	}
}

func TestCreateStockValidation(t *testing.T) {
	tests := []struct {
		name string
		in   CreateStockInput
		want error
	}{
		{name: "zero shares", in: CreateStockInput{Name: "Zero", InitialPrice: 1}, want: ErrInvalidArgument},
		{name: "empty name", in: CreateStockInput{Name: "  ", InitialPrice: 1, TotalShares: 1}, want: ErrInvalidArgument},
		{name: "price overflow", in: CreateStockInput{Name: "Big", InitialPrice: math.MaxUint64, TotalShares: 1}, want: ErrOverflow},
		{name: "price above storable", in: CreateStockInput{Name: "Big", InitialPrice: math.MaxInt64/1000 + 1, TotalShares: 1}, want: ErrOverflow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			if _, err := svc.CreateStock(context.Background(), tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			stocks, err := svc.ListStocks(context.Background())
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(stocks) != 0 {
				t.Fatalf("expected no rows, got %d", len(stocks))
			}
		})
	}
}

func TestCreateStockAssignsDistinctIDs(t *testing.T) {
	svc, _ := newTestService(t)
	a := mustCreateStock(t, svc, 1, 10, 0)
	b := mustCreateStock(t, svc, 2, 10, 0)
	if a == b {
		t.Fatalf("ids collide: %d", a)
	}
	stocks, err := svc.ListStocks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stocks) != 2 || stocks[0].ID != a || stocks[1].ID != b {
		t.Fatalf("unexpected listing: %+v", stocks)
	}
}

func TestAdjustInventoryBounds(t *testing.T) {
	st := Stock{ID: 1, TotalShares: 10, AvailableShares: 4}
	if err := adjustInventory(&st, Buy, 5); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("expected insufficient shares, got %v", err)
	}
	if err := adjustInventory(&st, Sell, 7); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected supply bound error, got %v", err)
	}
	if st.AvailableShares != 4 || st.RecentBuys != 0 || st.RecentSells != 0 {
		t.Fatalf("failed adjustments mutated stock: %+v", st)
	}
	if err := adjustInventory(&st, Buy, 4); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if st.AvailableShares != 0 || st.RecentBuys != 4 {
		t.Fatalf("after buy: %+v", st)
	}
}
