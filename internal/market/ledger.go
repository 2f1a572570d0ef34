package market

import (
	"context"
	"fmt"
	"strings"
)

type CreateStockInput struct {
	Name         string
	Description  string
	InitialPrice uint64 // whole display units
	TotalShares  uint64
	Volatility   uint64
}

// CreateStock inserts a new instrument with its whole supply available.
func (s *Service) CreateStock(ctx context.Context, in CreateStockInput) (StockID, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if in.Name == "" {
		return 0, fmt.Errorf("%w: stock name is required", ErrInvalidArgument)
	}
	if in.TotalShares == 0 {
		return 0, fmt.Errorf("%w: total shares cannot be zero", ErrInvalidArgument)
	}
	price, err := Scale(in.InitialPrice)
	if err != nil {
		return 0, fmt.Errorf("initial price: %w", err)
	}
	if price > MaxPrice {
		return 0, fmt.Errorf("%w: initial price %d too large", ErrOverflow, in.InitialPrice)
	}

	var id StockID
	err = s.store.Update(ctx, func(tx Tx) error {
		var err error
		id, err = tx.InsertStock(Stock{
			Name:            in.Name,
			Description:     in.Description,
			PricePerShare:   price,
			LastPrice:       price,
			TotalShares:     in.TotalShares,
			AvailableShares: in.TotalShares,
			Volatility:      in.Volatility,
			Event:           EventNone,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("stock created", "stock_id", id, "name", in.Name, "price", FormatScaled(price), "total_shares", in.TotalShares)
	return id, nil
}

func (s *Service) GetStock(ctx context.Context, id StockID) (Stock, error) {
	var out Stock
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Stock(id)
		return err
	})
	return out, err
}

func (s *Service) ListStocks(ctx context.Context) ([]Stock, error) {
	var out []Stock
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.Stocks()
		return err
	})
	return out, err
}

// adjustInventory moves shares between the float and player holdings and
// records the traded volume. Only settlement calls it.
func adjustInventory(st *Stock, typ TxType, amount uint64) error {
	switch typ {
	case Buy:
		if st.AvailableShares < amount {
			return fmt.Errorf("%w: %d available, %d requested", ErrInsufficientShares, st.AvailableShares, amount)
		}
		buys, err := AddChecked(st.RecentBuys, amount)
		if err != nil {
			return err
		}
		st.AvailableShares -= amount
		st.RecentBuys = buys
	case Sell:
		available, err := AddChecked(st.AvailableShares, amount)
		if err != nil {
			return err
		}
		if available > st.TotalShares {
			return fmt.Errorf("%w: returning %d shares exceeds supply of stock %d", ErrInvalidArgument, amount, st.ID)
		}
		sells, err := AddChecked(st.RecentSells, amount)
		if err != nil {
			return err
		}
		st.AvailableShares = available
		st.RecentSells = sells
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidArgument, typ)
	}
	return nil
}
