package market

import (
	"context"
	"math"
	"math/big"
)

const (
	momentumLimit   = int64(100)
	momentumDivisor = int64(10)
	demandCap       = int64(100)
)

type PriceChange struct {
	StockID       StockID `json:"stock_id"`
	OldPrice      uint64  `json:"old_price"`
	NewPrice      uint64  `json:"new_price"`
	ChangePercent int64   `json:"change_percent"`
	Momentum      int64   `json:"momentum"`
	Event         Event   `json:"event"`
}

// UpdatePrices reprices every stock from its demand counters, momentum,
// volatility and event state. The configuration is validated before any stock
// is touched, and all stocks are written in one store transaction.
func (s *Service) UpdatePrices(ctx context.Context) ([]PriceChange, error) {
	var changes []PriceChange
	err := s.store.Update(ctx, func(tx Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		stocks, err := tx.Stocks()
		if err != nil {
			return err
		}
		changes = make([]PriceChange, 0, len(stocks))
		for _, st := range stocks {
			change := reprice(&st, cfg, s.rand)
			if err := tx.PutStock(st); err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

// reprice advances one stock by a tick. Random draws happen in a fixed order:
// noise (when volatility > 0), event transition roll, then the hype/scandal
// pick when an event starts.
func reprice(st *Stock, cfg MarketConfig, r RandomSource) PriceChange {
	noise := symmetricNoise(r, st.Volatility)
	net := satSub(toSigned(st.RecentBuys), toSigned(st.RecentSells))

	var demand int64
	if cfg.DemandCurve == DemandDivisor {
		demand = net / cfg.DemandImpactDivisor
	}

	change := satAdd(satAdd(noise, st.Momentum/momentumDivisor), satAdd(demand, eventBias(st.Event, cfg)))

	price := new(big.Int).SetUint64(st.PricePerShare)
	delta := new(big.Int).Mul(price, big.NewInt(change))
	delta.Quo(delta, big.NewInt(100))
	if cfg.DemandCurve == DemandSensitivity {
		delta.Add(delta, tradeDelta(price, clampInt64(net, -demandCap, demandCap), cfg))
	}
	next := clampPrice(new(big.Int).Add(price, delta))
	if cfg.EnforceMinPrice && next < cfg.MinPrice {
		next = cfg.MinPrice
	}

	out := PriceChange{
		StockID:       st.ID,
		OldPrice:      st.PricePerShare,
		NewPrice:      next,
		ChangePercent: change,
	}

	st.LastPrice = st.PricePerShare
	st.PricePerShare = next
	decayed := satMul(st.Momentum, cfg.PersistenceFactor) / cfg.PersistenceDivisor
	st.Momentum = clampInt64(satAdd(decayed, change), -momentumLimit, momentumLimit)
	st.RecentBuys = 0
	st.RecentSells = 0
	st.Event = nextEvent(st.Event, cfg, r)

	out.Momentum = st.Momentum
	out.Event = st.Event
	return out
}

// tradeDelta is the demand impact in price units for the sensitivity curve:
// price * demand * sensitivity / scale², reduced by the slippage share.
func tradeDelta(price *big.Int, demand int64, cfg MarketConfig) *big.Int {
	scale := new(big.Int).SetUint64(ScaleFactor)
	d := new(big.Int).Mul(price, big.NewInt(demand))
	d.Mul(d, new(big.Int).SetUint64(cfg.Sensitivity))
	d.Quo(d, new(big.Int).Mul(scale, scale))
	d.Mul(d, new(big.Int).SetUint64(ScaleFactor-cfg.SlippageFactor))
	return d.Quo(d, scale)
}

func eventBias(ev Event, cfg MarketConfig) int64 {
	switch ev {
	case EventHype:
		return cfg.HypeBonus
	case EventScandal:
		return -cfg.ScandalPenalty
	default:
		return 0
	}
}

func nextEvent(ev Event, cfg MarketConfig, r RandomSource) Event {
	switch ev {
	case EventHype, EventScandal:
		if chancePerMille(r, cfg.EventEndPerMille) {
			return EventNone
		}
		return ev
	default:
		if !chancePerMille(r, cfg.EventStartPerMille) {
			return EventNone
		}
		if r.Int63n(2) == 0 {
			return EventHype
		}
		return EventScandal
	}
}

func clampPrice(v *big.Int) uint64 {
	if v.Sign() <= 0 {
		return 1
	}
	if !v.IsUint64() || v.Uint64() > MaxPrice {
		return MaxPrice
	}
	return v.Uint64()
}

func satAdd(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

func satSub(a, b int64) int64 {
	if b == math.MinInt64 {
		return satAdd(satAdd(a, math.MaxInt64), 1)
	}
	return satAdd(a, -b)
}

func satMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	p := a * b
	if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		if (a < 0) == (b < 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return p
}
