package market

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	StockID       uint64
	TransactionID uint64
	UpgradeID     uint16
	PlayerID      = uuid.UUID
)

type Event string

const (
	EventNone    Event = "none"
	EventHype    Event = "hype"
	EventScandal Event = "scandal"
)

type TxType string

const (
	Buy  TxType = "buy"
	Sell TxType = "sell"
)

func ParseTxType(s string) (TxType, error) {
	switch t := TxType(strings.ToLower(strings.TrimSpace(s))); t {
	case Buy, Sell:
		return t, nil
	default:
		return "", fmt.Errorf("%w: transaction type must be buy or sell", ErrInvalidArgument)
	}
}

type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusConfirmed TxStatus = "confirmed"
	StatusRejected  TxStatus = "rejected"
)

func ParseTxStatus(s string) (TxStatus, error) {
	switch st := TxStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown transaction status %q", ErrInvalidArgument, s)
	}
}

// Stock is one tradable instrument. Prices are scaled by ScaleFactor.
type Stock struct {
	ID              StockID `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	PricePerShare   uint64  `json:"price_per_share"`
	TotalShares     uint64  `json:"total_shares"`
	AvailableShares uint64  `json:"available_shares"`
	LastPrice       uint64  `json:"last_price"`
	Momentum        int64   `json:"momentum"`
	Volatility      uint64  `json:"volatility"`
	RecentBuys      uint64  `json:"recent_buys"`
	RecentSells     uint64  `json:"recent_sells"`
	Event           Event   `json:"event"`
}

// Transaction is a queued intent to trade, resolved on the next settlement pass.
type Transaction struct {
	ID        TransactionID `json:"id"`
	Sender    PlayerID      `json:"sender"`
	StockID   StockID       `json:"stock_id"`
	Amount    uint64        `json:"amount"`
	Type      TxType        `json:"type"`
	Status    TxStatus      `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	SettledAt *time.Time    `json:"settled_at,omitempty"`
}

// Player is owned by the game layer; settlement only touches Money and Holdings.
type Player struct {
	ID            PlayerID           `json:"id"`
	Username      *string            `json:"username,omitempty"`
	Money         uint64             `json:"money"`
	PassiveIncome uint64             `json:"passive_income"`
	ClickPower    uint64             `json:"click_power"`
	ClickCooldown time.Duration      `json:"click_cooldown"`
	LastClick     time.Time          `json:"last_click"`
	Online        bool               `json:"online"`
	BuyFeeRate    uint64             `json:"buy_fee_rate"`
	SellFeeRate   uint64             `json:"sell_fee_rate"`
	Upgrades      []UpgradeID        `json:"upgrades"`
	Holdings      map[StockID]uint64 `json:"holdings"`
}

// Clone returns a copy that shares no mutable state with p.
func (p Player) Clone() Player {
	out := p
	if p.Username != nil {
		name := *p.Username
		out.Username = &name
	}
	out.Upgrades = slices.Clone(p.Upgrades)
	out.Holdings = maps.Clone(p.Holdings)
	if out.Holdings == nil {
		out.Holdings = make(map[StockID]uint64)
	}
	return out
}

type DemandCurve string

const (
	// DemandDivisor divides net demand by DemandImpactDivisor to get a percent.
	DemandDivisor DemandCurve = "divisor"
	// DemandSensitivity clamps net demand to ±100 and scales it by
	// Sensitivity and (1 - SlippageFactor).
	DemandSensitivity DemandCurve = "sensitivity"
)

// MarketConfig holds the process-wide tuning constants for price updates.
type MarketConfig struct {
	Sensitivity         uint64      `json:"sensitivity" yaml:"sensitivity"`
	SlippageFactor      uint64      `json:"slippage_factor" yaml:"slippage_factor"`
	MinPrice            uint64      `json:"min_price" yaml:"min_price"`
	EnforceMinPrice     bool        `json:"enforce_min_price" yaml:"enforce_min_price"`
	DemandCurve         DemandCurve `json:"demand_curve" yaml:"demand_curve"`
	DemandImpactDivisor int64       `json:"demand_impact_divisor" yaml:"demand_impact_divisor"`
	HypeBonus           int64       `json:"hype_bonus" yaml:"hype_bonus"`
	ScandalPenalty      int64       `json:"scandal_penalty" yaml:"scandal_penalty"`
	PersistenceFactor   int64       `json:"persistence_factor" yaml:"persistence_factor"`
	PersistenceDivisor  int64       `json:"persistence_divisor" yaml:"persistence_divisor"`
	EventStartPerMille  int64       `json:"event_start_per_mille" yaml:"event_start_per_mille"`
	EventEndPerMille    int64       `json:"event_end_per_mille" yaml:"event_end_per_mille"`
}

// DefaultMarketConfig mirrors the values the game seeds on first start.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		Sensitivity:         20,
		SlippageFactor:      10,
		MinPrice:            1,
		EnforceMinPrice:     true,
		DemandCurve:         DemandDivisor,
		DemandImpactDivisor: 100,
		HypeBonus:           2,
		ScandalPenalty:      3,
		PersistenceFactor:   8,
		PersistenceDivisor:  10,
		EventStartPerMille:  20,
		EventEndPerMille:    200,
	}
}

func (c MarketConfig) Validate() error {
	switch c.DemandCurve {
	case DemandDivisor:
		if c.DemandImpactDivisor <= 0 {
			return fmt.Errorf("%w: demand impact divisor must be > 0", ErrInvalidArgument)
		}
	case DemandSensitivity:
		if c.SlippageFactor > ScaleFactor {
			return fmt.Errorf("%w: slippage factor must be <= %d", ErrInvalidArgument, ScaleFactor)
		}
	default:
		return fmt.Errorf("%w: unknown demand curve %q", ErrInvalidArgument, c.DemandCurve)
	}
	if c.PersistenceDivisor <= 0 {
		return fmt.Errorf("%w: persistence divisor must be > 0", ErrInvalidArgument)
	}
	if c.HypeBonus < 0 || c.ScandalPenalty < 0 {
		return fmt.Errorf("%w: event bias must be >= 0", ErrInvalidArgument)
	}
	if c.EventStartPerMille < 0 || c.EventStartPerMille > 1000 || c.EventEndPerMille < 0 || c.EventEndPerMille > 1000 {
		return fmt.Errorf("%w: event chances must be within 0..1000", ErrInvalidArgument)
	}
	return nil
}
