package game

import (
	"time"

	"clickstonks/internal/market"
)

// Upgrade is a one-time purchase. A nil bonus means the upgrade does not
// touch that attribute; a zero bonus is still applied.
type Upgrade struct {
	ID                 market.UpgradeID `json:"id"`
	Identifier         string           `json:"identifier"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	Level              uint8            `json:"level"`
	Cost               uint64           `json:"cost"` // whole display units
	PassiveIncomeBonus *uint64          `json:"passive_income_bonus,omitempty"`
	ClickPowerBonus    *uint64          `json:"click_power_bonus,omitempty"`
	ClickCooldownBonus *time.Duration   `json:"click_cooldown_bonus,omitempty"`
}

type Dashboard struct {
	Player    market.Player  `json:"player"`
	Positions []PositionView `json:"positions"`
	NetWorth  uint64         `json:"net_worth"`
}

type PositionView struct {
	StockID       market.StockID `json:"stock_id"`
	Name          string         `json:"name"`
	Amount        uint64         `json:"amount"`
	PricePerShare uint64         `json:"price_per_share"`
	Value         uint64         `json:"value"`
}

type ClickResult struct {
	Money     uint64    `json:"money"`
	Earned    uint64    `json:"earned"`
	NextClick time.Time `json:"next_click"`
}

type SeedStock struct {
	Name         string
	Description  string
	InitialPrice uint64
	TotalShares  uint64
	Volatility   uint64
}
