package game

import (
	"fmt"
	"slices"
	"time"

	"clickstonks/internal/market"
)

func ptr[T any](v T) *T { return &v }

var catalog = []Upgrade{
	{
		ID:                 1,
		Identifier:         "passive_income_lv1",
		Title:              "Passive Income I",
		Description:        "Gain +0.1 passive income/sec.",
		Level:              1,
		Cost:               1_000,
		PassiveIncomeBonus: ptr(uint64(100)),
	},
	{
		ID:                 2,
		Identifier:         "passive_income_lv2",
		Title:              "Passive Income II",
		Description:        "Gain +0.5 passive income/sec.",
		Level:              2,
		Cost:               5_000,
		PassiveIncomeBonus: ptr(uint64(500)),
	},
	{
		ID:              3,
		Identifier:      "click_power_lv1",
		Title:           "Click Power I",
		Description:     "Increase click power by 1.",
		Level:           1,
		Cost:            2_000,
		ClickPowerBonus: ptr(uint64(1_000)),
	},
	{
		ID:                 4,
		Identifier:         "faster_clicks",
		Title:              "Faster Clicks",
		Description:        "Reduce click timer by 200ms.",
		Level:              1,
		Cost:               3_000,
		ClickCooldownBonus: ptr(200 * time.Millisecond),
	},
}

// Upgrades lists the catalog in id order.
func Upgrades() []Upgrade {
	return slices.Clone(catalog)
}

func UpgradeByID(id market.UpgradeID) (Upgrade, error) {
	for _, u := range catalog {
		if u.ID == id {
			return u, nil
		}
	}
	return Upgrade{}, fmt.Errorf("%w: upgrade %d", market.ErrNotFound, id)
}

// DefaultStocks is the listing seeded into an empty market.
var DefaultStocks = []SeedStock{
	{Name: "Banana Corp", Description: "Leading exporter of potassium-based optimism.", InitialPrice: 1, TotalShares: 1_000_000, Volatility: 3},
	{Name: "ByteMiner", Description: "Blockchain infrastructure for frogs.", InitialPrice: 5, TotalShares: 500_000, Volatility: 5},
	{Name: "SkyRockets", Description: "Aerospace dreams, Earthly debt.", InitialPrice: 10, TotalShares: 1_000_000_000, Volatility: 8},
	{Name: "SleepyCoffee", Description: "The only coffee that makes you nap faster.", InitialPrice: 2, TotalShares: 100_000, Volatility: 2},
}
