package game

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"clickstonks/internal/market"
)

// Starting values for a newly registered player. Money amounts are scaled by
// market.ScaleFactor.
const (
	StartingMoney         = uint64(10_000)
	StartingPassiveIncome = uint64(0)
	StartingClickPower    = uint64(1_000)
	StartingClickCooldown = time.Second
	StartingBuyFeeRate    = uint64(10) // 1%
	StartingSellFeeRate   = uint64(10)

	maxUsernameLen = 24

	// maxMoney keeps balances storable in a BIGINT column.
	maxMoney = uint64(math.MaxInt64)
)

var (
	ErrClickCooldown = errors.New("clicking too fast, wait for the timer")
	ErrUpgradeOwned  = errors.New("upgrade already owned")
)

var blockedNameFragments = []string{
	"admin",
	"support",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

func normalizeUsername(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", fmt.Errorf("%w: username cannot be empty", market.ErrInvalidArgument)
	}
	if len([]rune(clean)) > maxUsernameLen {
		return "", fmt.Errorf("%w: username too long (max %d chars)", market.ErrInvalidArgument, maxUsernameLen)
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return "", fmt.Errorf("%w: username contains blocked content", market.ErrInvalidArgument)
		}
	}
	return clean, nil
}

func newPlayer(id market.PlayerID, username *string, now time.Time) market.Player {
	return market.Player{
		ID:            id,
		Username:      username,
		Money:         StartingMoney,
		PassiveIncome: StartingPassiveIncome,
		ClickPower:    StartingClickPower,
		ClickCooldown: StartingClickCooldown,
		// A fresh player may click immediately.
		LastClick:   now.Add(-StartingClickCooldown),
		Online:      true,
		BuyFeeRate:  StartingBuyFeeRate,
		SellFeeRate: StartingSellFeeRate,
		Holdings:    make(map[market.StockID]uint64),
	}
}

// creditMoney adds amount to a balance, capping at maxMoney.
func creditMoney(balance, amount uint64) uint64 {
	sum, err := market.AddChecked(balance, amount)
	if err != nil || sum > maxMoney {
		return maxMoney
	}
	return sum
}
