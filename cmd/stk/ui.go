package main

import (
	"bufio"
	"fmt"
	"os"
	"slices"
	"strings"

	cl "clickstonks/internal/cli"
	"clickstonks/internal/game"
	"clickstonks/internal/market"

	"github.com/fatih/color"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func renderDashboard(d game.Dashboard) {
	p := d.Player
	name := "(unnamed)"
	if p.Username != nil {
		name = *p.Username
	}
	accent.Printf("\n== %s ==\n", name)
	fmt.Printf("Balance:        %s\n", cl.FormatMoney(p.Money))
	fmt.Printf("Net worth:      %s\n", cl.FormatMoney(d.NetWorth))
	fmt.Printf("Click power:    %s\n", cl.FormatMoney(p.ClickPower))
	fmt.Printf("Click cooldown: %s\n", p.ClickCooldown)
	fmt.Printf("Passive/tick:   %s\n", cl.FormatMoney(p.PassiveIncome))
	fmt.Printf("Fees:           buy %s  sell %s\n", cl.FormatRate(p.BuyFeeRate), cl.FormatRate(p.SellFeeRate))

	if len(d.Positions) == 0 {
		fmt.Println()
		printInfo("No holdings.")
		return
	}
	fmt.Println()
	accent.Println("Holdings")
	fmt.Printf("%-4s %-20s %10s %12s %14s\n", "ID", "NAME", "SHARES", "PRICE", "VALUE")
	for _, pos := range d.Positions {
		fmt.Printf("%-4d %-20s %10d %12s %14s\n",
			pos.StockID,
			truncate(pos.Name, 20),
			pos.Amount,
			cl.FormatMoney(pos.PricePerShare),
			cl.FormatMoney(pos.Value),
		)
	}
	fmt.Println()
}

func renderStocksList(stocks []market.Stock) {
	accent.Println("\n== STOCK MARKET ==")
	if len(stocks) == 0 {
		printInfo("No stocks listed.")
		return
	}
	fmt.Printf("%-4s %-20s %12s %10s %12s %-8s\n", "ID", "NAME", "PRICE", "CHANGE", "AVAILABLE", "EVENT")
	for _, s := range stocks {
		fmt.Printf("%-4d %-20s %12s %10s %12d %-8s\n",
			s.ID,
			truncate(s.Name, 20),
			cl.FormatMoney(s.PricePerShare),
			colorizeChange(s.LastPrice, s.PricePerShare),
			s.AvailableShares,
			renderEvent(s.Event),
		)
	}
	fmt.Println()
}

func renderStockDetail(s market.Stock) {
	accent.Printf("\n== #%d %s ==\n", s.ID, s.Name)
	if s.Description != "" {
		fmt.Println(s.Description)
	}
	fmt.Printf("Price:      %s (%s)\n", cl.FormatMoney(s.PricePerShare), colorizeChange(s.LastPrice, s.PricePerShare))
	fmt.Printf("Shares:     %d available of %d\n", s.AvailableShares, s.TotalShares)
	fmt.Printf("Momentum:   %d\n", s.Momentum)
	fmt.Printf("Volatility: %d\n", s.Volatility)
	fmt.Printf("This tick:  %d bought, %d sold\n", s.RecentBuys, s.RecentSells)
	fmt.Printf("Event:      %s\n", renderEvent(s.Event))
	fmt.Println()
}

func renderOrderResult(out market.OrderResult, typ market.TxType, id market.StockID, amount uint64) {
	accent.Printf("\n== ORDER #%d %s ==\n", out.TransactionID, strings.ToUpper(string(typ)))
	fmt.Printf("Stock:   #%d\n", id)
	fmt.Printf("Shares:  %d\n", amount)
	fmt.Printf("Price:   %s\n", cl.FormatMoney(out.PricePerShare))
	fmt.Printf("Total:   %s\n", cl.FormatMoney(out.Total))
	fmt.Printf("Fee:     %s\n", cl.FormatMoney(out.Fee))
	fmt.Printf("Balance: %s\n", cl.FormatMoney(out.Balance))
	fmt.Println()
}

func renderOrders(txs []market.Transaction) {
	accent.Println("\n== ORDERS ==")
	if len(txs) == 0 {
		printInfo("No orders.")
		return
	}
	fmt.Printf("%-6s %-5s %-6s %10s %-10s %-20s %s\n", "ID", "STOCK", "TYPE", "AMOUNT", "STATUS", "PLACED", "REASON")
	for _, t := range txs {
		fmt.Printf("%-6d %-5d %-6s %10d %-10s %-20s %s\n",
			t.ID,
			t.StockID,
			t.Type,
			t.Amount,
			renderStatus(t.Status),
			t.Timestamp.Local().Format("2006-01-02 15:04:05"),
			t.Reason,
		)
	}
	fmt.Println()
}

func renderUpgrades(catalog []game.Upgrade, owned []market.UpgradeID) {
	accent.Println("\n== UPGRADES ==")
	fmt.Printf("%-4s %-24s %10s %-6s %s\n", "ID", "TITLE", "COST", "OWNED", "EFFECT")
	for _, u := range catalog {
		mark := ""
		if slices.Contains(owned, u.ID) {
			mark = success.Sprint("yes")
		}
		fmt.Printf("%-4d %-24s %10d %-6s %s\n", u.ID, truncate(u.Title, 24), u.Cost, mark, u.Description)
	}
	fmt.Println()
}

func renderEvent(e market.Event) string {
	switch e {
	case market.EventHype:
		return success.Sprint("HYPE")
	case market.EventScandal:
		return danger.Sprint("SCANDAL")
	default:
		return "-"
	}
}

func renderStatus(s market.TxStatus) string {
	switch s {
	case market.StatusConfirmed:
		return success.Sprint(s)
	case market.StatusRejected:
		return danger.Sprint(s)
	default:
		return warn.Sprint(s)
	}
}

func colorizeChange(last, current uint64) string {
	text := cl.FormatChange(last, current)
	switch {
	case current > last:
		return success.Sprint(text)
	case current < last:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
