package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "clickstonks/internal/cli"
	"clickstonks/internal/config"
	"clickstonks/internal/market"
	"clickstonks/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "stk",
		Short:        "ClickStonks CLI game client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newRegisterCmd(&apiBase),
		newLogoutCmd(&apiBase),
		newMeCmd(&apiBase),
		newClickCmd(&apiBase),
		newNameCmd(&apiBase),
		newStocksCmd(&apiBase),
		newOrdersCmd(&apiBase),
		newUpgradesCmd(&apiBase),
		newSyncCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// session loads the saved player. A session saved against another server
// still wins over the default base URL.
func session(apiBase *string) (cl.Session, *cl.Client, error) {
	sess, err := cl.LoadSession()
	if err != nil {
		return cl.Session{}, nil, err
	}
	if sess.BaseURL != "" && *apiBase == config.LoadCLIFromEnv().APIBaseURL {
		*apiBase = sess.BaseURL
	}
	return sess, newClient(apiBase), nil
}

func newRegisterCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "register [username]",
		Short: "Create a player and remember it locally",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if existing, err := cl.LoadSession(); err == nil {
				printWarn(fmt.Sprintf("Already registered as %s. Run `stk logout` first.", existing.PlayerID))
				return nil
			}
			username := ""
			if len(args) > 0 {
				username = args[0]
			} else {
				var err error
				if username, err = promptOptional("Username (optional)"); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			id, err := newClient(apiBase).Register(ctx, username)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{PlayerID: id, BaseURL: *apiBase}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Registered. Player id %s saved.", id))
			return nil
		},
	}
}

func newLogoutCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Go offline and forget the local player",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if errors.Is(err, cl.ErrNoSession) {
				printInfo("No saved player.")
				return nil
			}
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := client.Disconnect(ctx, sess.Token()); err != nil {
				printWarn(fmt.Sprintf("Could not mark player offline: %v", err))
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out. Keep your player id to come back: " + sess.PlayerID.String())
			return nil
		},
	}
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show balance, stats and holdings",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.Dashboard(ctx, sess.Token())
			if err != nil {
				return err
			}
			renderDashboard(out)
			return nil
		},
	}
}

func newClickCmd(apiBase *string) *cobra.Command {
	var times int
	cmd := &cobra.Command{
		Use:   "click",
		Short: "Click for money",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			for i := 0; i < max(times, 1); i++ {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				out, err := client.Click(ctx, sess.Token())
				cancel()
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("+%s  balance %s", cl.FormatMoney(out.Earned), cl.FormatMoney(out.Money)))
				if i+1 < times {
					if err := sleepUntil(cmd.Context(), out.NextClick); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&times, "times", "n", 1, "click repeatedly, waiting out the cooldown")
	return cmd
}

func newNameCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "name <username>",
		Short: "Change your username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := client.SetName(ctx, sess.Token(), args[0]); err != nil {
				return err
			}
			printSuccess("Username updated.")
			return nil
		},
	}
}

func newStocksCmd(apiBase *string) *cobra.Command {
	stocks := &cobra.Command{
		Use:   "stocks",
		Short: "Browse and trade stocks",
	}
	stocks.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all stocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.ListStocks(ctx, sess.Token())
			if err != nil {
				return err
			}
			renderStocksList(out)
			return nil
		},
	})
	stocks.AddCommand(&cobra.Command{
		Use:   "show <stock_id>",
		Short: "Show one stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStockID(args[0])
			if err != nil {
				return err
			}
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.StockDetail(ctx, sess.Token(), id)
			if err != nil {
				return err
			}
			renderStockDetail(out)
			return nil
		},
	})
	stocks.AddCommand(newTradeCmd(apiBase, market.Buy), newTradeCmd(apiBase, market.Sell))
	return stocks
}

func newTradeCmd(apiBase *string, typ market.TxType) *cobra.Command {
	var queue bool
	cmd := &cobra.Command{
		Use:   string(typ) + " <stock_id> <amount>",
		Short: strings.ToUpper(string(typ[:1])) + string(typ[1:]) + " shares",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStockID(args[0])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if queue {
				idem := uuid.NewString()
				txID, err := client.QueueOrder(ctx, sess.Token(), id, typ, amount, idem)
				if err != nil {
					return queueOnNetworkError(err, syncq.Order{
						StockID:        id,
						Amount:         amount,
						Type:           typ,
						IdempotencyKey: idem,
						QueuedAt:       time.Now().UTC(),
					})
				}
				printSuccess(fmt.Sprintf("Order #%d queued for the next market tick.", txID))
				return nil
			}
			out, err := client.Trade(ctx, sess.Token(), id, typ, amount)
			if err != nil {
				return err
			}
			renderOrderResult(out, typ, id, amount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&queue, "queue", false, "queue the order for the next market tick instead of settling now")
	return cmd
}

func newOrdersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "orders [pending|confirmed|rejected]",
		Short: "List your orders",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := ""
			if len(args) > 0 {
				st, err := market.ParseTxStatus(args[0])
				if err != nil {
					return err
				}
				status = string(st)
			}
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			out, err := client.Transactions(ctx, sess.Token(), status)
			if err != nil {
				return err
			}
			renderOrders(out)
			return nil
		},
	}
}

func newUpgradesCmd(apiBase *string) *cobra.Command {
	upgrades := &cobra.Command{
		Use:   "upgrades",
		Short: "Browse and buy upgrades",
	}
	upgrades.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the upgrade catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			catalog, err := client.Upgrades(ctx, sess.Token())
			if err != nil {
				return err
			}
			dash, err := client.Dashboard(ctx, sess.Token())
			if err != nil {
				return err
			}
			renderUpgrades(catalog, dash.Player.Upgrades)
			return nil
		},
	})
	upgrades.AddCommand(&cobra.Command{
		Use:   "buy <upgrade_id>",
		Short: "Buy an upgrade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 16)
			if err != nil {
				return fmt.Errorf("invalid upgrade id %q", args[0])
			}
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			p, err := client.BuyUpgrade(ctx, sess.Token(), market.UpgradeID(raw))
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Upgrade bought. Balance %s.", cl.FormatMoney(p.Money)))
			return nil
		},
	})
	return upgrades
}

func newSyncCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay orders saved while the server was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			sent, dropped, err := syncq.Replay(func(o syncq.Order) (bool, error) {
				ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
				defer cancel()
				_, err := client.QueueOrder(ctx, sess.Token(), o.StockID, o.Type, o.Amount, o.IdempotencyKey)
				var apiErr *cl.APIError
				return err != nil && !errors.As(err, &apiErr), err
			})
			if err != nil {
				return err
			}
			for _, e := range dropped {
				printWarn(fmt.Sprintf("Dropped order: %v", e))
			}
			printSuccess(fmt.Sprintf("Sync complete: sent=%d dropped=%d", sent, len(dropped)))
			return nil
		},
	}
}

// queueOnNetworkError saves o for `stk sync` when the server could not be
// reached. Errors returned by the API are final and passed through.
func queueOnNetworkError(err error, o syncq.Order) error {
	var apiErr *cl.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if pushErr := syncq.Push(o); pushErr != nil {
		return fmt.Errorf("request failed: %w (saving for later also failed: %v)", err, pushErr)
	}
	printWarn(fmt.Sprintf("Server unreachable (%v). Order saved, run `stk sync` to send it.", err))
	return nil
}

func newWatchCmd(apiBase *string) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live market board",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, client, err := session(apiBase)
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), client, sess, every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 2*time.Second, "refresh interval")
	return cmd
}

func parseStockID(s string) (market.StockID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid stock id %q", s)
	}
	return market.StockID(v), nil
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
