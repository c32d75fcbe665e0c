package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"futuresDesk/internal/app"
	"futuresDesk/internal/domain"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the listeners, the watchdog and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				svc, err := c.NewService()
				if err != nil {
					return err
				}
				return svc.Start(ctx)
			})
		},
	}
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <accountID> <variant.yaml>",
		Short: "Open a trade from a variant file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			variant, err := parseVariant(raw)
			if err != nil {
				return err
			}
			return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				trade, err := c.OpenTrade(ctx, args[0], variant)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "opened trade %s (%s %s, %s entry)\n",
					trade.ID, trade.Variant.Side, trade.Symbol(), trade.EntryPath)
				return nil
			})
		},
	}
}

func newTakeProfitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "take-profit <tradeID>",
		Short: "Market-close the next take-profit rung of a trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				if err := c.Engine.TakeSomeProfit(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "took profit on trade %s\n", args[0])
				return nil
			})
		},
	}
}

func newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <tradeID>",
		Short: "Cancel a trade's orders and market-close what is left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				if err := c.Engine.CloseTrade(ctx, args[0], domain.CloseReasonManual); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed trade %s\n", args[0])
				return nil
			})
		},
	}
}

func newTradesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades [accountID]",
		Short: "List an account's open trades, or the latest trades of every account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				var (
					trades []*domain.Trade
					err    error
				)
				if len(args) == 1 {
					trades, err = c.Repo.FindOpenForAccount(ctx, args[0])
				} else {
					trades, err = c.Repo.FindRecent(ctx, limit)
				}
				if err != nil {
					return err
				}
				return printTrades(cmd.OutOrStdout(), trades)
			})
		},
	}
	cmd.Flags().Int("limit", 20, "number of trades listed when no account is given")
	return cmd
}

func newOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders <accountID> <symbol>",
		Short: "List an account's working exchange orders and the trade tracking each",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, func(ctx context.Context, c *app.Components) error {
				account, err := c.Accounts.Account(ctx, args[0])
				if err != nil {
					return err
				}
				orders, err := c.Exchange.ForAccount(account).OpenOrders(ctx, strings.ToUpper(args[1]))
				if err != nil {
					return err
				}
				owners := make(map[int64]string, len(orders))
				for _, o := range orders {
					trade, err := c.Repo.FindByFillEvent(ctx, o.OrderID, account.ID)
					if err != nil {
						return err
					}
					if trade != nil {
						owners[o.OrderID] = trade.ID
					}
				}
				return printOrders(cmd.OutOrStdout(), orders, owners)
			})
		},
	}
}

// printOrders lists orders with the trade tracking each; untracked orders show "-".
func printOrders(w io.Writer, orders []*domain.OrderResult, owners map[int64]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tROLE\tTYPE\tSIDE\tQTY\tPRICE\tSTOP\tTRADE")
	for _, o := range orders {
		role := "-"
		if r, err := domain.DecodeRole(o.ClientOrderID); err == nil {
			role = r.Kind.String()
			if r.HasRung() {
				role = fmt.Sprintf("%s %d", role, r.Rung)
			}
		}
		owner, ok := owners[o.OrderID]
		if !ok {
			owner = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.OrderID, role, o.Type, o.Side, o.OrigQty.String(), o.Price.String(), o.StopPrice.String(), owner)
	}
	return tw.Flush()
}

func printTrades(w io.Writer, trades []*domain.Trade) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tSYMBOL\tSIDE\tPATH\tENTRY\tFILLED\tREMAINING\tSTATE\tERROR")
	for _, t := range trades {
		tc := domain.NewTradeContext(t, domain.Account{ID: t.AccountID})
		state := "open"
		if t.Closed {
			state = "closed " + string(t.CloseReason)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			t.ID, t.AccountID, t.Symbol(), t.Variant.Side, t.EntryPath,
			tc.EntryPrice().String(), tc.FilledQuantity().String(), tc.RemainingQuantity().String(),
			state, t.HasError)
	}
	return tw.Flush()
}
