package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vitos/paper_signal_engine/internal/domain"
)

var (
	orderKind  string
	orderPrice float64
	listLimit  int
)

var signalsCmd = &cobra.Command{
	Use:   "signals [SYMBOL...]",
	Short: "Score instruments once and print the signals",
	Long: `Signals fetches bars, computes indicators and prints one aggregated
signal per symbol. Without arguments app.instruments is used. Symbols
whose data cannot be fetched are logged and left out.`,
	RunE: runSignals,
}

var orderCmd = &cobra.Command{
	Use:   "order SYMBOL SIDE QUANTITY",
	Short: "Submit a manual paper order",
	Long: `Order submits a MARKET, LIMIT or STOP order against the current quote.

Examples:
  papertrader order BTCUSDT buy 1
  papertrader order ETHUSDT sell 2 --kind stop --price 3100`,
	Args: cobra.ExactArgs(3),
	RunE: runOrder,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel ORDER_ID",
	Short: "Cancel a pending order",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var portfolioCmd = &cobra.Command{
	Use:   "portfolio",
	Short: "Print the marked-to-market portfolio",
	RunE:  runPortfolio,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [signals|orders|trades]",
	Short: "Print persisted history from the database",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInspect,
}

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL",
	Short: "Print the current quote for a symbol",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuote,
}

func init() {
	rootCmd.AddCommand(signalsCmd, orderCmd, cancelCmd, portfolioCmd, inspectCmd, quoteCmd)

	orderCmd.Flags().StringVarP(&orderKind, "kind", "k", "market", "order kind (market, limit, stop)")
	orderCmd.Flags().Float64VarP(&orderPrice, "price", "p", 0, "limit price for LIMIT, trigger price for STOP")
	inspectCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "rows to print")
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSignals(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	symbols := a.cfg.App.Instruments
	if len(args) > 0 {
		symbols = upper(args)
	}
	for _, sig := range a.engine.GenerateSignals(cmd.Context(), symbols) {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-4s score=%7.2f conf=%5.1f price=%g\n  %s\n",
			sig.Symbol, sig.Classification, sig.WeightedScore, sig.Confidence, sig.Price, sig.Reasoning)
	}
	return nil
}

func runOrder(cmd *cobra.Command, args []string) error {
	qty, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("quantity %q: %w", args[2], err)
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.engine.PlaceOrder(cmd.Context(), strings.ToUpper(args[0]),
		domain.Side(strings.ToUpper(args[1])), qty, domain.OrderKind(strings.ToUpper(orderKind)), orderPrice)
	if o != nil {
		if perr := printJSON(cmd, o); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if o.State == domain.StateRejected {
		return fmt.Errorf("order rejected: %s", o.Reason)
	}
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.engine.CancelOrder(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, o)
}

func runPortfolio(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(cmd, a.engine.GetPortfolioSnapshot(cmd.Context()))
}

func runInspect(cmd *cobra.Command, args []string) error {
	what := "signals"
	if len(args) == 1 {
		what = args[0]
	}
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	switch what {
	case "signals":
		signals, err := a.store.ListSignals(ctx, "", listLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, signals)
	case "orders":
		orders, err := a.store.ListOrders(ctx, listLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, orders)
	case "trades":
		trades, err := a.store.ListTrades(ctx, listLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, trades)
	default:
		return fmt.Errorf("unknown table %q (want signals, orders or trades)", what)
	}
}

func runQuote(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	q, err := a.market.GetQuote(cmd.Context(), strings.ToUpper(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %g at %s\n", q.Symbol, q.Price, q.Time.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func upper(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}
