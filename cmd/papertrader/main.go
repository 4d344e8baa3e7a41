package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "papertrader",
	Short: "Indicator-driven signal engine with a simulated execution venue",
	Long: `papertrader scores instruments with five technical strategies, turns
actionable signals into risk-sized orders and fills them against live or
recorded quotes. No real orders are ever sent.

Examples:
  papertrader run --config config.yaml
  papertrader signals BTCUSDT ETHUSDT
  papertrader order BTCUSDT buy 0.5 --kind limit --price 60000`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to YAML config (empty for defaults)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
