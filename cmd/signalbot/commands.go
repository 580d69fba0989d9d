package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"signalbot/internal/audit"
	"signalbot/internal/bootstrap"
	"signalbot/internal/config"
	"signalbot/internal/strategy"
	"signalbot/pkg/cli"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "signalbot",
		Short: "Signal-driven leveraged position execution for Binance futures",
		Long: `signalbot opens leveraged futures positions from technical-indicator signals,
protects each one with a stop-loss and take-profit pair, and keeps local state
reconciled with the venue.`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		o          config.Overrides
		paper      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		Example: `  signalbot run --config configs/signalbot.yaml
  signalbot run --symbol ETHUSDT --timeframe 15m --strategy psar_atr --paper`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ValidateSymbol(o.Symbol); err != nil {
				return err
			}
			if err := cli.ValidateTimeframe(o.Timeframe); err != nil {
				return err
			}
			if configPath != "" {
				if err := cli.ValidateInput(configPath); err != nil {
					return fmt.Errorf("--config: %w", err)
				}
			}
			if paper {
				o.Venue = "mock"
			}
			return run(cmd.Context(), configPath, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	f.StringVar(&o.Symbol, "symbol", "", "futures symbol, e.g. BTCUSDT")
	f.StringVar(&o.Timeframe, "timeframe", "", "kline interval, e.g. 15m, 1h")
	f.IntVar(&o.Leverage, "leverage", 0, "leverage multiplier")
	f.Float64Var(&o.TradeAmount, "trade-amount", 0, "quote asset amount per trade")
	f.StringVar(&o.Strategy, "strategy", "", "strategy variant: "+strings.Join(strategy.Names(), ", "))
	f.StringVar(&o.LogLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")
	f.BoolVar(&paper, "paper", false, "simulate orders in memory against live market data")
	return cmd
}

func run(ctx context.Context, configPath string, o config.Overrides) error {
	app, err := bootstrap.NewApp(configPath, o)
	if err != nil {
		return err
	}
	defer app.Close()

	app.Logger.Info("Starting signalbot", "version", version, "build_time", buildTime)

	bot, err := app.BuildBot(ctx)
	if err != nil {
		app.Logger.Error("Startup failed", "error", err)
		return err
	}
	defer bot.Close()

	return app.Run(bot.Runners...)
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the trade activity audit",
	}
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var (
		dbPath string
		out    string
		kind   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit trail as CSV",
		Example: `  signalbot audit export --db signalbot_audit.db --out trades.csv
  signalbot audit export --db signalbot_audit.db --kind signals`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range []string{dbPath, out} {
				if err := cli.ValidateInput(p); err != nil {
					return err
				}
			}
			if _, err := os.Stat(dbPath); err != nil {
				return fmt.Errorf("audit database: %w", err)
			}

			store, err := audit.NewSQLiteStore(dbPath, "")
			if err != nil {
				return err
			}
			defer store.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return err
				}
				defer file.Close()
				w = file
			}

			var n int
			switch kind {
			case "events":
				n, err = store.ExportEventsCSV(cmd.Context(), w)
			case "signals":
				n, err = store.ExportSignalsCSV(cmd.Context(), w)
			default:
				return fmt.Errorf("unknown export kind %q: use events or signals", kind)
			}
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d %s to %s\n", n, kind, out)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dbPath, "db", "signalbot_audit.db", "path to the audit database")
	f.StringVarP(&out, "out", "o", "", "output file (default stdout)")
	f.StringVar(&kind, "kind", "events", "what to export: events or signals")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "signalbot %s (built %s)\n", version, buildTime)
		},
	}
}
