package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/pricesync"
)

var (
	pricesMarket string
	pricesDays   int
	pricesEnd    string
)

var pricesCmd = &cobra.Command{
	Use:   "prices",
	Short: "Manage daily price history",
}

var pricesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch daily bars from the quote source and upsert them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		markets, err := parseMarkets(pricesMarket)
		if err != nil {
			return err
		}
		b, err := initBoundary(cfg)
		if err != nil {
			return err
		}

		end := model.Date(time.Now().In(b.Location()))
		if pricesEnd != "" {
			if end, err = model.ParseDate(pricesEnd); err != nil {
				return err
			}
		}
		days := pricesDays
		if days <= 0 {
			days = cfg.Schedule.SyncDays
		}
		if days <= 0 {
			days = pricesync.DefaultDays
		}

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		breakers := initBreakers(cfg.Resilience)
		syncer := pricesync.New(initQuotes(cfg.Yahoo, retryConfig(cfg.Resilience), breakers), st)

		counts, err := syncer.SyncAll(ctx, markets, end, days)
		for _, m := range markets {
			fmt.Fprintf(cmd.OutOrStdout(), "%-6s %d bars through %s\n", m, counts[m], end.Format(model.DateLayout))
		}
		return err
	},
}

func init() {
	pricesSyncCmd.Flags().StringVar(&pricesMarket, "market", allTargets, "market symbol (WTI, Brent) or all")
	pricesSyncCmd.Flags().IntVar(&pricesDays, "days", 0, "calendar days to fetch (default from schedule.sync_days)")
	pricesSyncCmd.Flags().StringVar(&pricesEnd, "end", "", "last date to fetch YYYY-MM-DD (default: today in the schedule timezone)")
	pricesCmd.AddCommand(pricesSyncCmd)
	rootCmd.AddCommand(pricesCmd)
}
