package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/coordinator"
	"github.com/sells-group/market-brief/internal/model"
)

const allTargets = "all"

var (
	generateMarket string
	generateType   string
	generateDate   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate and persist analyses once, bypassing the cache",
	Long:  "Runs the generation path for the selected markets and analysis types. Without --date each type uses its current effective date.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		markets, err := parseMarkets(generateMarket)
		if err != nil {
			return err
		}
		types, err := parseTypes(generateType)
		if err != nil {
			return err
		}
		var date *time.Time
		if generateDate != "" {
			d, err := model.ParseDate(generateDate)
			if err != nil {
				return err
			}
			date = &d
		}

		env, err := initEnv(ctx, "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		var failed int
		for _, typ := range types {
			for _, m := range markets {
				d := env.Boundary.Today(typ)
				if date != nil {
					d = *date
				}
				rep, err := env.Service.GenerateAndSave(ctx, typ, m, d)
				if err != nil {
					failed++
					zap.L().Error("generate failed",
						zap.String("type", string(typ)),
						zap.String("market", string(m)),
						zap.Error(err),
					)
					printReport(cmd.OutOrStdout(), model.NewKey(m, typ, d), "failed")
					continue
				}
				printReport(cmd.OutOrStdout(), rep.Key, reportStatus(rep))
			}
		}

		if failed > 0 {
			return eris.Errorf("generate: %d of %d runs failed", failed, len(types)*len(markets))
		}
		return nil
	},
}

func parseMarkets(s string) ([]model.Market, error) {
	if strings.EqualFold(strings.TrimSpace(s), allTargets) {
		return model.Markets(), nil
	}
	m, err := model.ParseMarket(s)
	if err != nil {
		return nil, err
	}
	return []model.Market{m}, nil
}

func parseTypes(s string) ([]model.AnalysisType, error) {
	if strings.EqualFold(strings.TrimSpace(s), allTargets) {
		return model.AnalysisTypes(), nil
	}
	t, err := model.ParseAnalysisType(s)
	if err != nil {
		return nil, err
	}
	return []model.AnalysisType{t}, nil
}

func reportStatus(rep coordinator.Report) string {
	switch {
	case rep.PersistErr != nil:
		return "persist_failed"
	case rep.Degraded:
		return "degraded"
	case rep.Shared:
		return "ok (shared)"
	default:
		return "ok"
	}
}

func printReport(w io.Writer, key model.AnalysisKey, status string) {
	fmt.Fprintf(w, "%-10s %-6s %s  %s\n", key.Type, key.Market, key.DateString(), status)
}

func init() {
	generateCmd.Flags().StringVar(&generateMarket, "market", allTargets, "market symbol (WTI, Brent) or all")
	generateCmd.Flags().StringVar(&generateType, "type", allTargets, "analysis type (snapshot, drivers, events, regime) or all")
	generateCmd.Flags().StringVar(&generateDate, "date", "", "analysis date YYYY-MM-DD (default: effective date per type)")
	rootCmd.AddCommand(generateCmd)
}
