package analysis

import (
	"fmt"
	"strings"

	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/numeric"
)

const contextRows = 30

// PriceContext renders the bundle's recent price action as prompt text:
// last close, 1-day and 20-day change, 20-day volatility, the 5-vs-5 day
// trend and the last 30 OHLC rows.
func PriceContext(b Bundle) string {
	info := b.Market.Info()
	prices := pricesThrough(b.Prices, b.Date)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Market: %s (%s)\n", b.Market, info.Name)
	fmt.Fprintf(&sb, "Analysis date: %s\n", b.Date.Format(model.DateLayout))
	if len(prices) == 0 {
		sb.WriteString("No price data available.\n")
		return sb.String()
	}

	last := prices[len(prices)-1]
	fmt.Fprintf(&sb, "Last close: $%.2f/bbl (%s)\n", last.Close, last.TradeDate.Format(model.DateLayout))

	if len(prices) >= 2 {
		prev := prices[len(prices)-2].Close
		if pct, err := numeric.PctChange(last.Close, prev); err == nil {
			fmt.Fprintf(&sb, "1-day change: %+.2f (%+.2f%%)\n", numeric.Change(last.Close, prev), pct)
		}
	}
	if len(prices) > numeric.VolatilityWindow {
		base := prices[len(prices)-1-numeric.VolatilityWindow].Close
		if pct, err := numeric.PctChange(last.Close, base); err == nil {
			fmt.Fprintf(&sb, "20-day change: %+.2f (%+.2f%%)\n", numeric.Change(last.Close, base), pct)
		}
	}
	if vol, err := numeric.Volatility20d(model.Closes(prices)); err == nil {
		fmt.Fprintf(&sb, "20-day annualized volatility: %.2f%%\n", vol*100)
	}
	sb.WriteString("5-day trend: " + trend(model.Closes(prices)) + "\n")

	sb.WriteString("\nRecent sessions (date: open / high / low / close):\n")
	for _, p := range prices[max(len(prices)-contextRows, 0):] {
		fmt.Fprintf(&sb, "  %s: %.2f / %.2f / %.2f / %.2f\n",
			p.TradeDate.Format(model.DateLayout), p.Open, p.High, p.Low, p.Close)
	}
	return sb.String()
}

// trend compares the mean of the last 5 closes with the 5 before them.
func trend(closes []float64) string {
	if len(closes) < 10 {
		return "unknown"
	}
	recent := mean(closes[len(closes)-5:])
	earlier := mean(closes[len(closes)-10 : len(closes)-5])
	if earlier == 0 {
		return "unknown"
	}
	pct := (recent - earlier) / earlier * 100
	switch {
	case recent > earlier:
		return fmt.Sprintf("rising (%.2f%%)", pct)
	case recent < earlier:
		return fmt.Sprintf("falling (%.2f%%)", -pct)
	default:
		return "range-bound"
	}
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
