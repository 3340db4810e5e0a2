package analysis

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-brief/internal/model"
	"github.com/sells-group/market-brief/internal/numeric"
)

// SecondMonthDiscount estimates the second-month price from the front month
// when the source has no contract curve.
const SecondMonthDiscount = 0.99

// SnapshotGenerator computes the price snapshot from the bundle. It does no
// I/O and never degrades.
type SnapshotGenerator struct {
	HistoryWindow int
}

// NewSnapshotGenerator returns a generator with the given history window.
func NewSnapshotGenerator(historyWindow int) *SnapshotGenerator {
	if historyWindow <= 0 {
		historyWindow = numeric.DefaultHistoryWindow
	}
	return &SnapshotGenerator{HistoryWindow: historyWindow}
}

// Generate returns numeric.ErrInsufficientData when fewer than 21 closes
// are available through date.
func (g *SnapshotGenerator) Generate(_ context.Context, market model.Market, date time.Time, b Bundle) (Result[model.Snapshot], error) {
	prices := pricesThrough(b.Prices, date)
	if len(prices) < 2 {
		return Result[model.Snapshot]{}, eris.Wrapf(numeric.ErrInsufficientData, "analysis: snapshot %s %s: %d prices", market, date.Format(model.DateLayout), len(prices))
	}

	latest := prices[len(prices)-1]
	prev := prices[len(prices)-2]

	pct, err := numeric.PctChange(latest.Close, prev.Close)
	if err != nil {
		return Result[model.Snapshot]{}, eris.Wrapf(err, "analysis: snapshot %s", market)
	}
	vol, err := numeric.Volatility20d(model.Closes(prices))
	if err != nil {
		return Result[model.Snapshot]{}, eris.Wrapf(err, "analysis: snapshot %s", market)
	}

	front := latest.Close
	if latest.FrontMonth != nil {
		front = *latest.FrontMonth
	}
	second := front * SecondMonthDiscount
	if latest.SecondMonth != nil {
		second = *latest.SecondMonth
	}
	ts := numeric.ClassifyTermStructure(front, second)
	ts.SpreadFrontSecond = round(ts.SpreadFrontSecond, 2)

	return Healthy(model.Snapshot{
		Market:        market,
		AsOf:          model.Date(date),
		LastPrice:     latest.Close,
		Change1d:      round(numeric.Change(latest.Close, prev.Close), 2),
		PctChange1d:   round(pct, 2),
		Volatility20d: round(vol, 4),
		TermStructure: ts,
		History:       slices.Collect(numeric.History(model.Points(prices), g.HistoryWindow)),
	}), nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
