// Package numeric computes the price statistics shown in a market snapshot.
package numeric

import (
	"iter"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-brief/internal/model"
)

const (
	// VolatilityWindow is the number of daily returns in the volatility estimate.
	VolatilityWindow = 20
	// TradingDaysPerYear annualizes daily volatility.
	TradingDaysPerYear = 252
	// FlatThreshold is the absolute spread, in price units, under which the
	// curve is considered flat.
	FlatThreshold = 0.05
	// DefaultHistoryWindow is the number of points in a snapshot's history.
	DefaultHistoryWindow = 30
)

// ErrInsufficientData is returned when there is not enough price history
// for a statistic.
var ErrInsufficientData = eris.New("insufficient price data")

// Change returns last - prev.
func Change(last, prev float64) float64 {
	return last - prev
}

// PctChange returns the percentage change from prev to last.
func PctChange(last, prev float64) (float64, error) {
	if prev == 0 {
		return 0, eris.Wrap(ErrInsufficientData, "numeric: previous close is zero")
	}
	return (last - prev) / prev * 100, nil
}

// Volatility20d returns annualized volatility from the most recent 21
// closes (oldest first): the sample standard deviation of 20 simple daily
// returns scaled by sqrt(252).
func Volatility20d(closes []float64) (float64, error) {
	need := VolatilityWindow + 1
	if len(closes) < need {
		return 0, eris.Wrapf(ErrInsufficientData, "numeric: volatility needs %d closes, have %d", need, len(closes))
	}
	recent := closes[len(closes)-need:]

	returns := make([]float64, 0, VolatilityWindow)
	for i := 1; i < len(recent); i++ {
		if recent[i-1] == 0 {
			return 0, eris.Wrap(ErrInsufficientData, "numeric: zero close in volatility window")
		}
		returns = append(returns, recent[i]/recent[i-1]-1)
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(returns)-1))
	return std * math.Sqrt(TradingDaysPerYear), nil
}

// ClassifyTermStructure classifies the front/second month spread.
func ClassifyTermStructure(front, second float64) model.TermStructure {
	spread := front - second
	state := model.Flat
	switch {
	case spread > FlatThreshold:
		state = model.Backwardation
	case spread < -FlatThreshold:
		state = model.Contango
	}
	return model.TermStructure{State: state, SpreadFrontSecond: spread}
}

// History yields the most recent window points of prices (oldest first) in
// ascending time order. The sequence may be ranged over more than once.
func History(prices []model.PricePoint, window int) iter.Seq[model.PricePoint] {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	start := max(len(prices)-window, 0)
	tail := prices[start:]
	return func(yield func(model.PricePoint) bool) {
		for _, p := range tail {
			if !yield(p) {
				return
			}
		}
	}
}
