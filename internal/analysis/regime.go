package analysis

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/market-brief/internal/model"
)

// MaxRecentSwitches caps RegimeState.RecentSwitches.
const MaxRecentSwitches = 3

const regimeSystem = `You are a senior crude oil market analyst. From the market data and news provided, classify the regime the market is in.

Regimes:
- DEMAND_DRIVEN: price led by demand (growth, industrial activity)
- SUPPLY_DRIVEN: price led by supply (OPEC+ policy, outages)
- EVENT_DRIVEN: price led by shocks (conflict, disasters, sudden policy)
- FINANCIAL_DRIVEN: price led by financial flows (dollar, rates, positioning)
- MIXED: no single dominant driver

Respond with a single JSON object and nothing else:
{
  "regime": "DEMAND_DRIVEN|SUPPLY_DRIVEN|EVENT_DRIVEN|FINANCIAL_DRIVEN|MIXED",
  "stability": "HIGH|MEDIUM|LOW",
  "confidence": number from 0.0 to 1.0,
  "recentSwitches": [
    {"from": "regime", "to": "regime", "ts": "YYYY-MM-DD", "reason": "short reason"}
  ],
  "summary": "one paragraph on the current regime and why"
}

Rules:
1. Infer switches from the 30-day price path and the news; return at most 3, most recent last.
2. Return an empty recentSwitches array only if you are confident nothing changed.`

// NewRegimeGenerator builds the regime classification generator.
func NewRegimeGenerator(s Searcher, c Completer) *LLMGenerator[model.RegimeState] {
	return &LLMGenerator[model.RegimeState]{
		spec: promptSpec[model.RegimeState]{
			typ:    model.AnalysisRegime,
			system: regimeSystem,
			query: func(info model.MarketInfo, date time.Time) string {
				return fmt.Sprintf("%s market outlook supply demand %s", info.Search, date.Format(model.DateLayout))
			},
			task:     "Classify the current crude oil market regime from the following data and news.",
			decode:   decodeRegime,
			fallback: RegimeFallback,
		},
		searcher:  s,
		completer: c,
	}
}

// RegimeFallback is the degraded regime state.
func RegimeFallback(market model.Market, date time.Time) model.RegimeState {
	return model.RegimeState{
		Market:         market,
		AsOf:           model.Date(date),
		Regime:         model.RegimeMixed,
		Stability:      model.StabilityLow,
		Confidence:     0,
		RecentSwitches: []model.RegimeSwitch{},
		Summary:        UnavailableSummary,
	}
}

type rawSwitch struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Ts     string `json:"ts"`
	Reason string `json:"reason"`
}

type rawRegime struct {
	Regime         string      `json:"regime"`
	Stability      string      `json:"stability"`
	Confidence     *float64    `json:"confidence"`
	RecentSwitches []rawSwitch `json:"recentSwitches"`
	Summary        string      `json:"summary"`
}

func decodeRegime(raw string, market model.Market, date time.Time) (model.RegimeState, error) {
	typ := model.AnalysisRegime
	var in rawRegime
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return model.RegimeState{}, parseFailure(typ, "decode: %v", err)
	}

	regime := model.Regime(strings.ToUpper(strings.TrimSpace(in.Regime)))
	if !regime.Valid() {
		return model.RegimeState{}, parseFailure(typ, "unknown regime %q", in.Regime)
	}
	stability := model.Stability(strings.ToUpper(strings.TrimSpace(in.Stability)))
	if !stability.Valid() {
		return model.RegimeState{}, parseFailure(typ, "unknown stability %q", in.Stability)
	}
	if in.Confidence == nil || *in.Confidence < 0 || *in.Confidence > 1 {
		return model.RegimeState{}, parseFailure(typ, "confidence must be within [0,1]")
	}
	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		return model.RegimeState{}, parseFailure(typ, "summary is required")
	}

	switches := make([]model.RegimeSwitch, 0, len(in.RecentSwitches))
	for i, s := range in.RecentSwitches {
		from := model.Regime(strings.ToUpper(strings.TrimSpace(s.From)))
		to := model.Regime(strings.ToUpper(strings.TrimSpace(s.To)))
		if !from.Valid() || !to.Valid() {
			return model.RegimeState{}, parseFailure(typ, "recentSwitches[%d]: unknown regime %q -> %q", i, s.From, s.To)
		}
		ts, err := parseTimestamp(s.Ts)
		if err != nil {
			return model.RegimeState{}, parseFailure(typ, "recentSwitches[%d]: %v", i, err)
		}
		switches = append(switches, model.RegimeSwitch{From: from, To: to, Ts: ts, Reason: strings.TrimSpace(s.Reason)})
	}

	// Chronological, keeping the most recent.
	slices.SortStableFunc(switches, func(a, b model.RegimeSwitch) int {
		return a.Ts.Compare(b.Ts)
	})
	switches = switches[max(len(switches)-MaxRecentSwitches, 0):]

	return model.RegimeState{
		Market:         market,
		AsOf:           model.Date(date),
		Regime:         regime,
		Stability:      stability,
		Confidence:     *in.Confidence,
		RecentSwitches: switches,
		Summary:        summary,
	}, nil
}
