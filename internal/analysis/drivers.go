package analysis

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sells-group/market-brief/internal/model"
)

// MaxTopDrivers caps DriverAttribution.TopDrivers.
const MaxTopDrivers = 3

// UnavailableFactorID marks the placeholder driver in fallback content.
const UnavailableFactorID = "analysis_unavailable"

// UnavailableSummary is the summary of every fallback analysis.
const UnavailableSummary = "analysis unavailable"

const driversSystem = `You are a senior crude oil market analyst. Using the market data and news provided, identify the key factors currently driving the price.

Respond with a single JSON object and nothing else:
{
  "topDrivers": [
    {
      "factorId": "snake_case identifier, e.g. opec_production",
      "factorName": "human readable name",
      "category": "SUPPLY|DEMAND|MACRO_FINANCIAL|FX|EVENTS|OTHER",
      "direction": "UP|DOWN|NEUTRAL",
      "strength": number from 1 to 10,
      "evidence": ["short evidence", "..."]
    }
  ],
  "allDrivers": [same shape, every factor],
  "summary": "one paragraph on the overall driver logic"
}

Rules:
1. topDrivers are the 3 strongest entries of allDrivers.
2. allDrivers has 5 to 8 factors covering SUPPLY, DEMAND, MACRO_FINANCIAL, FX and EVENTS.
3. direction is the factor's effect on price: UP pushes it higher, DOWN lower.
4. Give 1 to 3 evidence items per factor.`

// NewDriversGenerator builds the driver attribution generator.
func NewDriversGenerator(s Searcher, c Completer) *LLMGenerator[model.DriverAttribution] {
	return &LLMGenerator[model.DriverAttribution]{
		spec: promptSpec[model.DriverAttribution]{
			typ:    model.AnalysisDrivers,
			system: driversSystem,
			query: func(info model.MarketInfo, date time.Time) string {
				return fmt.Sprintf("%s price news today %s", info.Search, date.Format(model.DateLayout))
			},
			task:     "Analyze the following crude oil market data together with the latest news and attribute the price drivers.",
			decode:   decodeDrivers,
			fallback: DriversFallback,
		},
		searcher:  s,
		completer: c,
	}
}

// DriversFallback is the degraded driver attribution.
func DriversFallback(market model.Market, date time.Time) model.DriverAttribution {
	placeholder := []model.Driver{{
		FactorID:   UnavailableFactorID,
		FactorName: "Analysis unavailable",
		Category:   model.CategoryOther,
		Direction:  model.DirectionNeutral,
		Strength:   1,
		Evidence:   []string{"driver analysis is temporarily unavailable"},
	}}
	return model.DriverAttribution{
		Market:     market,
		AsOf:       model.Date(date),
		Summary:    UnavailableSummary,
		TopDrivers: placeholder,
		AllDrivers: slices.Clone(placeholder),
	}
}

type rawDriver struct {
	FactorID   string   `json:"factorId"`
	FactorName string   `json:"factorName"`
	Category   string   `json:"category"`
	Direction  string   `json:"direction"`
	Strength   *float64 `json:"strength"`
	Evidence   []string `json:"evidence"`
}

type rawDrivers struct {
	Summary    string      `json:"summary"`
	TopDrivers []rawDriver `json:"topDrivers"`
	AllDrivers []rawDriver `json:"allDrivers"`
}

func decodeDrivers(raw string, market model.Market, date time.Time) (model.DriverAttribution, error) {
	typ := model.AnalysisDrivers
	var in rawDrivers
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return model.DriverAttribution{}, parseFailure(typ, "decode: %v", err)
	}
	if len(in.AllDrivers) == 0 {
		return model.DriverAttribution{}, parseFailure(typ, "allDrivers is empty")
	}

	all, err := validateDrivers(in.AllDrivers, "allDrivers")
	if err != nil {
		return model.DriverAttribution{}, err
	}

	var top []model.Driver
	if len(in.TopDrivers) == 0 {
		top = strongest(all, MaxTopDrivers)
	} else {
		if top, err = validateDrivers(in.TopDrivers, "topDrivers"); err != nil {
			return model.DriverAttribution{}, err
		}
		top = top[:min(len(top), MaxTopDrivers)]
	}

	return model.DriverAttribution{
		Market:     market,
		AsOf:       model.Date(date),
		Summary:    strings.TrimSpace(in.Summary),
		TopDrivers: top,
		AllDrivers: all,
	}, nil
}

func validateDrivers(in []rawDriver, field string) ([]model.Driver, error) {
	typ := model.AnalysisDrivers
	out := make([]model.Driver, 0, len(in))
	for i, d := range in {
		id := strings.TrimSpace(d.FactorID)
		if id == "" {
			return nil, parseFailure(typ, "%s[%d]: factorId is required", field, i)
		}
		cat := model.FactorCategory(strings.ToUpper(strings.TrimSpace(d.Category)))
		if !cat.Valid() {
			return nil, parseFailure(typ, "%s[%d]: unknown category %q", field, i, d.Category)
		}
		dir := model.Direction(strings.ToUpper(strings.TrimSpace(d.Direction)))
		if !dir.Valid() {
			return nil, parseFailure(typ, "%s[%d]: unknown direction %q", field, i, d.Direction)
		}
		if d.Strength == nil || *d.Strength < 1 || *d.Strength > 10 {
			return nil, parseFailure(typ, "%s[%d]: strength must be within [1,10]", field, i)
		}
		name := strings.TrimSpace(d.FactorName)
		if name == "" {
			name = id
		}
		evidence := d.Evidence
		if evidence == nil {
			evidence = []string{}
		}
		out = append(out, model.Driver{
			FactorID:   id,
			FactorName: name,
			Category:   cat,
			Direction:  dir,
			Strength:   *d.Strength,
			Evidence:   evidence,
		})
	}
	return out, nil
}

// strongest returns the n highest-strength drivers, keeping input order
// among ties.
func strongest(drivers []model.Driver, n int) []model.Driver {
	sorted := slices.Clone(drivers)
	slices.SortStableFunc(sorted, func(a, b model.Driver) int {
		return cmp.Compare(b.Strength, a.Strength)
	})
	return sorted[:min(len(sorted), n)]
}
