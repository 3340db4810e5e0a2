package analysis

import (
	"crypto/sha1" //nolint:gosec // event ids, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-brief/internal/model"
)

// DefaultEventsLookbackDays is the window events are generated for.
const DefaultEventsLookbackDays = 7

const eventsSystemTmpl = `You are a senior crude oil market analyst. From the market data and news provided, list the concrete market events of the past %d days.

Event types: GEOPOLITICS, POLICY, SUPPLY, DEMAND, MACRO, OTHER.
Impact on price: UP, DOWN, UNCERTAIN.

Respond with a single JSON object and nothing else:
{
  "events": [
    {
      "eventId": "evt_short_name_YYYYMMDD",
      "ts": "ISO-8601 time the event happened",
      "title": "concise title",
      "type": "GEOPOLITICS|POLICY|SUPPLY|DEMAND|MACRO|OTHER",
      "impact": "UP|DOWN|UNCERTAIN",
      "linkedFactors": ["driver factor ids, e.g. opec_production_cut"],
      "evidence": ["source or data point"]
    }
  ]
}

Rules:
1. Every event must be specific and dated within the window.
2. Order events newest first.
3. Return the 3 to 10 most important events.`

// NewEventsGenerator builds the event timeline generator for a fixed
// lookback window.
func NewEventsGenerator(s Searcher, c Completer, lookbackDays int) *LLMGenerator[model.EventTimeline] {
	if lookbackDays <= 0 {
		lookbackDays = DefaultEventsLookbackDays
	}
	return &LLMGenerator[model.EventTimeline]{
		spec: promptSpec[model.EventTimeline]{
			typ:    model.AnalysisEvents,
			system: fmt.Sprintf(eventsSystemTmpl, lookbackDays),
			query: func(info model.MarketInfo, date time.Time) string {
				return fmt.Sprintf("%s market events past %d days %s", info.Search, lookbackDays, date.Format(model.DateLayout))
			},
			task: fmt.Sprintf("Identify the crude oil market events of the %d days up to the analysis date.", lookbackDays),
			decode: func(raw string, market model.Market, date time.Time) (model.EventTimeline, error) {
				return decodeEvents(raw, market, date, lookbackDays)
			},
			fallback: func(market model.Market, date time.Time) model.EventTimeline {
				return EventsFallback(market, date, lookbackDays)
			},
		},
		searcher:  s,
		completer: c,
	}
}

// EventsFallback is the degraded event timeline: no events.
func EventsFallback(market model.Market, date time.Time, windowDays int) model.EventTimeline {
	return model.EventTimeline{
		Market:     market,
		AsOf:       model.Date(date),
		WindowDays: windowDays,
		Events:     []model.EventCard{},
	}
}

// EventID derives a stable id from an event title.
func EventID(title string) string {
	sum := sha1.Sum([]byte(title)) //nolint:gosec
	return "evt_" + hex.EncodeToString(sum[:])[:8]
}

type rawEvent struct {
	EventID       string   `json:"eventId"`
	Ts            string   `json:"ts"`
	Title         string   `json:"title"`
	Type          string   `json:"type"`
	Impact        string   `json:"impact"`
	LinkedFactors []string `json:"linkedFactors"`
	Evidence      []string `json:"evidence"`
}

func decodeEvents(raw string, market model.Market, date time.Time, windowDays int) (model.EventTimeline, error) {
	typ := model.AnalysisEvents
	var in struct {
		Events *[]rawEvent `json:"events"`
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return model.EventTimeline{}, parseFailure(typ, "decode: %v", err)
	}
	if in.Events == nil {
		return model.EventTimeline{}, parseFailure(typ, "events is required")
	}

	events := make([]model.EventCard, 0, len(*in.Events))
	for i, e := range *in.Events {
		title := strings.TrimSpace(e.Title)
		if title == "" {
			return model.EventTimeline{}, parseFailure(typ, "events[%d]: title is required", i)
		}
		et := model.EventType(strings.ToUpper(strings.TrimSpace(e.Type)))
		if !et.Valid() {
			return model.EventTimeline{}, parseFailure(typ, "events[%d]: unknown type %q", i, e.Type)
		}
		impact := model.Impact(strings.ToUpper(strings.TrimSpace(e.Impact)))
		if !impact.Valid() {
			return model.EventTimeline{}, parseFailure(typ, "events[%d]: unknown impact %q", i, e.Impact)
		}
		ts, err := parseTimestamp(e.Ts)
		if err != nil {
			return model.EventTimeline{}, parseFailure(typ, "events[%d]: %v", i, err)
		}
		id := strings.TrimSpace(e.EventID)
		if id == "" {
			id = EventID(title)
		}
		evidence := e.Evidence
		if evidence == nil {
			evidence = []string{}
		}
		events = append(events, model.EventCard{
			EventID:       id,
			Ts:            ts,
			Title:         title,
			Type:          et,
			Impact:        impact,
			LinkedFactors: dedupe(e.LinkedFactors),
			Evidence:      evidence,
		})
	}

	// Newest first.
	slices.SortStableFunc(events, func(a, b model.EventCard) int {
		return b.Ts.Compare(a.Ts)
	})

	return model.EventTimeline{
		Market:     market,
		AsOf:       model.Date(date),
		WindowDays: windowDays,
		Events:     events,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	model.DateLayout,
}

// parseTimestamp accepts RFC 3339, a zone-less ISO time (read as UTC) or a
// bare date.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("ts is required")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("unparseable ts %q", s)
}

// dedupe drops blank and repeated ids, keeping first occurrences.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
