package model

import (
	"slices"
	"time"
)

// TermStructureState classifies the front/second month spread.
type TermStructureState string

const (
	Backwardation TermStructureState = "BACKWARDATION"
	Contango      TermStructureState = "CONTANGO"
	Flat          TermStructureState = "FLAT"
)

// TermStructure is the classified front/second month spread.
type TermStructure struct {
	State             TermStructureState `json:"state"`
	SpreadFrontSecond float64            `json:"spreadFrontSecond"`
}

// Snapshot is the price snapshot analysis content.
type Snapshot struct {
	Market        Market        `json:"market"`
	AsOf          time.Time     `json:"asOf"`
	LastPrice     float64       `json:"lastPrice"`
	Change1d      float64       `json:"change1d"`
	PctChange1d   float64       `json:"pctChange1d"`
	Volatility20d float64       `json:"volatility20d"`
	TermStructure TermStructure `json:"termStructure"`
	History       []PricePoint  `json:"history"`
}

// FactorCategory groups drivers by where they act on the market.
type FactorCategory string

const (
	CategorySupply         FactorCategory = "SUPPLY"
	CategoryDemand         FactorCategory = "DEMAND"
	CategoryMacroFinancial FactorCategory = "MACRO_FINANCIAL"
	CategoryFX             FactorCategory = "FX"
	CategoryEvents         FactorCategory = "EVENTS"
	CategoryOther          FactorCategory = "OTHER"
)

// Valid reports whether c is a known category.
func (c FactorCategory) Valid() bool {
	return slices.Contains([]FactorCategory{
		CategorySupply, CategoryDemand, CategoryMacroFinancial, CategoryFX, CategoryEvents, CategoryOther,
	}, c)
}

// Direction is a driver's effect on price.
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown || d == DirectionNeutral
}

// Driver is one attributed price factor. Strength is in [1,10].
type Driver struct {
	FactorID   string         `json:"factorId"`
	FactorName string         `json:"factorName"`
	Category   FactorCategory `json:"category"`
	Direction  Direction      `json:"direction"`
	Strength   float64        `json:"strength"`
	Evidence   []string       `json:"evidence"`
}

// DriverAttribution is the drivers analysis content.
type DriverAttribution struct {
	Market     Market    `json:"market"`
	AsOf       time.Time `json:"asOf"`
	Summary    string    `json:"summary"`
	TopDrivers []Driver  `json:"topDrivers"`
	AllDrivers []Driver  `json:"allDrivers"`
}

// EventType classifies an event card.
type EventType string

const (
	EventGeopolitics EventType = "GEOPOLITICS"
	EventPolicy      EventType = "POLICY"
	EventSupply      EventType = "SUPPLY"
	EventDemand      EventType = "DEMAND"
	EventMacro       EventType = "MACRO"
	EventOther       EventType = "OTHER"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return slices.Contains([]EventType{
		EventGeopolitics, EventPolicy, EventSupply, EventDemand, EventMacro, EventOther,
	}, t)
}

// Impact is an event's expected effect on price.
type Impact string

const (
	ImpactUp        Impact = "UP"
	ImpactDown      Impact = "DOWN"
	ImpactUncertain Impact = "UNCERTAIN"
)

// Valid reports whether i is a known impact.
func (i Impact) Valid() bool {
	return i == ImpactUp || i == ImpactDown || i == ImpactUncertain
}

// EventCard is a single market-moving event.
type EventCard struct {
	EventID       string    `json:"eventId"`
	Ts            time.Time `json:"ts"`
	Title         string    `json:"title"`
	Type          EventType `json:"type"`
	Impact        Impact    `json:"impact"`
	LinkedFactors []string  `json:"linkedFactors"`
	Evidence      []string  `json:"evidence"`
}

// EventTimeline is the events analysis content.
type EventTimeline struct {
	Market     Market      `json:"market"`
	AsOf       time.Time   `json:"asOf"`
	WindowDays int         `json:"windowDays"`
	Events     []EventCard `json:"events"`
}

// Within returns a copy of the timeline holding only events at or after
// since. The receiver is not modified.
func (e EventTimeline) Within(since time.Time, windowDays int) EventTimeline {
	out := e
	out.WindowDays = windowDays
	out.Events = make([]EventCard, 0, len(e.Events))
	for _, ev := range e.Events {
		if !ev.Ts.Before(since) {
			out.Events = append(out.Events, ev)
		}
	}
	return out
}

// Regime is the dominant force behind price action.
type Regime string

const (
	RegimeDemandDriven    Regime = "DEMAND_DRIVEN"
	RegimeSupplyDriven    Regime = "SUPPLY_DRIVEN"
	RegimeEventDriven     Regime = "EVENT_DRIVEN"
	RegimeFinancialDriven Regime = "FINANCIAL_DRIVEN"
	RegimeMixed           Regime = "MIXED"
)

// Valid reports whether r is a known regime.
func (r Regime) Valid() bool {
	return slices.Contains([]Regime{
		RegimeDemandDriven, RegimeSupplyDriven, RegimeEventDriven, RegimeFinancialDriven, RegimeMixed,
	}, r)
}

// Stability describes how entrenched the current regime is.
type Stability string

const (
	StabilityHigh   Stability = "HIGH"
	StabilityMedium Stability = "MEDIUM"
	StabilityLow    Stability = "LOW"
)

// Valid reports whether s is a known stability level.
func (s Stability) Valid() bool {
	return s == StabilityHigh || s == StabilityMedium || s == StabilityLow
}

// RegimeSwitch records a transition between regimes.
type RegimeSwitch struct {
	From   Regime    `json:"from"`
	To     Regime    `json:"to"`
	Ts     time.Time `json:"ts"`
	Reason string    `json:"reason"`
}

// RegimeState is the regime analysis content.
type RegimeState struct {
	Market         Market         `json:"market"`
	AsOf           time.Time      `json:"asOf"`
	Regime         Regime         `json:"regime"`
	Stability      Stability      `json:"stability"`
	Confidence     float64        `json:"confidence"`
	RecentSwitches []RegimeSwitch `json:"recentSwitches"`
	Summary        string         `json:"summary"`
}
