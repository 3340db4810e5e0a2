// Package clock maps wall-clock instants to the trading day an analysis
// belongs to.
package clock

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-brief/internal/model"
)

// TimeOfDay is a local wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24-hour).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, eris.Wrapf(err, "clock: parse time of day %q", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns minutes since local midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// EffectiveDate returns the civil date, in loc, that an analysis requested
// at now belongs to. Before cutoff the previous calendar day is still
// current. The result is midnight UTC of that date.
func EffectiveDate(now time.Time, cutoff TimeOfDay, loc *time.Location) time.Time {
	local := now.In(loc)
	if local.Hour()*60+local.Minute() < cutoff.Minutes() {
		// Step back on the civil date; subtracting 24h breaks across DST.
		y, m, d := local.Date()
		return time.Date(y, m, d-1, 0, 0, 0, 0, time.UTC)
	}
	return model.Date(local)
}

// Boundary holds per-analysis-type cutoffs in a single timezone.
type Boundary struct {
	loc     *time.Location
	cutoffs map[model.AnalysisType]TimeOfDay
	now     func() time.Time
}

// Defaults are the cutoffs used when none are configured.
var Defaults = map[model.AnalysisType]TimeOfDay{
	model.AnalysisSnapshot: {Hour: 6},
	model.AnalysisDrivers:  {Hour: 1},
	model.AnalysisRegime:   {Hour: 1, Minute: 10},
	model.AnalysisEvents:   {Hour: 1, Minute: 20},
}

// NewBoundary builds a Boundary from "HH:MM" strings keyed by analysis type
// name. Missing types take their default cutoff.
func NewBoundary(loc *time.Location, cutoffs map[string]string) (*Boundary, error) {
	if loc == nil {
		return nil, eris.New("clock: nil location")
	}
	b := &Boundary{
		loc:     loc,
		cutoffs: make(map[model.AnalysisType]TimeOfDay, len(Defaults)),
		now:     time.Now,
	}
	for typ, tod := range Defaults {
		b.cutoffs[typ] = tod
	}
	for name, raw := range cutoffs {
		typ, err := model.ParseAnalysisType(name)
		if err != nil {
			return nil, eris.Wrap(err, "clock: cutoff")
		}
		tod, err := ParseTimeOfDay(raw)
		if err != nil {
			return nil, err
		}
		b.cutoffs[typ] = tod
	}
	return b, nil
}

// WithNow replaces the time source. Intended for tests.
func (b *Boundary) WithNow(now func() time.Time) *Boundary {
	b.now = now
	return b
}

// Location returns the boundary's timezone.
func (b *Boundary) Location() *time.Location { return b.loc }

// Cutoff returns the cutoff for typ.
func (b *Boundary) Cutoff(typ model.AnalysisType) TimeOfDay { return b.cutoffs[typ] }

// Today returns the current effective date for typ.
func (b *Boundary) Today(typ model.AnalysisType) time.Time {
	return b.At(typ, b.now())
}

// At returns the effective date for typ at instant t.
func (b *Boundary) At(typ model.AnalysisType, t time.Time) time.Time {
	return EffectiveDate(t, b.cutoffs[typ], b.loc)
}

// Resolve returns the date a request should be served for. An explicit asOf
// bypasses the cutoff and uses asOf's civil date in the boundary timezone.
func (b *Boundary) Resolve(typ model.AnalysisType, asOf *time.Time) time.Time {
	if asOf != nil {
		return model.Date(asOf.In(b.loc))
	}
	return b.Today(typ)
}
