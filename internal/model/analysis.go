package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the canonical civil-date format used in keys and storage.
const DateLayout = "2006-01-02"

// AnalysisType names one of the four analysis artifacts produced per market per day.
type AnalysisType string

const (
	AnalysisSnapshot AnalysisType = "snapshot"
	AnalysisDrivers  AnalysisType = "drivers"
	AnalysisEvents   AnalysisType = "events"
	AnalysisRegime   AnalysisType = "regime"
)

// ErrInvalidAnalysisType is returned for unknown analysis type names.
var ErrInvalidAnalysisType = eris.New("invalid analysis type")

// AnalysisTypes lists every analysis type in scheduling order.
func AnalysisTypes() []AnalysisType {
	return []AnalysisType{AnalysisSnapshot, AnalysisDrivers, AnalysisRegime, AnalysisEvents}
}

// ParseAnalysisType resolves a type name case-insensitively.
func ParseAnalysisType(s string) (AnalysisType, error) {
	t := AnalysisType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AnalysisTypes() {
		if t == known {
			return t, nil
		}
	}
	return "", eris.Wrapf(ErrInvalidAnalysisType, "%q", s)
}

// Date truncates t to its civil date in t's location and returns it as
// midnight UTC, so dates compare with == regardless of source zone.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "model: parse date %q", s)
	}
	return t, nil
}

// AnalysisKey uniquely identifies one analysis artifact per day.
type AnalysisKey struct {
	Market Market       `json:"market"`
	Type   AnalysisType `json:"type"`
	Date   time.Time    `json:"date"`
}

// NewKey builds a key, normalizing date to a civil date.
func NewKey(market Market, typ AnalysisType, date time.Time) AnalysisKey {
	return AnalysisKey{Market: market, Type: typ, Date: Date(date)}
}

// DateString formats the key's date as YYYY-MM-DD.
func (k AnalysisKey) DateString() string {
	return k.Date.Format(DateLayout)
}

// CacheKey returns the cache-tier key: {type}:{market}:{date}.
func (k AnalysisKey) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s", k.Type, k.Market, k.DateString())
}

func (k AnalysisKey) String() string { return k.CacheKey() }

// Record is a persisted analysis artifact. Content holds the JSON payload
// of the analysis type's content struct.
type Record struct {
	ID        string          `json:"id"`
	Key       AnalysisKey     `json:"key"`
	Content   json.RawMessage `json:"content"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
