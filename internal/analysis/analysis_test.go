package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/market-brief/internal/model"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced json", "Here you go:\n```json\n{\"a\":1}\n```\nthanks", `{"a":1}`},
		{"fenced plain", "```\n{\"a\":2}\n```", `{"a":2}`},
		{"prose around braces", `Sure! {"a":{"b":3}} Hope that helps.`, `{"a":{"b":3}}`},
		{"first fence wins", "```json\n{\"a\":1}\n```\n```json\n{\"a\":2}\n```", `{"a":1}`},
		{"no json", "  sorry, I cannot  ", "sorry, I cannot"},
		{"reversed braces", "} oops {", "} oops {"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestPricesThrough(t *testing.T) {
	prices := series(model.MarketWTI, 5, testDate.AddDate(0, 0, 2), constant(70))
	got := pricesThrough(prices, testDate)
	assert.Len(t, got, 3)
	assert.Equal(t, testDate, got[len(got)-1].TradeDate)

	assert.Empty(t, pricesThrough(prices, testDate.AddDate(0, 0, -10)))
	assert.Len(t, pricesThrough(prices, testDate.AddDate(1, 0, 0)), 5)
}

func TestParseFailure_Error(t *testing.T) {
	err := parseFailure(model.AnalysisRegime, "confidence %v out of range", 1.5)
	assert.Equal(t, "analysis: invalid regime output: confidence 1.5 out of range", err.Error())
}

func TestResultConstructors(t *testing.T) {
	h := Healthy(3)
	assert.False(t, h.Degraded)
	assert.NoError(t, h.Cause)

	d := Degraded(4, assert.AnError)
	assert.True(t, d.Degraded)
	assert.Equal(t, 4, d.Content)
	assert.ErrorIs(t, d.Cause, assert.AnError)
}
