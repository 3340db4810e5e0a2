// Package analysis produces the content of each analysis type. Generators
// are pure with respect to storage: the coordinator supplies price history
// in a Bundle and decides what to persist.
package analysis

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sells-group/market-brief/internal/model"
)

// Searcher returns a news digest for a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Completer returns the completion text for a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Bundle is the read-only generation context for one key: the market's
// daily prices up to the analysis date, oldest first.
type Bundle struct {
	Market model.Market
	Date   time.Time
	Prices []model.DailyPrice
}

// Result is a generator's output. Degraded content is a structurally valid
// fallback; Cause records why generation fell back.
type Result[T any] struct {
	Content  T
	Degraded bool
	Cause    error
}

// Healthy wraps content as a non-degraded result.
func Healthy[T any](content T) Result[T] {
	return Result[T]{Content: content}
}

// Degraded wraps fallback content with its cause.
func Degraded[T any](content T, cause error) Result[T] {
	return Result[T]{Content: content, Degraded: true, Cause: cause}
}

// Generator produces content of type T for a market and civil date. A
// returned error means no content could be produced at all.
type Generator[T any] interface {
	Generate(ctx context.Context, market model.Market, date time.Time, b Bundle) (Result[T], error)
}

// ParseFailure reports model output that could not be decoded into valid
// content.
type ParseFailure struct {
	Type   model.AnalysisType
	Reason string
}

func (e *ParseFailure) Error() string {
	return fmt.Sprintf("analysis: invalid %s output: %s", e.Type, e.Reason)
}

func parseFailure(typ model.AnalysisType, format string, args ...any) *ParseFailure {
	return &ParseFailure{Type: typ, Reason: fmt.Sprintf(format, args...)}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")

// extractJSON pulls the JSON object out of model output: the first fenced
// code block when present, else the span from the first '{' to the last '}'.
func extractJSON(text string) string {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		return text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// pricesThrough returns the prefix of prices (oldest first) dated on or
// before date.
func pricesThrough(prices []model.DailyPrice, date time.Time) []model.DailyPrice {
	limit := model.Date(date)
	n := len(prices)
	for n > 0 && model.Date(prices[n-1].TradeDate).After(limit) {
		n--
	}
	return prices[:n]
}
