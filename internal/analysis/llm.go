package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/market-brief/internal/model"
)

// NoNewsMarker replaces the news section when search fails or finds nothing.
const NoNewsMarker = "(no news available)"

// promptSpec describes one LLM-backed analysis type.
type promptSpec[T any] struct {
	typ    model.AnalysisType
	system string
	query  func(info model.MarketInfo, date time.Time) string
	task   string
	decode func(raw string, market model.Market, date time.Time) (T, error)
	// fallback is the degraded content returned when generation fails.
	fallback func(market model.Market, date time.Time) T
}

// LLMGenerator searches for news, asks the completer for a JSON answer and
// validates it. Any completion or validation failure yields the type's
// fallback content marked degraded; search failure only empties the news
// section.
type LLMGenerator[T any] struct {
	spec      promptSpec[T]
	searcher  Searcher
	completer Completer
}

// Type returns the analysis type this generator produces.
func (g *LLMGenerator[T]) Type() model.AnalysisType { return g.spec.typ }

// Generate never returns an error; failures surface as degraded results.
func (g *LLMGenerator[T]) Generate(ctx context.Context, market model.Market, date time.Time, b Bundle) (Result[T], error) {
	log := zap.L().With(
		zap.String("market", market.String()),
		zap.String("type", string(g.spec.typ)),
		zap.String("date", date.Format(model.DateLayout)),
	)

	news := g.news(ctx, log, market, date)
	prompt := buildPrompt(g.spec.task, PriceContext(b), news)

	text, err := g.completer.Complete(ctx, g.spec.system, prompt)
	if err != nil {
		log.Warn("analysis: completion failed, returning fallback", zap.Error(err))
		return Degraded(g.spec.fallback(market, date), err), nil
	}

	content, err := g.spec.decode(extractJSON(text), market, date)
	if err != nil {
		log.Warn("analysis: invalid completion, returning fallback",
			zap.Error(err),
			zap.String("output_head", head(text, 300)),
		)
		return Degraded(g.spec.fallback(market, date), err), nil
	}
	return Healthy(content), nil
}

func (g *LLMGenerator[T]) news(ctx context.Context, log *zap.Logger, market model.Market, date time.Time) string {
	if g.searcher == nil {
		return NoNewsMarker
	}
	query := g.spec.query(market.Info(), date)
	text, err := g.searcher.Search(ctx, query)
	if err != nil {
		log.Warn("analysis: news search failed, continuing without news", zap.String("query", query), zap.Error(err))
		return NoNewsMarker
	}
	if strings.TrimSpace(text) == "" {
		return NoNewsMarker
	}
	return text
}

func buildPrompt(task, priceContext, news string) string {
	return fmt.Sprintf("%s\n\n=== Market data ===\n%s\n=== Latest news ===\n%s\n", task, priceContext, news)
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
