package analysis

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/market-brief/internal/model"
)

var testDate = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, query string) (string, error) {
	args := m.Called(ctx, query)
	return args.String(0), args.Error(1)
}

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

// series builds n consecutive daily prices ending on end, with closes from
// closeAt(i) for i in [0, n).
func series(market model.Market, n int, end time.Time, closeAt func(i int) float64) []model.DailyPrice {
	out := make([]model.DailyPrice, n)
	for i := range n {
		c := closeAt(i)
		out[i] = model.DailyPrice{
			Market:    market,
			TradeDate: end.AddDate(0, 0, i-n+1),
			Open:      c - 0.5,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
		}
	}
	return out
}

func constant(v float64) func(int) float64 { return func(int) float64 { return v } }

func ptr[T any](v T) *T { return &v }
