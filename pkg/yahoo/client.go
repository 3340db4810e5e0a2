// Package yahoo fetches daily futures bars from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/market-brief/internal/resilience"
)

const (
	defaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultUserAgent = "Mozilla/5.0 (compatible; market-brief/1.0)"
)

// Bar is one daily OHLCV bar. Date is the trading date in the exchange's
// timezone, at midnight UTC.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume *int64
}

// Client fetches daily bars for a ticker.
type Client interface {
	DailyBars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit throttles requests to perSec.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

// WithPolicy wraps every request in a retry and circuit breaker policy.
func WithPolicy(p *resilience.Policy) Option {
	return func(c *httpClient) { c.policy = p }
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  *resilience.Policy
}

// NewClient creates a chart API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol               string `json:"symbol"`
		ExchangeTimezoneName string `json:"exchangeTimezoneName"`
		GMTOffset            int    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// DailyBars returns bars for trading dates in [start, end], oldest first.
// Bars without a close are skipped; prices are rounded to cents.
func (c *httpClient) DailyBars(ctx context.Context, ticker string, start, end time.Time) ([]Bar, error) {
	if end.Before(start) {
		return nil, eris.Errorf("yahoo: end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", strconv.FormatInt(start.Unix(), 10))
	// period2 is exclusive.
	q.Set("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))
	endpoint := c.baseURL + "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + q.Encode()

	body, err := resilience.Call(ctx, c.policy, "chart", func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "yahoo: unmarshal chart")
	}
	if resp.Chart.Error != nil {
		return nil, eris.Errorf("yahoo: chart %s: %s: %s", ticker, resp.Chart.Error.Code, resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, eris.Errorf("yahoo: chart %s: empty result", ticker)
	}
	return parseBars(resp.Chart.Result[0], start, end), nil
}

func (c *httpClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "yahoo: rate limit wait")
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "yahoo: create request")
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "yahoo: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "yahoo: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resilience.StatusError("yahoo", resp.StatusCode, body)
	}
	return body, nil
}

func parseBars(r chartResult, start, end time.Time) []Bar {
	if len(r.Indicators.Quote) == 0 {
		return nil
	}
	quote := r.Indicators.Quote[0]
	loc := exchangeLocation(r.Meta.ExchangeTimezoneName, r.Meta.GMTOffset)
	first := civil(start)
	last := civil(end)

	bars := make([]Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		closePx := at(quote.Close, i)
		if closePx == nil {
			continue
		}
		date := civil(time.Unix(ts, 0).In(loc))
		if date.Before(first) || date.After(last) {
			continue
		}
		bar := Bar{
			Date:  date,
			Close: cents(*closePx),
		}
		bar.Open = orClose(at(quote.Open, i), bar.Close)
		bar.High = orClose(at(quote.High, i), bar.Close)
		bar.Low = orClose(at(quote.Low, i), bar.Close)
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			v := *quote.Volume[i]
			bar.Volume = &v
		}
		// Yahoo repeats the live bar when the session is open.
		if n := len(bars); n > 0 && bars[n-1].Date.Equal(date) {
			bars[n-1] = bar
			continue
		}
		bars = append(bars, bar)
	}
	return bars
}

func exchangeLocation(name string, gmtOffset int) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.FixedZone("exchange", gmtOffset)
}

func at(xs []*float64, i int) *float64 {
	if i < len(xs) {
		return xs[i]
	}
	return nil
}

func orClose(v *float64, closePx float64) float64 {
	if v == nil {
		return closePx
	}
	return cents(*v)
}

func cents(v float64) float64 {
	return math.Round(v*100) / 100
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
