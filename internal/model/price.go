package model

import "time"

// PricePoint is a single (timestamp, value) observation.
type PricePoint struct {
	Ts    time.Time `json:"ts"`
	Value float64   `json:"value"`
}

// DailyPrice is one trading day of OHLCV data for a market. FrontMonth and
// SecondMonth are nil when the source does not provide contract prices.
type DailyPrice struct {
	Market      Market    `json:"market"`
	TradeDate   time.Time `json:"trade_date"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      *int64    `json:"volume,omitempty"`
	FrontMonth  *float64  `json:"front_month,omitempty"`
	SecondMonth *float64  `json:"second_month,omitempty"`
}

// Closes extracts close prices in input order.
func Closes(prices []DailyPrice) []float64 {
	out := make([]float64, len(prices))
	for i, p := range prices {
		out[i] = p.Close
	}
	return out
}

// Points converts daily prices to close-price points stamped at midnight UTC.
func Points(prices []DailyPrice) []PricePoint {
	out := make([]PricePoint, len(prices))
	for i, p := range prices {
		out[i] = PricePoint{Ts: Date(p.TradeDate), Value: p.Close}
	}
	return out
}
