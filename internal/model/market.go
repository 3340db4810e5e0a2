package model

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Market identifies a supported crude benchmark.
type Market string

const (
	MarketWTI   Market = "WTI"
	MarketBrent Market = "Brent"
)

// ErrInvalidMarket is returned for market symbols outside the catalog.
var ErrInvalidMarket = eris.New("invalid market")

// MarketInfo describes a benchmark: its quote ticker, display name and
// the phrase used when searching for news about it.
type MarketInfo struct {
	Symbol Market `yaml:"symbol"`
	Ticker string `yaml:"ticker"`
	Name   string `yaml:"name"`
	Search string `yaml:"search"`
}

//go:embed markets.yaml
var marketsYAML []byte

var catalog = mustLoadCatalog(marketsYAML)

func mustLoadCatalog(data []byte) []MarketInfo {
	markets, err := loadCatalog(data)
	if err != nil {
		panic(err)
	}
	return markets
}

func loadCatalog(data []byte) ([]MarketInfo, error) {
	var doc struct {
		Markets []MarketInfo `yaml:"markets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "model: decode market catalog")
	}
	if len(doc.Markets) == 0 {
		return nil, eris.New("model: market catalog is empty")
	}
	for _, m := range doc.Markets {
		if m.Symbol == "" || m.Ticker == "" {
			return nil, eris.Errorf("model: market catalog entry missing symbol or ticker: %+v", m)
		}
	}
	return doc.Markets, nil
}

// Markets returns every supported market in catalog order.
func Markets() []Market {
	out := make([]Market, len(catalog))
	for i, m := range catalog {
		out[i] = m.Symbol
	}
	return out
}

// ParseMarket resolves a user-supplied symbol case-insensitively.
func ParseMarket(s string) (Market, error) {
	s = strings.TrimSpace(s)
	for _, m := range catalog {
		if strings.EqualFold(string(m.Symbol), s) {
			return m.Symbol, nil
		}
	}
	return "", eris.Wrapf(ErrInvalidMarket, "%q", s)
}

// Info returns catalog details for m. The zero value is returned for
// unknown markets.
func (m Market) Info() MarketInfo {
	for _, info := range catalog {
		if info.Symbol == m {
			return info
		}
	}
	return MarketInfo{}
}

// Valid reports whether m is in the catalog.
func (m Market) Valid() bool {
	return m.Info().Symbol != ""
}

func (m Market) String() string { return string(m) }
