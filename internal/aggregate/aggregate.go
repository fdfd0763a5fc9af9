// Package aggregate compares quotes for the same asset gathered from
// several providers.
package aggregate

import (
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"pricetracker/internal/price"
)

// Summary is the cross-provider view of one asset.
type Summary struct {
	Asset price.Asset `json:"asset"`
	// Latest is the newest quote. For equal timestamps, later input wins.
	Latest price.Quote     `json:"latest"`
	Median decimal.Decimal `json:"median_usd"`
	Min    decimal.Decimal `json:"min_usd"`
	Max    decimal.Decimal `json:"max_usd"`
	// SpreadPct is (max-min)/median in percent, rounded to 4 places.
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Sources   []string        `json:"sources"`
}

// ProviderName strips a ":qualifier" suffix from a quote source.
func ProviderName(source string) string {
	s := strings.TrimSpace(source)
	if i := strings.Index(s, ":"); i > 0 {
		return s[:i]
	}
	return s
}

// Summarize groups quotes by asset. Non-positive prices are ignored. The
// result follows the order of price.All.
func Summarize(quotes []price.Quote) []Summary {
	byAsset := make(map[price.Asset][]price.Quote)
	for _, q := range quotes {
		if !q.USD.IsPositive() {
			continue
		}
		byAsset[q.Asset] = append(byAsset[q.Asset], q)
	}

	out := make([]Summary, 0, len(byAsset))
	for a, qs := range byAsset {
		out = append(out, summarize(a, qs))
	}
	order := make(map[price.Asset]int)
	for i, a := range price.All() {
		order[a] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Asset] < order[out[j].Asset] })
	return out
}

func summarize(a price.Asset, qs []price.Quote) Summary {
	s := Summary{Asset: a, Latest: qs[0]}
	prices := make([]decimal.Decimal, 0, len(qs))
	for _, q := range qs {
		if !s.Latest.Newer(q) {
			s.Latest = q
		}
		prices = append(prices, q.USD)
		if name := ProviderName(q.Source); !slices.Contains(s.Sources, name) {
			s.Sources = append(s.Sources, name)
		}
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })

	s.Min, s.Max = prices[0], prices[len(prices)-1]
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		s.Median = prices[mid]
	} else {
		s.Median = prices[mid-1].Add(prices[mid]).Div(decimal.NewFromInt(2))
	}
	s.SpreadPct = s.Max.Sub(s.Min).Div(s.Median).Mul(decimal.NewFromInt(100)).Round(4)
	return s
}
