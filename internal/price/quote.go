package price

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest known USD price of an asset as reported by one source.
// A Quote is never mutated after construction; every update is a new value.
type Quote struct {
	Asset     Asset            `json:"asset"`
	USD       decimal.Decimal  `json:"price_usd"`
	Change24h *decimal.Decimal `json:"price_change_24h,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source"`
}

// NewQuote stamps a quote with the current time.
func NewQuote(asset Asset, usd decimal.Decimal, source string) Quote {
	return Quote{Asset: asset, USD: usd, Timestamp: time.Now().UTC(), Source: source}
}

// Age is how old the quote is at now. Quotes from the future have age zero.
func (q Quote) Age(now time.Time) time.Duration {
	if d := now.Sub(q.Timestamp); d > 0 {
		return d
	}
	return 0
}

// IsStale reports whether the quote is older than threshold at now.
func (q Quote) IsStale(now time.Time, threshold time.Duration) bool {
	return now.Sub(q.Timestamp) > threshold
}

// Newer reports whether q was produced after other. Quotes are ordered
// only by timestamp.
func (q Quote) Newer(other Quote) bool {
	return q.Timestamp.After(other.Timestamp)
}
