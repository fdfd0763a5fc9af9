package price

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType names a tracker event.
type EventType string

const (
	PriceUpdated          EventType = "PRICE_UPDATED"
	PriceFetchFailed      EventType = "PRICE_FETCH_FAILED"
	ProviderStatusChanged EventType = "PROVIDER_STATUS_CHANGED"
)

// ProviderStatus is the coarse state of a provider as seen by the tracker.
type ProviderStatus string

const (
	ProviderHealthy     ProviderStatus = "healthy"
	ProviderDegraded    ProviderStatus = "degraded"
	ProviderUnavailable ProviderStatus = "unavailable"
)

// Event is published on the tracker's event hub. Only the fields relevant
// to Type are set.
type Event struct {
	ID        uuid.UUID        `json:"id"`
	Type      EventType        `json:"type"`
	Asset     Asset            `json:"asset,omitempty"`
	OldUSD    *decimal.Decimal `json:"old_price_usd,omitempty"`
	NewUSD    *decimal.Decimal `json:"new_price_usd,omitempty"`
	Provider  string           `json:"provider,omitempty"`
	Status    ProviderStatus   `json:"status,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// UpdatedEvent describes a store write. prev may be nil.
func UpdatedEvent(q Quote, prev *Quote) Event {
	usd := q.USD
	ev := Event{ID: uuid.New(), Type: PriceUpdated, Asset: q.Asset, NewUSD: &usd, Provider: q.Source, Timestamp: time.Now().UTC()}
	if prev != nil {
		old := prev.USD
		ev.OldUSD = &old
	}
	return ev
}

// FetchFailedEvent describes a failed fetch cycle for an asset.
func FetchFailedEvent(a Asset, err error) Event {
	return Event{ID: uuid.New(), Type: PriceFetchFailed, Asset: a, Message: err.Error(), Timestamp: time.Now().UTC()}
}

// StatusEvent describes a provider status change.
func StatusEvent(provider string, status ProviderStatus, msg string) Event {
	return Event{ID: uuid.New(), Type: ProviderStatusChanged, Provider: provider, Status: status, Message: msg, Timestamp: time.Now().UTC()}
}

func (e Event) String() string {
	switch e.Type {
	case PriceUpdated:
		return fmt.Sprintf("Price updated: %s = $%s", e.Asset, e.NewUSD.StringFixed(2))
	case PriceFetchFailed:
		return fmt.Sprintf("Price fetch failed for %s: %s", e.Asset, e.Message)
	case ProviderStatusChanged:
		return fmt.Sprintf("Provider %s status: %s", e.Provider, e.Status)
	default:
		return string(e.Type)
	}
}
