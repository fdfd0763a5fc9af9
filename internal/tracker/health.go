package tracker

import (
	"fmt"
	"time"

	"pricetracker/internal/metrics"
	"pricetracker/internal/price"
)

// Status is the overall health verdict.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

type AssetHealth struct {
	Asset      price.Asset `json:"asset"`
	Available  bool        `json:"available"`
	Stale      bool        `json:"stale"`
	Source     string      `json:"source,omitempty"`
	PriceUSD   string      `json:"price_usd,omitempty"`
	LastUpdate time.Time   `json:"last_update,omitzero"`
	Age        string      `json:"age,omitempty"`
}

type HealthStatus struct {
	Status              Status                    `json:"status"`
	Message             string                    `json:"message"`
	Mode                Mode                      `json:"mode"`
	ActiveProvider      string                    `json:"active_provider"`
	OnBackup            bool                      `json:"on_backup"`
	ConsecutiveFailures int64                     `json:"consecutive_failures"`
	LastSuccess         time.Time                 `json:"last_success,omitzero"`
	Assets              []AssetHealth             `json:"assets"`
	Providers           []metrics.ProviderMetrics `json:"providers"`
	CheckedAt           time.Time                 `json:"checked_at"`
}

// HealthCheck reports mode, freshness per asset and whether the chain has
// fallen back to a backup. It is unhealthy when no asset has fresh data,
// degraded when some asset is missing or stale, a backup is serving, or
// DegradedAfter consecutive cycles failed.
func (t *Tracker) HealthCheck() HealthStatus {
	now := time.Now().UTC()
	h := HealthStatus{
		Mode:                t.Mode(),
		ActiveProvider:      t.ActiveProvider(),
		OnBackup:            t.active.Load() > 0,
		ConsecutiveFailures: t.failures.Load(),
		Providers:           t.metrics.All(),
		CheckedAt:           now,
	}
	if ls := t.lastSuccess.Load(); ls != nil {
		h.LastSuccess = *ls
	}

	fresh, stale := 0, 0
	for _, a := range t.store.Assets() {
		ah := AssetHealth{Asset: a}
		q, ok := t.store.Get(a)
		if ok {
			ah.Available = true
			ah.Source = q.Source
			ah.PriceUSD = q.USD.String()
			ah.LastUpdate, _ = t.store.UpdatedAt(a)
			ah.Age = q.Age(now).Round(time.Millisecond).String()
			ah.Stale = q.IsStale(now, t.threshold(a))
		} else {
			ah.Stale = true
		}
		if ah.Stale {
			stale++
		} else {
			fresh++
		}
		h.Assets = append(h.Assets, ah)
	}

	switch {
	case fresh == 0:
		h.Status = Unhealthy
		h.Message = "no fresh price data available"
	case stale > 0:
		h.Status = Degraded
		h.Message = fmt.Sprintf("%d of %d assets missing or stale", stale, len(h.Assets))
	case h.ConsecutiveFailures >= int64(t.cfg.DegradedAfter):
		h.Status = Degraded
		h.Message = fmt.Sprintf("%d consecutive refresh failures", h.ConsecutiveFailures)
	case h.OnBackup:
		h.Status = Degraded
		h.Message = "serving from backup provider " + h.ActiveProvider
	default:
		h.Status = Healthy
		h.Message = "operational with fresh data"
	}
	return h
}
