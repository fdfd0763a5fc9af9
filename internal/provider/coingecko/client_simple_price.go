package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrDecode wraps malformed response bodies.
	ErrDecode = errors.New("decoding response")
)

// SimplePrice is the price of one coin in one currency.
type SimplePrice struct {
	Price     decimal.Decimal
	Change24h *decimal.Decimal
}

// GetSimplePrice calls /simple/price for ids in vsCurrency. The result is
// keyed by coin id; ids the API does not know are absent.
func (c *APIClient) GetSimplePrice(ctx context.Context, ids []string, vsCurrency string, opts ...APIClientOption) (map[string]SimplePrice, error) {
	var override = &APIClient{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(override)
	}

	vs := strings.ToLower(vsCurrency)
	query := maps.Clone(override.query)
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", vs)
	query.Set("include_24hr_change", "true")
	query.Set("precision", "full")

	url := fmt.Sprintf("%s/simple/price?%s", override.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break

	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("unauthorized")

	case http.StatusTooManyRequests:
		return nil, ErrRateLimited

	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	// {
	//   "solana": {"usd": 142.35, "usd_24h_change": -1.2}
	// }
	var body map[string]map[string]json.Number
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	out := make(map[string]SimplePrice, len(body))
	for id, fields := range body {
		raw, ok := fields[vs]
		if !ok || raw == "" {
			continue
		}
		p, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, fmt.Errorf("%w: price of %s: %w", ErrDecode, id, err)
		}
		sp := SimplePrice{Price: p}
		if ch, ok := fields[vs+"_24h_change"]; ok {
			if d, err := decimal.NewFromString(ch.String()); err == nil {
				sp.Change24h = &d
			}
		}
		out[id] = sp
	}
	return out, nil
}
