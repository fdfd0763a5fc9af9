package price

import (
	"fmt"
	"strings"
	"time"
)

// Asset identifies a tracked instrument. The set is closed: only the
// constants below are valid.
type Asset string

const (
	SOL  Asset = "SOL"
	BTC  Asset = "BTC"
	ETH  Asset = "ETH"
	USDC Asset = "USDC"
	USDT Asset = "USDT"
	WBTC Asset = "WBTC"
	WETH Asset = "WETH"
)

type assetInfo struct {
	coingeckoID string
	hyperliquid string
	pythFeedID  string
	stale       time.Duration
}

var catalogue = map[Asset]assetInfo{
	SOL:  {"solana", "SOL", "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d", 120 * time.Second},
	BTC:  {"bitcoin", "BTC", "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43", 180 * time.Second},
	ETH:  {"ethereum", "ETH", "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace", 120 * time.Second},
	USDC: {"usd-coin", "USDC", "0xeaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a", 300 * time.Second},
	USDT: {"tether", "USDT", "0x2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b", 300 * time.Second},
	WBTC: {"wrapped-bitcoin", "WBTC", "0xc9d8b075a5c69303365ae23633d4e085199bf5c520a3b90fed1322a0342ffc33", 180 * time.Second},
	WETH: {"weth", "WETH", "0x9d4294bbcd1174d6f2003ec365831e64cc31d9f6f15a2b85399db8d5000960f6", 180 * time.Second},
}

// All returns every supported asset in a stable order.
func All() []Asset {
	return []Asset{SOL, BTC, ETH, USDC, USDT, WBTC, WETH}
}

// ParseAsset resolves a symbol case-insensitively.
func ParseAsset(s string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalogue[a]; !ok {
		return "", fmt.Errorf("unknown asset %q", s)
	}
	return a, nil
}

// ParseAssets parses a list of symbols, dropping duplicates while keeping order.
func ParseAssets(ss []string) ([]Asset, error) {
	out := make([]Asset, 0, len(ss))
	seen := make(map[Asset]struct{}, len(ss))
	for _, s := range ss {
		a, err := ParseAsset(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out, nil
}

func (a Asset) String() string { return string(a) }

// Valid reports whether a is part of the supported set.
func (a Asset) Valid() bool {
	_, ok := catalogue[a]
	return ok
}

// CoinGeckoID is the id used by the CoinGecko simple price API.
func (a Asset) CoinGeckoID() string { return catalogue[a].coingeckoID }

// HyperliquidSymbol is the coin name used in Hyperliquid mids.
func (a Asset) HyperliquidSymbol() string { return catalogue[a].hyperliquid }

// PythFeedID is the hex price feed id (0x-prefixed) on Pyth Hermes.
func (a Asset) PythFeedID() string { return catalogue[a].pythFeedID }

// DefaultStaleThreshold is used when no threshold is configured.
// Stablecoins tolerate older data than volatile assets.
func (a Asset) DefaultStaleThreshold() time.Duration {
	if d := catalogue[a].stale; d > 0 {
		return d
	}
	return 300 * time.Second
}
