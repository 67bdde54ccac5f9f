// Package feed defines feed identities and runs the per-feed refresh
// loops that keep the persisted series current.
package feed

import (
	"fmt"
	"path/filepath"
)

// Kind enumerates the logical feed kinds the cache maintains.
type Kind string

const (
	Candles        Kind = "candles"
	SpotTrades     Kind = "spot-trades"
	SpotOrders     Kind = "spot-orders"
	SpotOpenOrders Kind = "spot-open-orders"
	FuturesTrades  Kind = "futures-trades"
	FuturesOrders  Kind = "futures-orders"
	Balance        Kind = "balance"
	SymbolRules    Kind = "symbol-rules"
)

// Identity uniquely identifies one persisted series: a feed kind, a
// symbol (or asset for balance feeds) and, for candles, a timeframe.
type Identity struct {
	Kind      Kind
	Symbol    string
	Timeframe string
}

func (id Identity) String() string {
	if id.Timeframe != "" {
		return fmt.Sprintf("%s/%s/%s", id.Kind, id.Symbol, id.Timeframe)
	}
	return fmt.Sprintf("%s/%s", id.Kind, id.Symbol)
}

// Path maps the identity onto its backing store location under the
// storage root, one file per feed identity.
func (id Identity) Path(root string) string {
	switch id.Kind {
	case Candles:
		return filepath.Join(root, "Spot", "Pairs", id.Symbol, id.Timeframe, "data.csv")
	case SpotTrades:
		return filepath.Join(root, "Spot", "Trades", id.Symbol, "data.csv")
	case SpotOrders:
		return filepath.Join(root, "Spot", "Orders", id.Symbol, "data.csv")
	case SpotOpenOrders:
		return filepath.Join(root, "Spot", "OpenOrders", id.Symbol, "data.csv")
	case FuturesTrades:
		return filepath.Join(root, "Futures", "Trades", id.Symbol, "data.csv")
	case FuturesOrders:
		return filepath.Join(root, "Futures", "Orders", id.Symbol, "data.csv")
	case Balance:
		return filepath.Join(root, "Balance", id.Symbol, "data.csv")
	case SymbolRules:
		return filepath.Join(root, "Rules", id.Symbol, "data.csv")
	default:
		return filepath.Join(root, string(id.Kind), id.Symbol, "data.csv")
	}
}

// TriggerKey names the hot trigger registration slot for an identity.
// Balance feeds share one trigger across all assets; every other feed
// gets its own per-symbol trigger. Candle timeframes of one symbol also
// share a trigger, since a stale candle view is stale for every frame.
type TriggerKey struct {
	Kind   Kind
	Symbol string
}

// TriggerKey returns the trigger slot this identity registers under.
func (id Identity) TriggerKey() TriggerKey {
	if id.Kind == Balance {
		return TriggerKey{Kind: Balance}
	}
	return TriggerKey{Kind: id.Kind, Symbol: id.Symbol}
}
