package feed

import (
	"testing"
	"time"
)

func TestFixedInterval(t *testing.T) {
	p := FixedInterval(90 * time.Second)
	if got := p(time.Now()); got != 90*time.Second {
		t.Fatalf("fixed interval = %v, want 90s", got)
	}
}

func TestFixedIntervalDefaultsWhenNonPositive(t *testing.T) {
	p := FixedInterval(0)
	if got := p(time.Now()); got != time.Hour {
		t.Fatalf("default interval = %v, want 1h", got)
	}
}

func TestUntilKlineClose(t *testing.T) {
	// Wednesday 2020-05-06 14:25:30 UTC
	now := time.Date(2020, 5, 6, 14, 25, 30, 0, time.UTC)

	cases := []struct {
		timeframe string
		want      time.Duration
	}{
		{"1m", 30 * time.Second},
		{"5m", 4*time.Minute + 30*time.Second},
		{"1h", 34*time.Minute + 30*time.Second},
		{"4h", time.Hour + 34*time.Minute + 30*time.Second},
		{"1d", 9*time.Hour + 34*time.Minute + 30*time.Second},
		// End of Sunday UTC: 4 full days plus the rest of Wednesday.
		{"1w", 4*24*time.Hour + 9*time.Hour + 34*time.Minute + 30*time.Second},
		{"banana", time.Minute},
	}

	for _, tc := range cases {
		if got := untilKlineClose(tc.timeframe, now); got != tc.want {
			t.Errorf("untilKlineClose(%q) = %v, want %v", tc.timeframe, got, tc.want)
		}
	}
}

func TestUntilKlineCloseNeverZero(t *testing.T) {
	boundary := time.Date(2020, 5, 6, 14, 0, 0, 0, time.UTC)
	if got := untilKlineClose("1h", boundary); got < time.Second {
		t.Fatalf("wait at boundary = %v, must not spin", got)
	}
}

func TestIdentityPathLayout(t *testing.T) {
	cases := []struct {
		id   Identity
		want string
	}{
		{Identity{Kind: Candles, Symbol: "BTCUSDT", Timeframe: "1h"}, "root/Spot/Pairs/BTCUSDT/1h/data.csv"},
		{Identity{Kind: SpotTrades, Symbol: "BTCUSDT"}, "root/Spot/Trades/BTCUSDT/data.csv"},
		{Identity{Kind: SpotOrders, Symbol: "BTCUSDT"}, "root/Spot/Orders/BTCUSDT/data.csv"},
		{Identity{Kind: SpotOpenOrders, Symbol: "BTCUSDT"}, "root/Spot/OpenOrders/BTCUSDT/data.csv"},
		{Identity{Kind: FuturesTrades, Symbol: "BTCUSDT"}, "root/Futures/Trades/BTCUSDT/data.csv"},
		{Identity{Kind: FuturesOrders, Symbol: "BTCUSDT"}, "root/Futures/Orders/BTCUSDT/data.csv"},
		{Identity{Kind: Balance, Symbol: "BTC"}, "root/Balance/BTC/data.csv"},
		{Identity{Kind: SymbolRules, Symbol: "BTCUSDT"}, "root/Rules/BTCUSDT/data.csv"},
	}
	for _, tc := range cases {
		if got := tc.id.Path("root"); got != tc.want {
			t.Errorf("%s path = %s, want %s", tc.id, got, tc.want)
		}
	}
}

func TestBalanceFeedsShareOneTrigger(t *testing.T) {
	btc := Identity{Kind: Balance, Symbol: "BTC"}
	eth := Identity{Kind: Balance, Symbol: "ETH"}
	if btc.TriggerKey() != eth.TriggerKey() {
		t.Fatalf("balance feeds must share a single trigger key")
	}

	a := Identity{Kind: SpotOrders, Symbol: "BTCUSDT"}
	b := Identity{Kind: SpotOrders, Symbol: "ETHUSDT"}
	if a.TriggerKey() == b.TriggerKey() {
		t.Fatalf("per-symbol feeds must not share trigger keys")
	}
}
