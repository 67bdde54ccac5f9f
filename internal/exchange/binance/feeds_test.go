package binance

import (
	"errors"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

func TestKlineBatch(t *testing.T) {
	ks := []*binance.Kline{
		{
			OpenTime: 1588770000000, Open: "9500.1", High: "9600.0",
			Low: "9400.5", Close: "9550.2", Volume: "123.4",
			CloseTime: 1588773599999, QuoteAssetVolume: "1180000.5",
			TradeNum: 4521, TakerBuyBaseAssetVolume: "60.1",
			TakerBuyQuoteAssetVolume: "574000.2",
		},
		{OpenTime: 1588773600000, Open: "9550.2", Close: "9555.0"},
	}

	b := klineBatch(ks)
	if len(b.Schema) != 11 || b.Schema[0] != "date" {
		t.Fatalf("unexpected schema: %v", b.Schema)
	}
	if b.Len() != 2 {
		t.Fatalf("unexpected rows: %d", b.Len())
	}
	first := b.Records[0]
	if first.Key != 1588770000000 {
		t.Errorf("key should be open time, got %d", first.Key)
	}
	if len(first.Values) != len(b.Schema) {
		t.Errorf("row width %d does not match schema width %d", len(first.Values), len(b.Schema))
	}
	if first.Values[4] != "9550.2" {
		t.Errorf("unexpected close value: %s", first.Values[4])
	}
}

func TestSpotTradeBatchKeyedByTradeID(t *testing.T) {
	ts := []*binance.TradeV3{
		{ID: 101, OrderID: 55, Price: "100.5", Quantity: "2",
			QuoteQuantity: "201", Commission: "0.001", CommissionAsset: "BNB",
			Time: 1588770000123, IsBuyer: true, IsMaker: false},
		{ID: 102, OrderID: 55, Price: "100.6", Quantity: "1",
			Time: 1588770000123},
	}

	b := spotTradeBatch(ts)
	if b.Records[0].Key != 101 || b.Records[1].Key != 102 {
		t.Errorf("keys should be trade ids: %d %d", b.Records[0].Key, b.Records[1].Key)
	}
	if b.Records[0].Values[8] != "true" || b.Records[0].Values[9] != "false" {
		t.Errorf("unexpected flags: %v", b.Records[0].Values)
	}
	for _, rec := range b.Records {
		if len(rec.Values) != len(b.Schema) {
			t.Fatalf("row width mismatch: %v", rec.Values)
		}
	}
}

func TestSpotOrderBatch(t *testing.T) {
	os := []*binance.Order{
		{OrderID: 7, ClientOrderID: "abc", Side: binance.SideTypeBuy,
			Type: binance.OrderTypeLimit, Status: binance.OrderStatusTypeFilled,
			Price: "100", OrigQuantity: "1", ExecutedQuantity: "1",
			CummulativeQuoteQuantity: "100",
			TimeInForce:              binance.TimeInForceTypeGTC,
			Time:                     1588770000000, UpdateTime: 1588770001000},
	}

	b := spotOrderBatch(os)
	rec := b.Records[0]
	if rec.Key != 7 {
		t.Errorf("key should be order id, got %d", rec.Key)
	}
	if rec.Values[3] != "BUY" || rec.Values[5] != "FILLED" {
		t.Errorf("unexpected side/status: %v", rec.Values)
	}
	if len(rec.Values) != len(b.Schema) {
		t.Errorf("row width mismatch")
	}
}

func TestFuturesBatches(t *testing.T) {
	tb := futuresTradeBatch([]*futures.AccountTrade{
		{ID: 3, OrderID: 9, Side: futures.SideTypeSell, Price: "9500",
			Quantity: "0.5", QuoteQuantity: "4750", RealizedPnl: "12.5",
			Commission: "0.01", CommissionAsset: "USDT", Time: 1588770000000},
	})
	if tb.Records[0].Key != 3 || tb.Records[0].Values[7] != "12.5" {
		t.Errorf("unexpected futures trade row: %v", tb.Records[0])
	}

	ob := futuresOrderBatch([]*futures.Order{
		{OrderID: 11, Side: futures.SideTypeBuy, Type: futures.OrderTypeLimit,
			Status: futures.OrderStatusTypeNew, Price: "9500",
			OrigQuantity: "1", ExecutedQuantity: "0", StopPrice: "0",
			Time: 1588770000000, UpdateTime: 1588770000000},
	})
	if ob.Records[0].Key != 11 || ob.Records[0].Values[4] != "NEW" {
		t.Errorf("unexpected futures order row: %v", ob.Records[0])
	}
}

func TestBalanceBatch(t *testing.T) {
	acct := &binance.Account{Balances: []binance.Balance{
		{Asset: "BTC", Free: "0.5", Locked: "0.1"},
		{Asset: "USDT", Free: "1000", Locked: "0"},
	}}

	b := balanceBatch(acct, "BTC", 1588770000000)
	rec := b.Records[0]
	if rec.Key != 1588770000000 {
		t.Errorf("key should be fetch time, got %d", rec.Key)
	}
	if rec.Values[2] != "0.5" || rec.Values[3] != "0.1" {
		t.Errorf("unexpected balance row: %v", rec.Values)
	}

	// Assets missing from the account report zeros, not an error.
	missing := balanceBatch(acct, "ETH", 1588770000000)
	if missing.Records[0].Values[2] != "0" || missing.Records[0].Values[3] != "0" {
		t.Errorf("missing asset should report zero balances: %v", missing.Records[0].Values)
	}
}

func TestRuleBatchFiltersBySymbol(t *testing.T) {
	info := &binance.ExchangeInfo{Symbols: []binance.Symbol{
		{Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT"},
		{Symbol: "ETHUSDT", Status: "TRADING", BaseAsset: "ETH", QuoteAsset: "USDT"},
	}}

	b := ruleBatch(info, "BTCUSDT", 1588770000000)
	if b.Len() != 1 {
		t.Fatalf("expected one rule row, got %d", b.Len())
	}
	rec := b.Records[0]
	if rec.Values[1] != "BTCUSDT" || rec.Values[3] != "BTC" {
		t.Errorf("unexpected rule row: %v", rec.Values)
	}
	if len(rec.Values) != len(b.Schema) {
		t.Errorf("row width mismatch")
	}
}

func TestIsUnknownOrder(t *testing.T) {
	if !isUnknownOrder(&common.APIError{Code: codeUnknownOrder, Message: "Unknown order sent."}) {
		t.Error("unknown-order code not recognised")
	}
	if isUnknownOrder(&common.APIError{Code: -1003}) {
		t.Error("rate limit code treated as unknown order")
	}
	if isUnknownOrder(errors.New("plain error")) {
		t.Error("plain error treated as unknown order")
	}
}

func TestAPIErrRetryable(t *testing.T) {
	for _, code := range []int64{-1000, -1001, -1003, -1007, -1021} {
		if !apiErrRetryable(code) {
			t.Errorf("code %d should be retryable", code)
		}
	}
	for _, code := range []int64{-2011, -2010, -1100} {
		if apiErrRetryable(code) {
			t.Errorf("code %d should not be retryable", code)
		}
	}
}
