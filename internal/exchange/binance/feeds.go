package binance

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"mafin/internal/store"
)

// Feed schemas. The first column is always the synchronization key:
// open time for candles, exchange-assigned ids for trades and orders
// (strictly increasing, so merges stay idempotent even when trades
// share a timestamp), fetch time for the snapshot feeds.
var (
	klineSchema = []string{
		"date", "open", "high", "low", "close", "vol",
		"close_date", "quote_vol", "n_trades",
		"taker_buy_base_vol", "taker_buy_quote_vol",
	}
	spotTradeSchema = []string{
		"trade_id", "date", "order_id", "price", "qty", "quote_qty",
		"commission", "commission_asset", "is_buyer", "is_maker",
	}
	spotOrderSchema = []string{
		"order_id", "date", "client_order_id", "side", "type", "status",
		"price", "orig_qty", "executed_qty", "cummulative_quote_qty",
		"time_in_force", "update_time",
	}
	futuresTradeSchema = []string{
		"trade_id", "date", "order_id", "side", "price", "qty",
		"quote_qty", "realized_pnl", "commission", "commission_asset",
	}
	futuresOrderSchema = []string{
		"order_id", "date", "side", "type", "status", "price",
		"orig_qty", "executed_qty", "stop_price", "update_time",
	}
	balanceSchema = []string{"date", "asset", "free", "locked"}
	ruleSchema    = []string{
		"date", "symbol", "status", "base_asset", "quote_asset",
		"min_price", "max_price", "tick_size",
		"min_qty", "max_qty", "step_size", "min_notional",
	}
)

func i64(v int64) string {
	return strconv.FormatInt(v, 10)
}

func b2s(v bool) string {
	return strconv.FormatBool(v)
}

// Klines fetches candles for one symbol and timeframe. A non-zero since
// resumes from the last stored open time.
func (c *Client) Klines(ctx context.Context, symbol, timeframe string, since int64) (store.Batch, error) {
	var ks []*binance.Kline
	err := c.do(ctx, "klines "+symbol+" "+timeframe, func(ctx context.Context) error {
		svc := c.spot.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(fetchLimit)
		if since > 0 {
			svc = svc.StartTime(since)
		}
		var err error
		ks, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return klineBatch(ks), nil
}

func klineBatch(ks []*binance.Kline) store.Batch {
	b := store.Batch{Schema: klineSchema}
	for _, k := range ks {
		b.Records = append(b.Records, store.Record{
			Key: k.OpenTime,
			Values: []string{
				i64(k.OpenTime), k.Open, k.High, k.Low, k.Close, k.Volume,
				i64(k.CloseTime), k.QuoteAssetVolume, i64(k.TradeNum),
				k.TakerBuyBaseAssetVolume, k.TakerBuyQuoteAssetVolume,
			},
		})
	}
	return b
}

// SpotTrades fetches the account's trades for one symbol. A non-zero
// since resumes from that trade id.
func (c *Client) SpotTrades(ctx context.Context, symbol string, since int64) (store.Batch, error) {
	var ts []*binance.TradeV3
	err := c.do(ctx, "spot trades "+symbol, func(ctx context.Context) error {
		svc := c.spot.NewListTradesService().Symbol(symbol).Limit(fetchLimit)
		if since > 0 {
			svc = svc.FromID(since)
		} else if c.tradesStart > 0 {
			svc = svc.StartTime(c.tradesStart)
		}
		var err error
		ts, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return spotTradeBatch(ts), nil
}

func spotTradeBatch(ts []*binance.TradeV3) store.Batch {
	b := store.Batch{Schema: spotTradeSchema}
	for _, t := range ts {
		b.Records = append(b.Records, store.Record{
			Key: t.ID,
			Values: []string{
				i64(t.ID), i64(t.Time), i64(t.OrderID), t.Price, t.Quantity,
				t.QuoteQuantity, t.Commission, t.CommissionAsset,
				b2s(t.IsBuyer), b2s(t.IsMaker),
			},
		})
	}
	return b
}

// SpotOrders fetches the account's order history for one symbol. A
// non-zero since resumes from that order id.
func (c *Client) SpotOrders(ctx context.Context, symbol string, since int64) (store.Batch, error) {
	var os []*binance.Order
	err := c.do(ctx, "spot orders "+symbol, func(ctx context.Context) error {
		svc := c.spot.NewListOrdersService().Symbol(symbol).Limit(fetchLimit)
		if since > 0 {
			svc = svc.OrderID(since)
		}
		var err error
		os, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return spotOrderBatch(os), nil
}

// SpotOpenOrders fetches the currently open orders for one symbol.
func (c *Client) SpotOpenOrders(ctx context.Context, symbol string) (store.Batch, error) {
	var os []*binance.Order
	err := c.do(ctx, "spot open orders "+symbol, func(ctx context.Context) error {
		var err error
		os, err = c.spot.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return spotOrderBatch(os), nil
}

func spotOrderBatch(os []*binance.Order) store.Batch {
	b := store.Batch{Schema: spotOrderSchema}
	for _, o := range os {
		b.Records = append(b.Records, store.Record{
			Key: o.OrderID,
			Values: []string{
				i64(o.OrderID), i64(o.Time), o.ClientOrderID,
				string(o.Side), string(o.Type), string(o.Status),
				o.Price, o.OrigQuantity, o.ExecutedQuantity,
				o.CummulativeQuoteQuantity, string(o.TimeInForce),
				i64(o.UpdateTime),
			},
		})
	}
	return b
}

// FuturesTrades fetches the futures account trades for one symbol.
func (c *Client) FuturesTrades(ctx context.Context, symbol string, since int64) (store.Batch, error) {
	var ts []*futures.AccountTrade
	err := c.do(ctx, "futures trades "+symbol, func(ctx context.Context) error {
		svc := c.fut.NewListAccountTradeService().Symbol(symbol).Limit(fetchLimit)
		if since > 0 {
			svc = svc.FromID(since)
		} else if c.tradesStart > 0 {
			svc = svc.StartTime(c.tradesStart)
		}
		var err error
		ts, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return futuresTradeBatch(ts), nil
}

func futuresTradeBatch(ts []*futures.AccountTrade) store.Batch {
	b := store.Batch{Schema: futuresTradeSchema}
	for _, t := range ts {
		b.Records = append(b.Records, store.Record{
			Key: t.ID,
			Values: []string{
				i64(t.ID), i64(t.Time), i64(t.OrderID), string(t.Side),
				t.Price, t.Quantity, t.QuoteQuantity, t.RealizedPnl,
				t.Commission, t.CommissionAsset,
			},
		})
	}
	return b
}

// FuturesOrders fetches the futures order history for one symbol.
func (c *Client) FuturesOrders(ctx context.Context, symbol string, since int64) (store.Batch, error) {
	var os []*futures.Order
	err := c.do(ctx, "futures orders "+symbol, func(ctx context.Context) error {
		svc := c.fut.NewListOrdersService().Symbol(symbol).Limit(fetchLimit)
		if since > 0 {
			svc = svc.OrderID(since)
		}
		var err error
		os, err = svc.Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return futuresOrderBatch(os), nil
}

func futuresOrderBatch(os []*futures.Order) store.Batch {
	b := store.Batch{Schema: futuresOrderSchema}
	for _, o := range os {
		b.Records = append(b.Records, store.Record{
			Key: o.OrderID,
			Values: []string{
				i64(o.OrderID), i64(o.Time), string(o.Side), string(o.Type),
				string(o.Status), o.Price, o.OrigQuantity,
				o.ExecutedQuantity, o.StopPrice, i64(o.UpdateTime),
			},
		})
	}
	return b
}

// Balance fetches the spot balance of one asset as a snapshot row keyed
// by fetch time. Assets absent from the account report zero balances.
func (c *Client) Balance(ctx context.Context, asset string) (store.Batch, error) {
	var acct *binance.Account
	err := c.do(ctx, "balance "+asset, func(ctx context.Context) error {
		var err error
		acct, err = c.spot.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return balanceBatch(acct, asset, time.Now().UnixMilli()), nil
}

func balanceBatch(acct *binance.Account, asset string, now int64) store.Batch {
	free, locked := "0", "0"
	for _, bal := range acct.Balances {
		if bal.Asset == asset {
			free, locked = bal.Free, bal.Locked
			break
		}
	}
	return store.Batch{
		Schema: balanceSchema,
		Records: []store.Record{{
			Key:    now,
			Values: []string{i64(now), asset, free, locked},
		}},
	}
}

// SymbolRules fetches the exchange trading rules for one symbol as a
// snapshot row keyed by fetch time.
func (c *Client) SymbolRules(ctx context.Context, symbol string) (store.Batch, error) {
	var info *binance.ExchangeInfo
	err := c.do(ctx, "symbol rules "+symbol, func(ctx context.Context) error {
		var err error
		info, err = c.spot.NewExchangeInfoService().Symbols(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return store.Batch{}, err
	}
	return ruleBatch(info, symbol, time.Now().UnixMilli()), nil
}

func ruleBatch(info *binance.ExchangeInfo, symbol string, now int64) store.Batch {
	b := store.Batch{Schema: ruleSchema}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		minPrice, maxPrice, tickSize := "", "", ""
		if f := s.PriceFilter(); f != nil {
			minPrice, maxPrice, tickSize = f.MinPrice, f.MaxPrice, f.TickSize
		}
		minQty, maxQty, stepSize := "", "", ""
		if f := s.LotSizeFilter(); f != nil {
			minQty, maxQty, stepSize = f.MinQuantity, f.MaxQuantity, f.StepSize
		}
		minNotional := ""
		if f := s.NotionalFilter(); f != nil {
			minNotional = f.MinNotional
		}
		b.Records = append(b.Records, store.Record{
			Key: now,
			Values: []string{
				i64(now), s.Symbol, s.Status, s.BaseAsset, s.QuoteAsset,
				minPrice, maxPrice, tickSize,
				minQty, maxQty, stepSize, minNotional,
			},
		})
	}
	return b
}
