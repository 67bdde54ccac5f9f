package binance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"

	"mafin/logger"
)

// keepaliveInterval renews the user stream listen key well inside the
// 60 minute expiry Binance applies.
const keepaliveInterval = 30 * time.Minute

// OrderUpdateFunc receives one execution report from the user stream.
type OrderUpdateFunc func(symbol string, orderID int64, status string)

// PriceFunc receives one last-price update from the market stream.
type PriceFunc func(symbol string, price float64)

// RunUserStream maintains the user-data stream until the context ends.
// It acquires a listen key, keeps it alive and reconnects with backoff
// whenever the stream drops. Execution reports are forwarded to
// onOrder; every other event type is ignored.
func (c *Client) RunUserStream(ctx context.Context, onOrder OrderUpdateFunc) {
	log := c.log.WithComponent("binance_user_stream")
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2}

	for ctx.Err() == nil {
		listenKey, err := c.spot.NewStartUserStreamService().Do(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to start user stream")
			if !sleepCtx(ctx, b.Duration()) {
				return
			}
			continue
		}

		wsHandler := func(ev *binance.WsUserDataEvent) {
			if ev.Event != binance.UserDataEventTypeExecutionReport {
				return
			}
			ou := ev.OrderUpdate
			log.WithFields(logger.Fields{
				"symbol":   ou.Symbol,
				"order_id": ou.Id,
				"status":   ou.Status,
			}).Debug("execution report")
			onOrder(ou.Symbol, ou.Id, ou.Status)
		}
		errHandler := func(err error) {
			log.WithError(err).Warn("user stream error")
		}

		doneC, stopC, err := binance.WsUserDataServe(listenKey, wsHandler, errHandler)
		if err != nil {
			log.WithError(err).Warn("failed to connect user stream")
			if !sleepCtx(ctx, b.Duration()) {
				return
			}
			continue
		}
		b.Reset()
		log.Info("user stream connected")

		ticker := time.NewTicker(keepaliveInterval)
	stream:
		for {
			select {
			case <-ctx.Done():
				close(stopC)
				ticker.Stop()
				<-doneC
				log.Info("user stream stopped")
				return
			case <-doneC:
				ticker.Stop()
				log.Warn("user stream disconnected, reconnecting")
				break stream
			case <-ticker.C:
				if err := c.spot.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(ctx); err != nil {
					log.WithError(err).Warn("listen key keepalive failed")
				}
			}
		}
	}
}

// RunMarketStream subscribes to the 24h market stat stream of every
// symbol and forwards last prices until the context ends.
func (c *Client) RunMarketStream(ctx context.Context, symbols []string, onPrice PriceFunc) {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			c.runMarketStat(ctx, symbol, onPrice)
		}(symbol)
	}
	wg.Wait()
}

func (c *Client) runMarketStat(ctx context.Context, symbol string, onPrice PriceFunc) {
	log := c.log.WithComponent("binance_market_stream").WithFields(logger.Fields{"symbol": symbol})
	b := &backoff.Backoff{Min: time.Second, Max: time.Minute, Factor: 2}

	for ctx.Err() == nil {
		wsHandler := func(ev *binance.WsMarketStatEvent) {
			price, err := strconv.ParseFloat(ev.LastPrice, 64)
			if err != nil {
				return
			}
			onPrice(ev.Symbol, price)
		}
		errHandler := func(err error) {
			log.WithError(err).Warn("market stream error")
		}

		doneC, stopC, err := binance.WsMarketStatServe(symbol, wsHandler, errHandler)
		if err != nil {
			log.WithError(err).Warn("failed to connect market stream")
			if !sleepCtx(ctx, b.Duration()) {
				return
			}
			continue
		}
		b.Reset()
		log.Info("market stream connected")

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			log.Info("market stream stopped")
			return
		case <-doneC:
			log.Warn("market stream disconnected, reconnecting")
		}
	}
}

// sleepCtx waits for d or until ctx ends, reporting whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
