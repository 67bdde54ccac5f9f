// Package binance adapts the Binance REST and WebSocket APIs to the
// feed source, order submitter and stream interfaces of the rest of the
// system. Every REST call goes through a shared rate limiter and a
// bounded retry loop.
package binance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"mafin/config"
	"mafin/logger"
)

const fetchLimit = 1000

// Client is the single gateway to Binance. It implements the cache
// source and order submitter interfaces.
type Client struct {
	spot *binance.Client
	fut  *futures.Client

	limiter     *rate.Limiter
	retry       config.RetryConfig
	timeout     time.Duration
	tradesStart int64

	log *logger.Log
}

// New builds a client from the configuration. The same credentials
// serve the spot and futures endpoints.
func New(cfg *config.Config) *Client {
	return &Client{
		spot: binance.NewClient(cfg.Binance.APIKey, cfg.Binance.SecretKey),
		fut:  futures.NewClient(cfg.Binance.APIKey, cfg.Binance.SecretKey),
		limiter: rate.NewLimiter(
			rate.Limit(cfg.Reader.RateLimit.RequestsPerSecond),
			cfg.Reader.RateLimit.BurstSize,
		),
		retry:       cfg.Reader.Retry,
		timeout:     cfg.Reader.Timeout,
		tradesStart: cfg.Binance.TradesStartTime,
		log:         logger.GetLogger(),
	}
}

// do runs one REST operation under the rate limiter with bounded
// retries. The last error is returned once attempts are exhausted.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    c.retry.BaseDelay,
		Max:    c.retry.MaxDelay,
		Factor: c.retry.BackoffMultiplier,
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		var apiErr *common.APIError
		if errors.As(err, &apiErr) && !apiErrRetryable(apiErr.Code) {
			// A definitive rejection; retrying cannot change it.
			return fmt.Errorf("%s: %w", op, err)
		}

		delay := b.Duration()
		c.log.WithComponent("binance_client").WithError(err).WithFields(logger.Fields{
			"operation": op,
			"attempt":   attempt,
			"retry_in":  delay.String(),
		}).Warn("request failed")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}

// apiErrRetryable reports whether an exchange error code names a
// transient condition. Everything else is an answer about the request
// itself.
func apiErrRetryable(code int64) bool {
	switch code {
	case -1000, -1001, -1003, -1007, -1021:
		return true
	}
	return false
}
