package feed

import "time"

// WaitPolicy computes how long a synchronizer should wait before its
// next refresh cycle, given the current time.
type WaitPolicy func(now time.Time) time.Duration

// minWait keeps a policy from spinning when a boundary has just passed.
const minWait = time.Second

// FixedInterval waits a constant duration between refreshes.
func FixedInterval(d time.Duration) WaitPolicy {
	if d <= 0 {
		d = time.Hour
	}
	return func(time.Time) time.Duration {
		return d
	}
}

var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// UntilKlineClose waits until the current candle period of the given
// timeframe closes, so the refresh lands just after a new candle opens.
// Unknown timeframes fall back to a one minute wait.
func UntilKlineClose(timeframe string) WaitPolicy {
	return func(now time.Time) time.Duration {
		return untilKlineClose(timeframe, now.UTC())
	}
}

func untilKlineClose(timeframe string, now time.Time) time.Duration {
	if d, ok := timeframeDurations[timeframe]; ok {
		wait := now.Truncate(d).Add(d).Sub(now)
		if wait < minWait {
			wait = minWait
		}
		return wait
	}
	if timeframe == "1w" {
		// Binance weeks close at the end of Sunday UTC.
		day := 24 * time.Hour
		untilMidnight := now.Truncate(day).Add(day).Sub(now)
		daysLeft := (int(time.Sunday) - int(now.Weekday()) + 7) % 7
		wait := untilMidnight + time.Duration(daysLeft)*day
		if wait < minWait {
			wait = minWait
		}
		return wait
	}
	return time.Minute
}
