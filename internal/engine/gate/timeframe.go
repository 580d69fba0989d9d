package gate

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimeframe converts a venue interval such as "5m", "1h" or "1d"
func ParseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported timeframe unit in %q", tf)
}

// CandleStart returns the start of the candle containing t. Candles are
// aligned to UTC midnight.
func CandleStart(t time.Time, tf time.Duration) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if tf >= 24*time.Hour {
		return t.Truncate(tf)
	}
	elapsed := t.Sub(day)
	return day.Add(elapsed / tf * tf)
}
