package core

import (
	"fmt"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// ParseTimeframe converts an exchange interval such as "15m", "4h" or "1d"
// into a duration. Day and week units are supported.
func ParseTimeframe(timeframe string) (time.Duration, error) {
	duration, err := str2duration.ParseDuration(timeframe)
	if err != nil {
		return 0, fmt.Errorf("invalid timeframe %q: %w", timeframe, err)
	}

	if duration <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q: not positive", timeframe)
	}

	return duration, nil
}
