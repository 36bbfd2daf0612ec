// internal/cache/keys.go
package cache

import (
	"fmt"
	"strconv"
	"time"
)

func SnipeKey(chain, dex, token string) string {
	return fmt.Sprintf("snipe_%s_%s_%s", chain, dex, token)
}

func SafetyKey(check, chain, token string) string {
	return fmt.Sprintf("safety_%s_%s_%s", check, chain, token)
}

func PriceKey(chain, token string) string {
	return fmt.Sprintf("price_%s_%s", chain, token)
}

// ClosePositionKey is scoped to the position's open time so a reopened token
// gets a fresh close memo.
func ClosePositionKey(chain, token string, opened time.Time) string {
	return fmt.Sprintf("close_position_%s_%s_%d", chain, token, opened.UnixNano())
}

func ExitKey(chain, token string, amount float64) string {
	return fmt.Sprintf("exit_%s_%s_%s", chain, token, formatAmount(amount))
}

func FallbackExitKey(chain, token string, amount float64) string {
	return fmt.Sprintf("fallback_exit_%s_%s_%s", chain, token, formatAmount(amount))
}

// PortfolioValueKey buckets valuations into fixed windows.
func PortfolioValueKey(now time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = 300 * time.Second
	}
	return fmt.Sprintf("portfolio_value_%d", now.Unix()/int64(bucket/time.Second))
}

func BlacklistKey(token string) string {
	return "blacklist_" + token
}

func NotificationKey(kind string, ts time.Time, subject string) string {
	return fmt.Sprintf("notification_%s_%d_%s", kind, ts.UnixNano(), subject)
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
