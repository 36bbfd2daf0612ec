// internal/events/format.go
package events

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rovshanmuradov/chaincrawlr/internal/domain"
)

var explorers = map[string]string{
	"ethereum": "https://etherscan.io",
	"base":     "https://basescan.org",
	"bsc":      "https://bscscan.com",
	"solana":   "https://solscan.io",
}

// ExplorerBase returns the block explorer for chain.
func ExplorerBase(chain string) string {
	if base, ok := explorers[strings.ToLower(chain)]; ok {
		return base
	}
	return "https://explorer.unknown.com"
}

func TxURL(chain, tx string) string {
	return fmt.Sprintf("%s/tx/%s", ExplorerBase(chain), tx)
}

func TokenURL(chain, token string) string {
	return fmt.Sprintf("%s/token/%s", ExplorerBase(chain), token)
}

// Format renders n as plain text for chat sinks.
func Format(n Notification) string {
	switch n.Kind {
	case KindTrade:
		s := n.Trade
		tx := s.TxRef
		if tx == "" {
			tx = "Pending"
		}
		notes := s.Notes
		if notes == "" {
			notes = "None"
		}
		return fmt.Sprintf("🚀 %s Executed\n• Token: %s\n• Chain: %s\n• Amount: %.4f\n• Price: %.8f\n• TX: %s\n• Notes: %s",
			strings.ToUpper(string(s.Direction)),
			domain.ShortAddress(s.TokenAddress),
			strings.ToUpper(s.Chain),
			s.Amount, s.Price, tx, notes)

	case KindRisk:
		a := n.Risk
		emoji := "🚨"
		if a.Severity == SeverityWarning {
			emoji = "⚠️"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s Risk Alert: %s\n• Token: %s\n• Chain: %s\n• Severity: %s",
			emoji, title(a.AlertType), domain.ShortAddress(a.TokenAddress), strings.ToUpper(a.Chain), a.Severity)
		if a.Reason != "" {
			fmt.Fprintf(&b, "\n• Reason: %s", a.Reason)
		}
		if len(a.Indicators) > 0 {
			b.WriteString("\n• Indicators:")
			names := make([]string, 0, len(a.Indicators))
			for k := range a.Indicators {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(&b, "\n  • %s: %.4f", k, a.Indicators[k])
			}
		}
		return b.String()

	case KindSystem:
		a := n.System
		return fmt.Sprintf("%s System Alert: %s\n• Type: %s\n• Message: %s",
			systemEmoji(a.Severity), strings.ToUpper(a.Component), title(a.AlertType), a.Message)
	}
	return ""
}

func systemEmoji(s Severity) string {
	switch s {
	case SeverityWarning:
		return "⚠️"
	case SeverityCritical:
		return "🚨"
	case SeveritySuccess:
		return "✅"
	default:
		return "ℹ️"
	}
}

// title turns RUG_PULL into "Rug Pull".
func title(s string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(s), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
