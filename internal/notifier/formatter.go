package notifier

import (
	"fmt"
	"strings"

	"StockSentry/internal/model"
)

// FormatAlert renders a confirmed alert into a title and message body.
func FormatAlert(a model.Alert) (title, message string) {
	title = fmt.Sprintf("🔔 %s %s | Score: %.0f | %s", a.Direction, a.Symbol, a.Score, a.Setup)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("⏱ Timeframe: %s\n", a.Timeframe))
	b.WriteString(fmt.Sprintf("💰 Trigger Price: $%.2f\n", a.Price))
	b.WriteString(fmt.Sprintf("🕒 %s\n", a.CreatedAt.Format("2006-01-02 15:04 MST")))
	if len(a.Evidence) > 0 {
		b.WriteString("\n📊 Evidence:\n")
		for i, ev := range a.Evidence {
			if i >= 5 {
				break
			}
			b.WriteString(fmt.Sprintf("  • %s\n", ev))
		}
	}
	b.WriteString(fmt.Sprintf("\nid: %s", a.ID))
	return title, b.String()
}
