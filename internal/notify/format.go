package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/sellerwatch/sellerwatch/internal/model"
)

// formatEvent renders one change event as a Telegram HTML message.
func (t *Telegram) formatEvent(ev model.ChangeEvent) (string, error) {
	p, err := ev.DecodePayload()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	seller := html.EscapeString(t.sellerName(ev.SellerID))
	title := html.EscapeString(p.Title)

	switch ev.Kind {
	case model.ChangeNew:
		fmt.Fprintf(&b, "📦 <b>New Product</b>\n\n")
		fmt.Fprintf(&b, "👤 Seller: <code>%s</code>\n", seller)
		fmt.Fprintf(&b, "• %s\n", title)
		fmt.Fprintf(&b, "💰 $%.2f\n", p.Price)
		if p.Stock != nil && *p.Stock != model.StockUnknown {
			fmt.Fprintf(&b, "📊 Stock: %d\n", *p.Stock)
		}

	case model.ChangePriceChanged:
		arrow := "📈"
		if p.NewPrice < p.OldPrice {
			arrow = "📉"
		}
		fmt.Fprintf(&b, "%s <b>Price Change</b>\n\n", arrow)
		fmt.Fprintf(&b, "👤 Seller: <code>%s</code>\n", seller)
		fmt.Fprintf(&b, "• %s\n", title)
		fmt.Fprintf(&b, "Old: <b>$%.2f</b>\n", p.OldPrice)
		fmt.Fprintf(&b, "New: <b>$%.2f</b>\n", p.NewPrice)
		fmt.Fprintf(&b, "Change: <b>%+.1f%%</b>\n", p.PercentChange)
		if len(p.ChangedFields) > 0 {
			fmt.Fprintf(&b, "Also edited: %s\n", html.EscapeString(strings.Join(p.ChangedFields, ", ")))
		}

	case model.ChangeEdited:
		fmt.Fprintf(&b, "✏️ <b>Product Edited</b>\n\n")
		fmt.Fprintf(&b, "👤 Seller: <code>%s</code>\n", seller)
		fmt.Fprintf(&b, "• %s\n", title)
		fmt.Fprintf(&b, "Changed: %s\n", html.EscapeString(strings.Join(p.ChangedFields, ", ")))

	case model.ChangeRemoved:
		fmt.Fprintf(&b, "🗑️ <b>Product Removed</b>\n\n")
		fmt.Fprintf(&b, "👤 Seller: <code>%s</code>\n", seller)
		fmt.Fprintf(&b, "• %s\n", title)
		fmt.Fprintf(&b, "Last price: <b>$%.2f</b>\n", p.LastPrice)

	default:
		return "", fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	if p.URL != "" {
		fmt.Fprintf(&b, "🔗 %s\n", p.URL)
	}
	fmt.Fprintf(&b, "⏰ %s", ev.DetectedAt.UTC().Format("2006-01-02 15:04:05"))

	return b.String(), nil
}
