// Package report renders a user's inventory as a plain-text listing and
// exports it to Google Docs.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-stockroom/pkg/inventory"
)

// Title returns the document title for a report generated at t.
func Title(t time.Time) string {
	return "Inventory " + t.Format("January 2, 2006")
}

// Render formats items as a listing with per-line and total value.
func Render(title string, items []inventory.Item, generated time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", title)
	if len(items) == 0 {
		b.WriteString("Your inventory is empty.\n")
	} else {
		var total float64
		for _, it := range items {
			value := it.Quantity * it.PricePerItem
			total += value
			fmt.Fprintf(&b, "• %s: %s at %s each (%s)\n",
				it.Name, inventory.FormatQuantity(it.Quantity), inventory.FormatPrice(it.PricePerItem), inventory.FormatPrice(value))
		}
		noun := "items"
		if len(items) == 1 {
			noun = "item"
		}
		fmt.Fprintf(&b, "\n%d %s, total value %s\n", len(items), noun, inventory.FormatPrice(total))
	}

	b.WriteString("\n---\n")
	fmt.Fprintf(&b, "Generated: %s\n", generated.Format("January 2, 2006 3:04 PM"))
	return b.String()
}
