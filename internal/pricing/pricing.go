package pricing

import (
	"food-ordering-kiosk/internal/entity"

	"github.com/shopspring/decimal"
)

// DefaultTaxRate is applied on top of the subtotal.
var DefaultTaxRate = decimal.RequireFromString("0.085")

// Summary holds the derived totals of a cart. Totals are computed, never stored.
type Summary struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

// TotalPrice sums (base + size delta) * quantity over all lines.
func TotalPrice(lines []entity.CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// TotalItems is the number of distinct lines, not the sum of quantities.
func TotalItems(lines []entity.CartLine) int {
	return len(lines)
}

// Tax returns the tax owed on subtotal, rounded to cents.
func Tax(subtotal, rate decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(rate).Round(2)
}

func Summarize(lines []entity.CartLine, rate decimal.Decimal) Summary {
	subtotal := TotalPrice(lines).Round(2)
	tax := Tax(subtotal, rate)
	return Summary{
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
		ItemCount: TotalItems(lines),
	}
}

// SummarizeOrder recomputes the totals of stored order items with the same
// convention as Summarize.
func SummarizeOrder(items []entity.OrderItem, rate decimal.Decimal) Summary {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.TotalPrice)
	}
	subtotal = subtotal.Round(2)
	tax := Tax(subtotal, rate)
	return Summary{
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
		ItemCount: len(items),
	}
}
