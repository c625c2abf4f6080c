package entity

import "github.com/shopspring/decimal"

// MergeCartLines folds raw server line items into the canonical cart: one line per
// product, quantities summed. Lines keep the order in which their product first
// appeared, and name, price and wholesaler come from that first occurrence.
// Lines without a product id or with a non-positive quantity are skipped.
func MergeCartLines(raw []CartLine) []CartLine {
	merged := make([]CartLine, 0, len(raw))
	index := make(map[ID]int, len(raw))
	for _, line := range raw {
		if line.ProductID == "" || line.Quantity < 1 {
			continue
		}
		if i, exists := index[line.ProductID]; exists {
			merged[i].Quantity += line.Quantity
			continue
		}
		line.Sync = Confirmed()
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

// CartTotal sums the subtotal of every line.
func CartTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total
}
