package realtime

import (
	"slices"

	"github.com/samber/lo"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

// ApplyToList reconciles a locally held order list with one notification:
// inserts are prepended, updates replace the matching entry and deletes
// remove it. The input slice is not modified.
func ApplyToList(orders []domain.Order, c domain.OrderChange) []domain.Order {
	idx := slices.IndexFunc(orders, func(o domain.Order) bool { return o.ID == c.OrderID })

	switch c.Type {
	case domain.ChangeInsert:
		if c.Order == nil {
			return orders
		}
		if idx >= 0 {
			return replaceAt(orders, idx, *c.Order)
		}
		return append([]domain.Order{*c.Order}, orders...)
	case domain.ChangeUpdate:
		if c.Order == nil || idx < 0 {
			return orders
		}
		return replaceAt(orders, idx, *c.Order)
	case domain.ChangeDelete:
		return lo.Filter(orders, func(o domain.Order, _ int) bool { return o.ID != c.OrderID })
	default:
		return orders
	}
}

func replaceAt(orders []domain.Order, idx int, o domain.Order) []domain.Order {
	out := slices.Clone(orders)
	out[idx] = o
	return out
}
