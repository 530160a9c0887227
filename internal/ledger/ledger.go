// Package ledger computes the monetary state of an order: what it is worth,
// what has been refunded and what can still be refunded.
//
// Every function here is total over orders that passed domain.Order.Validate.
package ledger

import (
	"github.com/samber/lo"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

// Balance is the derived monetary state of an order.
type Balance struct {
	ItemsTotal       domain.Money `json:"items_total"`
	RefundsTotal     domain.Money `json:"refunds_total"`
	RemainingBalance domain.Money `json:"remaining_balance"`
	HasRefunds       bool         `json:"has_refunds"`
	IsFullyRefunded  bool         `json:"is_fully_refunded"`
}

func Compute(o domain.Order) Balance {
	items := ItemsTotal(o.Items)
	refunds := RefundsTotal(o.Refunds)

	remaining := max(items-refunds, 0)
	hasRefunds := refunds > 0

	return Balance{
		ItemsTotal:       items,
		RefundsTotal:     refunds,
		RemainingBalance: remaining,
		HasRefunds:       hasRefunds,
		IsFullyRefunded:  remaining == 0 && hasRefunds,
	}
}

func ItemsTotal(items []domain.OrderItem) domain.Money {
	return lo.SumBy(items, func(item domain.OrderItem) domain.Money {
		return item.LineTotal
	})
}

func RefundsTotal(refunds []domain.Refund) domain.Money {
	return lo.SumBy(refunds, func(r domain.Refund) domain.Money {
		return r.Amount
	})
}

// LineMismatch describes an item whose server line total differs from
// unit price times quantity.
type LineMismatch struct {
	Index     int          `json:"index"`
	ProductID string       `json:"product_id"`
	Expected  domain.Money `json:"expected"`
	Actual    domain.Money `json:"actual"`
}

// VerifyLineTotals recomputes line totals for display verification. The
// server's line_total stays authoritative; mismatches are only reported.
func VerifyLineTotals(items []domain.OrderItem) []LineMismatch {
	var mismatches []LineMismatch

	for i, item := range items {
		expected := item.UnitPrice * domain.Money(item.Quantity)
		if expected != item.LineTotal {
			mismatches = append(mismatches, LineMismatch{
				Index:     i,
				ProductID: item.ProductID,
				Expected:  expected,
				Actual:    item.LineTotal,
			})
		}
	}

	return mismatches
}
