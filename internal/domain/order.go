package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/text/currency"
)

// DefaultCurrency is assumed when the order service omits the currency.
const DefaultCurrency = "USD"

// ErrMalformedOrder is returned when an order record breaks the data contract.
var ErrMalformedOrder = errors.New("malformed order")

type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	LineTotal Money  `json:"line_total"`
}

type Refund struct {
	ID        string    `json:"id"`
	Amount    Money     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is the root aggregate as returned by the order service. Refunds and
// Events are in chronological order.
type Order struct {
	ID        string       `json:"id"`
	MarketID  string       `json:"market_id,omitempty"`
	VendorID  string       `json:"vendor_id,omitempty"`
	UserID    string       `json:"user_id,omitempty"`
	Status    OrderStatus  `json:"status"`
	Currency  string       `json:"currency,omitempty"`
	Items     []OrderItem  `json:"items"`
	Refunds   []Refund     `json:"refunds"`
	Events    []OrderEvent `json:"events"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at,omitzero"`
}

// RefundRequest is what a client submits to refund part of an order.
// IdempotencyKey travels out of band (header) and lets the service recognize a
// resubmission of the same request.
type RefundRequest struct {
	Amount         Money  `json:"amount"`
	Reason         string `json:"reason,omitempty"`
	IdempotencyKey string `json:"-"`
}

// Normalize fills the fields the service may omit: line totals fall back to
// unit price times quantity and the currency defaults to USD.
func (o *Order) Normalize() {
	if o.Currency == "" {
		o.Currency = DefaultCurrency
	}

	for i := range o.Items {
		if o.Items[i].LineTotal == 0 && o.Items[i].UnitPrice > 0 {
			o.Items[i].LineTotal = o.Items[i].UnitPrice * Money(o.Items[i].Quantity)
		}
	}
}

// Validate checks the contract every record must satisfy before it reaches
// the ledger. It runs at ingestion so the pure computations never see
// malformed input.
func (o Order) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedOrder)
	}

	if _, ok := validOrderStatuses[o.Status]; !ok {
		return fmt.Errorf("%w: order %s has invalid status %q", ErrMalformedOrder, o.ID, o.Status)
	}

	if o.Currency != "" {
		if _, err := currency.ParseISO(o.Currency); err != nil {
			return fmt.Errorf("%w: order %s currency[%s] is not valid: %v", ErrMalformedOrder, o.ID, o.Currency, err)
		}
	}

	var itemsTotal, refundsTotal Money

	for i, item := range o.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("%w: order %s item %d has quantity %d", ErrMalformedOrder, o.ID, i, item.Quantity)
		}
		if item.UnitPrice < 0 || item.LineTotal < 0 {
			return fmt.Errorf("%w: order %s item %d has a negative price", ErrMalformedOrder, o.ID, i)
		}
		itemsTotal += item.LineTotal
	}

	for i, refund := range o.Refunds {
		if refund.Amount <= 0 {
			return fmt.Errorf("%w: order %s refund %d has non-positive amount %s", ErrMalformedOrder, o.ID, i, refund.Amount)
		}
		refundsTotal += refund.Amount
	}

	if o.Status == StatusPending && len(o.Refunds) > 0 {
		return fmt.Errorf("%w: pending order %s has refunds", ErrMalformedOrder, o.ID)
	}

	if refundsTotal > itemsTotal {
		return fmt.Errorf("%w: order %s refunds %s exceed items %s", ErrMalformedOrder, o.ID, refundsTotal, itemsTotal)
	}

	return nil
}

// Clone returns a copy that shares no slices with o.
func (o Order) Clone() Order {
	c := o
	c.Items = slices.Clone(o.Items)
	c.Refunds = slices.Clone(o.Refunds)
	c.Events = slices.Clone(o.Events)
	return c
}
