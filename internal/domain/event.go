package domain

import "time"

// EventType names an entry in an order's event history. Values the client
// does not know are kept verbatim.
type EventType string

const (
	EventCreated         EventType = "created"
	EventConfirmed       EventType = "confirmed"
	EventCanceled        EventType = "canceled"
	EventRefundedPartial EventType = "refunded_partial"
	EventRefundedFull    EventType = "refunded_full"
)

func (t EventType) Known() bool {
	switch t {
	case EventCreated, EventConfirmed, EventCanceled, EventRefundedPartial, EventRefundedFull:
		return true
	}
	return false
}

// OrderEvent is an immutable entry in an order's history. Amount is set for
// refund events only.
type OrderEvent struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	Amount    *Money    `json:"amount,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
