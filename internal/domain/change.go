package domain

import "time"

// ChangeType is the kind of row change carried by an order notification.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// OrderChange is the payload published on the order-change topic whenever an
// order is created or mutated. Order is nil for deletions.
type OrderChange struct {
	EventID    string     `json:"event_id"`
	Type       ChangeType `json:"type"`
	OrderID    string     `json:"order_id"`
	UserID     string     `json:"user_id"`
	VendorID   string     `json:"vendor_id"`
	Order      *Order     `json:"order,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
