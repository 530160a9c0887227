package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type OrderStatus string

// remember to add new statuses to the validOrderStatuses map
const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusCanceled  OrderStatus = "canceled"
)

var validOrderStatuses = map[OrderStatus]struct{}{
	StatusPending:   {},
	StatusConfirmed: {},
	StatusCanceled:  {},
}

// Spellings the order service has been seen to send. "refunded" is not a
// status of its own: a refunded order is a confirmed order whose ledger says
// it is fully refunded.
var statusAliases = map[string]OrderStatus{
	"cancelled": StatusCanceled,
	"refunded":  StatusConfirmed,
}

// ToOrderStatus normalizes a wire status value.
func ToOrderStatus(s string) (OrderStatus, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))

	if alias, ok := statusAliases[normalized]; ok {
		return alias, nil
	}

	status := OrderStatus(normalized)
	if _, ok := validOrderStatuses[status]; ok {
		return status, nil
	}

	return "", fmt.Errorf("invalid order status %q", s)
}

// IsTerminal reports whether no transition leaves this status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCanceled
}

func (s OrderStatus) String() string {
	return string(s)
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("order status: %w", err)
	}

	status, err := ToOrderStatus(raw)
	if err != nil {
		return err
	}

	*s = status
	return nil
}
