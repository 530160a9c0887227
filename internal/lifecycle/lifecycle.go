// Package lifecycle holds the order state machine: which actions each order
// admits and what a legal action does to it. The client uses it to reject
// actions before any request is sent, the order service uses the same table
// under a row lock.
package lifecycle

import (
	"fmt"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/ledger"
)

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
	ActionRefund  Action = "refund"
)

func (a Action) String() string {
	return string(a)
}

const (
	msgFinalized         = "order is finalized"
	msgConfirmNotPending = "only pending orders can be confirmed"
	msgCancelNotPending  = "only pending orders can be canceled"
	msgRefundNotConfirm  = "refunds can only be issued on confirmed orders"
	msgRefundNotPositive = "refund amount must be greater than $0.00"
)

// IsFinalized reports whether no mutating action is admissible anymore.
func IsFinalized(o domain.Order, b ledger.Balance) bool {
	return o.Status == domain.StatusCanceled || b.IsFullyRefunded
}

func CheckConfirm(o domain.Order) error {
	if IsFinalized(o, ledger.Compute(o)) {
		return reject(o, msgFinalized)
	}
	if o.Status != domain.StatusPending {
		return reject(o, msgConfirmNotPending)
	}
	return nil
}

func CheckCancel(o domain.Order) error {
	if IsFinalized(o, ledger.Compute(o)) {
		return reject(o, msgFinalized)
	}
	if o.Status != domain.StatusPending {
		return reject(o, msgCancelNotPending)
	}
	return nil
}

// CheckRefund validates a refund of amount against o and returns the event the
// refund will emit: refunded_full when it consumes the remaining balance,
// refunded_partial otherwise.
func CheckRefund(o domain.Order, amount domain.Money) (domain.EventType, error) {
	b := ledger.Compute(o)

	if IsFinalized(o, b) {
		return "", reject(o, msgFinalized)
	}
	if o.Status != domain.StatusConfirmed {
		return "", reject(o, msgRefundNotConfirm)
	}
	if amount <= 0 {
		return "", reject(o, msgRefundNotPositive)
	}
	if amount > b.RemainingBalance {
		return "", domain.NewLimitError(o.ID, b.RemainingBalance)
	}

	if amount == b.RemainingBalance {
		return domain.EventRefundedFull, nil
	}
	return domain.EventRefundedPartial, nil
}

// Check runs the guard for action. amount is only read for refunds.
func Check(o domain.Order, action Action, amount domain.Money) error {
	switch action {
	case ActionConfirm:
		return CheckConfirm(o)
	case ActionCancel:
		return CheckCancel(o)
	case ActionRefund:
		_, err := CheckRefund(o, amount)
		return err
	default:
		return &domain.ValidationError{OrderID: o.ID, Message: fmt.Sprintf("unknown action %q", action)}
	}
}

// Allowed lists the actions o currently admits. Refund is listed when some
// positive amount would pass its guard.
func Allowed(o domain.Order) []Action {
	var actions []Action

	if CheckConfirm(o) == nil {
		actions = append(actions, ActionConfirm)
	}
	if CheckCancel(o) == nil {
		actions = append(actions, ActionCancel)
	}
	if _, err := CheckRefund(o, 1); err == nil {
		actions = append(actions, ActionRefund)
	}

	return actions
}

// Transition is the outcome of a legal action.
type Transition struct {
	Status domain.OrderStatus
	Event  domain.EventType
}

// Apply checks action against o and returns the resulting status and event.
// It never mutates o.
func Apply(o domain.Order, action Action, amount domain.Money) (Transition, error) {
	switch action {
	case ActionConfirm:
		if err := CheckConfirm(o); err != nil {
			return Transition{}, err
		}
		return Transition{Status: domain.StatusConfirmed, Event: domain.EventConfirmed}, nil
	case ActionCancel:
		if err := CheckCancel(o); err != nil {
			return Transition{}, err
		}
		return Transition{Status: domain.StatusCanceled, Event: domain.EventCanceled}, nil
	case ActionRefund:
		event, err := CheckRefund(o, amount)
		if err != nil {
			return Transition{}, err
		}
		return Transition{Status: domain.StatusConfirmed, Event: event}, nil
	default:
		return Transition{}, Check(o, action, amount)
	}
}

func reject(o domain.Order, msg string) *domain.ValidationError {
	return &domain.ValidationError{OrderID: o.ID, Message: msg}
}
