package lifecycle

import (
	"slices"

	"github.com/dannyCSStudent/mojara/internal/domain"
	"github.com/dannyCSStudent/mojara/internal/ledger"
)

// View is the read model handed to display code. It is derived from a
// snapshot on every call and never stored.
type View struct {
	ledger.Balance

	Status      domain.OrderStatus `json:"status"`
	IsFinalized bool               `json:"is_finalized"`
	Allowed     []Action           `json:"allowed"`
}

func Derive(o domain.Order) View {
	b := ledger.Compute(o)

	return View{
		Balance:     b,
		Status:      o.Status,
		IsFinalized: IsFinalized(o, b),
		Allowed:     Allowed(o),
	}
}

func (v View) Can(a Action) bool {
	return slices.Contains(v.Allowed, a)
}
