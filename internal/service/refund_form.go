package service

// RefundForm is the transient input state of the refund dialog. The
// idempotency key lives as long as the form so that retrying a submission
// whose outcome is unknown cannot refund twice.
type RefundForm struct {
	Open           bool
	AmountInput    string
	Reason         string
	Error          string
	IdempotencyKey string
}

// Reset closes the form and clears its input.
func (f *RefundForm) Reset() {
	*f = RefundForm{}
}
