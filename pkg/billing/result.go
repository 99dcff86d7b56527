package billing

// Outcome is the terminal state of a service request.
type Outcome string

const (
	// OutcomeSuccess delivers content; Cost is what was charged and
	// Balance the post-transaction balance.
	OutcomeSuccess Outcome = "success"
	// OutcomePaymentRequired reports insufficient funds; Cost is the
	// required amount and Balance the current balance. Nothing was
	// charged.
	OutcomePaymentRequired Outcome = "payment_required"
	// OutcomeRejectedInput reports invalid parameters; no balance was
	// touched.
	OutcomeRejectedInput Outcome = "rejected_input"
	// OutcomeServiceUnavailable reports a failed or timed-out
	// generation; any debit was refunded and the request is safe to
	// retry.
	OutcomeServiceUnavailable Outcome = "service_unavailable"
)

// Result is what a caller receives for a service request. Storage
// failures are returned as errors instead, so every Result represents a
// consistent terminal state.
type Result struct {
	Outcome Outcome
	Content string
	Cost    int64
	Balance int64
	Reason  string
}
