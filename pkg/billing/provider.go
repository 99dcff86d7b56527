package billing

import (
	"context"

	"github.com/zodiaclab/starledger/pkg/wallet"
)

// ContentProvider is the external capability that turns a validated
// request into generated content. Implementations must honor context
// cancellation; the orchestrator bounds every call with a timeout and
// treats an error or expiry as a provider failure to compensate.
type ContentProvider interface {
	Generate(ctx context.Context, kind ServiceKind, params Params) (string, error)
}

// ReconciliationAnomaly describes a refund that failed after a provider
// failure: the account was debited as a paid request, the content was
// never delivered, and the compensating credit did not apply. From the
// user's perspective this is lost money, so it must reach a human.
type ReconciliationAnomaly struct {
	AccountID  wallet.AccountID
	ServiceTag wallet.ServiceTag
	Amount     int64
	Err        error
}

// AnomalyReporter receives reconciliation anomalies for manual audit.
// Implementations must not drop entries silently.
type AnomalyReporter interface {
	ReportAnomaly(ctx context.Context, anomaly ReconciliationAnomaly)
}
