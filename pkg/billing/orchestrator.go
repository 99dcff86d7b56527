package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zodiaclab/starledger/pkg/wallet"
)

const (
	defaultProviderTimeout = 45 * time.Second

	depositServiceTag = "deposit"
	refundTagPrefix   = "refund:"
)

// Ledger is the slice of the wallet service the orchestrator depends
// on. The orchestrator never writes to storage directly; every mutation
// goes through these operations.
type Ledger interface {
	Balance(ctx context.Context, accountID wallet.AccountID) (int64, error)
	CanAfford(ctx context.Context, accountID wallet.AccountID, cost int64) (bool, error)
	Debit(ctx context.Context, accountID wallet.AccountID, amount int64, serviceTag wallet.ServiceTag, metadata wallet.MetadataJSON) (bool, error)
	Credit(ctx context.Context, accountID wallet.AccountID, amount int64, serviceTag wallet.ServiceTag, idempotencyKey string, metadata wallet.MetadataJSON) (bool, error)
	RecordUsage(ctx context.Context, accountID wallet.AccountID, serviceTag wallet.ServiceTag, metadata wallet.MetadataJSON) error
}

// Orchestrator coordinates check funds, debit, generate, and commit or
// refund for each paid request. It is the only component that combines
// a debit with content delivery.
type Orchestrator struct {
	ledger          Ledger
	provider        ContentProvider
	prices          PriceTable
	freeAccountID   string
	providerTimeout time.Duration
	anomalies       AnomalyReporter
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPriceTable overrides the default price list.
func WithPriceTable(table PriceTable) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		orchestrator.prices = table
	}
}

// WithFreeAccount marks one account id as the free tier: its requests
// skip the funds check, the debit, and the refund path entirely.
func WithFreeAccount(accountID wallet.AccountID) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		orchestrator.freeAccountID = accountID.String()
	}
}

// WithProviderTimeout bounds each content generation call.
func WithProviderTimeout(timeout time.Duration) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		if timeout > 0 {
			orchestrator.providerTimeout = timeout
		}
	}
}

// WithAnomalyReporter wires the sink for failed refunds.
func WithAnomalyReporter(reporter AnomalyReporter) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		orchestrator.anomalies = reporter
	}
}

// NewOrchestrator wires an Orchestrator over a ledger and a content
// provider.
func NewOrchestrator(ledger Ledger, provider ContentProvider, options ...OrchestratorOption) (*Orchestrator, error) {
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidOrchestratorConfig)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: provider dependency is nil", ErrInvalidOrchestratorConfig)
	}
	orchestrator := &Orchestrator{
		ledger:          ledger,
		provider:        provider,
		prices:          DefaultPrices(),
		providerTimeout: defaultProviderTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(orchestrator)
		}
	}
	if err := orchestrator.prices.Validate(); err != nil {
		return nil, err
	}
	return orchestrator, nil
}

// Request drives one paid-service request to a terminal state:
// validate, price, check funds, debit, generate, and commit or refund.
// The returned error is reserved for storage failures; every other
// failure mode is a Result outcome.
func (orchestrator *Orchestrator) Request(requestContext context.Context, accountID wallet.AccountID, kind ServiceKind, params Params) (Result, error) {
	validated, err := params.normalized(kind)
	if err != nil {
		return Result{Outcome: OutcomeRejectedInput, Reason: err.Error()}, nil
	}

	cost := orchestrator.prices.Cost(kind)
	charged := cost
	if orchestrator.isFreeAccount(accountID) {
		charged = 0
	}

	serviceTag, err := wallet.NewServiceTag(validated.serviceTag(kind))
	if err != nil {
		return Result{}, err
	}
	metadata, err := wallet.NewMetadataJSON(validated.metadataJSON())
	if err != nil {
		return Result{}, err
	}

	if charged > 0 {
		affordable, err := orchestrator.ledger.CanAfford(requestContext, accountID, charged)
		if err != nil {
			return Result{}, err
		}
		if !affordable {
			return orchestrator.paymentRequired(requestContext, accountID, charged)
		}
		debited, err := orchestrator.ledger.Debit(requestContext, accountID, charged, serviceTag, metadata)
		if err != nil {
			return Result{}, err
		}
		if !debited {
			// Race lost: the balance dropped between check and debit.
			return orchestrator.paymentRequired(requestContext, accountID, charged)
		}
	}

	// Once funds are debited the request must reach a terminal state
	// even if the caller disconnects, so generation and any refund run
	// detached from the caller's cancellation, bounded by the provider
	// timeout.
	detached := context.WithoutCancel(requestContext)
	generateCtx, cancel := context.WithTimeout(detached, orchestrator.providerTimeout)
	defer cancel()

	content, generateErr := orchestrator.provider.Generate(generateCtx, kind, validated)
	if generateErr != nil {
		if charged > 0 {
			orchestrator.refund(detached, accountID, charged, serviceTag, metadata)
		}
		return Result{
			Outcome: OutcomeServiceUnavailable,
			Cost:    charged,
			Reason:  generateErr.Error(),
		}, nil
	}

	if charged == 0 {
		if err := orchestrator.ledger.RecordUsage(detached, accountID, serviceTag, metadata); err != nil {
			return Result{}, err
		}
	}

	newBalance, err := orchestrator.ledger.Balance(detached, accountID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Outcome: OutcomeSuccess,
		Content: content,
		Cost:    charged,
		Balance: newBalance,
	}, nil
}

// Deposit credits a verified top-up. The caller is trusted to have
// confirmed the external payment; paymentID dedupes retried
// confirmations, and a repeat is reported as success with the current
// balance.
func (orchestrator *Orchestrator) Deposit(ctx context.Context, accountID wallet.AccountID, amount int64, paymentID string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: must be positive, got %d", ErrInvalidDepositAmount, amount)
	}
	serviceTag, err := wallet.NewServiceTag(depositServiceTag)
	if err != nil {
		return 0, err
	}
	metadata, err := wallet.NewMetadataJSON(Params{"payment_id": paymentID}.metadataJSON())
	if err != nil {
		return 0, err
	}
	idempotencyKey := ""
	if paymentID != "" {
		idempotencyKey = depositServiceTag + ":" + paymentID
	}
	_, creditErr := orchestrator.ledger.Credit(ctx, accountID, amount, serviceTag, idempotencyKey, metadata)
	if creditErr != nil && !errors.Is(creditErr, wallet.ErrDuplicateEntry) {
		return 0, creditErr
	}
	return orchestrator.ledger.Balance(ctx, accountID)
}

// Prices exposes the configured price table for presentation layers.
func (orchestrator *Orchestrator) Prices() PriceTable {
	prices := make(PriceTable, len(orchestrator.prices))
	for kind, cost := range orchestrator.prices {
		prices[kind] = cost
	}
	return prices
}

// IsFreeAccount reports whether accountID is the configured free tier.
func (orchestrator *Orchestrator) IsFreeAccount(accountID wallet.AccountID) bool {
	return orchestrator.isFreeAccount(accountID)
}

func (orchestrator *Orchestrator) isFreeAccount(accountID wallet.AccountID) bool {
	return orchestrator.freeAccountID != "" && accountID.String() == orchestrator.freeAccountID
}

func (orchestrator *Orchestrator) paymentRequired(ctx context.Context, accountID wallet.AccountID, cost int64) (Result, error) {
	balance, err := orchestrator.ledger.Balance(ctx, accountID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Outcome: OutcomePaymentRequired,
		Cost:    cost,
		Balance: balance,
		Reason:  fmt.Sprintf("requires %d stars, balance is %d", cost, balance),
	}, nil
}

// refund compensates a debit after a provider failure. A refund that
// does not apply is a reconciliation anomaly: the user paid for nothing
// delivered, so the failure is escalated instead of dropped.
func (orchestrator *Orchestrator) refund(ctx context.Context, accountID wallet.AccountID, amount int64, serviceTag wallet.ServiceTag, metadata wallet.MetadataJSON) {
	refundTag, err := wallet.NewServiceTag(refundTagPrefix + serviceTag.String())
	if err != nil {
		orchestrator.reportAnomaly(ctx, accountID, serviceTag, amount, err)
		return
	}
	refunded, err := orchestrator.ledger.Credit(ctx, accountID, amount, refundTag, "", metadata)
	if err != nil {
		orchestrator.reportAnomaly(ctx, accountID, serviceTag, amount, err)
		return
	}
	if !refunded {
		orchestrator.reportAnomaly(ctx, accountID, serviceTag, amount, errors.New("refund credit not applied"))
	}
}

func (orchestrator *Orchestrator) reportAnomaly(ctx context.Context, accountID wallet.AccountID, serviceTag wallet.ServiceTag, amount int64, err error) {
	if orchestrator.anomalies == nil {
		return
	}
	orchestrator.anomalies.ReportAnomaly(ctx, ReconciliationAnomaly{
		AccountID:  accountID,
		ServiceTag: serviceTag,
		Amount:     amount,
		Err:        err,
	})
}
