// Package oplog adapts the wallet and billing callback interfaces to
// zap, keeping the domain packages free of any logging dependency.
package oplog

import (
	"context"

	"github.com/zodiaclab/starledger/pkg/billing"
	"github.com/zodiaclab/starledger/pkg/wallet"
	"go.uber.org/zap"
)

// WalletLogger logs every wallet operation.
type WalletLogger struct {
	logger *zap.Logger
}

// NewWalletLogger wraps a zap logger as a wallet.OperationLogger.
func NewWalletLogger(logger *zap.Logger) *WalletLogger {
	return &WalletLogger{logger: logger}
}

// LogOperation implements wallet.OperationLogger.
func (walletLogger *WalletLogger) LogOperation(_ context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID.String()),
		zap.Int64("amount", entry.Amount),
		zap.String("service_tag", entry.ServiceTag.String()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		walletLogger.logger.Warn("wallet operation failed", fields...)
		return
	}
	walletLogger.logger.Info("wallet operation", fields...)
}

// AnomalyLogger records reconciliation anomalies at error level under a
// fixed message so they can be alerted on and reviewed manually.
type AnomalyLogger struct {
	logger *zap.Logger
}

// NewAnomalyLogger wraps a zap logger as a billing.AnomalyReporter.
func NewAnomalyLogger(logger *zap.Logger) *AnomalyLogger {
	return &AnomalyLogger{logger: logger}
}

// ReportAnomaly implements billing.AnomalyReporter.
func (anomalyLogger *AnomalyLogger) ReportAnomaly(_ context.Context, anomaly billing.ReconciliationAnomaly) {
	anomalyLogger.logger.Error("reconciliation anomaly: refund failed after provider failure",
		zap.String("account_id", anomaly.AccountID.String()),
		zap.String("service_tag", anomaly.ServiceTag.String()),
		zap.Int64("amount", anomaly.Amount),
		zap.Error(anomaly.Err),
	)
}
