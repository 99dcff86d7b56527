package wallet

const (
	operationBalance = "balance"
	operationDebit   = "debit"
	operationCredit  = "credit"
	operationUsage   = "usage"
	operationStats   = "stats"
	operationHistory = "history"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultStartingBalance is the seed balance in stars for accounts
	// created lazily on first access.
	DefaultStartingBalance int64 = 500
)
