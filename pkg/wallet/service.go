package wallet

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the wallet domain logic over a Store. It is the only
// component allowed to mutate accounts and the ledger; every mutation
// goes through the store's atomic ApplyDelta inside a transaction, so a
// concurrent reader never observes a negative balance or a balance that
// disagrees with the lifetime counters.
type Service struct {
	store           Store
	nowFn           func() int64
	startingBalance int64
	logger          OperationLogger
}

// NewService wires a Service. startingBalance is the seed applied when
// an unseen account is touched for the first time.
func NewService(store Store, now func() int64, startingBalance int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if startingBalance < 0 {
		return nil, fmt.Errorf("%w: starting balance must not be negative", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, startingBalance: startingBalance}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the spendable balance, seeding the account with the
// starting balance when it has never been seen. Seeding is idempotent:
// repeated calls for the same account create exactly one record.
func (service *Service) Balance(ctx context.Context, accountID AccountID) (int64, error) {
	account, operationError := service.seededAccount(ctx, accountID)
	service.logOperation(ctx, OperationLog{
		Operation: operationBalance,
		AccountID: accountID,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return account.Balance, nil
}

// CanAfford reports whether the account can pay cost. It has no side
// effects: an unseen account is compared against the seed balance it
// would receive, without writing anything. A non-positive cost is
// always affordable.
func (service *Service) CanAfford(ctx context.Context, accountID AccountID, cost int64) (bool, error) {
	if cost <= 0 {
		return true, nil
	}
	account, err := service.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	balance := service.startingBalance
	if account != nil {
		balance = account.Balance
	}
	return cost <= balance, nil
}

// Debit atomically decreases the balance, increases totalSpent, and
// appends a debit ledger entry tagged with the purchased service. The
// three effects commit as one transaction. It reports false without
// mutating anything when funds are insufficient; a non-positive amount
// is a no-op success.
func (service *Service) Debit(ctx context.Context, accountID AccountID, amount int64, serviceTag ServiceTag, metadata MetadataJSON) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.UpsertAccount(ctx, accountID, service.startingBalance); err != nil {
			return err
		}
		applied, err := transactionStore.ApplyDelta(ctx, accountID, -amount, EntryDebit)
		if err != nil {
			return err
		}
		if !applied {
			return ErrInsufficientFunds
		}
		entryInput, err := NewEntryInput(accountID, EntryDebit, amount, serviceTag, "", metadata, service.nowFn())
		if err != nil {
			return err
		}
		return transactionStore.AppendEntry(ctx, entryInput)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationDebit,
		AccountID:  accountID,
		Amount:     amount,
		ServiceTag: serviceTag,
		Error:      operationError,
	})
	if isInsufficientFunds(operationError) {
		return false, nil
	}
	if operationError != nil {
		return false, operationError
	}
	return true, nil
}

// Credit atomically increases the balance and totalEarned and appends a
// credit entry. Accounts can always receive funds, so a positive amount
// never fails short of a storage error. A non-positive amount is a
// no-op success, mirroring Debit. A non-empty idempotencyKey dedupes
// retried credits: a repeat surfaces ErrDuplicateEntry with nothing
// applied.
func (service *Service) Credit(ctx context.Context, accountID AccountID, amount int64, serviceTag ServiceTag, idempotencyKey string, metadata MetadataJSON) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.UpsertAccount(ctx, accountID, service.startingBalance); err != nil {
			return err
		}
		applied, err := transactionStore.ApplyDelta(ctx, accountID, amount, EntryCredit)
		if err != nil {
			return err
		}
		if !applied {
			return WrapError(operationCredit, "account", "apply_delta", ErrInvalidAmount)
		}
		entryInput, err := NewEntryInput(accountID, EntryCredit, amount, serviceTag, idempotencyKey, metadata, service.nowFn())
		if err != nil {
			return err
		}
		return transactionStore.AppendEntry(ctx, entryInput)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationCredit,
		AccountID:  accountID,
		Amount:     amount,
		ServiceTag: serviceTag,
		Error:      operationError,
	})
	if operationError != nil {
		return false, operationError
	}
	return true, nil
}

// RecordUsage appends a zero-cost debit entry so that uncharged
// requests (free-tier accounts, free services) still leave a history
// record. The balance is untouched.
func (service *Service) RecordUsage(ctx context.Context, accountID AccountID, serviceTag ServiceTag, metadata MetadataJSON) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.UpsertAccount(ctx, accountID, service.startingBalance); err != nil {
			return err
		}
		entryInput, err := NewEntryInput(accountID, EntryDebit, 0, serviceTag, "", metadata, service.nowFn())
		if err != nil {
			return err
		}
		return transactionStore.AppendEntry(ctx, entryInput)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationUsage,
		AccountID:  accountID,
		ServiceTag: serviceTag,
		Error:      operationError,
	})
	return operationError
}

// Stats returns the balance together with the lifetime counters.
func (service *Service) Stats(ctx context.Context, accountID AccountID) (Stats, error) {
	account, operationError := service.seededAccount(ctx, accountID)
	service.logOperation(ctx, OperationLog{
		Operation: operationStats,
		AccountID: accountID,
		Error:     operationError,
	})
	if operationError != nil {
		return Stats{}, operationError
	}
	return Stats{
		Balance:     account.Balance,
		TotalEarned: account.TotalEarned,
		TotalSpent:  account.TotalSpent,
	}, nil
}

// History returns the account's spend history, most recent first. Only
// debit entries are listed; deposits and refunds show up through Stats
// and Entries instead.
func (service *Service) History(ctx context.Context, accountID AccountID, limit int) ([]Entry, error) {
	entries, operationError := service.store.ListEntries(ctx, accountID, EntryDebit, limit)
	service.logOperation(ctx, OperationLog{
		Operation: operationHistory,
		AccountID: accountID,
		Error:     operationError,
	})
	return entries, operationError
}

// Entries returns ledger entries of every kind, most recent first.
func (service *Service) Entries(ctx context.Context, accountID AccountID, limit int) ([]Entry, error) {
	return service.store.ListEntries(ctx, accountID, "", limit)
}

func (service *Service) seededAccount(ctx context.Context, accountID AccountID) (*Account, error) {
	var account *Account
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if upsertErr := transactionStore.UpsertAccount(ctx, accountID, service.startingBalance); upsertErr != nil {
			return upsertErr
		}
		loaded, getErr := transactionStore.GetAccount(ctx, accountID)
		if getErr != nil {
			return getErr
		}
		if loaded == nil {
			return WrapError(operationBalance, "account", "missing_after_upsert", ErrInvalidAccountID)
		}
		account = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil && !isInsufficientFunds(entry.Error) {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func isInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInsufficientFunds)
}
