package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zodiaclab/starledger/pkg/wallet"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountIdempotencyKey = "uniq_entries_account_idem"
	defaultMetadataJSON             = "{}"
	pgUniqueViolationCode           = "23505"
	sqliteConstraintCode            = 19
	errorOperationStore             = "store"
	errorSubjectAccount             = "account"
	errorSubjectEntry               = "entry"
	errorCodeApplyDelta             = "apply_delta"
	errorCodeDuplicate              = "duplicate"
	errorCodeGet                    = "get"
	errorCodeInsert                 = "insert"
	errorCodeInvalid                = "invalid"
	errorCodeList                   = "list"
	errorCodeUpsert                 = "upsert"
)

// Store implements wallet.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// GetAccount loads an account, returning nil when it does not exist.
func (store *Store) GetAccount(ctx context.Context, accountID wallet.AccountID) (*wallet.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

// UpsertAccount seeds the account row once. The seed credits the
// starting balance into total_earned so the balance identity holds from
// the first row onward. Existing rows are left untouched.
func (store *Store) UpsertAccount(ctx context.Context, accountID wallet.AccountID, initialBalance int64) error {
	model := Account{
		AccountID:   accountID.String(),
		Balance:     initialBalance,
		TotalEarned: initialBalance,
		TotalSpent:  0,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpsert, err)
	}
	return nil
}

// ApplyDelta adjusts the balance and the matching lifetime counter in a
// single conditional UPDATE. The WHERE guard makes the debit path the
// serialization point for concurrent spends: of two debits racing on
// the same pre-mutation balance, the engine applies one and the other
// sees zero affected rows.
func (store *Store) ApplyDelta(ctx context.Context, accountID wallet.AccountID, delta int64, kind wallet.EntryKind) (bool, error) {
	switch kind {
	case wallet.EntryDebit:
		if delta >= 0 {
			return false, wrapStoreError(errorSubjectAccount, errorCodeApplyDelta, wallet.ErrInvalidAmount)
		}
		amount := -delta
		result := store.db.WithContext(ctx).
			Model(&Account{}).
			Where("account_id = ? AND balance >= ?", accountID.String(), amount).
			Updates(map[string]interface{}{
				"balance":     gorm.Expr("balance - ?", amount),
				"total_spent": gorm.Expr("total_spent + ?", amount),
				"updated_at":  time.Now().UTC(),
			})
		if result.Error != nil {
			return false, wrapStoreError(errorSubjectAccount, errorCodeApplyDelta, result.Error)
		}
		return result.RowsAffected > 0, nil
	case wallet.EntryCredit:
		if delta <= 0 {
			return false, wrapStoreError(errorSubjectAccount, errorCodeApplyDelta, wallet.ErrInvalidAmount)
		}
		result := store.db.WithContext(ctx).
			Model(&Account{}).
			Where("account_id = ?", accountID.String()).
			Updates(map[string]interface{}{
				"balance":      gorm.Expr("balance + ?", delta),
				"total_earned": gorm.Expr("total_earned + ?", delta),
				"updated_at":   time.Now().UTC(),
			})
		if result.Error != nil {
			return false, wrapStoreError(errorSubjectAccount, errorCodeApplyDelta, result.Error)
		}
		return result.RowsAffected > 0, nil
	}
	return false, wrapStoreError(errorSubjectAccount, errorCodeApplyDelta, wallet.ErrInvalidEntryKind)
}

// AppendEntry inserts one immutable ledger row.
func (store *Store) AppendEntry(ctx context.Context, entryInput wallet.EntryInput) error {
	var idempotencyKey *string
	if entryInput.IdempotencyKey() != "" {
		value := entryInput.IdempotencyKey()
		idempotencyKey = &value
	}
	entry := LedgerEntry{
		AccountID:      entryInput.AccountID().String(),
		Kind:           entryInput.Kind().String(),
		Amount:         entryInput.Amount(),
		ServiceTag:     entryInput.ServiceTag().String(),
		IdempotencyKey: idempotencyKey,
		Metadata:       datatypesJSON(entryInput.MetadataJSON().String()),
		CreatedAt:      time.Unix(entryInput.CreatedUnixUTC(), 0).UTC(),
	}
	if entryInput.CreatedUnixUTC() == 0 {
		entry.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&entry).Error
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

// ListEntries returns entries most recent first, optionally filtered by
// kind.
func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, kindFilter wallet.EntryKind, limit int) ([]wallet.Entry, error) {
	query := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String())
	if kindFilter != "" {
		query = query.Where("kind = ?", kindFilter.String())
	}

	var rows []LedgerEntry
	err := query.
		Order("created_at DESC, entry_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]wallet.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) (*wallet.Account, error) {
	accountID, err := wallet.NewAccountID(model.AccountID)
	if err != nil {
		return nil, err
	}
	return &wallet.Account{
		AccountID:   accountID,
		Balance:     model.Balance,
		TotalEarned: model.TotalEarned,
		TotalSpent:  model.TotalSpent,
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (wallet.Entry, error) {
	accountID, err := wallet.NewAccountID(row.AccountID)
	if err != nil {
		return wallet.Entry{}, err
	}
	kind, err := wallet.ParseEntryKind(row.Kind)
	if err != nil {
		return wallet.Entry{}, err
	}
	serviceTag, err := wallet.NewServiceTag(row.ServiceTag)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Entry{}, err
	}
	return wallet.Entry{
		EntryID:        row.EntryID,
		AccountID:      accountID,
		Kind:           kind,
		Amount:         row.Amount,
		ServiceTag:     serviceTag,
		MetadataJSON:   metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountIdempotencyKey
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
