package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/zodiaclab/starledger/pkg/wallet"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testAccountIDValue = "tg-3001"

// newTestStore opens a throwaway file-backed sqlite database. A file is
// required: separate connections to :memory: would each get their own
// empty database.
func newTestStore(test *testing.T) *Store {
	test.Helper()
	path := filepath.Join(test.TempDir(), "wallet.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}, &LedgerEntry{}); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustTestAccountID(test *testing.T, raw string) wallet.AccountID {
	test.Helper()
	accountID, err := wallet.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustEntryInput(test *testing.T, accountID wallet.AccountID, kind wallet.EntryKind, amount int64, tag string, idempotencyKey string, createdUnixUTC int64) wallet.EntryInput {
	test.Helper()
	serviceTag, err := wallet.NewServiceTag(tag)
	if err != nil {
		test.Fatalf("service tag %q: %v", tag, err)
	}
	metadata, err := wallet.NewMetadataJSON("{}")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	input, err := wallet.NewEntryInput(accountID, kind, amount, serviceTag, idempotencyKey, metadata, createdUnixUTC)
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	return input
}

func TestGetAccountUnseenReturnsNil(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)

	account, err := store.GetAccount(context.Background(), accountID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if account != nil {
		test.Fatalf("expected nil for unseen account, got %+v", account)
	}
}

func TestUpsertAccountSeedsOnce(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)

	if err := store.UpsertAccount(context.Background(), accountID, 500); err != nil {
		test.Fatalf("first upsert: %v", err)
	}
	if err := store.UpsertAccount(context.Background(), accountID, 9000); err != nil {
		test.Fatalf("second upsert: %v", err)
	}

	account, err := store.GetAccount(context.Background(), accountID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if account == nil {
		test.Fatal("expected account after upsert")
	}
	if account.Balance != 500 {
		test.Fatalf("expected first seed 500 to win, got %d", account.Balance)
	}
	if account.TotalEarned != 500 {
		test.Fatalf("expected seed counted as earned, got %d", account.TotalEarned)
	}
}

func TestApplyDeltaDebitGuardsBalance(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	ctx := context.Background()

	if err := store.UpsertAccount(ctx, accountID, 100); err != nil {
		test.Fatalf("upsert: %v", err)
	}

	applied, err := store.ApplyDelta(ctx, accountID, -55, wallet.EntryDebit)
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if !applied {
		test.Fatal("expected covered debit to apply")
	}

	applied, err = store.ApplyDelta(ctx, accountID, -55, wallet.EntryDebit)
	if err != nil {
		test.Fatalf("second debit: %v", err)
	}
	if applied {
		test.Fatal("expected uncovered debit to be refused")
	}

	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if account.Balance != 45 {
		test.Fatalf("expected balance 45, got %d", account.Balance)
	}
	if account.TotalSpent != 55 {
		test.Fatalf("expected total spent 55, got %d", account.TotalSpent)
	}
	if account.Balance != account.TotalEarned-account.TotalSpent {
		test.Fatalf("balance %d breaks earned-spent identity (%d - %d)", account.Balance, account.TotalEarned, account.TotalSpent)
	}
}

func TestApplyDeltaCreditAlwaysApplies(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	ctx := context.Background()

	if err := store.UpsertAccount(ctx, accountID, 0); err != nil {
		test.Fatalf("upsert: %v", err)
	}
	applied, err := store.ApplyDelta(ctx, accountID, 250, wallet.EntryCredit)
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	if !applied {
		test.Fatal("expected credit to apply")
	}
	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if account.Balance != 250 || account.TotalEarned != 250 {
		test.Fatalf("expected balance and earned 250, got %d and %d", account.Balance, account.TotalEarned)
	}
}

func TestApplyDeltaRejectsWrongSign(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	ctx := context.Background()

	if _, err := store.ApplyDelta(ctx, accountID, 10, wallet.EntryDebit); !errors.Is(err, wallet.ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for positive debit delta, got %v", err)
	}
	if _, err := store.ApplyDelta(ctx, accountID, -10, wallet.EntryCredit); !errors.Is(err, wallet.ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount for negative credit delta, got %v", err)
	}
}

func TestAppendEntryDuplicateIdempotencyKey(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	otherAccountID := mustTestAccountID(test, "tg-3002")
	ctx := context.Background()

	first := mustEntryInput(test, accountID, wallet.EntryCredit, 100, "deposit", "deposit:pay-1", 1700000000)
	if err := store.AppendEntry(ctx, first); err != nil {
		test.Fatalf("first append: %v", err)
	}

	repeat := mustEntryInput(test, accountID, wallet.EntryCredit, 100, "deposit", "deposit:pay-1", 1700000001)
	if err := store.AppendEntry(ctx, repeat); !errors.Is(err, wallet.ErrDuplicateEntry) {
		test.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}

	// Same key on another account is a distinct payment.
	crossAccount := mustEntryInput(test, otherAccountID, wallet.EntryCredit, 100, "deposit", "deposit:pay-1", 1700000002)
	if err := store.AppendEntry(ctx, crossAccount); err != nil {
		test.Fatalf("cross-account append: %v", err)
	}
}

func TestAppendEntryWithoutKeyNeverConflicts(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	ctx := context.Background()

	for index := int64(0); index < 3; index++ {
		entry := mustEntryInput(test, accountID, wallet.EntryDebit, 55, "compatibility:aries:leo", "", 1700000000+index)
		if err := store.AppendEntry(ctx, entry); err != nil {
			test.Fatalf("append %d: %v", index, err)
		}
	}
	entries, err := store.ListEntries(ctx, accountID, "", 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		test.Fatalf("expected 3 entries, got %d", len(entries))
	}
}

func TestListEntriesOrdersAndFilters(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	ctx := context.Background()

	inputs := []wallet.EntryInput{
		mustEntryInput(test, accountID, wallet.EntryCredit, 500, "deposit", "", 1700000000),
		mustEntryInput(test, accountID, wallet.EntryDebit, 55, "compatibility:aries:leo", "", 1700000100),
		mustEntryInput(test, accountID, wallet.EntryDebit, 0, "daily_horoscope:leo", "", 1700000200),
	}
	for _, input := range inputs {
		if err := store.AppendEntry(ctx, input); err != nil {
			test.Fatalf("append: %v", err)
		}
	}

	all, err := store.ListEntries(ctx, accountID, "", 10)
	if err != nil {
		test.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		test.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].ServiceTag.String() != "daily_horoscope:leo" {
		test.Fatalf("expected most recent entry first, got %q", all[0].ServiceTag)
	}

	debits, err := store.ListEntries(ctx, accountID, wallet.EntryDebit, 10)
	if err != nil {
		test.Fatalf("list debits: %v", err)
	}
	if len(debits) != 2 {
		test.Fatalf("expected 2 debit entries, got %d", len(debits))
	}
	for _, entry := range debits {
		if entry.Kind != wallet.EntryDebit {
			test.Fatalf("expected only debit entries, got %s", entry.Kind)
		}
	}

	limited, err := store.ListEntries(ctx, accountID, "", 1)
	if err != nil {
		test.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		test.Fatalf("expected 1 entry with limit 1, got %d", len(limited))
	}
}

func TestWithTxRollsBackOnError(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	accountID := mustTestAccountID(test, testAccountIDValue)
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := store.WithTx(ctx, func(ctx context.Context, txStore wallet.Store) error {
		if upsertErr := txStore.UpsertAccount(ctx, accountID, 500); upsertErr != nil {
			return upsertErr
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		test.Fatalf("expected abort error, got %v", err)
	}

	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		test.Fatalf("get account: %v", err)
	}
	if account != nil {
		test.Fatalf("expected rollback to discard the account, got %+v", account)
	}
}

func TestServiceOverStoreNeverDoubleSpends(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service, err := wallet.NewService(store, func() int64 { return 1700000000 }, 100)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	accountID := mustTestAccountID(test, testAccountIDValue)
	serviceTag, err := wallet.NewServiceTag("compatibility:aries:leo")
	if err != nil {
		test.Fatalf("service tag: %v", err)
	}
	metadata, err := wallet.NewMetadataJSON("{}")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	ctx := context.Background()

	first, err := service.Debit(ctx, accountID, 55, serviceTag, metadata)
	if err != nil {
		test.Fatalf("first debit: %v", err)
	}
	if !first {
		test.Fatal("expected first debit to succeed")
	}
	second, err := service.Debit(ctx, accountID, 55, serviceTag, metadata)
	if err != nil {
		test.Fatalf("second debit: %v", err)
	}
	if second {
		test.Fatal("expected second debit to be refused")
	}

	stats, err := service.Stats(ctx, accountID)
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.Balance != 45 {
		test.Fatalf("expected balance 45, got %d", stats.Balance)
	}
	if stats.Balance != stats.TotalEarned-stats.TotalSpent {
		test.Fatalf("balance %d breaks earned-spent identity (%d - %d)", stats.Balance, stats.TotalEarned, stats.TotalSpent)
	}
}

// Concurrent debits may contend on the sqlite file; a locked transaction
// is acceptable as long as no sequence of outcomes overspends.
func TestConcurrentDebitsNeverOverspend(test *testing.T) {
	test.Parallel()
	store := newTestStore(test)
	service, err := wallet.NewService(store, func() int64 { return 1700000000 }, 200)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	accountID := mustTestAccountID(test, testAccountIDValue)
	serviceTag, err := wallet.NewServiceTag("tarot:daily")
	if err != nil {
		test.Fatalf("service tag: %v", err)
	}
	metadata, err := wallet.NewMetadataJSON("{}")
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}

	const workers = 8
	const amount = int64(55)
	var waitGroup sync.WaitGroup
	results := make([]bool, workers)
	failures := make([]error, workers)
	for index := 0; index < workers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			debited, debitErr := service.Debit(context.Background(), accountID, amount, serviceTag, metadata)
			results[index] = debited
			failures[index] = debitErr
		}(index)
	}
	waitGroup.Wait()

	successes := int64(0)
	for index := 0; index < workers; index++ {
		if failures[index] == nil && results[index] {
			successes++
		}
	}
	if successes > 200/amount {
		test.Fatalf("overspend: %d debits of %d applied against balance 200", successes, amount)
	}

	stats, err := service.Stats(context.Background(), accountID)
	if err != nil {
		test.Fatalf("stats: %v", err)
	}
	if stats.Balance < 0 {
		test.Fatalf("negative balance %d", stats.Balance)
	}
	if stats.Balance != 200-successes*amount {
		test.Fatalf("expected balance %d after %d debits, got %d", 200-successes*amount, successes, stats.Balance)
	}
	if stats.Balance != stats.TotalEarned-stats.TotalSpent {
		test.Fatalf("balance %d breaks earned-spent identity (%d - %d)", stats.Balance, stats.TotalEarned, stats.TotalSpent)
	}
}
