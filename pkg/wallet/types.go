package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AccountID identifies a wallet owner. The value is opaque to the
// wallet; callers typically pass a Telegram user id rendered as a
// string.
type AccountID struct {
	value string
}

// ServiceTag labels a ledger entry with the purchased service, for
// example "compatibility:aries:leo" or "deposit".
type ServiceTag struct {
	value string
}

// MetadataJSON stores arbitrary request metadata alongside an entry.
type MetadataJSON struct {
	value string
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryCredit EntryKind = "credit"
	EntryDebit  EntryKind = "debit"
)

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewServiceTag validates and normalizes a service tag.
func NewServiceTag(raw string) (ServiceTag, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ServiceTag{}, fmt.Errorf("%w: empty value", ErrInvalidServiceTag)
	}
	return ServiceTag{value: trimmed}, nil
}

// String returns the normalized tag.
func (tag ServiceTag) String() string {
	return tag.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	switch EntryKind(raw) {
	case EntryCredit, EntryDebit:
		return EntryKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the kind as stored.
func (kind EntryKind) String() string {
	return string(kind)
}

// EntryInput carries a validated, not-yet-persisted ledger entry.
type EntryInput struct {
	accountID      AccountID
	kind           EntryKind
	amount         int64
	serviceTag     ServiceTag
	idempotencyKey string
	metadata       MetadataJSON
	createdUnixUTC int64
}

// NewEntryInput validates an entry before insertion. Credits must carry
// a positive amount; debits allow zero so that free-tier usage still
// leaves a history record. An empty idempotencyKey disables duplicate
// detection for the entry.
func NewEntryInput(accountID AccountID, kind EntryKind, amount int64, serviceTag ServiceTag, idempotencyKey string, metadata MetadataJSON, createdUnixUTC int64) (EntryInput, error) {
	if accountID.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return EntryInput{}, err
	}
	switch kind {
	case EntryCredit:
		if amount <= 0 {
			return EntryInput{}, fmt.Errorf("%w: credit amount must be positive", ErrInvalidAmount)
		}
	case EntryDebit:
		if amount < 0 {
			return EntryInput{}, fmt.Errorf("%w: debit amount must not be negative", ErrInvalidAmount)
		}
	}
	if serviceTag.value == "" {
		return EntryInput{}, fmt.Errorf("%w: empty value", ErrInvalidServiceTag)
	}
	if metadata.value == "" {
		metadata = MetadataJSON{value: "{}"}
	}
	return EntryInput{
		accountID:      accountID,
		kind:           kind,
		amount:         amount,
		serviceTag:     serviceTag,
		idempotencyKey: strings.TrimSpace(idempotencyKey),
		metadata:       metadata,
		createdUnixUTC: createdUnixUTC,
	}, nil
}

// AccountID returns the owning account.
func (input EntryInput) AccountID() AccountID { return input.accountID }

// Kind returns the entry kind.
func (input EntryInput) Kind() EntryKind { return input.kind }

// Amount returns the entry amount in stars.
func (input EntryInput) Amount() int64 { return input.amount }

// ServiceTag returns the service label.
func (input EntryInput) ServiceTag() ServiceTag { return input.serviceTag }

// IdempotencyKey returns the duplicate-detection key, empty when unset.
func (input EntryInput) IdempotencyKey() string { return input.idempotencyKey }

// MetadataJSON returns the attached metadata.
func (input EntryInput) MetadataJSON() MetadataJSON { return input.metadata }

// CreatedUnixUTC returns the entry creation time.
func (input EntryInput) CreatedUnixUTC() int64 { return input.createdUnixUTC }

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID        string
	AccountID      AccountID
	Kind           EntryKind
	Amount         int64
	ServiceTag     ServiceTag
	MetadataJSON   MetadataJSON
	CreatedUnixUTC int64
}

// Account is the stored balance view for one account.
type Account struct {
	AccountID   AccountID
	Balance     int64
	TotalEarned int64
	TotalSpent  int64
}

// Stats summarizes an account's lifetime activity.
type Stats struct {
	Balance     int64
	TotalEarned int64
	TotalSpent  int64
}

// Store is the persistence contract used by Service. The gormstore
// package implements it for sqlite and postgres.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// GetAccount returns nil when the account has never been seen.
	GetAccount(ctx context.Context, accountID AccountID) (*Account, error)
	// UpsertAccount creates the account with the given seed balance and
	// is a no-op when the account already exists.
	UpsertAccount(ctx context.Context, accountID AccountID, initialBalance int64) error
	// ApplyDelta atomically adjusts the balance by delta (positive for
	// credits, negative for debits) together with the matching lifetime
	// counter. A debit that would drive the balance negative applies
	// nothing and reports false.
	ApplyDelta(ctx context.Context, accountID AccountID, delta int64, kind EntryKind) (bool, error)
	AppendEntry(ctx context.Context, entry EntryInput) error
	// ListEntries returns entries most recent first. A zero kind filter
	// returns entries of every kind.
	ListEntries(ctx context.Context, accountID AccountID, kindFilter EntryKind, limit int) ([]Entry, error)
}
