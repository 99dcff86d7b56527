package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. The balance identity
// balance == total_earned - total_spent is maintained by ApplyDelta,
// which always moves the balance and the matching counter together.
type Account struct {
	AccountID   string    `gorm:"primaryKey"`
	Balance     int64     `gorm:"not null"`
	TotalEarned int64     `gorm:"not null"`
	TotalSpent  int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table. Rows are append-only.
type LedgerEntry struct {
	EntryID        string         `gorm:"type:uuid;primaryKey"`
	AccountID      string         `gorm:"not null;index:idx_entries_account_created,priority:1;index:uniq_entries_account_idem,unique,priority:1"`
	Kind           string         `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	ServiceTag     string         `gorm:"not null"`
	IdempotencyKey *string        `gorm:"index:uniq_entries_account_idem,unique,priority:2"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
