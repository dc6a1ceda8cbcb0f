package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Version is the optimistic
// concurrency counter advanced by every balance-affecting transaction.
type Account struct {
	AccountID string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_accounts_user"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// StoreLink maps a store to the account that pays for its perks.
type StoreLink struct {
	StoreID   string    `gorm:"primaryKey"`
	AccountID string    `gorm:"not null;index:idx_store_links_account"`
	CreatedAt time.Time `gorm:"not null"`
}

func (StoreLink) TableName() string { return "store_links" }

// LedgerEntry mirrors the ledger_entries table.
type LedgerEntry struct {
	EntryID     string         `gorm:"primaryKey"`
	AccountID   string         `gorm:"not null;uniqueIndex:idx_ledger_entries_account_reference,priority:1;index:idx_ledger_entries_account_created,priority:1"`
	Kind        string         `gorm:"not null"`
	AmountCents int64          `gorm:"not null"`
	Status      string         `gorm:"not null;index:idx_ledger_entries_status"`
	Reference   string         `gorm:"not null;uniqueIndex:idx_ledger_entries_account_reference,priority:2"`
	Metadata    datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_ledger_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// PerkEntitlement mirrors the perk_entitlements table.
type PerkEntitlement struct {
	EntitlementID  string         `gorm:"primaryKey"`
	StoreID        string         `gorm:"not null;index:idx_perk_entitlements_store_expiry,priority:1"`
	PerkType       string         `gorm:"not null"`
	PricePaidCents int64          `gorm:"not null"`
	GrantedDays    int            `gorm:"not null"`
	ExpiresAt      time.Time      `gorm:"not null;index:idx_perk_entitlements_store_expiry,priority:2"`
	IsActive       bool           `gorm:"not null"`
	PurchasedAt    time.Time      `gorm:"not null"`
	Metadata       datatypes.JSON `gorm:"not null"`
}

func (PerkEntitlement) TableName() string { return "perk_entitlements" }

// WalletRequest mirrors the wallet_requests table.
type WalletRequest struct {
	RequestID   string     `gorm:"primaryKey"`
	UserID      string     `gorm:"not null;index:idx_wallet_requests_user"`
	Type        string     `gorm:"not null"`
	AmountCents int64      `gorm:"not null"`
	EvidenceRef string     `gorm:"not null;default:''"`
	Status      string     `gorm:"not null;index:idx_wallet_requests_status_created,priority:1"`
	AdminNotes  string     `gorm:"not null;default:''"`
	CreatedAt   time.Time  `gorm:"not null;index:idx_wallet_requests_status_created,priority:2"`
	ReviewedAt  *time.Time `gorm:""`
}

func (WalletRequest) TableName() string { return "wallet_requests" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &StoreLink{}, &LedgerEntry{}, &PerkEntitlement{}, &WalletRequest{}}
}

// Migrate creates or updates the wallet schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
