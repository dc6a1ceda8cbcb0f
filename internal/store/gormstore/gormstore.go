package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountReference = "idx_ledger_entries_account_reference"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	sqliteConstraintCode       = 19
	sqliteUniqueFailure        = "UNIQUE constraint failed"
	sqliteReferenceColumn      = "ledger_entries.reference"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectEntry          = "entry"
	errorSubjectEntitlement    = "entitlement"
	errorSubjectRequest        = "wallet_request"
	errorSubjectStoreLink      = "store_link"
	errorCodeAdvanceVersion    = "advance_version"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLookup            = "lookup"
	errorCodeSumSettled        = "sum_settled"
	errorCodeTransition        = "transition"
	errorCodeUpdateStatus      = "update_status"
	sumSettledSelect           = "coalesce(sum(case when kind in ('deposit','earning','refund') then amount_cents else -amount_cents end),0) as total"
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

func (store *Store) GetOrCreateAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	db := store.db.WithContext(ctx)
	var account Account
	err := db.Where("user_id = ?", userID.String()).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		candidate := Account{UserID: userID.String(), CreatedAt: time.Now().UTC()}
		err = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).Create(&candidate).Error
		if err != nil {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
		}
		err = db.Where("user_id = ?", userID.String()).Take(&account).Error
	}
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	mapped, err := mapAccount(account)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) AdvanceAccountVersion(ctx context.Context, accountID wallet.AccountID, expectedVersion int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND version = ?", accountID.String(), expectedVersion).
		Update("version", gorm.Expr("version + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeAdvanceVersion, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeAdvanceVersion, wallet.ErrConcurrentModification)
	}
	return nil
}

func (store *Store) LinkStore(ctx context.Context, storeID wallet.StoreID, accountID wallet.AccountID) error {
	link := StoreLink{StoreID: storeID.String(), AccountID: accountID.String(), CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"account_id"}),
		}).
		Create(&link).Error
	if err != nil {
		return wrapStoreError(errorSubjectStoreLink, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetStoreAccount(ctx context.Context, storeID wallet.StoreID) (wallet.Account, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Select("accounts.*").
		Joins("JOIN store_links ON store_links.account_id = accounts.account_id").
		Where("store_links.store_id = ?", storeID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Account{}, wrapStoreError(errorSubjectStoreLink, errorCodeGet, wallet.ErrUnknownStore)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectStoreLink, errorCodeGet, err)
	}
	mapped, err := mapAccount(account)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) InsertEntry(ctx context.Context, entryInput wallet.EntryInput) error {
	entry := LedgerEntry{
		EntryID:     entryInput.EntryID().String(),
		AccountID:   entryInput.AccountID().String(),
		Kind:        entryInput.Kind().String(),
		AmountCents: entryInput.AmountCents().Int64(),
		Status:      entryInput.Status().String(),
		Reference:   entryInput.Reference().String(),
		Metadata:    datatypesJSON(entryInput.MetadataJSON().String()),
		CreatedAt:   time.Unix(entryInput.CreatedUnixUTC(), 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&entry).Error
	if isReferenceConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetEntry(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	var row LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND entry_id = ?", accountID.String(), entryID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrUnknownEntry)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *Store) UpdateEntryStatus(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID, from, to wallet.EntryStatus) error {
	result := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("account_id = ? AND entry_id = ? AND status = ?", accountID.String(), entryID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetEntry(ctx, accountID, entryID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, wallet.ErrEntryNotPending)
	}
	return nil
}

func (store *Store) SumSettled(ctx context.Context, accountID wallet.AccountID) (wallet.SignedAmountCents, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select(sumSettledSelect).
		Where("account_id = ? AND status = ?", accountID.String(), wallet.EntryStatusSuccess.String()).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumSettled, err)
	}
	return wallet.SignedAmountCents(sum.Total), nil
}

func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	query := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []LedgerEntry
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *Store) ListAllEntries(ctx context.Context, accountID wallet.AccountID) ([]wallet.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *Store) InsertEntitlement(ctx context.Context, entitlement wallet.Entitlement) error {
	model := PerkEntitlement{
		EntitlementID:  entitlement.EntitlementID().String(),
		StoreID:        entitlement.StoreID().String(),
		PerkType:       entitlement.PerkType().String(),
		PricePaidCents: entitlement.PricePaid().Int64(),
		GrantedDays:    entitlement.GrantedDays(),
		ExpiresAt:      time.Unix(entitlement.ExpiresAtUnixUTC(), 0).UTC(),
		IsActive:       entitlement.IsActiveFlag(),
		PurchasedAt:    time.Unix(entitlement.PurchasedUnixUTC(), 0).UTC(),
		Metadata:       datatypesJSON(entitlement.MetadataJSON().String()),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntitlement, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListActiveEntitlements(ctx context.Context, storeID wallet.StoreID, atUnixUTC int64) ([]wallet.Entitlement, error) {
	var rows []PerkEntitlement
	err := store.db.WithContext(ctx).
		Where("store_id = ? AND is_active = ? AND expires_at >= ?", storeID.String(), true, time.Unix(atUnixUTC, 0).UTC()).
		Order("expires_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntitlement, errorCodeList, err)
	}
	return mapEntitlements(rows)
}

func (store *Store) ListEntitlements(ctx context.Context, storeID wallet.StoreID, limit int) ([]wallet.Entitlement, error) {
	query := store.db.WithContext(ctx).
		Where("store_id = ?", storeID.String()).
		Order("purchased_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []PerkEntitlement
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntitlement, errorCodeList, err)
	}
	return mapEntitlements(rows)
}

func (store *Store) CreateWalletRequest(ctx context.Context, request wallet.WalletRequest) error {
	model := WalletRequest{
		RequestID:   request.RequestID().String(),
		UserID:      request.UserID().String(),
		Type:        request.Type().String(),
		AmountCents: request.AmountCents().Int64(),
		EvidenceRef: request.EvidenceRef(),
		Status:      request.Status().String(),
		AdminNotes:  request.AdminNotes(),
		CreatedAt:   time.Unix(request.CreatedUnixUTC(), 0).UTC(),
		ReviewedAt:  optionalTime(request.ReviewedUnixUTC()),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetWalletRequest(ctx context.Context, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	var row WalletRequest
	err := store.db.WithContext(ctx).Where("request_id = ?", requestID.String()).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.WalletRequest{}, wrapStoreError(errorSubjectRequest, errorCodeGet, wallet.ErrUnknownWalletRequest)
		}
		return wallet.WalletRequest{}, wrapStoreError(errorSubjectRequest, errorCodeGet, err)
	}
	request, err := mapWalletRequest(row)
	if err != nil {
		return wallet.WalletRequest{}, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
	}
	return request, nil
}

func (store *Store) TransitionWalletRequest(ctx context.Context, requestID wallet.RequestID, to wallet.RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&WalletRequest{}).
		Where("request_id = ? AND status = ?", requestID.String(), wallet.RequestStatusPending.String()).
		Updates(map[string]any{
			"status":      to.String(),
			"admin_notes": adminNotes,
			"reviewed_at": time.Unix(reviewedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeTransition, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetWalletRequest(ctx, requestID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectRequest, errorCodeTransition, wallet.ErrAlreadyProcessed)
	}
	return nil
}

func (store *Store) ListWalletRequests(ctx context.Context, status wallet.RequestStatus, limit int) ([]wallet.WalletRequest, error) {
	query := store.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status.String())
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []WalletRequest
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	requests := make([]wallet.WalletRequest, 0, len(rows))
	for _, row := range rows {
		request, err := mapWalletRequest(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapAccount(row Account) (wallet.Account, error) {
	accountID, err := wallet.NewAccountID(row.AccountID)
	if err != nil {
		return wallet.Account{}, err
	}
	userID, err := wallet.NewUserID(row.UserID)
	if err != nil {
		return wallet.Account{}, err
	}
	return wallet.NewAccount(accountID, userID, row.Version)
}

func mapLedgerEntries(rows []LedgerEntry) ([]wallet.Entry, error) {
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

func mapLedgerEntry(row LedgerEntry) (wallet.Entry, error) {
	entryID, err := wallet.NewEntryID(row.EntryID)
	if err != nil {
		return wallet.Entry{}, err
	}
	accountID, err := wallet.NewAccountID(row.AccountID)
	if err != nil {
		return wallet.Entry{}, err
	}
	kind, err := wallet.ParseEntryKind(row.Kind)
	if err != nil {
		return wallet.Entry{}, err
	}
	amountCents, err := wallet.NewPositiveAmountCents(row.AmountCents)
	if err != nil {
		return wallet.Entry{}, err
	}
	status, err := wallet.ParseEntryStatus(row.Status)
	if err != nil {
		return wallet.Entry{}, err
	}
	reference, err := wallet.NewReference(row.Reference)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Entry{}, err
	}
	return wallet.NewEntry(entryID, accountID, kind, amountCents, status, reference, metadata, row.CreatedAt.Unix())
}

func mapEntitlements(rows []PerkEntitlement) ([]wallet.Entitlement, error) {
	entitlements := make([]wallet.Entitlement, 0, len(rows))
	for _, row := range rows {
		entitlement, err := mapEntitlement(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntitlement, errorCodeInvalid, err)
		}
		entitlements = append(entitlements, entitlement)
	}
	return entitlements, nil
}

func mapEntitlement(row PerkEntitlement) (wallet.Entitlement, error) {
	entitlementID, err := wallet.NewEntitlementID(row.EntitlementID)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	storeID, err := wallet.NewStoreID(row.StoreID)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	perkType, err := wallet.NewPerkType(row.PerkType)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	pricePaid, err := wallet.NewPositiveAmountCents(row.PricePaidCents)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	metadata, err := wallet.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return wallet.Entitlement{}, err
	}
	return wallet.NewEntitlement(
		entitlementID,
		storeID,
		perkType,
		pricePaid,
		row.GrantedDays,
		row.ExpiresAt.Unix(),
		row.IsActive,
		row.PurchasedAt.Unix(),
		metadata,
	)
}

func mapWalletRequest(row WalletRequest) (wallet.WalletRequest, error) {
	requestID, err := wallet.NewRequestID(row.RequestID)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	userID, err := wallet.NewUserID(row.UserID)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	requestType, err := wallet.ParseRequestType(row.Type)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	amountCents, err := wallet.NewPositiveAmountCents(row.AmountCents)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	status, err := wallet.ParseRequestStatus(row.Status)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	return wallet.NewWalletRequest(
		requestID,
		userID,
		requestType,
		amountCents,
		row.EvidenceRef,
		status,
		row.AdminNotes,
		row.CreatedAt.Unix(),
		timeOrZero(row.ReviewedAt),
	)
}

func optionalTime(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAccountReference
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		// SQLite names the columns of the violated index, not the index itself.
		message := sqliteErr.Error()
		return sqliteErr.Code()&0xFF == sqliteConstraintCode &&
			strings.Contains(message, sqliteUniqueFailure) &&
			strings.Contains(message, sqliteReferenceColumn)
	}
	return false
}
