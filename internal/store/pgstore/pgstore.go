package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintAccountReference = "idx_ledger_entries_account_reference"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectEntry          = "entry"
	errorSubjectEntitlement    = "entitlement"
	errorSubjectRequest        = "wallet_request"
	errorSubjectStoreLink      = "store_link"
	errorSubjectTransaction    = "transaction"
	errorCodeAdvanceVersion    = "advance_version"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
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

	sqlInsertAccount = `
		insert into accounts(account_id, user_id, version, created_at)
		values(gen_random_uuid()::text, $1, 0, now())
		on conflict (user_id) do nothing
	`

	sqlSelectAccountByUser = `
		select account_id, user_id, version from accounts where user_id = $1
	`

	sqlAdvanceAccountVersion = `
		update accounts set version = version + 1
		where account_id = $1 and version = $2
	`

	sqlUpsertStoreLink = `
		insert into store_links(store_id, account_id, created_at) values($1, $2, now())
		on conflict (store_id) do update set account_id = excluded.account_id
	`

	sqlSelectStoreAccount = `
		select accounts.account_id, accounts.user_id, accounts.version
		from accounts
		join store_links on store_links.account_id = accounts.account_id
		where store_links.store_id = $1
	`

	sqlInsertEntry = `
		insert into ledger_entries(entry_id, account_id, kind, amount_cents, status, reference, metadata, created_at)
		values($1, $2, $3, $4, $5, $6, coalesce(nullif($7,''),'{}')::jsonb, to_timestamp($8))
	`

	sqlEntryColumns = `
		select entry_id, account_id, kind, amount_cents, status, reference,
			coalesce(metadata::text,'{}'), extract(epoch from created_at)::bigint
		from ledger_entries
	`

	sqlSelectEntry = sqlEntryColumns + ` where account_id = $1 and entry_id = $2`

	sqlUpdateEntryStatus = `
		update ledger_entries set status = $4
		where account_id = $1 and entry_id = $2 and status = $3
	`

	sqlSumSettled = `
		select coalesce(sum(case when kind in ('deposit','earning','refund') then amount_cents else -amount_cents end),0)
		from ledger_entries
		where account_id = $1 and status = 'success'
	`

	sqlListEntriesBefore = sqlEntryColumns + `
		where account_id = $1 and ($2::bigint = 0 or created_at < to_timestamp($2::bigint))
		order by created_at desc
		limit nullif($3::bigint, 0)
	`

	sqlListAllEntries = sqlEntryColumns + ` where account_id = $1 order by created_at asc`

	sqlInsertEntitlement = `
		insert into perk_entitlements(
			entitlement_id, store_id, perk_type, price_paid_cents, granted_days,
			expires_at, is_active, purchased_at, metadata
		)
		values($1, $2, $3, $4, $5, to_timestamp($6), $7, to_timestamp($8), coalesce(nullif($9,''),'{}')::jsonb)
	`

	sqlEntitlementColumns = `
		select entitlement_id, store_id, perk_type, price_paid_cents, granted_days,
			extract(epoch from expires_at)::bigint, is_active,
			extract(epoch from purchased_at)::bigint, coalesce(metadata::text,'{}')
		from perk_entitlements
	`

	sqlListActiveEntitlements = sqlEntitlementColumns + `
		where store_id = $1 and is_active and expires_at >= to_timestamp($2)
		order by expires_at asc
	`

	sqlListEntitlements = sqlEntitlementColumns + `
		where store_id = $1
		order by purchased_at desc
		limit nullif($2::bigint, 0)
	`

	sqlInsertWalletRequest = `
		insert into wallet_requests(request_id, user_id, type, amount_cents, evidence_ref, status, admin_notes, created_at, reviewed_at)
		values($1, $2, $3, $4, $5, $6, $7, to_timestamp($8), case when $9::bigint = 0 then null else to_timestamp($9::bigint) end)
	`

	sqlWalletRequestColumns = `
		select request_id, user_id, type, amount_cents, evidence_ref, status, admin_notes,
			extract(epoch from created_at)::bigint, coalesce(extract(epoch from reviewed_at)::bigint, 0)
		from wallet_requests
	`

	sqlSelectWalletRequest = sqlWalletRequestColumns + ` where request_id = $1`

	sqlTransitionWalletRequest = `
		update wallet_requests
		set status = $2, admin_notes = $3, reviewed_at = to_timestamp($4)
		where request_id = $1 and status = 'pending'
	`

	sqlListWalletRequests = sqlWalletRequestColumns + `
		where ($1::text = '' or status = $1::text)
		order by created_at desc
		limit nullif($2::bigint, 0)
	`
)

// querier is the part of pgx shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// Store implements wallet.Store using a pgx connection pool (autocommit).
// The schema is the one created by gormstore.Migrate.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// TxStore implements wallet.Store for an active transaction.
type TxStore struct {
	db querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn inside a read-committed transaction. Lost updates are
// prevented by the account version compare-and-swap, not by isolation.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx joins the current transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return fn(ctx, store)
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	return getOrCreateAccount(ctx, store.db, userID)
}

func (store *TxStore) GetOrCreateAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	return getOrCreateAccount(ctx, store.db, userID)
}

func (store *Store) AdvanceAccountVersion(ctx context.Context, accountID wallet.AccountID, expectedVersion int64) error {
	return advanceAccountVersion(ctx, store.db, accountID, expectedVersion)
}

func (store *TxStore) AdvanceAccountVersion(ctx context.Context, accountID wallet.AccountID, expectedVersion int64) error {
	return advanceAccountVersion(ctx, store.db, accountID, expectedVersion)
}

func (store *Store) LinkStore(ctx context.Context, storeID wallet.StoreID, accountID wallet.AccountID) error {
	return linkStore(ctx, store.db, storeID, accountID)
}

func (store *TxStore) LinkStore(ctx context.Context, storeID wallet.StoreID, accountID wallet.AccountID) error {
	return linkStore(ctx, store.db, storeID, accountID)
}

func (store *Store) GetStoreAccount(ctx context.Context, storeID wallet.StoreID) (wallet.Account, error) {
	return getStoreAccount(ctx, store.db, storeID)
}

func (store *TxStore) GetStoreAccount(ctx context.Context, storeID wallet.StoreID) (wallet.Account, error) {
	return getStoreAccount(ctx, store.db, storeID)
}

func (store *Store) InsertEntry(ctx context.Context, entryInput wallet.EntryInput) error {
	return insertEntry(ctx, store.db, entryInput)
}

func (store *TxStore) InsertEntry(ctx context.Context, entryInput wallet.EntryInput) error {
	return insertEntry(ctx, store.db, entryInput)
}

func (store *Store) GetEntry(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	return getEntry(ctx, store.db, accountID, entryID)
}

func (store *TxStore) GetEntry(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	return getEntry(ctx, store.db, accountID, entryID)
}

func (store *Store) UpdateEntryStatus(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID, from, to wallet.EntryStatus) error {
	return updateEntryStatus(ctx, store.db, accountID, entryID, from, to)
}

func (store *TxStore) UpdateEntryStatus(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID, from, to wallet.EntryStatus) error {
	return updateEntryStatus(ctx, store.db, accountID, entryID, from, to)
}

func (store *Store) SumSettled(ctx context.Context, accountID wallet.AccountID) (wallet.SignedAmountCents, error) {
	return sumSettled(ctx, store.db, accountID)
}

func (store *TxStore) SumSettled(ctx context.Context, accountID wallet.AccountID) (wallet.SignedAmountCents, error) {
	return sumSettled(ctx, store.db, accountID)
}

func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	return queryEntries(ctx, store.db, sqlListEntriesBefore, accountID.String(), beforeUnixUTC, limit)
}

func (store *TxStore) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	return queryEntries(ctx, store.db, sqlListEntriesBefore, accountID.String(), beforeUnixUTC, limit)
}

func (store *Store) ListAllEntries(ctx context.Context, accountID wallet.AccountID) ([]wallet.Entry, error) {
	return queryEntries(ctx, store.db, sqlListAllEntries, accountID.String())
}

func (store *TxStore) ListAllEntries(ctx context.Context, accountID wallet.AccountID) ([]wallet.Entry, error) {
	return queryEntries(ctx, store.db, sqlListAllEntries, accountID.String())
}

func (store *Store) InsertEntitlement(ctx context.Context, entitlement wallet.Entitlement) error {
	return insertEntitlement(ctx, store.db, entitlement)
}

func (store *TxStore) InsertEntitlement(ctx context.Context, entitlement wallet.Entitlement) error {
	return insertEntitlement(ctx, store.db, entitlement)
}

func (store *Store) ListActiveEntitlements(ctx context.Context, storeID wallet.StoreID, atUnixUTC int64) ([]wallet.Entitlement, error) {
	return queryEntitlements(ctx, store.db, sqlListActiveEntitlements, storeID.String(), atUnixUTC)
}

func (store *TxStore) ListActiveEntitlements(ctx context.Context, storeID wallet.StoreID, atUnixUTC int64) ([]wallet.Entitlement, error) {
	return queryEntitlements(ctx, store.db, sqlListActiveEntitlements, storeID.String(), atUnixUTC)
}

func (store *Store) ListEntitlements(ctx context.Context, storeID wallet.StoreID, limit int) ([]wallet.Entitlement, error) {
	return queryEntitlements(ctx, store.db, sqlListEntitlements, storeID.String(), limit)
}

func (store *TxStore) ListEntitlements(ctx context.Context, storeID wallet.StoreID, limit int) ([]wallet.Entitlement, error) {
	return queryEntitlements(ctx, store.db, sqlListEntitlements, storeID.String(), limit)
}

func (store *Store) CreateWalletRequest(ctx context.Context, request wallet.WalletRequest) error {
	return createWalletRequest(ctx, store.db, request)
}

func (store *TxStore) CreateWalletRequest(ctx context.Context, request wallet.WalletRequest) error {
	return createWalletRequest(ctx, store.db, request)
}

func (store *Store) GetWalletRequest(ctx context.Context, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	return getWalletRequest(ctx, store.db, requestID)
}

func (store *TxStore) GetWalletRequest(ctx context.Context, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	return getWalletRequest(ctx, store.db, requestID)
}

func (store *Store) TransitionWalletRequest(ctx context.Context, requestID wallet.RequestID, to wallet.RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	return transitionWalletRequest(ctx, store.db, requestID, to, adminNotes, reviewedUnixUTC)
}

func (store *TxStore) TransitionWalletRequest(ctx context.Context, requestID wallet.RequestID, to wallet.RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	return transitionWalletRequest(ctx, store.db, requestID, to, adminNotes, reviewedUnixUTC)
}

func (store *Store) ListWalletRequests(ctx context.Context, status wallet.RequestStatus, limit int) ([]wallet.WalletRequest, error) {
	return listWalletRequests(ctx, store.db, status, limit)
}

func (store *TxStore) ListWalletRequests(ctx context.Context, status wallet.RequestStatus, limit int) ([]wallet.WalletRequest, error) {
	return listWalletRequests(ctx, store.db, status, limit)
}

func getOrCreateAccount(ctx context.Context, db querier, userID wallet.UserID) (wallet.Account, error) {
	if _, err := db.Exec(ctx, sqlInsertAccount, userID.String()); err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	account, err := scanAccount(db.QueryRow(ctx, sqlSelectAccountByUser, userID.String()))
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account, nil
}

func advanceAccountVersion(ctx context.Context, db querier, accountID wallet.AccountID, expectedVersion int64) error {
	tag, err := db.Exec(ctx, sqlAdvanceAccountVersion, accountID.String(), expectedVersion)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeAdvanceVersion, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeAdvanceVersion, wallet.ErrConcurrentModification)
	}
	return nil
}

func linkStore(ctx context.Context, db querier, storeID wallet.StoreID, accountID wallet.AccountID) error {
	if _, err := db.Exec(ctx, sqlUpsertStoreLink, storeID.String(), accountID.String()); err != nil {
		return wrapStoreError(errorSubjectStoreLink, errorCodeCreate, err)
	}
	return nil
}

func getStoreAccount(ctx context.Context, db querier, storeID wallet.StoreID) (wallet.Account, error) {
	account, err := scanAccount(db.QueryRow(ctx, sqlSelectStoreAccount, storeID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Account{}, wrapStoreError(errorSubjectStoreLink, errorCodeGet, wallet.ErrUnknownStore)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectStoreLink, errorCodeGet, err)
	}
	return account, nil
}

func insertEntry(ctx context.Context, db querier, entryInput wallet.EntryInput) error {
	_, err := db.Exec(ctx, sqlInsertEntry,
		entryInput.EntryID().String(),
		entryInput.AccountID().String(),
		entryInput.Kind().String(),
		entryInput.AmountCents().Int64(),
		entryInput.Status().String(),
		entryInput.Reference().String(),
		entryInput.MetadataJSON().String(),
		entryInput.CreatedUnixUTC(),
	)
	if isUniqueViolation(err, constraintAccountReference) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func getEntry(ctx context.Context, db querier, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	entry, err := scanEntry(db.QueryRow(ctx, sqlSelectEntry, accountID.String(), entryID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrUnknownEntry)
		}
		return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func updateEntryStatus(ctx context.Context, db querier, accountID wallet.AccountID, entryID wallet.EntryID, from, to wallet.EntryStatus) error {
	tag, err := db.Exec(ctx, sqlUpdateEntryStatus, accountID.String(), entryID.String(), from.String(), to.String())
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getEntry(ctx, db, accountID, entryID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, wallet.ErrEntryNotPending)
	}
	return nil
}

func sumSettled(ctx context.Context, db querier, accountID wallet.AccountID) (wallet.SignedAmountCents, error) {
	var total int64
	if err := db.QueryRow(ctx, sqlSumSettled, accountID.String()).Scan(&total); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumSettled, err)
	}
	return wallet.SignedAmountCents(total), nil
}

func queryEntries(ctx context.Context, db querier, sql string, arguments ...any) ([]wallet.Entry, error) {
	rows, err := db.Query(ctx, sql, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.Entry, error) {
		return scanEntry(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func insertEntitlement(ctx context.Context, db querier, entitlement wallet.Entitlement) error {
	_, err := db.Exec(ctx, sqlInsertEntitlement,
		entitlement.EntitlementID().String(),
		entitlement.StoreID().String(),
		entitlement.PerkType().String(),
		entitlement.PricePaid().Int64(),
		entitlement.GrantedDays(),
		entitlement.ExpiresAtUnixUTC(),
		entitlement.IsActiveFlag(),
		entitlement.PurchasedUnixUTC(),
		entitlement.MetadataJSON().String(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectEntitlement, errorCodeInsert, err)
	}
	return nil
}

func queryEntitlements(ctx context.Context, db querier, sql string, arguments ...any) ([]wallet.Entitlement, error) {
	rows, err := db.Query(ctx, sql, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntitlement, errorCodeList, err)
	}
	entitlements, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.Entitlement, error) {
		return scanEntitlement(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntitlement, errorCodeInvalid, err)
	}
	return entitlements, nil
}

func createWalletRequest(ctx context.Context, db querier, request wallet.WalletRequest) error {
	_, err := db.Exec(ctx, sqlInsertWalletRequest,
		request.RequestID().String(),
		request.UserID().String(),
		request.Type().String(),
		request.AmountCents().Int64(),
		request.EvidenceRef(),
		request.Status().String(),
		request.AdminNotes(),
		request.CreatedUnixUTC(),
		request.ReviewedUnixUTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeCreate, err)
	}
	return nil
}

func getWalletRequest(ctx context.Context, db querier, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	request, err := scanWalletRequest(db.QueryRow(ctx, sqlSelectWalletRequest, requestID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.WalletRequest{}, wrapStoreError(errorSubjectRequest, errorCodeGet, wallet.ErrUnknownWalletRequest)
		}
		return wallet.WalletRequest{}, wrapStoreError(errorSubjectRequest, errorCodeGet, err)
	}
	return request, nil
}

func transitionWalletRequest(ctx context.Context, db querier, requestID wallet.RequestID, to wallet.RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	tag, err := db.Exec(ctx, sqlTransitionWalletRequest, requestID.String(), to.String(), adminNotes, reviewedUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeTransition, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := getWalletRequest(ctx, db, requestID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectRequest, errorCodeTransition, wallet.ErrAlreadyProcessed)
	}
	return nil
}

func listWalletRequests(ctx context.Context, db querier, status wallet.RequestStatus, limit int) ([]wallet.WalletRequest, error) {
	rows, err := db.Query(ctx, sqlListWalletRequests, status.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeList, err)
	}
	requests, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.WalletRequest, error) {
		return scanWalletRequest(row)
	})
	if err != nil {
		return nil, wrapStoreError(errorSubjectRequest, errorCodeInvalid, err)
	}
	return requests, nil
}

func scanAccount(row pgx.Row) (wallet.Account, error) {
	var (
		accountIDValue string
		userIDValue    string
		version        int64
	)
	if err := row.Scan(&accountIDValue, &userIDValue, &version); err != nil {
		return wallet.Account{}, err
	}
	accountID, err := wallet.NewAccountID(accountIDValue)
	if err != nil {
		return wallet.Account{}, err
	}
	userID, err := wallet.NewUserID(userIDValue)
	if err != nil {
		return wallet.Account{}, err
	}
	return wallet.NewAccount(accountID, userID, version)
}

func scanEntry(row pgx.Row) (wallet.Entry, error) {
	var (
		entryIDValue   string
		accountIDValue string
		kindValue      string
		amountValue    int64
		statusValue    string
		referenceValue string
		metadataValue  string
		createdUnixUTC int64
	)
	if err := row.Scan(&entryIDValue, &accountIDValue, &kindValue, &amountValue, &statusValue, &referenceValue, &metadataValue, &createdUnixUTC); err != nil {
		return wallet.Entry{}, err
	}
	entryID, err := wallet.NewEntryID(entryIDValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	accountID, err := wallet.NewAccountID(accountIDValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	kind, err := wallet.ParseEntryKind(kindValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	amount, err := wallet.NewPositiveAmountCents(amountValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	status, err := wallet.ParseEntryStatus(statusValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	reference, err := wallet.NewReference(referenceValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	metadata, err := wallet.NewMetadataJSON(metadataValue)
	if err != nil {
		return wallet.Entry{}, err
	}
	return wallet.NewEntry(entryID, accountID, kind, amount, status, reference, metadata, createdUnixUTC)
}

func scanEntitlement(row pgx.Row) (wallet.Entitlement, error) {
	var (
		entitlementIDValue string
		storeIDValue       string
		perkTypeValue      string
		priceValue         int64
		grantedDays        int
		expiresUnixUTC     int64
		active             bool
		purchasedUnixUTC   int64
		metadataValue      string
	)
	if err := row.Scan(&entitlementIDValue, &storeIDValue, &perkTypeValue, &priceValue, &grantedDays, &expiresUnixUTC, &active, &purchasedUnixUTC, &metadataValue); err != nil {
		return wallet.Entitlement{}, err
	}
	entitlementID, err := wallet.NewEntitlementID(entitlementIDValue)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	storeID, err := wallet.NewStoreID(storeIDValue)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	perkType, err := wallet.NewPerkType(perkTypeValue)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	price, err := wallet.NewPositiveAmountCents(priceValue)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	metadata, err := wallet.NewMetadataJSON(metadataValue)
	if err != nil {
		return wallet.Entitlement{}, err
	}
	return wallet.NewEntitlement(entitlementID, storeID, perkType, price, grantedDays, expiresUnixUTC, active, purchasedUnixUTC, metadata)
}

func scanWalletRequest(row pgx.Row) (wallet.WalletRequest, error) {
	var (
		requestIDValue  string
		userIDValue     string
		typeValue       string
		amountValue     int64
		evidenceRef     string
		statusValue     string
		adminNotes      string
		createdUnixUTC  int64
		reviewedUnixUTC int64
	)
	if err := row.Scan(&requestIDValue, &userIDValue, &typeValue, &amountValue, &evidenceRef, &statusValue, &adminNotes, &createdUnixUTC, &reviewedUnixUTC); err != nil {
		return wallet.WalletRequest{}, err
	}
	requestID, err := wallet.NewRequestID(requestIDValue)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	userID, err := wallet.NewUserID(userIDValue)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	requestType, err := wallet.ParseRequestType(typeValue)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	amount, err := wallet.NewPositiveAmountCents(amountValue)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	status, err := wallet.ParseRequestStatus(statusValue)
	if err != nil {
		return wallet.WalletRequest{}, err
	}
	return wallet.NewWalletRequest(requestID, userID, requestType, amount, evidenceRef, status, adminNotes, createdUnixUTC, reviewedUnixUTC)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}
