// Package memstore keeps the wallet tables in process memory.
//
// Transactions work on a private copy of the committed state and record every
// write as a replayable mutation. On commit the mutations are replayed against
// the latest committed state; a replay that finds an account version or a
// wallet request status that moved underneath it aborts the whole commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
)

const (
	errorOperationStore     = "memstore"
	errorSubjectAccount     = "account"
	errorSubjectStoreLink   = "store_link"
	errorSubjectEntry       = "entry"
	errorSubjectEntitlement = "entitlement"
	errorSubjectRequest     = "wallet_request"
	errorCodeCommit         = "commit"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeUpdateStatus   = "update_status"
	errorCodeAdvance        = "advance_version"
	errorCodeTransition     = "transition"
	accountIDPrefix         = "acct-"
)

type accountRow struct {
	accountID wallet.AccountID
	userID    wallet.UserID
	version   int64
}

type tables struct {
	accounts     map[wallet.UserID]accountRow
	accountUsers map[wallet.AccountID]wallet.UserID
	storeLinks   map[wallet.StoreID]wallet.AccountID
	entries      []wallet.Entry
	entitlements []wallet.Entitlement
	requests     map[wallet.RequestID]wallet.WalletRequest
	requestOrder []wallet.RequestID
	accountSeq   int
}

func newTables() *tables {
	return &tables{
		accounts:     make(map[wallet.UserID]accountRow),
		accountUsers: make(map[wallet.AccountID]wallet.UserID),
		storeLinks:   make(map[wallet.StoreID]wallet.AccountID),
		requests:     make(map[wallet.RequestID]wallet.WalletRequest),
	}
}

func (state *tables) clone() *tables {
	copied := &tables{
		accounts:     make(map[wallet.UserID]accountRow, len(state.accounts)),
		accountUsers: make(map[wallet.AccountID]wallet.UserID, len(state.accountUsers)),
		storeLinks:   make(map[wallet.StoreID]wallet.AccountID, len(state.storeLinks)),
		entries:      append([]wallet.Entry(nil), state.entries...),
		entitlements: append([]wallet.Entitlement(nil), state.entitlements...),
		requests:     make(map[wallet.RequestID]wallet.WalletRequest, len(state.requests)),
		requestOrder: append([]wallet.RequestID(nil), state.requestOrder...),
		accountSeq:   state.accountSeq,
	}
	for key, value := range state.accounts {
		copied.accounts[key] = value
	}
	for key, value := range state.accountUsers {
		copied.accountUsers[key] = value
	}
	for key, value := range state.storeLinks {
		copied.storeLinks[key] = value
	}
	for key, value := range state.requests {
		copied.requests[key] = value
	}
	return copied
}

type mutation func(state *tables) error

// Store implements wallet.Store in memory. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	committed *tables
}

// New returns an empty Store.
func New() *Store {
	return &Store{committed: newTables()}
}

// WithTx runs fn against a transaction-private view and commits its writes atomically.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.RLock()
	view := store.committed.clone()
	store.mu.RUnlock()

	transaction := &txStore{view: view}
	if err := fn(ctx, transaction); err != nil {
		return err
	}
	if len(transaction.mutations) == 0 {
		return nil
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	next := store.committed.clone()
	for _, apply := range transaction.mutations {
		if err := apply(next); err != nil {
			// the view was valid when staged, so the committed state moved
			return wallet.WrapError(errorOperationStore, errorSubjectAccount, errorCodeCommit, fmt.Errorf("%w: %v", wallet.ErrConcurrentModification, err))
		}
	}
	store.committed = next
	return nil
}

// autocommit runs a single-call operation as its own transaction.
func (store *Store) autocommit(ctx context.Context, fn func(transaction *txStore) error) error {
	return store.WithTx(ctx, func(ctx context.Context, joined wallet.Store) error {
		return fn(joined.(*txStore))
	})
}

func (store *Store) read() *tables {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.committed.clone()
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	var account wallet.Account
	create := func(transaction *txStore) error {
		created, err := transaction.GetOrCreateAccount(ctx, userID)
		account = created
		return err
	}
	err := store.autocommit(ctx, create)
	if errors.Is(err, wallet.ErrConcurrentModification) {
		// lost a creation race; the second pass finds the winner's row
		err = store.autocommit(ctx, create)
	}
	return account, err
}

func (store *Store) AdvanceAccountVersion(ctx context.Context, accountID wallet.AccountID, expectedVersion int64) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.AdvanceAccountVersion(ctx, accountID, expectedVersion)
	})
}

func (store *Store) LinkStore(ctx context.Context, storeID wallet.StoreID, accountID wallet.AccountID) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.LinkStore(ctx, storeID, accountID)
	})
}

func (store *Store) GetStoreAccount(ctx context.Context, storeID wallet.StoreID) (wallet.Account, error) {
	return getStoreAccount(store.read(), storeID)
}

func (store *Store) InsertEntry(ctx context.Context, entry wallet.EntryInput) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.InsertEntry(ctx, entry)
	})
}

func (store *Store) GetEntry(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	return getEntry(store.read(), accountID, entryID)
}

func (store *Store) UpdateEntryStatus(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID, from, to wallet.EntryStatus) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.UpdateEntryStatus(ctx, accountID, entryID, from, to)
	})
}

func (store *Store) SumSettled(ctx context.Context, accountID wallet.AccountID) (wallet.SignedAmountCents, error) {
	return wallet.FoldBalance(accountEntries(store.read(), accountID)), nil
}

func (store *Store) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	return listEntries(store.read(), accountID, beforeUnixUTC, limit), nil
}

func (store *Store) ListAllEntries(ctx context.Context, accountID wallet.AccountID) ([]wallet.Entry, error) {
	return accountEntries(store.read(), accountID), nil
}

func (store *Store) InsertEntitlement(ctx context.Context, entitlement wallet.Entitlement) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.InsertEntitlement(ctx, entitlement)
	})
}

func (store *Store) ListActiveEntitlements(ctx context.Context, storeID wallet.StoreID, atUnixUTC int64) ([]wallet.Entitlement, error) {
	return listActiveEntitlements(store.read(), storeID, atUnixUTC), nil
}

func (store *Store) ListEntitlements(ctx context.Context, storeID wallet.StoreID, limit int) ([]wallet.Entitlement, error) {
	return listEntitlements(store.read(), storeID, limit), nil
}

func (store *Store) CreateWalletRequest(ctx context.Context, request wallet.WalletRequest) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.CreateWalletRequest(ctx, request)
	})
}

func (store *Store) GetWalletRequest(ctx context.Context, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	return getWalletRequest(store.read(), requestID)
}

func (store *Store) TransitionWalletRequest(ctx context.Context, requestID wallet.RequestID, to wallet.RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	return store.autocommit(ctx, func(transaction *txStore) error {
		return transaction.TransitionWalletRequest(ctx, requestID, to, adminNotes, reviewedUnixUTC)
	})
}

func (store *Store) ListWalletRequests(ctx context.Context, status wallet.RequestStatus, limit int) ([]wallet.WalletRequest, error) {
	return listWalletRequests(store.read(), status, limit), nil
}

// txStore reads from and writes to a private view; writes are also queued for replay.
type txStore struct {
	view      *tables
	mutations []mutation
}

// stage applies a mutation to the private view and queues it for commit.
func (transaction *txStore) stage(apply mutation) error {
	if err := apply(transaction.view); err != nil {
		return err
	}
	transaction.mutations = append(transaction.mutations, apply)
	return nil
}

// WithTx joins the enclosing transaction.
func (transaction *txStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *txStore) GetOrCreateAccount(ctx context.Context, userID wallet.UserID) (wallet.Account, error) {
	if row, ok := transaction.view.accounts[userID]; ok {
		return wallet.NewAccount(row.accountID, row.userID, row.version)
	}
	accountID, err := wallet.NewAccountID(accountIDPrefix + strconv.Itoa(transaction.view.accountSeq+1) + "-" + userID.String())
	if err != nil {
		return wallet.Account{}, err
	}
	err = transaction.stage(func(state *tables) error {
		if _, exists := state.accounts[userID]; exists {
			return wallet.ErrConcurrentModification
		}
		state.accountSeq++
		state.accounts[userID] = accountRow{accountID: accountID, userID: userID}
		state.accountUsers[accountID] = userID
		return nil
	})
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCommit, err)
	}
	return wallet.NewAccount(accountID, userID, 0)
}

func (transaction *txStore) AdvanceAccountVersion(ctx context.Context, accountID wallet.AccountID, expectedVersion int64) error {
	err := transaction.stage(func(state *tables) error {
		userID, ok := state.accountUsers[accountID]
		if !ok {
			return wallet.ErrUnknownAccount
		}
		row := state.accounts[userID]
		if row.version != expectedVersion {
			return wallet.ErrConcurrentModification
		}
		row.version++
		state.accounts[userID] = row
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeAdvance, err)
	}
	return nil
}

func (transaction *txStore) LinkStore(ctx context.Context, storeID wallet.StoreID, accountID wallet.AccountID) error {
	err := transaction.stage(func(state *tables) error {
		if _, ok := state.accountUsers[accountID]; !ok {
			return wallet.ErrUnknownAccount
		}
		state.storeLinks[storeID] = accountID
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectStoreLink, errorCodeCommit, err)
	}
	return nil
}

func (transaction *txStore) GetStoreAccount(ctx context.Context, storeID wallet.StoreID) (wallet.Account, error) {
	return getStoreAccount(transaction.view, storeID)
}

func (transaction *txStore) InsertEntry(ctx context.Context, entry wallet.EntryInput) error {
	err := transaction.stage(func(state *tables) error {
		for _, existing := range state.entries {
			if existing.AccountID() == entry.AccountID() && existing.Reference() == entry.Reference() {
				return wallet.ErrDuplicateReference
			}
		}
		state.entries = append(state.entries, entry.ToEntry())
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, err)
	}
	return nil
}

func (transaction *txStore) GetEntry(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	return getEntry(transaction.view, accountID, entryID)
}

func (transaction *txStore) UpdateEntryStatus(ctx context.Context, accountID wallet.AccountID, entryID wallet.EntryID, from, to wallet.EntryStatus) error {
	err := transaction.stage(func(state *tables) error {
		for index, entry := range state.entries {
			if entry.AccountID() != accountID || entry.EntryID() != entryID {
				continue
			}
			if entry.Status() != from {
				return wallet.ErrEntryNotPending
			}
			state.entries[index] = entry.WithStatus(to)
			return nil
		}
		return wallet.ErrUnknownEntry
	})
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeUpdateStatus, err)
	}
	return nil
}

func (transaction *txStore) SumSettled(ctx context.Context, accountID wallet.AccountID) (wallet.SignedAmountCents, error) {
	return wallet.FoldBalance(accountEntries(transaction.view, accountID)), nil
}

func (transaction *txStore) ListEntries(ctx context.Context, accountID wallet.AccountID, beforeUnixUTC int64, limit int) ([]wallet.Entry, error) {
	return listEntries(transaction.view, accountID, beforeUnixUTC, limit), nil
}

func (transaction *txStore) ListAllEntries(ctx context.Context, accountID wallet.AccountID) ([]wallet.Entry, error) {
	return accountEntries(transaction.view, accountID), nil
}

func (transaction *txStore) InsertEntitlement(ctx context.Context, entitlement wallet.Entitlement) error {
	err := transaction.stage(func(state *tables) error {
		for _, existing := range state.entitlements {
			if existing.EntitlementID() == entitlement.EntitlementID() {
				return wallet.ErrInvalidEntitlement
			}
		}
		state.entitlements = append(state.entitlements, entitlement)
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectEntitlement, errorCodeDuplicate, err)
	}
	return nil
}

func (transaction *txStore) ListActiveEntitlements(ctx context.Context, storeID wallet.StoreID, atUnixUTC int64) ([]wallet.Entitlement, error) {
	return listActiveEntitlements(transaction.view, storeID, atUnixUTC), nil
}

func (transaction *txStore) ListEntitlements(ctx context.Context, storeID wallet.StoreID, limit int) ([]wallet.Entitlement, error) {
	return listEntitlements(transaction.view, storeID, limit), nil
}

func (transaction *txStore) CreateWalletRequest(ctx context.Context, request wallet.WalletRequest) error {
	err := transaction.stage(func(state *tables) error {
		if _, exists := state.requests[request.RequestID()]; exists {
			return wallet.ErrInvalidRequestID
		}
		state.requests[request.RequestID()] = request
		state.requestOrder = append(state.requestOrder, request.RequestID())
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeDuplicate, err)
	}
	return nil
}

func (transaction *txStore) GetWalletRequest(ctx context.Context, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	return getWalletRequest(transaction.view, requestID)
}

func (transaction *txStore) TransitionWalletRequest(ctx context.Context, requestID wallet.RequestID, to wallet.RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	err := transaction.stage(func(state *tables) error {
		request, ok := state.requests[requestID]
		if !ok {
			return wallet.ErrUnknownWalletRequest
		}
		if request.Status() != wallet.RequestStatusPending {
			return wallet.ErrAlreadyProcessed
		}
		state.requests[requestID] = request.Reviewed(to, adminNotes, reviewedUnixUTC)
		return nil
	})
	if err != nil {
		return wrapStoreError(errorSubjectRequest, errorCodeTransition, err)
	}
	return nil
}

func (transaction *txStore) ListWalletRequests(ctx context.Context, status wallet.RequestStatus, limit int) ([]wallet.WalletRequest, error) {
	return listWalletRequests(transaction.view, status, limit), nil
}

func getStoreAccount(state *tables, storeID wallet.StoreID) (wallet.Account, error) {
	accountID, ok := state.storeLinks[storeID]
	if !ok {
		return wallet.Account{}, wrapStoreError(errorSubjectStoreLink, errorCodeGet, wallet.ErrUnknownStore)
	}
	row := state.accounts[state.accountUsers[accountID]]
	return wallet.NewAccount(row.accountID, row.userID, row.version)
}

func getEntry(state *tables, accountID wallet.AccountID, entryID wallet.EntryID) (wallet.Entry, error) {
	for _, entry := range state.entries {
		if entry.AccountID() == accountID && entry.EntryID() == entryID {
			return entry, nil
		}
	}
	return wallet.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, wallet.ErrUnknownEntry)
}

func getWalletRequest(state *tables, requestID wallet.RequestID) (wallet.WalletRequest, error) {
	request, ok := state.requests[requestID]
	if !ok {
		return wallet.WalletRequest{}, wrapStoreError(errorSubjectRequest, errorCodeGet, wallet.ErrUnknownWalletRequest)
	}
	return request, nil
}

func accountEntries(state *tables, accountID wallet.AccountID) []wallet.Entry {
	var entries []wallet.Entry
	for _, entry := range state.entries {
		if entry.AccountID() == accountID {
			entries = append(entries, entry)
		}
	}
	return entries
}

func listEntries(state *tables, accountID wallet.AccountID, beforeUnixUTC int64, limit int) []wallet.Entry {
	entries := accountEntries(state, accountID)
	filtered := make([]wallet.Entry, 0, len(entries))
	for _, entry := range entries {
		if beforeUnixUTC != 0 && entry.CreatedUnixUTC() >= beforeUnixUTC {
			continue
		}
		filtered = append(filtered, entry)
	}
	sort.SliceStable(filtered, func(left, right int) bool {
		return filtered[left].CreatedUnixUTC() > filtered[right].CreatedUnixUTC()
	})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

func listActiveEntitlements(state *tables, storeID wallet.StoreID, atUnixUTC int64) []wallet.Entitlement {
	var active []wallet.Entitlement
	for _, entitlement := range state.entitlements {
		if entitlement.StoreID() == storeID && entitlement.IsActiveAt(atUnixUTC) {
			active = append(active, entitlement)
		}
	}
	return active
}

func listEntitlements(state *tables, storeID wallet.StoreID, limit int) []wallet.Entitlement {
	var listed []wallet.Entitlement
	for _, entitlement := range state.entitlements {
		if entitlement.StoreID() == storeID {
			listed = append(listed, entitlement)
		}
	}
	sort.SliceStable(listed, func(left, right int) bool {
		return listed[left].PurchasedUnixUTC() > listed[right].PurchasedUnixUTC()
	})
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	return listed
}

func listWalletRequests(state *tables, status wallet.RequestStatus, limit int) []wallet.WalletRequest {
	listed := make([]wallet.WalletRequest, 0, len(state.requestOrder))
	for index := len(state.requestOrder) - 1; index >= 0; index-- {
		request := state.requests[state.requestOrder[index]]
		if status != "" && request.Status() != status {
			continue
		}
		listed = append(listed, request)
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed
}

func wrapStoreError(subject string, code string, err error) error {
	var operationError wallet.OperationError
	if errors.As(err, &operationError) {
		return err
	}
	return wallet.WrapError(errorOperationStore, subject, code, err)
}
