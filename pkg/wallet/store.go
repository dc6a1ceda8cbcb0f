package wallet

import "context"

// Store is the persistence contract used by Service.
//
// Every method called on the txStore handed to WithTx's callback takes part in
// one transaction: either all of its writes become visible or none do.
// AdvanceAccountVersion is the optimistic-concurrency guard; it fails with
// ErrConcurrentModification when another transaction advanced the account
// since it was read.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error)
	AdvanceAccountVersion(ctx context.Context, accountID AccountID, expectedVersion int64) error
	LinkStore(ctx context.Context, storeID StoreID, accountID AccountID) error
	GetStoreAccount(ctx context.Context, storeID StoreID) (Account, error)

	InsertEntry(ctx context.Context, entry EntryInput) error
	GetEntry(ctx context.Context, accountID AccountID, entryID EntryID) (Entry, error)
	UpdateEntryStatus(ctx context.Context, accountID AccountID, entryID EntryID, from, to EntryStatus) error
	SumSettled(ctx context.Context, accountID AccountID) (SignedAmountCents, error)
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)
	ListAllEntries(ctx context.Context, accountID AccountID) ([]Entry, error)

	InsertEntitlement(ctx context.Context, entitlement Entitlement) error
	ListActiveEntitlements(ctx context.Context, storeID StoreID, atUnixUTC int64) ([]Entitlement, error)
	ListEntitlements(ctx context.Context, storeID StoreID, limit int) ([]Entitlement, error)

	CreateWalletRequest(ctx context.Context, request WalletRequest) error
	GetWalletRequest(ctx context.Context, requestID RequestID) (WalletRequest, error)
	// TransitionWalletRequest moves a pending request to a terminal status and
	// fails with ErrAlreadyProcessed when the request is no longer pending.
	TransitionWalletRequest(ctx context.Context, requestID RequestID, to RequestStatus, adminNotes string, reviewedUnixUTC int64) error
	// ListWalletRequests lists requests newest first; an empty status lists all.
	ListWalletRequests(ctx context.Context, status RequestStatus, limit int) ([]WalletRequest, error)
}
