package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
)

const (
	defaultAccountIDValue = "acct-1"
	defaultUserIDValue    = "owner-1"
	defaultStoreIDValue   = "store-1"
	fixedNowUnixUTC       = int64(1_700_000_000)
)

// stubStore keeps every table in memory. WithTx serializes callers and
// restores the pre-transaction snapshot when the callback fails.
type stubStore struct {
	mu           sync.Mutex
	accounts     map[UserID]Account
	storeLinks   map[StoreID]UserID
	entries      []Entry
	entitlements []Entitlement
	requests     map[RequestID]WalletRequest
	nextAccount  int

	failures          map[string]error
	versionConflicts  int
	advanceCallCount  int
	transactionsTried int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts:   make(map[UserID]Account),
		storeLinks: make(map[StoreID]UserID),
		requests:   make(map[RequestID]WalletRequest),
		failures:   make(map[string]error),
	}
}

type stubSnapshot struct {
	accounts     map[UserID]Account
	storeLinks   map[StoreID]UserID
	entries      []Entry
	entitlements []Entitlement
	requests     map[RequestID]WalletRequest
	nextAccount  int
}

func (store *stubStore) snapshot() stubSnapshot {
	accounts := make(map[UserID]Account, len(store.accounts))
	for key, value := range store.accounts {
		accounts[key] = value
	}
	links := make(map[StoreID]UserID, len(store.storeLinks))
	for key, value := range store.storeLinks {
		links[key] = value
	}
	requests := make(map[RequestID]WalletRequest, len(store.requests))
	for key, value := range store.requests {
		requests[key] = value
	}
	return stubSnapshot{
		accounts:     accounts,
		storeLinks:   links,
		entries:      append([]Entry(nil), store.entries...),
		entitlements: append([]Entitlement(nil), store.entitlements...),
		requests:     requests,
		nextAccount:  store.nextAccount,
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.accounts = snapshot.accounts
	store.storeLinks = snapshot.storeLinks
	store.entries = snapshot.entries
	store.entitlements = snapshot.entitlements
	store.requests = snapshot.requests
	store.nextAccount = snapshot.nextAccount
}

func (store *stubStore) failure(method string) error {
	return store.failures[method]
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.transactionsTried++
	if err := store.failure("WithTx"); err != nil {
		return err
	}
	before := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(before)
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error) {
	if err := store.failure("GetOrCreateAccount"); err != nil {
		return Account{}, err
	}
	if account, ok := store.accounts[userID]; ok {
		return account, nil
	}
	store.nextAccount++
	accountID, err := NewAccountID(fmt.Sprintf("acct-%d", store.nextAccount))
	if err != nil {
		return Account{}, err
	}
	account, err := NewAccount(accountID, userID, 0)
	if err != nil {
		return Account{}, err
	}
	store.accounts[userID] = account
	return account, nil
}

func (store *stubStore) AdvanceAccountVersion(ctx context.Context, accountID AccountID, expectedVersion int64) error {
	store.advanceCallCount++
	if err := store.failure("AdvanceAccountVersion"); err != nil {
		return err
	}
	if store.versionConflicts > 0 {
		store.versionConflicts--
		return ErrConcurrentModification
	}
	for userID, account := range store.accounts {
		if account.AccountID() != accountID {
			continue
		}
		if account.Version() != expectedVersion {
			return ErrConcurrentModification
		}
		account.version++
		store.accounts[userID] = account
		return nil
	}
	return ErrUnknownAccount
}

func (store *stubStore) LinkStore(ctx context.Context, storeID StoreID, accountID AccountID) error {
	if err := store.failure("LinkStore"); err != nil {
		return err
	}
	for userID, account := range store.accounts {
		if account.AccountID() == accountID {
			store.storeLinks[storeID] = userID
			return nil
		}
	}
	return ErrUnknownAccount
}

func (store *stubStore) GetStoreAccount(ctx context.Context, storeID StoreID) (Account, error) {
	if err := store.failure("GetStoreAccount"); err != nil {
		return Account{}, err
	}
	userID, ok := store.storeLinks[storeID]
	if !ok {
		return Account{}, ErrUnknownStore
	}
	return store.accounts[userID], nil
}

func (store *stubStore) InsertEntry(ctx context.Context, entry EntryInput) error {
	if err := store.failure("InsertEntry"); err != nil {
		return err
	}
	for _, existing := range store.entries {
		if existing.AccountID() == entry.AccountID() && existing.Reference() == entry.Reference() {
			return ErrDuplicateReference
		}
	}
	store.entries = append(store.entries, entry.ToEntry())
	return nil
}

func (store *stubStore) GetEntry(ctx context.Context, accountID AccountID, entryID EntryID) (Entry, error) {
	if err := store.failure("GetEntry"); err != nil {
		return Entry{}, err
	}
	for _, entry := range store.entries {
		if entry.AccountID() == accountID && entry.EntryID() == entryID {
			return entry, nil
		}
	}
	return Entry{}, ErrUnknownEntry
}

func (store *stubStore) UpdateEntryStatus(ctx context.Context, accountID AccountID, entryID EntryID, from, to EntryStatus) error {
	if err := store.failure("UpdateEntryStatus"); err != nil {
		return err
	}
	for index, entry := range store.entries {
		if entry.AccountID() != accountID || entry.EntryID() != entryID {
			continue
		}
		if entry.Status() != from {
			return ErrEntryNotPending
		}
		store.entries[index] = entry.WithStatus(to)
		return nil
	}
	return ErrUnknownEntry
}

func (store *stubStore) SumSettled(ctx context.Context, accountID AccountID) (SignedAmountCents, error) {
	if err := store.failure("SumSettled"); err != nil {
		return 0, err
	}
	var accountEntries []Entry
	for _, entry := range store.entries {
		if entry.AccountID() == accountID {
			accountEntries = append(accountEntries, entry)
		}
	}
	return FoldBalance(accountEntries), nil
}

func (store *stubStore) ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if err := store.failure("ListEntries"); err != nil {
		return nil, err
	}
	var listed []Entry
	for index := len(store.entries) - 1; index >= 0; index-- {
		entry := store.entries[index]
		if entry.AccountID() != accountID || entry.CreatedUnixUTC() >= beforeUnixUTC {
			continue
		}
		listed = append(listed, entry)
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed, nil
}

func (store *stubStore) ListAllEntries(ctx context.Context, accountID AccountID) ([]Entry, error) {
	if err := store.failure("ListAllEntries"); err != nil {
		return nil, err
	}
	var listed []Entry
	for _, entry := range store.entries {
		if entry.AccountID() == accountID {
			listed = append(listed, entry)
		}
	}
	return listed, nil
}

func (store *stubStore) InsertEntitlement(ctx context.Context, entitlement Entitlement) error {
	if err := store.failure("InsertEntitlement"); err != nil {
		return err
	}
	store.entitlements = append(store.entitlements, entitlement)
	return nil
}

func (store *stubStore) ListActiveEntitlements(ctx context.Context, storeID StoreID, atUnixUTC int64) ([]Entitlement, error) {
	if err := store.failure("ListActiveEntitlements"); err != nil {
		return nil, err
	}
	var active []Entitlement
	for _, entitlement := range store.entitlements {
		if entitlement.StoreID() == storeID && entitlement.IsActiveAt(atUnixUTC) {
			active = append(active, entitlement)
		}
	}
	return active, nil
}

func (store *stubStore) ListEntitlements(ctx context.Context, storeID StoreID, limit int) ([]Entitlement, error) {
	if err := store.failure("ListEntitlements"); err != nil {
		return nil, err
	}
	var listed []Entitlement
	for index := len(store.entitlements) - 1; index >= 0; index-- {
		if store.entitlements[index].StoreID() != storeID {
			continue
		}
		listed = append(listed, store.entitlements[index])
		if limit > 0 && len(listed) == limit {
			break
		}
	}
	return listed, nil
}

func (store *stubStore) CreateWalletRequest(ctx context.Context, request WalletRequest) error {
	if err := store.failure("CreateWalletRequest"); err != nil {
		return err
	}
	store.requests[request.RequestID()] = request
	return nil
}

func (store *stubStore) GetWalletRequest(ctx context.Context, requestID RequestID) (WalletRequest, error) {
	if err := store.failure("GetWalletRequest"); err != nil {
		return WalletRequest{}, err
	}
	request, ok := store.requests[requestID]
	if !ok {
		return WalletRequest{}, ErrUnknownWalletRequest
	}
	return request, nil
}

func (store *stubStore) TransitionWalletRequest(ctx context.Context, requestID RequestID, to RequestStatus, adminNotes string, reviewedUnixUTC int64) error {
	if err := store.failure("TransitionWalletRequest"); err != nil {
		return err
	}
	request, ok := store.requests[requestID]
	if !ok {
		return ErrUnknownWalletRequest
	}
	if request.Status() != RequestStatusPending {
		return ErrAlreadyProcessed
	}
	store.requests[requestID] = request.Reviewed(to, adminNotes, reviewedUnixUTC)
	return nil
}

func (store *stubStore) ListWalletRequests(ctx context.Context, status RequestStatus, limit int) ([]WalletRequest, error) {
	if err := store.failure("ListWalletRequests"); err != nil {
		return nil, err
	}
	var listed []WalletRequest
	for _, request := range store.requests {
		if status != "" && request.Status() != status {
			continue
		}
		listed = append(listed, request)
	}
	sort.Slice(listed, func(left, right int) bool {
		return listed[left].CreatedUnixUTC() > listed[right].CreatedUnixUTC()
	})
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

// seedStore links defaultStoreIDValue to defaultUserIDValue and credits the
// owner with balance cents through a successful deposit entry.
func (store *stubStore) seedStore(test *testing.T, balance int64) (StoreID, Account) {
	test.Helper()
	storeID := mustStoreID(test, defaultStoreIDValue)
	account, err := store.GetOrCreateAccount(context.Background(), mustUserID(test, defaultUserIDValue))
	if err != nil {
		test.Fatalf("seed account: %v", err)
	}
	store.storeLinks[storeID] = account.UserID()
	if balance > 0 {
		store.entries = append(store.entries, mustEntry(test, "seed-deposit", account.AccountID(), EntryDeposit, balance, EntryStatusSuccess, "seed"))
	}
	return storeID, account
}

func (store *stubStore) balanceOf(test *testing.T, accountID AccountID) SignedAmountCents {
	test.Helper()
	balance, err := store.SumSettled(context.Background(), accountID)
	if err != nil {
		test.Fatalf("sum settled: %v", err)
	}
	return balance
}

type sequenceIDs struct {
	next int
}

func (ids *sequenceIDs) generate() string {
	ids.next++
	return fmt.Sprintf("id-%d", ids.next)
}

type fixedRandomSource struct {
	offset int
	calls  int
}

func (source *fixedRandomSource) IntN(n int) int {
	source.calls++
	if source.offset >= n {
		return n - 1
	}
	return source.offset
}

type recordingNotifier struct {
	notifications []Notification
	err           error
}

func (notifier *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	notifier.notifications = append(notifier.notifications, notification)
	return notifier.err
}

type recordingPublisher struct {
	events []BalanceEvent
	err    error
}

func (publisher *recordingPublisher) PublishBalanceEvent(_ context.Context, event BalanceEvent) error {
	publisher.events = append(publisher.events, event)
	return publisher.err
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	ids := &sequenceIDs{}
	allOptions := append([]ServiceOption{WithIDGenerator(ids.generate)}, options...)
	service, err := NewService(store, DefaultCatalog(), func() int64 { return fixedNowUnixUTC }, allOptions...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustStoreID(test *testing.T, raw string) StoreID {
	test.Helper()
	storeID, err := NewStoreID(raw)
	if err != nil {
		test.Fatalf("store id: %v", err)
	}
	return storeID
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func mustPerkType(test *testing.T, raw string) PerkType {
	test.Helper()
	perkType, err := NewPerkType(raw)
	if err != nil {
		test.Fatalf("perk type: %v", err)
	}
	return perkType
}

func mustPositiveAmount(test *testing.T, raw int64) PositiveAmountCents {
	test.Helper()
	amount, err := NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("positive amount: %v", err)
	}
	return amount
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	reference, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return reference
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

func mustEntry(test *testing.T, entryIDValue string, accountID AccountID, kind EntryKind, amount int64, status EntryStatus, reference string) Entry {
	test.Helper()
	entryID, err := NewEntryID(entryIDValue)
	if err != nil {
		test.Fatalf("entry id: %v", err)
	}
	entry, err := NewEntry(entryID, accountID, kind, mustPositiveAmount(test, amount), status, mustReference(test, reference), mustMetadata(test, "{}"), fixedNowUnixUTC-1)
	if err != nil {
		test.Fatalf("entry: %v", err)
	}
	return entry
}

func mustEntitlement(test *testing.T, entitlementIDValue string, storeID StoreID, perkType string, expiresAtUnixUTC int64, active bool) Entitlement {
	test.Helper()
	entitlementID, err := NewEntitlementID(entitlementIDValue)
	if err != nil {
		test.Fatalf("entitlement id: %v", err)
	}
	purchasedUnixUTC := fixedNowUnixUTC - secondsPerDay
	if expiresAtUnixUTC < purchasedUnixUTC {
		purchasedUnixUTC = expiresAtUnixUTC
	}
	entitlement, err := NewEntitlement(entitlementID, storeID, mustPerkType(test, perkType), mustPositiveAmount(test, 100), 30, expiresAtUnixUTC, active, purchasedUnixUTC, mustMetadata(test, "{}"))
	if err != nil {
		test.Fatalf("entitlement: %v", err)
	}
	return entitlement
}
