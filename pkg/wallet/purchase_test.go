package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func mustScenarioCatalog(test *testing.T) *Catalog {
	test.Helper()
	badgeDuration, err := NewFixedDuration(30)
	if err != nil {
		test.Fatalf("fixed duration: %v", err)
	}
	boostDuration, err := NewFixedDuration(7)
	if err != nil {
		test.Fatalf("fixed duration: %v", err)
	}
	spotlightDuration, err := NewSpinDuration(30, 100)
	if err != nil {
		test.Fatalf("spin duration: %v", err)
	}
	badge, err := NewPerkDefinition(mustPerkType(test, "badge"), "Badge", mustPositiveAmount(test, 75), badgeDuration, nil)
	if err != nil {
		test.Fatalf("badge definition: %v", err)
	}
	boost, err := NewPerkDefinition(mustPerkType(test, "boost"), "Boost", mustPositiveAmount(test, 60), boostDuration, nil)
	if err != nil {
		test.Fatalf("boost definition: %v", err)
	}
	spotlight, err := NewPerkDefinition(mustPerkType(test, "spotlight"), "Spotlight", mustPositiveAmount(test, 60), spotlightDuration, nil)
	if err != nil {
		test.Fatalf("spotlight definition: %v", err)
	}
	catalog, err := NewCatalog(badge, boost, spotlight)
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	return catalog
}

func mustScenarioService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	ids := &sequenceIDs{}
	allOptions := append([]ServiceOption{WithIDGenerator(ids.generate)}, options...)
	service, err := NewService(store, mustScenarioCatalog(test), func() int64 { return fixedNowUnixUTC }, allOptions...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func TestPurchasePerkDebitsBalanceAndGrantsEntitlement(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, account := store.seedStore(test, 100)
	service := mustScenarioService(test, store)

	entitlement, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "badge"))
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 25 {
		test.Fatalf("expected balance 25, got %d", balance)
	}
	if entitlement.ExpiresAtUnixUTC() != fixedNowUnixUTC+30*secondsPerDay {
		test.Fatalf("unexpected expiry %d", entitlement.ExpiresAtUnixUTC())
	}
	if entitlement.GrantedDays() != 30 || !entitlement.IsActiveFlag() {
		test.Fatalf("unexpected entitlement %+v", entitlement)
	}
	var payments []Entry
	for _, entry := range store.entries {
		if entry.Kind() == EntryPayment {
			payments = append(payments, entry)
		}
	}
	if len(payments) != 1 {
		test.Fatalf("expected one payment entry, got %d", len(payments))
	}
	payment := payments[0]
	if payment.AmountCents() != 75 || payment.Status() != EntryStatusSuccess {
		test.Fatalf("unexpected payment entry %+v", payment)
	}
	if payment.Reference().String() != "perk:"+entitlement.EntitlementID().String() {
		test.Fatalf("unexpected payment reference %q", payment.Reference().String())
	}
	if len(store.entitlements) != 1 {
		test.Fatalf("expected one entitlement, got %d", len(store.entitlements))
	}
	if store.accounts[account.UserID()].Version() != 1 {
		test.Fatalf("expected account version 1, got %d", store.accounts[account.UserID()].Version())
	}
}

func TestPurchasePerkInsufficientBalanceWritesNothing(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, account := store.seedStore(test, 50)
	service := mustScenarioService(test, store)

	_, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "badge"))
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 50 {
		test.Fatalf("expected balance 50, got %d", balance)
	}
	if len(store.entries) != 1 || len(store.entitlements) != 0 {
		test.Fatalf("expected no writes, got %d entries and %d entitlements", len(store.entries), len(store.entitlements))
	}
}

func TestPurchasePerkRejectsActiveDuplicate(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, account := store.seedStore(test, 500)
	store.entitlements = append(store.entitlements, mustEntitlement(test, "existing", storeID, "badge", fixedNowUnixUTC+secondsPerDay, true))
	service := mustScenarioService(test, store)

	_, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "badge"))
	if !errors.Is(err, ErrPerkAlreadyActive) {
		test.Fatalf("expected ErrPerkAlreadyActive, got %v", err)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 500 {
		test.Fatalf("expected balance 500, got %d", balance)
	}
	if len(store.entitlements) != 1 || len(store.entries) != 1 {
		test.Fatalf("expected no writes")
	}
}

func TestPurchasePerkAllowsRepurchaseAfterExpiry(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name        string
		entitlement func(test *testing.T, storeID StoreID) Entitlement
	}{
		{
			name: "expired",
			entitlement: func(test *testing.T, storeID StoreID) Entitlement {
				return mustEntitlement(test, "expired", storeID, "badge", fixedNowUnixUTC-1, true)
			},
		},
		{
			name: "deactivated",
			entitlement: func(test *testing.T, storeID StoreID) Entitlement {
				return mustEntitlement(test, "deactivated", storeID, "badge", fixedNowUnixUTC+secondsPerDay, false)
			},
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			storeID, _ := store.seedStore(test, 100)
			store.entitlements = append(store.entitlements, testCase.entitlement(test, storeID))
			service := mustScenarioService(test, store)

			if _, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "badge")); err != nil {
				test.Fatalf("purchase: %v", err)
			}
			if len(store.entitlements) != 2 {
				test.Fatalf("expected a second entitlement, got %d", len(store.entitlements))
			}
		})
	}
}

func TestPurchasePerkUnknownPerkAndStore(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, _ := store.seedStore(test, 100)
	logger := &recorderLogger{}
	service := mustScenarioService(test, store, WithOperationLogger(logger))

	_, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "missing"))
	if !errors.Is(err, ErrCatalogLookupFailed) {
		test.Fatalf("expected ErrCatalogLookupFailed, got %v", err)
	}
	if store.transactionsTried != 0 {
		test.Fatalf("expected no transaction for unknown perk")
	}
	_, err = service.PurchasePerk(context.Background(), mustStoreID(test, "no-such-store"), mustPerkType(test, "badge"))
	if !errors.Is(err, ErrUnknownStore) {
		test.Fatalf("expected ErrUnknownStore, got %v", err)
	}
	if len(logger.entries) != 2 || logger.entries[0].Status != OperationStatusError {
		test.Fatalf("expected two error log entries, got %+v", logger.entries)
	}
}

func TestPurchasePerkRollsBackOnMidTransactionFailure(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		method string
	}{
		{name: "entitlement insert", method: "InsertEntitlement"},
		{name: "version advance", method: "AdvanceAccountVersion"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			storeID, account := store.seedStore(test, 100)
			store.failures[testCase.method] = errors.New("boom")
			service := mustScenarioService(test, store)
			before := store.snapshot()

			if _, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "badge")); err == nil {
				test.Fatalf("expected purchase failure")
			}
			if len(store.entries) != len(before.entries) || len(store.entitlements) != 0 {
				test.Fatalf("expected state unchanged, got %d entries and %d entitlements", len(store.entries), len(store.entitlements))
			}
			if store.accounts[account.UserID()].Version() != account.Version() {
				test.Fatalf("expected version unchanged")
			}
		})
	}
}

func TestPurchasePerkRetriesOnceWithSameDraw(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, account := store.seedStore(test, 100)
	store.versionConflicts = 1
	source := &fixedRandomSource{offset: 5}
	service := mustScenarioService(test, store, WithRandomSource(source))

	entitlement, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "spotlight"))
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	if source.calls != 1 {
		test.Fatalf("expected one draw across retries, got %d", source.calls)
	}
	if entitlement.GrantedDays() != 35 {
		test.Fatalf("expected 35 days, got %d", entitlement.GrantedDays())
	}
	if store.transactionsTried != 2 {
		test.Fatalf("expected two attempts, got %d", store.transactionsTried)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 40 {
		test.Fatalf("expected balance 40, got %d", balance)
	}
}

func TestPurchasePerkGivesUpAfterSecondConflict(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, account := store.seedStore(test, 100)
	store.versionConflicts = 2
	service := mustScenarioService(test, store)

	_, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "boost"))
	if !errors.Is(err, ErrConcurrentModification) {
		test.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 100 {
		test.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestPurchasePerkRecordsSpinMetadata(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, _ := store.seedStore(test, 100)
	service := mustScenarioService(test, store, WithRandomSource(&fixedRandomSource{offset: 0}))

	entitlement, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "spotlight"))
	if err != nil {
		test.Fatalf("purchase: %v", err)
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(entitlement.MetadataJSON().String()), &metadata); err != nil {
		test.Fatalf("metadata: %v", err)
	}
	if metadata["duration_policy"] != "spin" || metadata["drawn_days"] != float64(30) || metadata["floor_days"] != float64(30) || metadata["max_days"] != float64(100) {
		test.Fatalf("unexpected metadata %v", metadata)
	}
}

func TestPurchasePerkNotifiesAndPublishesAfterCommit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, account := store.seedStore(test, 100)
	notifier := &recordingNotifier{err: errors.New("push down")}
	publisher := &recordingPublisher{}
	logger := &recorderLogger{}
	service := mustScenarioService(test, store, WithNotifier(notifier), WithEventPublisher(publisher), WithOperationLogger(logger))

	if _, err := service.PurchasePerk(context.Background(), storeID, mustPerkType(test, "badge")); err != nil {
		test.Fatalf("purchase must survive notification failure: %v", err)
	}
	if len(notifier.notifications) != 1 || notifier.notifications[0].UserID != account.UserID() {
		test.Fatalf("expected one owner notification, got %+v", notifier.notifications)
	}
	if len(publisher.events) != 1 || publisher.events[0].DeltaCents != -75 {
		test.Fatalf("expected one -75 balance event, got %+v", publisher.events)
	}
	var notifyLog *OperationLog
	for index := range logger.entries {
		if logger.entries[index].Operation == OperationNotify {
			notifyLog = &logger.entries[index]
		}
	}
	if notifyLog == nil || !errors.Is(notifyLog.Error, ErrNotificationDispatch) {
		test.Fatalf("expected notify failure log, got %+v", logger.entries)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 25 {
		test.Fatalf("expected balance 25, got %d", balance)
	}
}

func TestPurchasePerkHonorsCanceledContext(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	storeID, _ := store.seedStore(test, 100)
	service := mustScenarioService(test, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := service.PurchasePerk(ctx, storeID, mustPerkType(test, "badge")); !errors.Is(err, context.Canceled) {
		test.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(store.entitlements) != 0 {
		test.Fatalf("expected no entitlement")
	}
}
