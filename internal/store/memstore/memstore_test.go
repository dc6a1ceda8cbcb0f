package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
)

const testNowUnixUTC = int64(1_700_000_000)

func TestConcurrentPurchasesNeverOverdraw(test *testing.T) {
	test.Parallel()
	for attempt := 0; attempt < 25; attempt++ {
		store := New()
		service := mustService(test, store, mustTwoPerkCatalog(test))
		storeID := mustStoreID(test, "store-1")
		ownerID := mustUserID(test, "owner-1")
		if err := service.LinkStore(context.Background(), storeID, ownerID); err != nil {
			test.Fatalf("link: %v", err)
		}
		mustDeposit(test, service, ownerID, 80, "seed")

		perks := []wallet.PerkType{mustPerkType(test, "badge"), mustPerkType(test, "boost")}
		results := make([]error, len(perks))
		var waitGroup sync.WaitGroup
		start := make(chan struct{})
		for index, perk := range perks {
			waitGroup.Add(1)
			go func(index int, perk wallet.PerkType) {
				defer waitGroup.Done()
				<-start
				_, results[index] = service.PurchasePerk(context.Background(), storeID, perk)
			}(index, perk)
		}
		close(start)
		waitGroup.Wait()

		successes := 0
		for _, err := range results {
			switch {
			case err == nil:
				successes++
			case errors.Is(err, wallet.ErrInsufficientBalance), errors.Is(err, wallet.ErrConcurrentModification):
			default:
				test.Fatalf("unexpected purchase error: %v", err)
			}
		}
		if successes != 1 {
			test.Fatalf("expected exactly one purchase to succeed, got %d (%v)", successes, results)
		}
		balance, err := service.Balance(context.Background(), ownerID)
		if err != nil {
			test.Fatalf("balance: %v", err)
		}
		if balance.AvailableCents != 20 {
			test.Fatalf("expected final balance 20, got %d", balance.AvailableCents)
		}
		active, err := service.ActivePerks(context.Background(), storeID)
		if err != nil {
			test.Fatalf("active perks: %v", err)
		}
		if len(active) != 1 {
			test.Fatalf("expected one entitlement, got %d", len(active))
		}
	}
}

func TestConcurrentApprovalsCreditOnce(test *testing.T) {
	test.Parallel()
	store := New()
	service := mustService(test, store, wallet.DefaultCatalog())
	userID := mustUserID(test, "seller-1")
	request, err := service.SubmitWalletRequest(context.Background(), userID, wallet.RequestDeposit, mustAmount(test, 500), "receipt.png")
	if err != nil {
		test.Fatalf("submit: %v", err)
	}

	const approvers = 4
	results := make([]error, approvers)
	var waitGroup sync.WaitGroup
	for index := 0; index < approvers; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			_, results[index] = service.ApproveRequest(context.Background(), request.RequestID(), "ok")
		}(index)
	}
	waitGroup.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, wallet.ErrAlreadyProcessed) && !errors.Is(err, wallet.ErrConcurrentModification) {
			test.Fatalf("unexpected approval error: %v", err)
		}
	}
	if successes != 1 {
		test.Fatalf("expected one approval, got %d", successes)
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 500 {
		test.Fatalf("expected 500, got %d", balance.AvailableCents)
	}
}

func TestConcurrentRejectsReportAlreadyProcessed(test *testing.T) {
	test.Parallel()
	for attempt := 0; attempt < 25; attempt++ {
		store := New()
		service := mustService(test, store, wallet.DefaultCatalog())
		userID := mustUserID(test, "seller-1")
		request, err := service.SubmitWalletRequest(context.Background(), userID, wallet.RequestDeposit, mustAmount(test, 300), "receipt.png")
		if err != nil {
			test.Fatalf("submit: %v", err)
		}

		const reviewers = 4
		results := make([]error, reviewers)
		var waitGroup sync.WaitGroup
		start := make(chan struct{})
		for index := 0; index < reviewers; index++ {
			waitGroup.Add(1)
			go func(index int) {
				defer waitGroup.Done()
				<-start
				_, results[index] = service.RejectRequest(context.Background(), request.RequestID(), "duplicate")
			}(index)
		}
		close(start)
		waitGroup.Wait()

		successes := 0
		for _, err := range results {
			if err == nil {
				successes++
				continue
			}
			if !errors.Is(err, wallet.ErrAlreadyProcessed) {
				test.Fatalf("expected ErrAlreadyProcessed for a losing reject, got %v", err)
			}
		}
		if successes != 1 {
			test.Fatalf("expected one rejection, got %d (%v)", successes, results)
		}
		stored, err := store.GetWalletRequest(context.Background(), request.RequestID())
		if err != nil {
			test.Fatalf("get request: %v", err)
		}
		if stored.Status() != wallet.RequestStatusRejected {
			test.Fatalf("expected rejected status, got %s", stored.Status())
		}
	}
}

func TestWithTxDiscardsWritesOnError(test *testing.T) {
	test.Parallel()
	store := New()
	userID := mustUserID(test, "user-1")
	failure := errors.New("abort")

	err := store.WithTx(context.Background(), func(ctx context.Context, txStore wallet.Store) error {
		account, err := txStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		if err := txStore.InsertEntry(ctx, mustEntryInput(test, account.AccountID(), "entry-1", "ref-1", 100)); err != nil {
			return err
		}
		balance, err := txStore.SumSettled(ctx, account.AccountID())
		if err != nil {
			return err
		}
		if balance != 100 {
			test.Errorf("expected the transaction to read its own write, got %d", balance)
		}
		return failure
	})
	if !errors.Is(err, failure) {
		test.Fatalf("expected abort error, got %v", err)
	}
	account, err := store.GetOrCreateAccount(context.Background(), userID)
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	entries, err := store.ListAllEntries(context.Background(), account.AccountID())
	if err != nil {
		test.Fatalf("entries: %v", err)
	}
	if len(entries) != 0 {
		test.Fatalf("expected no committed entries, got %d", len(entries))
	}
}

func TestAdvanceAccountVersionDetectsStaleSnapshot(test *testing.T) {
	test.Parallel()
	store := New()
	account, err := store.GetOrCreateAccount(context.Background(), mustUserID(test, "user-1"))
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if err := store.AdvanceAccountVersion(context.Background(), account.AccountID(), 0); err != nil {
		test.Fatalf("advance: %v", err)
	}
	err = store.AdvanceAccountVersion(context.Background(), account.AccountID(), 0)
	if !errors.Is(err, wallet.ErrConcurrentModification) {
		test.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	refreshed, err := store.GetOrCreateAccount(context.Background(), account.UserID())
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if refreshed.Version() != 1 {
		test.Fatalf("expected version 1, got %d", refreshed.Version())
	}
}

func TestInsertEntryRejectsDuplicateReference(test *testing.T) {
	test.Parallel()
	store := New()
	account, err := store.GetOrCreateAccount(context.Background(), mustUserID(test, "user-1"))
	if err != nil {
		test.Fatalf("account: %v", err)
	}
	if err := store.InsertEntry(context.Background(), mustEntryInput(test, account.AccountID(), "entry-1", "ref", 10)); err != nil {
		test.Fatalf("insert: %v", err)
	}
	err = store.InsertEntry(context.Background(), mustEntryInput(test, account.AccountID(), "entry-2", "ref", 10))
	if !errors.Is(err, wallet.ErrDuplicateReference) {
		test.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestTransitionWalletRequestOnlyFromPending(test *testing.T) {
	test.Parallel()
	store := New()
	requestID, err := wallet.NewRequestID("request-1")
	if err != nil {
		test.Fatalf("request id: %v", err)
	}
	request, err := wallet.NewWalletRequest(requestID, mustUserID(test, "user-1"), wallet.RequestWithdrawal, mustAmount(test, 5), "", wallet.RequestStatusPending, "", testNowUnixUTC, 0)
	if err != nil {
		test.Fatalf("request: %v", err)
	}
	if err := store.CreateWalletRequest(context.Background(), request); err != nil {
		test.Fatalf("create: %v", err)
	}
	if err := store.TransitionWalletRequest(context.Background(), requestID, wallet.RequestStatusRejected, "no", testNowUnixUTC); err != nil {
		test.Fatalf("transition: %v", err)
	}
	err = store.TransitionWalletRequest(context.Background(), requestID, wallet.RequestStatusApproved, "yes", testNowUnixUTC)
	if !errors.Is(err, wallet.ErrAlreadyProcessed) {
		test.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	pending, err := store.ListWalletRequests(context.Background(), wallet.RequestStatusPending, 10)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(pending) != 0 {
		test.Fatalf("expected no pending requests, got %d", len(pending))
	}
}

func TestGetStoreAccountUnknown(test *testing.T) {
	test.Parallel()
	_, err := New().GetStoreAccount(context.Background(), mustStoreID(test, "missing"))
	if !errors.Is(err, wallet.ErrUnknownStore) {
		test.Fatalf("expected ErrUnknownStore, got %v", err)
	}
}

func mustService(test *testing.T, store wallet.Store, catalog *wallet.Catalog) *wallet.Service {
	test.Helper()
	service, err := wallet.NewService(store, catalog, func() int64 { return testNowUnixUTC })
	if err != nil {
		test.Fatalf("service: %v", err)
	}
	return service
}

func mustTwoPerkCatalog(test *testing.T) *wallet.Catalog {
	test.Helper()
	duration, err := wallet.NewFixedDuration(7)
	if err != nil {
		test.Fatalf("duration: %v", err)
	}
	var definitions []wallet.PerkDefinition
	for _, perk := range []string{"badge", "boost"} {
		definition, err := wallet.NewPerkDefinition(mustPerkType(test, perk), perk, mustAmount(test, 60), duration, nil)
		if err != nil {
			test.Fatalf("definition: %v", err)
		}
		definitions = append(definitions, definition)
	}
	catalog, err := wallet.NewCatalog(definitions...)
	if err != nil {
		test.Fatalf("catalog: %v", err)
	}
	return catalog
}

func mustDeposit(test *testing.T, service *wallet.Service, userID wallet.UserID, amount int64, reference string) {
	test.Helper()
	ref, err := wallet.NewReference(reference)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	if _, err := service.RecordEntry(context.Background(), userID, wallet.EntryDeposit, mustAmount(test, amount), wallet.EntryStatusSuccess, ref, wallet.MetadataJSON{}); err != nil {
		test.Fatalf("deposit: %v", err)
	}
}

func mustEntryInput(test *testing.T, accountID wallet.AccountID, entryIDValue string, referenceValue string, amount int64) wallet.EntryInput {
	test.Helper()
	entryID, err := wallet.NewEntryID(entryIDValue)
	if err != nil {
		test.Fatalf("entry id: %v", err)
	}
	reference, err := wallet.NewReference(referenceValue)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	input, err := wallet.NewEntryInput(entryID, accountID, wallet.EntryDeposit, mustAmount(test, amount), wallet.EntryStatusSuccess, reference, wallet.MetadataJSON{}, testNowUnixUTC)
	if err != nil {
		test.Fatalf("entry input: %v", err)
	}
	return input
}

func mustUserID(test *testing.T, raw string) wallet.UserID {
	test.Helper()
	userID, err := wallet.NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustStoreID(test *testing.T, raw string) wallet.StoreID {
	test.Helper()
	storeID, err := wallet.NewStoreID(raw)
	if err != nil {
		test.Fatalf("store id: %v", err)
	}
	return storeID
}

func mustPerkType(test *testing.T, raw string) wallet.PerkType {
	test.Helper()
	perkType, err := wallet.NewPerkType(raw)
	if err != nil {
		test.Fatalf("perk type: %v", err)
	}
	return perkType
}

func mustAmount(test *testing.T, raw int64) wallet.PositiveAmountCents {
	test.Helper()
	amount, err := wallet.NewPositiveAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}
