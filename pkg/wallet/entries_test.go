package wallet

import (
	"context"
	"errors"
	"testing"
)

func TestRecordEntryAppendsAndPublishes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	publisher := &recordingPublisher{}
	service := mustNewService(test, store, WithEventPublisher(publisher))
	userID := mustUserID(test, "seller-1")

	entry, err := service.RecordEntry(context.Background(), userID, EntryEarning, mustPositiveAmount(test, 1500), EntryStatusSuccess, mustReference(test, "order-77"), mustMetadata(test, `{"order":"77"}`))
	if err != nil {
		test.Fatalf("record: %v", err)
	}
	if entry.Kind() != EntryEarning || entry.CreatedUnixUTC() != fixedNowUnixUTC {
		test.Fatalf("unexpected entry %+v", entry)
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 1500 {
		test.Fatalf("expected 1500, got %d", balance.AvailableCents)
	}
	if len(publisher.events) != 1 || publisher.events[0].DeltaCents != 1500 {
		test.Fatalf("expected one +1500 event, got %+v", publisher.events)
	}

	_, err = service.RecordEntry(context.Background(), userID, EntryEarning, mustPositiveAmount(test, 1500), EntryStatusSuccess, mustReference(test, "order-77"), MetadataJSON{})
	if !errors.Is(err, ErrDuplicateReference) {
		test.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestRecordEntryGuardsDebitsAndStatuses(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	_, account := store.seedStore(test, 100)
	service := mustNewService(test, store)

	_, err := service.RecordEntry(context.Background(), account.UserID(), EntryPayment, mustPositiveAmount(test, 101), EntryStatusSuccess, mustReference(test, "too-much"), MetadataJSON{})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	_, err = service.RecordEntry(context.Background(), account.UserID(), EntryDeposit, mustPositiveAmount(test, 1), EntryStatusFailed, mustReference(test, "failed"), MetadataJSON{})
	if !errors.Is(err, ErrInvalidEntryStatus) {
		test.Fatalf("expected ErrInvalidEntryStatus, got %v", err)
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 100 {
		test.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestSettleEntryLifecycle(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	publisher := &recordingPublisher{}
	service := mustNewService(test, store, WithEventPublisher(publisher))
	userID := mustUserID(test, "seller-2")

	pending, err := service.RecordEntry(context.Background(), userID, EntryDeposit, mustPositiveAmount(test, 800), EntryStatusPending, mustReference(test, "psp-1"), MetadataJSON{})
	if err != nil {
		test.Fatalf("record: %v", err)
	}
	if len(publisher.events) != 0 {
		test.Fatalf("pending entries must not publish")
	}
	balance, err := service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 0 {
		test.Fatalf("pending entry must not count, got %d", balance.AvailableCents)
	}

	settled, err := service.SettleEntry(context.Background(), userID, pending.EntryID(), EntryStatusSuccess)
	if err != nil {
		test.Fatalf("settle: %v", err)
	}
	if settled.Status() != EntryStatusSuccess {
		test.Fatalf("expected success, got %s", settled.Status())
	}
	balance, err = service.Balance(context.Background(), userID)
	if err != nil {
		test.Fatalf("balance: %v", err)
	}
	if balance.AvailableCents != 800 {
		test.Fatalf("expected 800, got %d", balance.AvailableCents)
	}
	if len(publisher.events) != 1 {
		test.Fatalf("expected one event after settlement, got %d", len(publisher.events))
	}

	if _, err := service.SettleEntry(context.Background(), userID, pending.EntryID(), EntryStatusFailed); !errors.Is(err, ErrEntryNotPending) {
		test.Fatalf("expected ErrEntryNotPending, got %v", err)
	}
	if _, err := service.SettleEntry(context.Background(), userID, pending.EntryID(), EntryStatusReversed); !errors.Is(err, ErrInvalidStatusTransition) {
		test.Fatalf("expected ErrInvalidStatusTransition, got %v", err)
	}
}

func TestSettleDebitRequiresFunds(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	_, account := store.seedStore(test, 100)
	service := mustNewService(test, store)

	pending, err := service.RecordEntry(context.Background(), account.UserID(), EntryWithdrawal, mustPositiveAmount(test, 150), EntryStatusProcessing, mustReference(test, "payout-1"), MetadataJSON{})
	if err != nil {
		test.Fatalf("record: %v", err)
	}
	if _, err := service.SettleEntry(context.Background(), account.UserID(), pending.EntryID(), EntryStatusSuccess); !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	failed, err := service.SettleEntry(context.Background(), account.UserID(), pending.EntryID(), EntryStatusFailed)
	if err != nil {
		test.Fatalf("settle failed: %v", err)
	}
	if failed.Status() != EntryStatusFailed {
		test.Fatalf("expected failed, got %s", failed.Status())
	}
	if balance := store.balanceOf(test, account.AccountID()); balance != 100 {
		test.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestListEntriesNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	_, account := store.seedStore(test, 100)
	service := mustNewService(test, store)
	if _, err := service.RecordEntry(context.Background(), account.UserID(), EntryEarning, mustPositiveAmount(test, 5), EntryStatusSuccess, mustReference(test, "sale"), MetadataJSON{}); err != nil {
		test.Fatalf("record: %v", err)
	}

	entries, err := service.ListEntries(context.Background(), account.UserID(), fixedNowUnixUTC+1, 1)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Reference().String() != "sale" {
		test.Fatalf("unexpected entries %+v", entries)
	}
	store.failures["ListEntries"] = errors.New("boom")
	if _, err := service.ListEntries(context.Background(), account.UserID(), fixedNowUnixUTC, 10); err == nil {
		test.Fatalf("expected store error")
	}
}
