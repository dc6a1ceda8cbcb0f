package wallet

import (
	"context"
	"fmt"
)

// RecordEntry appends an entry on behalf of an external integration
// (payment provider deposit, sale earning, refund). Entries may start as
// pending or processing and be settled later; a settled debit may not take
// the balance below zero.
func (service *Service) RecordEntry(requestContext context.Context, userID UserID, kind EntryKind, amount PositiveAmountCents, status EntryStatus, reference Reference, metadata MetadataJSON) (Entry, error) {
	var (
		recorded Entry
		account  Account
	)
	operationError := service.withRetry(requestContext, func() error {
		return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
			if status != EntryStatusPending && status != EntryStatusProcessing && status != EntryStatusSuccess {
				return fmt.Errorf("%w: entries cannot be recorded as %s", ErrInvalidEntryStatus, status)
			}
			walletAccount, err := transactionStore.GetOrCreateAccount(ctx, userID)
			if err != nil {
				return err
			}
			if status == EntryStatusSuccess && !kind.IsCredit() {
				if err := requireFunds(ctx, transactionStore, walletAccount, amount); err != nil {
					return err
				}
			}
			entryID, err := NewEntryID(service.idFn())
			if err != nil {
				return err
			}
			entryInput, err := NewEntryInput(entryID, walletAccount.AccountID(), kind, amount, status, reference, metadata, service.nowFn())
			if err != nil {
				return err
			}
			if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
				return err
			}
			if err := transactionStore.AdvanceAccountVersion(ctx, walletAccount.AccountID(), walletAccount.Version()); err != nil {
				return err
			}
			recorded = entryInput.ToEntry()
			account = walletAccount
			return nil
		})
	})
	service.logOperation(requestContext, OperationLog{
		Operation: OperationRecordEntry,
		UserID:    userID,
		AccountID: account.accountID,
		Amount:    amount.ToAmountCents(),
		Reference: reference,
		Metadata:  metadata,
		Error:     operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	if recorded.Status() == EntryStatusSuccess {
		service.publishOnly(requestContext, BalanceEvent{
			UserID:          userID,
			AccountID:       account.AccountID(),
			Reason:          balanceReasonEntryRecorded,
			Reference:       reference,
			DeltaCents:      recorded.SignedAmount(),
			OccurredUnixUTC: recorded.CreatedUnixUTC(),
		})
	}
	return recorded, nil
}

// SettleEntry moves a pending or processing entry to success or failed.
func (service *Service) SettleEntry(requestContext context.Context, userID UserID, entryID EntryID, to EntryStatus) (Entry, error) {
	var (
		settled Entry
		account Account
	)
	operationError := service.withRetry(requestContext, func() error {
		return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
			if to != EntryStatusSuccess && to != EntryStatusFailed {
				return fmt.Errorf("%w: cannot settle to %s", ErrInvalidStatusTransition, to)
			}
			walletAccount, err := transactionStore.GetOrCreateAccount(ctx, userID)
			if err != nil {
				return err
			}
			entry, err := transactionStore.GetEntry(ctx, walletAccount.AccountID(), entryID)
			if err != nil {
				return err
			}
			if !entry.Status().IsOpen() {
				return ErrEntryNotPending
			}
			if to == EntryStatusSuccess && !entry.Kind().IsCredit() {
				if err := requireFunds(ctx, transactionStore, walletAccount, entry.AmountCents()); err != nil {
					return err
				}
			}
			if err := transactionStore.UpdateEntryStatus(ctx, walletAccount.AccountID(), entryID, entry.Status(), to); err != nil {
				return err
			}
			if err := transactionStore.AdvanceAccountVersion(ctx, walletAccount.AccountID(), walletAccount.Version()); err != nil {
				return err
			}
			settled = entry.WithStatus(to)
			account = walletAccount
			return nil
		})
	})
	service.logOperation(requestContext, OperationLog{
		Operation: OperationSettleEntry,
		UserID:    userID,
		AccountID: account.accountID,
		Amount:    settled.amountCents.ToAmountCents(),
		Reference: settled.reference,
		Error:     operationError,
	})
	if operationError != nil {
		return Entry{}, operationError
	}
	if settled.Status() == EntryStatusSuccess {
		service.publishOnly(requestContext, BalanceEvent{
			UserID:          userID,
			AccountID:       account.AccountID(),
			Reason:          balanceReasonEntrySettled,
			Reference:       settled.Reference(),
			DeltaCents:      settled.SignedAmount(),
			OccurredUnixUTC: service.nowFn(),
		})
	}
	return settled, nil
}

// ListEntries lists ledger entries for a user before a cutoff time, newest first.
func (service *Service) ListEntries(ctx context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	account, err := service.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, account.AccountID(), beforeUnixUTC, limit)
}

func requireFunds(ctx context.Context, store Store, account Account, amount PositiveAmountCents) error {
	balance, err := store.SumSettled(ctx, account.AccountID())
	if err != nil {
		return err
	}
	if balance < amount.ToSignedAmountCents() {
		return ErrInsufficientBalance
	}
	return nil
}

func (service *Service) publishOnly(requestContext context.Context, event BalanceEvent) {
	if service.publisher == nil {
		return
	}
	ctx := context.WithoutCancel(requestContext)
	if err := service.publisher.PublishBalanceEvent(ctx, event); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: OperationPublish,
			UserID:    event.UserID,
			AccountID: event.AccountID,
			Reference: event.Reference,
			Error:     fmt.Errorf("%w: %v", ErrEventPublish, err),
		})
	}
}
