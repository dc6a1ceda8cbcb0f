package wallet

import (
	"context"
	"fmt"
)

// FoldBalance sums the settled entries using each kind's sign convention.
// Entries in any status other than success do not contribute. The result is
// never clamped, so a ledger that went negative stays observable.
func FoldBalance(entries []Entry) SignedAmountCents {
	var total SignedAmountCents
	for _, entry := range entries {
		if entry.Status() != EntryStatusSuccess {
			continue
		}
		total += entry.SignedAmount()
	}
	return total
}

// FormatCents renders cents as a decimal string, e.g. -1234 as "-12.34".
func FormatCents(amount SignedAmountCents) string {
	value := amount.Int64()
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	return fmt.Sprintf("%s%d.%02d", sign, value/100, value%100)
}

// Balance returns the ledger-computed balance of the user's account.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	account, err := service.store.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return service.accountBalance(ctx, service.store, account)
}

// StoreBalance returns the balance of the account paying for the store's perks.
func (service *Service) StoreBalance(ctx context.Context, storeID StoreID) (Balance, error) {
	account, err := service.store.GetStoreAccount(ctx, storeID)
	if err != nil {
		return Balance{}, err
	}
	return service.accountBalance(ctx, service.store, account)
}

func (service *Service) accountBalance(ctx context.Context, store Store, account Account) (Balance, error) {
	available, err := store.SumSettled(ctx, account.AccountID())
	if err != nil {
		return Balance{}, err
	}
	return Balance{AccountID: account.AccountID(), AvailableCents: available}, nil
}

// Reconciliation compares the store's aggregate balance with a fold over the raw entries.
type Reconciliation struct {
	AccountID      AccountID
	AggregateCents SignedAmountCents
	FoldedCents    SignedAmountCents
	EntryCount     int
}

// Consistent reports whether both computations agree.
func (reconciliation Reconciliation) Consistent() bool {
	return reconciliation.AggregateCents == reconciliation.FoldedCents
}

// Negative reports whether either computation is below zero.
func (reconciliation Reconciliation) Negative() bool {
	return reconciliation.AggregateCents < 0 || reconciliation.FoldedCents < 0
}

// Reconcile recomputes the user's balance two independent ways within one
// transaction snapshot. A mismatch or a negative balance is logged with
// status "mismatch" and returned to the caller, never corrected.
func (service *Service) Reconcile(requestContext context.Context, userID UserID) (Reconciliation, error) {
	var reconciliation Reconciliation
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		aggregate, err := transactionStore.SumSettled(ctx, account.AccountID())
		if err != nil {
			return err
		}
		entries, err := transactionStore.ListAllEntries(ctx, account.AccountID())
		if err != nil {
			return err
		}
		reconciliation = Reconciliation{
			AccountID:      account.AccountID(),
			AggregateCents: aggregate,
			FoldedCents:    FoldBalance(entries),
			EntryCount:     len(entries),
		}
		return nil
	})
	logEntry := OperationLog{
		Operation: OperationReconcile,
		UserID:    userID,
		AccountID: reconciliation.AccountID,
		Error:     operationError,
	}
	if operationError == nil && (!reconciliation.Consistent() || reconciliation.Negative()) {
		logEntry.Status = OperationStatusMismatch
		logEntry.Error = fmt.Errorf("%w: aggregate=%d folded=%d", ErrInvalidBalance, reconciliation.AggregateCents, reconciliation.FoldedCents)
	}
	service.logOperation(requestContext, logEntry)
	if operationError != nil {
		return Reconciliation{}, operationError
	}
	return reconciliation, nil
}
