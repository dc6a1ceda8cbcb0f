package wallet

import (
	"context"
	"fmt"
)

// PurchasePerk spends the store owner's balance on a perk.
//
// The debit and the entitlement are written in one transaction together with
// an account version advance; a concurrent balance change makes the commit
// fail with ErrConcurrentModification, in which case the purchase is retried
// once with the same drawn duration. Nothing is written when the perk is
// unknown, already active, or unaffordable.
func (service *Service) PurchasePerk(requestContext context.Context, storeID StoreID, perkType PerkType) (Entitlement, error) {
	definition, err := service.catalog.Lookup(perkType)
	if err != nil {
		service.logOperation(requestContext, OperationLog{
			Operation: OperationPurchasePerk,
			StoreID:   storeID,
			PerkType:  perkType,
			Error:     err,
		})
		return Entitlement{}, err
	}
	if err := requestContext.Err(); err != nil {
		return Entitlement{}, err
	}

	var (
		draw        *DurationDraw
		entitlement Entitlement
		account     Account
		reference   Reference
	)
	operationError := service.withRetry(requestContext, func() error {
		return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
			storeAccount, err := transactionStore.GetStoreAccount(ctx, storeID)
			if err != nil {
				return err
			}
			nowUnixUTC := service.nowFn()
			active, err := transactionStore.ListActiveEntitlements(ctx, storeID, nowUnixUTC)
			if err != nil {
				return err
			}
			for _, existing := range active {
				if existing.PerkType() == perkType && existing.IsActiveAt(nowUnixUTC) {
					return ErrPerkAlreadyActive
				}
			}
			if err := requireFunds(ctx, transactionStore, storeAccount, definition.Price()); err != nil {
				return err
			}
			if draw == nil {
				resolved, err := service.spinner.Resolve(definition.Duration())
				if err != nil {
					return err
				}
				draw = &resolved
			}

			entitlementID, err := NewEntitlementID(service.idFn())
			if err != nil {
				return err
			}
			entryReference, err := NewReference(referencePrefixPerk + referenceDelimiter + entitlementID.String())
			if err != nil {
				return err
			}
			entryMetadata, err := MarshalMetadata(map[string]any{
				metadataKeyPerkType:      perkType.String(),
				metadataKeyDrawnDays:     draw.DrawnDays,
				metadataKeyEntitlementID: entitlementID.String(),
			})
			if err != nil {
				return err
			}
			entryID, err := NewEntryID(service.idFn())
			if err != nil {
				return err
			}
			entryInput, err := NewEntryInput(
				entryID,
				storeAccount.AccountID(),
				EntryPayment,
				definition.Price(),
				EntryStatusSuccess,
				entryReference,
				entryMetadata,
				nowUnixUTC,
			)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
				return err
			}

			grantMetadata, err := MarshalMetadata(map[string]any{
				metadataKeyPerkType:       perkType.String(),
				metadataKeyDurationPolicy: draw.Policy.String(),
				metadataKeyDrawnDays:      draw.DrawnDays,
				metadataKeyFloorDays:      draw.FloorDays,
				metadataKeyMaxDays:        draw.MaxDays,
				metadataKeyEntryReference: entryReference.String(),
			})
			if err != nil {
				return err
			}
			grant, err := NewEntitlement(
				entitlementID,
				storeID,
				perkType,
				definition.Price(),
				draw.DrawnDays,
				nowUnixUTC+int64(draw.DrawnDays)*secondsPerDay,
				true,
				nowUnixUTC,
				grantMetadata,
			)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertEntitlement(ctx, grant); err != nil {
				return err
			}
			if err := transactionStore.AdvanceAccountVersion(ctx, storeAccount.AccountID(), storeAccount.Version()); err != nil {
				return err
			}
			entitlement = grant
			account = storeAccount
			reference = entryReference
			return nil
		})
	})

	logEntry := OperationLog{
		Operation: OperationPurchasePerk,
		UserID:    account.userID,
		StoreID:   storeID,
		AccountID: account.accountID,
		PerkType:  perkType,
		Amount:    definition.Price().ToAmountCents(),
		Reference: reference,
		Metadata:  entitlement.metadata,
		Error:     operationError,
	}
	if operationError == nil {
		logEntry.DrawnDays = entitlement.GrantedDays()
	}
	service.logOperation(requestContext, logEntry)
	if operationError != nil {
		return Entitlement{}, operationError
	}

	service.afterCommit(requestContext, Notification{
		UserID: account.UserID(),
		Title:  fmt.Sprintf("%s activated", definition.Title()),
		Body: fmt.Sprintf("%s is active for %d days. %s was charged to your wallet.",
			definition.Title(), entitlement.GrantedDays(), FormatCents(definition.Price().ToSignedAmountCents())),
		Metadata: map[string]string{
			notificationKeyEntitlementID: entitlement.EntitlementID().String(),
			notificationKeyPerkType:      perkType.String(),
			notificationKeyExpiresAt:     fmt.Sprintf("%d", entitlement.ExpiresAtUnixUTC()),
			notificationKeyAmountCents:   fmt.Sprintf("%d", definition.Price().Int64()),
		},
	}, &BalanceEvent{
		UserID:          account.UserID(),
		AccountID:       account.AccountID(),
		Reason:          balanceReasonPurchase,
		Reference:       reference,
		DeltaCents:      EntryPayment.Signed(definition.Price()),
		OccurredUnixUTC: entitlement.PurchasedUnixUTC(),
	})
	return entitlement, nil
}
