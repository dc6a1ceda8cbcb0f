package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store     Store
	catalog   *Catalog
	nowFn     func() int64
	idFn      func() string
	spinner   *Spinner
	loggers   []OperationLogger
	notifier  Notifier
	publisher EventPublisher
}

// NewService wires a Service.
func NewService(store Store, catalog *Catalog, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:   store,
		catalog: catalog,
		nowFn:   now,
		idFn:    uuid.NewString,
		spinner: NewSpinner(nil),
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithIDGenerator replaces the generator used for entry, entitlement and request ids.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.idFn = generate
		}
	}
}

// Catalog returns the perk catalog the service sells from.
func (service *Service) Catalog() *Catalog {
	return service.catalog
}

// LinkStore associates a store with the wallet account of its owner.
func (service *Service) LinkStore(requestContext context.Context, storeID StoreID, ownerID UserID) error {
	var accountID AccountID
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, ownerID)
		if err != nil {
			return err
		}
		accountID = account.AccountID()
		return transactionStore.LinkStore(ctx, storeID, account.AccountID())
	})
	service.logOperation(requestContext, OperationLog{
		Operation: OperationLinkStore,
		UserID:    ownerID,
		StoreID:   storeID,
		AccountID: accountID,
		Error:     operationError,
	})
	return operationError
}

// StoreOwner returns the user whose wallet pays for the store's perks.
func (service *Service) StoreOwner(ctx context.Context, storeID StoreID) (UserID, error) {
	account, err := service.store.GetStoreAccount(ctx, storeID)
	if err != nil {
		return UserID{}, err
	}
	return account.UserID(), nil
}

// withRetry runs attempt and repeats it once when it lost an optimistic-concurrency race.
func (service *Service) withRetry(ctx context.Context, attempt func() error) error {
	err := attempt()
	if !errors.Is(err, ErrConcurrentModification) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}
	return attempt()
}

// afterCommit dispatches the notification and balance event of a committed
// operation. Failures are reported through the operation loggers only.
func (service *Service) afterCommit(requestContext context.Context, notification Notification, event *BalanceEvent) {
	ctx := context.WithoutCancel(requestContext)
	if event != nil {
		service.publishOnly(ctx, *event)
	}
	if service.notifier == nil {
		return
	}
	if err := service.notifier.Notify(ctx, notification); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: OperationNotify,
			UserID:    notification.UserID,
			Error:     fmt.Errorf("%w: %v", ErrNotificationDispatch, err),
		})
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if len(service.loggers) == 0 {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = OperationStatusError
		} else {
			entry.Status = OperationStatusOK
		}
	}
	for _, logger := range service.loggers {
		logger.LogOperation(ctx, entry)
	}
}
