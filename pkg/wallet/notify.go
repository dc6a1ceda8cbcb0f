package wallet

import "context"

// Notification is an in-app/push message addressed to a user.
type Notification struct {
	UserID   UserID
	Title    string
	Body     string
	Metadata map[string]string
}

// Notifier delivers notifications. Delivery is fire-and-forget from the
// service's point of view: a failure never rolls back the operation that
// produced the notification.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// BalanceEvent announces a committed balance-affecting change so that
// subscribers can refresh their view of an account.
type BalanceEvent struct {
	UserID          UserID
	AccountID       AccountID
	Reason          string
	Reference       Reference
	DeltaCents      SignedAmountCents
	OccurredUnixUTC int64
}

// EventPublisher broadcasts balance events after commit.
type EventPublisher interface {
	PublishBalanceEvent(ctx context.Context, event BalanceEvent) error
}

// WithNotifier wires the notification dispatcher.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithEventPublisher wires the balance change feed.
func WithEventPublisher(publisher EventPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}
