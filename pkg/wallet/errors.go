package wallet

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the wallet service.
var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrPerkAlreadyActive       = errors.New("perk already active")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrCatalogLookupFailed     = errors.New("catalog lookup failed")
	ErrAlreadyProcessed        = errors.New("wallet request already processed")
	ErrNotificationDispatch    = errors.New("notification dispatch failure")
	ErrEventPublish            = errors.New("event publish failure")
	ErrUnknownStore            = errors.New("unknown store")
	ErrUnknownAccount          = errors.New("unknown account")
	ErrUnknownWalletRequest    = errors.New("unknown wallet request")
	ErrUnknownEntry            = errors.New("unknown entry")
	ErrEntryNotPending         = errors.New("entry not pending")
	ErrDuplicateReference      = errors.New("duplicate reference")
	ErrDuplicatePerkType       = errors.New("duplicate perk type")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidAccountVersion   = errors.New("invalid account version")
	ErrInvalidEntryID          = errors.New("invalid entry id")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidStoreID          = errors.New("invalid store id")
	ErrInvalidReference        = errors.New("invalid reference")
	ErrInvalidAmountCents      = errors.New("invalid amount cents")
	ErrInvalidEntryKind        = errors.New("invalid entry kind")
	ErrInvalidEntryStatus      = errors.New("invalid entry status")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidPerkType         = errors.New("invalid perk type")
	ErrInvalidPerkDefinition   = errors.New("invalid perk definition")
	ErrInvalidDurationPolicy   = errors.New("invalid duration policy")
	ErrInvalidEntitlementID    = errors.New("invalid entitlement id")
	ErrInvalidEntitlement      = errors.New("invalid entitlement")
	ErrInvalidRequestID        = errors.New("invalid wallet request id")
	ErrInvalidRequestType      = errors.New("invalid wallet request type")
	ErrInvalidRequestStatus    = errors.New("invalid wallet request status")
	ErrInvalidEvidenceRef      = errors.New("invalid evidence reference")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrInvalidRandomSource     = errors.New("invalid random source")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidBalance          = errors.New("invalid balance")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
