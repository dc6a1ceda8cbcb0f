package wallet

import (
	"context"
	"fmt"
	"strings"
)

// RequestID identifies a wallet request.
type RequestID struct {
	value string
}

// NewRequestID validates and normalizes a wallet request id.
func NewRequestID(raw string) (RequestID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RequestID{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	return RequestID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RequestID) String() string {
	return id.value
}

// RequestType is deposit or withdrawal.
type RequestType string

const (
	RequestDeposit    RequestType = "deposit"
	RequestWithdrawal RequestType = "withdrawal"
)

// ParseRequestType validates a raw request type.
func ParseRequestType(raw string) (RequestType, error) {
	requestType := RequestType(strings.ToLower(strings.TrimSpace(raw)))
	switch requestType {
	case RequestDeposit, RequestWithdrawal:
		return requestType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestType, raw)
	}
}

// String returns the type name.
func (requestType RequestType) String() string {
	return string(requestType)
}

// EntryKind returns the ledger entry kind written on approval.
func (requestType RequestType) EntryKind() EntryKind {
	if requestType == RequestWithdrawal {
		return EntryWithdrawal
	}
	return EntryDeposit
}

// RequestStatus is the review state of a wallet request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// ParseRequestStatus validates a raw request status.
func ParseRequestStatus(raw string) (RequestStatus, error) {
	status := RequestStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestStatus, raw)
	}
}

// String returns the status name.
func (status RequestStatus) String() string {
	return string(status)
}

// WalletRequest is a human-reviewed deposit or withdrawal submission.
type WalletRequest struct {
	requestID       RequestID
	userID          UserID
	requestType     RequestType
	amountCents     PositiveAmountCents
	evidenceRef     string
	status          RequestStatus
	adminNotes      string
	createdUnixUTC  int64
	reviewedUnixUTC int64
}

// NewWalletRequest validates a wallet request record.
func NewWalletRequest(requestID RequestID, userID UserID, requestType RequestType, amount PositiveAmountCents, evidenceRef string, status RequestStatus, adminNotes string, createdUnixUTC int64, reviewedUnixUTC int64) (WalletRequest, error) {
	if requestID.String() == "" {
		return WalletRequest{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	if userID.String() == "" {
		return WalletRequest{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if _, err := ParseRequestType(requestType.String()); err != nil {
		return WalletRequest{}, err
	}
	if amount <= 0 {
		return WalletRequest{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	normalizedEvidence := strings.TrimSpace(evidenceRef)
	if requestType == RequestDeposit && normalizedEvidence == "" {
		return WalletRequest{}, fmt.Errorf("%w: deposits require evidence", ErrInvalidEvidenceRef)
	}
	if _, err := ParseRequestStatus(status.String()); err != nil {
		return WalletRequest{}, err
	}
	return WalletRequest{
		requestID:       requestID,
		userID:          userID,
		requestType:     requestType,
		amountCents:     amount,
		evidenceRef:     normalizedEvidence,
		status:          status,
		adminNotes:      strings.TrimSpace(adminNotes),
		createdUnixUTC:  createdUnixUTC,
		reviewedUnixUTC: reviewedUnixUTC,
	}, nil
}

// RequestID returns the request id.
func (request WalletRequest) RequestID() RequestID { return request.requestID }

// UserID returns the submitting user.
func (request WalletRequest) UserID() UserID { return request.userID }

// Type returns deposit or withdrawal.
func (request WalletRequest) Type() RequestType { return request.requestType }

// AmountCents returns the requested amount.
func (request WalletRequest) AmountCents() PositiveAmountCents { return request.amountCents }

// EvidenceRef returns the uploaded evidence reference.
func (request WalletRequest) EvidenceRef() string { return request.evidenceRef }

// Status returns the review status.
func (request WalletRequest) Status() RequestStatus { return request.status }

// AdminNotes returns the reviewer's note.
func (request WalletRequest) AdminNotes() string { return request.adminNotes }

// CreatedUnixUTC returns the submission time.
func (request WalletRequest) CreatedUnixUTC() int64 { return request.createdUnixUTC }

// ReviewedUnixUTC returns the review time, or 0 while pending.
func (request WalletRequest) ReviewedUnixUTC() int64 { return request.reviewedUnixUTC }

// Reviewed returns a copy of the request in a terminal state.
func (request WalletRequest) Reviewed(status RequestStatus, adminNotes string, reviewedUnixUTC int64) WalletRequest {
	request.status = status
	request.adminNotes = strings.TrimSpace(adminNotes)
	request.reviewedUnixUTC = reviewedUnixUTC
	return request
}

// SubmitWalletRequest queues a deposit or withdrawal for administrator review.
func (service *Service) SubmitWalletRequest(requestContext context.Context, userID UserID, requestType RequestType, amount PositiveAmountCents, evidenceRef string) (WalletRequest, error) {
	var submitted WalletRequest
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		if requestType == RequestWithdrawal {
			if err := requireFunds(ctx, transactionStore, account, amount); err != nil {
				return err
			}
		}
		requestID, err := NewRequestID(service.idFn())
		if err != nil {
			return err
		}
		request, err := NewWalletRequest(requestID, userID, requestType, amount, evidenceRef, RequestStatusPending, "", service.nowFn(), 0)
		if err != nil {
			return err
		}
		if err := transactionStore.CreateWalletRequest(ctx, request); err != nil {
			return err
		}
		submitted = request
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: OperationSubmitRequest,
		UserID:    userID,
		RequestID: submitted.requestID,
		Amount:    amount.ToAmountCents(),
		Error:     operationError,
	})
	if operationError != nil {
		return WalletRequest{}, operationError
	}
	return submitted, nil
}

// ApproveRequest approves a pending request and books it on the ledger.
// Deposits append a credit; withdrawals append a debit guarded by the balance.
// A request that was already reviewed fails with ErrAlreadyProcessed.
func (service *Service) ApproveRequest(requestContext context.Context, requestID RequestID, adminNotes string) (WalletRequest, error) {
	var (
		approved  WalletRequest
		account   Account
		reference Reference
	)
	operationError := service.withRetry(requestContext, func() error {
		return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
			request, err := transactionStore.GetWalletRequest(ctx, requestID)
			if err != nil {
				return err
			}
			if request.Status() != RequestStatusPending {
				return ErrAlreadyProcessed
			}
			walletAccount, err := transactionStore.GetOrCreateAccount(ctx, request.UserID())
			if err != nil {
				return err
			}
			if request.Type() == RequestWithdrawal {
				if err := requireFunds(ctx, transactionStore, walletAccount, request.AmountCents()); err != nil {
					return err
				}
			}
			nowUnixUTC := service.nowFn()
			entryReference, err := NewReference(referencePrefixRequest + referenceDelimiter + requestID.String())
			if err != nil {
				return err
			}
			metadata, err := MarshalMetadata(map[string]any{
				metadataKeyWalletRequestID:   requestID.String(),
				metadataKeyWalletRequestType: request.Type().String(),
				metadataKeyEvidenceReference: request.EvidenceRef(),
				metadataKeyAdminNotes:        strings.TrimSpace(adminNotes),
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
				walletAccount.AccountID(),
				request.Type().EntryKind(),
				request.AmountCents(),
				EntryStatusSuccess,
				entryReference,
				metadata,
				nowUnixUTC,
			)
			if err != nil {
				return err
			}
			if err := transactionStore.InsertEntry(ctx, entryInput); err != nil {
				return err
			}
			if err := transactionStore.TransitionWalletRequest(ctx, requestID, RequestStatusApproved, adminNotes, nowUnixUTC); err != nil {
				return err
			}
			if err := transactionStore.AdvanceAccountVersion(ctx, walletAccount.AccountID(), walletAccount.Version()); err != nil {
				return err
			}
			approved = request.Reviewed(RequestStatusApproved, adminNotes, nowUnixUTC)
			account = walletAccount
			reference = entryReference
			return nil
		})
	})
	service.logOperation(requestContext, OperationLog{
		Operation: OperationApprove,
		UserID:    approved.userID,
		AccountID: account.accountID,
		RequestID: requestID,
		Amount:    approved.amountCents.ToAmountCents(),
		Reference: reference,
		Error:     operationError,
	})
	if operationError != nil {
		return WalletRequest{}, operationError
	}

	reason := balanceReasonDeposit
	title := "Deposit approved"
	body := fmt.Sprintf("Your deposit of %s has been added to your wallet.", FormatCents(approved.amountCents.ToSignedAmountCents()))
	if approved.Type() == RequestWithdrawal {
		reason = balanceReasonWithdrawal
		title = "Withdrawal approved"
		body = fmt.Sprintf("Your withdrawal of %s has been approved.", FormatCents(approved.amountCents.ToSignedAmountCents()))
	}
	service.afterCommit(requestContext, Notification{
		UserID: approved.UserID(),
		Title:  title,
		Body:   body,
		Metadata: map[string]string{
			notificationKeyWalletRequest: requestID.String(),
			notificationKeyRequestStatus: RequestStatusApproved.String(),
			notificationKeyAmountCents:   fmt.Sprintf("%d", approved.amountCents.Int64()),
		},
	}, &BalanceEvent{
		UserID:          approved.UserID(),
		AccountID:       account.AccountID(),
		Reason:          reason,
		Reference:       reference,
		DeltaCents:      approved.Type().EntryKind().Signed(approved.AmountCents()),
		OccurredUnixUTC: approved.ReviewedUnixUTC(),
	})
	return approved, nil
}

// RejectRequest rejects a pending request without touching the ledger.
func (service *Service) RejectRequest(requestContext context.Context, requestID RequestID, reason string) (WalletRequest, error) {
	var rejected WalletRequest
	operationError := service.withRetry(requestContext, func() error {
		return service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
			request, err := transactionStore.GetWalletRequest(ctx, requestID)
			if err != nil {
				return err
			}
			if request.Status() != RequestStatusPending {
				return ErrAlreadyProcessed
			}
			nowUnixUTC := service.nowFn()
			if err := transactionStore.TransitionWalletRequest(ctx, requestID, RequestStatusRejected, reason, nowUnixUTC); err != nil {
				return err
			}
			rejected = request.Reviewed(RequestStatusRejected, reason, nowUnixUTC)
			return nil
		})
	})
	service.logOperation(requestContext, OperationLog{
		Operation: OperationReject,
		UserID:    rejected.userID,
		RequestID: requestID,
		Amount:    rejected.amountCents.ToAmountCents(),
		Error:     operationError,
	})
	if operationError != nil {
		return WalletRequest{}, operationError
	}

	body := fmt.Sprintf("Your %s request of %s was rejected.", rejected.Type().String(), FormatCents(rejected.amountCents.ToSignedAmountCents()))
	if rejected.AdminNotes() != "" {
		body += " Note: " + rejected.AdminNotes()
	}
	service.afterCommit(requestContext, Notification{
		UserID: rejected.UserID(),
		Title:  "Wallet request rejected",
		Body:   body,
		Metadata: map[string]string{
			notificationKeyWalletRequest: requestID.String(),
			notificationKeyRequestStatus: RequestStatusRejected.String(),
		},
	}, nil)
	return rejected, nil
}

// GetWalletRequest returns one request.
func (service *Service) GetWalletRequest(ctx context.Context, requestID RequestID) (WalletRequest, error) {
	return service.store.GetWalletRequest(ctx, requestID)
}

// ListWalletRequests lists requests for the review queue; an empty status lists all.
func (service *Service) ListWalletRequests(ctx context.Context, status RequestStatus, limit int) ([]WalletRequest, error) {
	if status != "" {
		if _, err := ParseRequestStatus(status.String()); err != nil {
			return nil, err
		}
	}
	return service.store.ListWalletRequests(ctx, status, limit)
}
