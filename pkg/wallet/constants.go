package wallet

// Operation names reported through OperationLogger.
const (
	OperationPurchasePerk  = "purchase_perk"
	OperationSubmitRequest = "submit_request"
	OperationApprove       = "approve_request"
	OperationReject        = "reject_request"
	OperationRecordEntry   = "record_entry"
	OperationSettleEntry   = "settle_entry"
	OperationLinkStore     = "link_store"
	OperationReconcile     = "reconcile"
	OperationNotify        = "notify"
	OperationPublish       = "publish"
)

// Operation statuses reported through OperationLogger.
const (
	OperationStatusOK       = "ok"
	OperationStatusError    = "error"
	OperationStatusMismatch = "mismatch"
)

const (
	secondsPerDay           int64 = 24 * 60 * 60
	expiringSoonDays              = 3
	spinFloorPercent              = 20
	referenceDelimiter            = ":"
	referencePrefixPerk           = "perk"
	referencePrefixRequest        = "wallet-request"
	balanceReasonPurchase         = "perk_purchase"
	balanceReasonDeposit          = "deposit_approved"
	balanceReasonWithdrawal       = "withdrawal_approved"
	balanceReasonEntryRecorded    = "entry_recorded"
	balanceReasonEntrySettled     = "entry_settled"
	metadataKeyPerkType           = "perk_type"
	metadataKeyDrawnDays          = "drawn_days"
	metadataKeyFloorDays          = "floor_days"
	metadataKeyMaxDays            = "max_days"
	metadataKeyDurationPolicy     = "duration_policy"
	metadataKeyEntitlementID      = "entitlement_id"
	metadataKeyEntryReference     = "entry_reference"
	metadataKeyWalletRequestID    = "wallet_request_id"
	metadataKeyWalletRequestType  = "wallet_request_type"
	metadataKeyAdminNotes         = "admin_notes"
	metadataKeyEvidenceReference  = "evidence_ref"
	notificationKeyEntitlementID  = "entitlement_id"
	notificationKeyExpiresAt      = "expires_at_unix_utc"
	notificationKeyWalletRequest  = "wallet_request_id"
	notificationKeyRequestStatus  = "status"
	notificationKeyPerkType       = "perk_type"
	notificationKeyAmountCents    = "amount_cents"
)
