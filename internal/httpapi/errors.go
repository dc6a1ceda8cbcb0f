package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/gin-gonic/gin"
)

const (
	errorCodeUnauthorized   = "unauthorized"
	errorCodeForbidden      = "forbidden"
	errorCodeInvalidPayload = "invalid_payload"
	errorCodeInternal       = "wallet_error"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: wallet.ErrInsufficientBalance, status: http.StatusPaymentRequired, code: "insufficient_balance"},
	{target: wallet.ErrPerkAlreadyActive, status: http.StatusConflict, code: "perk_already_active"},
	{target: wallet.ErrConcurrentModification, status: http.StatusConflict, code: "concurrent_modification"},
	{target: wallet.ErrAlreadyProcessed, status: http.StatusConflict, code: "already_processed"},
	{target: wallet.ErrDuplicateReference, status: http.StatusConflict, code: "duplicate_reference"},
	{target: wallet.ErrCatalogLookupFailed, status: http.StatusNotFound, code: "unknown_perk"},
	{target: wallet.ErrUnknownStore, status: http.StatusNotFound, code: "unknown_store"},
	{target: wallet.ErrUnknownWalletRequest, status: http.StatusNotFound, code: "unknown_wallet_request"},
	{target: wallet.ErrUnknownAccount, status: http.StatusNotFound, code: "unknown_account"},
	{target: wallet.ErrInvalidUserID, status: http.StatusBadRequest, code: "invalid_user_id"},
	{target: wallet.ErrInvalidStoreID, status: http.StatusBadRequest, code: "invalid_store_id"},
	{target: wallet.ErrInvalidPerkType, status: http.StatusBadRequest, code: "invalid_perk_type"},
	{target: wallet.ErrInvalidAmountCents, status: http.StatusBadRequest, code: "invalid_amount"},
	{target: wallet.ErrInvalidRequestID, status: http.StatusBadRequest, code: "invalid_request_id"},
	{target: wallet.ErrInvalidRequestType, status: http.StatusBadRequest, code: "invalid_request_type"},
	{target: wallet.ErrInvalidRequestStatus, status: http.StatusBadRequest, code: "invalid_request_status"},
	{target: wallet.ErrInvalidEvidenceRef, status: http.StatusBadRequest, code: "invalid_evidence_ref"},
}

// statusForError maps a wallet error to an HTTP status and error code.
func statusForError(err error) (int, string) {
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, mapping.code
		}
	}
	return http.StatusInternalServerError, errorCodeInternal
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
