package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/MarkoPoloResearchLab/storewallet/internal/config"
	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

type httpHandler struct {
	logger  *zap.Logger
	service *wallet.Service
	cfg     config.Config
}

func newHandler(cfg config.Config, service *wallet.Service, logger *zap.Logger) *httpHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &httpHandler{logger: logger, service: service, cfg: cfg}
}

type submitRequestPayload struct {
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	EvidenceRef string `json:"evidence_ref"`
}

type reviewPayload struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

type linkStorePayload struct {
	OwnerID string `json:"owner_id"`
}

type balancePayload struct {
	AccountID      string `json:"account_id"`
	AvailableCents int64  `json:"available_cents"`
	Display        string `json:"display"`
}

type entryPayload struct {
	EntryID           string          `json:"entry_id"`
	Kind              string          `json:"kind"`
	AmountCents       int64           `json:"amount_cents"`
	SignedAmountCents int64           `json:"signed_amount_cents"`
	Status            string          `json:"status"`
	Reference         string          `json:"reference"`
	Metadata          json.RawMessage `json:"metadata"`
	CreatedUnixUTC    int64           `json:"created_unix_utc"`
}

type walletResponse struct {
	Balance balancePayload `json:"balance"`
	Entries []entryPayload `json:"entries"`
}

type requestPayload struct {
	RequestID       string `json:"request_id"`
	UserID          string `json:"user_id"`
	Type            string `json:"type"`
	AmountCents     int64  `json:"amount_cents"`
	EvidenceRef     string `json:"evidence_ref"`
	Status          string `json:"status"`
	AdminNotes      string `json:"admin_notes,omitempty"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
	ReviewedUnixUTC int64  `json:"reviewed_unix_utc,omitempty"`
}

type entitlementPayload struct {
	EntitlementID    string          `json:"entitlement_id"`
	StoreID          string          `json:"store_id"`
	PerkType         string          `json:"perk_type"`
	PricePaidCents   int64           `json:"price_paid_cents"`
	GrantedDays      int             `json:"granted_days"`
	ExpiresAtUnixUTC int64           `json:"expires_at_unix_utc"`
	Active           bool            `json:"active"`
	PurchasedUnixUTC int64           `json:"purchased_unix_utc"`
	RemainingDays    int             `json:"remaining_days"`
	ExpiringSoon     bool            `json:"expiring_soon"`
	Metadata         json.RawMessage `json:"metadata"`
}

type offerPayload struct {
	PerkType    string              `json:"perk_type"`
	Title       string              `json:"title"`
	PriceCents  int64               `json:"price_cents"`
	Duration    durationPayload     `json:"duration"`
	Features    []string            `json:"features"`
	Purchasable bool                `json:"purchasable"`
	Active      *entitlementPayload `json:"active,omitempty"`
}

type durationPayload struct {
	Kind      string `json:"kind"`
	FixedDays int    `json:"fixed_days,omitempty"`
	MinDays   int    `json:"min_days,omitempty"`
	MaxDays   int    `json:"max_days,omitempty"`
}

type reconcilePayload struct {
	AccountID      string `json:"account_id"`
	AggregateCents int64  `json:"aggregate_cents"`
	FoldedCents    int64  `json:"folded_cents"`
	EntryCount     int    `json:"entry_count"`
	Consistent     bool   `json:"consistent"`
	Negative       bool   `json:"negative"`
}

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"is_admin":   handler.isAdmin(claims),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	limit, ok := handler.queryLimit(ctx)
	if !ok {
		return
	}
	before, err := parseOptionalInt(ctx.Query("before"))
	if err != nil || before < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "before must be a unix timestamp"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	balance, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "balance failed", err)
		return
	}
	entries, err := handler.service.ListEntries(requestCtx, userID, before, limit)
	if err != nil {
		handler.respondError(ctx, "list entries failed", err)
		return
	}
	response := walletResponse{
		Balance: toBalancePayload(balance),
		Entries: make([]entryPayload, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Entries = append(response.Entries, toEntryPayload(entry))
	}
	ctx.JSON(http.StatusOK, gin.H{"wallet": response})
}

func (handler *httpHandler) handleSubmitRequest(ctx *gin.Context) {
	userID, ok := handler.sessionUser(ctx)
	if !ok {
		return
	}
	var payload submitRequestPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	requestType, err := wallet.ParseRequestType(payload.Type)
	if err != nil {
		handler.respondError(ctx, "submit request failed", err)
		return
	}
	amount, err := wallet.NewPositiveAmountCents(payload.AmountCents)
	if err != nil {
		handler.respondError(ctx, "submit request failed", err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	request, err := handler.service.SubmitWalletRequest(requestCtx, userID, requestType, amount, payload.EvidenceRef)
	if err != nil {
		handler.respondError(ctx, "submit request failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"request": toRequestPayload(request)})
}

func (handler *httpHandler) handlePerks(ctx *gin.Context) {
	storeID, ok := handler.authorizedStore(ctx, true)
	if !ok {
		return
	}
	limit, ok := handler.queryLimit(ctx)
	if !ok {
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	offers, err := handler.service.PerkOffers(requestCtx, storeID)
	if err != nil {
		handler.respondError(ctx, "perk offers failed", err)
		return
	}
	active, err := handler.service.ActivePerks(requestCtx, storeID)
	if err != nil {
		handler.respondError(ctx, "active perks failed", err)
		return
	}
	history, err := handler.service.PerkHistory(requestCtx, storeID, limit)
	if err != nil {
		handler.respondError(ctx, "perk history failed", err)
		return
	}
	balance, err := handler.service.StoreBalance(requestCtx, storeID)
	if err != nil {
		handler.respondError(ctx, "store balance failed", err)
		return
	}

	offerPayloads := make([]offerPayload, 0, len(offers))
	for _, offer := range offers {
		offerPayloads = append(offerPayloads, handler.toOfferPayload(offer))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"store_id": storeID.String(),
		"balance":  toBalancePayload(balance),
		"offers":   offerPayloads,
		"active":   handler.toEntitlementPayloads(active),
		"history":  handler.toEntitlementPayloads(history),
	})
}

func (handler *httpHandler) handlePurchase(ctx *gin.Context) {
	storeID, ok := handler.authorizedStore(ctx, false)
	if !ok {
		return
	}
	perkType, err := wallet.NewPerkType(ctx.Param("perkType"))
	if err != nil {
		handler.respondError(ctx, "purchase failed", err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	entitlement, err := handler.service.PurchasePerk(requestCtx, storeID, perkType)
	if err != nil {
		handler.respondError(ctx, "purchase failed", err)
		return
	}
	balance, err := handler.service.StoreBalance(requestCtx, storeID)
	if err != nil {
		handler.respondError(ctx, "store balance failed", err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"entitlement": handler.toEntitlementPayload(entitlement),
		"balance":     toBalancePayload(balance),
	})
}

func (handler *httpHandler) handleListRequests(ctx *gin.Context) {
	var status wallet.RequestStatus
	if raw := ctx.Query("status"); raw != "" {
		parsed, err := wallet.ParseRequestStatus(raw)
		if err != nil {
			handler.respondError(ctx, "list requests failed", err)
			return
		}
		status = parsed
	}
	limit, ok := handler.queryLimit(ctx)
	if !ok {
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	requests, err := handler.service.ListWalletRequests(requestCtx, status, limit)
	if err != nil {
		handler.respondError(ctx, "list requests failed", err)
		return
	}
	payloads := make([]requestPayload, 0, len(requests))
	for _, request := range requests {
		payloads = append(payloads, toRequestPayload(request))
	}
	ctx.JSON(http.StatusOK, gin.H{"requests": payloads})
}

func (handler *httpHandler) handleApprove(ctx *gin.Context) {
	handler.review(ctx, true)
}

func (handler *httpHandler) handleReject(ctx *gin.Context) {
	handler.review(ctx, false)
}

func (handler *httpHandler) review(ctx *gin.Context, approve bool) {
	requestID, err := wallet.NewRequestID(ctx.Param("requestID"))
	if err != nil {
		handler.respondError(ctx, "review failed", err)
		return
	}
	var payload reviewPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	var request wallet.WalletRequest
	if approve {
		request, err = handler.service.ApproveRequest(requestCtx, requestID, payload.Notes)
	} else {
		request, err = handler.service.RejectRequest(requestCtx, requestID, payload.Reason)
	}
	if err != nil {
		handler.respondError(ctx, "review failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"request": toRequestPayload(request)})
}

func (handler *httpHandler) handleReconcile(ctx *gin.Context) {
	userID, err := wallet.NewUserID(ctx.Param("userID"))
	if err != nil {
		handler.respondError(ctx, "reconcile failed", err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	reconciliation, err := handler.service.Reconcile(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, "reconcile failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"reconciliation": reconcilePayload{
		AccountID:      reconciliation.AccountID.String(),
		AggregateCents: reconciliation.AggregateCents.Int64(),
		FoldedCents:    reconciliation.FoldedCents.Int64(),
		EntryCount:     reconciliation.EntryCount,
		Consistent:     reconciliation.Consistent(),
		Negative:       reconciliation.Negative(),
	}})
}

func (handler *httpHandler) handleLinkStore(ctx *gin.Context) {
	storeID, err := wallet.NewStoreID(ctx.Param("storeID"))
	if err != nil {
		handler.respondError(ctx, "link store failed", err)
		return
	}
	var payload linkStorePayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "expected JSON body"))
		return
	}
	ownerID, err := wallet.NewUserID(payload.OwnerID)
	if err != nil {
		handler.respondError(ctx, "link store failed", err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	if err := handler.service.LinkStore(requestCtx, storeID, ownerID); err != nil {
		handler.respondError(ctx, "link store failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"store_id": storeID.String(), "owner_id": ownerID.String()})
}

func (handler *httpHandler) requireAdmin(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return
	}
	if !handler.isAdmin(claims) {
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(errorCodeForbidden, "admin role required"))
		return
	}
	ctx.Next()
}

func (handler *httpHandler) isAdmin(claims *sessionvalidator.Claims) bool {
	return slices.Contains(claims.GetUserRoles(), handler.cfg.AdminRole)
}

// sessionUser writes a 401 and returns false when the request has no usable session.
func (handler *httpHandler) sessionUser(ctx *gin.Context) (wallet.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return wallet.UserID{}, false
	}
	userID, err := wallet.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "invalid session subject"))
		return wallet.UserID{}, false
	}
	return userID, true
}

// authorizedStore resolves the :storeID path parameter and checks that the caller owns it.
// Admins may read any store but only owners may spend from it.
func (handler *httpHandler) authorizedStore(ctx *gin.Context, adminMayRead bool) (wallet.StoreID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return wallet.StoreID{}, false
	}
	storeID, err := wallet.NewStoreID(ctx.Param("storeID"))
	if err != nil {
		handler.respondError(ctx, "store lookup failed", err)
		return wallet.StoreID{}, false
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	ownerID, err := handler.service.StoreOwner(requestCtx, storeID)
	if err != nil {
		handler.respondError(ctx, "store lookup failed", err)
		return wallet.StoreID{}, false
	}
	if ownerID.String() == claims.GetUserID() {
		return storeID, true
	}
	if adminMayRead && handler.isAdmin(claims) {
		return storeID, true
	}
	ctx.JSON(http.StatusForbidden, errorResponse(errorCodeForbidden, "store belongs to another user"))
	return wallet.StoreID{}, false
}

func (handler *httpHandler) queryLimit(ctx *gin.Context) (int, bool) {
	limit, err := parseOptionalInt(ctx.Query("limit"))
	if err != nil || limit < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidPayload, "limit must be a non-negative integer"))
		return 0, false
	}
	maxLimit := int64(handler.cfg.HistoryLimit)
	if limit == 0 || limit > maxLimit {
		limit = maxLimit
	}
	return int(limit), true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(message, zap.Error(err))
		ctx.JSON(status, errorResponse(code, message))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func (handler *httpHandler) toOfferPayload(offer wallet.PerkOffer) offerPayload {
	definition := offer.Definition
	duration := definition.Duration()
	payload := offerPayload{
		PerkType:    definition.PerkType().String(),
		Title:       definition.Title(),
		PriceCents:  definition.Price().Int64(),
		Features:    definition.Features(),
		Purchasable: offer.Purchasable(),
		Duration: durationPayload{
			Kind:      duration.Kind().String(),
			FixedDays: duration.FixedDays(),
			MinDays:   duration.MinDays(),
			MaxDays:   duration.MaxDays(),
		},
	}
	if offer.Active != nil {
		active := handler.toEntitlementPayload(*offer.Active)
		payload.Active = &active
	}
	return payload
}

func (handler *httpHandler) toEntitlementPayloads(entitlements []wallet.Entitlement) []entitlementPayload {
	payloads := make([]entitlementPayload, 0, len(entitlements))
	for _, entitlement := range entitlements {
		payloads = append(payloads, handler.toEntitlementPayload(entitlement))
	}
	return payloads
}

func (handler *httpHandler) toEntitlementPayload(entitlement wallet.Entitlement) entitlementPayload {
	return entitlementPayload{
		EntitlementID:    entitlement.EntitlementID().String(),
		StoreID:          entitlement.StoreID().String(),
		PerkType:         entitlement.PerkType().String(),
		PricePaidCents:   entitlement.PricePaid().Int64(),
		GrantedDays:      entitlement.GrantedDays(),
		ExpiresAtUnixUTC: entitlement.ExpiresAtUnixUTC(),
		Active:           entitlement.IsActiveFlag(),
		PurchasedUnixUTC: entitlement.PurchasedUnixUTC(),
		RemainingDays:    handler.service.RemainingDays(entitlement),
		ExpiringSoon:     handler.service.IsExpiringSoon(entitlement),
		Metadata:         json.RawMessage(entitlement.MetadataJSON().String()),
	}
}

func toBalancePayload(balance wallet.Balance) balancePayload {
	return balancePayload{
		AccountID:      balance.AccountID.String(),
		AvailableCents: balance.AvailableCents.Int64(),
		Display:        wallet.FormatCents(balance.AvailableCents),
	}
}

func toEntryPayload(entry wallet.Entry) entryPayload {
	return entryPayload{
		EntryID:           entry.EntryID().String(),
		Kind:              entry.Kind().String(),
		AmountCents:       entry.AmountCents().Int64(),
		SignedAmountCents: entry.SignedAmount().Int64(),
		Status:            entry.Status().String(),
		Reference:         entry.Reference().String(),
		Metadata:          json.RawMessage(entry.MetadataJSON().String()),
		CreatedUnixUTC:    entry.CreatedUnixUTC(),
	}
}

func toRequestPayload(request wallet.WalletRequest) requestPayload {
	return requestPayload{
		RequestID:       request.RequestID().String(),
		UserID:          request.UserID().String(),
		Type:            request.Type().String(),
		AmountCents:     request.AmountCents().Int64(),
		EvidenceRef:     request.EvidenceRef(),
		Status:          request.Status().String(),
		AdminNotes:      request.AdminNotes(),
		CreatedUnixUTC:  request.CreatedUnixUTC(),
		ReviewedUnixUTC: request.ReviewedUnixUTC(),
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func parseOptionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
