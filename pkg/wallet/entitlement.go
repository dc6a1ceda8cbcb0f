package wallet

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// EntitlementID identifies a perk entitlement.
type EntitlementID struct {
	value string
}

// NewEntitlementID validates and normalizes an entitlement id.
func NewEntitlementID(raw string) (EntitlementID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EntitlementID{}, fmt.Errorf("%w: empty value", ErrInvalidEntitlementID)
	}
	return EntitlementID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id EntitlementID) String() string {
	return id.value
}

// Entitlement is a store's time-boxed grant of a perk.
type Entitlement struct {
	entitlementID    EntitlementID
	storeID          StoreID
	perkType         PerkType
	pricePaid        PositiveAmountCents
	grantedDays      int
	expiresAtUnixUTC int64
	active           bool
	purchasedUnixUTC int64
	metadata         MetadataJSON
}

// NewEntitlement validates an entitlement record.
func NewEntitlement(entitlementID EntitlementID, storeID StoreID, perkType PerkType, pricePaid PositiveAmountCents, grantedDays int, expiresAtUnixUTC int64, active bool, purchasedUnixUTC int64, metadata MetadataJSON) (Entitlement, error) {
	if entitlementID.String() == "" {
		return Entitlement{}, fmt.Errorf("%w: empty value", ErrInvalidEntitlementID)
	}
	if storeID.String() == "" {
		return Entitlement{}, fmt.Errorf("%w: empty value", ErrInvalidStoreID)
	}
	if perkType.String() == "" {
		return Entitlement{}, fmt.Errorf("%w: empty value", ErrInvalidPerkType)
	}
	if pricePaid <= 0 {
		return Entitlement{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidAmountCents)
	}
	if grantedDays <= 0 {
		return Entitlement{}, fmt.Errorf("%w: granted days must be greater than zero", ErrInvalidEntitlement)
	}
	if expiresAtUnixUTC < purchasedUnixUTC {
		return Entitlement{}, fmt.Errorf("%w: expires before purchase", ErrInvalidEntitlement)
	}
	return Entitlement{
		entitlementID:    entitlementID,
		storeID:          storeID,
		perkType:         perkType,
		pricePaid:        pricePaid,
		grantedDays:      grantedDays,
		expiresAtUnixUTC: expiresAtUnixUTC,
		active:           active,
		purchasedUnixUTC: purchasedUnixUTC,
		metadata:         metadata,
	}, nil
}

// EntitlementID returns the entitlement id.
func (entitlement Entitlement) EntitlementID() EntitlementID { return entitlement.entitlementID }

// StoreID returns the owning store.
func (entitlement Entitlement) StoreID() StoreID { return entitlement.storeID }

// PerkType returns the granted perk.
func (entitlement Entitlement) PerkType() PerkType { return entitlement.perkType }

// PricePaid returns the amount debited for the grant.
func (entitlement Entitlement) PricePaid() PositiveAmountCents { return entitlement.pricePaid }

// GrantedDays returns the granted (possibly drawn) duration.
func (entitlement Entitlement) GrantedDays() int { return entitlement.grantedDays }

// ExpiresAtUnixUTC returns the expiry instant.
func (entitlement Entitlement) ExpiresAtUnixUTC() int64 { return entitlement.expiresAtUnixUTC }

// IsActiveFlag returns the stored is_active flag.
func (entitlement Entitlement) IsActiveFlag() bool { return entitlement.active }

// PurchasedUnixUTC returns the purchase instant.
func (entitlement Entitlement) PurchasedUnixUTC() int64 { return entitlement.purchasedUnixUTC }

// MetadataJSON returns the audit metadata.
func (entitlement Entitlement) MetadataJSON() MetadataJSON { return entitlement.metadata }

// IsActiveAt reports is_active AND expires_at >= nowUnixUTC.
func (entitlement Entitlement) IsActiveAt(nowUnixUTC int64) bool {
	return entitlement.active && entitlement.expiresAtUnixUTC >= nowUnixUTC
}

// RemainingDays returns ceil((expires_at - now) / 1 day), floored at 0.
func RemainingDays(entitlement Entitlement, nowUnixUTC int64) int {
	remaining := entitlement.expiresAtUnixUTC - nowUnixUTC
	if remaining <= 0 {
		return 0
	}
	return int((remaining + secondsPerDay - 1) / secondsPerDay)
}

// IsExpiringSoon reports whether an active entitlement has three or fewer days left.
func IsExpiringSoon(entitlement Entitlement, nowUnixUTC int64) bool {
	if !entitlement.IsActiveAt(nowUnixUTC) {
		return false
	}
	return RemainingDays(entitlement, nowUnixUTC) <= expiringSoonDays
}

// SortBySoonestExpiry orders entitlements so the most urgent renewal comes first.
func SortBySoonestExpiry(entitlements []Entitlement) {
	sort.SliceStable(entitlements, func(left, right int) bool {
		if entitlements[left].expiresAtUnixUTC != entitlements[right].expiresAtUnixUTC {
			return entitlements[left].expiresAtUnixUTC < entitlements[right].expiresAtUnixUTC
		}
		return entitlements[left].purchasedUnixUTC < entitlements[right].purchasedUnixUTC
	})
}

// PerkOffer pairs a catalog definition with the store's current grant, if any.
type PerkOffer struct {
	Definition    PerkDefinition
	Active        *Entitlement
	RemainingDays int
	ExpiringSoon  bool
}

// Purchasable reports whether the offer can be bought now.
func (offer PerkOffer) Purchasable() bool {
	return offer.Active == nil
}

// ActivePerks returns the store's active entitlements, soonest expiry first.
func (service *Service) ActivePerks(ctx context.Context, storeID StoreID) ([]Entitlement, error) {
	nowUnixUTC := service.nowFn()
	entitlements, err := service.store.ListActiveEntitlements(ctx, storeID, nowUnixUTC)
	if err != nil {
		return nil, err
	}
	active := make([]Entitlement, 0, len(entitlements))
	for _, entitlement := range entitlements {
		if entitlement.IsActiveAt(nowUnixUTC) {
			active = append(active, entitlement)
		}
	}
	SortBySoonestExpiry(active)
	return active, nil
}

// RemainingDays evaluates RemainingDays against the service clock.
func (service *Service) RemainingDays(entitlement Entitlement) int {
	return RemainingDays(entitlement, service.nowFn())
}

// IsExpiringSoon evaluates IsExpiringSoon against the service clock.
func (service *Service) IsExpiringSoon(entitlement Entitlement) bool {
	return IsExpiringSoon(entitlement, service.nowFn())
}

// PerkOffers returns every catalog perk annotated with the store's active grant.
func (service *Service) PerkOffers(ctx context.Context, storeID StoreID) ([]PerkOffer, error) {
	active, err := service.ActivePerks(ctx, storeID)
	if err != nil {
		return nil, err
	}
	nowUnixUTC := service.nowFn()
	byPerk := make(map[PerkType]Entitlement, len(active))
	for _, entitlement := range active {
		if _, seen := byPerk[entitlement.perkType]; !seen {
			byPerk[entitlement.perkType] = entitlement
		}
	}
	definitions := service.catalog.List()
	offers := make([]PerkOffer, 0, len(definitions))
	for _, definition := range definitions {
		offer := PerkOffer{Definition: definition}
		if entitlement, ok := byPerk[definition.perkType]; ok {
			grant := entitlement
			offer.Active = &grant
			offer.RemainingDays = RemainingDays(grant, nowUnixUTC)
			offer.ExpiringSoon = IsExpiringSoon(grant, nowUnixUTC)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

// PerkHistory lists every entitlement of the store, newest first.
func (service *Service) PerkHistory(ctx context.Context, storeID StoreID, limit int) ([]Entitlement, error) {
	return service.store.ListEntitlements(ctx, storeID, limit)
}
