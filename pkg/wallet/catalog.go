package wallet

import (
	"fmt"
	"sort"
	"strings"
)

// PerkType is the catalog key of a purchasable store upgrade.
type PerkType struct {
	value string
}

// NewPerkType validates and normalizes a perk type.
func NewPerkType(raw string) (PerkType, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return PerkType{}, fmt.Errorf("%w: empty value", ErrInvalidPerkType)
	}
	return PerkType{value: trimmed}, nil
}

// String returns the normalized perk type.
func (perkType PerkType) String() string {
	return perkType.value
}

// DurationKind distinguishes fixed from randomized perk durations.
type DurationKind string

const (
	DurationFixed DurationKind = "fixed"
	DurationSpin  DurationKind = "spin"
)

// String returns the kind name.
func (kind DurationKind) String() string {
	return string(kind)
}

// DurationPolicy is Fixed(days) or Spin(minDays, maxDays).
type DurationPolicy struct {
	kind      DurationKind
	fixedDays int
	minDays   int
	maxDays   int
}

// NewFixedDuration returns a policy granting exactly days.
func NewFixedDuration(days int) (DurationPolicy, error) {
	if days <= 0 {
		return DurationPolicy{}, fmt.Errorf("%w: fixed days must be greater than zero", ErrInvalidDurationPolicy)
	}
	return DurationPolicy{kind: DurationFixed, fixedDays: days}, nil
}

// NewSpinDuration returns a policy drawing a duration between minDays and maxDays.
func NewSpinDuration(minDays int, maxDays int) (DurationPolicy, error) {
	if minDays <= 0 {
		return DurationPolicy{}, fmt.Errorf("%w: min days must be greater than zero", ErrInvalidDurationPolicy)
	}
	if maxDays < minDays {
		return DurationPolicy{}, fmt.Errorf("%w: max days %d below min days %d", ErrInvalidDurationPolicy, maxDays, minDays)
	}
	return DurationPolicy{kind: DurationSpin, minDays: minDays, maxDays: maxDays}, nil
}

// Kind returns the policy kind.
func (policy DurationPolicy) Kind() DurationKind { return policy.kind }

// FixedDays returns the granted days of a fixed policy.
func (policy DurationPolicy) FixedDays() int { return policy.fixedDays }

// MinDays returns the configured lower bound of a spin policy.
func (policy DurationPolicy) MinDays() int { return policy.minDays }

// MaxDays returns the upper bound of a spin policy.
func (policy DurationPolicy) MaxDays() int { return policy.maxDays }

// FloorDays returns the guaranteed minimum duration.
func (policy DurationPolicy) FloorDays() int {
	if policy.kind == DurationFixed {
		return policy.fixedDays
	}
	return SpinFloorDays(policy.minDays, policy.maxDays)
}

// PerkDefinition is static catalog data for one perk.
type PerkDefinition struct {
	perkType PerkType
	title    string
	price    PositiveAmountCents
	duration DurationPolicy
	features []string
}

// NewPerkDefinition validates a catalog entry.
func NewPerkDefinition(perkType PerkType, title string, price PositiveAmountCents, duration DurationPolicy, features []string) (PerkDefinition, error) {
	if perkType.String() == "" {
		return PerkDefinition{}, fmt.Errorf("%w: empty value", ErrInvalidPerkType)
	}
	if price <= 0 {
		return PerkDefinition{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidPerkDefinition)
	}
	if duration.kind != DurationFixed && duration.kind != DurationSpin {
		return PerkDefinition{}, fmt.Errorf("%w: missing duration policy", ErrInvalidPerkDefinition)
	}
	normalizedTitle := strings.TrimSpace(title)
	if normalizedTitle == "" {
		normalizedTitle = perkType.String()
	}
	return PerkDefinition{
		perkType: perkType,
		title:    normalizedTitle,
		price:    price,
		duration: duration,
		features: append([]string(nil), features...),
	}, nil
}

// PerkType returns the catalog key.
func (definition PerkDefinition) PerkType() PerkType { return definition.perkType }

// Title returns the display title.
func (definition PerkDefinition) Title() string { return definition.title }

// Price returns the purchase price.
func (definition PerkDefinition) Price() PositiveAmountCents { return definition.price }

// Duration returns the duration policy.
func (definition PerkDefinition) Duration() DurationPolicy { return definition.duration }

// Features returns a copy of the feature set.
func (definition PerkDefinition) Features() []string {
	return append([]string(nil), definition.features...)
}

// Catalog is the immutable set of purchasable perks.
type Catalog struct {
	definitions map[PerkType]PerkDefinition
}

// NewCatalog builds a catalog, rejecting duplicate perk types.
func NewCatalog(definitions ...PerkDefinition) (*Catalog, error) {
	catalog := &Catalog{definitions: make(map[PerkType]PerkDefinition, len(definitions))}
	for _, definition := range definitions {
		if definition.perkType.String() == "" {
			return nil, fmt.Errorf("%w: empty perk type", ErrInvalidPerkDefinition)
		}
		if _, exists := catalog.definitions[definition.perkType]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePerkType, definition.perkType.String())
		}
		catalog.definitions[definition.perkType] = definition
	}
	return catalog, nil
}

// Lookup returns the definition for perkType.
func (catalog *Catalog) Lookup(perkType PerkType) (PerkDefinition, error) {
	definition, ok := catalog.definitions[perkType]
	if !ok {
		return PerkDefinition{}, fmt.Errorf("%w: %q", ErrCatalogLookupFailed, perkType.String())
	}
	return definition, nil
}

// List returns all definitions ordered by price, then key.
func (catalog *Catalog) List() []PerkDefinition {
	definitions := make([]PerkDefinition, 0, len(catalog.definitions))
	for _, definition := range catalog.definitions {
		definitions = append(definitions, definition)
	}
	sort.Slice(definitions, func(left, right int) bool {
		if definitions[left].price != definitions[right].price {
			return definitions[left].price < definitions[right].price
		}
		return definitions[left].perkType.String() < definitions[right].perkType.String()
	})
	return definitions
}

// Len returns the number of definitions.
func (catalog *Catalog) Len() int {
	return len(catalog.definitions)
}

type defaultPerk struct {
	perkType string
	title    string
	price    int64
	fixed    int
	minDays  int
	maxDays  int
	features []string
}

var defaultPerks = []defaultPerk{
	{perkType: "verified_badge", title: "Verified Badge", price: 7500, fixed: 30, features: []string{"verified_badge"}},
	{perkType: "featured_listing", title: "Featured Listing", price: 15000, fixed: 7, features: []string{"homepage_slot", "category_pin"}},
	{perkType: "mystery_boost", title: "Mystery Boost", price: 20000, minDays: 3, maxDays: 30, features: []string{"search_boost"}},
	{perkType: "priority_search", title: "Priority Search", price: 30000, fixed: 30, features: []string{"search_boost", "priority_support"}},
	{perkType: "lucky_spotlight", title: "Lucky Spotlight", price: 50000, minDays: 30, maxDays: 100, features: []string{"homepage_slot", "search_boost", "store_banner"}},
}

// DefaultCatalog returns the built-in perk catalog.
func DefaultCatalog() *Catalog {
	definitions := make([]PerkDefinition, 0, len(defaultPerks))
	for _, perk := range defaultPerks {
		perkType, err := NewPerkType(perk.perkType)
		if err != nil {
			panic(err)
		}
		price, err := NewPositiveAmountCents(perk.price)
		if err != nil {
			panic(err)
		}
		var duration DurationPolicy
		if perk.fixed > 0 {
			duration, err = NewFixedDuration(perk.fixed)
		} else {
			duration, err = NewSpinDuration(perk.minDays, perk.maxDays)
		}
		if err != nil {
			panic(err)
		}
		definition, err := NewPerkDefinition(perkType, perk.title, price, duration, perk.features)
		if err != nil {
			panic(err)
		}
		definitions = append(definitions, definition)
	}
	catalog, err := NewCatalog(definitions...)
	if err != nil {
		panic(err)
	}
	return catalog
}
