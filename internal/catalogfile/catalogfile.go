// Package catalogfile loads a perk catalog from a YAML, JSON or TOML file.
//
// Example:
//
//	perks:
//	  - type: verified_badge
//	    title: Verified Badge
//	    price_cents: 7500
//	    duration_days: 30
//	    features: [verified_badge]
//	  - type: mystery_boost
//	    title: Mystery Boost
//	    price_cents: 20000
//	    spin: {min_days: 3, max_days: 30}
package catalogfile

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/spf13/viper"
)

const perksKey = "perks"

var ErrInvalidCatalogFile = errors.New("invalid catalog file")

type perkRecord struct {
	Type         string     `mapstructure:"type"`
	Title        string     `mapstructure:"title"`
	PriceCents   int64      `mapstructure:"price_cents"`
	DurationDays int        `mapstructure:"duration_days"`
	Spin         spinRecord `mapstructure:"spin"`
	Features     []string   `mapstructure:"features"`
}

type spinRecord struct {
	MinDays int `mapstructure:"min_days"`
	MaxDays int `mapstructure:"max_days"`
}

// Load reads the catalog at path. The format follows the file extension.
func Load(path string) (*wallet.Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidCatalogFile, path, err)
	}
	return decode(v)
}

// Read parses a catalog document of the given format ("yaml", "json", "toml").
func Read(reader io.Reader, format string) (*wallet.Catalog, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(reader); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrInvalidCatalogFile, err)
	}
	return decode(v)
}

// LoadOrDefault returns wallet.DefaultCatalog when path is empty.
func LoadOrDefault(path string) (*wallet.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return wallet.DefaultCatalog(), nil
	}
	return Load(path)
}

func decode(v *viper.Viper) (*wallet.Catalog, error) {
	var records []perkRecord
	if err := v.UnmarshalKey(perksKey, &records); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidCatalogFile, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no perks defined", ErrInvalidCatalogFile)
	}
	definitions := make([]wallet.PerkDefinition, 0, len(records))
	for index, record := range records {
		definition, err := record.definition()
		if err != nil {
			return nil, fmt.Errorf("%w: perk %d (%s): %w", ErrInvalidCatalogFile, index, record.Type, err)
		}
		definitions = append(definitions, definition)
	}
	catalog, err := wallet.NewCatalog(definitions...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalogFile, err)
	}
	return catalog, nil
}

func (record perkRecord) definition() (wallet.PerkDefinition, error) {
	perkType, err := wallet.NewPerkType(record.Type)
	if err != nil {
		return wallet.PerkDefinition{}, err
	}
	price, err := wallet.NewPositiveAmountCents(record.PriceCents)
	if err != nil {
		return wallet.PerkDefinition{}, err
	}
	hasSpin := record.Spin.MinDays != 0 || record.Spin.MaxDays != 0
	var duration wallet.DurationPolicy
	switch {
	case hasSpin && record.DurationDays != 0:
		return wallet.PerkDefinition{}, fmt.Errorf("%w: set either duration_days or spin", wallet.ErrInvalidDurationPolicy)
	case hasSpin:
		duration, err = wallet.NewSpinDuration(record.Spin.MinDays, record.Spin.MaxDays)
	default:
		duration, err = wallet.NewFixedDuration(record.DurationDays)
	}
	if err != nil {
		return wallet.PerkDefinition{}, err
	}
	return wallet.NewPerkDefinition(perkType, record.Title, price, duration, record.Features)
}
