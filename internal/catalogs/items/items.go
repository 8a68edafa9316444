// Package items defines the purchasable items catalog. Unlike incidents and
// weather, an item that stops being eligible is switched off so it cannot be
// sold by a stale price list.
package items

import (
	"slices"
	"strings"

	"tradepost/internal/catalogs"
	"tradepost/internal/core"
	"tradepost/pkg/domain"
)

// ID names the catalog and its document.
const ID = "items"

var (
	// excludedCategories are never offered.
	excludedCategories = []string{"corpse", "building", "unfinished"}
	// restrictedCategories are offered but start disabled.
	restrictedCategories = []string{"drug", "artifact"}
)

// Descriptor is one thing def as the game reports it.
type Descriptor struct {
	DefName     string  `json:"def_name" yaml:"def_name" toml:"def_name"`
	Label       string  `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Category    string  `json:"category" yaml:"category" toml:"category"`
	MarketValue float64 `json:"market_value" yaml:"market_value" toml:"market_value"`
	TechLevel   string  `json:"tech_level,omitempty" yaml:"tech_level,omitempty" toml:"tech_level,omitempty"`
	Tradeable   bool    `json:"tradeable" yaml:"tradeable" toml:"tradeable"`
	Stackable   bool    `json:"stackable,omitempty" yaml:"stackable,omitempty" toml:"stackable,omitempty"`
	Mod         string  `json:"mod,omitempty" yaml:"mod,omitempty" toml:"mod,omitempty"`
}

// User holds the operator-owned settings of an item. A zero Price means the
// base value applies.
type User struct {
	Enabled          bool   `json:"enabled"`
	CustomName       string `json:"customName,omitempty"`
	Price            int    `json:"price"`
	QuantityLimit    int    `json:"quantityLimit,omitempty"`
	HasQuantityLimit bool   `json:"hasQuantityLimit,omitempty"`
	DisabledReason   string `json:"disabledReason,omitempty"`
}

// Derived holds what is recomputed from the descriptor on every pass.
type Derived struct {
	Label     string `json:"label"`
	Category  string `json:"category"`
	BaseValue int    `json:"baseValue"`
	TechLevel string `json:"techLevel,omitempty"`
	Stackable bool   `json:"stackable,omitempty"`
	Mod       string `json:"mod,omitempty"`
}

// Definition binds items to the engine.
func Definition() domain.Definition[Descriptor, User, Derived] {
	return domain.Definition[Descriptor, User, Derived]{
		ID:           ID,
		Key:          func(d Descriptor) string { return d.DefName },
		Derive:       Derive,
		OnIneligible: Disable,
		ValidateUser: ValidateUser,
	}
}

// Derive computes derived fields, defaults and eligibility for d.
func Derive(d Descriptor) (domain.Derivation[User, Derived], error) {
	category := strings.ToLower(strings.TrimSpace(d.Category))
	if err := catalogs.Finite("market value", d.MarketValue); err != nil {
		return domain.Derivation[User, Derived]{}, err
	}
	base := 0
	if d.MarketValue > 0 {
		v, err := catalogs.Amount("market value", d.MarketValue)
		if err != nil {
			return domain.Derivation[User, Derived]{}, err
		}
		base = v
	}
	out := domain.Derivation[User, Derived]{
		Derived: Derived{
			Label:     catalogs.Label(d.Label, d.DefName),
			Category:  category,
			BaseValue: base,
			TechLevel: d.TechLevel,
			Stackable: d.Stackable,
			Mod:       d.Mod,
		},
		Defaults: User{
			Enabled: base >= 1 && !slices.Contains(restrictedCategories, category),
			Price:   base,
		},
		Eligible: true,
	}
	switch {
	case !d.Tradeable:
		out.Eligible, out.Reason = false, "not tradeable"
	case !(d.MarketValue > 0):
		out.Eligible, out.Reason = false, "no market value"
	case slices.Contains(excludedCategories, category):
		out.Eligible, out.Reason = false, "category "+category+" cannot be sold"
	}
	return out, nil
}

// Disable switches an item off when it loses eligibility and records why.
func Disable(u *User, reason string) bool {
	if !u.Enabled && u.DisabledReason == reason {
		return false
	}
	u.Enabled = false
	u.DisabledReason = reason
	return true
}

// ValidateUser rejects negative prices and quantity limits.
func ValidateUser(u User) error {
	if err := catalogs.NonNegative("price", u.Price); err != nil {
		return err
	}
	return catalogs.NonNegative("quantityLimit", u.QuantityLimit)
}

// Price returns what an entry sells for: the override when set, else the base value.
func Price(e domain.Entry[User, Derived]) int {
	if e.User.Price > 0 {
		return e.User.Price
	}
	return e.Derived.BaseValue
}

// New wires the items catalog.
func New(source domain.Source[Descriptor], gateway *core.Gateway, scheduler *core.SaveScheduler, opts ...core.Option) (*core.Catalog[Descriptor, User, Derived], error) {
	return core.NewCatalog(Definition(), source, gateway, scheduler, opts...)
}
