// Package weather defines the purchasable weather catalog.
package weather

import (
	"fmt"
	"strings"

	"tradepost/internal/catalogs"
	"tradepost/internal/core"
	"tradepost/pkg/domain"
)

// ID names the catalog and its document.
const ID = "weather"

// Favorability values, best first.
const (
	VeryGood = "very_good"
	Good     = "good"
	Neutral  = "neutral"
	Bad      = "bad"
	VeryBad  = "very_bad"
)

type rating struct {
	karma string
	price int
}

var ratings = map[string]rating{
	VeryGood: {karma: "good", price: 400},
	Good:     {karma: "good", price: 250},
	Neutral:  {karma: "neutral", price: 150},
	Bad:      {karma: "bad", price: 300},
	VeryBad:  {karma: "bad", price: 500},
}

// Descriptor is one weather def as the game reports it.
type Descriptor struct {
	DefName      string `json:"def_name" yaml:"def_name" toml:"def_name"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Favorability string `json:"favorability,omitempty" yaml:"favorability,omitempty" toml:"favorability,omitempty"`
	IsBadWeather bool   `json:"is_bad_weather,omitempty" yaml:"is_bad_weather,omitempty" toml:"is_bad_weather,omitempty"`
	Repeat       bool   `json:"repeat,omitempty" yaml:"repeat,omitempty" toml:"repeat,omitempty"`
	Mod          string `json:"mod,omitempty" yaml:"mod,omitempty" toml:"mod,omitempty"`
	EventOnly    bool   `json:"event_only,omitempty" yaml:"event_only,omitempty" toml:"event_only,omitempty"`
}

// User holds the operator-owned settings of a weather entry.
type User struct {
	Enabled    bool   `json:"enabled"`
	CustomName string `json:"customName,omitempty"`
	Price      int    `json:"price"`
}

// Derived holds what is recomputed from the descriptor on every pass.
type Derived struct {
	Label        string `json:"label"`
	Favorability string `json:"favorability"`
	Karma        string `json:"karma"`
	Mod          string `json:"mod,omitempty"`
}

// Definition binds weather to the engine.
func Definition() domain.Definition[Descriptor, User, Derived] {
	return domain.Definition[Descriptor, User, Derived]{
		ID:           ID,
		Key:          func(d Descriptor) string { return d.DefName },
		Derive:       Derive,
		ValidateUser: func(u User) error { return catalogs.NonNegative("price", u.Price) },
	}
}

// Favorability normalizes the descriptor's rating. Weather without one is
// rated from the bad-weather flag.
func Favorability(d Descriptor) string {
	if f := strings.ToLower(strings.TrimSpace(d.Favorability)); f != "" {
		return f
	}
	if d.IsBadWeather {
		return Bad
	}
	return Neutral
}

// Derive computes derived fields, defaults and eligibility for d.
func Derive(d Descriptor) (domain.Derivation[User, Derived], error) {
	fav := Favorability(d)
	r, ok := ratings[fav]
	if !ok {
		return domain.Derivation[User, Derived]{}, fmt.Errorf("unknown favorability %q", d.Favorability)
	}
	out := domain.Derivation[User, Derived]{
		Derived: Derived{
			Label:        catalogs.Label(d.Label, d.DefName),
			Favorability: fav,
			Karma:        r.karma,
			Mod:          d.Mod,
		},
		Defaults: User{Enabled: true, Price: r.price},
		Eligible: !d.EventOnly,
	}
	if d.EventOnly {
		out.Reason = "event-only weather cannot be purchased"
	}
	return out, nil
}

// New wires the weather catalog.
func New(source domain.Source[Descriptor], gateway *core.Gateway, scheduler *core.SaveScheduler, opts ...core.Option) (*core.Catalog[Descriptor, User, Derived], error) {
	return core.NewCatalog(Definition(), source, gateway, scheduler, opts...)
}
