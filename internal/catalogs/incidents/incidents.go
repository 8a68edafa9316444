// Package incidents defines the purchasable incidents catalog.
package incidents

import (
	"fmt"
	"math"
	"strings"

	"tradepost/internal/catalogs"
	"tradepost/internal/core"
	"tradepost/pkg/domain"
)

// ID names the catalog and its document.
const ID = "incidents"

// Karma values.
const (
	KarmaGood    = "good"
	KarmaNeutral = "neutral"
	KarmaBad     = "bad"
	KarmaDoom    = "doom"
)

var categoryKarma = map[string]string{
	"threat_big":   KarmaDoom,
	"threat_small": KarmaBad,
	"disease":      KarmaBad,
	"misc":         KarmaNeutral,
	"ship_chunk":   KarmaGood,
	"special":      KarmaNeutral,
}

var karmaPriceFactor = map[string]float64{
	KarmaGood:    1.5,
	KarmaNeutral: 1,
	KarmaBad:     2,
	KarmaDoom:    4,
}

// DefaultEventCap limits how often one incident can be bought per window.
const DefaultEventCap = 2

// MaxBaseChance bounds base chances so derived prices stay within int32.
const MaxBaseChance = 1e6

// Descriptor is one incident as the game reports it.
type Descriptor struct {
	DefName         string  `json:"def_name" yaml:"def_name" toml:"def_name"`
	Label           string  `json:"label,omitempty" yaml:"label,omitempty" toml:"label,omitempty"`
	Category        string  `json:"category" yaml:"category" toml:"category"`
	BaseChance      float64 `json:"base_chance" yaml:"base_chance" toml:"base_chance"`
	PointsScaleable bool    `json:"points_scaleable,omitempty" yaml:"points_scaleable,omitempty" toml:"points_scaleable,omitempty"`
	WorkerClass     string  `json:"worker_class" yaml:"worker_class" toml:"worker_class"`
	Mod             string  `json:"mod,omitempty" yaml:"mod,omitempty" toml:"mod,omitempty"`
}

// User holds the operator-owned settings of an incident.
type User struct {
	Enabled       bool   `json:"enabled"`
	CustomName    string `json:"customName,omitempty"`
	Price         int    `json:"price"`
	KarmaOverride string `json:"karmaOverride,omitempty"`
	EventCap      int    `json:"eventCap"`
}

// Derived holds what is recomputed from the descriptor on every pass.
type Derived struct {
	Label           string  `json:"label"`
	Category        string  `json:"category"`
	Karma           string  `json:"karma"`
	BaseChance      float64 `json:"baseChance"`
	PointsScaleable bool    `json:"pointsScaleable,omitempty"`
	Mod             string  `json:"mod,omitempty"`
}

// Definition binds incidents to the engine. Losing eligibility only flags the
// entry; the operator's enabled switch is left alone.
func Definition() domain.Definition[Descriptor, User, Derived] {
	return domain.Definition[Descriptor, User, Derived]{
		ID:           ID,
		Key:          func(d Descriptor) string { return d.DefName },
		Derive:       Derive,
		ValidateUser: ValidateUser,
	}
}

// Derive computes derived fields, defaults and eligibility for d.
func Derive(d Descriptor) (domain.Derivation[User, Derived], error) {
	category := strings.ToLower(strings.TrimSpace(d.Category))
	karma, ok := categoryKarma[category]
	if !ok {
		return domain.Derivation[User, Derived]{}, fmt.Errorf("unknown incident category %q", d.Category)
	}
	if err := catalogs.Finite("base chance", d.BaseChance); err != nil {
		return domain.Derivation[User, Derived]{}, err
	}
	if d.BaseChance < 0 || d.BaseChance > MaxBaseChance {
		return domain.Derivation[User, Derived]{}, fmt.Errorf("invalid base chance %v", d.BaseChance)
	}
	out := domain.Derivation[User, Derived]{
		Derived: Derived{
			Label:           catalogs.Label(d.Label, d.DefName),
			Category:        category,
			Karma:           karma,
			BaseChance:      d.BaseChance,
			PointsScaleable: d.PointsScaleable,
			Mod:             d.Mod,
		},
		Defaults: User{
			Enabled:  karma != KarmaDoom,
			Price:    DefaultPrice(d.BaseChance, karma),
			EventCap: DefaultEventCap,
		},
		Eligible: true,
	}
	switch {
	case strings.TrimSpace(d.WorkerClass) == "":
		out.Eligible, out.Reason = false, "no worker class"
	case category == "special":
		out.Eligible, out.Reason = false, "special incidents cannot be purchased"
	}
	return out, nil
}

// DefaultPrice scales a base price of 100 coins per unit of base chance by
// the karma factor. Rare incidents cost at least 10 coins before scaling.
func DefaultPrice(baseChance float64, karma string) int {
	factor, ok := karmaPriceFactor[karma]
	if !ok {
		factor = 1
	}
	return catalogs.Round(math.Max(baseChance, 0.1) * 100 * factor)
}

// ValidateUser rejects negative prices and caps and unknown karma overrides.
func ValidateUser(u User) error {
	if err := catalogs.NonNegative("price", u.Price); err != nil {
		return err
	}
	if err := catalogs.NonNegative("eventCap", u.EventCap); err != nil {
		return err
	}
	if u.KarmaOverride != "" {
		if _, ok := karmaPriceFactor[u.KarmaOverride]; !ok {
			return fmt.Errorf("unknown karma override %q", u.KarmaOverride)
		}
	}
	return nil
}

// Karma returns the karma an entry is sold with, honouring the override.
func Karma(e domain.Entry[User, Derived]) string {
	if e.User.KarmaOverride != "" {
		return e.User.KarmaOverride
	}
	return e.Derived.Karma
}

// New wires the incidents catalog.
func New(source domain.Source[Descriptor], gateway *core.Gateway, scheduler *core.SaveScheduler, opts ...core.Option) (*core.Catalog[Descriptor, User, Derived], error) {
	return core.NewCatalog(Definition(), source, gateway, scheduler, opts...)
}
