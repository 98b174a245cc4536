// Package catalog provides the static tier catalog consulted for selection
// capacity and report pricing. The catalog is read-only configuration: the
// session layer looks tiers up, it never mutates them.
package catalog

import (
	"fmt"
	"sort"
)

// Tier describes the capabilities of one subscription tier.
type Tier struct {
	// Name is the tier identifier used in lookups, e.g. "basic".
	Name string

	// Label is the human-readable tier name shown by renderers.
	Label string

	// MaxSelectedSources is the selection capacity limit for this tier.
	MaxSelectedSources int

	// PricePerSource is the per-source report price component, when the
	// tier prices per unit.
	PricePerSource float64

	// FlatReportPrice is the flat report price, when the tier prices flat.
	// A tier uses either per-source or flat pricing, not both.
	FlatReportPrice float64
}

// Catalog is an immutable tier lookup table.
type Catalog struct {
	tiers           map[string]Tier
	mostRestrictive Tier
}

// New builds a catalog from tier definitions. At least one tier is required
// and every tier needs a name and a positive selection capacity; an unbounded
// tier cannot be expressed.
func New(tiers []Tier) (*Catalog, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("at least one tier is required")
	}

	byName := make(map[string]Tier, len(tiers))
	for _, tier := range tiers {
		if tier.Name == "" {
			return nil, fmt.Errorf("tier name is required")
		}
		if tier.MaxSelectedSources <= 0 {
			return nil, fmt.Errorf("tier %s: max selected sources must be positive", tier.Name)
		}
		if _, exists := byName[tier.Name]; exists {
			return nil, fmt.Errorf("duplicate tier: %s", tier.Name)
		}
		byName[tier.Name] = tier
	}

	most := tiers[0]
	for _, tier := range tiers[1:] {
		if tier.MaxSelectedSources < most.MaxSelectedSources {
			most = tier
		}
	}

	return &Catalog{
		tiers:           byName,
		mostRestrictive: most,
	}, nil
}

// Default returns the built-in tier catalog used when no tiers are configured.
func Default() *Catalog {
	c, err := New([]Tier{
		{Name: "free", Label: "Free", MaxSelectedSources: 1, PricePerSource: 0},
		{Name: "basic", Label: "Basic", MaxSelectedSources: 3, PricePerSource: 1.50},
		{Name: "premium", Label: "Premium", MaxSelectedSources: 10, PricePerSource: 1.00},
		{Name: "enterprise", Label: "Enterprise", MaxSelectedSources: 25, FlatReportPrice: 20.00},
	})
	if err != nil {
		// The built-in definitions are static; a failure here is a
		// programming error.
		panic(err)
	}
	return c
}

// Lookup returns the tier with the given name.
func (c *Catalog) Lookup(name string) (Tier, bool) {
	tier, ok := c.tiers[name]
	return tier, ok
}

// MostRestrictive returns the tier with the smallest selection capacity. It
// is the fallback for unset or unrecognized tier identifiers, so capacity
// checks are never unbounded.
func (c *Catalog) MostRestrictive() Tier {
	return c.mostRestrictive
}

// Tiers returns all tiers ordered by ascending selection capacity.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, 0, len(c.tiers))
	for _, tier := range c.tiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaxSelectedSources != out[j].MaxSelectedSources {
			return out[i].MaxSelectedSources < out[j].MaxSelectedSources
		}
		return out[i].Name < out[j].Name
	})
	return out
}
