// Package policy implements the selection policy: pure capacity and pricing
// rules with no IO and no stored state. Callers pass in the tier context and
// the current selections; the policy never reaches into session state itself.
package policy

import (
	"github.com/helixir/research-session-service/internal/catalog"
	"github.com/helixir/research-session-service/internal/domain"
)

// CanSelect reports whether one more source may be selected under the given
// tier context. Capacity violations are policy outcomes, not errors.
func CanSelect(tierCtx domain.TierSelectionContext, currentCount int) bool {
	return currentCount < tierCtx.MaxSelectedSources
}

// SourceTotal returns the price contribution of a single selected source:
// the unlock price when present, else the plain price, else zero.
func SourceTotal(src domain.SelectedSource) float64 {
	if src.UnlockPrice != nil {
		return *src.UnlockPrice
	}
	if src.Price != nil {
		return *src.Price
	}
	return 0
}

// SourcesTotal returns the price total across all selected sources. Sources
// with no pricing information contribute zero rather than failing the total.
func SourcesTotal(srcs []domain.SelectedSource) float64 {
	var total float64
	for _, src := range srcs {
		total += SourceTotal(src)
	}
	return total
}

// ResolveTier builds the ephemeral tier selection context for a stated tier
// identifier. An unset identifier resolves to the catalog's most restrictive
// tier; an unrecognized one does the same but is flagged Unknown so the
// caller records a warning. The fallback is never unbounded.
func ResolveTier(cat *catalog.Catalog, stated string) domain.TierSelectionContext {
	if stated == "" {
		tier := cat.MostRestrictive()
		return domain.TierSelectionContext{
			Tier:               tier.Name,
			MaxSelectedSources: tier.MaxSelectedSources,
		}
	}

	if tier, ok := cat.Lookup(stated); ok {
		return domain.TierSelectionContext{
			Tier:               tier.Name,
			MaxSelectedSources: tier.MaxSelectedSources,
		}
	}

	tier := cat.MostRestrictive()
	return domain.TierSelectionContext{
		Tier:               tier.Name,
		MaxSelectedSources: tier.MaxSelectedSources,
		Unknown:            true,
	}
}

// ReportPrice quotes a report for the given selections under a tier: the flat
// report price when the tier defines one, else the per-source price times the
// selection count, plus unlock charges for gated sources.
func ReportPrice(tier catalog.Tier, srcs []domain.SelectedSource) float64 {
	var unlocks float64
	for _, src := range srcs {
		if src.UnlockPrice != nil {
			unlocks += *src.UnlockPrice
		}
	}

	if tier.FlatReportPrice > 0 {
		return tier.FlatReportPrice + unlocks
	}
	return tier.PricePerSource*float64(len(srcs)) + unlocks
}
