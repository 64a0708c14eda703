package allocation

import (
	"fmt"
	"math"
)

// ApplyOverrides recomputes only what a manual edit touches: the overridden
// (production, consumption) pairs and the BANKING/LAPSE remainder of their
// production sites. Every other row of previous is carried over unchanged.
// The returned overrides are the previous ones merged with the accepted edits,
// each holding the value actually booked, so a full Calculate over them
// reproduces the incremental result.
func (c *Calculator) ApplyOverrides(previous Result, in Input, edits ManualAllocations) (Result, ManualAllocations) {
	merged := in.ManualAllocations.Merge(nil)
	out := Result{
		Month:       previous.Month,
		Allocations: append([]Allocation(nil), previous.Allocations...),
	}
	if out.Month == "" {
		out.Month = in.Month
	}
	if len(edits) == 0 {
		out.Balances = append([]BankingBalance(nil), previous.Balances...)
		return out, merged
	}

	production, _ := monthProduction(in)
	units := make(map[string]ProductionUnit, len(production))
	for _, pu := range production {
		units[pu.ProductionSiteID] = pu
	}

	touched := make(map[string]bool)
	var touchedOrder []string
	for _, pair := range edits.Pairs() {
		pu, ok := units[pair.ProductionSiteID]
		if !ok || !c.resolver.CanSee(pair.ProductionSiteID, SiteTypeProduction) {
			out.Warnings = append(out.Warnings, Warning{
				Code:              WarnOverrideUnknownSite,
				ProductionSiteID:  pair.ProductionSiteID,
				ConsumptionSiteID: pair.ConsumptionSiteID,
				Message:           "override references a production site without units this month",
			})
			continue
		}
		if !c.resolver.CanSee(pair.ConsumptionSiteID, SiteTypeConsumption) {
			out.Warnings = append(out.Warnings, Warning{
				Code:              WarnOverrideUnknownSite,
				ProductionSiteID:  pair.ProductionSiteID,
				ConsumptionSiteID: pair.ConsumptionSiteID,
				Message:           "override references a consumption site outside the caller's access",
			})
			continue
		}
		booked, warnings := applyPairEdit(&out, pu, pair.ConsumptionSiteID, edits)
		out.Warnings = append(out.Warnings, warnings...)
		for key, value := range booked {
			merged[key] = value
		}
		if !touched[pu.ProductionSiteID] {
			touched[pu.ProductionSiteID] = true
			touchedOrder = append(touchedOrder, pu.ProductionSiteID)
		}
	}
	for _, prodID := range touchedOrder {
		rebuildRemainder(&out, units[prodID])
	}
	out.Balances = mergeBalances(previous.Balances, bankingBalances(out.Allocations, in.BankingUnits, out.Month), touched)
	return out, merged
}

// ApplyOverrides is the package-level form of Calculator.ApplyOverrides.
func ApplyOverrides(previous Result, in Input, edits ManualAllocations, access SiteAccess) (Result, ManualAllocations) {
	return NewCalculator(access).ApplyOverrides(previous, in, edits)
}

// applyPairEdit books the edited periods of one pair, each clamped to what
// the pair's other rows leave, and returns the booked cells.
func applyPairEdit(out *Result, pu ProductionUnit, consID string, edits ManualAllocations) (ManualAllocations, []Warning) {
	var warnings []Warning
	booked := make(ManualAllocations)
	idx := -1
	for i, a := range out.Allocations {
		if a.Type == TypeAllocation && a.ProductionSiteID == pu.ProductionSiteID && a.ConsumptionSiteID == consID {
			idx = i
			break
		}
	}

	var row Allocation
	if idx >= 0 {
		row = out.Allocations[idx]
		row.Version++
	} else {
		row = Allocation{
			CompanyID:         pu.CompanyID,
			ProductionSiteID:  pu.ProductionSiteID,
			ConsumptionSiteID: consID,
			Month:             out.Month,
			Type:              TypeAllocation,
			Version:           1,
		}
	}
	if row.Version < 1 {
		row.Version = 1
	}

	for _, p := range AllPeriods {
		v, ok := edits.Lookup(pu.ProductionSiteID, consID, p)
		if !ok {
			continue
		}
		others := 0.0
		for i, a := range out.Allocations {
			if i == idx || a.Type != TypeAllocation || a.ProductionSiteID != pu.ProductionSiteID {
				continue
			}
			others += a.Allocated.Get(p)
		}
		limit := clampUnit(pu.Units.Get(p) - others)
		v = clampUnit(v)
		give := math.Min(v, limit)
		if give < v {
			warnings = append(warnings, Warning{
				Code:              WarnOverrideClamped,
				ProductionSiteID:  pu.ProductionSiteID,
				ConsumptionSiteID: consID,
				Message:           fmt.Sprintf("override %s %.2f clamped to %.2f", p, v, give),
			})
		}
		row.Allocated.Set(p, give)
		booked[ManualKey{ProductionSiteID: pu.ProductionSiteID, ConsumptionSiteID: consID, Period: p}] = give
	}
	row.Allocated = row.Allocated.ClampNonNegative()
	if row.Allocated.IsZero() {
		row.Allocated = Units{}
	}
	row.Manual = true

	if idx >= 0 {
		out.Allocations[idx] = row
		return booked, warnings
	}
	insertBeforeRemainder(out, row)
	return booked, warnings
}

// insertBeforeRemainder keeps a production site's rows contiguous with its
// remainder row last.
func insertBeforeRemainder(out *Result, row Allocation) {
	for i, a := range out.Allocations {
		if a.ProductionSiteID == row.ProductionSiteID && a.Type.IsRemainder() {
			out.Allocations = append(out.Allocations, Allocation{})
			copy(out.Allocations[i+1:], out.Allocations[i:])
			out.Allocations[i] = row
			return
		}
	}
	out.Allocations = append(out.Allocations, row)
}

func rebuildRemainder(out *Result, pu ProductionUnit) {
	var used Units
	idx := -1
	for i, a := range out.Allocations {
		if a.ProductionSiteID != pu.ProductionSiteID {
			continue
		}
		if a.Type == TypeAllocation {
			used = used.Add(a.Allocated)
			continue
		}
		if a.Type.IsRemainder() && idx < 0 {
			idx = i
		}
	}
	next := remainderRow(pu, out.Month, pu.Units.Sub(used))
	if idx < 0 {
		out.Allocations = append(out.Allocations, next)
		return
	}
	prev := out.Allocations[idx]
	next.Version = prev.Version
	next.CreatedAt = prev.CreatedAt
	next.UpdatedAt = prev.UpdatedAt
	if prev.Allocated != next.Allocated || prev.Type != next.Type {
		next.Version = prev.Version + 1
	}
	if next.Version < 1 {
		next.Version = 1
	}
	out.Allocations[idx] = next
}

func mergeBalances(previous, recomputed []BankingBalance, touched map[string]bool) []BankingBalance {
	fresh := make(map[string]BankingBalance, len(recomputed))
	for _, b := range recomputed {
		fresh[b.ProductionSiteID] = b
	}
	var out []BankingBalance
	done := make(map[string]bool)
	for _, b := range previous {
		if touched[b.ProductionSiteID] {
			if nb, ok := fresh[b.ProductionSiteID]; ok {
				out = append(out, nb)
			}
			done[b.ProductionSiteID] = true
			continue
		}
		out = append(out, b)
	}
	for _, b := range recomputed {
		if touched[b.ProductionSiteID] && !done[b.ProductionSiteID] {
			out = append(out, b)
		}
	}
	return out
}
