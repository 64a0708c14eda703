package allocation

import (
	"fmt"
	"math"
	"sort"
)

// Calculator computes a month's allocation decisions. It is pure: the same
// Input always produces the same Result.
type Calculator struct {
	resolver Resolver
}

// NewCalculator binds the caller's site access. A nil access grants all sites.
func NewCalculator(access SiteAccess) *Calculator {
	return &Calculator{resolver: NewResolver(access)}
}

// Calculate runs a full calculation pass with the given access.
func Calculate(in Input, access SiteAccess) Result {
	return NewCalculator(access).Calculate(in)
}

// Calculate distributes every production site's units over its eligible
// consumption sites, period by period, and books the remainder as BANKING or
// LAPSE. Missing inputs degrade to an empty result with warnings.
func (c *Calculator) Calculate(in Input) Result {
	result := Result{Month: in.Month, Allocations: []Allocation{}}

	production, warnings := monthProduction(in)
	result.Warnings = append(result.Warnings, warnings...)
	consumption, warnings := monthConsumption(in)
	result.Warnings = append(result.Warnings, warnings...)

	switch {
	case len(production) == 0:
		result.Warnings = append(result.Warnings, Warning{Code: WarnNoProduction, Message: "no production units for month " + in.Month.String()})
		return result
	case len(consumption) == 0:
		result.Warnings = append(result.Warnings, Warning{Code: WarnNoConsumption, Message: "no consumption units for month " + in.Month.String()})
		return result
	case len(in.Shareholdings) == 0:
		result.Warnings = append(result.Warnings, Warning{Code: WarnNoShareholdings, Message: "no shareholdings available"})
		return result
	}

	demand := make(map[string]Units, len(consumption))
	for _, cu := range consumption {
		demand[cu.ConsumptionSiteID] = cu.Units.ClampNonNegative()
	}
	result.Warnings = append(result.Warnings, unknownOverrideWarnings(in.ManualAllocations, production, demand)...)

	locked := make(map[string][]Allocation)
	for _, row := range in.Locked {
		if row.Type != TypeAllocation {
			continue
		}
		locked[row.ProductionSiteID] = append(locked[row.ProductionSiteID], row)
		if d, ok := demand[row.ConsumptionSiteID]; ok {
			demand[row.ConsumptionSiteID] = d.Sub(row.Allocated).ClampNonNegative()
		}
	}

	for _, pu := range production {
		if !c.resolver.CanSee(pu.ProductionSiteID, SiteTypeProduction) {
			continue
		}
		rows, warns, ok := c.allocateSite(pu, in, consumption, demand, locked[pu.ProductionSiteID])
		result.Warnings = append(result.Warnings, warns...)
		if !ok {
			continue
		}
		result.Allocations = append(result.Allocations, rows...)
	}
	result.Balances = bankingBalances(result.Allocations, in.BankingUnits, in.Month)
	return result
}

// allocateSite processes one production site. unmet is updated in place so
// later production sites only see the demand still unsatisfied. locked rows
// are deliveries of this site the pass may not change; they reduce what is
// available and the entitlement of their company.
func (c *Calculator) allocateSite(pu ProductionUnit, in Input, consumption []ConsumptionUnit, unmet map[string]Units, locked []Allocation) ([]Allocation, []Warning, bool) {
	var warnings []Warning

	shares := c.resolver.Shareholders(pu.CompanyID, in.Shareholdings)
	eligible := EligibleConsumers(shares, consumption, c.resolver.access)

	var delivered Units
	deliveredTo := make(map[string]Units)
	lockedSites := make(map[string]struct{}, len(locked))
	if len(locked) > 0 {
		companyOf := make(map[string]string, len(consumption))
		for _, cu := range consumption {
			companyOf[cu.ConsumptionSiteID] = cu.CompanyID
		}
		for _, row := range locked {
			units := row.Allocated.ClampNonNegative()
			delivered = delivered.Add(units)
			lockedSites[row.ConsumptionSiteID] = struct{}{}
			if company, ok := companyOf[row.ConsumptionSiteID]; ok {
				deliveredTo[company] = deliveredTo[company].Add(units)
			}
		}
	}

	var overridden []string
	for _, consID := range overrideSites(in.ManualAllocations, pu.ProductionSiteID) {
		if _, ok := lockedSites[consID]; !ok {
			overridden = append(overridden, consID)
		}
	}

	if len(eligible) == 0 && len(overridden) == 0 {
		code, msg := WarnNoEligibleSites, "no accessible consumption sites for generator "+pu.CompanyID
		if len(shares) == 0 {
			code, msg = WarnNoShareholders, "no valid shareholdings for generator "+pu.CompanyID
		}
		warnings = append(warnings, Warning{Code: code, ProductionSiteID: pu.ProductionSiteID, Message: msg})
		if len(locked) == 0 {
			return nil, warnings, false
		}
	}
	if total := TotalPercentage(shares); total > 100 {
		warnings = append(warnings, Warning{
			Code:             WarnOverCommittedHolding,
			ProductionSiteID: pu.ProductionSiteID,
			Message:          fmt.Sprintf("shareholdings for generator %s total %.2f%%", pu.CompanyID, total),
		})
	}

	order := make([]string, 0, len(eligible)+len(overridden))
	companyOf := make(map[string]string, len(eligible))
	for _, e := range eligible {
		order = append(order, e.ConsumptionSiteID)
		companyOf[e.ConsumptionSiteID] = e.CompanyID
	}
	for _, consID := range overridden {
		if _, ok := companyOf[consID]; !ok {
			order = append(order, consID)
		}
	}

	allocated := make(map[string]*Units, len(order))
	for _, consID := range order {
		allocated[consID] = &Units{}
	}
	var remainder Units

	for _, p := range AllPeriods {
		production := pu.Units.Get(p)
		available := clampUnit(production - delivered.Get(p))
		manual := make(map[string]bool)

		for _, consID := range order {
			v, ok := in.ManualAllocations.Lookup(pu.ProductionSiteID, consID, p)
			if !ok {
				continue
			}
			manual[consID] = true
			v = clampUnit(v)
			give := math.Min(v, available)
			if give < v {
				warnings = append(warnings, Warning{
					Code:              WarnOverrideClamped,
					ProductionSiteID:  pu.ProductionSiteID,
					ConsumptionSiteID: consID,
					Message:           fmt.Sprintf("override %s %.2f clamped to %.2f", p, v, give),
				})
			}
			allocated[consID].Set(p, give)
			available = clampUnit(available - give)
			if d, ok := unmet[consID]; ok {
				d.Set(p, clampUnit(d.Get(p)-give))
				unmet[consID] = d
			}
		}

		pools := make(map[string]float64)
		for _, e := range eligible {
			if manual[e.ConsumptionSiteID] {
				continue
			}
			pool, ok := pools[e.CompanyID]
			if !ok {
				pool = clampUnit(math.Round(production*e.Percentage/100) - deliveredTo[e.CompanyID].Get(p))
			}
			d := unmet[e.ConsumptionSiteID]
			give := math.Min(math.Min(pool, available), d.Get(p))
			give = clampUnit(give)
			pools[e.CompanyID] = clampUnit(pool - give)
			if give == 0 {
				continue
			}
			allocated[e.ConsumptionSiteID].Set(p, give)
			available = clampUnit(available - give)
			d.Set(p, clampUnit(d.Get(p)-give))
			unmet[e.ConsumptionSiteID] = d
		}
		remainder.Set(p, available)
	}

	hasOverrides := overriddenSet(overridden)
	rows := make([]Allocation, 0, len(order)+1)
	for _, consID := range order {
		units := allocated[consID].ClampNonNegative()
		_, hasOverride := hasOverrides[consID]
		if units.IsZero() && !hasOverride {
			continue
		}
		if units.IsZero() {
			units = Units{}
		}
		rows = append(rows, Allocation{
			CompanyID:         pu.CompanyID,
			ProductionSiteID:  pu.ProductionSiteID,
			ConsumptionSiteID: consID,
			Month:             in.Month,
			Type:              TypeAllocation,
			Allocated:         units,
			Manual:            hasOverride,
			Version:           1,
		})
	}
	rows = append(rows, remainderRow(pu, in.Month, remainder))
	return rows, warnings, true
}

func remainderRow(pu ProductionUnit, month MonthKey, remainder Units) Allocation {
	t := TypeLapse
	if pu.BankingEnabled {
		t = TypeBanking
	}
	remainder = remainder.ClampNonNegative()
	if remainder.IsZero() {
		remainder = Units{}
	}
	return Allocation{
		CompanyID:        pu.CompanyID,
		ProductionSiteID: pu.ProductionSiteID,
		Month:            month,
		Type:             t,
		Allocated:        remainder,
		Version:          1,
	}
}

// monthProduction filters to the month, drops duplicates and sorts by
// priority: earliest commissioning date first, undated sites last, then ids.
func monthProduction(in Input) ([]ProductionUnit, []Warning) {
	var out []ProductionUnit
	var warnings []Warning
	seen := make(map[string]struct{}, len(in.ProductionUnits))
	for _, pu := range in.ProductionUnits {
		if pu.ProductionSiteID == "" {
			continue
		}
		if pu.Month != "" && !pu.Month.Valid() {
			warnings = append(warnings, Warning{Code: WarnInvalidMonth, ProductionSiteID: pu.ProductionSiteID, Message: "production unit month " + pu.Month.String() + " ignored"})
			continue
		}
		if in.Month != "" && pu.Month != "" && pu.Month != in.Month {
			continue
		}
		key := pu.CompanyID + "_" + pu.ProductionSiteID
		if _, dup := seen[key]; dup {
			warnings = append(warnings, Warning{Code: WarnDuplicateUnit, ProductionSiteID: pu.ProductionSiteID, Message: "duplicate production unit ignored"})
			continue
		}
		seen[key] = struct{}{}
		pu.Units = pu.Units.ClampNonNegative()
		out = append(out, pu)
	}
	SortByPriority(out)
	return out, warnings
}

// SortByPriority orders production units by commissioning date (undated
// last), then company id and production site id.
func SortByPriority(units []ProductionUnit) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if !a.CommissionDate.Equal(b.CommissionDate) {
			if a.CommissionDate.IsZero() {
				return false
			}
			if b.CommissionDate.IsZero() {
				return true
			}
			return a.CommissionDate.Before(b.CommissionDate)
		}
		if a.CompanyID != b.CompanyID {
			return a.CompanyID < b.CompanyID
		}
		return a.ProductionSiteID < b.ProductionSiteID
	})
}

func monthConsumption(in Input) ([]ConsumptionUnit, []Warning) {
	var out []ConsumptionUnit
	var warnings []Warning
	seen := make(map[string]struct{}, len(in.ConsumptionUnits))
	for _, cu := range in.ConsumptionUnits {
		if cu.ConsumptionSiteID == "" {
			continue
		}
		if cu.Month != "" && !cu.Month.Valid() {
			warnings = append(warnings, Warning{Code: WarnInvalidMonth, ConsumptionSiteID: cu.ConsumptionSiteID, Message: "consumption unit month " + cu.Month.String() + " ignored"})
			continue
		}
		if in.Month != "" && cu.Month != "" && cu.Month != in.Month {
			continue
		}
		if _, dup := seen[cu.ConsumptionSiteID]; dup {
			warnings = append(warnings, Warning{Code: WarnDuplicateUnit, ConsumptionSiteID: cu.ConsumptionSiteID, Message: "duplicate consumption unit ignored"})
			continue
		}
		seen[cu.ConsumptionSiteID] = struct{}{}
		out = append(out, cu)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConsumptionSiteID < out[j].ConsumptionSiteID })
	return out, warnings
}

// overrideSites lists consumption sites with an override for prodID, sorted.
func overrideSites(manual ManualAllocations, prodID string) []string {
	var out []string
	for _, pair := range manual.Pairs() {
		if pair.ProductionSiteID == prodID {
			out = append(out, pair.ConsumptionSiteID)
		}
	}
	return out
}

func overriddenSet(sites []string) map[string]struct{} {
	set := make(map[string]struct{}, len(sites))
	for _, s := range sites {
		set[s] = struct{}{}
	}
	return set
}

func unknownOverrideWarnings(manual ManualAllocations, production []ProductionUnit, demand map[string]Units) []Warning {
	if len(manual) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(production))
	for _, pu := range production {
		known[pu.ProductionSiteID] = struct{}{}
	}
	var warnings []Warning
	for _, pair := range manual.Pairs() {
		if _, ok := known[pair.ProductionSiteID]; !ok {
			warnings = append(warnings, Warning{
				Code:              WarnOverrideUnknownSite,
				ProductionSiteID:  pair.ProductionSiteID,
				ConsumptionSiteID: pair.ConsumptionSiteID,
				Message:           "override references a production site without units this month",
			})
			continue
		}
		if _, ok := demand[pair.ConsumptionSiteID]; !ok {
			warnings = append(warnings, Warning{
				Code:              WarnOverrideUnknownSite,
				ProductionSiteID:  pair.ProductionSiteID,
				ConsumptionSiteID: pair.ConsumptionSiteID,
				Message:           "override references a consumption site without demand this month",
			})
		}
	}
	return warnings
}

// BankingBalances projects carry-forward balances for stored BANKING rows.
func BankingBalances(rows []Allocation, banking []BankingUnit, month MonthKey) []BankingBalance {
	return bankingBalances(rows, banking, month)
}

// bankingBalances projects opening + banked = closing for every BANKING row.
// The opening balance sums earlier months of the same financial year.
func bankingBalances(rows []Allocation, banking []BankingUnit, month MonthKey) []BankingBalance {
	var out []BankingBalance
	for _, row := range rows {
		if row.Type != TypeBanking {
			continue
		}
		var opening Units
		if month.Valid() {
			for _, bu := range banking {
				if bu.ProductionSiteID != row.ProductionSiteID {
					continue
				}
				if bu.CompanyID != "" && row.CompanyID != "" && bu.CompanyID != row.CompanyID {
					continue
				}
				if !bu.Month.Valid() || !bu.Month.Before(month) || bu.Month.FinancialYear() != month.FinancialYear() {
					continue
				}
				opening = opening.Add(bu.Units.ClampNonNegative())
			}
		}
		out = append(out, BankingBalance{
			ProductionSiteID: row.ProductionSiteID,
			CompanyID:        row.CompanyID,
			Month:            month,
			Opening:          opening,
			Banked:           row.Allocated,
			Closing:          opening.Add(row.Allocated),
		})
	}
	return out
}
