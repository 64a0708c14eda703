package allocation

import (
	"fmt"
	"sort"
)

// Violation severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Violation codes.
const (
	ViolationNegative        = "negative_units"
	ViolationOverAllocated   = "over_allocated"
	ViolationUnaccounted     = "units_unaccounted"
	ViolationRemainderType   = "remainder_type_mismatch"
	ViolationDuplicateRow    = "duplicate_remainder"
	ViolationUnknownSite     = "unknown_production_site"
	ViolationDemandExceeded  = "demand_exceeded"
	ViolationMissingConsSite = "missing_consumption_site"
)

// Violation is one finding from Validate.
type Violation struct {
	Severity          string `json:"severity"`
	Code              string `json:"code"`
	ProductionSiteID  string `json:"productionSiteId,omitempty"`
	ConsumptionSiteID string `json:"consumptionSiteId,omitempty"`
	Period            Period `json:"period,omitempty"`
	Message           string `json:"message"`
}

// Tolerance absorbs floating point drift in conservation checks.
const Tolerance = 1e-6

// Validate re-checks a result against its input: conservation per production
// site and period, non-negativity, banking/lapse exclusivity and consumption
// demand. tolerance <= 0 uses Tolerance; rounded records need 0.5 per row.
func Validate(result Result, in Input, tolerance float64) []Violation {
	if tolerance <= 0 {
		tolerance = Tolerance
	}
	production, _ := monthProduction(in)
	units := make(map[string]ProductionUnit, len(production))
	for _, pu := range production {
		units[pu.ProductionSiteID] = pu
	}
	demand := make(map[string]Units)
	for _, cu := range in.ConsumptionUnits {
		if in.Month != "" && cu.Month != "" && cu.Month != in.Month {
			continue
		}
		if _, ok := demand[cu.ConsumptionSiteID]; !ok {
			demand[cu.ConsumptionSiteID] = cu.Units.ClampNonNegative()
		}
	}

	var out []Violation
	used := make(map[string]Units)
	rowCount := make(map[string]int)
	remainders := make(map[string][]Allocation)
	received := make(map[string]Units)

	for _, a := range result.Allocations {
		for _, p := range AllPeriods {
			if a.Allocated.Get(p) < 0 {
				out = append(out, Violation{
					Severity:          SeverityError,
					Code:              ViolationNegative,
					ProductionSiteID:  a.ProductionSiteID,
					ConsumptionSiteID: a.ConsumptionSiteID,
					Period:            p,
					Message:           fmt.Sprintf("%s row has negative %s", a.Type, p),
				})
			}
		}
		if _, ok := units[a.ProductionSiteID]; !ok {
			out = append(out, Violation{
				Severity:         SeverityError,
				Code:             ViolationUnknownSite,
				ProductionSiteID: a.ProductionSiteID,
				Message:          "row references a production site without units this month",
			})
			continue
		}
		rowCount[a.ProductionSiteID]++
		switch {
		case a.Type == TypeAllocation:
			if a.ConsumptionSiteID == "" {
				out = append(out, Violation{
					Severity:         SeverityError,
					Code:             ViolationMissingConsSite,
					ProductionSiteID: a.ProductionSiteID,
					Message:          "ALLOCATION row without consumption site",
				})
			}
			used[a.ProductionSiteID] = used[a.ProductionSiteID].Add(a.Allocated)
			received[a.ConsumptionSiteID] = received[a.ConsumptionSiteID].Add(a.Allocated)
		case a.Type.IsRemainder():
			remainders[a.ProductionSiteID] = append(remainders[a.ProductionSiteID], a)
			used[a.ProductionSiteID] = used[a.ProductionSiteID].Add(a.Allocated)
		}
	}

	for _, pu := range production {
		id := pu.ProductionSiteID
		if rowCount[id] == 0 {
			continue
		}
		rems := remainders[id]
		if len(rems) > 1 {
			out = append(out, Violation{
				Severity:         SeverityError,
				Code:             ViolationDuplicateRow,
				ProductionSiteID: id,
				Message:          fmt.Sprintf("%d remainder rows for one production site", len(rems)),
			})
		}
		for _, r := range rems {
			if r.Allocated.IsZero() {
				continue
			}
			if pu.BankingEnabled && r.Type == TypeLapse || !pu.BankingEnabled && r.Type == TypeBanking {
				out = append(out, Violation{
					Severity:         SeverityError,
					Code:             ViolationRemainderType,
					ProductionSiteID: id,
					Message:          fmt.Sprintf("%s row with bankingEnabled=%t", r.Type, pu.BankingEnabled),
				})
			}
		}
		for _, p := range AllPeriods {
			total := used[id].Get(p)
			generated := pu.Units.Get(p)
			switch {
			case total > generated+tolerance:
				out = append(out, Violation{
					Severity:         SeverityError,
					Code:             ViolationOverAllocated,
					ProductionSiteID: id,
					Period:           p,
					Message:          fmt.Sprintf("%.2f booked against %.2f generated", total, generated),
				})
			case len(rems) > 0 && total < generated-tolerance:
				out = append(out, Violation{
					Severity:         SeverityWarning,
					Code:             ViolationUnaccounted,
					ProductionSiteID: id,
					Period:           p,
					Message:          fmt.Sprintf("%.2f of %.2f generated is not booked", generated-total, generated),
				})
			}
		}
	}

	consIDs := make([]string, 0, len(received))
	for id := range received {
		consIDs = append(consIDs, id)
	}
	sort.Strings(consIDs)
	for _, id := range consIDs {
		d, ok := demand[id]
		if !ok {
			continue
		}
		for _, p := range AllPeriods {
			if got := received[id].Get(p); got > d.Get(p)+tolerance {
				out = append(out, Violation{
					Severity:          SeverityWarning,
					Code:              ViolationDemandExceeded,
					ConsumptionSiteID: id,
					Period:            p,
					Message:           fmt.Sprintf("received %.2f against demand %.2f", got, d.Get(p)),
				})
			}
		}
	}
	return out
}

// HasErrors reports whether any violation has error severity.
func HasErrors(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}
