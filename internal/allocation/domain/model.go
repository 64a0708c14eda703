package allocation

import (
	"sort"
	"strings"
	"time"
)

// Type tags an allocation decision.
type Type string

const (
	TypeAllocation Type = "ALLOCATION"
	TypeBanking    Type = "BANKING"
	TypeLapse      Type = "LAPSE"
)

// ParseType normalizes an allocation type string.
func ParseType(value string) (Type, error) {
	switch Type(strings.ToUpper(strings.TrimSpace(value))) {
	case TypeAllocation:
		return TypeAllocation, nil
	case TypeBanking:
		return TypeBanking, nil
	case TypeLapse:
		return TypeLapse, nil
	}
	return "", ErrInvalidType
}

// IsRemainder reports whether t is a production-site-level leftover row.
func (t Type) IsRemainder() bool {
	return t == TypeBanking || t == TypeLapse
}

// Site types understood by SiteAccess.
const (
	SiteTypeProduction  = "production"
	SiteTypeConsumption = "consumption"
)

// ProductionUnit is one production site's generated units for one month.
type ProductionUnit struct {
	ProductionSiteID string
	CompanyID        string
	SiteName         string
	Type             string
	BankingEnabled   bool
	Month            MonthKey
	CommissionDate   time.Time
	Units            Units
}

// ConsumptionUnit is one consumption site's demand for one month.
type ConsumptionUnit struct {
	ConsumptionSiteID string
	CompanyID         string
	SiteName          string
	Month             MonthKey
	Units             Units
}

// Shareholding grants a shareholder company a percentage of a generator's output.
type Shareholding struct {
	GeneratorCompanyID   string
	ShareholderCompanyID string
	Percentage           float64
}

// BankingUnit is a banked balance record for a production site and month.
type BankingUnit struct {
	ProductionSiteID string
	CompanyID        string
	SiteName         string
	Month            MonthKey
	Units            Units
}

// Allocation is one decision produced by the calculator.
// ConsumptionSiteID is empty for BANKING and LAPSE rows.
type Allocation struct {
	CompanyID         string    `json:"companyId"`
	ProductionSiteID  string    `json:"productionSiteId"`
	ConsumptionSiteID string    `json:"consumptionSiteId,omitempty"`
	Month             MonthKey  `json:"month"`
	Type              Type      `json:"type"`
	Allocated         Units     `json:"allocated"`
	Manual            bool      `json:"manual,omitempty"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"createdAt,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt,omitempty"`
}

// PairKey identifies the (production, consumption) pair of a row.
func (a Allocation) PairKey() PairKey {
	return PairKey{ProductionSiteID: a.ProductionSiteID, ConsumptionSiteID: a.ConsumptionSiteID}
}

// PairKey identifies a production/consumption pair.
type PairKey struct {
	ProductionSiteID  string
	ConsumptionSiteID string
}

// ManualKey identifies one overridden cell.
type ManualKey struct {
	ProductionSiteID  string
	ConsumptionSiteID string
	Period            Period
}

// String formats the key as productionSiteId_consumptionSiteId_period.
func (k ManualKey) String() string {
	return k.ProductionSiteID + "_" + k.ConsumptionSiteID + "_" + string(k.Period)
}

// ParseManualKey splits productionSiteId_consumptionSiteId_period on the last
// two underscores, so only the production site id may contain underscores.
func ParseManualKey(value string) (ManualKey, bool) {
	last := strings.LastIndex(value, "_")
	if last <= 0 {
		return ManualKey{}, false
	}
	period, ok := ParsePeriod(strings.ToLower(value[last+1:]))
	if !ok {
		return ManualKey{}, false
	}
	rest := value[:last]
	mid := strings.LastIndex(rest, "_")
	if mid <= 0 || mid == len(rest)-1 {
		return ManualKey{}, false
	}
	return ManualKey{ProductionSiteID: rest[:mid], ConsumptionSiteID: rest[mid+1:], Period: period}, true
}

// ManualAllocations maps overridden cells to their forced values.
type ManualAllocations map[ManualKey]float64

// Lookup returns the override for a cell.
func (m ManualAllocations) Lookup(prodID, consID string, p Period) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[ManualKey{ProductionSiteID: prodID, ConsumptionSiteID: consID, Period: p}]
	return v, ok
}

// Pairs returns the distinct pairs touched by the overrides in sorted order.
func (m ManualAllocations) Pairs() []PairKey {
	seen := make(map[PairKey]struct{}, len(m))
	var pairs []PairKey
	for k := range m {
		pk := PairKey{ProductionSiteID: k.ProductionSiteID, ConsumptionSiteID: k.ConsumptionSiteID}
		if _, ok := seen[pk]; ok {
			continue
		}
		seen[pk] = struct{}{}
		pairs = append(pairs, pk)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].ProductionSiteID != pairs[j].ProductionSiteID {
			return pairs[i].ProductionSiteID < pairs[j].ProductionSiteID
		}
		return pairs[i].ConsumptionSiteID < pairs[j].ConsumptionSiteID
	})
	return pairs
}

// Merge returns a copy of m with other's entries layered on top.
func (m ManualAllocations) Merge(other ManualAllocations) ManualAllocations {
	out := make(ManualAllocations, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Input is an immutable snapshot for one calculation pass.
type Input struct {
	Month             MonthKey
	ProductionUnits   []ProductionUnit
	ConsumptionUnits  []ConsumptionUnit
	BankingUnits      []BankingUnit
	Shareholdings     []Shareholding
	ManualAllocations ManualAllocations
	// Locked holds stored ALLOCATION rows the caller may not recompute. Their
	// units count as already delivered.
	Locked []Allocation
}

// Warning is a non-fatal condition surfaced to the caller.
type Warning struct {
	Code              string `json:"code"`
	ProductionSiteID  string `json:"productionSiteId,omitempty"`
	ConsumptionSiteID string `json:"consumptionSiteId,omitempty"`
	Message           string `json:"message"`
}

// Warning codes.
const (
	WarnNoProduction         = "no_production"
	WarnNoConsumption        = "no_consumption"
	WarnNoShareholdings      = "no_shareholdings"
	WarnNoShareholders       = "no_shareholders"
	WarnNoEligibleSites      = "no_eligible_sites"
	WarnOverrideClamped      = "override_clamped"
	WarnOverrideUnknownSite  = "override_unknown_site"
	WarnOverrideMalformed    = "override_malformed"
	WarnDuplicateUnit        = "duplicate_unit"
	WarnInvalidMonth         = "invalid_month"
	WarnFetchFailed          = "fetch_failed"
	WarnOverCommittedHolding = "over_committed_shareholding"
)

// BankingBalance projects a banking-enabled site's carry-forward.
type BankingBalance struct {
	ProductionSiteID string   `json:"productionSiteId"`
	CompanyID        string   `json:"companyId"`
	Month            MonthKey `json:"month"`
	Opening          Units    `json:"opening"`
	Banked           Units    `json:"banked"`
	Closing          Units    `json:"closing"`
}

// Result is the output snapshot of a calculation pass.
type Result struct {
	Month       MonthKey         `json:"month"`
	Allocations []Allocation     `json:"allocations"`
	Balances    []BankingBalance `json:"balances,omitempty"`
	Warnings    []Warning        `json:"warnings,omitempty"`
}

// ByType returns the rows of one type in result order.
func (r Result) ByType(t Type) []Allocation {
	var out []Allocation
	for _, a := range r.Allocations {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// Find returns the row for a production site, consumption site and type.
func (r Result) Find(prodID, consID string, t Type) (Allocation, bool) {
	for _, a := range r.Allocations {
		if a.Type == t && a.ProductionSiteID == prodID && a.ConsumptionSiteID == consID {
			return a, true
		}
	}
	return Allocation{}, false
}
