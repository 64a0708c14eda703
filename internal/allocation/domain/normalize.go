package allocation

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Record is a loosely-typed key/value row as delivered by collaborators.
type Record = map[string]any

// Number coerces a loosely-typed value to float64. Missing, non-numeric,
// NaN and infinite values become 0.
func Number(value any) float64 {
	var f float64
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", "")), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// NonNegative coerces a value and floors it at zero.
func NonNegative(value any) float64 {
	return clampUnit(Number(value))
}

// Bool coerces booleans that may arrive as strings or numbers.
func Bool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1":
			return true
		}
		return false
	case nil:
		return false
	default:
		return Number(v) != 0
	}
}

// Text coerces a value to a trimmed string.
func Text(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// first returns the first non-nil value among the aliases.
func first(record Record, keys ...string) any {
	for _, key := range keys {
		if v, ok := record[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// UnitsFromRecord reads c1..c5 (or C1..C5), clamping negatives to zero.
// A nested "allocated" map is used when the top level has no period fields.
func UnitsFromRecord(record Record) Units {
	var u Units
	if record == nil {
		return u
	}
	found := false
	for _, p := range AllPeriods {
		v := first(record, string(p), strings.ToUpper(string(p)))
		if v != nil {
			found = true
		}
		u.Set(p, NonNegative(v))
	}
	if !found {
		if nested, ok := record["allocated"].(map[string]any); ok {
			return UnitsFromRecord(nested)
		}
	}
	return u
}

func monthFromRecord(record Record) MonthKey {
	raw := Text(first(record, "month", "sk"))
	if raw == "" {
		return ""
	}
	year := int(Number(record["year"]))
	key, err := ResolveMonthKey(raw, year)
	if err != nil {
		// Kept verbatim so month filters reject it instead of treating it as unset.
		return MonthKey(raw)
	}
	return key
}

func timeFromRecord(value any) time.Time {
	switch v := value.(type) {
	case time.Time:
		return v.UTC()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "02-01-2006", "02/01/2006"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// ProductionUnitFromRecord normalizes a raw production row.
func ProductionUnitFromRecord(record Record) ProductionUnit {
	return ProductionUnit{
		ProductionSiteID: Text(first(record, "productionSiteId", "production_site_id", "siteId")),
		CompanyID:        Text(first(record, "companyId", "company_id")),
		SiteName:         Text(first(record, "siteName", "site_name", "name")),
		Type:             strings.ToLower(Text(first(record, "type", "siteType"))),
		BankingEnabled:   Bool(first(record, "bankingEnabled", "banking", "banking_enabled")),
		Month:            monthFromRecord(record),
		CommissionDate:   timeFromRecord(first(record, "commissionDate", "dateOfCommission", "commission_date")),
		Units:            UnitsFromRecord(record),
	}
}

// ConsumptionUnitFromRecord normalizes a raw consumption row.
func ConsumptionUnitFromRecord(record Record) ConsumptionUnit {
	return ConsumptionUnit{
		ConsumptionSiteID: Text(first(record, "consumptionSiteId", "consumption_site_id", "siteId")),
		CompanyID:         Text(first(record, "companyId", "company_id")),
		SiteName:          Text(first(record, "siteName", "site_name", "name")),
		Month:             monthFromRecord(record),
		Units:             UnitsFromRecord(record),
	}
}

// ShareholdingFromRecord normalizes a raw shareholding row. The percentage may
// arrive as "shareholdingPercentage", "percentage" or "allocationPercentage".
func ShareholdingFromRecord(record Record) Shareholding {
	return Shareholding{
		GeneratorCompanyID:   Text(first(record, "generatorCompanyId", "generator_company_id")),
		ShareholderCompanyID: Text(first(record, "shareholderCompanyId", "shareholder_company_id")),
		Percentage:           NonNegative(first(record, "shareholdingPercentage", "percentage", "allocationPercentage")),
	}
}

// BankingUnitFromRecord normalizes a raw banking row.
func BankingUnitFromRecord(record Record) BankingUnit {
	return BankingUnit{
		ProductionSiteID: Text(first(record, "productionSiteId", "production_site_id", "siteId")),
		CompanyID:        Text(first(record, "companyId", "company_id")),
		SiteName:         Text(first(record, "siteName", "site_name")),
		Month:            monthFromRecord(record),
		Units:            UnitsFromRecord(record),
	}
}

// ManualAllocationsFromRecord parses "prod_cons_period" keyed overrides.
// Keys that do not parse are dropped and returned for reporting.
func ManualAllocationsFromRecord(record Record) (ManualAllocations, []string) {
	out := make(ManualAllocations, len(record))
	var rejected []string
	for raw, value := range record {
		key, ok := ParseManualKey(raw)
		if !ok {
			rejected = append(rejected, raw)
			continue
		}
		out[key] = NonNegative(value)
	}
	sort.Strings(rejected)
	return out, rejected
}

// InputFromRecords normalizes a full set of raw rows into an Input.
func InputFromRecords(month MonthKey, production, consumption, banking, shareholdings []Record, manual Record) (Input, []string) {
	in := Input{Month: month}
	for _, r := range production {
		in.ProductionUnits = append(in.ProductionUnits, ProductionUnitFromRecord(r))
	}
	for _, r := range consumption {
		in.ConsumptionUnits = append(in.ConsumptionUnits, ConsumptionUnitFromRecord(r))
	}
	for _, r := range banking {
		in.BankingUnits = append(in.BankingUnits, BankingUnitFromRecord(r))
	}
	for _, r := range shareholdings {
		in.Shareholdings = append(in.Shareholdings, ShareholdingFromRecord(r))
	}
	var rejected []string
	if manual != nil {
		in.ManualAllocations, rejected = ManualAllocationsFromRecord(manual)
	}
	return in, rejected
}
