package reporting

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

// ErrNoChargeTable is returned when OA charges are requested without a table.
var ErrNoChargeTable = errors.New("reporting: oa charge table not configured")

// anySiteType matches every production site type.
const anySiteType = "*"

// OARate is the open-access charge in force for a site type from a month on.
type OARate struct {
	SiteType      string
	EffectiveFrom allocation.MonthKey
	PerUnit       decimal.Decimal
	PeakSurcharge decimal.Decimal
}

// OAChargeTable holds open-access rates by site type.
type OAChargeTable struct {
	Currency string
	rates    map[string][]OARate
}

type oaChargeFile struct {
	Currency string `yaml:"currency"`
	Rates    []struct {
		SiteType      string `yaml:"site_type"`
		EffectiveFrom string `yaml:"effective_from"`
		PerUnit       string `yaml:"per_unit"`
		PeakSurcharge string `yaml:"peak_surcharge"`
	} `yaml:"rates"`
}

// NewOAChargeTable indexes rates by site type, earliest first.
func NewOAChargeTable(currency string, rates []OARate) *OAChargeTable {
	t := &OAChargeTable{Currency: currency, rates: make(map[string][]OARate)}
	for _, r := range rates {
		key := normalizeSiteType(r.SiteType)
		r.SiteType = key
		t.rates[key] = append(t.rates[key], r)
	}
	for _, list := range t.rates {
		sort.SliceStable(list, func(i, j int) bool { return list[i].EffectiveFrom.Before(list[j].EffectiveFrom) })
	}
	return t
}

// ParseOAChargeTable decodes a YAML rate table.
func ParseOAChargeTable(data []byte) (*OAChargeTable, error) {
	var file oaChargeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("reporting: decode oa charges: %w", err)
	}
	rates := make([]OARate, 0, len(file.Rates))
	for i, raw := range file.Rates {
		from, err := allocation.ResolveMonthKey(raw.EffectiveFrom, 0)
		if err != nil {
			return nil, fmt.Errorf("reporting: oa rate %d effective_from %q: %w", i, raw.EffectiveFrom, err)
		}
		perUnit, err := decimal.NewFromString(strings.TrimSpace(raw.PerUnit))
		if err != nil {
			return nil, fmt.Errorf("reporting: oa rate %d per_unit %q: %w", i, raw.PerUnit, err)
		}
		surcharge := decimal.Zero
		if strings.TrimSpace(raw.PeakSurcharge) != "" {
			surcharge, err = decimal.NewFromString(strings.TrimSpace(raw.PeakSurcharge))
			if err != nil {
				return nil, fmt.Errorf("reporting: oa rate %d peak_surcharge %q: %w", i, raw.PeakSurcharge, err)
			}
		}
		if perUnit.IsNegative() || surcharge.IsNegative() {
			return nil, fmt.Errorf("reporting: oa rate %d: negative charge", i)
		}
		rates = append(rates, OARate{SiteType: raw.SiteType, EffectiveFrom: from, PerUnit: perUnit, PeakSurcharge: surcharge})
	}
	return NewOAChargeTable(file.Currency, rates), nil
}

// LoadOAChargeTable reads a YAML rate table from path.
func LoadOAChargeTable(path string) (*OAChargeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseOAChargeTable(data)
}

// Lookup returns the latest rate for siteType effective on or before month.
// A rate declared for site type "*" applies when the type has none.
func (t *OAChargeTable) Lookup(siteType string, month allocation.MonthKey) (OARate, bool) {
	if t == nil || !month.Valid() {
		return OARate{}, false
	}
	if rate, ok := latest(t.rates[normalizeSiteType(siteType)], month); ok {
		return rate, true
	}
	return latest(t.rates[anySiteType], month)
}

func latest(rates []OARate, month allocation.MonthKey) (OARate, bool) {
	var (
		found OARate
		ok    bool
	)
	for _, r := range rates {
		if month.Before(r.EffectiveFrom) {
			break
		}
		found, ok = r, true
	}
	return found, ok
}

func normalizeSiteType(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return anySiteType
	}
	return value
}

// OACharge prices one ALLOCATION row.
type OACharge struct {
	ProductionSiteID  string          `json:"productionSiteId"`
	ConsumptionSiteID string          `json:"consumptionSiteId"`
	Month             string          `json:"month"`
	SiteType          string          `json:"siteType"`
	Units             decimal.Decimal `json:"units"`
	PeakUnits         decimal.Decimal `json:"peakUnits"`
	Rate              decimal.Decimal `json:"rate"`
	PeakSurcharge     decimal.Decimal `json:"peakSurcharge"`
	Amount            decimal.Decimal `json:"amount"`
}

// OAChargeReport is the priced view of a month's allocations.
type OAChargeReport struct {
	Currency string          `json:"currency,omitempty"`
	Charges  []OACharge      `json:"charges"`
	Total    decimal.Decimal `json:"total"`
	Unpriced []string        `json:"unpriced,omitempty"`
}

// ComputeOACharges prices every ALLOCATION row with the rate for its
// production site's type. Rows whose site or rate cannot be resolved are
// listed in Unpriced as productionSiteId_consumptionSiteId.
func ComputeOACharges(rows []allocation.Allocation, table *OAChargeTable, dir sites.Directory) (OAChargeReport, error) {
	if table == nil {
		return OAChargeReport{}, ErrNoChargeTable
	}
	report := OAChargeReport{Currency: table.Currency, Charges: []OACharge{}, Total: decimal.Zero}
	for _, row := range rows {
		if row.Type != allocation.TypeAllocation {
			continue
		}
		pair := row.ProductionSiteID + "_" + row.ConsumptionSiteID
		site, ok := dir.ProductionSite(row.ProductionSiteID)
		if !ok {
			report.Unpriced = append(report.Unpriced, pair)
			continue
		}
		rate, ok := table.Lookup(site.Type, row.Month)
		if !ok {
			report.Unpriced = append(report.Unpriced, pair)
			continue
		}
		units := row.Allocated.ClampNonNegative()
		total := decimal.NewFromFloat(units.Total())
		peak := decimal.NewFromFloat(units.PeakTotal())
		amount := total.Mul(rate.PerUnit).Add(peak.Mul(rate.PeakSurcharge)).Round(2)
		report.Charges = append(report.Charges, OACharge{
			ProductionSiteID:  row.ProductionSiteID,
			ConsumptionSiteID: row.ConsumptionSiteID,
			Month:             row.Month.String(),
			SiteType:          rate.SiteType,
			Units:             total,
			PeakUnits:         peak,
			Rate:              rate.PerUnit,
			PeakSurcharge:     rate.PeakSurcharge,
			Amount:            amount,
		})
		report.Total = report.Total.Add(amount)
	}
	sort.Strings(report.Unpriced)
	return report, nil
}
