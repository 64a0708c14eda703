package reporting

import (
	"sort"

	allocation "energy-allocation/internal/allocation/domain"
)

// BankingSummary is one production site's banked units over a financial year.
type BankingSummary struct {
	ProductionSiteID string           `json:"productionSiteId"`
	CompanyID        string           `json:"companyId,omitempty"`
	SiteName         string           `json:"siteName,omitempty"`
	FinancialYear    string           `json:"financialYear"`
	Months           []string         `json:"months"`
	Units            allocation.Units `json:"units"`
	Total            float64          `json:"total"`
	Peak             float64          `json:"peak"`
	NonPeak          float64          `json:"nonPeak"`
}

// AggregateBankingByFinancialYear sums banking records of April(fy) through
// March(fy+1) per production site. Records outside the year or with an
// unresolvable month are ignored. Output is ordered by production site id.
func AggregateBankingByFinancialYear(records []allocation.BankingUnit, fy int) []BankingSummary {
	label := allocation.FinancialYearLabel(fy)
	bySite := make(map[string]*BankingSummary)
	for _, rec := range records {
		if !rec.Month.Valid() || rec.Month.FinancialYear() != fy {
			continue
		}
		summary, ok := bySite[rec.ProductionSiteID]
		if !ok {
			summary = &BankingSummary{
				ProductionSiteID: rec.ProductionSiteID,
				CompanyID:        rec.CompanyID,
				SiteName:         rec.SiteName,
				FinancialYear:    label,
			}
			bySite[rec.ProductionSiteID] = summary
		}
		if summary.SiteName == "" {
			summary.SiteName = rec.SiteName
		}
		summary.Units = summary.Units.Add(rec.Units.ClampNonNegative())
		summary.Months = append(summary.Months, rec.Month.String())
	}

	out := make([]BankingSummary, 0, len(bySite))
	for _, summary := range bySite {
		sortMonths(summary.Months)
		summary.Total = summary.Units.Total()
		summary.Peak = summary.Units.PeakTotal()
		summary.NonPeak = summary.Units.NonPeakTotal()
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductionSiteID < out[j].ProductionSiteID })
	return out
}

func sortMonths(months []string) {
	sort.Slice(months, func(i, j int) bool {
		return allocation.MonthKey(months[i]).Before(allocation.MonthKey(months[j]))
	})
}
