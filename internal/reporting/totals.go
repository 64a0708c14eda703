package reporting

import (
	"sort"

	allocation "energy-allocation/internal/allocation/domain"
)

// SiteMonthTotal sums one production site's rows for one month by type.
type SiteMonthTotal struct {
	ProductionSiteID string           `json:"productionSiteId"`
	Month            string           `json:"month"`
	Allocated        allocation.Units `json:"allocated"`
	Banked           allocation.Units `json:"banked"`
	Lapsed           allocation.Units `json:"lapsed"`
	Total            float64          `json:"total"`
	Peak             float64          `json:"peak"`
	NonPeak          float64          `json:"nonPeak"`
}

// SiteMonthTotals folds rows into per production site, per month totals.
// Total, Peak and NonPeak cover every type. Output is ordered by site then month.
func SiteMonthTotals(rows []allocation.Allocation) []SiteMonthTotal {
	type key struct {
		site  string
		month allocation.MonthKey
	}
	index := make(map[key]*SiteMonthTotal)
	var order []key
	for _, row := range rows {
		k := key{site: row.ProductionSiteID, month: row.Month}
		t, ok := index[k]
		if !ok {
			t = &SiteMonthTotal{ProductionSiteID: row.ProductionSiteID, Month: row.Month.String()}
			index[k] = t
			order = append(order, k)
		}
		units := row.Allocated.ClampNonNegative()
		switch row.Type {
		case allocation.TypeAllocation:
			t.Allocated = t.Allocated.Add(units)
		case allocation.TypeBanking:
			t.Banked = t.Banked.Add(units)
		case allocation.TypeLapse:
			t.Lapsed = t.Lapsed.Add(units)
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].site != order[j].site {
			return order[i].site < order[j].site
		}
		return order[i].month.Before(order[j].month)
	})
	out := make([]SiteMonthTotal, 0, len(order))
	for _, k := range order {
		t := index[k]
		all := t.Allocated.Add(t.Banked).Add(t.Lapsed)
		t.Total = all.Total()
		t.Peak = all.PeakTotal()
		t.NonPeak = all.NonPeakTotal()
		out = append(out, *t)
	}
	return out
}
