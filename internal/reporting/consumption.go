package reporting

import (
	"sort"
	"time"

	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

// ConsumptionRow is one production site's contribution to a consumption site.
// Available is the site's demand left after earlier production sites;
// Remaining is what is still unmet after this row.
type ConsumptionRow struct {
	ProductionSiteID string           `json:"productionSiteId"`
	SiteName         string           `json:"siteName,omitempty"`
	CommissionDate   *time.Time       `json:"commissionDate,omitempty"`
	Available        allocation.Units `json:"available"`
	Allocated        allocation.Units `json:"allocated"`
	Remaining        allocation.Units `json:"remaining"`
}

// ConsumptionSiteView groups the allocations received by one consumption site.
type ConsumptionSiteView struct {
	ConsumptionSiteID string           `json:"consumptionSiteId"`
	CompanyID         string           `json:"companyId,omitempty"`
	SiteName          string           `json:"siteName,omitempty"`
	Month             string           `json:"month,omitempty"`
	Demand            allocation.Units `json:"demand"`
	Allocated         allocation.Units `json:"allocated"`
	Remaining         allocation.Units `json:"remaining"`
	Rows              []ConsumptionRow `json:"rows"`
}

// GroupAllocationsByConsumptionSite builds per consumption site views of
// ALLOCATION rows. Rows are listed in production priority (commissioning
// date, undated sites last, then id) and carry running available/remaining
// columns derived from the site's demand. Demand comes from consumption;
// sites without a demand record start from zero. Views are ordered by
// consumption site id.
func GroupAllocationsByConsumptionSite(rows []allocation.Allocation, consumption []allocation.ConsumptionUnit, dir sites.Directory) []ConsumptionSiteView {
	demand := make(map[string]allocation.ConsumptionUnit, len(consumption))
	for _, cu := range consumption {
		if _, ok := demand[cu.ConsumptionSiteID]; !ok {
			demand[cu.ConsumptionSiteID] = cu
		}
	}

	type received struct {
		month string
		units map[string]allocation.Units
	}
	byCons := make(map[string]*received)
	for _, row := range rows {
		if row.Type != allocation.TypeAllocation || row.ConsumptionSiteID == "" {
			continue
		}
		rec, ok := byCons[row.ConsumptionSiteID]
		if !ok {
			rec = &received{month: row.Month.String(), units: make(map[string]allocation.Units)}
			byCons[row.ConsumptionSiteID] = rec
		}
		rec.units[row.ProductionSiteID] = rec.units[row.ProductionSiteID].Add(row.Allocated.ClampNonNegative())
	}

	rank := productionRank(dir)
	out := make([]ConsumptionSiteView, 0, len(byCons))
	for consID, rec := range byCons {
		cu := demand[consID]
		view := ConsumptionSiteView{
			ConsumptionSiteID: consID,
			CompanyID:         cu.CompanyID,
			SiteName:          cu.SiteName,
			Month:             rec.month,
			Demand:            cu.Units.ClampNonNegative(),
		}
		if site, ok := dir.ConsumptionSite(consID); ok {
			view.SiteName = firstNonEmpty(view.SiteName, site.Name)
			view.CompanyID = firstNonEmpty(view.CompanyID, site.CompanyID)
		}

		prodIDs := make([]string, 0, len(rec.units))
		for prodID := range rec.units {
			prodIDs = append(prodIDs, prodID)
		}
		sort.Slice(prodIDs, func(i, j int) bool { return rank.less(prodIDs[i], prodIDs[j]) })

		available := view.Demand
		for _, prodID := range prodIDs {
			got := rec.units[prodID]
			row := ConsumptionRow{
				ProductionSiteID: prodID,
				Available:        available,
				Allocated:        got,
				Remaining:        available.Sub(got).ClampNonNegative(),
			}
			if site, ok := dir.ProductionSite(prodID); ok {
				row.SiteName = site.Name
				if !site.CommissionDate.IsZero() {
					date := site.CommissionDate
					row.CommissionDate = &date
				}
			}
			view.Rows = append(view.Rows, row)
			view.Allocated = view.Allocated.Add(got)
			available = row.Remaining
		}
		view.Remaining = available
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConsumptionSiteID < out[j].ConsumptionSiteID })
	return out
}

type priority map[string]int

func productionRank(dir sites.Directory) priority {
	ordered := dir.ProductionByPriority()
	rank := make(priority, len(ordered))
	for i, site := range ordered {
		rank[site.ID] = i
	}
	return rank
}

// less orders known sites by rank, unknown sites after them by id.
func (p priority) less(a, b string) bool {
	ra, okA := p[a]
	rb, okB := p[b]
	switch {
	case okA && okB:
		return ra < rb
	case okA != okB:
		return okA
	}
	return a < b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
