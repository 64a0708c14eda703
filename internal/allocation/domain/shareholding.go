package allocation

import "sort"

// SiteAccess reports whether the caller may see a site. Implementations are
// supplied by the caller; the calculator never decides access itself.
type SiteAccess interface {
	HasSiteAccess(siteID, siteType string) bool
}

// SiteAccessFunc adapts a function to SiteAccess.
type SiteAccessFunc func(siteID, siteType string) bool

// HasSiteAccess calls f.
func (f SiteAccessFunc) HasSiteAccess(siteID, siteType string) bool {
	if f == nil {
		return true
	}
	return f(siteID, siteType)
}

// AllowAllSites grants access to every site. Used by batch jobs.
type AllowAllSites struct{}

// HasSiteAccess always returns true.
func (AllowAllSites) HasSiteAccess(string, string) bool { return true }

// Share is a resolved shareholder entitlement.
type Share struct {
	ShareholderCompanyID string  `json:"shareholderCompanyId"`
	Percentage           float64 `json:"percentage"`
}

// ResolveShareholders returns the shareholders of a generator company with a
// positive percentage, ordered by percentage desc then company id. Duplicate
// rows for the same shareholder are summed.
func ResolveShareholders(generatorCompanyID string, shareholdings []Shareholding) []Share {
	if generatorCompanyID == "" || len(shareholdings) == 0 {
		return nil
	}
	totals := make(map[string]float64)
	var order []string
	for _, sh := range shareholdings {
		if sh.GeneratorCompanyID != generatorCompanyID || sh.ShareholderCompanyID == "" {
			continue
		}
		if sh.Percentage <= 0 {
			continue
		}
		if _, ok := totals[sh.ShareholderCompanyID]; !ok {
			order = append(order, sh.ShareholderCompanyID)
		}
		totals[sh.ShareholderCompanyID] += sh.Percentage
	}
	shares := make([]Share, 0, len(order))
	for _, companyID := range order {
		shares = append(shares, Share{ShareholderCompanyID: companyID, Percentage: totals[companyID]})
	}
	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].Percentage != shares[j].Percentage {
			return shares[i].Percentage > shares[j].Percentage
		}
		return shares[i].ShareholderCompanyID < shares[j].ShareholderCompanyID
	})
	if len(shares) == 0 {
		return nil
	}
	return shares
}

// TotalPercentage sums the resolved shares.
func TotalPercentage(shares []Share) float64 {
	var total float64
	for _, s := range shares {
		total += s.Percentage
	}
	return total
}

// Eligible is a consumption site entitled to part of a production site's output.
type Eligible struct {
	ConsumptionSiteID string
	CompanyID         string
	Percentage        float64
}

// EligibleConsumers expands shares onto the shareholder companies' consumption
// sites the caller may access. Order is percentage desc, then consumption site
// id asc.
func EligibleConsumers(shares []Share, consumption []ConsumptionUnit, access SiteAccess) []Eligible {
	if len(shares) == 0 || len(consumption) == 0 {
		return nil
	}
	pct := make(map[string]float64, len(shares))
	for _, s := range shares {
		pct[s.ShareholderCompanyID] = s.Percentage
	}
	seen := make(map[string]struct{}, len(consumption))
	var out []Eligible
	for _, cu := range consumption {
		p, ok := pct[cu.CompanyID]
		if !ok || cu.ConsumptionSiteID == "" {
			continue
		}
		if _, dup := seen[cu.ConsumptionSiteID]; dup {
			continue
		}
		if access != nil && !access.HasSiteAccess(cu.ConsumptionSiteID, SiteTypeConsumption) {
			continue
		}
		seen[cu.ConsumptionSiteID] = struct{}{}
		out = append(out, Eligible{ConsumptionSiteID: cu.ConsumptionSiteID, CompanyID: cu.CompanyID, Percentage: p})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Percentage != out[j].Percentage {
			return out[i].Percentage > out[j].Percentage
		}
		return out[i].ConsumptionSiteID < out[j].ConsumptionSiteID
	})
	return out
}

// Resolver binds the caller's site access once and answers which consumption
// sites may receive a generator's output.
type Resolver struct {
	access SiteAccess
}

// NewResolver constructs a Resolver. A nil access grants every site.
func NewResolver(access SiteAccess) Resolver {
	if access == nil {
		access = AllowAllSites{}
	}
	return Resolver{access: access}
}

// Shareholders resolves the generator's shareholders.
func (r Resolver) Shareholders(generatorCompanyID string, shareholdings []Shareholding) []Share {
	return ResolveShareholders(generatorCompanyID, shareholdings)
}

// Eligible resolves the ordered consumption sites for a generator company.
func (r Resolver) Eligible(generatorCompanyID string, shareholdings []Shareholding, consumption []ConsumptionUnit) []Eligible {
	return EligibleConsumers(r.Shareholders(generatorCompanyID, shareholdings), consumption, r.access)
}

// CanSee reports whether the bound access allows a site.
func (r Resolver) CanSee(siteID, siteType string) bool {
	if r.access == nil {
		return true
	}
	return r.access.HasSiteAccess(siteID, siteType)
}
