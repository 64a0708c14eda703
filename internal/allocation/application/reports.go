package application

import (
	"context"
	"fmt"
	"time"

	allocation "energy-allocation/internal/allocation/domain"
	"energy-allocation/internal/observability/metrics"
	"energy-allocation/internal/reporting"
	sites "energy-allocation/internal/sites/domain"
)

// Report names used in metrics.
const (
	reportBanking     = "banking"
	reportConsumption = "consumption"
	reportSiteTotals  = "site_totals"
	reportOACharges   = "oa_charges"
)

func observeReport(name string, start time.Time, err *error) {
	result := metrics.ResultSuccess
	if *err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReport(name, result, time.Since(start))
}

// BankingReport aggregates a company's banked units over a financial year.
func (s *Service) BankingReport(ctx context.Context, companyID string, financialYear int) (out []reporting.BankingSummary, err error) {
	defer observeReport(reportBanking, time.Now(), &err)
	if companyID == "" {
		return nil, ErrCompanyRequired
	}
	units, err := s.repos.Banking.ListBankingUnits(ctx, companyID, financialYear)
	if err != nil {
		return nil, fmt.Errorf("allocation service: list banking: %w", err)
	}
	return reporting.AggregateBankingByFinancialYear(units, financialYear), nil
}

// ConsumptionReport groups a month's stored allocations by consumption site,
// limited to the consumption sites access allows.
func (s *Service) ConsumptionReport(ctx context.Context, companyID string, month allocation.MonthKey, access allocation.SiteAccess) (out []reporting.ConsumptionSiteView, err error) {
	defer observeReport(reportConsumption, time.Now(), &err)
	if err := checkRequest(companyID, month); err != nil {
		return nil, err
	}
	snap, err := s.load(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	stored, err := s.repos.Allocations.ListPayloads(ctx, companyID, month)
	if err != nil {
		return nil, fmt.Errorf("allocation service: list allocations: %w", err)
	}

	rows := resultFromPayloads(month, stored, snap.input).Allocations
	views := reporting.GroupAllocationsByConsumptionSite(rows, snap.input.ConsumptionUnits, snap.dir)
	if access == nil {
		return views, nil
	}
	visible := views[:0]
	for _, v := range views {
		if access.HasSiteAccess(v.ConsumptionSiteID, allocation.SiteTypeConsumption) {
			visible = append(visible, v)
		}
	}
	return visible, nil
}

// SiteTotals returns per production site totals of a month's stored rows.
func (s *Service) SiteTotals(ctx context.Context, companyID string, month allocation.MonthKey) (out []reporting.SiteMonthTotal, err error) {
	defer observeReport(reportSiteTotals, time.Now(), &err)
	stored, err := s.List(ctx, companyID, month)
	if err != nil {
		return nil, err
	}
	rows := make([]allocation.Allocation, 0, len(stored))
	for _, p := range stored {
		rows = append(rows, p.Allocation())
	}
	return reporting.SiteMonthTotals(rows), nil
}

// OAChargeReport prices a month's stored allocations with the configured
// open-access rate table.
func (s *Service) OAChargeReport(ctx context.Context, companyID string, month allocation.MonthKey) (out reporting.OAChargeReport, err error) {
	defer observeReport(reportOACharges, time.Now(), &err)
	if s.charges == nil {
		return reporting.OAChargeReport{}, reporting.ErrNoChargeTable
	}
	if err := checkRequest(companyID, month); err != nil {
		return reporting.OAChargeReport{}, err
	}
	siteList, err := s.repos.Sites.ListProductionSites(ctx, companyID)
	if err != nil {
		return reporting.OAChargeReport{}, fmt.Errorf("allocation service: production sites: %w", err)
	}
	stored, err := s.repos.Allocations.ListPayloads(ctx, companyID, month)
	if err != nil {
		return reporting.OAChargeReport{}, fmt.Errorf("allocation service: list allocations: %w", err)
	}
	rows := make([]allocation.Allocation, 0, len(stored))
	for _, p := range stored {
		rows = append(rows, p.Allocation())
	}
	return reporting.ComputeOACharges(rows, s.charges, sites.NewDirectory(siteList, nil))
}
