package application

import (
	"context"

	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

// UnitRepository reads monthly production and consumption units.
type UnitRepository interface {
	ListProductionUnits(ctx context.Context, companyID string, month allocation.MonthKey) ([]allocation.ProductionUnit, error)
	ListConsumptionUnits(ctx context.Context, companyIDs []string, month allocation.MonthKey) ([]allocation.ConsumptionUnit, error)
}

// ShareholdingRepository reads the shareholdings of a generator company.
type ShareholdingRepository interface {
	ListShareholdings(ctx context.Context, generatorCompanyID string) ([]allocation.Shareholding, error)
}

// BankingRepository reads and records banked balances. A month's unit
// mirrors its BANKING row and is removed when the row goes away.
type BankingRepository interface {
	ListBankingUnits(ctx context.Context, companyID string, financialYear int) ([]allocation.BankingUnit, error)
	SaveBankingUnit(ctx context.Context, unit allocation.BankingUnit) error
	DeleteBankingUnit(ctx context.Context, companyID, productionSiteID string, month allocation.MonthKey) error
}

// AllocationRepository stores payloads keyed on (pk, sk, type).
type AllocationRepository interface {
	SavePayloads(ctx context.Context, payloads []Payload) error
	ListPayloads(ctx context.Context, companyID string, month allocation.MonthKey) ([]Payload, error)
	DeletePayloads(ctx context.Context, keys []Key) error
}

// OverrideRepository stores the manual allocation map of a company month.
type OverrideRepository interface {
	LoadOverrides(ctx context.Context, companyID string, month allocation.MonthKey) (allocation.ManualAllocations, error)
	SaveOverrides(ctx context.Context, companyID string, month allocation.MonthKey, overrides allocation.ManualAllocations) error
}

// SiteRepository lists site master data.
type SiteRepository interface {
	ListProductionSites(ctx context.Context, companyID string) ([]sites.ProductionSite, error)
	ListConsumptionSites(ctx context.Context, companyID string) ([]sites.ConsumptionSite, error)
}

// Repositories groups the persistence ports of the service.
type Repositories struct {
	Units         UnitRepository
	Shareholdings ShareholdingRepository
	Banking       BankingRepository
	Allocations   AllocationRepository
	Overrides     OverrideRepository
	Sites         SiteRepository
}
