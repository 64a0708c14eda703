package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"energy-allocation/internal/allocation/application"
	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

// ErrEmptyKey is returned when a payload has no partition or sort key.
var ErrEmptyKey = errors.New("memory store: empty key")

type unitKey struct {
	company string
	site    string
	month   allocation.MonthKey
}

type companyMonth struct {
	company string
	month   allocation.MonthKey
}

// Store is an in-memory implementation of every allocation repository port.
type Store struct {
	mu sync.RWMutex

	production    map[unitKey]allocation.ProductionUnit
	consumption   map[unitKey]allocation.ConsumptionUnit
	shareholdings []allocation.Shareholding
	banking       map[unitKey]allocation.BankingUnit
	payloads      map[application.Key]application.Payload
	overrides     map[companyMonth]allocation.ManualAllocations
	prodSites     map[string]sites.ProductionSite
	consSites     map[string]sites.ConsumptionSite
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		production:  make(map[unitKey]allocation.ProductionUnit),
		consumption: make(map[unitKey]allocation.ConsumptionUnit),
		banking:     make(map[unitKey]allocation.BankingUnit),
		payloads:    make(map[application.Key]application.Payload),
		overrides:   make(map[companyMonth]allocation.ManualAllocations),
		prodSites:   make(map[string]sites.ProductionSite),
		consSites:   make(map[string]sites.ConsumptionSite),
	}
}

// Repositories exposes the store as every service port.
func (s *Store) Repositories() application.Repositories {
	return application.Repositories{
		Units:         s,
		Shareholdings: s,
		Banking:       s,
		Allocations:   s,
		Overrides:     s,
		Sites:         s,
	}
}

// PutProductionUnit stores a production unit, replacing one with the same key.
func (s *Store) PutProductionUnit(unit allocation.ProductionUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.production[unitKey{unit.CompanyID, unit.ProductionSiteID, unit.Month}] = unit
}

// PutConsumptionUnit stores a consumption unit, replacing one with the same key.
func (s *Store) PutConsumptionUnit(unit allocation.ConsumptionUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumption[unitKey{unit.CompanyID, unit.ConsumptionSiteID, unit.Month}] = unit
}

// AddShareholding appends a shareholding.
func (s *Store) AddShareholding(sh allocation.Shareholding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shareholdings = append(s.shareholdings, sh)
}

// ListProductionUnits returns a company's units for month ordered by site id.
func (s *Store) ListProductionUnits(_ context.Context, companyID string, month allocation.MonthKey) ([]allocation.ProductionUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []allocation.ProductionUnit
	for key, unit := range s.production {
		if key.company == companyID && key.month == month {
			out = append(out, unit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductionSiteID < out[j].ProductionSiteID })
	return out, nil
}

// ListConsumptionUnits returns the units of the given companies for month.
func (s *Store) ListConsumptionUnits(_ context.Context, companyIDs []string, month allocation.MonthKey) ([]allocation.ConsumptionUnit, error) {
	wanted := make(map[string]struct{}, len(companyIDs))
	for _, id := range companyIDs {
		wanted[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []allocation.ConsumptionUnit
	for key, unit := range s.consumption {
		if _, ok := wanted[key.company]; ok && key.month == month {
			out = append(out, unit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConsumptionSiteID < out[j].ConsumptionSiteID })
	return out, nil
}

// ListShareholdings returns a generator company's shareholdings.
func (s *Store) ListShareholdings(_ context.Context, generatorCompanyID string) ([]allocation.Shareholding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []allocation.Shareholding
	for _, sh := range s.shareholdings {
		if sh.GeneratorCompanyID == generatorCompanyID {
			out = append(out, sh)
		}
	}
	return out, nil
}

// ListBankingUnits returns a company's banking records of a financial year.
func (s *Store) ListBankingUnits(_ context.Context, companyID string, financialYear int) ([]allocation.BankingUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []allocation.BankingUnit
	for key, unit := range s.banking {
		if key.company == companyID && key.month.Valid() && key.month.FinancialYear() == financialYear {
			out = append(out, unit)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductionSiteID != out[j].ProductionSiteID {
			return out[i].ProductionSiteID < out[j].ProductionSiteID
		}
		return out[i].Month.Before(out[j].Month)
	})
	return out, nil
}

// SaveBankingUnit upserts a banking record.
func (s *Store) SaveBankingUnit(_ context.Context, unit allocation.BankingUnit) error {
	if unit.ProductionSiteID == "" || !unit.Month.Valid() {
		return errors.New("memory store: invalid banking unit")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banking[unitKey{unit.CompanyID, unit.ProductionSiteID, unit.Month}] = unit
	return nil
}

// DeleteBankingUnit removes a site's banking record for month, if any.
func (s *Store) DeleteBankingUnit(_ context.Context, companyID, productionSiteID string, month allocation.MonthKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banking, unitKey{companyID, productionSiteID, month})
	return nil
}

// SavePayloads upserts payloads on (pk, sk, type).
func (s *Store) SavePayloads(_ context.Context, payloads []application.Payload) error {
	for _, p := range payloads {
		if p.PK == "" || p.SK == "" {
			return ErrEmptyKey
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range payloads {
		s.payloads[p.Key()] = p
	}
	return nil
}

// ListPayloads returns a company's payloads for month ordered by key.
func (s *Store) ListPayloads(_ context.Context, companyID string, month allocation.MonthKey) ([]application.Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []application.Payload
	for _, p := range s.payloads {
		if p.CompanyID == companyID && p.Month == month {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PK != out[j].PK {
			return out[i].PK < out[j].PK
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// DeletePayloads removes payloads by key. Missing keys are ignored.
func (s *Store) DeletePayloads(_ context.Context, keys []application.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.payloads, k)
	}
	return nil
}

// LoadOverrides returns a copy of the stored override map.
func (s *Store) LoadOverrides(_ context.Context, companyID string, month allocation.MonthKey) (allocation.ManualAllocations, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[companyMonth{companyID, month}].Merge(nil), nil
}

// SaveOverrides replaces the override map of a company month.
func (s *Store) SaveOverrides(_ context.Context, companyID string, month allocation.MonthKey, overrides allocation.ManualAllocations) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[companyMonth{companyID, month}] = overrides.Merge(nil)
	return nil
}

// ListProductionSites returns a company's production sites ordered by id.
func (s *Store) ListProductionSites(_ context.Context, companyID string) ([]sites.ProductionSite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sites.ProductionSite
	for _, site := range s.prodSites {
		if site.CompanyID == companyID {
			out = append(out, site)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListConsumptionSites returns a company's consumption sites ordered by id.
func (s *Store) ListConsumptionSites(_ context.Context, companyID string) ([]sites.ConsumptionSite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sites.ConsumptionSite
	for _, site := range s.consSites {
		if site.CompanyID == companyID {
			out = append(out, site)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveProductionSite upserts a production site.
func (s *Store) SaveProductionSite(_ context.Context, site *sites.ProductionSite) error {
	if site == nil {
		return errors.New("memory store: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prodSites[site.ID] = *site
	return nil
}

// SaveConsumptionSite upserts a consumption site.
func (s *Store) SaveConsumptionSite(_ context.Context, site *sites.ConsumptionSite) error {
	if site == nil {
		return errors.New("memory store: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consSites[site.ID] = *site
	return nil
}

var _ sites.Repository = (*Store)(nil)
