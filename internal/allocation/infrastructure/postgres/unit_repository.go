package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	allocation "energy-allocation/internal/allocation/domain"
)

const (
	defaultProductionUnitsTable  = "production_units"
	defaultConsumptionUnitsTable = "consumption_units"
	defaultProductionSitesTable  = "production_sites"
	defaultConsumptionSitesTable = "consumption_sites"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the read repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UnitRepository reads monthly production and consumption units joined with
// site master data.
type UnitRepository struct {
	db DBTX
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db DBTX) *UnitRepository {
	return &UnitRepository{db: db}
}

// ListProductionUnits loads a generator company's production for month.
func (r *UnitRepository) ListProductionUnits(ctx context.Context, companyID string, month allocation.MonthKey) ([]allocation.ProductionUnit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT u.production_site_id, u.company_id, u.month, u.c1, u.c2, u.c3, u.c4, u.c5,
	COALESCE(s.name, ''), COALESCE(s.site_type, ''), COALESCE(s.banking_enabled, FALSE), s.commission_date
FROM %s u
LEFT JOIN %s s ON s.id = u.production_site_id
WHERE u.company_id = $1 AND u.month = $2
ORDER BY u.production_site_id`, defaultProductionUnitsTable, defaultProductionSitesTable)

	rows, err := r.db.QueryContext(ctx, query, companyID, month.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.ProductionUnit
	for rows.Next() {
		var (
			pu         allocation.ProductionUnit
			monthKey   string
			commission sql.NullTime
		)
		if err := rows.Scan(
			&pu.ProductionSiteID, &pu.CompanyID, &monthKey,
			&pu.Units.C1, &pu.Units.C2, &pu.Units.C3, &pu.Units.C4, &pu.Units.C5,
			&pu.SiteName, &pu.Type, &pu.BankingEnabled, &commission,
		); err != nil {
			return nil, err
		}
		pu.Month = allocation.MonthKey(monthKey)
		if commission.Valid {
			pu.CommissionDate = commission.Time.UTC()
		}
		out = append(out, pu)
	}
	return out, rows.Err()
}

// ListConsumptionUnits loads the demand of every listed company for month.
func (r *UnitRepository) ListConsumptionUnits(ctx context.Context, companyIDs []string, month allocation.MonthKey) ([]allocation.ConsumptionUnit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if len(companyIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT u.consumption_site_id, u.company_id, u.month, u.c1, u.c2, u.c3, u.c4, u.c5, COALESCE(s.name, '')
FROM %s u
LEFT JOIN %s s ON s.id = u.consumption_site_id
WHERE u.company_id = ANY($1) AND u.month = $2
ORDER BY u.consumption_site_id`, defaultConsumptionUnitsTable, defaultConsumptionSitesTable)

	rows, err := r.db.QueryContext(ctx, query, companyIDs, month.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.ConsumptionUnit
	for rows.Next() {
		var (
			cu       allocation.ConsumptionUnit
			monthKey string
		)
		if err := rows.Scan(
			&cu.ConsumptionSiteID, &cu.CompanyID, &monthKey,
			&cu.Units.C1, &cu.Units.C2, &cu.Units.C3, &cu.Units.C4, &cu.Units.C5,
			&cu.SiteName,
		); err != nil {
			return nil, err
		}
		cu.Month = allocation.MonthKey(monthKey)
		out = append(out, cu)
	}
	return out, rows.Err()
}

// ShareholdingRepository reads generator shareholdings.
type ShareholdingRepository struct {
	db DBTX
}

// NewShareholdingRepository constructs a repository.
func NewShareholdingRepository(db DBTX) *ShareholdingRepository {
	return &ShareholdingRepository{db: db}
}

// ListShareholdings loads the shareholdings of a generator company.
func (r *ShareholdingRepository) ListShareholdings(ctx context.Context, generatorCompanyID string) ([]allocation.Shareholding, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("shareholding repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT generator_company_id, shareholder_company_id, percentage
FROM shareholdings
WHERE generator_company_id = $1
ORDER BY shareholder_company_id`, generatorCompanyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.Shareholding
	for rows.Next() {
		var sh allocation.Shareholding
		if err := rows.Scan(&sh.GeneratorCompanyID, &sh.ShareholderCompanyID, &sh.Percentage); err != nil {
			return nil, err
		}
		out = append(out, sh)
	}
	return out, rows.Err()
}

// BankingRepository persists banked balances.
type BankingRepository struct {
	db DBTX
}

// NewBankingRepository constructs a repository.
func NewBankingRepository(db DBTX) *BankingRepository {
	return &BankingRepository{db: db}
}

// ListBankingUnits loads a company's banking records of a financial year.
func (r *BankingRepository) ListBankingUnits(ctx context.Context, companyID string, financialYear int) ([]allocation.BankingUnit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("banking repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT production_site_id, company_id, site_name, month, c1, c2, c3, c4, c5
FROM banking_units
WHERE company_id = $1 AND financial_year = $2
ORDER BY production_site_id, month`, companyID, financialYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []allocation.BankingUnit
	for rows.Next() {
		var (
			bu       allocation.BankingUnit
			monthKey string
		)
		if err := rows.Scan(
			&bu.ProductionSiteID, &bu.CompanyID, &bu.SiteName, &monthKey,
			&bu.Units.C1, &bu.Units.C2, &bu.Units.C3, &bu.Units.C4, &bu.Units.C5,
		); err != nil {
			return nil, err
		}
		bu.Month = allocation.MonthKey(monthKey)
		out = append(out, bu)
	}
	return out, rows.Err()
}

// SaveBankingUnit upserts a banking record on (company, site, month).
func (r *BankingRepository) SaveBankingUnit(ctx context.Context, unit allocation.BankingUnit) error {
	if r == nil || r.db == nil {
		return errors.New("banking repo: nil db")
	}
	if unit.ProductionSiteID == "" || !unit.Month.Valid() {
		return errors.New("banking repo: invalid banking unit")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO banking_units (
	company_id, production_site_id, month, financial_year, site_name, c1, c2, c3, c4, c5
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
)
ON CONFLICT (company_id, production_site_id, month)
DO UPDATE SET
	site_name = EXCLUDED.site_name,
	c1 = EXCLUDED.c1,
	c2 = EXCLUDED.c2,
	c3 = EXCLUDED.c3,
	c4 = EXCLUDED.c4,
	c5 = EXCLUDED.c5,
	updated_at = NOW()`,
		unit.CompanyID, unit.ProductionSiteID, unit.Month.String(), unit.Month.FinancialYear(), unit.SiteName,
		unit.Units.C1, unit.Units.C2, unit.Units.C3, unit.Units.C4, unit.Units.C5,
	)
	return err
}

// DeleteBankingUnit removes the banking record of a site's month.
func (r *BankingRepository) DeleteBankingUnit(ctx context.Context, companyID, productionSiteID string, month allocation.MonthKey) error {
	if r == nil || r.db == nil {
		return errors.New("banking repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM banking_units
WHERE company_id = $1 AND production_site_id = $2 AND month = $3`,
		companyID, productionSiteID, month.String())
	return err
}
