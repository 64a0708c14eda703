package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sites "energy-allocation/internal/sites/domain"
)

const (
	defaultProductionTable  = "production_sites"
	defaultConsumptionTable = "consumption_sites"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by the repository.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SiteRepository is a Postgres implementation of sites.Repository.
type SiteRepository struct {
	db               DBTX
	productionTable  string
	consumptionTable string
}

// Option configures the repository.
type Option func(*SiteRepository)

// WithProductionTable overrides the production site table name.
func WithProductionTable(table string) Option {
	return func(repo *SiteRepository) {
		if table != "" {
			repo.productionTable = table
		}
	}
}

// WithConsumptionTable overrides the consumption site table name.
func WithConsumptionTable(table string) Option {
	return func(repo *SiteRepository) {
		if table != "" {
			repo.consumptionTable = table
		}
	}
}

// NewSiteRepository constructs a repository.
func NewSiteRepository(db DBTX, opts ...Option) *SiteRepository {
	repo := &SiteRepository{db: db, productionTable: defaultProductionTable, consumptionTable: defaultConsumptionTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListProductionSites loads a company's production sites.
func (r *SiteRepository) ListProductionSites(ctx context.Context, companyID string) ([]sites.ProductionSite, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if companyID == "" {
		return nil, errors.New("site repo: empty company id")
	}

	query := fmt.Sprintf(`
SELECT id, company_id, name, site_type, banking_enabled, commission_date, capacity_kw, region, created_at, updated_at
FROM %s
WHERE company_id = $1
ORDER BY id`, r.productionTable)

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sites.ProductionSite
	for rows.Next() {
		var (
			site       sites.ProductionSite
			commission sql.NullTime
		)
		if err := rows.Scan(
			&site.ID,
			&site.CompanyID,
			&site.Name,
			&site.Type,
			&site.BankingEnabled,
			&commission,
			&site.CapacityKW,
			&site.Region,
			&site.CreatedAt,
			&site.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if commission.Valid {
			site.CommissionDate = commission.Time.UTC()
		}
		site.CreatedAt = site.CreatedAt.UTC()
		site.UpdatedAt = site.UpdatedAt.UTC()
		out = append(out, site)
	}
	return out, rows.Err()
}

// ListConsumptionSites loads a company's consumption sites.
func (r *SiteRepository) ListConsumptionSites(ctx context.Context, companyID string) ([]sites.ConsumptionSite, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("site repo: nil db")
	}
	if companyID == "" {
		return nil, errors.New("site repo: empty company id")
	}

	query := fmt.Sprintf(`
SELECT id, company_id, name, site_type, region, created_at, updated_at
FROM %s
WHERE company_id = $1
ORDER BY id`, r.consumptionTable)

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sites.ConsumptionSite
	for rows.Next() {
		var site sites.ConsumptionSite
		if err := rows.Scan(
			&site.ID,
			&site.CompanyID,
			&site.Name,
			&site.Type,
			&site.Region,
			&site.CreatedAt,
			&site.UpdatedAt,
		); err != nil {
			return nil, err
		}
		site.CreatedAt = site.CreatedAt.UTC()
		site.UpdatedAt = site.UpdatedAt.UTC()
		out = append(out, site)
	}
	return out, rows.Err()
}

// SaveProductionSite upserts a production site.
func (r *SiteRepository) SaveProductionSite(ctx context.Context, site *sites.ProductionSite) error {
	if r == nil || r.db == nil {
		return errors.New("site repo: nil db")
	}
	if site == nil {
		return errors.New("site repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}

	var commission any
	if !site.CommissionDate.IsZero() {
		commission = site.CommissionDate.UTC()
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, company_id, name, site_type, banking_enabled, commission_date, capacity_kw, region
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (id)
DO UPDATE SET
	company_id = EXCLUDED.company_id,
	name = EXCLUDED.name,
	site_type = EXCLUDED.site_type,
	banking_enabled = EXCLUDED.banking_enabled,
	commission_date = EXCLUDED.commission_date,
	capacity_kw = EXCLUDED.capacity_kw,
	region = EXCLUDED.region,
	updated_at = NOW()`, r.productionTable)

	if _, err := r.db.ExecContext(ctx, query,
		site.ID, site.CompanyID, site.Name, site.Type, site.BankingEnabled, commission, site.CapacityKW, site.Region,
	); err != nil {
		return err
	}
	touch(&site.CreatedAt, &site.UpdatedAt)
	return nil
}

// SaveConsumptionSite upserts a consumption site.
func (r *SiteRepository) SaveConsumptionSite(ctx context.Context, site *sites.ConsumptionSite) error {
	if r == nil || r.db == nil {
		return errors.New("site repo: nil db")
	}
	if site == nil {
		return errors.New("site repo: nil site")
	}
	if err := site.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id, company_id, name, site_type, region
) VALUES (
	$1, $2, $3, $4, $5
)
ON CONFLICT (id)
DO UPDATE SET
	company_id = EXCLUDED.company_id,
	name = EXCLUDED.name,
	site_type = EXCLUDED.site_type,
	region = EXCLUDED.region,
	updated_at = NOW()`, r.consumptionTable)

	if _, err := r.db.ExecContext(ctx, query, site.ID, site.CompanyID, site.Name, site.Type, site.Region); err != nil {
		return err
	}
	touch(&site.CreatedAt, &site.UpdatedAt)
	return nil
}

func touch(createdAt, updatedAt *time.Time) {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}
