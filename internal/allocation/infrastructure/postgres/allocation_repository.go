package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"energy-allocation/internal/allocation/application"
	allocation "energy-allocation/internal/allocation/domain"
)

const defaultAllocationsTable = "allocations"

// AllocationRepository persists allocation payloads keyed on (pk, sk, type).
type AllocationRepository struct {
	db    *sql.DB
	table string
}

// AllocationOption configures the repository.
type AllocationOption func(*AllocationRepository)

// WithAllocationsTable overrides the payload table name.
func WithAllocationsTable(table string) AllocationOption {
	return func(repo *AllocationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewAllocationRepository constructs a repository.
func NewAllocationRepository(db *sql.DB, opts ...AllocationOption) *AllocationRepository {
	repo := &AllocationRepository{db: db, table: defaultAllocationsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// SavePayloads upserts every payload in one transaction.
func (r *AllocationRepository) SavePayloads(ctx context.Context, payloads []application.Payload) error {
	if r == nil || r.db == nil {
		return errors.New("allocation repo: nil db")
	}
	if len(payloads) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	pk, sk, type, company_id, production_site_id, consumption_site_id, site_name, month,
	c1, c2, c3, c4, c5, manual, version, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
)
ON CONFLICT (pk, sk, type)
DO UPDATE SET
	site_name = EXCLUDED.site_name,
	c1 = EXCLUDED.c1,
	c2 = EXCLUDED.c2,
	c3 = EXCLUDED.c3,
	c4 = EXCLUDED.c4,
	c5 = EXCLUDED.c5,
	manual = EXCLUDED.manual,
	version = EXCLUDED.version,
	updated_at = EXCLUDED.updated_at`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if p.PK == "" || p.SK == "" {
			_ = tx.Rollback()
			return errors.New("allocation repo: empty key")
		}
		_, err := tx.ExecContext(ctx, query,
			p.PK, p.SK, string(p.Type), p.CompanyID, p.ProductionSiteID, p.ConsumptionSiteID, p.SiteName, p.Month.String(),
			p.Allocated.C1, p.Allocated.C2, p.Allocated.C3, p.Allocated.C4, p.Allocated.C5,
			p.Manual, p.Version, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListPayloads loads a company's payloads for month.
func (r *AllocationRepository) ListPayloads(ctx context.Context, companyID string, month allocation.MonthKey) ([]application.Payload, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("allocation repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT pk, sk, type, company_id, production_site_id, consumption_site_id, site_name, month,
	c1, c2, c3, c4, c5, manual, version, created_at, updated_at
FROM %s
WHERE company_id = $1 AND sk = $2
ORDER BY pk, type`, r.table)

	rows, err := r.db.QueryContext(ctx, query, companyID, month.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.Payload
	for rows.Next() {
		var (
			p        application.Payload
			typ      string
			monthKey string
		)
		if err := rows.Scan(
			&p.PK, &p.SK, &typ, &p.CompanyID, &p.ProductionSiteID, &p.ConsumptionSiteID, &p.SiteName, &monthKey,
			&p.Allocated.C1, &p.Allocated.C2, &p.Allocated.C3, &p.Allocated.C4, &p.Allocated.C5,
			&p.Manual, &p.Version, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Type = allocation.Type(typ)
		p.Month = allocation.MonthKey(monthKey)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePayloads removes payloads by key in one transaction.
func (r *AllocationRepository) DeletePayloads(ctx context.Context, keys []application.Key) error {
	if r == nil || r.db == nil {
		return errors.New("allocation repo: nil db")
	}
	if len(keys) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE pk = $1 AND sk = $2 AND type = $3`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, query, k.PK, k.SK, string(k.Type)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// OverrideRepository persists the manual allocation map of a company month,
// one row per overridden cell.
type OverrideRepository struct {
	db *sql.DB
}

// NewOverrideRepository constructs a repository.
func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// LoadOverrides loads the stored cells. Rows whose key no longer parses are skipped.
func (r *OverrideRepository) LoadOverrides(ctx context.Context, companyID string, month allocation.MonthKey) (allocation.ManualAllocations, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("override repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT cell_key, value
FROM allocation_overrides
WHERE company_id = $1 AND month = $2`, companyID, month.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(allocation.ManualAllocations)
	for rows.Next() {
		var (
			cell  string
			value float64
		)
		if err := rows.Scan(&cell, &value); err != nil {
			return nil, err
		}
		key, ok := allocation.ParseManualKey(cell)
		if !ok {
			continue
		}
		out[key] = value
	}
	return out, rows.Err()
}

// SaveOverrides replaces the stored cells of a company month.
func (r *OverrideRepository) SaveOverrides(ctx context.Context, companyID string, month allocation.MonthKey, overrides allocation.ManualAllocations) error {
	if r == nil || r.db == nil {
		return errors.New("override repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM allocation_overrides WHERE company_id = $1 AND month = $2`, companyID, month.String()); err != nil {
		_ = tx.Rollback()
		return err
	}
	for key, value := range overrides {
		_, err := tx.ExecContext(ctx, `
INSERT INTO allocation_overrides (company_id, month, cell_key, value)
VALUES ($1, $2, $3, $4)`, companyID, month.String(), key.String(), value)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
