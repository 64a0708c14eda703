package application

import (
	"errors"
	"strings"
	"time"

	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// PayloadContext supplies the company and site directory a payload is built against.
type PayloadContext struct {
	CompanyID string
	Sites     sites.Directory
}

// Payload is an allocation decision in its persisted shape.
type Payload struct {
	PK                string
	SK                string
	CompanyID         string
	ProductionSiteID  string
	ConsumptionSiteID string
	SiteName          string
	Month             allocation.MonthKey
	Type              allocation.Type
	Allocated         allocation.Units
	Manual            bool
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Key identifies a payload in storage.
type Key struct {
	PK   string
	SK   string
	Type allocation.Type
}

// Key returns the storage identity of the payload.
func (p Payload) Key() Key {
	return Key{PK: p.PK, SK: p.SK, Type: p.Type}
}

// Allocation converts the payload back to a domain row.
func (p Payload) Allocation() allocation.Allocation {
	return allocation.Allocation{
		CompanyID:         p.CompanyID,
		ProductionSiteID:  p.ProductionSiteID,
		ConsumptionSiteID: p.ConsumptionSiteID,
		Month:             p.Month,
		Type:              p.Type,
		Allocated:         p.Allocated,
		Manual:            p.Manual,
		Version:           p.Version,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

// Attributes renders the payload as a flat record without empty fields.
func (p Payload) Attributes() map[string]any {
	out := map[string]any{
		"pk":        p.PK,
		"sk":        p.SK,
		"month":     p.Month.String(),
		"type":      string(p.Type),
		"allocated": p.Allocated.Map(),
		"version":   p.Version,
	}
	putString(out, "companyId", p.CompanyID)
	putString(out, "productionSiteId", p.ProductionSiteID)
	putString(out, "consumptionSiteId", p.ConsumptionSiteID)
	putString(out, "siteName", p.SiteName)
	if p.Manual {
		out["manual"] = true
	}
	if !p.CreatedAt.IsZero() {
		out["createdAt"] = p.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		out["updatedAt"] = p.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func putString(m map[string]any, key, value string) {
	if strings.TrimSpace(value) != "" {
		m[key] = value
	}
}

// PayloadBuilder maps allocation decisions into storable payloads.
type PayloadBuilder struct {
	clock Clock
}

// NewPayloadBuilder constructs a builder. A nil clock uses UTC wall time.
func NewPayloadBuilder(clock Clock) *PayloadBuilder {
	if clock == nil {
		clock = systemClock{}
	}
	return &PayloadBuilder{clock: clock}
}

// Build resolves month and keys for one decision. typ overrides the row's
// own type when set; month may be "7", "07", "072024" or "2024-07", with year
// filling in a bare month number.
func (b *PayloadBuilder) Build(row allocation.Allocation, typ allocation.Type, month string, year int, pc PayloadContext) (Payload, error) {
	if b == nil {
		return Payload{}, errors.New("payload builder: nil builder")
	}
	if typ == "" {
		typ = row.Type
	}
	typ, err := allocation.ParseType(string(typ))
	if err != nil {
		return Payload{}, err
	}
	if month == "" {
		month = row.Month.String()
	}
	key, err := allocation.ResolveMonthKey(month, year)
	if err != nil {
		return Payload{}, err
	}

	site, ok := pc.Sites.ProductionSite(row.ProductionSiteID)
	if row.ProductionSiteID == "" || !ok {
		return Payload{}, &allocation.ProductionSiteNotFoundError{
			ProductionSiteID:  row.ProductionSiteID,
			ConsumptionSiteID: row.ConsumptionSiteID,
			Month:             key,
		}
	}
	companyID := firstNonEmpty(row.CompanyID, site.CompanyID, pc.CompanyID)
	if companyID == "" {
		return Payload{}, &allocation.MissingCompanyIDError{
			ProductionSiteID:  row.ProductionSiteID,
			ConsumptionSiteID: row.ConsumptionSiteID,
			Month:             key,
		}
	}

	consID := row.ConsumptionSiteID
	if typ.IsRemainder() {
		consID = ""
	} else if consID == "" {
		return Payload{}, allocation.ErrMissingConsumptionSite
	}

	version := row.Version
	if version <= 0 {
		version = 1
	}
	now := b.clock.Now().UTC()
	createdAt := row.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return Payload{
		PK:                PartitionKey(companyID, row.ProductionSiteID, consID),
		SK:                key.String(),
		CompanyID:         companyID,
		ProductionSiteID:  row.ProductionSiteID,
		ConsumptionSiteID: consID,
		SiteName:          site.Name,
		Month:             key,
		Type:              typ,
		Allocated:         row.Allocated.Rounded(),
		Manual:            row.Manual,
		Version:           version,
		CreatedAt:         createdAt,
		UpdatedAt:         now,
	}, nil
}

// BuildResult builds every row of a calculation result. It stops at the
// first precondition failure.
func (b *PayloadBuilder) BuildResult(result allocation.Result, pc PayloadContext) ([]Payload, error) {
	out := make([]Payload, 0, len(result.Allocations))
	for _, row := range result.Allocations {
		month := row.Month.String()
		if month == "" {
			month = result.Month.String()
		}
		payload, err := b.Build(row, row.Type, month, 0, pc)
		if err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, nil
}

// PartitionKey joins the composite partition key. consumptionSiteID is
// omitted for BANKING and LAPSE rows.
func PartitionKey(companyID, productionSiteID, consumptionSiteID string) string {
	pk := companyID + "_" + productionSiteID
	if consumptionSiteID != "" {
		pk += "_" + consumptionSiteID
	}
	return pk
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
