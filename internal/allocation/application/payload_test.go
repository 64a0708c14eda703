package application_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-allocation/internal/allocation/application"
	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

func payloadContext() application.PayloadContext {
	return application.PayloadContext{
		CompanyID: "CTX",
		Sites: sites.NewDirectory([]sites.ProductionSite{
			{ID: "P1", CompanyID: "GEN", Name: "Wind One"},
			{ID: "P_ORPHAN", Name: "No Owner"},
		}, nil),
	}
}

func TestBuildAllocationPayload(t *testing.T) {
	clock := newClock()
	builder := application.NewPayloadBuilder(clock)
	row := allocation.Allocation{
		ProductionSiteID:  "P1",
		ConsumptionSiteID: "S1",
		Allocated:         allocation.Units{C1: 10.4, C2: 10.6, C3: -3},
	}

	p, err := builder.Build(row, "allocation", "7", 2024, payloadContext())
	require.NoError(t, err)

	assert.Equal(t, "GEN_P1_S1", p.PK)
	assert.Equal(t, "072024", p.SK)
	assert.Equal(t, "GEN", p.CompanyID)
	assert.Equal(t, allocation.TypeAllocation, p.Type)
	assert.Equal(t, "Wind One", p.SiteName)
	assert.Equal(t, allocation.Units{C1: 10, C2: 11}, p.Allocated)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, clock.now, p.CreatedAt)
	assert.Equal(t, clock.now, p.UpdatedAt)
}

func TestBuildRemainderDropsConsumptionSite(t *testing.T) {
	builder := application.NewPayloadBuilder(newClock())
	created := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	row := allocation.Allocation{
		ProductionSiteID:  "P1",
		ConsumptionSiteID: "S1",
		Month:             "2024-07",
		Type:              allocation.TypeBanking,
		Version:           3,
		CreatedAt:         created,
	}

	p, err := builder.Build(row, "", "", 0, payloadContext())
	require.NoError(t, err)
	assert.Equal(t, "GEN_P1", p.PK)
	assert.Empty(t, p.ConsumptionSiteID)
	assert.Equal(t, 3, p.Version)
	assert.Equal(t, created, p.CreatedAt)
}

func TestBuildCompanyFallsBackToContext(t *testing.T) {
	builder := application.NewPayloadBuilder(newClock())
	p, err := builder.Build(allocation.Allocation{ProductionSiteID: "P_ORPHAN"}, allocation.TypeLapse, "072024", 0, payloadContext())
	require.NoError(t, err)
	assert.Equal(t, "CTX_P_ORPHAN", p.PK)

	pc := payloadContext()
	pc.CompanyID = ""
	_, err = builder.Build(allocation.Allocation{ProductionSiteID: "P_ORPHAN"}, allocation.TypeLapse, "072024", 0, pc)
	assert.ErrorIs(t, err, allocation.ErrMissingCompanyID)
	var missing *allocation.MissingCompanyIDError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "P_ORPHAN", missing.ProductionSiteID)
}

func TestBuildRejectsInvalidInput(t *testing.T) {
	builder := application.NewPayloadBuilder(newClock())
	pc := payloadContext()

	_, err := builder.Build(allocation.Allocation{ProductionSiteID: "P1", ConsumptionSiteID: "S1"}, "TRANSFER", "072024", 0, pc)
	assert.ErrorIs(t, err, allocation.ErrInvalidType)

	_, err = builder.Build(allocation.Allocation{ProductionSiteID: "P1", ConsumptionSiteID: "S1"}, allocation.TypeAllocation, "", 0, pc)
	assert.ErrorIs(t, err, allocation.ErrInvalidMonth)

	_, err = builder.Build(allocation.Allocation{ProductionSiteID: "P9", ConsumptionSiteID: "S1"}, allocation.TypeAllocation, "072024", 0, pc)
	assert.ErrorIs(t, err, allocation.ErrProductionSiteNotFound)
	var notFound *allocation.ProductionSiteNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, allocation.MonthKey("072024"), notFound.Month)

	_, err = builder.Build(allocation.Allocation{ProductionSiteID: "P1"}, allocation.TypeAllocation, "072024", 0, pc)
	assert.ErrorIs(t, err, allocation.ErrMissingConsumptionSite)
}

func TestBuildResultStopsAtFirstFailure(t *testing.T) {
	builder := application.NewPayloadBuilder(newClock())
	result := allocation.Result{
		Month: july,
		Allocations: []allocation.Allocation{
			{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Type: allocation.TypeAllocation},
			{ProductionSiteID: "P1", Type: allocation.TypeBanking},
		},
	}
	payloads, err := builder.BuildResult(result, payloadContext())
	require.NoError(t, err)
	assert.Len(t, payloads, 2)

	result.Allocations = append(result.Allocations, allocation.Allocation{ProductionSiteID: "P9", Type: allocation.TypeLapse})
	_, err = builder.BuildResult(result, payloadContext())
	assert.ErrorIs(t, err, allocation.ErrProductionSiteNotFound)
}

func TestPayloadAttributesOmitEmptyFields(t *testing.T) {
	p := application.Payload{
		PK:               "GEN_P1",
		SK:               "072024",
		CompanyID:        "GEN",
		ProductionSiteID: "P1",
		Month:            july,
		Type:             allocation.TypeLapse,
		Allocated:        allocation.Units{C1: 2},
		Version:          1,
		UpdatedAt:        time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	attrs := p.Attributes()

	assert.Equal(t, "GEN", attrs["companyId"])
	assert.Equal(t, "2024-08-01T00:00:00Z", attrs["updatedAt"])
	for _, key := range []string{"consumptionSiteId", "siteName", "manual", "createdAt"} {
		_, ok := attrs[key]
		assert.False(t, ok, key)
	}
	assert.Equal(t, 2.0, attrs["allocated"].(map[string]float64)["c1"])
}
