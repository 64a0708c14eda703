package reporting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allocation "energy-allocation/internal/allocation/domain"
	sites "energy-allocation/internal/sites/domain"
)

func TestAggregateBankingByFinancialYear(t *testing.T) {
	records := []allocation.BankingUnit{
		{ProductionSiteID: "P1", Month: "032024", Units: allocation.Units{C1: 100}},
		{ProductionSiteID: "P1", Month: "042024", Units: allocation.Units{C1: 10, C2: 5}},
		{ProductionSiteID: "P1", Month: "122024", Units: allocation.Units{C1: 1, C3: -7}},
		{ProductionSiteID: "P1", Month: "032025", Units: allocation.Units{C4: 2}},
		{ProductionSiteID: "P0", Month: "052024", SiteName: "Solar", Units: allocation.Units{C5: 3}},
		{ProductionSiteID: "P2", Month: "042025", Units: allocation.Units{C1: 50}},
		{ProductionSiteID: "P3", Month: "bad", Units: allocation.Units{C1: 50}},
	}

	got := AggregateBankingByFinancialYear(records, 2024)

	require.Len(t, got, 2)
	assert.Equal(t, "P0", got[0].ProductionSiteID)
	assert.Equal(t, "Solar", got[0].SiteName)
	assert.Equal(t, "2024-2025", got[1].FinancialYear)
	assert.Equal(t, allocation.Units{C1: 11, C2: 5, C4: 2}, got[1].Units)
	assert.Equal(t, []string{"042024", "122024", "032025"}, got[1].Months)
	assert.Equal(t, 18.0, got[1].Total)
	assert.Equal(t, 5.0, got[1].Peak)
}

func TestAggregateBankingMarchBelongsToPreviousYear(t *testing.T) {
	records := []allocation.BankingUnit{{ProductionSiteID: "P1", Month: "032024", Units: allocation.Units{C1: 4}}}

	assert.Empty(t, AggregateBankingByFinancialYear(records, 2024))
	got := AggregateBankingByFinancialYear(records, 2023)
	require.Len(t, got, 1)
	assert.Equal(t, "2023-2024", got[0].FinancialYear)
}

func testDirectory() sites.Directory {
	return sites.NewDirectory([]sites.ProductionSite{
		{ID: "PNEW", CompanyID: "GEN", Name: "New Wind", Type: "wind", CommissionDate: time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "POLD", CompanyID: "GEN", Name: "Old Solar", Type: "solar", CommissionDate: time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)},
	}, []sites.ConsumptionSite{{ID: "S1", CompanyID: "A", Name: "Mill"}})
}

func TestGroupAllocationsByConsumptionSite(t *testing.T) {
	rows := []allocation.Allocation{
		{ProductionSiteID: "PNEW", ConsumptionSiteID: "S1", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C1: 30}},
		{ProductionSiteID: "POLD", ConsumptionSiteID: "S1", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C1: 50, C2: 10}},
		{ProductionSiteID: "POLD", Month: "072024", Type: allocation.TypeBanking, Allocated: allocation.Units{C1: 5}},
		{ProductionSiteID: "PX", ConsumptionSiteID: "S2", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C3: 4}},
	}
	consumption := []allocation.ConsumptionUnit{{ConsumptionSiteID: "S1", Units: allocation.Units{C1: 100, C2: 10}}}
	before := append([]allocation.Allocation(nil), rows...)

	views := GroupAllocationsByConsumptionSite(rows, consumption, testDirectory())

	require.Len(t, views, 2)
	s1 := views[0]
	assert.Equal(t, "Mill", s1.SiteName)
	assert.Equal(t, "A", s1.CompanyID)
	require.Len(t, s1.Rows, 2)
	assert.Equal(t, "POLD", s1.Rows[0].ProductionSiteID)
	assert.Equal(t, allocation.Units{C1: 100, C2: 10}, s1.Rows[0].Available)
	assert.Equal(t, allocation.Units{C1: 50}, s1.Rows[0].Remaining)
	assert.Equal(t, "PNEW", s1.Rows[1].ProductionSiteID)
	assert.Equal(t, allocation.Units{C1: 50}, s1.Rows[1].Available)
	assert.Equal(t, allocation.Units{C1: 20}, s1.Remaining)
	assert.Equal(t, allocation.Units{C1: 80, C2: 10}, s1.Allocated)

	s2 := views[1]
	assert.Equal(t, allocation.Units{}, s2.Demand)
	assert.Equal(t, allocation.Units{}, s2.Rows[0].Remaining)
	assert.Equal(t, before, rows)
}

func TestSiteMonthTotals(t *testing.T) {
	rows := []allocation.Allocation{
		{ProductionSiteID: "P2", Month: "072024", Type: allocation.TypeLapse, Allocated: allocation.Units{C1: 1}},
		{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Month: "082024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C2: 2}},
		{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C1: 10, C2: 4}},
		{ProductionSiteID: "P1", ConsumptionSiteID: "S2", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C3: 6}},
		{ProductionSiteID: "P1", Month: "072024", Type: allocation.TypeBanking, Allocated: allocation.Units{C5: 5}},
	}

	totals := SiteMonthTotals(rows)

	require.Len(t, totals, 3)
	assert.Equal(t, "P1", totals[0].ProductionSiteID)
	assert.Equal(t, "072024", totals[0].Month)
	assert.Equal(t, allocation.Units{C1: 10, C2: 4, C3: 6}, totals[0].Allocated)
	assert.Equal(t, allocation.Units{C5: 5}, totals[0].Banked)
	assert.Equal(t, 25.0, totals[0].Total)
	assert.Equal(t, 10.0, totals[0].Peak)
	assert.Equal(t, 15.0, totals[0].NonPeak)
	assert.Equal(t, "082024", totals[1].Month)
	assert.Equal(t, allocation.Units{C1: 1}, totals[2].Lapsed)
}

const ratesYAML = `
currency: INR
rates:
  - site_type: wind
    effective_from: "042023"
    per_unit: "0.50"
  - site_type: wind
    effective_from: "2024-04"
    per_unit: "0.75"
    peak_surcharge: "0.10"
  - site_type: "*"
    effective_from: "012020"
    per_unit: "1.00"
`

func TestOAChargeTableLookup(t *testing.T) {
	table, err := ParseOAChargeTable([]byte(ratesYAML))
	require.NoError(t, err)

	rate, ok := table.Lookup("Wind", "032024")
	require.True(t, ok)
	assert.True(t, rate.PerUnit.Equal(decimal.RequireFromString("0.50")))

	rate, ok = table.Lookup("wind", "042024")
	require.True(t, ok)
	assert.True(t, rate.PerUnit.Equal(decimal.RequireFromString("0.75")))

	rate, ok = table.Lookup("wind", "012023")
	require.True(t, ok)
	assert.Equal(t, "*", rate.SiteType)

	_, ok = table.Lookup("solar", "bad")
	assert.False(t, ok)
}

func TestParseOAChargeTableRejectsBadRates(t *testing.T) {
	_, err := ParseOAChargeTable([]byte("rates:\n  - site_type: wind\n    effective_from: \"13-2024\"\n    per_unit: \"1\"\n"))
	assert.Error(t, err)
	_, err = ParseOAChargeTable([]byte("rates:\n  - site_type: wind\n    effective_from: \"042024\"\n    per_unit: \"-1\"\n"))
	assert.Error(t, err)
	_, err = ParseOAChargeTable([]byte("rates: [\n"))
	assert.Error(t, err)
}

func TestComputeOACharges(t *testing.T) {
	table, err := ParseOAChargeTable([]byte(ratesYAML))
	require.NoError(t, err)
	rows := []allocation.Allocation{
		{ProductionSiteID: "PNEW", ConsumptionSiteID: "S1", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C1: 100, C2: 20}},
		{ProductionSiteID: "POLD", ConsumptionSiteID: "S1", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C1: 3}},
		{ProductionSiteID: "POLD", Month: "072024", Type: allocation.TypeBanking, Allocated: allocation.Units{C1: 50}},
		{ProductionSiteID: "PX", ConsumptionSiteID: "S9", Month: "072024", Type: allocation.TypeAllocation, Allocated: allocation.Units{C1: 1}},
	}

	report, err := ComputeOACharges(rows, table, testDirectory())
	require.NoError(t, err)

	require.Len(t, report.Charges, 2)
	assert.Equal(t, "INR", report.Currency)
	assert.True(t, report.Charges[0].Amount.Equal(decimal.RequireFromString("92")), report.Charges[0].Amount.String())
	assert.True(t, report.Charges[1].Amount.Equal(decimal.RequireFromString("3")))
	assert.True(t, report.Total.Equal(decimal.RequireFromString("95")))
	assert.Equal(t, []string{"PX_S9"}, report.Unpriced)

	_, err = ComputeOACharges(rows, nil, testDirectory())
	assert.ErrorIs(t, err, ErrNoChargeTable)
}
