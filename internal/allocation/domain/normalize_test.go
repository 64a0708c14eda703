package allocation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberCoercion(t *testing.T) {
	cases := []struct {
		in   any
		want float64
	}{
		{nil, 0},
		{"12.5", 12.5},
		{" 1,200 ", 1200},
		{"n/a", 0},
		{json.Number("7"), 7},
		{int64(3), 3},
		{true, 0},
		{[]int{1}, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Number(tc.in), "%v", tc.in)
	}
	assert.Equal(t, 0.0, NonNegative("-4"))
}

func TestShareholdingFieldAliases(t *testing.T) {
	a := ShareholdingFromRecord(Record{"generatorCompanyId": "G", "shareholderCompanyId": "A", "percentage": "25"})
	b := ShareholdingFromRecord(Record{"generatorCompanyId": "G", "shareholderCompanyId": "A", "shareholdingPercentage": 25})

	assert.Equal(t, a, b)
	assert.Equal(t, 25.0, a.Percentage)
}

func TestProductionUnitFromRecord(t *testing.T) {
	pu := ProductionUnitFromRecord(Record{
		"productionSiteId": "P1",
		"companyId":        "GEN",
		"siteName":         "Wind Farm",
		"type":             "Wind",
		"bankingEnabled":   "true",
		"month":            "7",
		"year":             "2024",
		"commissionDate":   "2019-04-01",
		"c1":               "100",
		"c2":               50,
	})

	assert.Equal(t, "P1", pu.ProductionSiteID)
	assert.Equal(t, "wind", pu.Type)
	assert.True(t, pu.BankingEnabled)
	assert.Equal(t, MonthKey("072024"), pu.Month)
	assert.Equal(t, time.Date(2019, 4, 1, 0, 0, 0, 0, time.UTC), pu.CommissionDate)
	assert.Equal(t, Units{C1: 100, C2: 50}, pu.Units)
}

func TestMonthFromNumericRecord(t *testing.T) {
	pu := ProductionUnitFromRecord(Record{"productionSiteId": "P1", "month": float64(72024), "c1": 10})
	assert.Equal(t, MonthKey("072024"), pu.Month)

	cu := ConsumptionUnitFromRecord(Record{"consumptionSiteId": "S1", "month": "soon", "c1": 10})
	assert.False(t, cu.Month.Valid())
	assert.NotEmpty(t, cu.Month)
}

func TestCalculate_SkipsUnitsWithUnreadableMonth(t *testing.T) {
	in := scenarioInput(false, 60, 40)
	in.ConsumptionUnits[1].Month = "soon"

	result := Calculate(in, nil)

	_, ok := result.Find("P1", "S2", TypeAllocation)
	assert.False(t, ok)
	assert.Contains(t, warningCodes(result.Warnings), WarnInvalidMonth)
}

func TestUnitsFromNestedAllocated(t *testing.T) {
	u := UnitsFromRecord(Record{"allocated": map[string]any{"c1": 5, "c5": "6"}})
	assert.Equal(t, Units{C1: 5, C5: 6}, u)
}

func TestManualAllocationsFromRecord(t *testing.T) {
	manual, rejected := ManualAllocationsFromRecord(Record{
		"P_1_S1_c1": "40",
		"P1_S2_C3":  -2,
		"broken":    1,
		"P1_S1_c9":  1,
	})

	require.Len(t, manual, 2)
	v, ok := manual.Lookup("P_1", "S1", PeriodC1)
	require.True(t, ok)
	assert.Equal(t, 40.0, v)
	v, ok = manual.Lookup("P1", "S2", PeriodC3)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, []string{"P1_S1_c9", "broken"}, rejected)
}

func TestManualKeyRoundTrip(t *testing.T) {
	key := ManualKey{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Period: PeriodC2}
	parsed, ok := ParseManualKey(key.String())
	require.True(t, ok)
	assert.Equal(t, key, parsed)
}
