package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMonth = MonthKey("072024")

func plentyOfDemand(siteID, companyID string) ConsumptionUnit {
	return ConsumptionUnit{
		ConsumptionSiteID: siteID,
		CompanyID:         companyID,
		Month:             testMonth,
		Units:             Units{C1: 1000, C2: 1000, C3: 1000, C4: 1000, C5: 1000},
	}
}

func scenarioInput(banking bool, pctA, pctB float64) Input {
	return Input{
		Month: testMonth,
		ProductionUnits: []ProductionUnit{{
			ProductionSiteID: "P1",
			CompanyID:        "GEN",
			Type:             "solar",
			BankingEnabled:   banking,
			Month:            testMonth,
			Units:            Units{C1: 100, C2: 50, C3: 50, C4: 100, C5: 100},
		}},
		ConsumptionUnits: []ConsumptionUnit{
			plentyOfDemand("S1", "A"),
			plentyOfDemand("S2", "B"),
		},
		Shareholdings: []Shareholding{
			{GeneratorCompanyID: "GEN", ShareholderCompanyID: "A", Percentage: pctA},
			{GeneratorCompanyID: "GEN", ShareholderCompanyID: "B", Percentage: pctB},
		},
	}
}

func TestCalculate_FullSplitLapses(t *testing.T) {
	result := Calculate(scenarioInput(false, 60, 40), nil)

	s1, ok := result.Find("P1", "S1", TypeAllocation)
	require.True(t, ok)
	assert.Equal(t, Units{C1: 60, C2: 30, C3: 30, C4: 60, C5: 60}, s1.Allocated)
	assert.Equal(t, "GEN", s1.CompanyID)
	assert.Equal(t, 1, s1.Version)

	s2, ok := result.Find("P1", "S2", TypeAllocation)
	require.True(t, ok)
	assert.Equal(t, Units{C1: 40, C2: 20, C3: 20, C4: 40, C5: 40}, s2.Allocated)

	lapse, ok := result.Find("P1", "", TypeLapse)
	require.True(t, ok)
	assert.True(t, lapse.Allocated.IsZero())
	assert.Empty(t, result.ByType(TypeBanking))
	assert.Empty(t, result.Balances)
}

func TestCalculate_PartialSplitBanks(t *testing.T) {
	result := Calculate(scenarioInput(true, 40, 30), nil)

	banking, ok := result.Find("P1", "", TypeBanking)
	require.True(t, ok)
	assert.Equal(t, Units{C1: 30, C2: 15, C3: 15, C4: 30, C5: 30}, banking.Allocated)
	assert.Empty(t, result.ByType(TypeLapse))

	require.Len(t, result.Balances, 1)
	assert.Equal(t, banking.Allocated, result.Balances[0].Closing)
}

func TestCalculate_ClampsToUnmetDemand(t *testing.T) {
	in := scenarioInput(false, 60, 40)
	in.ConsumptionUnits[0].Units = Units{C1: 10, C2: 1000, C3: 1000, C4: 1000, C5: 1000}

	result := Calculate(in, nil)

	s1, _ := result.Find("P1", "S1", TypeAllocation)
	assert.Equal(t, 10.0, s1.Allocated.C1)
	lapse, _ := result.Find("P1", "", TypeLapse)
	assert.Equal(t, 50.0, lapse.Allocated.C1)
}

func TestCalculate_LaterProducersSeeRemainingDemand(t *testing.T) {
	in := Input{
		Month: testMonth,
		ProductionUnits: []ProductionUnit{
			{ProductionSiteID: "P2", CompanyID: "GEN", Month: testMonth, CommissionDate: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Units: Units{C1: 100}},
			{ProductionSiteID: "P1", CompanyID: "GEN", Month: testMonth, CommissionDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Units: Units{C1: 100}},
		},
		ConsumptionUnits: []ConsumptionUnit{{ConsumptionSiteID: "S1", CompanyID: "A", Month: testMonth, Units: Units{C1: 150}}},
		Shareholdings:    []Shareholding{{GeneratorCompanyID: "GEN", ShareholderCompanyID: "A", Percentage: 100}},
	}

	result := Calculate(in, nil)

	require.Len(t, result.Allocations, 4)
	assert.Equal(t, "P1", result.Allocations[0].ProductionSiteID)
	p1, _ := result.Find("P1", "S1", TypeAllocation)
	p2, _ := result.Find("P2", "S1", TypeAllocation)
	assert.Equal(t, 100.0, p1.Allocated.C1)
	assert.Equal(t, 50.0, p2.Allocated.C1)
	lapse, _ := result.Find("P2", "", TypeLapse)
	assert.Equal(t, 50.0, lapse.Allocated.C1)
}

func TestCalculate_ManualOverrideTakesPrecedence(t *testing.T) {
	in := scenarioInput(false, 60, 40)
	in.ManualAllocations = ManualAllocations{
		{ProductionSiteID: "P1", ConsumptionSiteID: "S2", Period: PeriodC1}: 70,
	}

	result := Calculate(in, nil)

	s2, _ := result.Find("P1", "S2", TypeAllocation)
	assert.Equal(t, 70.0, s2.Allocated.C1)
	assert.True(t, s2.Manual)
	s1, _ := result.Find("P1", "S1", TypeAllocation)
	assert.Equal(t, 30.0, s1.Allocated.C1)
	assert.Equal(t, 30.0, s1.Allocated.C2)
	lapse, _ := result.Find("P1", "", TypeLapse)
	assert.Equal(t, 0.0, lapse.Allocated.C1)
}

func TestCalculate_ManualOverrideClampedToProduction(t *testing.T) {
	in := scenarioInput(false, 60, 40)
	in.ManualAllocations = ManualAllocations{
		{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Period: PeriodC2}: 500,
	}

	result := Calculate(in, nil)

	s1, _ := result.Find("P1", "S1", TypeAllocation)
	assert.Equal(t, 50.0, s1.Allocated.C2)
	s2, _ := result.Find("P1", "S2", TypeAllocation)
	assert.Equal(t, 0.0, s2.Allocated.C2)
	assert.Contains(t, warningCodes(result.Warnings), WarnOverrideClamped)
}

func TestCalculate_ZeroOverrideRowIsPresent(t *testing.T) {
	in := scenarioInput(false, 100, 0)
	in.ManualAllocations = ManualAllocations{}
	for _, p := range AllPeriods {
		in.ManualAllocations[ManualKey{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Period: p}] = 0
	}

	result := Calculate(in, nil)

	s1, ok := result.Find("P1", "S1", TypeAllocation)
	require.True(t, ok)
	assert.Equal(t, Units{}, s1.Allocated)
	lapse, _ := result.Find("P1", "", TypeLapse)
	assert.Equal(t, Units{C1: 100, C2: 50, C3: 50, C4: 100, C5: 100}, lapse.Allocated)
}

func TestCalculate_Idempotent(t *testing.T) {
	in := scenarioInput(true, 55, 35)
	in.ProductionUnits = append(in.ProductionUnits, ProductionUnit{
		ProductionSiteID: "P0", CompanyID: "GEN", Month: testMonth, Units: Units{C1: 33, C3: 17},
	})
	in.ManualAllocations = ManualAllocations{{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Period: PeriodC4}: 12}

	first := Calculate(in, nil)
	second := Calculate(in, nil)

	assert.Equal(t, first, second)
}

func TestCalculate_Conservation(t *testing.T) {
	inputs := map[string]Input{
		"lapse":        scenarioInput(false, 60, 40),
		"banking":      scenarioInput(true, 40, 30),
		"over-commit":  scenarioInput(false, 90, 80),
		"odd-rounding": scenarioInput(true, 33.3, 33.3),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			result := Calculate(in, nil)
			for _, pu := range in.ProductionUnits {
				var booked Units
				for _, a := range result.Allocations {
					if a.ProductionSiteID == pu.ProductionSiteID {
						booked = booked.Add(a.Allocated)
					}
				}
				for _, p := range AllPeriods {
					assert.InDelta(t, pu.Units.Get(p), booked.Get(p), Tolerance, "period %s", p)
				}
			}
			assert.False(t, HasErrors(Validate(result, in, 0)))
		})
	}
}

func TestCalculate_NonNegativeOnMalformedInput(t *testing.T) {
	in, _ := InputFromRecords(testMonth,
		[]Record{{"productionSiteId": "P1", "companyId": "GEN", "month": "072024", "c1": "-40", "c2": "abc", "c3": nil, "c4": 20, "c5": "12.6"}},
		[]Record{{"consumptionSiteId": "S1", "companyId": "A", "month": "072024", "c1": -5, "c2": "10", "c3": "10", "c4": "10", "c5": "10"}},
		nil,
		[]Record{{"generatorCompanyId": "GEN", "shareholderCompanyId": "A", "percentage": "-20"}, {"generatorCompanyId": "GEN", "shareholderCompanyId": "A", "shareholdingPercentage": "100"}},
		nil,
	)

	result := Calculate(in, nil)

	require.NotEmpty(t, result.Allocations)
	for _, a := range result.Allocations {
		for _, p := range AllPeriods {
			assert.GreaterOrEqual(t, a.Allocated.Get(p), 0.0)
		}
	}
	s1, _ := result.Find("P1", "S1", TypeAllocation)
	assert.Equal(t, 10.0, s1.Allocated.C4)
	assert.Equal(t, 10.0, s1.Allocated.C5)
}

func TestCalculate_EmptyInputsDegrade(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Input)
		code   string
	}{
		"no production":    {func(in *Input) { in.ProductionUnits = nil }, WarnNoProduction},
		"no consumption":   {func(in *Input) { in.ConsumptionUnits = nil }, WarnNoConsumption},
		"no shareholdings": {func(in *Input) { in.Shareholdings = nil }, WarnNoShareholdings},
		"other generator": {func(in *Input) {
			in.Shareholdings = []Shareholding{{GeneratorCompanyID: "OTHER", ShareholderCompanyID: "A", Percentage: 100}}
		}, WarnNoShareholders},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := scenarioInput(false, 60, 40)
			tc.mutate(&in)
			result := Calculate(in, nil)
			assert.Empty(t, result.Allocations)
			assert.NotNil(t, result.Allocations)
			assert.Contains(t, warningCodes(result.Warnings), tc.code)
		})
	}
}

func TestCalculate_SiteAccessFiltersConsumers(t *testing.T) {
	access := SiteAccessFunc(func(siteID, siteType string) bool {
		return !(siteType == SiteTypeConsumption && siteID == "S2")
	})

	result := Calculate(scenarioInput(false, 60, 40), access)

	_, ok := result.Find("P1", "S2", TypeAllocation)
	assert.False(t, ok)
	lapse, _ := result.Find("P1", "", TypeLapse)
	assert.Equal(t, 40.0, lapse.Allocated.C1)
}

func TestCalculate_BankingExclusivity(t *testing.T) {
	for _, banking := range []bool{true, false} {
		result := Calculate(scenarioInput(banking, 40, 30), nil)
		if banking {
			assert.Empty(t, result.ByType(TypeLapse))
			assert.Len(t, result.ByType(TypeBanking), 1)
		} else {
			assert.Empty(t, result.ByType(TypeBanking))
			assert.Len(t, result.ByType(TypeLapse), 1)
		}
	}
}

func TestCalculate_CompanyPoolSpansSites(t *testing.T) {
	in := Input{
		Month:           testMonth,
		ProductionUnits: []ProductionUnit{{ProductionSiteID: "P1", CompanyID: "GEN", Month: testMonth, Units: Units{C1: 100}}},
		ConsumptionUnits: []ConsumptionUnit{
			{ConsumptionSiteID: "S1", CompanyID: "A", Month: testMonth, Units: Units{C1: 20}},
			{ConsumptionSiteID: "S3", CompanyID: "A", Month: testMonth, Units: Units{C1: 100}},
		},
		Shareholdings: []Shareholding{{GeneratorCompanyID: "GEN", ShareholderCompanyID: "A", Percentage: 50}},
	}

	result := Calculate(in, nil)

	s1, _ := result.Find("P1", "S1", TypeAllocation)
	s3, _ := result.Find("P1", "S3", TypeAllocation)
	assert.Equal(t, 20.0, s1.Allocated.C1)
	assert.Equal(t, 30.0, s3.Allocated.C1)
	lapse, _ := result.Find("P1", "", TypeLapse)
	assert.Equal(t, 50.0, lapse.Allocated.C1)
}

func TestCalculate_LockedRowsCountAsDelivered(t *testing.T) {
	in := scenarioInput(true, 60, 40)
	full := Calculate(in, nil)
	s2, ok := full.Find("P1", "S2", TypeAllocation)
	require.True(t, ok)

	access := SiteAccessFunc(func(siteID, siteType string) bool { return siteID != "S2" })
	in.Locked = []Allocation{s2}
	restricted := Calculate(in, access)

	_, ok = restricted.Find("P1", "S2", TypeAllocation)
	assert.False(t, ok, "locked rows are not re-emitted")
	s1, _ := restricted.Find("P1", "S1", TypeAllocation)
	fullS1, _ := full.Find("P1", "S1", TypeAllocation)
	assert.Equal(t, fullS1.Allocated, s1.Allocated)
	banking, _ := restricted.Find("P1", "", TypeBanking)
	fullBanking, _ := full.Find("P1", "", TypeBanking)
	assert.Equal(t, fullBanking.Allocated, banking.Allocated)

	booked := banking.Allocated.Add(s1.Allocated).Add(s2.Allocated)
	assert.Equal(t, in.ProductionUnits[0].Units, booked)
}

func TestCalculate_LockedRowsShrinkCompanyPool(t *testing.T) {
	in := Input{
		Month:           testMonth,
		ProductionUnits: []ProductionUnit{{ProductionSiteID: "P1", CompanyID: "GEN", Month: testMonth, Units: Units{C1: 100}}},
		ConsumptionUnits: []ConsumptionUnit{
			{ConsumptionSiteID: "S1", CompanyID: "A", Month: testMonth, Units: Units{C1: 100}},
			{ConsumptionSiteID: "S3", CompanyID: "A", Month: testMonth, Units: Units{C1: 100}},
		},
		Shareholdings: []Shareholding{{GeneratorCompanyID: "GEN", ShareholderCompanyID: "A", Percentage: 50}},
		Locked: []Allocation{{
			ProductionSiteID: "P1", ConsumptionSiteID: "S3", CompanyID: "GEN", Month: testMonth,
			Type: TypeAllocation, Allocated: Units{C1: 30},
		}},
	}
	access := SiteAccessFunc(func(siteID, siteType string) bool { return siteID != "S3" })

	result := Calculate(in, access)

	s1, _ := result.Find("P1", "S1", TypeAllocation)
	assert.Equal(t, 20.0, s1.Allocated.C1)
	lapse, _ := result.Find("P1", "", TypeLapse)
	assert.Equal(t, 50.0, lapse.Allocated.C1)
}

func TestCalculate_OpeningBankingBalance(t *testing.T) {
	in := scenarioInput(true, 40, 30)
	in.BankingUnits = []BankingUnit{
		{ProductionSiteID: "P1", CompanyID: "GEN", Month: "052024", Units: Units{C1: 5}},
		{ProductionSiteID: "P1", CompanyID: "GEN", Month: "032024", Units: Units{C1: 100}},
		{ProductionSiteID: "P1", CompanyID: "GEN", Month: "072024", Units: Units{C1: 100}},
	}

	result := Calculate(in, nil)

	require.Len(t, result.Balances, 1)
	assert.Equal(t, 5.0, result.Balances[0].Opening.C1)
	assert.Equal(t, 35.0, result.Balances[0].Closing.C1)
}

func warningCodes(warnings []Warning) []string {
	codes := make([]string, 0, len(warnings))
	for _, w := range warnings {
		codes = append(codes, w.Code)
	}
	return codes
}
