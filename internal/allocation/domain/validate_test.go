package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func violationCodes(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

func TestValidate_CleanResult(t *testing.T) {
	in := scenarioInput(true, 40, 30)
	assert.Empty(t, Validate(Calculate(in, nil), in, 0))
}

func TestValidate_DetectsTamperedRows(t *testing.T) {
	in := scenarioInput(false, 60, 40)

	cases := map[string]struct {
		tamper func(*Result)
		code   string
	}{
		"over allocation": {func(r *Result) { r.Allocations[0].Allocated.C1 += 5 }, ViolationOverAllocated},
		"negative":        {func(r *Result) { r.Allocations[1].Allocated.C2 = -1 }, ViolationNegative},
		"unaccounted":     {func(r *Result) { r.Allocations[0].Allocated.C3 -= 5 }, ViolationUnaccounted},
		"wrong remainder": {func(r *Result) {
			r.Allocations[2].Type = TypeBanking
			r.Allocations[2].Allocated.C1 = 0
			r.Allocations[0].Allocated.C1 -= 10
			r.Allocations[2].Allocated.C1 = 10
		}, ViolationRemainderType},
		"unknown site": {func(r *Result) { r.Allocations[0].ProductionSiteID = "PX" }, ViolationUnknownSite},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			result := Calculate(in, nil)
			tc.tamper(&result)
			assert.Contains(t, violationCodes(Validate(result, in, 0)), tc.code)
		})
	}
}

func TestValidate_DemandExceededIsWarning(t *testing.T) {
	in := scenarioInput(false, 60, 40)
	in.ConsumptionUnits[0].Units.C1 = 10
	in.ManualAllocations = ManualAllocations{{ProductionSiteID: "P1", ConsumptionSiteID: "S1", Period: PeriodC1}: 80}

	violations := Validate(Calculate(in, nil), in, 0)

	assert.Contains(t, violationCodes(violations), ViolationDemandExceeded)
	assert.False(t, HasErrors(violations))
}
