package allocation

import "math"

// Period is one of the five time-of-day tariff buckets.
type Period string

const (
	PeriodC1 Period = "c1"
	PeriodC2 Period = "c2"
	PeriodC3 Period = "c3"
	PeriodC4 Period = "c4"
	PeriodC5 Period = "c5"
)

// AllPeriods lists every period in canonical order.
var AllPeriods = []Period{PeriodC1, PeriodC2, PeriodC3, PeriodC4, PeriodC5}

// PeakPeriods are the peak tariff buckets.
var PeakPeriods = []Period{PeriodC2, PeriodC3}

// NonPeakPeriods are the non-peak tariff buckets.
var NonPeakPeriods = []Period{PeriodC1, PeriodC4, PeriodC5}

// ParsePeriod normalizes "c1".."c5" (case-insensitive).
func ParsePeriod(value string) (Period, bool) {
	switch value {
	case "c1", "C1":
		return PeriodC1, true
	case "c2", "C2":
		return PeriodC2, true
	case "c3", "C3":
		return PeriodC3, true
	case "c4", "C4":
		return PeriodC4, true
	case "c5", "C5":
		return PeriodC5, true
	default:
		return "", false
	}
}

// IsPeak reports whether the period is a peak bucket.
func (p Period) IsPeak() bool {
	return p == PeriodC2 || p == PeriodC3
}

// Units holds one value per period.
type Units struct {
	C1 float64 `json:"c1"`
	C2 float64 `json:"c2"`
	C3 float64 `json:"c3"`
	C4 float64 `json:"c4"`
	C5 float64 `json:"c5"`
}

// Get returns the value for a period. Unknown periods read as 0.
func (u Units) Get(p Period) float64 {
	switch p {
	case PeriodC1:
		return u.C1
	case PeriodC2:
		return u.C2
	case PeriodC3:
		return u.C3
	case PeriodC4:
		return u.C4
	case PeriodC5:
		return u.C5
	}
	return 0
}

// Set writes the value for a period. Unknown periods are ignored.
func (u *Units) Set(p Period, value float64) {
	switch p {
	case PeriodC1:
		u.C1 = value
	case PeriodC2:
		u.C2 = value
	case PeriodC3:
		u.C3 = value
	case PeriodC4:
		u.C4 = value
	case PeriodC5:
		u.C5 = value
	}
}

// Total sums the given periods, or all periods when none are given.
func (u Units) Total(periods ...Period) float64 {
	if len(periods) == 0 {
		periods = AllPeriods
	}
	var sum float64
	for _, p := range periods {
		sum += u.Get(p)
	}
	return sum
}

// PeakTotal sums c2 and c3.
func (u Units) PeakTotal() float64 { return u.Total(PeakPeriods...) }

// NonPeakTotal sums c1, c4 and c5.
func (u Units) NonPeakTotal() float64 { return u.Total(NonPeakPeriods...) }

// Add returns u + other period-wise.
func (u Units) Add(other Units) Units {
	var out Units
	for _, p := range AllPeriods {
		out.Set(p, u.Get(p)+other.Get(p))
	}
	return out
}

// Sub returns u - other period-wise. The result may be negative.
func (u Units) Sub(other Units) Units {
	var out Units
	for _, p := range AllPeriods {
		out.Set(p, u.Get(p)-other.Get(p))
	}
	return out
}

// ClampNonNegative floors every period at zero. NaN and infinities become zero.
func (u Units) ClampNonNegative() Units {
	var out Units
	for _, p := range AllPeriods {
		out.Set(p, clampUnit(u.Get(p)))
	}
	return out
}

// Rounded returns max(0, round(v)) per period.
func (u Units) Rounded() Units {
	var out Units
	for _, p := range AllPeriods {
		out.Set(p, RoundUnit(u.Get(p)))
	}
	return out
}

// IsZero reports whether every period is zero.
func (u Units) IsZero() bool {
	for _, p := range AllPeriods {
		if u.Get(p) != 0 {
			return false
		}
	}
	return true
}

// Map returns the units keyed by period name.
func (u Units) Map() map[string]float64 {
	out := make(map[string]float64, len(AllPeriods))
	for _, p := range AllPeriods {
		out[string(p)] = u.Get(p)
	}
	return out
}

// RoundUnit rounds to the nearest non-negative integer unit.
func RoundUnit(value float64) float64 {
	value = clampUnit(value)
	return math.Round(value)
}

func clampUnit(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0
	}
	return value
}

// TotalOf sums periods of a loosely-typed record, coercing each value.
// Missing or non-numeric values count as 0 and negatives are clamped to 0.
func TotalOf(record map[string]any, periods ...Period) float64 {
	return UnitsFromRecord(record).Total(periods...)
}

// PeakTotalOf is TotalOf over the peak periods.
func PeakTotalOf(record map[string]any) float64 { return TotalOf(record, PeakPeriods...) }

// NonPeakTotalOf is TotalOf over the non-peak periods.
func NonPeakTotalOf(record map[string]any) float64 { return TotalOf(record, NonPeakPeriods...) }
