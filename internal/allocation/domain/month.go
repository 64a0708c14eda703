package allocation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MonthKey is the canonical MMYYYY month identifier used in storage keys.
type MonthKey string

// NewMonthKey builds a key from a year and month.
func NewMonthKey(year int, month time.Month) (MonthKey, error) {
	if month < time.January || month > time.December {
		return "", ErrInvalidMonth
	}
	if year < 1000 || year > 9999 {
		return "", ErrInvalidMonth
	}
	return MonthKey(fmt.Sprintf("%02d%04d", int(month), year)), nil
}

// MonthKeyOf returns the key for the month containing t.
func MonthKeyOf(t time.Time) MonthKey {
	key, _ := NewMonthKey(t.Year(), t.Month())
	return key
}

// ParseMonthKey validates a six-character MMYYYY string.
func ParseMonthKey(value string) (MonthKey, error) {
	value = strings.TrimSpace(value)
	if len(value) != 6 {
		return "", ErrInvalidMonth
	}
	month, err := strconv.Atoi(value[:2])
	if err != nil {
		return "", ErrInvalidMonth
	}
	year, err := strconv.Atoi(value[2:])
	if err != nil {
		return "", ErrInvalidMonth
	}
	return NewMonthKey(year, time.Month(month))
}

// ResolveMonthKey accepts "7", "07", "072024", "72024", "2024-07" or
// "07-2024". year fills in when month carries only the month number.
func ResolveMonthKey(month string, year int) (MonthKey, error) {
	month = strings.TrimSpace(month)
	switch {
	case month == "":
		return "", ErrInvalidMonth
	case len(month) == 6 && !strings.Contains(month, "-"):
		return ParseMonthKey(month)
	case len(month) == 5 && isDigits(month):
		// MMYYYY that lost its leading zero as a number.
		return ParseMonthKey("0" + month)
	case strings.Contains(month, "-"):
		parts := strings.SplitN(month, "-", 2)
		a, errA := strconv.Atoi(parts[0])
		b, errB := strconv.Atoi(parts[1])
		if errA != nil || errB != nil {
			return "", ErrInvalidMonth
		}
		if len(parts[0]) == 4 {
			return NewMonthKey(a, time.Month(b))
		}
		return NewMonthKey(b, time.Month(a))
	default:
		m, err := strconv.Atoi(month)
		if err != nil {
			return "", ErrInvalidMonth
		}
		return NewMonthKey(year, time.Month(m))
	}
}

// Month returns the calendar month.
func (k MonthKey) Month() time.Month {
	if len(k) != 6 {
		return 0
	}
	m, _ := strconv.Atoi(string(k[:2]))
	return time.Month(m)
}

// Year returns the calendar year.
func (k MonthKey) Year() int {
	if len(k) != 6 {
		return 0
	}
	y, _ := strconv.Atoi(string(k[2:]))
	return y
}

// Start returns the first instant of the month in UTC.
func (k MonthKey) Start() time.Time {
	return time.Date(k.Year(), k.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Before reports whether k is an earlier calendar month than other.
func (k MonthKey) Before(other MonthKey) bool {
	return k.Start().Before(other.Start())
}

// Valid reports whether the key parses.
func (k MonthKey) Valid() bool {
	_, err := ParseMonthKey(string(k))
	return err == nil
}

// String returns the raw key.
func (k MonthKey) String() string { return string(k) }

// FinancialYear returns the starting year of the April..March financial year
// the month belongs to.
func (k MonthKey) FinancialYear() int {
	if k.Month() >= time.April {
		return k.Year()
	}
	return k.Year() - 1
}

// FinancialYearLabel formats a financial year as "2023-2024".
func FinancialYearLabel(startYear int) string {
	return fmt.Sprintf("%d-%d", startYear, startYear+1)
}

// FinancialYearMonths lists the twelve month keys of a financial year.
func FinancialYearMonths(startYear int) []MonthKey {
	months := make([]MonthKey, 0, 12)
	start := time.Date(startYear, time.April, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		months = append(months, MonthKeyOf(start.AddDate(0, i, 0)))
	}
	return months
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
