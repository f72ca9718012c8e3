package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// YearMonthLayout is the layout of a month filter value.
const YearMonthLayout = "2006-01"

// YearMonth selects a calendar month, e.g. "2024-03". The empty value means
// no filter.
type YearMonth string

// YearMonthOf returns the month t falls in.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth(t.Format(YearMonthLayout))
}

// ParseYearMonth validates a YYYY-MM filter value. Empty input is allowed.
func ParseYearMonth(s string) (YearMonth, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if _, err := time.Parse(YearMonthLayout, s); err != nil {
		return "", ErrInvalidMonth
	}
	return YearMonth(s), nil
}

// IsAll reports whether the filter shows every record.
func (ym YearMonth) IsAll() bool {
	return ym == ""
}

func (ym YearMonth) String() string {
	return string(ym)
}

// Filter returns the records dated within ym, preserving order. An empty ym
// returns every record.
func Filter(records []Expense, ym YearMonth) []Expense {
	out := make([]Expense, 0, len(records))
	for _, e := range records {
		if ym.IsAll() || e.Date.YearMonth() == ym {
			out = append(out, e)
		}
	}
	return out
}

// Total sums the amounts of records. It is zero for an empty slice.
func Total(records []Expense) decimal.Decimal {
	total := decimal.Zero
	for _, e := range records {
		total = total.Add(e.Amount)
	}
	return total
}

// MonthOverview is a compact summary of the visible ledger.
type MonthOverview struct {
	Month YearMonth
	Count int
	Total decimal.Decimal
}

// Summarize filters records by ym and totals the result.
func Summarize(records []Expense, ym YearMonth) (MonthOverview, []Expense) {
	visible := Filter(records, ym)
	return MonthOverview{Month: ym, Count: len(visible), Total: Total(visible)}, visible
}
