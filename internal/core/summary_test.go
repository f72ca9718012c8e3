package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func expense(id, date, amount string) Expense {
	d, err := ParseDate(date)
	if err != nil {
		panic(err)
	}
	return Expense{ID: id, Description: id, Date: d, Amount: decimal.RequireFromString(amount)}
}

func TestTotal(t *testing.T) {
	if got := Total(nil); !got.IsZero() {
		t.Fatalf("total of empty ledger should be 0, got %s", got)
	}
	records := []Expense{expense("a", "2024-03-01", "10.50"), expense("b", "2024-03-02", "5")}
	if got := Total(records); !got.Equal(decimal.RequireFromString("15.5")) {
		t.Fatalf("expected 15.5, got %s", got)
	}
}

func TestFilter(t *testing.T) {
	records := []Expense{
		expense("feb", "2024-02-29", "1"),
		expense("mar1", "2024-03-01", "2"),
		expense("mar31", "2024-03-31", "3"),
		expense("mar23", "2023-03-15", "4"),
	}

	got := Filter(records, "2024-03")
	if len(got) != 2 || got[0].ID != "mar1" || got[1].ID != "mar31" {
		t.Fatalf("unexpected march filter: %+v", got)
	}

	all := Filter(records, "")
	if len(all) != len(records) {
		t.Fatalf("empty filter should return all records, got %d", len(all))
	}
	for i := range records {
		if all[i].ID != records[i].ID {
			t.Fatalf("empty filter changed order at %d", i)
		}
	}

	if got := Filter(records, "2025-01"); len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestParseYearMonth(t *testing.T) {
	if ym, err := ParseYearMonth("2024-03"); err != nil || ym != "2024-03" {
		t.Fatalf("unexpected result %q %v", ym, err)
	}
	if ym, err := ParseYearMonth(""); err != nil || !ym.IsAll() {
		t.Fatalf("empty month should mean all, got %q %v", ym, err)
	}
	for _, bad := range []string{"2024-3", "2024-13", "march", "2024-03-01"} {
		if _, err := ParseYearMonth(bad); err == nil {
			t.Fatalf("%q expected error", bad)
		}
	}
	if got := YearMonthOf(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)); got != "2026-10" {
		t.Fatalf("unexpected month %q", got)
	}
}

func TestSummarize(t *testing.T) {
	records := []Expense{expense("a", "2024-03-01", "10.50"), expense("b", "2024-04-02", "5")}
	ov, visible := Summarize(records, "2024-03")
	if ov.Count != 1 || len(visible) != 1 || !ov.Total.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("unexpected overview %+v", ov)
	}
}
