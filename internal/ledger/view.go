package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// View is a read-only copy of the store for rendering. Total is always the
// sum of Visible.
type View struct {
	Visible  []core.Expense
	AllCount int
	Filter   core.YearMonth
	Total    decimal.Decimal
	Form     FormView
	Warning  *LoadWarning
}

// FormView is the presentation state of the draft form.
type FormView struct {
	Open      bool
	Mode      FormMode
	EditingID string
	Draft     Draft
	Errors    map[string]string
}

// Empty reports whether the visible list has no rows.
func (v View) Empty() bool { return len(v.Visible) == 0 }

// Snapshot returns the visible records under the current filter together
// with their total and the form state.
func (s *Store) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	overview, visible := core.Summarize(s.records, s.filter)
	return View{
		Visible:  visible,
		AllCount: len(s.records),
		Filter:   s.filter,
		Total:    overview.Total,
		Form: FormView{
			Open:      s.form.IsOpen(),
			Mode:      s.form.Mode(),
			EditingID: s.form.EditingID(),
			Draft:     s.form.Draft(),
			Errors:    s.form.Errors().Map(),
		},
		Warning: s.warning,
	}
}

// Filter returns the current month filter.
func (s *Store) Filter() core.YearMonth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// Ready reports whether the backing store can be read.
func (s *Store) Ready(ctx context.Context) error {
	_, _, err := s.blobs.Get(ctx, s.key)
	return err
}
