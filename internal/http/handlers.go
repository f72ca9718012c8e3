package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"gastos/internal/core"
	"gastos/internal/ledger"
	"gastos/internal/log"
)

// Template names.
const (
	tmplIndex  = "index.html"
	tmplApp    = "app"
	tmplLedger = "ledger"
)

type rowView struct {
	ID          string
	Date        string
	Description string
	Amount      string
	Editing     bool
}

type formView struct {
	Open        bool
	Editing     bool
	EditingID   string
	Description string
	Date        string
	Amount      string
	Errors      map[string]string
}

type pageView struct {
	Rows        []rowView
	Total       string
	Filter      string
	FilterLabel string
	Count       int
	AllCount    int
	Form        formView
	Warning     string
}

func (s *Server) buildPage(v ledger.View) pageView {
	p := pageView{
		Total:       s.formatMoney(v.Total),
		Filter:      v.Filter.String(),
		FilterLabel: monthLabel(v.Filter),
		Count:       len(v.Visible),
		AllCount:    v.AllCount,
		Form: formView{
			Open:        v.Form.Open,
			Editing:     v.Form.Open && v.Form.Mode == ledger.ModeEdit,
			EditingID:   v.Form.EditingID,
			Description: v.Form.Draft.Description,
			Date:        v.Form.Draft.Date,
			Amount:      v.Form.Draft.Amount,
			Errors:      v.Form.Errors,
		},
	}
	if v.Warning != nil {
		p.Warning = v.Warning.Error()
	}
	p.Rows = make([]rowView, 0, len(v.Visible))
	for _, e := range v.Visible {
		p.Rows = append(p.Rows, rowView{
			ID:          e.ID,
			Date:        e.Date.String(),
			Description: e.Description,
			Amount:      s.formatMoney(e.Amount),
			Editing:     p.Form.Editing && e.ID == v.Form.EditingID,
		})
	}
	return p
}

// render executes name against the current ledger snapshot and writes it
// through b.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, b *HTMXResponseBuilder) {
	ctx := r.Context()
	if s.templates == nil {
		log.FromContext(ctx).ErrorContext(ctx, "Templates not loaded", log.FieldPath, r.URL.Path)
		InternalServerError("templates not loaded").Write(w)
		return
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, s.buildPage(s.store.Snapshot())); err != nil {
		s.reqLogger.LogError(ctx, "Template execution failed", err, log.OpRender, nil)
		InternalServerError("rendering failed").Write(w)
		return
	}
	b.BodyHTML(buf.Bytes()).Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks templates and that the ledger blob can be read.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]interface{})

	if s.templates == nil {
		checks["templates"] = "failed: templates not loaded"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["templates"] = "ok"
	}

	if err := s.store.Ready(ctx); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	checks["rate_limiter"] = map[string]interface{}{
		"active_clients": s.rateLimiter.activeClients(),
		"hits":           s.metrics.snapshot().RateLimitHits,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, tmplIndex, NewHTMXResponse())
}

func (s *Server) handleLedgerPartial(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, tmplLedger, NewHTMXResponse())
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if resp := ParseBodyOrFail(p); resp != nil {
		resp.Write(w)
		return
	}

	ym, err := ParseMonthFilter(p)
	if err != nil {
		s.render(w, r, tmplApp, NewHTMXResponse().
			Status(http.StatusBadRequest).
			TriggerErrorNotification("Month must look like 2024-03"))
		return
	}
	s.store.SetFilter(ym)

	ctx := r.Context()
	log.FromContext(ctx).DebugContext(ctx, "Filter changed",
		log.FieldMonth, ym.String(), log.FieldOperation, log.OpFilter)
	s.render(w, r, tmplApp, NewHTMXResponse())
}

func (s *Server) handleOpenForm(w http.ResponseWriter, r *http.Request) {
	s.store.OpenNew()
	s.render(w, r, tmplApp, NewHTMXResponse())
}

func (s *Server) handleEditExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseIDParam(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.store.Edit(id); err != nil {
		s.writeStoreError(w, r, err, log.OpUpdate)
		return
	}
	s.render(w, r, tmplApp, NewHTMXResponse())
}

// handleUpdateDraft stores field edits as the user types. Nothing is
// re-rendered so the focused input keeps its state.
func (s *Server) handleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if resp := ParseBodyOrFail(p); resp != nil {
		resp.Write(w)
		return
	}
	for _, f := range draftFields {
		if !p.Has(f) {
			continue
		}
		if err := s.store.UpdateDraft(f, p.Get(f)); err != nil {
			if errors.Is(err, ledger.ErrFormClosed) {
				ErrorResponse(http.StatusConflict, "The form is closed").Write(w)
				return
			}
			BadRequestError(err.Error()).Write(w)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelForm(w http.ResponseWriter, r *http.Request) {
	s.store.Cancel()
	s.render(w, r, tmplApp, NewHTMXResponse().TriggerFormReset())
}

// handleSaveExpense commits the open draft. Fields sent with the request
// overwrite the draft first. With no form open the body is added directly,
// which serves clients that never opened the form.
func (s *Server) handleSaveExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := NewRequestBodyParser(r)
	if resp := ParseBodyOrFail(p); resp != nil {
		resp.Write(w)
		return
	}

	var (
		saved  core.Expense
		change ledger.Change
		err    error
	)
	if !s.store.Snapshot().Form.Open {
		saved, err = s.store.Add(ctx, ParseDraft(p, ledger.Draft{}))
		change = ledger.Change{Op: ledger.OpAdd, ID: saved.ID}
	} else {
		for _, f := range draftFields {
			if !p.Has(f) {
				continue
			}
			if err := s.store.UpdateDraft(f, p.Get(f)); err != nil {
				if errors.Is(err, ledger.ErrFormClosed) {
					s.writeStoreError(w, r, err, log.OpUpdate)
					return
				}
				BadRequestError(err.Error()).Write(w)
				return
			}
		}
		saved, change, err = s.store.Save(ctx)
	}
	if err != nil {
		s.writeStoreError(w, r, err, log.OpAdd)
		return
	}

	msg := "Expense added"
	if change.Op == ledger.OpUpdate {
		msg = "Expense updated"
	}
	s.render(w, r, tmplApp, NewHTMXResponse().
		TriggerLedgerChanged(change.Op, saved.ID, s.store.Snapshot().AllCount).
		TriggerFormReset().
		TriggerSuccessNotification(msg))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := expenseIDParam(r)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	if err := s.store.Remove(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err, log.OpRemove)
		return
	}
	s.render(w, r, tmplApp, NewHTMXResponse().
		TriggerLedgerChanged(ledger.OpRemove, id, s.store.Snapshot().AllCount).
		TriggerSuccessNotification("Expense removed"))
}

// writeStoreError maps a store error onto a status code. Validation
// failures re-render the form with field messages.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, op string) {
	ctx := r.Context()
	if _, ok := core.AsValidationError(err); ok {
		s.render(w, r, tmplApp, NewHTMXResponse().
			Status(http.StatusUnprocessableEntity).
			TriggerErrorNotification("Please fix the highlighted fields"))
		return
	}

	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.render(w, r, tmplApp, NewHTMXResponse().
			Status(http.StatusNotFound).
			TriggerErrorNotification("That expense no longer exists"))
	case errors.Is(err, ledger.ErrFormClosed):
		s.render(w, r, tmplApp, NewHTMXResponse().
			Status(http.StatusConflict).
			TriggerErrorNotification("The form is closed"))
	default:
		s.reqLogger.LogError(ctx, "Ledger operation failed", err, op, nil)
		s.render(w, r, tmplApp, NewHTMXResponse().
			Status(http.StatusInternalServerError).
			TriggerErrorNotification("Could not save the ledger, nothing was changed"))
	}
}
