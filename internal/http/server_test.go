package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"gastos/internal/ledger"
	"gastos/internal/storage"
)

var march = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *ledger.Store) {
	t.Helper()
	n := 0
	store := ledger.New(storage.NewMemoryStore(), "",
		ledger.WithClock(func() time.Time { return march }),
		ledger.WithIDGenerator(func() string { n++; return fmt.Sprintf("e%d", n) }),
	)
	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	srv := NewServer(":0", store, Options{})
	t.Cleanup(func() { srv.rateLimiter.stop() })
	return srv, store
}

func do(srv *Server, method, path string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func expenseForm(desc, date, amount string) url.Values {
	return url.Values{"description": {desc}, "date": {date}, "amount": {amount}}
}

func TestIndexAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := do(srv, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"Gastos", "March 2024", "No expenses for this period.", "€0.00"} {
		if !strings.Contains(body, want) {
			t.Errorf("index body missing %q", want)
		}
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers not set")
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := do(srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
	}
}

func TestStaticAssets(t *testing.T) {
	srv, _ := newTestServer(t)
	for _, path := range []string{"/static/app.css", "/static/app.js"} {
		if rr := do(srv, http.MethodGet, path, nil); rr.Code != http.StatusOK {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}
}

func TestCreateExpenseValidationAndSuccess(t *testing.T) {
	srv, store := newTestServer(t)

	rr := do(srv, http.MethodPost, "/expenses", expenseForm("", "2024-03-02", "-4"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid expense status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "field-error") {
		t.Error("invalid expense should render field errors")
	}
	if len(store.Records()) != 0 {
		t.Fatalf("invalid expense was stored")
	}

	rr = do(srv, http.MethodPost, "/expenses", expenseForm("Lunch", "2024-03-02", "12,5"))
	if rr.Code != http.StatusOK {
		t.Fatalf("valid expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	trigger := rr.Header().Get("HX-Trigger")
	if !strings.Contains(trigger, EventLedgerChanged) || !strings.Contains(trigger, EventFormReset) {
		t.Errorf("HX-Trigger = %s", trigger)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Lunch") || !strings.Contains(body, "€12.50") {
		t.Errorf("ledger not re-rendered with new row")
	}

	records := store.Records()
	if len(records) != 1 || records[0].Description != "Lunch" {
		t.Fatalf("records = %+v", records)
	}
}

func TestCreateExpenseJSON(t *testing.T) {
	srv, store := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/expenses",
		strings.NewReader(`{"description":"Taxi","date":"2024-03-09","amount":18.4}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := store.Records(); len(got) != 1 || got[0].Amount.String() != "18.4" {
		t.Fatalf("records = %+v", got)
	}
}

func TestFormFlow(t *testing.T) {
	srv, store := newTestServer(t)

	if rr := do(srv, http.MethodPost, "/form/draft", url.Values{"amount": {"3"}}); rr.Code != http.StatusConflict {
		t.Fatalf("draft on closed form status=%d", rr.Code)
	}

	if rr := do(srv, http.MethodGet, "/ui/form", nil); rr.Code != http.StatusOK {
		t.Fatalf("open form status=%d", rr.Code)
	}
	for _, f := range []url.Values{{"description": {"Coffee"}}, {"date": {"2024-03-04"}}, {"amount": {"2.2"}}} {
		if rr := do(srv, http.MethodPost, "/form/draft", f); rr.Code != http.StatusNoContent {
			t.Fatalf("draft update status=%d", rr.Code)
		}
	}
	if d := store.Snapshot().Form.Draft; d.Description != "Coffee" || d.Amount != "2.2" {
		t.Fatalf("draft = %+v", d)
	}

	rr := do(srv, http.MethodPost, "/expenses", url.Values{})
	if rr.Code != http.StatusOK {
		t.Fatalf("save status=%d body=%s", rr.Code, rr.Body.String())
	}
	if store.Snapshot().Form.Open {
		t.Error("form should close after save")
	}
	if got := store.Records(); len(got) != 1 || got[0].Description != "Coffee" {
		t.Fatalf("records = %+v", got)
	}
}

func TestEditAndCancel(t *testing.T) {
	srv, store := newTestServer(t)
	do(srv, http.MethodPost, "/expenses", expenseForm("Books", "2024-03-01", "30"))

	rr := do(srv, http.MethodGet, "/expenses/e1/edit", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("edit status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Edit expense") || !strings.Contains(rr.Body.String(), `value="30.00"`) {
		t.Error("edit form not pre-filled")
	}

	do(srv, http.MethodPost, "/form/draft", url.Values{"amount": {"99"}})
	rr = do(srv, http.MethodPost, "/form/cancel", url.Values{})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("HX-Trigger"), EventFormReset) {
		t.Fatalf("cancel status=%d trigger=%s", rr.Code, rr.Header().Get("HX-Trigger"))
	}
	if got := store.Records(); len(got) != 1 || got[0].Amount.String() != "30" {
		t.Fatalf("cancel changed the record: %+v", got)
	}

	do(srv, http.MethodGet, "/expenses/e1/edit", nil)
	rr = do(srv, http.MethodPost, "/expenses", url.Values{"amount": {"31"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("edit save status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), `"op":"update"`) {
		t.Errorf("HX-Trigger = %s", rr.Header().Get("HX-Trigger"))
	}
	if got := store.Records(); len(got) != 1 || got[0].ID != "e1" || got[0].Amount.String() != "31" {
		t.Fatalf("records = %+v", got)
	}

	if rr := do(srv, http.MethodGet, "/expenses/missing/edit", nil); rr.Code != http.StatusNotFound {
		t.Errorf("edit missing status=%d", rr.Code)
	}
}

func TestSaveReportsCommittedOperation(t *testing.T) {
	srv, store := newTestServer(t)

	do(srv, http.MethodGet, "/ui/form", nil)
	rr := do(srv, http.MethodPost, "/expenses", expenseForm("Coffee", "2024-03-04", "2"))
	if rr.Code != http.StatusOK {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	trigger := rr.Header().Get("HX-Trigger")
	if !strings.Contains(trigger, `"op":"add"`) || !strings.Contains(trigger, "Expense added") {
		t.Errorf("create HX-Trigger = %s", trigger)
	}

	id := store.Records()[0].ID
	do(srv, http.MethodGet, "/expenses/"+id+"/edit", nil)
	rr = do(srv, http.MethodPost, "/expenses", url.Values{"description": {"Espresso"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rr.Code, rr.Body.String())
	}
	trigger = rr.Header().Get("HX-Trigger")
	if !strings.Contains(trigger, `"op":"update"`) || !strings.Contains(trigger, `"id":"`+id+`"`) ||
		!strings.Contains(trigger, "Expense updated") {
		t.Errorf("update HX-Trigger = %s", trigger)
	}
	if got := store.Records(); len(got) != 1 || got[0].Description != "Espresso" {
		t.Fatalf("records = %+v", got)
	}
}

func TestSaveEditedRecordRemovedMeanwhile(t *testing.T) {
	srv, store := newTestServer(t)
	do(srv, http.MethodPost, "/expenses", expenseForm("Books", "2024-03-01", "30"))
	id := store.Records()[0].ID

	do(srv, http.MethodGet, "/expenses/"+id+"/edit", nil)
	if err := store.Remove(context.Background(), id); err != nil {
		t.Fatalf("remove: %v", err)
	}

	rr := do(srv, http.MethodPost, "/expenses", url.Values{"amount": {"31"}})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Header().Get("HX-Trigger"), `"op":"update"`) {
		t.Errorf("a save that did not happen was announced: %s", rr.Header().Get("HX-Trigger"))
	}
	if len(store.Records()) != 0 {
		t.Fatalf("records = %+v", store.Records())
	}
}

func TestDeleteExpense(t *testing.T) {
	srv, store := newTestServer(t)
	do(srv, http.MethodPost, "/expenses", expenseForm("A", "2024-03-01", "1"))
	do(srv, http.MethodPost, "/expenses", expenseForm("B", "2024-03-02", "2"))

	if rr := do(srv, http.MethodDelete, "/expenses/nope", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("delete missing status=%d", rr.Code)
	}

	rr := do(srv, http.MethodDelete, "/expenses/e1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("HX-Trigger"), `"op":"remove"`) {
		t.Errorf("HX-Trigger = %s", rr.Header().Get("HX-Trigger"))
	}

	rr = do(srv, http.MethodPost, "/expenses/e2/delete", url.Values{})
	if rr.Code != http.StatusOK {
		t.Fatalf("post delete status=%d", rr.Code)
	}
	if len(store.Records()) != 0 {
		t.Fatalf("records left: %+v", store.Records())
	}
}

func TestFilterAndTotal(t *testing.T) {
	srv, store := newTestServer(t)
	do(srv, http.MethodPost, "/expenses", expenseForm("March", "2024-03-01", "10"))
	do(srv, http.MethodPost, "/expenses", expenseForm("Feb", "2024-02-10", "7"))

	rr := do(srv, http.MethodGet, "/ui/ledger", nil)
	if !strings.Contains(rr.Body.String(), "€10.00") || strings.Contains(rr.Body.String(), "Feb") {
		t.Errorf("current month ledger wrong: %s", rr.Body.String())
	}

	rr = do(srv, http.MethodPost, "/filter", url.Values{"month": {"2024-02"}})
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "February 2024") {
		t.Fatalf("filter status=%d", rr.Code)
	}
	if store.Filter() != "2024-02" {
		t.Errorf("filter = %q", store.Filter())
	}

	rr = do(srv, http.MethodPost, "/filter", url.Values{"month": {"all"}})
	if !strings.Contains(rr.Body.String(), "All months") || !strings.Contains(rr.Body.String(), "€17.00") {
		t.Errorf("all months view wrong")
	}

	if rr := do(srv, http.MethodPost, "/filter", url.Values{"month": {"2024-13"}}); rr.Code != http.StatusBadRequest {
		t.Errorf("bad month status=%d", rr.Code)
	}
	if store.Filter() != "" {
		t.Errorf("bad month changed filter to %q", store.Filter())
	}
}

func TestRateLimitMutations(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < rateLimitRequests; i++ {
		if rr := do(srv, http.MethodPost, "/filter", url.Values{"month": {"all"}}); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(srv, http.MethodPost, "/filter", url.Values{"month": {"all"}})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}

	if rr := do(srv, http.MethodGet, "/", nil); rr.Code != http.StatusOK {
		t.Errorf("reads should not be limited, got %d", rr.Code)
	}
	if srv.metrics.snapshot().RateLimitHits != 1 {
		t.Errorf("hits = %d", srv.metrics.snapshot().RateLimitHits)
	}
}

func TestRateLimiterWindowResets(t *testing.T) {
	rl := &rateLimiter{clients: map[string]*clientInfo{}, stopCleanup: make(chan struct{})}
	now := march
	rl.now = func() time.Time { return now }

	for i := 0; i < rateLimitRequests; i++ {
		rl.allow("1.2.3.4", nil)
	}
	if rl.allow("1.2.3.4", nil) {
		t.Fatal("limit not enforced")
	}
	if !rl.allow("5.6.7.8", nil) {
		t.Fatal("other clients should not be limited")
	}

	now = now.Add(rateLimitWindow + time.Second)
	if !rl.allow("1.2.3.4", nil) {
		t.Fatal("window did not reset")
	}

	now = now.Add(staleClientAge + time.Minute)
	rl.cleanupStaleEntries()
	if rl.activeClients() != 0 {
		t.Errorf("stale clients kept: %d", rl.activeClients())
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.7:5000", "", "", "203.0.113.7"},
		{"untrusted peer ignores headers", "203.0.113.7:5000", "198.51.100.1", "", "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.2:5000", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"trusted proxy real ip", "127.0.0.1:5000", "", "198.51.100.9", "198.51.100.9"},
		{"trusted proxy bad header", "192.168.1.1:5000", "garbage", "", "192.168.1.1"},
		{"no port", "203.0.113.7", "", "", "203.0.113.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Errorf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	m := &securityMetrics{}
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   bool
	}{
		{"normal", http.MethodGet, "/", "Mozilla/5.0", false},
		{"traversal", http.MethodGet, "/static/../.env", "Mozilla/5.0", true},
		{"scanner", http.MethodGet, "/", "sqlmap/1.7", true},
		{"trace", "TRACE", "/", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/", nil)
			r.URL.Path = tt.target
			r.Header.Set("User-Agent", tt.agent)
			if got := detectSuspiciousRequest(r, m); got != tt.want {
				t.Errorf("detectSuspiciousRequest() = %v, want %v", got, tt.want)
			}
		})
	}
	if m.snapshot().SuspiciousRequests != 3 {
		t.Errorf("suspicious count = %d", m.snapshot().SuspiciousRequests)
	}
}

func TestMonthLabel(t *testing.T) {
	if got := monthLabel("2024-03"); got != "March 2024" {
		t.Errorf("monthLabel = %q", got)
	}
	if got := monthLabel(""); got != "All months" {
		t.Errorf("monthLabel(all) = %q", got)
	}
}
