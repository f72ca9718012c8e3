package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

// formatMoney renders an amount with the configured currency symbol, e.g.
// "€1,234.50".
func (s *Server) formatMoney(d decimal.Decimal) string {
	return s.currency + core.FormatAmount(d)
}

// monthLabel renders "2024-03" as "March 2024".
func monthLabel(ym core.YearMonth) string {
	if ym.IsAll() {
		return "All months"
	}
	t, err := time.Parse(core.YearMonthLayout, ym.String())
	if err != nil {
		return ym.String()
	}
	return t.Format("January 2006")
}

func (s *Server) templateFuncs() template.FuncMap {
	return template.FuncMap{
		"money":      s.formatMoney,
		"monthLabel": monthLabel,
	}
}

// sanitizeInput removes control characters except tab and newlines, and
// trims surrounding whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// generateRequestID creates a unique request ID for tracing.
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}
