package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"gastos/internal/core"
)

var (
	successSymbol = "✓"
	errorSymbol   = "✗"
	infoSymbol    = "→"

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00875F", Dark: "#00D787"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#FF5F87"})
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#005FAF", Dark: "#5FAFFF"})
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
	amountStyle  = lipgloss.NewStyle().Width(14).Align(lipgloss.Right)
	totalStyle   = lipgloss.NewStyle().Bold(true).Width(14).Align(lipgloss.Right)
)

func printSuccess(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", successStyle.Render(successSymbol), message)
}

func printError(w io.Writer, message string) {
	_, _ = fmt.Fprintf(w, "%s %s\n", errorStyle.Render(errorSymbol), errorStyle.Render(message))
}

func printInfof(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, "%s %s\n", infoStyle.Render(infoSymbol), fmt.Sprintf(format, args...))
}

// printValidation lists every field message of a rejected draft.
func printValidation(w io.Writer, verr *core.ValidationError) {
	printError(w, "expense rejected")
	for _, fe := range verr.Fields {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", headerStyle.Render(fe.Field), fe.Err)
	}
}

func monthTitle(ym core.YearMonth) string {
	if ym.IsAll() {
		return "All months"
	}
	return ym.String()
}

// printLedger writes one row per expense followed by the total of exactly
// those rows.
func printLedger(w io.Writer, currency string, ym core.YearMonth, rows []core.Expense, total decimal.Decimal) {
	_, _ = fmt.Fprintln(w, headerStyle.Render(monthTitle(ym)))
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("No expenses for this period."))
	}
	width := 0
	for _, e := range rows {
		width = max(width, len([]rune(e.Description)))
	}
	desc := lipgloss.NewStyle().Width(width + 2)
	for _, e := range rows {
		_, _ = fmt.Fprintf(w, "%s  %s%s  %s\n",
			e.Date.String(),
			desc.Render(e.Description),
			amountStyle.Render(currency+core.FormatAmount(e.Amount)),
			dimStyle.Render(e.ID))
	}
	_, _ = fmt.Fprintf(w, "%s%s\n",
		lipgloss.NewStyle().Width(12+width+2).Render("Total"),
		totalStyle.Render(currency+core.FormatAmount(total)))
}

func printTotal(w io.Writer, currency string, ym core.YearMonth, count int, total decimal.Decimal) {
	noun := "expenses"
	if count == 1 {
		noun = "expense"
	}
	_, _ = fmt.Fprintf(w, "%s %s %s\n",
		headerStyle.Render(monthTitle(ym)+":"),
		currency+core.FormatAmount(total),
		dimStyle.Render(fmt.Sprintf("(%d %s)", count, noun)))
}

func printEvent(w io.Writer, op, id string, count int, at string) {
	line := []string{dimStyle.Render(at), infoStyle.Render(op)}
	if id != "" {
		line = append(line, id)
	}
	line = append(line, dimStyle.Render(fmt.Sprintf("%d records", count)))
	_, _ = fmt.Fprintln(w, strings.Join(line, " "))
}
