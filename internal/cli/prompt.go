package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"gastos/internal/core"
	"gastos/internal/ledger"
)

// isTerminal reports whether stdin is interactive.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptDraft asks for the draft fields interactively, starting from d.
// Each input is checked with the same parser the ledger uses.
func promptDraft(title string, d ledger.Draft) (ledger.Draft, error) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Description").
				CharLimit(core.MaxDescriptionLength).
				Value(&d.Description).
				Validate(func(s string) error {
					if s == "" {
						return core.ErrEmptyDescription
					}
					return nil
				}),
			huh.NewInput().
				Title("Date").
				Placeholder(core.DateLayout).
				Value(&d.Date).
				Validate(func(s string) error {
					_, err := core.ParseDate(s)
					return err
				}),
			huh.NewInput().
				Title("Amount").
				Placeholder("12.50").
				Value(&d.Amount).
				Validate(func(s string) error {
					_, err := core.ParseAmount(s)
					return err
				}),
		).Title(title),
	)
	if err := form.Run(); err != nil {
		return d, fmt.Errorf("failed to read expense: %w", err)
	}
	return d, nil
}

// promptYesNo asks a yes/no question. It answers no when stdin is not a
// terminal.
func promptYesNo(question string) (bool, error) {
	if !isTerminal() {
		return false, nil
	}

	var confirm bool
	err := huh.NewConfirm().
		Title(question).
		WithButtonAlignment(lipgloss.Left).
		Value(&confirm).
		Run()
	if err != nil {
		return false, fmt.Errorf("failed to read response: %w", err)
	}
	return confirm, nil
}
