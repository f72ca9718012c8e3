package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/core"
	"gastos/internal/ledger"
	"gastos/internal/storage"
)

type result struct {
	out, err string
}

// setupEnv points the file backend at a fresh directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_BACKEND", "file")
	t.Setenv("DATA_DIR", dir)
	t.Setenv("WATCH_FILE", "false")
	t.Setenv("AMQP_URL", "")
	t.Setenv("LEDGER_KEY", "gastos")
	t.Setenv("CURRENCY_SYMBOL", "€")

	prev := isTerminal
	isTerminal = func() bool { return false }
	t.Cleanup(func() { isTerminal = prev })
	return dir
}

func run(t *testing.T, dir string, args ...string) (result, error) {
	t.Helper()
	var app struct {
		Globals
		Commands
	}
	parser, err := kong.New(&app, kong.Name("gastos"), kong.Exit(func(int) {}))
	require.NoError(t, err)

	args = append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...)
	kctx, err := parser.Parse(args)
	if err != nil {
		return result{}, err
	}

	var out, errOut bytes.Buffer
	app.Globals.Out = &out
	app.Globals.Err = &errOut
	err = kctx.Run(&app.Globals)
	return result{out: out.String(), err: errOut.String()}, err
}

func records(t *testing.T, dir string) []core.Expense {
	t.Helper()
	fs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	s := ledger.New(fs, "gastos")
	require.NoError(t, s.Load(context.Background()))
	return s.Records()
}

func TestAddListTotal(t *testing.T) {
	dir := setupEnv(t)

	res, err := run(t, dir, "add", "-d", "Groceries", "--date", "2024-03-02", "-a", "12,5")
	require.NoError(t, err)
	assert.Contains(t, res.out, "Added Groceries €12.50 on 2024-03-02")

	_, err = run(t, dir, "add", "--description", "Rent", "--date", "2024-02-01", "--amount", "800")
	require.NoError(t, err)

	res, err = run(t, dir, "list", "--month", "2024-03")
	require.NoError(t, err)
	assert.Contains(t, res.out, "Groceries")
	assert.NotContains(t, res.out, "Rent")
	assert.Contains(t, res.out, "€12.50")

	res, err = run(t, dir, "total", "-m", "all")
	require.NoError(t, err)
	assert.Contains(t, res.out, "All months:")
	assert.Contains(t, res.out, "€812.50")
	assert.Contains(t, res.out, "(2 expenses)")

	res, err = run(t, dir, "ls", "-m", "2023-01")
	require.NoError(t, err)
	assert.Contains(t, res.out, "No expenses for this period.")

	assert.Len(t, records(t, dir), 2)
}

func TestAddRejectedDraft(t *testing.T) {
	dir := setupEnv(t)

	res, err := run(t, dir, "add", "-d", "Coffee", "--amount=-3")
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, res.err, "amount")
	assert.Empty(t, records(t, dir))
}

func TestEditUpdatesInPlace(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, dir, "add", "-d", "Books", "--date", "2024-03-01", "-a", "30")
	require.NoError(t, err)
	_, err = run(t, dir, "add", "-d", "Taxi", "--date", "2024-03-05", "-a", "12")
	require.NoError(t, err)

	before := records(t, dir)
	require.Len(t, before, 2)
	id := before[0].ID

	res, err := run(t, dir, "edit", id, "--amount", "31.5")
	require.NoError(t, err)
	assert.Contains(t, res.out, "Updated "+id)

	after := records(t, dir)
	require.Len(t, after, 2)
	assert.Equal(t, id, after[0].ID)
	assert.Equal(t, "Books", after[0].Description)
	assert.Equal(t, "31.5", after[0].Amount.String())
	assert.True(t, before[1].Equal(after[1]))
}

func TestEditRequiresChanges(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, dir, "add", "-d", "Books", "--date", "2024-03-01", "-a", "30")
	require.NoError(t, err)
	id := records(t, dir)[0].ID

	_, err = run(t, dir, "edit", id)
	assert.ErrorContains(t, err, "nothing to change")

	_, err = run(t, dir, "edit", "missing", "-a", "1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = run(t, dir, "edit", id, "--date", "2024-02-30")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, "2024-03-01", records(t, dir)[0].Date.String())
}

func TestRemove(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, dir, "add", "-d", "Lunch", "--date", "2024-03-01", "-a", "9")
	require.NoError(t, err)
	id := records(t, dir)[0].ID

	_, err = run(t, dir, "rm", "nope", "--yes")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	res, err := run(t, dir, "rm", id)
	require.NoError(t, err)
	assert.Contains(t, res.out, "Removed "+id)
	assert.Empty(t, records(t, dir))
}

func TestListMalformedLedger(t *testing.T) {
	dir := setupEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gastos.json"), []byte("{not json"), 0o644))

	res, err := run(t, dir, "list", "-m", "all")
	require.NoError(t, err)
	assert.Contains(t, res.out, "No expenses for this period.")
	assert.Contains(t, res.err, "Ledger loaded with problems")
}

func TestInvalidConfiguration(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("PORT", "not-a-port")

	_, err := run(t, dir, "list")
	assert.ErrorContains(t, err, "configuration validation failed")
}

func TestBackendFlagOverridesEnvironment(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, dir, "--backend", "memory", "add", "-d", "Lunch", "--date", "2024-03-01", "-a", "9")
	require.NoError(t, err)
	assert.Empty(t, records(t, dir))
}

func TestEventsRequiresBroker(t *testing.T) {
	dir := setupEnv(t)

	_, err := run(t, dir, "events")
	assert.ErrorContains(t, err, "AMQP_URL")
}

func TestParseMonth(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    core.YearMonth
		wantErr bool
	}{
		{"", "2024-03", false},
		{"all", "", false},
		{"2023-12", "2023-12", false},
		{"2023-13", "", true},
		{"dec", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMonth(tt.in, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
