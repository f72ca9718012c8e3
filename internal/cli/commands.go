package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gastos/internal/amqp"
	"gastos/internal/core"
	apphttp "gastos/internal/http"
	"gastos/internal/ledger"
	"gastos/internal/log"
)

// ErrRejected is returned after a rejected draft has been reported.
var ErrRejected = errors.New("expense rejected")

// Commands is the command tree passed to kong.
type Commands struct {
	Serve  ServeCmd  `cmd:"" default:"withargs" help:"Run the web interface (default)."`
	List   ListCmd   `cmd:"" aliases:"ls" help:"List expenses of a month with their total."`
	Total  TotalCmd  `cmd:"" help:"Print the total of a month."`
	Add    AddCmd    `cmd:"" help:"Add an expense. Prompts for missing fields on a terminal."`
	Edit   EditCmd   `cmd:"" help:"Change fields of an existing expense."`
	Rm     RmCmd     `cmd:"" aliases:"remove" help:"Remove an expense by ID."`
	Events EventsCmd `cmd:"" help:"Print ledger change events published to AMQP."`
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// parseMonth turns a --month value into a filter. Empty means the current
// month, "all" means every record.
func parseMonth(s string, now time.Time) (core.YearMonth, error) {
	switch s {
	case "":
		return core.YearMonthOf(now), nil
	case "all":
		return "", nil
	}
	ym, err := core.ParseYearMonth(s)
	if err != nil {
		return "", fmt.Errorf("month %q: use YYYY-MM or all", s)
	}
	return ym, nil
}

type ServeCmd struct {
	Port string `help:"Listen port, overrides PORT."`
}

// Run serves HTTP until a signal arrives. With the file backend the ledger
// is reloaded when another process rewrites it.
func (cmd *ServeCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	s, err := g.openSession(ctx, g.stdout())
	if err != nil {
		return err
	}
	defer s.Close()

	port := s.cfg.Port
	if cmd.Port != "" {
		port = cmd.Port
	}
	srv := apphttp.NewServer(":"+port, s.store, apphttp.Options{
		Logger:         s.logger,
		CurrencySymbol: s.cfg.CurrencySymbol,
	})

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		s.logger.Info("Starting gastos server",
			"port", port, log.FieldBackend, s.cfg.DataBackend, log.FieldKey, s.store.Key())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if w := s.backend.Watcher; w != nil {
		watchLog := s.logger.WithComponent(log.ComponentWatcher)
		grp.Go(func() error {
			return w.Watch(gctx, s.store.Key(), func(ctx context.Context) {
				if err := s.store.Reload(ctx); err != nil {
					watchLog.Warn("Reload after external change", log.FieldError, err)
					return
				}
				watchLog.Info("Ledger reloaded", log.FieldCount, len(s.store.Records()))
			})
		})
	}

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}

type ListCmd struct {
	Month string `short:"m" help:"Month to show as YYYY-MM, or all. Defaults to the current month."`
}

func (cmd *ListCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.openSession(ctx, g.stderr())
	if err != nil {
		return err
	}
	defer s.Close()

	ym, err := parseMonth(cmd.Month, time.Now())
	if err != nil {
		return err
	}
	s.store.SetFilter(ym)
	v := s.store.Snapshot()
	printLedger(g.stdout(), s.cfg.CurrencySymbol, v.Filter, v.Visible, v.Total)
	return nil
}

type TotalCmd struct {
	Month string `short:"m" help:"Month to sum as YYYY-MM, or all. Defaults to the current month."`
}

func (cmd *TotalCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.openSession(ctx, g.stderr())
	if err != nil {
		return err
	}
	defer s.Close()

	ym, err := parseMonth(cmd.Month, time.Now())
	if err != nil {
		return err
	}
	s.store.SetFilter(ym)
	v := s.store.Snapshot()
	printTotal(g.stdout(), s.cfg.CurrencySymbol, v.Filter, len(v.Visible), v.Total)
	return nil
}

type AddCmd struct {
	Description string `short:"d" help:"What the money was spent on."`
	Date        string `help:"Date as YYYY-MM-DD. Defaults to today."`
	Amount      string `short:"a" help:"Positive amount, dot or comma decimals."`
}

func (cmd *AddCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.openSession(ctx, g.stderr())
	if err != nil {
		return err
	}
	defer s.Close()

	d := ledger.Draft{Description: cmd.Description, Date: cmd.Date, Amount: cmd.Amount}
	if d.Date == "" {
		d.Date = time.Now().Format(core.DateLayout)
	}
	if (d.Description == "" || d.Amount == "") && isTerminal() {
		if d, err = promptDraft("New expense", d); err != nil {
			return err
		}
	}

	e, err := s.store.Add(ctx, d)
	if err != nil {
		return reportSaveError(g, err)
	}
	printSuccess(g.stdout(), fmt.Sprintf("Added %s %s%s on %s",
		e.Description, s.cfg.CurrencySymbol, core.FormatAmount(e.Amount), e.Date))
	printInfof(g.stdout(), "id %s", e.ID)
	return nil
}

type EditCmd struct {
	ID          string `arg:"" help:"ID of the expense to change."`
	Description string `short:"d" help:"New description."`
	Date        string `help:"New date as YYYY-MM-DD."`
	Amount      string `short:"a" help:"New amount."`
}

// Run opens the record in the form, applies the given fields and saves.
// With no field flags on a terminal the whole draft is prompted for.
func (cmd *EditCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.openSession(ctx, g.stderr())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.store.Edit(cmd.ID); err != nil {
		return fmt.Errorf("edit %s: %w", cmd.ID, err)
	}

	updates := map[string]string{
		core.FieldDescription: cmd.Description,
		core.FieldDate:        cmd.Date,
		core.FieldAmount:      cmd.Amount,
	}
	changed := false
	for field, v := range updates {
		if v == "" {
			continue
		}
		changed = true
		if err := s.store.UpdateDraft(field, v); err != nil {
			return err
		}
	}
	if !changed {
		if !isTerminal() {
			s.store.Cancel()
			return errors.New("nothing to change: pass --description, --date or --amount")
		}
		d, err := promptDraft("Edit expense", s.store.Snapshot().Form.Draft)
		if err != nil {
			s.store.Cancel()
			return err
		}
		for field, v := range map[string]string{
			core.FieldDescription: d.Description,
			core.FieldDate:        d.Date,
			core.FieldAmount:      d.Amount,
		} {
			if err := s.store.UpdateDraft(field, v); err != nil {
				return err
			}
		}
	}

	e, _, err := s.store.Save(ctx)
	if err != nil {
		return reportSaveError(g, err)
	}
	printSuccess(g.stdout(), fmt.Sprintf("Updated %s: %s %s%s on %s",
		e.ID, e.Description, s.cfg.CurrencySymbol, core.FormatAmount(e.Amount), e.Date))
	return nil
}

type RmCmd struct {
	ID  string `arg:"" help:"ID of the expense to remove."`
	Yes bool   `short:"y" help:"Do not ask for confirmation."`
}

func (cmd *RmCmd) Run(g *Globals) error {
	ctx := context.Background()
	s, err := g.openSession(ctx, g.stderr())
	if err != nil {
		return err
	}
	defer s.Close()

	if !cmd.Yes && isTerminal() {
		ok, err := promptYesNo(fmt.Sprintf("Remove expense %s?", cmd.ID))
		if err != nil {
			return err
		}
		if !ok {
			printInfof(g.stdout(), "kept %s", cmd.ID)
			return nil
		}
	}

	if err := s.store.Remove(ctx, cmd.ID); err != nil {
		return fmt.Errorf("remove %s: %w", cmd.ID, err)
	}
	printSuccess(g.stdout(), "Removed "+cmd.ID)
	return nil
}

type EventsCmd struct{}

// Run prints every change event until interrupted.
func (cmd *EventsCmd) Run(g *Globals) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := g.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	if !cfg.AMQPEnabled() {
		return errors.New("AMQP_URL is not set")
	}
	logger := g.SetupLogger(cfg, g.stderr())

	client, err := amqp.NewClient(ctx, amqp.Config{
		URL:         cfg.AMQPURL,
		Exchange:    cfg.AMQPExchange,
		RoutingKey:  cfg.AMQPRoutingKey,
		DialTimeout: cfg.AMQPDialTimeout,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	out := g.stdout()
	err = client.Subscribe(ctx, func(msg *amqp.LedgerChangedMessage) error {
		printEvent(out, msg.Op, msg.ID, msg.Count, msg.Timestamp.Local().Format(time.DateTime))
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reportSaveError prints field messages for a rejected draft.
func reportSaveError(g *Globals, err error) error {
	if verr, ok := core.AsValidationError(err); ok {
		printValidation(g.stderr(), verr)
		return ErrRejected
	}
	return err
}
