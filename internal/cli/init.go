// Package cli implements the gastos command line.
//
// Every command shares the same start-up: load the optional .env file, read
// and validate configuration, build the storage backend and load the ledger.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"

	"gastos/internal/backend"
	"gastos/internal/config"
	"gastos/internal/ledger"
	"gastos/internal/log"
)

// Globals are flags shared by every command.
type Globals struct {
	EnvFile string `help:"Environment file loaded before configuration is read." default:".env" type:"path"`
	Backend string `help:"Storage backend, overrides DATA_BACKEND." enum:",memory,file,sqlite" default:""`
	Debug   bool   `help:"Log at debug level."`

	// Out receives command output, Err receives logs. Both default to the
	// process streams.
	Out io.Writer `kong:"-"`
	Err io.Writer `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Globals) stderr() io.Writer {
	if g.Err == nil {
		return os.Stderr
	}
	return g.Err
}

// LoadEnvFile loads path for local development. A missing file is not an
// error; variables already set in the environment win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadAndValidateConfig reads configuration from the environment, applies
// flag overrides and validates the result.
func (g *Globals) LoadAndValidateConfig() (*config.Config, error) {
	if err := LoadEnvFile(g.EnvFile); err != nil {
		return nil, err
	}
	cfg := config.Load()
	if g.Backend != "" {
		cfg.DataBackend = g.Backend
	}
	if g.Debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetupLogger builds the process logger and installs it as the slog
// default. Command line tools log to stderr so stdout stays parseable.
func (g *Globals) SetupLogger(cfg *config.Config, w io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentApp,
		Output:    w,
	})
	log.SetDefault(logger)
	return logger
}

// session is an opened ledger plus the resources behind it.
type session struct {
	cfg     *config.Config
	logger  *log.Logger
	backend *backend.BackendResult
	store   *ledger.Store
}

// openSession builds the configured backend and loads the ledger. A
// malformed ledger is logged and the session starts from an empty one.
func (g *Globals) openSession(ctx context.Context, logTo io.Writer) (*session, error) {
	cfg, err := g.LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	logger := g.SetupLogger(cfg, logTo)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", cfg.DataBackend, err)
	}

	opts := []ledger.Option{ledger.WithLogger(logger)}
	if res.Notifier != nil {
		opts = append(opts, ledger.WithNotifier(res.Notifier))
	}
	store := ledger.New(res.Store, cfg.LedgerKey, opts...)

	if err := store.Load(ctx); err != nil {
		var warn *ledger.LoadWarning
		if !errors.As(err, &warn) {
			_ = res.Close()
			return nil, fmt.Errorf("load ledger: %w", err)
		}
		logger.Warn("Ledger loaded with problems", log.FieldError, warn,
			log.FieldKey, warn.Key, "skipped", warn.Skipped)
	}

	return &session{cfg: cfg, logger: logger, backend: res, store: store}, nil
}

func (s *session) Close() {
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("Failed to release backend", log.FieldError, err)
	}
}
