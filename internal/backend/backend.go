package backend

import (
	"context"
	"fmt"
	"time"

	"gastos/internal/config"
	"gastos/internal/ledger"
	"gastos/internal/storage"
)

// BackendType names a storage implementation.
type BackendType string

const (
	MemoryBackend BackendType = config.BackendMemory
	FileBackend   BackendType = config.BackendFile
	SQLiteBackend BackendType = config.BackendSQLite
)

func (t BackendType) String() string { return string(t) }

func (t BackendType) IsValid() bool {
	switch t {
	case MemoryBackend, FileBackend, SQLiteBackend:
		return true
	}
	return false
}

// Watcher reports changes made to the stored ledger by other processes.
type Watcher interface {
	Watch(ctx context.Context, key string, onChange func(context.Context)) error
}

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// BackendResult is everything a ledger.Store needs from the environment.
type BackendResult struct {
	Store storage.BlobStore
	// Watcher is nil unless the file backend runs with watching enabled.
	Watcher Watcher
	// Notifier is nil unless change events are configured and reachable.
	Notifier ledger.Notifier
	Cleanup  CleanupFunc
}

// Close runs Cleanup if there is one.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	DataDirectory string
	SQLiteDBPath  string
	Watch         bool

	AMQPURL         string
	AMQPExchange    string
	AMQPRoutingKey  string
	AMQPDialTimeout time.Duration
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.DataBackend)
	}

	return Config{
		Type:            backendType,
		DataDirectory:   appConfig.DataDir,
		SQLiteDBPath:    appConfig.SQLiteDBPath,
		Watch:           appConfig.WatchFile,
		AMQPURL:         appConfig.AMQPURL,
		AMQPExchange:    appConfig.AMQPExchange,
		AMQPRoutingKey:  appConfig.AMQPRoutingKey,
		AMQPDialTimeout: appConfig.AMQPDialTimeout,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case FileBackend:
		if c.DataDirectory == "" {
			return fmt.Errorf("data directory is required for file backend")
		}
	case MemoryBackend:
	}
	return nil
}
