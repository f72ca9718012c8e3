package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gastos/internal/config"
	"gastos/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("FromAppConfig(nil) should fail")
	}

	app := &config.Config{DataBackend: "sheets"}
	if _, err := FromAppConfig(app); err == nil {
		t.Error("FromAppConfig should reject unknown backends")
	}

	app = &config.Config{
		DataBackend:     config.BackendFile,
		DataDir:         "/tmp/gastos",
		WatchFile:       true,
		AMQPURL:         "amqp://localhost/",
		AMQPExchange:    "gastos",
		AMQPRoutingKey:  "ledger.changed",
		AMQPDialTimeout: 3 * time.Second,
	}
	cfg, err := FromAppConfig(app)
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if cfg.Type != FileBackend || cfg.DataDirectory != "/tmp/gastos" || !cfg.Watch {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.AMQPRoutingKey != "ledger.changed" {
		t.Errorf("AMQPRoutingKey = %s", cfg.AMQPRoutingKey)
	}
	if cfg.AMQPDialTimeout != 3*time.Second {
		t.Errorf("AMQPDialTimeout = %v, want 3s", cfg.AMQPDialTimeout)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"memory", Config{Type: MemoryBackend}, ""},
		{"file", Config{Type: FileBackend, DataDirectory: "data"}, ""},
		{"file without dir", Config{Type: FileBackend}, "data directory is required"},
		{"sqlite without path", Config{Type: SQLiteBackend}, "SQLite database path is required"},
		{"unknown", Config{Type: "sheets"}, "invalid backend type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateBackend(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	t.Run("memory", func(t *testing.T) {
		res, err := f.CreateBackend(ctx, Config{Type: MemoryBackend})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		if _, ok := res.Store.(*storage.MemoryStore); !ok {
			t.Errorf("Store = %T, want *storage.MemoryStore", res.Store)
		}
		if res.Watcher != nil || res.Notifier != nil {
			t.Error("memory backend has no watcher or notifier")
		}
		if err := res.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	t.Run("file with watch", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		res, err := f.CreateBackend(ctx, Config{Type: FileBackend, DataDirectory: dir, Watch: true})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		if _, ok := res.Store.(*storage.FileStore); !ok {
			t.Errorf("Store = %T, want *storage.FileStore", res.Store)
		}
		if res.Watcher == nil {
			t.Error("file backend with Watch should expose a watcher")
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "gastos.db")
		res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: path})
		if err != nil {
			t.Fatalf("CreateBackend() error = %v", err)
		}
		defer res.Close()

		if err := res.Store.Set(ctx, "gastos", []byte("[]")); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		got, ok, err := res.Store.Get(ctx, "gastos")
		if err != nil || !ok || string(got) != "[]" {
			t.Errorf("Get() = %q, %v, %v", got, ok, err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := f.CreateBackend(ctx, Config{Type: "sheets"}); err == nil {
			t.Error("CreateBackend should reject unknown backends")
		}
	})
}
