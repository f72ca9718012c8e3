package storage

import (
	"context"
	"errors"
	"strings"

	"gastos/internal/log"
)

// BlobStore is the persistence port of the ledger: a key-value store holding
// one opaque blob per key. Set always replaces the whole value.
type BlobStore interface {
	// Get returns the blob stored under key. ok is false when the key has
	// never been written.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set overwrites the blob stored under key.
	Set(ctx context.Context, key string, value []byte) error
}

// Option configures a FileStore or a SQLiteStore.
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: log.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.WithComponent(log.ComponentStorage)
	return o
}

// ErrInvalidKey is returned for keys that are empty or contain path elements.
var ErrInvalidKey = errors.New("invalid storage key")

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return ErrInvalidKey
	}
	return nil
}
