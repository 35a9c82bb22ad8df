package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/grainweb/pkg/adapter"
	"github.com/marmos91/grainweb/pkg/store"
)

// Stores holds the stores opened from configuration.
type Stores struct {
	// Static is the read-only client/ tree
	Static store.StaticTree

	// Data is the writable var/ store
	Data store.Store
}

// CreateStores opens the static tree and the var/ store. Nothing is left
// open on error.
func CreateStores(ctx context.Context, cfg *Config) (*Stores, error) {
	static, err := CreateStaticTree(&cfg.App)
	if err != nil {
		return nil, err
	}

	data, err := CreateDataStore(ctx, &cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	return &Stores{Static: static, Data: data}, nil
}

// Adapter returns the stores in the form adapters consume.
func (s *Stores) Adapter() adapter.Stores {
	return adapter.Stores{Static: s.Static, Data: s.Data}
}

// Sweepable returns the var/ store if it stages uploads, or nil.
func (s *Stores) Sweepable() store.Sweepable {
	sw, _ := s.Data.(store.Sweepable)
	return sw
}

// Close closes the var/ store. The static tree holds no resources.
func (s *Stores) Close() error {
	var errs []error
	if s.Data != nil {
		if err := s.Data.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close var store: %w", err))
		}
	}
	return errors.Join(errs...)
}
