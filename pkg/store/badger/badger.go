// Package badger implements store.Store on an embedded BadgerDB.
//
// Each file is one key ("var/" + name) holding the full content. Replace and
// Remove are single transactions, so a reader sees the old or the new value.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/grainweb/pkg/store"
)

const keyPrefix = "var/"

// Config configures the BadgerDB store.
type Config struct {
	// DBPath is the database directory. Ignored when InMemory is set.
	DBPath string

	// InMemory keeps all data in memory (tests, ephemeral grains).
	InMemory bool

	// BadgerOptions overrides the defaults when non-nil.
	BadgerOptions *badgerdb.Options
}

// Store keeps user files in BadgerDB.
type Store struct {
	db *badgerdb.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the database.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	if cfg.BadgerOptions != nil {
		opts = *cfg.BadgerOptions
	} else {
		path := cfg.DBPath
		if cfg.InMemory {
			path = ""
		} else if path == "" {
			return nil, fmt.Errorf("badger store requires a db path")
		}

		opts = badgerdb.DefaultOptions(path)
		opts = opts.WithInMemory(cfg.InMemory)
		opts = opts.WithLoggingLevel(badgerdb.WARNING)
		opts = opts.WithCompression(options.None)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Store{db: db}, nil
}

func fileKey(name string) []byte {
	return []byte(keyPrefix + name)
}

type object struct {
	*bytes.Reader
	size int64
}

func (o *object) Size() int64 {
	return o.size
}

func (o *object) Close() error {
	return nil
}

// Open copies the value out of a read transaction.
func (s *Store) Open(ctx context.Context, name string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(fileKey(name))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, fmt.Errorf("open %s: %w", name, store.ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return &object{Reader: bytes.NewReader(data), size: int64(len(data))}, nil
}

// List returns the distinct first segments of all stored names.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), keyPrefix)
			if i := strings.IndexByte(name, '/'); i >= 0 {
				name = name[:i]
			}
			seen[name] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Replace sets the value in one transaction.
func (s *Store) Replace(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateName(name); err != nil {
		return err
	}

	value := make([]byte, len(data))
	copy(value, data)

	if err := s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(fileKey(name), value)
	}); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Remove deletes the key, reporting store.ErrNotFound if it was absent.
func (s *Store) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateName(name); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(fileKey(name)); err != nil {
			return err
		}
		return txn.Delete(fileKey(name))
	})
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("remove %s: %w", name, store.ErrNotFound)
		}
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
