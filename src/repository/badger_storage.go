package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/batua/wallet/src/store"
	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStorage is an embedded, durable backend for single-node deployments.
type BadgerStorage struct {
	db *badger.DB
}

// OpenBadgerStorage opens a badger database at path. An empty path opens an
// in-memory database.
func OpenBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts = opts.WithSyncWrites(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return &BadgerStorage{db: db}, nil
}

func (s *BadgerStorage) GetItem(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return value, nil
}

func (s *BadgerStorage) SetItem(ctx context.Context, name string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), value)
	})
}

func (s *BadgerStorage) RemoveItem(ctx context.Context, name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}
