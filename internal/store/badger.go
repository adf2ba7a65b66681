// Postwave - Content Coalescing and Fan-out Posting Pipeline
// Copyright 2026 Postwave Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/postwave/postwave

// Package store is the BadgerDB persistence layer behind the item and
// settings interfaces in package media.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/postwave/postwave/internal/media"
)

// Key prefixes for BadgerDB storage
const (
	itemKeyPrefix     = "item:"
	postKeyPrefix     = "post:"
	settingsKeyPrefix = "settings:"
)

// Store is a BadgerDB-backed implementation of media.ItemStore and
// media.SettingsStore.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database at path and returns a Store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(path string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerAdapter{logger: logger.With().Str("component", "store").Logger()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open database. Used by tests with an
// in-memory instance.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func itemKey(ownerID, id string) []byte {
	return []byte(itemKeyPrefix + ownerID + ":" + id)
}

// UpsertItem stores item metadata keyed by owner and item ID. Replaying
// the same item overwrites the identical record, so admission retries
// are harmless.
func (s *Store) UpsertItem(ctx context.Context, item *media.Item) error {
	if item.OwnerID == "" || item.ID == "" {
		return errors.New("item missing owner or id")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.OwnerID, item.ID), data)
	})
}

// SavePost records a delivered post.
func (s *Store) SavePost(ctx context.Context, rec *media.PostRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal post record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(postKeyPrefix+rec.OwnerID+":"+rec.ID), data)
	})
}

// CountItems counts the owner's stored items without reading values.
func (s *Store) CountItems(ctx context.Context, ownerID string) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(itemKeyPrefix + ownerID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Items opens a cursor over the owner's items in key order. The caller
// must Close it to release the read transaction.
func (s *Store) Items(ctx context.Context, ownerID string) (media.ItemIterator, error) {
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	return &itemIterator{
		txn:    txn,
		it:     it,
		prefix: []byte(itemKeyPrefix + ownerID + ":"),
	}, nil
}

// itemIterator streams items out of a single long-lived read
// transaction.
type itemIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	closed  bool
}

func (i *itemIterator) Next(ctx context.Context) (*media.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i.closed {
		return nil, errors.New("iterator closed")
	}
	if !i.started {
		i.it.Seek(i.prefix)
		i.started = true
	} else {
		i.it.Next()
	}
	if !i.it.ValidForPrefix(i.prefix) {
		return nil, nil
	}

	var item media.Item
	err := i.it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &item)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &item, nil
}

func (i *itemIterator) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.it.Close()
	i.txn.Discard()
	return nil
}

// OwnerSettings loads the owner's settings, returning defaults when the
// owner has never saved any.
func (s *Store) OwnerSettings(ctx context.Context, ownerID string) (*media.OwnerSettings, error) {
	settings := &media.OwnerSettings{OwnerID: ownerID}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(settingsKeyPrefix + ownerID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get settings: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, settings)
		})
	})
	if err != nil {
		return nil, err
	}
	settings.OwnerID = ownerID
	return settings, nil
}

// SaveSettings persists the owner's settings.
func (s *Store) SaveSettings(ctx context.Context, settings *media.OwnerSettings) error {
	if settings.OwnerID == "" {
		return errors.New("settings missing owner id")
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(settingsKeyPrefix+settings.OwnerID), data)
	})
}

// RemoveSink deregisters a destination from both the primary slot and
// the backup list.
func (s *Store) RemoveSink(ctx context.Context, ownerID, sinkID string) error {
	settings, err := s.OwnerSettings(ctx, ownerID)
	if err != nil {
		return err
	}
	changed := false
	if settings.PrimarySink == sinkID {
		settings.PrimarySink = ""
		changed = true
	}
	if idx := slices.Index(settings.BackupSinks, sinkID); idx >= 0 {
		settings.BackupSinks = slices.Delete(settings.BackupSinks, idx, idx+1)
		changed = true
	}
	if !changed {
		return nil
	}
	return s.SaveSettings(ctx, settings)
}

// badgerAdapter bridges Badger's logger to zerolog.
type badgerAdapter struct {
	logger zerolog.Logger
}

func (a badgerAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Error().Msgf(format, args...)
}

func (a badgerAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warn().Msgf(format, args...)
}

func (a badgerAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debug().Msgf(format, args...)
}

func (a badgerAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Trace().Msgf(format, args...)
}
