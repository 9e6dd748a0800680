// Package catalog keeps a persistent index of recording and replay sessions
// in a Pebble database.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polysync/rnr/internal/logger"
	"github.com/polysync/rnr/internal/rnrerr"
	"github.com/polysync/rnr/internal/tracing"
)

var (
	sessionPrefix = []byte("session/")
	// sessionUpper is the first key past every session key
	sessionUpper = []byte("session0")
)

// Catalog stores session entries keyed by session id
type Catalog struct {
	db     *pebble.DB
	dir    string
	mu     sync.RWMutex
	closed bool
	log    zerolog.Logger
}

// Open opens or creates the catalog database in dir
func Open(dir string) (*Catalog, error) {
	//nolint:gosec // Catalog directory is shared with operators
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rnrerr.IOError{Path: dir, Err: err}
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, rnrerr.IOError{Path: dir, Err: fmt.Errorf("failed to open Pebble DB: %w", err)}
	}

	c := &Catalog{
		db:  db,
		dir: dir,
		log: logger.WithComponent("catalog"),
	}
	c.log.Info().Str("dir", dir).Msg("Session catalog opened")
	return c, nil
}

func sessionKey(id uuid.UUID) []byte {
	return append(append([]byte{}, sessionPrefix...), id.String()...)
}

// Put inserts or replaces an entry
func (c *Catalog) Put(ctx context.Context, e Entry) (err error) {
	_, span := startSpan(ctx, "put", e.ID.String())
	defer func() { tracing.EndSpan(span, err) }()

	if e.ID == uuid.Nil {
		return InvalidEntryError{Reason: "session id is required"}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return rnrerr.UsageError{Reason: "catalog is closed"}
	}

	if err := c.db.Set(sessionKey(e.ID), data, pebble.Sync); err != nil {
		return rnrerr.IOError{Path: c.dir, Err: err}
	}
	return nil
}

// Get returns the entry for id
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (e Entry, err error) {
	_, span := startSpan(ctx, "get", id.String())
	defer func() { tracing.EndSpan(span, err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Entry{}, rnrerr.UsageError{Reason: "catalog is closed"}
	}

	value, closer, err := c.db.Get(sessionKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, SessionNotFoundError{ID: id}
		}
		return Entry{}, rnrerr.IOError{Path: c.dir, Err: err}
	}
	defer closer.Close()

	if err := json.Unmarshal(value, &e); err != nil {
		return Entry{}, fmt.Errorf("failed to decode entry %s: %w", id, err)
	}
	return e, nil
}

// Update applies fn to the stored entry and writes it back
func (c *Catalog) Update(ctx context.Context, id uuid.UUID, fn func(*Entry)) error {
	e, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	fn(&e)
	e.ID = id
	return c.Put(ctx, e)
}

// List returns entries, newest first
func (c *Catalog) List(ctx context.Context, opts ListOptions) (entries []Entry, err error) {
	_, span := startSpan(ctx, "list", "")
	defer func() { tracing.EndSpan(span, err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, rnrerr.UsageError{Reason: "catalog is closed"}
	}

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: sessionPrefix,
		UpperBound: sessionUpper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			c.log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping undecodable catalog entry")
			continue
		}
		if opts.Mode != "" && e.Mode != opts.Mode {
			continue
		}
		entries = append(entries, e)
	}
	if err := iter.Error(); err != nil {
		return nil, rnrerr.IOError{Path: c.dir, Err: err}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// Delete removes the entry for id
func (c *Catalog) Delete(ctx context.Context, id uuid.UUID) (err error) {
	_, span := startSpan(ctx, "delete", id.String())
	defer func() { tracing.EndSpan(span, err) }()

	if _, err := c.Get(ctx, id); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.db.Delete(sessionKey(id), pebble.Sync); err != nil {
		return rnrerr.IOError{Path: c.dir, Err: err}
	}
	return nil
}

// Close closes the database; closing twice is a no-op
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.db.Close(); err != nil {
		return rnrerr.IOError{Path: c.dir, Err: err}
	}
	c.log.Info().Msg("Session catalog closed")
	return nil
}
