// Package kv provides a small key-value cache on BadgerDB, used to remember
// recently seen bridge events.
package kv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store is closed")

// ErrNotFound is returned by Get when the key is missing or expired.
var ErrNotFound = errors.New("kv: key not found")

type KV struct {
	db       *badger.DB
	closed   bool
	closedMu sync.RWMutex
}

// Options for KV store
type Options struct {
	Dir           string // Data directory, ignored in memory mode
	SyncWrites    bool   // Sync writes to disk
	Compression   bool   // Enable compression
	MemoryMode    bool   // In-memory only (no persistence)
	ValueLogMaxMB int64  // Max value log size in MB
	Logger        *zap.Logger
}

// DefaultOptions returns options for an in-memory store.
func DefaultOptions() Options {
	return Options{
		MemoryMode:    true,
		ValueLogMaxMB: 64,
	}
}

// Open opens a KV store
func Open(opt Options) (*KV, error) {
	dir := ""
	if !opt.MemoryMode {
		dir = opt.Dir
		if dir == "" {
			dir = filepath.Join(os.TempDir(), "wagem-kv")
		}
	}

	opts := badger.DefaultOptions(dir).
		WithInMemory(opt.MemoryMode).
		WithSyncWrites(opt.SyncWrites).
		WithLogger(badgerLogger{opt.Logger})

	if opt.Compression && !opt.MemoryMode {
		opts = opts.WithCompression(options.ZSTD)
	}
	if !opt.MemoryMode && opt.ValueLogMaxMB > 0 {
		opts = opts.WithValueLogFileSize(opt.ValueLogMaxMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	if opt.Logger != nil {
		opt.Logger.Debug("kv opened", zap.String("dir", dir), zap.Bool("memory", opt.MemoryMode))
	}
	return &KV{db: db}, nil
}

// Close closes the KV store. Calling it twice is a no-op.
func (k *KV) Close() error {
	k.closedMu.Lock()
	defer k.closedMu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.db.Close()
}

// IsClosed returns if the KV is closed
func (k *KV) IsClosed() bool {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()
	return k.closed
}

// SetWithTTL sets a key-value pair that expires after ttl.
func (k *KV) SetWithTTL(key, value string, ttl time.Duration) error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return ErrClosed
	}

	return k.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(value)).WithTTL(ttl))
	})
}

// Get gets a value by key
func (k *KV) Get(key string) (string, error) {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return "", ErrClosed
	}

	var result string
	err := k.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		result = string(val)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	return result, err
}

// Delete deletes a key
func (k *KV) Delete(key string) error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return ErrClosed
	}

	return k.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// MarkSeen records key for ttl and reports whether this call was the first
// to do so. A key still within its ttl yields false.
func (k *KV) MarkSeen(key string, ttl time.Duration) (bool, error) {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()

	if k.closed {
		return false, ErrClosed
	}

	first := false
	err := k.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		first = true
		return txn.SetEntry(badger.NewEntry([]byte(key), []byte(time.Now().UTC().Format(time.RFC3339))).WithTTL(ttl))
	})
	// Two writers racing on the same key: the loser saw it too late.
	if errors.Is(err, badger.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return first, nil
}

// badgerLogger routes badger's internal logging to zap.
type badgerLogger struct {
	l *zap.Logger
}

func (b badgerLogger) sugar() *zap.SugaredLogger {
	if b.l == nil {
		return zap.NewNop().Sugar()
	}
	return b.l.Named("badger").Sugar()
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.sugar().Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.sugar().Warnf(f, v...) }
func (b badgerLogger) Infof(f string, v ...interface{})    { b.sugar().Debugf(f, v...) }
func (b badgerLogger) Debugf(f string, v ...interface{})   { b.sugar().Debugf(f, v...) }
