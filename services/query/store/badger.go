// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianQuery/services/query/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	trace/<traceID>            -> QueryTrace JSON
//	session/<sessionID>        -> latest traceID in the session
//	feedback/<traceID>/<seq>   -> FeedbackRecord JSON, seq zero-padded
//
// The zero-padded sequence keeps feedback iteration in append order.

// BadgerConfig holds configuration for the embedded trace store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable synchronous
// writes to disk.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryBadgerConfig returns configuration optimized for testing: no
// disk I/O, no sync.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerTraceStore implements TraceStore on an embedded BadgerDB.
//
// # Description
//
// Intended for single-node deployments and tests where running Weaviate
// for trace storage is overkill. Traces and feedback live in the same
// keyspace as plain JSON values.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type BadgerTraceStore struct {
	db *badger.DB
}

// Compile-time interface implementation check.
var _ TraceStore = (*BadgerTraceStore)(nil)

// NewBadgerTraceStore opens (or creates) the embedded store.
func NewBadgerTraceStore(cfg BadgerConfig) (*BadgerTraceStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	slog.Info("Opened embedded trace store", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &BadgerTraceStore{db: db}, nil
}

func traceKey(traceID string) []byte {
	return []byte("trace/" + traceID)
}

func sessionKey(sessionID string) []byte {
	return []byte("session/" + sessionID)
}

func feedbackPrefix(traceID string) []byte {
	return []byte("feedback/" + traceID + "/")
}

func feedbackKey(traceID string, seq int) []byte {
	return []byte(fmt.Sprintf("feedback/%s/%08d", traceID, seq))
}

// SaveTrace implements the TraceStore interface.
func (s *BadgerTraceStore) SaveTrace(ctx context.Context, trace *datatypes.QueryTrace) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "save_trace", Err: err}
	}

	payload, err := json.Marshal(trace)
	if err != nil {
		return &StorageError{Op: "save_trace", Err: fmt.Errorf("marshal trace: %w", err)}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(traceKey(trace.TraceID)); err == nil {
			return fmt.Errorf("trace %s already exists", trace.TraceID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(traceKey(trace.TraceID), payload); err != nil {
			return err
		}
		if trace.SessionID != "" {
			return txn.Set(sessionKey(trace.SessionID), []byte(trace.TraceID))
		}
		return nil
	})
	if err != nil {
		return &StorageError{Op: "save_trace", Err: err}
	}
	return nil
}

// GetTrace implements the TraceStore interface.
func (s *BadgerTraceStore) GetTrace(ctx context.Context, traceID string) (*datatypes.QueryTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "get_trace", Err: err}
	}

	var trace datatypes.QueryTrace
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(traceKey(traceID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &trace)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTraceNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get_trace", Err: err}
	}
	return &trace, nil
}

// LatestTraceForSession implements the TraceStore interface.
func (s *BadgerTraceStore) LatestTraceForSession(ctx context.Context, sessionID string) (*datatypes.QueryTrace, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "get_trace", Err: err}
	}

	var traceID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			traceID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrTraceNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get_trace", Err: err}
	}
	return s.GetTrace(ctx, traceID)
}

// AppendFeedback implements the TraceStore interface.
func (s *BadgerTraceStore) AppendFeedback(ctx context.Context, record *datatypes.FeedbackRecord) error {
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: "append_feedback", Err: err}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return &StorageError{Op: "append_feedback", Err: fmt.Errorf("marshal feedback: %w", err)}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(traceKey(record.TraceID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrTraceNotFound
			}
			return err
		}

		seq := 0
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = feedbackPrefix(record.TraceID)
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			seq++
		}
		it.Close()

		return txn.Set(feedbackKey(record.TraceID, seq), payload)
	})
	if errors.Is(err, ErrTraceNotFound) {
		return ErrTraceNotFound
	}
	if err != nil {
		return &StorageError{Op: "append_feedback", Err: err}
	}
	return nil
}

// ListFeedback implements the TraceStore interface.
func (s *BadgerTraceStore) ListFeedback(ctx context.Context, traceID string) ([]datatypes.FeedbackRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StorageError{Op: "list_feedback", Err: err}
	}

	var records []datatypes.FeedbackRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = feedbackPrefix(traceID)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var record datatypes.FeedbackRecord
				if err := json.Unmarshal(val, &record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list_feedback", Err: err}
	}
	return records, nil
}

// Close implements the TraceStore interface.
func (s *BadgerTraceStore) Close() error {
	return s.db.Close()
}
