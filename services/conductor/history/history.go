// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps a journal of completed runs in BadgerDB.
//
// The engine itself holds no state between runs. A Store records the shape
// of each run (statuses, failure reasons, timings) so operators can inspect
// it later. Node outputs are not persisted.
//
// Key layout:
//
//	run/<start unix nanos, 20 digits>/<run id>  -> JSON Record
//	id/<run id>                                 -> primary key
//
// Start times sort lexically, so List walks the run/ prefix in reverse to
// return the newest runs first.
package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/conductor/services/conductor/dag"
)

const (
	// DefaultListLimit is used when List is called with limit <= 0.
	DefaultListLimit = 50

	// MaxListLimit caps a single List call.
	MaxListLimit = 1000

	// RecordVersion is bumped when the Record layout changes.
	RecordVersion = "1"
)

var (
	// ErrNotFound is returned when no record exists for a run ID.
	ErrNotFound = errors.New("run not found")

	// ErrRecordCorrupt is returned when a stored record fails its checksum.
	ErrRecordCorrupt = errors.New("history record corrupt")

	// ErrInvalidRunID is returned for run IDs outside [a-zA-Z0-9_-]+.
	ErrInvalidRunID = errors.New("invalid run id")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("history store closed")
)

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var (
	runPrefix = []byte("run/")
	idPrefix  = []byte("id/")
)

// NodeRecord is the persisted outcome of one node.
type NodeRecord struct {
	Name     string          `json:"name"`
	Status   dag.NodeStatus  `json:"status"`
	Kind     dag.FailureKind `json:"kind,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Cause    string          `json:"cause,omitempty"`
	Duration time.Duration   `json:"duration_ns,omitempty"`
}

// Record is the persisted summary of one run.
type Record struct {
	Version   string        `json:"version"`
	RunID     string        `json:"run_id"`
	Graph     string        `json:"graph"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Succeeded bool          `json:"succeeded"`
	Nodes     []NodeRecord  `json:"nodes"`
	Checksum  string        `json:"checksum"`
}

// Counts returns the number of nodes per status.
func (r *Record) Counts() map[dag.NodeStatus]int {
	counts := make(map[dag.NodeStatus]int, 3)
	for _, n := range r.Nodes {
		counts[n.Status]++
	}
	return counts
}

// Verify recomputes the checksum and compares it to the stored value.
func (r *Record) Verify() bool {
	sum, err := r.computeChecksum()
	if err != nil {
		return false
	}
	return sum == r.Checksum
}

// computeChecksum hashes the record with the Checksum field cleared.
func (r *Record) computeChecksum() (string, error) {
	c := *r
	c.Checksum = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewRecord summarizes a run result.
func NewRecord(res *dag.ExecutionResult) (*Record, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: nil result", dag.ErrInvalidInput)
	}
	if !runIDPattern.MatchString(res.RunID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, res.RunID)
	}

	rec := &Record{
		Version: RecordVersion,
		RunID:   res.RunID,
		Graph:   res.Graph,
		// UTC strips the monotonic reading so the record survives a JSON round trip unchanged.
		StartedAt: res.StartedAt.UTC(),
		Duration:  res.Duration,
		Succeeded: res.Succeeded(),
		Nodes:     make([]NodeRecord, 0, len(res.Nodes)),
	}
	for _, name := range res.Order() {
		rep := res.Nodes[name]
		nr := NodeRecord{Name: name, Status: rep.Status, Duration: rep.Duration}
		if f, ok := res.Failures[name]; ok {
			nr.Kind = f.Kind
			nr.Reason = f.Reason
			nr.Cause = f.Cause
		}
		rec.Nodes = append(rec.Nodes, nr)
	}

	sum, err := rec.computeChecksum()
	if err != nil {
		return nil, err
	}
	rec.Checksum = sum
	return rec, nil
}

// Store is a BadgerDB-backed run journal.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
	ops    *prometheus.CounterVec
}

// Open opens (or creates) a store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is set.
//
// Outputs:
//
//	*Store - The open store. Call Close when done.
//	error - Non-nil if the database or its collectors cannot be set up.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_history_operations_total",
		Help: "History store operations by op (save, get, list) and result",
	}, []string{"op", "result"})
	if cfg.Registerer != nil {
		if err := cfg.Registerer.Register(ops); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, fmt.Errorf("register history metrics: %w", err)
			}
			ops = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger, ops: ops}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create history GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Save records a completed run. Saving the same run ID again replaces the
// previous record.
func (s *Store) Save(ctx context.Context, res *dag.ExecutionResult) (*Record, error) {
	if ctx == nil {
		return nil, dag.ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := NewRecord(res)
	if err != nil {
		s.ops.WithLabelValues("save", "error").Inc()
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.ops.WithLabelValues("save", "error").Inc()
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	key := runKey(rec.StartedAt, rec.RunID)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(rec.RunID))
		switch {
		case err == nil:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(old, key) {
				if err := txn.Delete(old); err != nil {
					return err
				}
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey(rec.RunID), key)
	})
	if err != nil {
		s.ops.WithLabelValues("save", "error").Inc()
		return nil, s.wrap("save run", err)
	}

	s.ops.WithLabelValues("save", "ok").Inc()
	s.logger.Debug("run recorded",
		slog.String("run_id", rec.RunID),
		slog.String("graph", rec.Graph),
		slog.Int("nodes", len(rec.Nodes)),
	)
	return rec, nil
}

// Get returns the record for runID.
//
// Outputs:
//
//	*Record - The verified record.
//	error - ErrInvalidRunID, ErrNotFound, ErrRecordCorrupt or a storage error.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	if ctx == nil {
		return nil, dag.ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !runIDPattern.MatchString(runID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}

	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(runID))
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err = decodeRecord(val)
			return err
		})
	})
	switch {
	case err == nil:
		s.ops.WithLabelValues("get", "ok").Inc()
		return rec, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		s.ops.WithLabelValues("get", "not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	case errors.Is(err, ErrRecordCorrupt):
		s.ops.WithLabelValues("get", "corrupt").Inc()
		s.logger.Error("history record failed verification", slog.String("run_id", runID))
		return nil, err
	default:
		s.ops.WithLabelValues("get", "error").Inc()
		return nil, s.wrap("get run", err)
	}
}

// List returns up to limit records, newest first. Corrupt records are
// logged and skipped.
func (s *Store) List(ctx context.Context, limit int) ([]*Record, error) {
	if ctx == nil {
		return nil, dag.ErrNilContext
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	records := make([]*Record, 0, min(limit, 64))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = runPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, runPrefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(runPrefix) && len(records) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if errors.Is(err, ErrRecordCorrupt) {
				s.logger.Warn("skipping corrupt history record", slog.String("key", string(item.Key())))
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.ops.WithLabelValues("list", "error").Inc()
		return nil, s.wrap("list runs", err)
	}
	s.ops.WithLabelValues("list", "ok").Inc()
	return records, nil
}

func (s *Store) wrap(op string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func decodeRecord(val []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecordCorrupt, err)
	}
	if !rec.Verify() {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", ErrRecordCorrupt, rec.RunID)
	}
	return &rec, nil
}

func runKey(started time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, started.UnixNano(), runID))
}

func idKey(runID string) []byte {
	return append(append([]byte{}, idPrefix...), runID...)
}
