// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conductor/services/conductor/dag"
)

func openTestStore(t *testing.T, reg prometheus.Registerer) *Store {
	t.Helper()
	cfg := InMemoryConfig()
	cfg.Registerer = reg
	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func failedResult(runID string, started time.Time) *dag.ExecutionResult {
	return &dag.ExecutionResult{
		RunID:   runID,
		Graph:   "report",
		Outputs: map[string]any{"fetch": "rows"},
		Failures: map[string]*dag.Failure{
			"summarize": {
				Node:   "summarize",
				Status: dag.NodeStatusFailed,
				Kind:   dag.FailureTimeout,
				Reason: "node timed out",
			},
			"publish": {
				Node:   "publish",
				Status: dag.NodeStatusSkipped,
				Kind:   dag.FailureDependencyFailed,
				Reason: dag.ReasonDependencyFailed,
				Cause:  "summarize",
			},
		},
		Nodes: map[string]dag.NodeReport{
			"fetch":     {Status: dag.NodeStatusDone, Duration: 20 * time.Millisecond},
			"summarize": {Status: dag.NodeStatusFailed, Duration: time.Second},
			"publish":   {Status: dag.NodeStatusSkipped},
		},
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}
}

func TestNewRecord(t *testing.T) {
	rec, err := NewRecord(failedResult("run-1", time.Now()))
	require.NoError(t, err)

	assert.Equal(t, RecordVersion, rec.Version)
	assert.False(t, rec.Succeeded)
	require.Len(t, rec.Nodes, 3)
	assert.Equal(t, "fetch", rec.Nodes[0].Name)
	assert.Equal(t, "publish", rec.Nodes[1].Name)
	assert.Equal(t, "summarize", rec.Nodes[1].Cause)
	assert.Equal(t, dag.FailureTimeout, rec.Nodes[2].Kind)
	assert.Equal(t, time.UTC, rec.StartedAt.Location())
	assert.True(t, rec.Verify())

	counts := rec.Counts()
	assert.Equal(t, 1, counts[dag.NodeStatusDone])
	assert.Equal(t, 1, counts[dag.NodeStatusFailed])
	assert.Equal(t, 1, counts[dag.NodeStatusSkipped])

	rec.Nodes[0].Status = dag.NodeStatusFailed
	assert.False(t, rec.Verify())
}

func TestNewRecord_Invalid(t *testing.T) {
	_, err := NewRecord(nil)
	assert.ErrorIs(t, err, dag.ErrInvalidInput)

	for _, id := range []string{"", "../etc", "a/b", "run id"} {
		_, err := NewRecord(failedResult(id, time.Now()))
		assert.ErrorIs(t, err, ErrInvalidRunID, "id %q", id)
	}
}

func TestStore_SaveGet(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	saved, err := s.Save(ctx, failedResult("abc123", time.Now()))
	require.NoError(t, err)

	got, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, saved.Checksum, got.Checksum)
	assert.True(t, saved.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, saved.Nodes, got.Nodes)
	assert.Equal(t, "report", got.Graph)
}

func TestStore_Get_Errors(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "bad/id")
	assert.ErrorIs(t, err, ErrInvalidRunID)

	//nolint:staticcheck // nil context is the case under test
	_, err = s.Get(nil, "x")
	assert.ErrorIs(t, err, dag.ErrNilContext)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_SaveReplacesRunID(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	base := time.Now()

	_, err := s.Save(ctx, failedResult("same", base))
	require.NoError(t, err)

	res := failedResult("same", base.Add(time.Minute))
	res.Failures = map[string]*dag.Failure{}
	res.Nodes = map[string]dag.NodeReport{"fetch": {Status: dag.NodeStatusDone}}
	_, err = s.Save(ctx, res)
	require.NoError(t, err)

	got, err := s.Get(ctx, "same")
	require.NoError(t, err)
	assert.True(t, got.Succeeded)

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_List_NewestFirst(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.Save(ctx, failedResult(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	recs, err := s.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "run-4", recs[0].RunID)
	assert.Equal(t, "run-3", recs[1].RunID)
	assert.Equal(t, "run-2", recs[2].RunID)

	recs, err = s.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestStore_List_Empty(t *testing.T) {
	s := openTestStore(t, nil)
	recs, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_Corruption(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.Save(ctx, failedResult("good", started))
	require.NoError(t, err)
	_, err = s.Save(ctx, failedResult("tampered", started.Add(time.Minute)))
	require.NoError(t, err)

	key := runKey(started.Add(time.Minute), "tampered")
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		val = []byte(string(val[:len(val)-3]) + `x"}`)
		return txn.Set(key, val)
	}))

	_, err = s.Get(ctx, "tampered")
	assert.ErrorIs(t, err, ErrRecordCorrupt)

	recs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "good", recs[0].RunID)
}

func TestStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := openTestStore(t, reg)
	ctx := context.Background()

	_, err := s.Save(ctx, failedResult("m1", time.Now()))
	require.NoError(t, err)
	_, err = s.Get(ctx, "m1")
	require.NoError(t, err)
	_, err = s.Get(ctx, "m2")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.ops.WithLabelValues("save", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.ops.WithLabelValues("get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.ops.WithLabelValues("get", "not_found")))

	// A second store on the same registry reuses the collector.
	second, err := Open(Config{InMemory: true, Registerer: reg})
	require.NoError(t, err)
	defer second.Close()
	assert.Same(t, s.ops, second.ops)
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Save(context.Background(), failedResult("late", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = time.Hour

	s, err := Open(cfg)
	require.NoError(t, err)
	_, err = s.Save(context.Background(), failedResult("durable", time.Now()))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(context.Background(), "durable")
	require.NoError(t, err)
	assert.Equal(t, "report", got.Graph)
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCDiscardRatio = 2
	_, err = Open(cfg)
	assert.Error(t, err)
}

func TestStore_RunResult(t *testing.T) {
	reg := dag.NewRegistry()
	require.NoError(t, reg.Register("echo", dag.NewServiceFunc(dag.AcceptsInstruction,
		func(_ context.Context, args dag.Args) (any, error) { return args.Instruction, nil })))
	require.NoError(t, reg.Register("boom", dag.NewServiceFunc(dag.AcceptsInstruction,
		func(context.Context, dag.Args) (any, error) { return nil, errors.New("boom") })))

	g := dag.NewGraph("mixed")
	_, err := g.AddNode("a", "hi", "echo")
	require.NoError(t, err)
	_, err = g.AddNode("b", nil, "boom")
	require.NoError(t, err)
	_, err = g.AddNode("c", nil, "echo")
	require.NoError(t, err)
	require.NoError(t, g.AddDependency("c", "b"))

	res, err := dag.Run(context.Background(), g, reg)
	require.NoError(t, err)

	s := openTestStore(t, nil)
	_, err = s.Save(context.Background(), res)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, map[dag.NodeStatus]int{
		dag.NodeStatusDone:    1,
		dag.NodeStatusFailed:  1,
		dag.NodeStatusSkipped: 1,
	}, got.Counts())
	assert.Equal(t, "b", got.Nodes[2].Cause)
}
