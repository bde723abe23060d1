// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/conductor/services/conductor/catalog"
	"github.com/AleutianAI/conductor/services/conductor/dag"
	"github.com/AleutianAI/conductor/services/conductor/history"
	"github.com/AleutianAI/conductor/services/conductor/units"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const pipelinePlan = `
name: pipeline
nodes:
  - name: greet
    service: echo
    instruction: hello
  - name: wrap
    service: prompt
    instruction: Summarize
    depends_on: [greet]
  - name: prices
    service: market_data
    instruction: AAPL
  - name: report
    service: prompt
    depends_on: [prices]
`

type testEnv struct {
	router  *gin.Engine
	journal *history.Store
}

func setupTestRouter(t *testing.T, withJournal bool) testEnv {
	t.Helper()

	tk := &units.Toolkit{}
	cat, err := catalog.New(tk.Factories())
	require.NoError(t, err)
	require.NoError(t, cat.LoadDefault())

	var env testEnv
	opts := []Option{WithVersion("test"), WithSchedulerOptions(dag.WithWorkers(2))}
	if withJournal {
		store, err := history.Open(history.InMemoryConfig())
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		env.journal = store
		opts = append(opts, WithJournal(store))
	}

	h, err := NewHandlers(cat, opts...)
	require.NoError(t, err)
	env.router = NewRouter(h, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	}))
	return env
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleRun(t *testing.T) {
	env := setupTestRouter(t, true)

	w := do(env.router, http.MethodPost, "/v1/runs", pipelinePlan)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "pipeline", resp.Graph)
	assert.False(t, resp.Succeeded)
	assert.Equal(t, "hello", resp.Outputs["greet"])
	assert.Equal(t, "Summarize\n\n--- input 1 ---\nhello", resp.Outputs["wrap"])

	require.Contains(t, resp.Failures, "prices")
	assert.Equal(t, dag.FailureServiceNotFound, resp.Failures["prices"].Kind)
	require.Contains(t, resp.Failures, "report")
	assert.Equal(t, dag.NodeStatusSkipped, resp.Failures["report"].Status)
	assert.Equal(t, "prices", resp.Failures["report"].Cause)
	assert.Len(t, resp.Summary, 2)
	assert.Len(t, resp.Nodes, 4)

	rec, err := env.journal.Get(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, "pipeline", rec.Graph)
}

func TestHandleRun_JSONBody(t *testing.T) {
	env := setupTestRouter(t, false)

	w := do(env.router, http.MethodPost, "/v1/runs",
		`{"name":"j","nodes":[{"name":"a","service":"echo","instruction":"x"}]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Succeeded)
	assert.Equal(t, "x", resp.Outputs["a"])
}

func TestHandleRun_Rejected(t *testing.T) {
	env := setupTestRouter(t, false)

	tests := []struct {
		name    string
		body    string
		code    string
		details string
	}{
		{"not a plan", "name: [", CodeInvalidPlan, ""},
		{"missing nodes", "name: p\n", CodeInvalidPlan, ""},
		{
			"cycle",
			"name: p\nnodes:\n  - {name: a, service: echo, depends_on: [b]}\n  - {name: b, service: echo, depends_on: [a]}\n",
			CodeConfiguration, string(dag.KindCycle),
		},
		{
			"unknown dependency",
			"name: p\nnodes:\n  - {name: a, service: echo, depends_on: [ghost]}\n",
			CodeConfiguration, string(dag.KindUnknownNode),
		},
		{
			"duplicate",
			"name: p\nnodes:\n  - {name: a, service: echo}\n  - {name: a, service: echo}\n",
			CodeConfiguration, string(dag.KindDuplicateNode),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(env.router, http.MethodPost, "/v1/runs", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.details, resp.Details)
		})
	}
}

func TestHandleRun_TooLarge(t *testing.T) {
	env := setupTestRouter(t, false)

	body := "name: p\n# " + strings.Repeat("x", 5*1024*1024) + "\n"
	w := do(env.router, http.MethodPost, "/v1/runs", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandleTree(t *testing.T) {
	env := setupTestRouter(t, false)

	w := do(env.router, http.MethodPost, "/v1/plans/tree", pipelinePlan)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp TreeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Nodes)
	assert.Equal(t, []string{
		"greet (echo)",
		"  wrap (prompt)",
		"prices (market_data)",
		"  report (prompt)",
	}, resp.Tree)
	require.Len(t, resp.Order, 4)
	assert.Less(t, indexOf(resp.Order, "greet"), indexOf(resp.Order, "wrap"))
	assert.Less(t, indexOf(resp.Order, "prices"), indexOf(resp.Order, "report"))
}

func TestHandleServices(t *testing.T) {
	env := setupTestRouter(t, false)

	w := do(env.router, http.MethodGet, "/v1/services", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp ServicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	byName := make(map[string]ServiceInfo)
	for _, s := range resp.Services {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "market_data")
	assert.Equal(t, units.KindTimeSeries, byName["market_data"].Kind)
	assert.Equal(t, int64(30000), byName["market_data"].TimeoutMs)
	assert.Equal(t, []string{"instruction", "prior_outputs"}, byName["prompt"].Capabilities)
}

func TestHistoryRoutes(t *testing.T) {
	env := setupTestRouter(t, true)

	for i := 0; i < 3; i++ {
		w := do(env.router, http.MethodPost, "/v1/runs", "name: h\nnodes:\n  - {name: a, service: echo, instruction: x}\n")
		require.Equal(t, http.StatusOK, w.Code)
		time.Sleep(time.Millisecond)
	}

	w := do(env.router, http.MethodGet, "/v1/runs?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list RunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Runs, 2)
	assert.True(t, list.Runs[0].StartedAt.After(list.Runs[1].StartedAt))

	w = do(env.router, http.MethodGet, "/v1/runs/"+list.Runs[0].RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec history.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.True(t, rec.Succeeded)
	assert.True(t, rec.Verify())

	w = do(env.router, http.MethodGet, "/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(env.router, http.MethodGet, "/v1/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryRoutes_Disabled(t *testing.T) {
	env := setupTestRouter(t, false)

	w := do(env.router, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(env.router, http.MethodGet, "/v1/runs/abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestRouter(t, true)

	w := do(env.router, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.True(t, health.History)
	assert.Positive(t, health.Services)

	w = do(env.router, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# metrics")
}

func TestNewHandlers_NilCatalog(t *testing.T) {
	_, err := NewHandlers(nil)
	assert.Error(t, err)
}

func TestServe_Shutdown(t *testing.T) {
	env := setupTestRouter(t, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveListener(ctx, ServerConfig{ShutdownTimeout: time.Second}, ln, env.router)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
