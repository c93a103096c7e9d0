package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ConsensusMCP-Chain/internal/agent"
	"ConsensusMCP-Chain/internal/expert"
	"ConsensusMCP-Chain/internal/task"
	"ConsensusMCP-Chain/internal/web3"
)

type stubRounds struct {
	result  *agent.RoundResult
	err     error
	pairs   []string
	history []agent.AnalysisRecord
}

func (s *stubRounds) RunRound(_ context.Context, pair string) (*agent.RoundResult, error) {
	s.pairs = append(s.pairs, pair)
	return s.result, s.err
}

func (s *stubRounds) History() []agent.AnalysisRecord { return s.history }

type stubStatus struct {
	status web3.AutomationStatus
	err    error
}

func (s *stubStatus) ReadAutomationStatus(context.Context, string) (web3.AutomationStatus, error) {
	return s.status, s.err
}

func sampleTask(hash, pair string) task.AutomationTask {
	return task.AutomationTask{
		ID:           task.IDFromTxHash(hash),
		TxHash:       hash,
		Pair:         pair,
		Account:      "0xabc",
		Budget:       1_000_000,
		Steps:        2,
		Status:       task.StatusActive,
		RegisteredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func newTestServer(t *testing.T, rounds RoundRunner, reader task.StatusReader) (*Server, *task.Registry) {
	t.Helper()
	registry := task.NewRegistry(task.NewMemoryStore(), task.WithStatusReader(reader))
	for _, sample := range []task.AutomationTask{
		sampleTask("0x1111111111aaaaaaaa", "BTC/USD"),
		sampleTask("0x2222222222bbbbbbbb", "ETH/USD"),
	} {
		if err := registry.Append(context.Background(), sample); err != nil {
			t.Fatalf("append sample task: %v", err)
		}
	}
	return NewServer(":0", rounds, registry, "0xabc"), registry
}

func TestRunRoundReturnsResult(t *testing.T) {
	rounds := &stubRounds{result: &agent.RoundResult{Pair: "BTC/USD", Recommendation: expert.Buy, Confidence: 80, TaskID: "aaaaaaaa"}}
	server, _ := newTestServer(t, rounds, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader(`{"pair":"BTC/USD"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got agent.RoundResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Recommendation != expert.Buy || got.TaskID != "aaaaaaaa" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if len(rounds.pairs) != 1 || rounds.pairs[0] != "BTC/USD" {
		t.Fatalf("unexpected pairs: %v", rounds.pairs)
	}
}

func TestRunRoundErrors(t *testing.T) {
	t.Run("no result", func(t *testing.T) {
		server, _ := newTestServer(t, &stubRounds{}, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader(`{"pair":"BTC/USD"}`)))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
		}
	})

	t.Run("missing pair", func(t *testing.T) {
		server, _ := newTestServer(t, &stubRounds{}, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader(`{}`)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("runner error", func(t *testing.T) {
		server, _ := newTestServer(t, &stubRounds{err: errors.New("boom")}, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/rounds", strings.NewReader(`{"pair":"BTC/USD"}`)))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
		}
	})

	t.Run("invalid method", func(t *testing.T) {
		server, _ := newTestServer(t, &stubRounds{}, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/rounds", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestListHistory(t *testing.T) {
	rounds := &stubRounds{history: []agent.AnalysisRecord{{RoundID: "r1", Pair: "BTC/USD"}}}
	server, _ := newTestServer(t, rounds, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/rounds", nil))

	var got []agent.AnalysisRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].RoundID != "r1" {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestListTasksKeepsInsertionOrder(t *testing.T) {
	server, _ := newTestServer(t, &stubRounds{}, nil)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var got []task.AutomationTask
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 || got[0].ID != "aaaaaaaa" || got[1].ID != "bbbbbbbb" {
		t.Fatalf("unexpected tasks: %+v", got)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?pair=eth/usd", nil))
	got = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 1 || got[0].Pair != "ETH/USD" {
		t.Fatalf("unexpected filtered tasks: %+v", got)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestTaskDetail(t *testing.T) {
	server, _ := newTestServer(t, &stubRounds{}, nil)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/aaaaaaaa", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status code: %d", rec.Code)
		}
		var got task.AutomationTask
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.TxHash != "0x1111111111aaaaaaaa" {
			t.Fatalf("unexpected task: %+v", got)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})

	t.Run("stats", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil))
		var got task.Stats
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if got.Total != 2 || got.TotalBudget != 2_000_000 {
			t.Fatalf("unexpected stats: %+v", got)
		}
	})
}

func TestAutomationStatusDegradesInsteadOfFailing(t *testing.T) {
	server, _ := newTestServer(t, &stubRounds{}, &stubStatus{err: errors.New("rpc unavailable")})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/automation/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var got task.StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !got.Degraded || got.Initialized || got.Active || got.Address != "0xabc" || got.Tasks != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestAutomationStatusReadsChain(t *testing.T) {
	reader := &stubStatus{status: web3.AutomationStatus{Initialized: true, Active: true, Swaps: 3}}
	server, _ := newTestServer(t, &stubRounds{}, reader)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/automation/status?address=0xdef", nil))
	var got task.StatusSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Degraded || !got.Active || got.Swaps != 3 || got.Address != "0xdef" || got.Tasks != 0 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestMetricsEndpointRecordsRequests(t *testing.T) {
	server, _ := newTestServer(t, &stubRounds{}, nil)
	handler := server.Handler()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), `consensus_http_requests_total{handler="/api/v1/tasks",method="GET",code="200"}`) {
		t.Fatalf("metrics missing request counter:\n%s", rec.Body.String())
	}
}
