package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ConsensusMCP-Chain/internal/agent"
	"ConsensusMCP-Chain/internal/observability/metrics"
	"ConsensusMCP-Chain/internal/task"
	"ConsensusMCP-Chain/pkg/logger"
)

const defaultListLimit = 20

// RoundRunner 驱动交易轮次并提供历史记录。
type RoundRunner interface {
	RunRound(ctx context.Context, pair string) (*agent.RoundResult, error)
	History() []agent.AnalysisRecord
}

// TaskService 提供任务查询与链上状态刷新。
type TaskService interface {
	Get(ctx context.Context, id string) (task.AutomationTask, error)
	List(ctx context.Context, options ...task.ListOption) ([]task.AutomationTask, error)
	Stats(ctx context.Context) (task.Stats, error)
	RefreshStatus(ctx context.Context, address string) task.StatusSnapshot
}

// Server 负责暴露 REST 接口，供外部触发轮次并查看任务。
type Server struct {
	addr           string
	rounds         RoundRunner
	tasks          TaskService
	defaultAccount string
	log            *slog.Logger
}

// NewServer 构造 API 服务实例。defaultAccount 在状态查询未指定地址时使用。
func NewServer(addr string, rounds RoundRunner, tasks TaskService, defaultAccount string) *Server {
	return &Server{
		addr:           addr,
		rounds:         rounds,
		tasks:          tasks,
		defaultAccount: strings.TrimSpace(defaultAccount),
		log:            logger.Named("api"),
	}
}

// Handler 返回带指标采集的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/rounds", instrument("/api/v1/rounds", http.HandlerFunc(s.handleRounds)))
	mux.Handle("/api/v1/tasks", instrument("/api/v1/tasks", http.HandlerFunc(s.handleListTasks)))
	mux.Handle("/api/v1/tasks/", instrument("/api/v1/tasks/{id}", http.HandlerFunc(s.handleTaskDetail)))
	mux.Handle("/api/v1/automation/status", instrument("/api/v1/automation/status", http.HandlerFunc(s.handleStatus)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type roundRequest struct {
	Pair string `json:"pair"`
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	if s.rounds == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleRunRound(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.rounds.History())
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRunRound(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Pair) == "" {
		http.Error(w, "pair 不能为空", http.StatusBadRequest)
		return
	}

	result, err := s.rounds.RunRound(r.Context(), req.Pair)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}

	query := r.URL.Query()
	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	opts := []task.ListOption{task.WithLimit(limit)}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToUpper(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				http.Error(w, "未知的任务状态: "+part, http.StatusBadRequest)
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if pair := query.Get("pair"); pair != "" {
		opts = append(opts, task.WithPair(pair))
	}

	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/"), "/")
	if id == "" {
		http.Error(w, "缺少任务 ID", http.StatusBadRequest)
		return
	}

	if id == "stats" {
		stats, err := s.tasks.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	t, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			http.Error(w, "任务不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleStatus 查询失败时也返回 200 与降级快照。
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.tasks == nil {
		http.Error(w, "任务服务未初始化", http.StatusServiceUnavailable)
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		address = s.defaultAccount
	}
	if address == "" {
		http.Error(w, "缺少 address 参数", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.tasks.RefreshStatus(r.Context(), address))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 以固定的路由名记录请求指标。
func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}
