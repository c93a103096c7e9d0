package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	httpRequestsFamily = counterFamily{name: "consensus_http_requests_total", help: "Total number of HTTP requests processed.", labels: []string{"handler", "method", "code"}}
	httpErrorsFamily   = counterFamily{name: "consensus_http_request_errors_total", help: "Total number of HTTP requests that resulted in a server error.", labels: []string{"handler", "method"}}

	httpLatencyFamily = histogramFamily{
		name:    "consensus_http_request_duration_seconds",
		help:    "HTTP request duration in seconds.",
		labels:  []string{"handler", "method"},
		buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
	// 一轮包含多次模型调用，桶的上限放宽到分钟级。
	roundLatencyFamily = histogramFamily{
		name:    "consensus_round_duration_seconds",
		help:    "Wall time of one trading round, from data fetch to record.",
		labels:  []string{"pair"},
		buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	}
)

var (
	httpCounters = newCounterSet(httpRequestsFamily, httpErrorsFamily)
	latencies    = newHistogramSet(httpLatencyFamily, roundLatencyFamily)
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCounters.inc(httpRequestsFamily, handler, method, strconv.Itoa(status))
	if status >= 500 {
		httpCounters.inc(httpErrorsFamily, handler, method)
	}
	latencies.observe(httpLatencyFamily, duration.Seconds(), handler, method)
}

// ObserveRoundDuration records how long one trading round took.
func ObserveRoundDuration(pair string, duration time.Duration) {
	latencies.observe(roundLatencyFamily, duration.Seconds(), pair)
}

type histogramFamily struct {
	name    string
	help    string
	labels  []string
	buckets []float64
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// 超过最大桶的值只计入 +Inf，即 count。
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

type histogramSet struct {
	mu     sync.Mutex
	order  []histogramFamily
	series map[string]map[string]*histogram
}

func newHistogramSet(families ...histogramFamily) *histogramSet {
	set := &histogramSet{order: families, series: make(map[string]map[string]*histogram, len(families))}
	for _, f := range families {
		set.series[f.name] = make(map[string]*histogram)
	}
	return set
}

func (s *histogramSet) observe(f histogramFamily, value float64, labelValues ...string) {
	key := labelPairs(f.labels, labelValues)
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.series[f.name][key]
	if h == nil {
		h = newHistogram(f.buckets)
		s.series[f.name][key] = h
	}
	h.observe(value)
}

func (s *histogramSet) render() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, f := range s.order {
		series := s.series[f.name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s histogram\n", f.name, f.help, f.name)
		for _, key := range sortedKeys(series) {
			h := series[key]
			for idx, bound := range h.buckets {
				fmt.Fprintf(&b, "%s_bucket{%s,le=\"%s\"} %d\n", f.name, key, formatFloat(bound), h.counts[idx])
			}
			fmt.Fprintf(&b, "%s_bucket{%s,le=\"+Inf\"} %d\n", f.name, key, h.count)
			fmt.Fprintf(&b, "%s_sum{%s} %s\n", f.name, key, formatFloat(h.sum))
			fmt.Fprintf(&b, "%s_count{%s} %d\n", f.name, key, h.count)
		}
	}
	return b.String()
}

// Handler exposes HTTP and domain metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCounters.render())
		_, _ = fmt.Fprint(w, latencies.render())
		_, _ = fmt.Fprint(w, domainCounters.render())
	})
}

// labelPairs 按标签顺序拼出 `k="v",...`，缺失的值记为空串。
func labelPairs(labels, values []string) string {
	var b strings.Builder
	for i, label := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		v := ""
		if i < len(values) {
			v = values[i]
		}
		fmt.Fprintf(&b, "%s=\"%s\"", label, escape(v))
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
