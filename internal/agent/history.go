package agent

import (
	"sync"
	"time"

	"ConsensusMCP-Chain/internal/consensus"
	"ConsensusMCP-Chain/internal/expert"
)

// DefaultHistoryDepth 是分析记录的默认保留条数。
const DefaultHistoryDepth = 10

// AnalysisRecord 记录一轮分析的最终结论。
type AnalysisRecord struct {
	RoundID        string                `json:"round_id"`
	Pair           string                `json:"pair"`
	Recommendation expert.Recommendation `json:"recommendation"`
	Confidence     int                   `json:"confidence"`
	Reasoning      string                `json:"reasoning"`
	Target         *float64              `json:"target,omitempty"`
	Stop           *float64              `json:"stop,omitempty"`
	Consensus      *consensus.Decision   `json:"consensus,omitempty"`
	TaskID         string                `json:"task_id,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// History 是定长 FIFO，超出容量时淘汰最旧的记录。
type History struct {
	mu       sync.Mutex
	capacity int
	records  []AnalysisRecord
}

// NewHistory 创建容量为 capacity 的历史记录。
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryDepth
	}
	return &History{capacity: capacity, records: make([]AnalysisRecord, 0, capacity)}
}

// Append 追加记录。
func (h *History) Append(record AnalysisRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == h.capacity {
		copy(h.records, h.records[1:])
		h.records = h.records[:len(h.records)-1]
	}
	h.records = append(h.records, record)
}

// Records 按时间顺序返回副本。
func (h *History) Records() []AnalysisRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AnalysisRecord, len(h.records))
	copy(out, h.records)
	return out
}

// Capacity 返回容量。
func (h *History) Capacity() int { return h.capacity }
