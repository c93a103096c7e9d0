package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"ConsensusMCP-Chain/internal/agent"
	"ConsensusMCP-Chain/internal/consensus"
	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/expert"
)

const (
	insertRecordSQL = `INSERT INTO analysis_records
        (round_id, pair, recommendation, confidence, reasoning, target_price, stop_price, consensus, task_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectRecentRecordsSQL = `SELECT round_id, pair, recommendation, confidence, reasoning, target_price, stop_price, consensus, task_id, created_at
        FROM analysis_records ORDER BY id DESC LIMIT ?`
)

// RecordRepository 持久化每轮的分析记录。
type RecordRepository struct {
	db *sql.DB
}

var _ agent.RecordStore = (*RecordRepository)(nil)

// SaveRecord 写入一条分析记录，共识结果以 JSON 保存。
func (r *RecordRepository) SaveRecord(ctx context.Context, record agent.AnalysisRecord) error {
	var consensusJSON any
	if record.Consensus != nil {
		encoded, err := json.Marshal(record.Consensus)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化共识结果失败")
		}
		consensusJSON = string(encoded)
	}

	if _, err := r.db.ExecContext(ctx, insertRecordSQL,
		record.RoundID,
		record.Pair,
		string(record.Recommendation),
		record.Confidence,
		record.Reasoning,
		nullableFloat(record.Target),
		nullableFloat(record.Stop),
		consensusJSON,
		record.TaskID,
		record.Timestamp.UnixMilli(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入分析记录失败")
	}
	return nil
}

// ListRecent 返回最近 limit 条记录，按时间正序排列。
func (r *RecordRepository) ListRecent(ctx context.Context, limit int) ([]agent.AnalysisRecord, error) {
	if limit <= 0 {
		limit = agent.DefaultHistoryDepth
	}
	rows, err := r.db.QueryContext(ctx, selectRecentRecordsSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询分析记录失败")
	}
	defer rows.Close()

	var records []agent.AnalysisRecord
	for rows.Next() {
		var (
			record         agent.AnalysisRecord
			recommendation string
			target, stop   sql.NullFloat64
			consensusJSON  sql.NullString
			createdAt      int64
		)
		if err := rows.Scan(&record.RoundID, &record.Pair, &recommendation, &record.Confidence, &record.Reasoning,
			&target, &stop, &consensusJSON, &record.TaskID, &createdAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析分析记录失败")
		}
		record.Recommendation = expert.Recommendation(recommendation)
		record.Target = floatPtr(target)
		record.Stop = floatPtr(stop)
		record.Timestamp = time.UnixMilli(createdAt).UTC()
		if consensusJSON.Valid && consensusJSON.String != "" {
			var decision consensus.Decision
			if err := json.Unmarshal([]byte(consensusJSON.String), &decision); err == nil {
				record.Consensus = &decision
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历分析记录失败")
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
