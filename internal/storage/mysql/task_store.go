package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/task"
)

const (
	insertTaskSQL = `INSERT INTO automation_tasks
        (id, tx_hash, pair, account, budget, amount_per_step, steps, interval_seconds, slippage_bps, fee_cap, status, registered_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectTaskColumns = `SELECT id, tx_hash, pair, account, budget, amount_per_step, steps, interval_seconds, slippage_bps, fee_cap, status, registered_at, expires_at
        FROM automation_tasks`
	selectTxHashSQL = `SELECT tx_hash FROM automation_tasks WHERE id = ?`

	// mysqlDuplicateEntry 是唯一键冲突的错误码。
	mysqlDuplicateEntry = 1062
	// maxRows 用于只有 OFFSET 没有 LIMIT 的查询。
	maxRows = "18446744073709551615"
)

// TaskStore 以 MySQL 实现 task.Store，按 seq 保持插入顺序。
type TaskStore struct {
	db *sql.DB
}

var _ task.Store = (*TaskStore)(nil)

// Append 写入任务。同一交易重复写入视为成功，ID 被另一交易占用时返回冲突。
func (s *TaskStore) Append(ctx context.Context, t task.AutomationTask) error {
	_, err := s.db.ExecContext(ctx, insertTaskSQL,
		t.ID,
		t.TxHash,
		t.Pair,
		t.Account,
		t.Budget,
		t.AmountPerStep,
		t.Steps,
		t.IntervalSeconds,
		t.SlippageBps,
		t.FeeCap,
		string(t.Status),
		t.RegisteredAt.Unix(),
		t.ExpiresAt.Unix(),
	)
	if err == nil {
		return nil
	}

	var mysqlErr *mysql.MySQLError
	if !stdErrors.As(err, &mysqlErr) || mysqlErr.Number != mysqlDuplicateEntry {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入自动化任务失败")
	}

	var existing string
	if err := s.db.QueryRowContext(ctx, selectTxHashSQL, t.ID).Scan(&existing); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询已有任务失败")
	}
	if existing == t.TxHash {
		return nil
	}
	return task.ErrTaskConflict
}

// Get 查询单个任务。
func (s *TaskStore) Get(ctx context.Context, id string) (task.AutomationTask, error) {
	row := s.db.QueryRowContext(ctx, selectTaskColumns+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return task.AutomationTask{}, task.ErrTaskNotFound
	}
	if err != nil {
		return task.AutomationTask{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询自动化任务失败")
	}
	return t, nil
}

// List 按插入顺序分页查询。
func (s *TaskStore) List(ctx context.Context, opts task.ListOptions) ([]task.AutomationTask, error) {
	query, args := buildListQuery(opts)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询自动化任务列表失败")
	}
	defer rows.Close()

	var tasks []task.AutomationTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析自动化任务失败")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历自动化任务失败")
	}
	return tasks, nil
}

// Close 关闭连接池。
func (s *TaskStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildListQuery(opts task.ListOptions) (string, []any) {
	opts = task.BuildListOptions(
		task.WithLimit(opts.Limit),
		task.WithOffset(opts.Offset),
		task.WithStatuses(opts.Statuses...),
		task.WithPair(opts.Pair),
	)

	var (
		where []string
		args  []any
	)
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if opts.Pair != "" {
		where = append(where, "pair = ?")
		args = append(args, opts.Pair)
	}

	var b strings.Builder
	b.WriteString(selectTaskColumns)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY seq ASC")
	switch {
	case opts.Limit > 0:
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			b.WriteString(" OFFSET ?")
			args = append(args, opts.Offset)
		}
	case opts.Offset > 0:
		b.WriteString(" LIMIT " + maxRows + " OFFSET ?")
		args = append(args, opts.Offset)
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.AutomationTask, error) {
	var (
		t            task.AutomationTask
		status       string
		registeredAt int64
		expiresAt    int64
	)
	if err := row.Scan(
		&t.ID,
		&t.TxHash,
		&t.Pair,
		&t.Account,
		&t.Budget,
		&t.AmountPerStep,
		&t.Steps,
		&t.IntervalSeconds,
		&t.SlippageBps,
		&t.FeeCap,
		&status,
		&registeredAt,
		&expiresAt,
	); err != nil {
		return task.AutomationTask{}, err
	}
	t.Status = task.Status(status)
	t.RegisteredAt = time.Unix(registeredAt, 0).UTC()
	t.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return t, nil
}
