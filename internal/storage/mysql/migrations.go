package mysql

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"ConsensusMCP-Chain/deploy/migrations"
	"ConsensusMCP-Chain/pkg/logger"
)

const (
	createMigrationTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`
	selectAppliedVersionsSQL = `SELECT version FROM schema_migrations`
	insertAppliedVersionSQL  = `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`
)

// migrationFile 是一个版本的全部语句，版本号取文件名中第一个下划线之前的部分。
type migrationFile struct {
	version    string
	name       string
	statements []string
}

// runMigrations 依版本顺序执行尚未记录的迁移，每个版本一个事务。
func (d *Database) runMigrations(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, createMigrationTableSQL); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}

	applied, err := d.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := loadMigrationFiles()
	if err != nil {
		return err
	}

	log := logger.Named("storage.mysql")
	for _, file := range files {
		if applied[file.version] {
			continue
		}
		if err := d.apply(ctx, file); err != nil {
			return err
		}
		log.Info("已执行数据库迁移", slog.String("version", file.version), slog.String("file", file.name))
	}
	return nil
}

func (d *Database) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := d.db.QueryContext(ctx, selectAppliedVersionsSQL)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (d *Database) apply(ctx context.Context, file migrationFile) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range file.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移 %s 第 %d 条语句失败: %w", file.name, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, insertAppliedVersionSQL, file.version, time.Now().Unix()); err != nil {
		return fmt.Errorf("记录迁移版本 %s 失败: %w", file.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移 %s 失败: %w", file.version, err)
	}
	return nil
}

func loadMigrationFiles() ([]migrationFile, error) {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}

	files := make([]migrationFile, 0, len(names))
	for _, name := range names {
		content, err := migrations.Files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitSQLStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		files = append(files, migrationFile{
			version:    migrationVersion(name),
			name:       name,
			statements: statements,
		})
	}

	slices.SortFunc(files, func(a, b migrationFile) int {
		return cmp.Or(cmp.Compare(a.version, b.version), cmp.Compare(a.name, b.name))
	})
	return files, nil
}

// splitSQLStatements 丢弃 "--" 注释行后按分号切分，迁移文件中不允许字符串内出现分号。
func splitSQLStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for {
			idx := strings.IndexByte(line, ';')
			if idx < 0 {
				break
			}
			current.WriteString(line[:idx])
			flush()
			line = line[idx+1:]
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return statements
}

func migrationVersion(name string) string {
	base := strings.TrimSuffix(path.Base(name), path.Ext(name))
	if version, _, ok := strings.Cut(base, "_"); ok && version != "" {
		return version
	}
	return base
}
