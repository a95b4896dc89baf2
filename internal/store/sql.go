package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/paiban/dispatch/pkg/errors"
)

// schema 文档表与索引表，PostgreSQL 与 SQLite 通用
var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		id   TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
	`CREATE TABLE IF NOT EXISTS document_index (
		kind  TEXT NOT NULL,
		id    TEXT NOT NULL,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (kind, id, field)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_index_lookup ON document_index (kind, field, value)`,
}

// Migrate 创建存储所需的表
func Migrate(ctx context.Context, db DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return apperrors.StorageUnavailable("migrate", err)
		}
	}
	return nil
}

// SQLRepository 基于文档表的 SQL 仓储
type SQLRepository[T any] struct {
	kind Kind[T]
	db   TxRunner
}

// NewSQLRepository 创建 SQL 仓储
func NewSQLRepository[T any](db TxRunner, kind Kind[T]) *SQLRepository[T] {
	return &SQLRepository[T]{kind: kind, db: db}
}

func (r *SQLRepository[T]) encode(entity *T) (string, []byte, map[string]string, error) {
	id := r.kind.ID(entity)
	if id == "" {
		return "", nil, nil, apperrors.InvalidInput("id", r.kind.Name+" 缺少ID")
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return "", nil, nil, fmt.Errorf("序列化 %s 失败: %w", r.kind.Name, err)
	}
	var index map[string]string
	if r.kind.Index != nil {
		index = r.kind.Index(entity)
	}
	return id, data, index, nil
}

func (r *SQLRepository[T]) writeIndex(ctx context.Context, tx *sql.Tx, id string, index map[string]string) error {
	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM document_index WHERE kind = ? AND id = ?`), r.kind.Name, id); err != nil {
		return err
	}
	for field, value := range index {
		if _, err := tx.ExecContext(ctx,
			r.db.Rebind(`INSERT INTO document_index (kind, id, field, value) VALUES (?, ?, ?, ?)`),
			r.kind.Name, id, field, value,
		); err != nil {
			return err
		}
	}
	return nil
}

// Create 创建实体
func (r *SQLRepository[T]) Create(ctx context.Context, entity *T) error {
	id, data, index, err := r.encode(entity)
	if err != nil {
		return err
	}
	var exists bool
	err = r.db.Transaction(ctx, func(tx *sql.Tx) error {
		var n int
		row := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM documents WHERE kind = ? AND id = ?`), r.kind.Name, id)
		if err := row.Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			exists = true
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			r.db.Rebind(`INSERT INTO documents (kind, id, data) VALUES (?, ?, ?)`),
			r.kind.Name, id, string(data),
		); err != nil {
			return err
		}
		return r.writeIndex(ctx, tx, id, index)
	})
	if err != nil {
		return apperrors.StorageUnavailable("create "+r.kind.Name, err).WithField("id", id)
	}
	if exists {
		return apperrors.New(apperrors.CodeAlreadyExists, fmt.Sprintf("%s '%s' 已存在", r.kind.Name, id)).
			WithField("id", id)
	}
	return nil
}

// Get 根据ID获取实体
func (r *SQLRepository[T]) Get(ctx context.Context, id string) (*T, error) {
	var data string
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT data FROM documents WHERE kind = ? AND id = ?`), r.kind.Name, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(r.kind.Name, id)
	}
	if err != nil {
		return nil, apperrors.StorageUnavailable("get "+r.kind.Name, err).WithField("id", id)
	}
	out := new(T)
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return nil, fmt.Errorf("反序列化 %s 失败: %w", r.kind.Name, err)
	}
	return out, nil
}

// Update 更新实体
func (r *SQLRepository[T]) Update(ctx context.Context, entity *T) error {
	id, data, index, err := r.encode(entity)
	if err != nil {
		return err
	}
	var affected int64
	err = r.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			r.db.Rebind(`UPDATE documents SET data = ? WHERE kind = ? AND id = ?`),
			string(data), r.kind.Name, id,
		)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil || affected == 0 {
			return err
		}
		return r.writeIndex(ctx, tx, id, index)
	})
	if err != nil {
		return apperrors.StorageUnavailable("update "+r.kind.Name, err).WithField("id", id)
	}
	if affected == 0 {
		return apperrors.NotFound(r.kind.Name, id)
	}
	return nil
}

// Delete 删除实体
func (r *SQLRepository[T]) Delete(ctx context.Context, id string) error {
	var affected int64
	err := r.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM documents WHERE kind = ? AND id = ?`), r.kind.Name, id)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM document_index WHERE kind = ? AND id = ?`), r.kind.Name, id)
		return err
	})
	if err != nil {
		return apperrors.StorageUnavailable("delete "+r.kind.Name, err).WithField("id", id)
	}
	if affected == 0 {
		return apperrors.NotFound(r.kind.Name, id)
	}
	return nil
}

// Query 按条件查询，结果按ID升序
func (r *SQLRepository[T]) Query(ctx context.Context, filter Filter) ([]*T, error) {
	var sb strings.Builder
	args := []interface{}{r.kind.Name}
	sb.WriteString(`SELECT data FROM documents WHERE kind = ?`)
	for _, field := range filter.fields() {
		values := filter.Where[field]
		if len(values) == 0 {
			continue
		}
		sb.WriteString(` AND id IN (SELECT id FROM document_index WHERE kind = ? AND field = ? AND value IN (`)
		args = append(args, r.kind.Name, field)
		for i, v := range values {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, v)
		}
		sb.WriteString("))")
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(sb.String()), args...)
	if err != nil {
		return nil, apperrors.StorageUnavailable("query "+r.kind.Name, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, apperrors.StorageUnavailable("scan "+r.kind.Name, err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(data), v); err != nil {
			return nil, fmt.Errorf("反序列化 %s 失败: %w", r.kind.Name, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.StorageUnavailable("query "+r.kind.Name, err)
	}
	return page(out, filter), nil
}
