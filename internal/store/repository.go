// Package store 提供存储协作方：按实体类型的 创建/读取/更新/按条件查询。
// 实体以 JSON 文档保存，并为查询字段维护索引，内存与 SQL 两种实现行为一致。
package store

import (
	"context"
	"database/sql"
	"sort"
)

// Repository 通用仓储接口
type Repository[T any] interface {
	Create(ctx context.Context, entity *T) error
	Get(ctx context.Context, id string) (*T, error)
	Update(ctx context.Context, entity *T) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, filter Filter) ([]*T, error)
}

// Filter 查询过滤器，字段之间为"与"关系，同一字段的多个取值为"或"关系
type Filter struct {
	Where  map[string][]string `json:"where,omitempty"`
	Offset int                 `json:"offset"`
	Limit  int                 `json:"limit"` // 0 表示不限制
}

// NewFilter 创建空过滤器
func NewFilter() Filter {
	return Filter{Where: make(map[string][]string)}
}

// Eq 增加字段条件
func (f Filter) Eq(field string, values ...string) Filter {
	w := make(map[string][]string, len(f.Where)+1)
	for k, v := range f.Where {
		w[k] = v
	}
	w[field] = append(append([]string(nil), w[field]...), values...)
	f.Where = w
	return f
}

// WithStatus 设置状态过滤
func (f Filter) WithStatus(status ...string) Filter {
	return f.Eq("status", status...)
}

// WithLimit 设置限制
func (f Filter) WithLimit(limit int) Filter {
	f.Limit = limit
	return f
}

// WithOffset 设置偏移
func (f Filter) WithOffset(offset int) Filter {
	f.Offset = offset
	return f
}

// fields 返回排序后的条件字段，保证查询语句稳定
func (f Filter) fields() []string {
	keys := make([]string, 0, len(f.Where))
	for k := range f.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// matches 检查索引是否满足条件
func (f Filter) matches(index map[string]string) bool {
	for field, values := range f.Where {
		if len(values) == 0 {
			continue
		}
		v, ok := index[field]
		if !ok {
			return false
		}
		hit := false
		for _, want := range values {
			if v == want {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

// page 应用分页
func page[T any](items []*T, f Filter) []*T {
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return nil
		}
		items = items[f.Offset:]
	}
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items
}

// Kind 实体类型描述：名称、ID 提取与索引字段
type Kind[T any] struct {
	Name  string
	ID    func(*T) string
	Index func(*T) map[string]string
}

// DB 数据库接口
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxRunner 可执行事务的数据库
type TxRunner interface {
	DB
	Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error
	Rebind(query string) string
}
