package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/paiban/dispatch/pkg/errors"
)

type memRecord struct {
	data  []byte
	index map[string]string
}

// MemoryRepository 内存仓储。保存 JSON 副本，调用方修改返回值不会影响已存数据。
type MemoryRepository[T any] struct {
	kind    Kind[T]
	mu      sync.RWMutex
	records map[string]memRecord
}

// NewMemoryRepository 创建内存仓储
func NewMemoryRepository[T any](kind Kind[T]) *MemoryRepository[T] {
	return &MemoryRepository[T]{kind: kind, records: make(map[string]memRecord)}
}

func (r *MemoryRepository[T]) encode(entity *T) (string, memRecord, error) {
	id := r.kind.ID(entity)
	if id == "" {
		return "", memRecord{}, apperrors.InvalidInput("id", r.kind.Name+" 缺少ID")
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return "", memRecord{}, fmt.Errorf("序列化 %s 失败: %w", r.kind.Name, err)
	}
	var index map[string]string
	if r.kind.Index != nil {
		index = r.kind.Index(entity)
	}
	return id, memRecord{data: data, index: index}, nil
}

func (r *MemoryRepository[T]) decode(rec memRecord) (*T, error) {
	out := new(T)
	if err := json.Unmarshal(rec.data, out); err != nil {
		return nil, fmt.Errorf("反序列化 %s 失败: %w", r.kind.Name, err)
	}
	return out, nil
}

// Create 创建实体
func (r *MemoryRepository[T]) Create(_ context.Context, entity *T) error {
	id, rec, err := r.encode(entity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; exists {
		return apperrors.New(apperrors.CodeAlreadyExists, fmt.Sprintf("%s '%s' 已存在", r.kind.Name, id)).
			WithField("id", id)
	}
	r.records[id] = rec
	return nil
}

// Get 根据ID获取实体
func (r *MemoryRepository[T]) Get(_ context.Context, id string) (*T, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound(r.kind.Name, id)
	}
	return r.decode(rec)
}

// Update 更新实体
func (r *MemoryRepository[T]) Update(_ context.Context, entity *T) error {
	id, rec, err := r.encode(entity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; !exists {
		return apperrors.NotFound(r.kind.Name, id)
	}
	r.records[id] = rec
	return nil
}

// Delete 删除实体
func (r *MemoryRepository[T]) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[id]; !exists {
		return apperrors.NotFound(r.kind.Name, id)
	}
	delete(r.records, id)
	return nil
}

// Query 按条件查询，结果按ID升序
func (r *MemoryRepository[T]) Query(_ context.Context, filter Filter) ([]*T, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.records))
	for id, rec := range r.records {
		if filter.matches(rec.index) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	recs := make([]memRecord, len(ids))
	for i, id := range ids {
		recs[i] = r.records[id]
	}
	r.mu.RUnlock()

	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		v, err := r.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return page(out, filter), nil
}
