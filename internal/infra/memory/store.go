// Package memory はテストや試行用のインメモリ DocumentStore を提供する。
package memory

import (
	"context"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/samber/mo"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

var _ ingestion.DocumentStore = (*Store)(nil)

// Store はプロセス内に保持する DocumentStore 実装
// レコードはコレクションごとに登録順で保持する
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

type collection struct {
	order   []string
	records map[string]ingestion.Record
}

// NewStore は空のストアを返す
func NewStore() *Store {
	return &Store{
		collections: make(map[string]*collection),
	}
}

// EnsureCollection はコレクションが無ければ作成する
func (s *Store) EnsureCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{records: make(map[string]ingestion.Record)}
	}
	return nil
}

// Upsert はIDでレコードを保存し、既存なら上書きする。登録順は変えない
func (s *Store) Upsert(_ context.Context, name string, record ingestion.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ingestion.ErrCollectionNotFound, name)
	}
	if _, exists := c.records[record.ID]; !exists {
		c.order = append(c.order, record.ID)
	}
	c.records[record.ID] = cloneRecord(record)
	return nil
}

// Get はIDでレコードを取得する
func (s *Store) Get(_ context.Context, name, id string) (mo.Option[*ingestion.Record], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return mo.None[*ingestion.Record](), fmt.Errorf("%w: %s", ingestion.ErrCollectionNotFound, name)
	}
	record, ok := c.records[id]
	if !ok {
		return mo.None[*ingestion.Record](), nil
	}
	cloned := cloneRecord(record)
	return mo.Some(&cloned), nil
}

// List は全レコードを登録順に返す
func (s *Store) List(_ context.Context, name string) ([]*ingestion.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrCollectionNotFound, name)
	}
	records := make([]*ingestion.Record, 0, len(c.order))
	for _, id := range c.order {
		cloned := cloneRecord(c.records[id])
		records = append(records, &cloned)
	}
	return records, nil
}

// Query は全件のコサイン距離を計算し、近い順に返す。limit が0以下なら全件
func (s *Store) Query(_ context.Context, name string, vector []float32, limit int) ([]*ingestion.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrCollectionNotFound, name)
	}

	results := make([]*ingestion.QueryResult, 0, len(c.records))
	for _, id := range c.order {
		record := cloneRecord(c.records[id])
		results = append(results, &ingestion.QueryResult{
			Record:   record,
			Distance: CosineDistance(vector, record.Embedding),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close は何もしない
func (s *Store) Close() error {
	return nil
}

// Len はコレクションのレコード数を返す
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.records)
	}
	return 0
}

// CosineDistance は 1 - コサイン類似度 を返す。次元が異なるかゼロベクトルなら 1
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func cloneRecord(r ingestion.Record) ingestion.Record {
	out := r
	out.Embedding = append([]float32(nil), r.Embedding...)
	out.Metadata = maps.Clone(r.Metadata)
	return out
}
