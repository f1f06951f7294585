package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

func TestStore_UpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.EnsureCollection(ctx, "fermat"))

	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{ID: "fermat-1", Document: "first"}))
	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{ID: "fermat-1", Document: "second"}))

	records, err := s.List(ctx, "fermat")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Document)
}

func TestStore_EnsureCollectionKeepsRecords(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.EnsureCollection(ctx, "fermat"))
	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{ID: "a"}))
	require.NoError(t, s.EnsureCollection(ctx, "fermat"))
	assert.Equal(t, 1, s.Len("fermat"))
}

func TestStore_MissingCollection(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.List(ctx, "missing")
	assert.ErrorIs(t, err, ingestion.ErrCollectionNotFound)

	_, err = s.Query(ctx, "missing", []float32{1}, 3)
	assert.ErrorIs(t, err, ingestion.ErrCollectionNotFound)

	err = s.Upsert(ctx, "missing", ingestion.Record{ID: "x"})
	assert.ErrorIs(t, err, ingestion.ErrCollectionNotFound)
}

func TestStore_GetAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.EnsureCollection(ctx, "fermat"))

	got, err := s.Get(ctx, "fermat", "nope")
	require.NoError(t, err)
	assert.True(t, got.IsAbsent())
}

func TestStore_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.EnsureCollection(ctx, "fermat"))
	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{ID: "far", Embedding: []float32{0, 1}}))
	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{ID: "near", Embedding: []float32{1, 0.1}}))
	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{ID: "exact", Embedding: []float32{2, 0}}))

	results, err := s.Query(ctx, "fermat", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "exact", results[0].ID)
	assert.Equal(t, "near", results[1].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)

	all, err := s.Query(ctx, "fermat", []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.EnsureCollection(ctx, "fermat"))
	require.NoError(t, s.Upsert(ctx, "fermat", ingestion.Record{
		ID:        "a",
		Embedding: []float32{1},
		Metadata:  map[string]any{"title": "T"},
	}))

	got, err := s.Get(ctx, "fermat", "a")
	require.NoError(t, err)
	got.MustGet().Metadata["title"] = "changed"
	got.MustGet().Embedding[0] = 9

	again, err := s.Get(ctx, "fermat", "a")
	require.NoError(t, err)
	assert.Equal(t, "T", again.MustGet().Metadata["title"])
	assert.Equal(t, float32(1), again.MustGet().Embedding[0])
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, float64(1), CosineDistance([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float64(1), CosineDistance([]float32{0, 0}, []float32{1, 2}))
}
