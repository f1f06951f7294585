package postgres

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/paper-rag/internal/core/ingestion"
	"github.com/jinford/paper-rag/internal/platform/database"
)

// startPostgres は pgvector 入りの PostgreSQL コンテナを起動する。Docker が無ければスキップする
func startPostgres(t *testing.T) database.ConnectionParams {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=paperrag",
			"POSTGRES_PASSWORD=paperrag",
			"POSTGRES_DB=paperrag",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})

	port, err := strconv.Atoi(resource.GetPort("5432/tcp"))
	require.NoError(t, err)
	params := database.ConnectionParams{
		Host:     "localhost",
		Port:     port,
		User:     "paperrag",
		Password: "paperrag",
		DBName:   "paperrag",
		SSLMode:  "disable",
	}

	err = pool.Retry(func() error {
		db, err := database.New(context.Background(), params)
		if err != nil {
			return err
		}
		db.Close()
		return nil
	})
	require.NoError(t, err, "postgres did not become ready")
	return params
}

func TestDocumentStore_Integration(t *testing.T) {
	params := startPostgres(t)
	ctx := context.Background()

	store := NewDocumentStore(params, 3)
	t.Cleanup(func() { _ = store.Close() })

	t.Run("missing collection", func(t *testing.T) {
		_, err := store.List(ctx, "fermat")
		assert.ErrorIs(t, err, ingestion.ErrCollectionNotFound)
	})

	require.NoError(t, store.EnsureCollection(ctx, "fermat"))
	require.NoError(t, store.EnsureCollection(ctx, "fermat"))

	t.Run("upsert overwrites", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			require.NoError(t, store.Upsert(ctx, "fermat", ingestion.Record{
				ID:        "fermat-1",
				Document:  fmt.Sprintf("Modular elliptic curves\nrun %d", i),
				Embedding: []float32{1, 0, 0},
				Metadata:  map[string]any{"doi": "https://doi.org/10.2307/2118559", "title": "Modular elliptic curves"},
			}))
		}

		records, err := store.List(ctx, "fermat")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "Modular elliptic curves\nrun 1", records[0].Document)
		assert.Equal(t, "Modular elliptic curves", records[0].Metadata["title"])
	})

	t.Run("get", func(t *testing.T) {
		got, err := store.Get(ctx, "fermat", "fermat-1")
		require.NoError(t, err)
		record, ok := got.Get()
		require.True(t, ok)
		assert.Equal(t, []float32{1, 0, 0}, record.Embedding)

		missing, err := store.Get(ctx, "fermat", "nope")
		require.NoError(t, err)
		assert.True(t, missing.IsAbsent())
	})

	t.Run("query orders by cosine distance", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, "fermat", ingestion.Record{ID: "b", Document: "B", Embedding: []float32{0, 1, 0}}))
		require.NoError(t, store.Upsert(ctx, "fermat", ingestion.Record{ID: "c", Document: "C", Embedding: []float32{1, 1, 0}}))

		results, err := store.Query(ctx, "fermat", []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "fermat-1", results[0].ID)
		assert.InDelta(t, 0, results[0].Distance, 1e-6)
		assert.Equal(t, "c", results[1].ID)

		all, err := store.Query(ctx, "fermat", []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		err := store.Upsert(ctx, "fermat", ingestion.Record{ID: "x", Document: "X", Embedding: []float32{1}})
		assert.Error(t, err)
	})
}

func TestDocumentStore_ConnectFailure(t *testing.T) {
	store := NewDocumentStore(database.ConnectionParams{
		Host: "127.0.0.1", Port: 1, User: "u", Password: "p", DBName: "d",
	}, 384)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := store.EnsureCollection(ctx, "fermat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to 127.0.0.1:1")
}

func TestMetadataRoundTrip(t *testing.T) {
	b, err := marshalMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	m, err := unmarshalMetadata([]byte(`{"doi":"x","title":"y"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"doi": "x", "title": "y"}, m)

	m, err = unmarshalMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}
