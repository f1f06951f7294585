package container

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreask "github.com/jinford/paper-rag/internal/core/ask"
	"github.com/jinford/paper-rag/internal/core/ingestion"
	testutil "github.com/jinford/paper-rag/internal/core/ingestion/testing"
	"github.com/jinford/paper-rag/internal/infra/chroma"
	"github.com/jinford/paper-rag/internal/infra/memory"
	"github.com/jinford/paper-rag/internal/infra/postgres"
	"github.com/jinford/paper-rag/internal/infra/sqlite"
	"github.com/jinford/paper-rag/internal/infra/tokenizer"
	"github.com/jinford/paper-rag/internal/platform/config"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	return &config.Config{
		Embedding: config.EmbeddingConfig{
			BaseURL:   "http://127.0.0.1:1/v1",
			APIKey:    "test",
			Model:     "all-minilm",
			Dimension: 384,
			MaxTokens: 512,
		},
		Store: config.StoreConfig{
			Backend:    backend,
			Collection: "fermat",
			RecordID:   "fermat-1",
		},
		Chroma:   config.ChromaConfig{Host: "localhost", Port: 8000},
		Database: config.DatabaseConfig{Host: "localhost", Port: 5432, User: "paperrag", DBName: "paperrag"},
		SQLite:   config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "paper-rag.db")},
		LLM:      config.LLMConfig{Model: "llama3"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewStore_Backends(t *testing.T) {
	tests := []struct {
		backend string
		check   func(t *testing.T, store ingestion.DocumentStore)
	}{
		{backend: config.BackendChroma, check: func(t *testing.T, s ingestion.DocumentStore) { assert.IsType(t, &chroma.Store{}, s) }},
		{backend: config.BackendPostgres, check: func(t *testing.T, s ingestion.DocumentStore) { assert.IsType(t, &postgres.DocumentStore{}, s) }},
		{backend: config.BackendSQLite, check: func(t *testing.T, s ingestion.DocumentStore) { assert.IsType(t, &sqlite.Store{}, s) }},
		{backend: config.BackendMemory, check: func(t *testing.T, s ingestion.DocumentStore) { assert.IsType(t, &memory.Store{}, s) }},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := NewStore(testConfig(t, tt.backend), discardLogger(), &testutil.MockEmbedder{})
			require.NoError(t, err)
			tt.check(t, store)
		})
	}

	_, err := NewStore(testConfig(t, "redis"), discardLogger(), nil)
	assert.Error(t, err)
}

func TestNewContainer_IngestWithInjectedDependencies(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	fetcher := &testutil.MockFetcher{
		FetchWorkFunc: func(ctx context.Context, identifier string) (*ingestion.Work, error) {
			return &ingestion.Work{Identifier: identifier, Title: "T", Abstract: "A"}, nil
		},
	}
	store := memory.NewStore()

	c, err := NewContainer(cfg,
		WithContainerLogger(discardLogger()),
		WithContainerFetcher(fetcher),
		WithContainerEmbedder(&testutil.MockEmbedder{}),
		WithContainerStore(store),
		WithContainerTokenCounter(testutil.StubTokenCounter{}),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	result, err := c.IngestService.Ingest(context.Background(), ingestion.IngestParams{
		Identifier: "https://doi.org/10.2307/2118559",
		Collection: cfg.Store.Collection,
		RecordID:   cfg.Store.RecordID,
	})
	require.NoError(t, err)
	assert.Equal(t, "fermat-1", result.RecordID)
	assert.Equal(t, 1, store.Len("fermat"))

	records, err := c.InspectionService.List(context.Background(), "fermat")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "T\nA", records[0].Document)
}

func TestNewContainer_DefaultConfigEmbedsLongAbstract(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Positive(t, cfg.Embedding.MaxTokens)

	abstract := strings.TrimSpace(strings.Repeat("the modularity conjecture for semistable elliptic curves ", 120))
	fetcher := &testutil.MockFetcher{
		FetchWorkFunc: func(ctx context.Context, identifier string) (*ingestion.Work, error) {
			return &ingestion.Work{Identifier: identifier, Title: "T", Abstract: abstract}, nil
		},
	}
	embedder := &testutil.MockEmbedder{}
	store := memory.NewStore()

	c, err := NewContainer(cfg,
		WithContainerLogger(discardLogger()),
		WithContainerFetcher(fetcher),
		WithContainerEmbedder(embedder),
		WithContainerStore(store),
		WithContainerTokenCounter(tokenizer.EstimateCounter{}),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	result, err := c.IngestService.Ingest(context.Background(), ingestion.IngestParams{
		Identifier: cfg.Paper.DOI,
		Collection: cfg.Store.Collection,
		RecordID:   cfg.Store.RecordID,
	})
	require.NoError(t, err)
	assert.Equal(t, 384, result.Dimension)
	assert.Equal(t, []string{"T\n" + abstract}, embedder.EmbedCalls)
	assert.Equal(t, 1, store.Len("fermat"))
}

func TestNewContainer_MissingLLMKeyFailsOnlyAsk(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Embedding.MaxTokens = 0
	c, err := NewContainer(cfg,
		WithContainerLogger(discardLogger()),
		WithContainerEmbedder(&testutil.MockEmbedder{}),
	)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	_, err = c.AskService.Ask(context.Background(), coreask.AskParams{Collection: "fermat", Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LLM client is not available")
}

func TestServiceContainer_NilSafe(t *testing.T) {
	var c *ServiceContainer
	assert.NotNil(t, c.Logger())
	assert.NotPanics(t, c.Close)
}
