package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/paper-rag/internal/core/ingestion"
	testutil "github.com/jinford/paper-rag/internal/core/ingestion/testing"
	"github.com/jinford/paper-rag/internal/infra/memory"
	"github.com/jinford/paper-rag/internal/platform/config"
	"github.com/jinford/paper-rag/internal/platform/container"
)

type testApp struct {
	fetcher  *testutil.MockFetcher
	embedder *testutil.MockEmbedder
	store    *memory.Store
	envFile  string
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	return &testApp{
		fetcher: &testutil.MockFetcher{
			FetchWorkFunc: func(ctx context.Context, identifier string) (*ingestion.Work, error) {
				return &ingestion.Work{
					Identifier: identifier,
					Title:      "Modular elliptic curves and Fermat's Last Theorem",
					Abstract:   "When Andrew John Wiles was 10 years old...",
				}, nil
			},
		},
		embedder: &testutil.MockEmbedder{},
		store:    memory.NewStore(),
		envFile:  filepath.Join(t.TempDir(), "missing.env"),
	}
}

func (a *testApp) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := NewApp(
		WithConfigOverride(func(cfg *config.Config) {
			cfg.Store.Backend = config.BackendMemory
			cfg.Log.Level = "error"
		}),
		WithContainerOptions(
			container.WithContainerFetcher(a.fetcher),
			container.WithContainerEmbedder(a.embedder),
			container.WithContainerStore(a.store),
			container.WithContainerTokenCounter(testutil.StubTokenCounter{}),
		),
	)
	var out bytes.Buffer
	app.Writer = &out

	full := append([]string{"paper-rag", args[0], "--env", a.envFile}, args[1:]...)
	err := app.Run(context.Background(), full)
	return out.String(), err
}

func TestIngestThenInspect(t *testing.T) {
	a := newTestApp(t)

	out, err := a.run(t, "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, "fermat-1")
	assert.Equal(t, []string{"https://doi.org/10.2307/2118559"}, a.fetcher.Calls)

	out, err = a.run(t, "inspect")
	require.NoError(t, err)
	assert.Equal(t,
		"登録ドキュメント数: 1\n--- Document 1 ---\nModular elliptic curves and Fermat's Last Theorem\nWhen Andrew John Wiles was 10 years old...\n\n",
		out,
	)
}

func TestIngest_RerunKeepsSingleRecord(t *testing.T) {
	a := newTestApp(t)

	_, err := a.run(t, "ingest")
	require.NoError(t, err)
	_, err = a.run(t, "ingest")
	require.NoError(t, err)

	assert.Equal(t, 1, a.store.Len("fermat"))
}

func TestIngest_FlagsOverrideConfig(t *testing.T) {
	a := newTestApp(t)

	_, err := a.run(t, "ingest", "--doi", "10.1000/test", "--id", "paper-2", "--collection", "wiles")
	require.NoError(t, err)

	assert.Equal(t, []string{"10.1000/test"}, a.fetcher.Calls)
	got, err := a.store.Get(context.Background(), "wiles", "paper-2")
	require.NoError(t, err)
	assert.True(t, got.IsPresent())
}

func TestIngest_LongAbstractIsEmbeddedWithDefaults(t *testing.T) {
	a := newTestApp(t)
	abstract := strings.TrimSpace(strings.Repeat("elliptic curves modular forms semistable ", 180))
	a.fetcher.FetchWorkFunc = func(ctx context.Context, identifier string) (*ingestion.Work, error) {
		return &ingestion.Work{Identifier: identifier, Title: "Long", Abstract: abstract}, nil
	}

	_, err := a.run(t, "ingest")
	require.NoError(t, err)
	require.Len(t, a.embedder.EmbedCalls, 1)
	assert.Equal(t, "Long\n"+abstract, a.embedder.EmbedCalls[0])
	assert.Equal(t, 1, a.store.Len("fermat"))
}

func TestIngest_BackendFlagOverridesInvalidEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", "bogus")
	a := newTestApp(t)

	_, err := a.run(t, "ingest", "--backend", "memory")
	require.NoError(t, err)
	assert.Equal(t, 1, a.store.Len("fermat"))
}

func TestIngest_NotFoundStopsBeforeEmbedding(t *testing.T) {
	a := newTestApp(t)
	a.fetcher.FetchWorkFunc = func(ctx context.Context, identifier string) (*ingestion.Work, error) {
		return nil, ingestion.ErrNotFound
	}

	_, err := a.run(t, "ingest")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingestion.ErrNotFound)
	assert.Equal(t, 1, ingestion.ExitCode(err))
	assert.Zero(t, a.embedder.LoadCalls)
	assert.Zero(t, a.store.Len("fermat"))
}

func TestInspect_MissingCollection(t *testing.T) {
	a := newTestApp(t)

	_, err := a.run(t, "inspect")
	assert.ErrorIs(t, err, ingestion.ErrCollectionNotFound)
}

func TestAsk_RequiresQuestion(t *testing.T) {
	a := newTestApp(t)

	_, err := a.run(t, "ask")
	assert.ErrorContains(t, err, "質問文を指定してください")
}

func TestWithOptions_DoesNotAlias(t *testing.T) {
	base := make([]AppOption, 1, 4)
	first := withOptions(base, WithConfigOverride(func(*config.Config) {}))
	second := withOptions(base, WithContainerOptions())
	assert.Len(t, first, 2)
	assert.Len(t, second, 2)
}
