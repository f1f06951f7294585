package testing

import (
	"context"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

// MockFetcher はテスト用のモックWorkFetcherです
type MockFetcher struct {
	FetchWorkFunc func(ctx context.Context, identifier string) (*ingestion.Work, error)
	Calls         []string
}

func (m *MockFetcher) FetchWork(ctx context.Context, identifier string) (*ingestion.Work, error) {
	m.Calls = append(m.Calls, identifier)
	if m.FetchWorkFunc != nil {
		return m.FetchWorkFunc(ctx, identifier)
	}
	return &ingestion.Work{Identifier: identifier}, nil
}

// MockEmbedder はテスト用のモックEmbeddingProviderです
// EmbedFunc 未設定時は Dim 次元の決定的なベクトルを返す
type MockEmbedder struct {
	LoadFunc  func(ctx context.Context) error
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	Dim       int

	LoadCalls  int
	EmbedCalls []string
}

func (m *MockEmbedder) Load(ctx context.Context) error {
	m.LoadCalls++
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx)
	}
	return nil
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.EmbedCalls = append(m.EmbedCalls, text)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	vector := make([]float32, m.Dimension())
	for i := range vector {
		vector[i] = float32(len(text)+i) / 1000
	}
	return vector, nil
}

func (m *MockEmbedder) ModelName() string {
	return "mock-embedder"
}

func (m *MockEmbedder) Dimension() int {
	if m.Dim == 0 {
		return 384
	}
	return m.Dim
}

// FailingStore は DocumentStore を包み、EnsureErr / UpsertErr が設定されていればそのエラーを返すストアです
type FailingStore struct {
	ingestion.DocumentStore
	EnsureErr error
	UpsertErr error
}

func (s *FailingStore) EnsureCollection(ctx context.Context, name string) error {
	if s.EnsureErr != nil {
		return s.EnsureErr
	}
	return s.DocumentStore.EnsureCollection(ctx, name)
}

func (s *FailingStore) Upsert(ctx context.Context, name string, record ingestion.Record) error {
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	return s.DocumentStore.Upsert(ctx, name, record)
}

// StubTokenCounter は文字数をそのままトークン数とみなすカウンタです
type StubTokenCounter struct{}

func (StubTokenCounter) CountTokens(text string) int {
	return len([]rune(text))
}

var (
	_ ingestion.WorkFetcher       = (*MockFetcher)(nil)
	_ ingestion.EmbeddingProvider = (*MockEmbedder)(nil)
	_ ingestion.DocumentStore     = (*FailingStore)(nil)
	_ ingestion.TokenCounter      = StubTokenCounter{}
)
