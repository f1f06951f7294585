package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

// LLMClient はLLM通信インターフェース
type LLMClient interface {
	// Stream は生成されたトークンを受信順に onToken へ渡す
	Stream(ctx context.Context, prompt string, onToken func(token string) error) error
}

// AskService は質問応答のビジネスロジックを提供する
type AskService struct {
	embedder ingestion.EmbeddingProvider
	store    ingestion.DocumentStore
	llm      LLMClient
	logger   *slog.Logger
}

type AskServiceOption func(*AskService)

// WithAskLogger は AskService にロガーを設定する
func WithAskLogger(logger *slog.Logger) AskServiceOption {
	return func(s *AskService) {
		s.logger = logger
	}
}

// NewAskService は新しいAskServiceを作成する
func NewAskService(
	embedder ingestion.EmbeddingProvider,
	store ingestion.DocumentStore,
	llm LLMClient,
	opts ...AskServiceOption,
) *AskService {
	svc := &AskService{
		embedder: embedder,
		store:    store,
		llm:      llm,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// Ask は質問に対して回答全体を生成する
func (s *AskService) Ask(ctx context.Context, params AskParams) (*AskResult, error) {
	var sb strings.Builder
	sources, err := s.Stream(ctx, params, func(token string) error {
		sb.WriteString(token)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &AskResult{
		Answer:  sb.String(),
		Sources: sources,
	}, nil
}

// Stream は関連ドキュメントを文脈として回答を生成し、トークンを逐次 onToken に渡す
// 文脈の取得に失敗した場合は空の文脈で回答を続ける
func (s *AskService) Stream(ctx context.Context, params AskParams, onToken func(token string) error) ([]SourceReference, error) {
	// 1. バリデーション
	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	if params.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	// 2. デフォルト値の設定
	limit := params.ContextLimit
	if limit <= 0 {
		limit = DefaultContextLimit
	}

	// 3. 関連コンテキストを取得
	contextText, sources := s.retrieveContext(ctx, params.Collection, params.Query, limit)

	// 4. プロンプト構築
	prompt := BuildAskPrompt(params.Query, contextText)

	// 5. LLMで回答をストリーミング生成
	s.logger.Info("generating answer with LLM", "sources", len(sources))
	if err := s.llm.Stream(ctx, prompt, onToken); err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	s.logger.Info("ask completed successfully", "sources", len(sources))
	return sources, nil
}

// retrieveContext は質問をベクトル化し、類似ドキュメントを改行区切りで結合して返す
func (s *AskService) retrieveContext(ctx context.Context, collection, query string, limit int) (string, []SourceReference) {
	if err := s.embedder.Load(ctx); err != nil {
		s.logger.Warn("embedding model unavailable, answering without context", "error", err)
		return "", nil
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("failed to embed query, answering without context", "error", err)
		return "", nil
	}

	results, err := s.store.Query(ctx, collection, vector, limit)
	if err != nil {
		s.logger.Warn("vector search failed, answering without context", "collection", collection, "error", err)
		return "", nil
	}

	var sb strings.Builder
	sources := make([]SourceReference, 0, len(results))
	for _, r := range results {
		sb.WriteString(r.Document)
		sb.WriteString("\n")
		sources = append(sources, SourceReference{
			ID:       r.ID,
			Title:    metadataString(r.Metadata, "title"),
			DOI:      metadataString(r.Metadata, "doi"),
			Distance: r.Distance,
		})
	}

	s.logger.Info("retrieved context", "collection", collection, "documents", len(results))
	return sb.String(), sources
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
