package container

import (
	"context"
	"fmt"
	"log/slog"

	coreask "github.com/jinford/paper-rag/internal/core/ask"
	coreingestion "github.com/jinford/paper-rag/internal/core/ingestion"
	"github.com/jinford/paper-rag/internal/core/inspection"
	"github.com/jinford/paper-rag/internal/infra/chroma"
	"github.com/jinford/paper-rag/internal/infra/memory"
	"github.com/jinford/paper-rag/internal/infra/openai"
	"github.com/jinford/paper-rag/internal/infra/openalex"
	"github.com/jinford/paper-rag/internal/infra/postgres"
	"github.com/jinford/paper-rag/internal/infra/sqlite"
	"github.com/jinford/paper-rag/internal/infra/tokenizer"
	"github.com/jinford/paper-rag/internal/platform/config"
	"github.com/jinford/paper-rag/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	IngestService     *coreingestion.IngestService
	InspectionService *inspection.Service
	AskService        *coreask.AskService
	Store             coreingestion.DocumentStore

	logger *slog.Logger
}

type containerOptions struct {
	logger       *slog.Logger
	fetcher      coreingestion.WorkFetcher
	embedder     coreingestion.EmbeddingProvider
	store        coreingestion.DocumentStore
	tokenCounter coreingestion.TokenCounter
	llmClient    coreask.LLMClient
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerFetcher は WorkFetcher を差し替える
func WithContainerFetcher(fetcher coreingestion.WorkFetcher) ContainerOption {
	return func(opts *containerOptions) {
		opts.fetcher = fetcher
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder coreingestion.EmbeddingProvider) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerStore は DocumentStore を差し替える
func WithContainerStore(store coreingestion.DocumentStore) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter coreingestion.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える
func WithContainerLLMClient(client coreask.LLMClient) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// NewContainer は設定からコンテナを生成する。
// ストアへの接続は最初の操作時に行うため、ここでは外部サービスに接続しない。
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	// WorkFetcher (OpenAlex)
	fetcher := options.fetcher
	if fetcher == nil {
		fetcher = openalex.NewClient(
			cfg.OpenAlex.BaseURL,
			openalex.WithMailto(cfg.OpenAlex.Mailto),
			openalex.WithTimeout(cfg.OpenAlex.Timeout),
			openalex.WithLogger(logger),
		)
	}

	// Embedder (OpenAI互換)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.Embedding.APIKey,
			openai.WithEmbeddingBaseURL(cfg.Embedding.BaseURL),
			openai.WithEmbeddingModel(cfg.Embedding.Model),
			openai.WithEmbeddingDimension(cfg.Embedding.Dimension),
		)
	}

	// DocumentStore
	store := options.store
	if store == nil {
		var err error
		store, err = NewStore(cfg, logger, embedder)
		if err != nil {
			return nil, err
		}
	}

	// TokenCounter
	ingestOpts := []coreingestion.IngestServiceOption{coreingestion.WithIngestLogger(logger)}
	if cfg.Embedding.MaxTokens > 0 {
		counter := options.tokenCounter
		if counter == nil {
			counter = newTokenCounter(logger)
		}
		ingestOpts = append(ingestOpts, coreingestion.WithIngestTokenCounter(counter, cfg.Embedding.MaxTokens))
	}

	// LLMClient
	llmClient := options.llmClient
	if llmClient == nil {
		client, err := openai.NewClientWithAPIKey(
			cfg.LLM.APIKey,
			cfg.LLM.Model,
			openai.WithChatBaseURL(cfg.LLM.BaseURL),
			openai.WithTemperature(cfg.LLM.Temperature),
		)
		if err != nil {
			// ingest/inspect は LLM を使わないため、ask 実行時にエラーを返す
			logger.Warn("LLMクライアントを初期化できません", "error", err)
			llmClient = unavailableLLM{err: err}
		} else {
			llmClient = client
		}
	}

	return &ServiceContainer{
		IngestService:     coreingestion.NewIngestService(fetcher, embedder, store, ingestOpts...),
		InspectionService: inspection.NewService(store, logger),
		AskService:        coreask.NewAskService(embedder, store, llmClient, coreask.WithAskLogger(logger)),
		Store:             store,
		logger:            logger,
	}, nil
}

// NewStore は設定されたバックエンドの DocumentStore を生成する。
// embedder は Chroma のコレクションの埋め込み関数として使う。
func NewStore(cfg *config.Config, logger *slog.Logger, embedder coreingestion.EmbeddingProvider) (coreingestion.DocumentStore, error) {
	switch cfg.Store.Backend {
	case config.BackendChroma, "":
		return chroma.NewStore(chroma.Config{
			Host:     cfg.Chroma.Host,
			Port:     cfg.Chroma.Port,
			Tenant:   cfg.Chroma.Tenant,
			Database: cfg.Chroma.Database,
			Timeout:  cfg.OpenAlex.Timeout,
		},
			chroma.WithStoreLogger(logger),
			chroma.WithEmbeddingProvider(embedder),
		), nil
	case config.BackendPostgres:
		params := database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		return postgres.NewDocumentStore(params, cfg.Embedding.Dimension, postgres.WithStoreLogger(logger)), nil
	case config.BackendSQLite:
		return sqlite.NewStore(cfg.SQLite.Path), nil
	case config.BackendMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil || c.Store == nil {
		return
	}
	if err := c.Store.Close(); err != nil {
		c.Logger().Warn("ストアのクローズに失敗しました", "error", err)
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// newTokenCounter は tiktoken を使うカウンタを返す。エンコーディングを取得できない場合は推定値で代用する。
func newTokenCounter(logger *slog.Logger) coreingestion.TokenCounter {
	counter, err := tokenizer.NewTokenCounter(tokenizer.DefaultEncoding)
	if err != nil {
		logger.Warn("tiktoken を利用できないため推定トークン数を使用します", "error", err)
		return tokenizer.EstimateCounter{}
	}
	return counter
}

// unavailableLLM は初期化に失敗した LLM クライアントの代わりに使う。
type unavailableLLM struct {
	err error
}

func (u unavailableLLM) Stream(ctx context.Context, prompt string, onToken func(token string) error) error {
	return fmt.Errorf("LLM client is not available: %w", u.err)
}
