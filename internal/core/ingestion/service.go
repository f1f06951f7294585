package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxInputTokens はEmbedding入力の既定トークン上限（all-MiniLM-L6-v2 の最大系列長）
const DefaultMaxInputTokens = 256

// IngestService は論文1件の取り込み（取得→抽出→ベクトル化→保存）を提供する
type IngestService struct {
	fetcher        WorkFetcher
	embedder       EmbeddingProvider
	store          DocumentStore
	tokenCounter   TokenCounter // オプショナル
	maxInputTokens int
	logger         *slog.Logger
}

type ingestServiceOptions struct {
	tokenCounter   TokenCounter
	maxInputTokens int
	logger         *slog.Logger
}

// IngestServiceOption は IngestService のオプション設定
type IngestServiceOption func(*ingestServiceOptions)

// WithIngestLogger は IngestService にロガーを設定する
func WithIngestLogger(logger *slog.Logger) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.logger = logger
	}
}

// WithIngestTokenCounter は入力トークン数の検査に使うカウンタを設定する
func WithIngestTokenCounter(counter TokenCounter, maxTokens int) IngestServiceOption {
	return func(o *ingestServiceOptions) {
		o.tokenCounter = counter
		o.maxInputTokens = maxTokens
	}
}

// NewIngestService は新しいIngestServiceを作成する
func NewIngestService(
	fetcher WorkFetcher,
	embedder EmbeddingProvider,
	store DocumentStore,
	opts ...IngestServiceOption,
) *IngestService {
	options := ingestServiceOptions{
		maxInputTokens: DefaultMaxInputTokens,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.maxInputTokens <= 0 {
		options.maxInputTokens = DefaultMaxInputTokens
	}

	return &IngestService{
		fetcher:        fetcher,
		embedder:       embedder,
		store:          store,
		tokenCounter:   options.tokenCounter,
		maxInputTokens: options.maxInputTokens,
		logger:         options.logger,
	}
}

// Ingest は論文を1件取り込み、固定IDのレコードとしてコレクションへ upsert する
// いずれかの段階で失敗した時点で残りの段階は実行しない
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	startTime := time.Now()

	if err := s.validateParams(params); err != nil {
		return nil, fmt.Errorf("パラメータのバリデーションエラー: %w", err)
	}
	recordID := params.RecordID
	if recordID == "" {
		recordID = DefaultRecordID
	}

	s.logger.Info("論文の取り込みを開始",
		"identifier", params.Identifier,
		"collection", params.Collection,
		"recordID", recordID,
	)

	// 1. 論文メタデータを取得
	work, err := s.fetchWork(ctx, params.Identifier)
	if err != nil {
		return nil, err
	}

	s.logger.Info("論文メタデータを取得",
		"title", work.Title,
		"abstractLength", len(work.Abstract),
	)

	// 2. タイトルと要旨を1つのテキストにまとめる
	text := work.DocumentText()

	// 3. 入力トークン数を確認する。上限を超えてもテキストはそのまま渡す
	s.checkInputTokens(text)

	// 4. ベクトル化
	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// 5. ベクトルストアに接続し、コレクションを取得または作成
	s.logger.Info("ベクトルストアに接続します", "collection", params.Collection)
	if err := s.store.EnsureCollection(ctx, params.Collection); err != nil {
		return nil, stageError(ErrStoreConnect, err)
	}

	// 6. レコードを upsert
	record := Record{
		ID:        recordID,
		Document:  text,
		Embedding: embedding,
		Metadata:  work.Metadata(),
	}
	s.logger.Info("ベクトルとメタデータを保存します", "recordID", record.ID)
	if err := s.store.Upsert(ctx, params.Collection, record); err != nil {
		return nil, stageError(ErrStoreWrite, err)
	}

	duration := time.Since(startTime)

	s.logger.Info("論文の取り込みが完了",
		"recordID", record.ID,
		"dimension", len(embedding),
		"duration", duration,
	)

	return &IngestResult{
		RecordID:   record.ID,
		Collection: params.Collection,
		Title:      work.Title,
		Dimension:  len(embedding),
		Duration:   duration,
	}, nil
}

func (s *IngestService) fetchWork(ctx context.Context, identifier string) (*Work, error) {
	work, err := s.fetcher.FetchWork(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrFetch) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, stageError(ErrFetch, err)
	}
	if work == nil {
		return nil, ErrNotFound
	}
	return work, nil
}

// checkInputTokens はモデルの最大系列長を超える入力を警告する
// 超過分はモデル側で切り詰められるため、取り込みは失敗させない
func (s *IngestService) checkInputTokens(text string) {
	if s.tokenCounter == nil {
		return
	}
	tokens := s.tokenCounter.CountTokens(text)
	if tokens > s.maxInputTokens {
		s.logger.Warn("入力がモデルの最大系列長を超えています。超過分はモデル側で切り詰められます",
			"tokens", tokens,
			"limit", s.maxInputTokens,
		)
		return
	}
	s.logger.Debug("入力トークン数を確認", "tokens", tokens)
}

// embed はモデルをロードしてテキストを1本のベクトルに変換する
func (s *IngestService) embed(ctx context.Context, text string) ([]float32, error) {
	s.logger.Info("Embeddingモデルをロードします（初回は時間がかかります）",
		"model", s.embedder.ModelName(),
	)
	if err := s.embedder.Load(ctx); err != nil {
		return nil, stageError(ErrModelLoad, err)
	}

	s.logger.Info("テキストをベクトルに変換します")
	embedding, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, stageError(ErrEmbedding, err)
	}
	if want := s.embedder.Dimension(); want > 0 && len(embedding) != want {
		return nil, stageError(ErrEmbedding,
			fmt.Errorf("got %d dimensions, model declares %d", len(embedding), want))
	}

	s.logger.Info("ベクトル化が完了", "dimension", len(embedding))
	return embedding, nil
}

// validateParams は取り込みパラメータをバリデートする
func (s *IngestService) validateParams(params IngestParams) error {
	if params.Identifier == "" {
		return fmt.Errorf("identifier は必須です")
	}
	if params.Collection == "" {
		return fmt.Errorf("collection は必須です")
	}
	return nil
}
