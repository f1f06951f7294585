package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

const (
	// DefaultEmbeddingModel は all-MiniLM-L6-v2 を提供するモデル名（Ollama の呼称）
	DefaultEmbeddingModel = "all-minilm"
	// DefaultEmbeddingDimension は all-MiniLM-L6-v2 の出力次元
	DefaultEmbeddingDimension = 384
	// DefaultEmbeddingBaseURL は OpenAI 互換 Embeddings API のベースURL
	DefaultEmbeddingBaseURL = "http://ollama:11434/v1/"

	loadCheckText = "ping"
)

// ErrDimensionMismatch はモデルの出力次元が設定と一致しない場合のエラー
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder は OpenAI 互換 API を使用してテキストをベクトルに変換する
type Embedder struct {
	client    openai.Client
	model     string
	dimension int

	loadMu sync.Mutex
	loaded bool
}

type embedderOptions struct {
	model     string
	dimension int
	baseURL   string
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		o.model = model
	}
}

// WithEmbeddingDimension はベクトル次元を上書きする
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は API のベースURLを上書きする
func WithEmbeddingBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// NewEmbedder は新しい Embedder を作成する
// パイプラインはリトライしないため SDK のリトライも無効にする
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:     DefaultEmbeddingModel,
		dimension: DefaultEmbeddingDimension,
		baseURL:   DefaultEmbeddingBaseURL,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Embedder{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(withTrailingSlash(options.baseURL)),
			option.WithMaxRetries(0),
		),
		model:     options.model,
		dimension: options.dimension,
	}
}

// Load は確認用テキストを1回ベクトル化し、モデルが利用可能で次元が一致することを確認する
// 成功した結果だけを保持し、失敗した場合は次の呼び出しで再確認する
func (e *Embedder) Load(ctx context.Context) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.loaded {
		return nil
	}

	vector, err := e.embed(ctx, loadCheckText)
	if err != nil {
		return fmt.Errorf("model %q unavailable: %w", e.model, err)
	}
	if e.dimension > 0 && len(vector) != e.dimension {
		return fmt.Errorf("%w: model %q returned %d, expected %d",
			ErrDimensionMismatch, e.model, len(vector), e.dimension)
	}
	e.loaded = true
	return nil
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if e.dimension > 0 && len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vector), e.dimension)
	}
	return vector, nil
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}

	// dimensions パラメータは text-embedding-3 系のみ有効
	if e.dimension > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	// float64からfloat32に変換
	data := resp.Data[0].Embedding
	vector := make([]float32, len(data))
	for i, v := range data {
		vector[i] = float32(v)
	}
	return vector, nil
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す
func (e *Embedder) Dimension() int {
	return e.dimension
}

func withTrailingSlash(u string) string {
	return strings.TrimRight(u, "/") + "/"
}

// インターフェース実装の確認
var _ ingestion.EmbeddingProvider = (*Embedder)(nil)
