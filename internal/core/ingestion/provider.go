package ingestion

import "context"

// WorkFetcher は書誌APIから論文メタデータを取得するインターフェース
type WorkFetcher interface {
	// FetchWork は識別子に一致する最初の論文を返す
	// 通信失敗は ErrFetch、結果が空の場合は ErrNotFound をラップして返す
	FetchWork(ctx context.Context, identifier string) (*Work, error)
}

// EmbeddingProvider はテキストをベクトル表現に変換するインターフェース
type EmbeddingProvider interface {
	// Load はモデルを利用可能な状態にする（初回は時間がかかる）
	Load(ctx context.Context) error

	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelName はモデル名を返す
	ModelName() string

	// Dimension はEmbeddingベクトルの次元数を返す
	Dimension() int
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}
