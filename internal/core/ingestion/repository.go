package ingestion

import (
	"context"

	"github.com/samber/mo"
)

// DocumentStore はベクトルストアへのアクセスを抽象化するインターフェース
// テスト時のモック用に消費者側で定義
type DocumentStore interface {
	// EnsureCollection はコレクションを取得し、存在しなければ作成する
	EnsureCollection(ctx context.Context, collection string) error

	// Upsert はIDをキーにレコードを挿入または上書きする
	Upsert(ctx context.Context, collection string, record Record) error

	// Get はIDでレコードを取得する
	Get(ctx context.Context, collection, id string) (mo.Option[*Record], error)

	// List はコレクション内の全レコードを返す
	// コレクションが存在しない場合は ErrCollectionNotFound を返す（作成しない）
	List(ctx context.Context, collection string) ([]*Record, error)

	// Query はベクトルに近いレコードを最大 limit 件返す。limit が0以下なら全件
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]*QueryResult, error)

	// Close はリソースを解放する
	Close() error
}
