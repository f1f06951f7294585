package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrFetch は書誌APIへのリクエストが失敗した場合のエラー
	ErrFetch = errors.New("fetch failed")

	// ErrNotFound は書誌APIの results が空の場合のエラー
	ErrNotFound = errors.New("work not found")

	// ErrModelLoad はEmbeddingモデルのロードに失敗した場合のエラー
	ErrModelLoad = errors.New("embedding model load failed")

	// ErrEmbedding はベクトル化に失敗した場合のエラー
	ErrEmbedding = errors.New("embedding failed")

	// ErrStoreConnect はベクトルストアへの接続またはコレクション作成に失敗した場合のエラー
	ErrStoreConnect = errors.New("vector store connect failed")

	// ErrStoreWrite はベクトルストアへの保存に失敗した場合のエラー
	ErrStoreWrite = errors.New("vector store write failed")

	// ErrCollectionNotFound は参照したコレクションが存在しない場合のエラー
	ErrCollectionNotFound = errors.New("collection not found")
)

// stageError は段階を表すセンチネルと原因を両方ラップする
func stageError(stage, cause error) error {
	if cause == nil {
		return stage
	}
	return fmt.Errorf("%w: %w", stage, cause)
}

// ExitCode はエラーをプロセスの終了ステータスに変換する
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
