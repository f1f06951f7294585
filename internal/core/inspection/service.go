package inspection

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

// Service は既存コレクションの内容を確認するためのユースケースを提供する
type Service struct {
	store  ingestion.DocumentStore
	logger *slog.Logger
}

// NewService は新しいServiceを作成する
func NewService(store ingestion.DocumentStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// List はコレクション内の全ドキュメントを返す
// コレクションが存在しない場合は作成せずに ErrCollectionNotFound を返す
func (s *Service) List(ctx context.Context, collection string) ([]*ingestion.Record, error) {
	s.logger.Info("コレクションの内容を取得します", "collection", collection)

	records, err := s.store.List(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("コレクションの取得に失敗: %w", err)
	}

	s.logger.Info("コレクションの内容を取得しました", "collection", collection, "count", len(records))
	return records, nil
}

// Render は登録ドキュメント数と各ドキュメントを1始まりの連番付きで書き出す
func Render(w io.Writer, records []*ingestion.Record) error {
	if _, err := fmt.Fprintf(w, "登録ドキュメント数: %d\n", len(records)); err != nil {
		return err
	}
	for i, r := range records {
		if _, err := fmt.Fprintf(w, "--- Document %d ---\n%s\n\n", i+1, r.Document); err != nil {
			return err
		}
	}
	return nil
}
