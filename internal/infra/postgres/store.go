package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/samber/mo"

	"github.com/jinford/paper-rag/internal/core/ingestion"
	"github.com/jinford/paper-rag/internal/platform/database"
)

// DocumentStore は core/ingestion.DocumentStore を実装する PostgreSQL (pgvector) ストア。
// 接続は最初の操作時に確立する。
type DocumentStore struct {
	params    database.ConnectionParams
	dimension int
	logger    *slog.Logger

	mu       sync.Mutex
	db       *database.DB
	migrated bool
}

var _ ingestion.DocumentStore = (*DocumentStore)(nil)

type DocumentStoreOption func(*DocumentStore)

// WithStoreLogger はロガーを設定する
func WithStoreLogger(logger *slog.Logger) DocumentStoreOption {
	return func(s *DocumentStore) {
		s.logger = logger
	}
}

// WithDB は確立済みの接続を使う
func WithDB(db *database.DB) DocumentStoreOption {
	return func(s *DocumentStore) {
		s.db = db
	}
}

// NewDocumentStore は新しい DocumentStore を返す。dimension は vector 列の次元数。
func NewDocumentStore(params database.ConnectionParams, dimension int, opts ...DocumentStoreOption) *DocumentStore {
	s := &DocumentStore{
		params:    params,
		dimension: dimension,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *DocumentStore) conn(ctx context.Context) (*database.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		db, err := database.New(ctx, s.params)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", s.params.Address(), err)
		}
		s.db = db
	}
	if !s.migrated {
		if err := s.migrate(ctx, s.db); err != nil {
			return nil, err
		}
		s.migrated = true
		s.logger.Debug("PostgreSQL のスキーマを適用しました", "addr", s.params.Address(), "dimension", s.dimension)
	}
	return s.db, nil
}

func (s *DocumentStore) migrate(ctx context.Context, db *database.DB) error {
	migrations := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS paper_collections (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS paper_documents (
			collection TEXT NOT NULL REFERENCES paper_collections(name) ON DELETE CASCADE,
			id TEXT NOT NULL,
			document TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, id)
		)`, s.dimension),
	}
	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// EnsureCollection は接続とスキーマを確認し、コレクションを作成する
func (s *DocumentStore) EnsureCollection(ctx context.Context, name string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx,
		`INSERT INTO paper_collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return nil
}

// rowQuerier は pgxpool.Pool と pgx.Tx の共通部分
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func requireCollection(ctx context.Context, q rowQuerier, name string) error {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM paper_collections WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up collection %q: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ingestion.ErrCollectionNotFound, name)
	}
	return nil
}

// Upsert はレコードを挿入し、同じIDがあれば上書きする
// 同じレコードへの同時書き込みはアドバイザリロックで直列化する
func (s *DocumentStore) Upsert(ctx context.Context, name string, record ingestion.Record) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if len(record.Embedding) != s.dimension {
		return fmt.Errorf("embedding has %d dimensions, column expects %d", len(record.Embedding), s.dimension)
	}

	metadata, err := marshalMetadata(record.Metadata)
	if err != nil {
		return err
	}

	_, err = database.Transact(ctx, db, func(tx pgx.Tx) (struct{}, error) {
		if err := database.AcquireXactLock(ctx, tx, database.LockID(name, record.ID)); err != nil {
			return struct{}{}, err
		}
		if err := requireCollection(ctx, tx, name); err != nil {
			return struct{}{}, err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO paper_documents (collection, id, document, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (collection, id) DO UPDATE SET
				document = EXCLUDED.document,
				embedding = EXCLUDED.embedding,
				metadata = EXCLUDED.metadata,
				updated_at = NOW()
		`, name, record.ID, record.Document, pgvector.NewVector(record.Embedding), metadata)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to upsert document %q: %w", record.ID, err)
		}
		return struct{}{}, nil
	})
	return err
}

// Get はIDでレコードを取得する
func (s *DocumentStore) Get(ctx context.Context, name, id string) (mo.Option[*ingestion.Record], error) {
	db, err := s.conn(ctx)
	if err != nil {
		return mo.None[*ingestion.Record](), err
	}
	if err := requireCollection(ctx, db.Pool, name); err != nil {
		return mo.None[*ingestion.Record](), err
	}

	var (
		record    ingestion.Record
		embedding pgvector.Vector
		metadata  []byte
	)
	err = db.Pool.QueryRow(ctx, `
		SELECT id, document, embedding, metadata
		FROM paper_documents
		WHERE collection = $1 AND id = $2
	`, name, id).Scan(&record.ID, &record.Document, &embedding, &metadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return mo.None[*ingestion.Record](), nil
		}
		return mo.None[*ingestion.Record](), fmt.Errorf("failed to get document %q: %w", id, err)
	}

	record.Embedding = embedding.Slice()
	if record.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return mo.None[*ingestion.Record](), err
	}
	return mo.Some(&record), nil
}

// List はコレクションの全レコードを登録順に返す。コレクションは作成しない
func (s *DocumentStore) List(ctx context.Context, name string) ([]*ingestion.Record, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCollection(ctx, db.Pool, name); err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT id, document, metadata
		FROM paper_documents
		WHERE collection = $1
		ORDER BY created_at, id
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var records []*ingestion.Record
	for rows.Next() {
		var (
			record   ingestion.Record
			metadata []byte
		)
		if err := rows.Scan(&record.ID, &record.Document, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if record.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return records, nil
}

// Query はコサイン距離の近い順にレコードを返す。limit が0以下なら全件
func (s *DocumentStore) Query(ctx context.Context, name string, vector []float32, limit int) ([]*ingestion.QueryResult, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCollection(ctx, db.Pool, name); err != nil {
		return nil, err
	}

	// LIMIT NULL は上限なし
	var rowLimit any
	if limit > 0 {
		rowLimit = limit
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, document, metadata, embedding <=> $2 AS distance
		FROM paper_documents
		WHERE collection = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, name, pgvector.NewVector(vector), rowLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var results []*ingestion.QueryResult
	for rows.Next() {
		var (
			result   ingestion.QueryResult
			metadata []byte
		)
		if err := rows.Scan(&result.ID, &result.Document, &metadata, &result.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan query result: %w", err)
		}
		if result.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, err
		}
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate query results: %w", err)
	}
	return results, nil
}

// Close は接続プールを閉じる
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	return nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

func unmarshalMetadata(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}
