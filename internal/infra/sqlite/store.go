// Package sqlite は modernc.org/sqlite を使った単一ファイルの DocumentStore を提供する。
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/mo"
	sqlite "modernc.org/sqlite"

	"github.com/jinford/paper-rag/internal/core/ingestion"
	"github.com/jinford/paper-rag/internal/infra/memory"
)

// DefaultPath はパス未指定時のデータベースファイル
const DefaultPath = "./data/paper-rag.db"

const distanceFunc = "paper_cosine_distance"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions は距離関数を登録する。登録後に開いた接続で使える
func registerFunctions() error {
	registerOnce.Do(func() {
		if err := sqlite.RegisterDeterministicScalarFunction(distanceFunc, 2, cosineDistanceImpl); err != nil {
			registerErr = fmt.Errorf("register %s: %w", distanceFunc, err)
		}
	})
	return registerErr
}

func cosineDistanceImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%s: expected 2 arguments, got %d", distanceFunc, len(args))
	}
	a, err := asEmbedding(args[0])
	if err != nil {
		return nil, err
	}
	b, err := asEmbedding(args[1])
	if err != nil {
		return nil, err
	}
	return memory.CosineDistance(a, b), nil
}

func asEmbedding(v driver.Value) ([]float32, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeEmbedding(v)
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T, want BLOB", distanceFunc, v)
	}
}

// encodeEmbedding は float32 を長さプレフィックスなしのリトルエンディアンで並べる
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY,
	created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL REFERENCES collections(name) ON DELETE CASCADE,
	id TEXT NOT NULL,
	document TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);
`

// Store は1つの SQLite ファイルに保存する DocumentStore 実装
type Store struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

var _ ingestion.DocumentStore = (*Store)(nil)

// NewStore は path の Store を返す。ファイルは最初の操作時に開く
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath
	}
	return &Store{path: path}
}

// Path はデータベースファイルのパスを返す
func (s *Store) Path() string {
	return s.path
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	if err := registerFunctions(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	dsn := s.path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", s.path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s.db = db
	return db, nil
}

// EnsureCollection はファイルを開き、コレクションが無ければ作成する
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO collections (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	return nil
}

func requireCollection(ctx context.Context, db *sql.DB, name string) error {
	var found string
	err := db.QueryRowContext(ctx, `SELECT name FROM collections WHERE name = ?`, name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ingestion.ErrCollectionNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("look up collection %q: %w", name, err)
	}
	return nil
}

// Upsert はレコードを挿入または上書きする。上書きでは rowid を保つため List の順序は変わらない
func (s *Store) Upsert(ctx context.Context, name string, record ingestion.Record) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	if err := requireCollection(ctx, db, name); err != nil {
		return err
	}

	metadata := []byte("{}")
	if record.Metadata != nil {
		if metadata, err = json.Marshal(record.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, document, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			document = excluded.document,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP`,
		name, record.ID, record.Document, encodeEmbedding(record.Embedding), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("upsert %q: %w", record.ID, err)
	}
	return nil
}

// Get はIDでレコードを1件取得する
func (s *Store) Get(ctx context.Context, name, id string) (mo.Option[*ingestion.Record], error) {
	db, err := s.open(ctx)
	if err != nil {
		return mo.None[*ingestion.Record](), err
	}
	if err := requireCollection(ctx, db, name); err != nil {
		return mo.None[*ingestion.Record](), err
	}

	var (
		record    ingestion.Record
		embedding []byte
		metadata  string
	)
	err = db.QueryRowContext(ctx,
		`SELECT id, document, embedding, metadata FROM documents WHERE collection = ? AND id = ?`,
		name, id,
	).Scan(&record.ID, &record.Document, &embedding, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return mo.None[*ingestion.Record](), nil
	}
	if err != nil {
		return mo.None[*ingestion.Record](), fmt.Errorf("get %q: %w", id, err)
	}

	if record.Embedding, err = decodeEmbedding(embedding); err != nil {
		return mo.None[*ingestion.Record](), err
	}
	if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
		return mo.None[*ingestion.Record](), fmt.Errorf("unmarshal metadata: %w", err)
	}
	return mo.Some(&record), nil
}

// List は全レコードを登録順に返す
func (s *Store) List(ctx context.Context, name string) ([]*ingestion.Record, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCollection(ctx, db, name); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, document, metadata FROM documents WHERE collection = ? ORDER BY rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var records []*ingestion.Record
	for rows.Next() {
		var (
			record   ingestion.Record
			metadata string
		)
		if err := rows.Scan(&record.ID, &record.Document, &metadata); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Query は SQLite 内でコサイン距離を計算し、近い順に返す。limit が0以下なら全件
func (s *Store) Query(ctx context.Context, name string, vector []float32, limit int) ([]*ingestion.QueryResult, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireCollection(ctx, db, name); err != nil {
		return nil, err
	}

	// SQLite では負の LIMIT は上限なし
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, document, metadata, `+distanceFunc+`(embedding, ?) AS distance
		FROM documents
		WHERE collection = ?
		ORDER BY distance, rowid
		LIMIT ?`,
		encodeEmbedding(vector), name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var results []*ingestion.QueryResult
	for rows.Next() {
		var (
			result   ingestion.QueryResult
			metadata string
		)
		if err := rows.Scan(&result.ID, &result.Document, &metadata, &result.Distance); err != nil {
			return nil, fmt.Errorf("scan query result: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &result.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

// Close はデータベースを閉じる
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
