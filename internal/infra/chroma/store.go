// Package chroma は Chroma サーバー上の DocumentStore を提供する。
package chroma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/samber/mo"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

const (
	DefaultHost     = "chroma-db"
	DefaultPort     = 8000
	DefaultTenant   = "default_tenant"
	DefaultDatabase = "default_database"
	DefaultTimeout  = 30 * time.Second
)

// ErrEmbeddingFunctionUnset はベクトル未指定の書き込みや検索で返るエラー
var ErrEmbeddingFunctionUnset = errors.New("chroma: embedding provider not configured")

// Config はChroma接続設定
type Config struct {
	// BaseURL が設定されていれば Host/Port より優先する（例: http://localhost:8000）
	BaseURL  string
	Host     string
	Port     int
	Tenant   string
	Database string
	Timeout  time.Duration
}

// URL はサーバーのベースURLを返す
func (c Config) URL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

func (c Config) withDefaults() Config {
	if c.Tenant == "" {
		c.Tenant = DefaultTenant
	}
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Store は Chroma のコレクションにレコードを保存する DocumentStore 実装
// クライアントは最初の操作時に作成する
type Store struct {
	cfg      Config
	embedder ingestion.EmbeddingProvider
	logger   *slog.Logger

	mu          sync.Mutex
	client      chromago.Client
	collections map[string]chromago.Collection
}

var _ ingestion.DocumentStore = (*Store)(nil)

type StoreOption func(*Store)

// WithStoreLogger はロガーを設定する
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithEmbeddingProvider はコレクションの埋め込み関数として使う EmbeddingProvider を設定する
func WithEmbeddingProvider(embedder ingestion.EmbeddingProvider) StoreOption {
	return func(s *Store) {
		s.embedder = embedder
	}
}

// NewStore は新しい Store を返す
func NewStore(cfg Config, opts ...StoreOption) *Store {
	s := &Store{
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
		collections: make(map[string]chromago.Collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// BaseURL は接続先のURLを返す
func (s *Store) BaseURL() string {
	return s.cfg.URL()
}

func (s *Store) conn() (chromago.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	client, err := chromago.NewHTTPClient(
		chromago.WithBaseURL(s.cfg.URL()),
		chromago.WithDatabaseAndTenant(s.cfg.Database, s.cfg.Tenant),
	)
	if err != nil {
		return nil, fmt.Errorf("create chroma client for %s: %w", s.cfg.URL(), err)
	}
	s.client = client
	return client, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// EnsureCollection はサーバーの疎通を確認し、コレクションを取得または作成する
func (s *Store) EnsureCollection(ctx context.Context, name string) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", s.cfg.URL(), err)
	}
	coll, err := client.GetOrCreateCollection(ctx, name,
		chromago.WithEmbeddingFunctionCreate(embeddingFunction{provider: s.embedder}),
	)
	if err != nil {
		return fmt.Errorf("get or create collection %q: %w", name, err)
	}
	s.remember(name, coll)
	s.logger.Debug("Chroma のコレクションを準備しました", "collection", name, "id", coll.ID())
	return nil
}

// Upsert はレコードを1件挿入し、同じIDがあれば上書きする
func (s *Store) Upsert(ctx context.Context, name string, record ingestion.Record) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	coll, err := s.resolve(ctx, name)
	if err != nil {
		return err
	}
	err = coll.Upsert(ctx,
		chromago.WithIDs(chromago.DocumentID(record.ID)),
		chromago.WithTexts(record.Document),
		chromago.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(record.Embedding)),
		chromago.WithMetadatas(documentMetadata(record.Metadata)),
	)
	if err != nil {
		return fmt.Errorf("upsert %q into %q: %w", record.ID, name, err)
	}
	return nil
}

// Get はIDでレコードを1件取得する
func (s *Store) Get(ctx context.Context, name, recordID string) (mo.Option[*ingestion.Record], error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	coll, err := s.resolve(ctx, name)
	if err != nil {
		return mo.None[*ingestion.Record](), err
	}
	res, err := coll.Get(ctx,
		chromago.WithIDsGet(chromago.DocumentID(recordID)),
		chromago.WithIncludeGet(chromago.IncludeDocuments, chromago.IncludeMetadatas, chromago.IncludeEmbeddings),
	)
	if err != nil {
		return mo.None[*ingestion.Record](), fmt.Errorf("get %q from %q: %w", recordID, name, err)
	}
	records, err := toRecords(res)
	if err != nil {
		return mo.None[*ingestion.Record](), err
	}
	if len(records) == 0 {
		return mo.None[*ingestion.Record](), nil
	}
	return mo.Some(records[0]), nil
}

// List はコレクションの全レコードを返す。コレクションは作成しない
func (s *Store) List(ctx context.Context, name string) ([]*ingestion.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	coll, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	res, err := coll.Get(ctx,
		chromago.WithIncludeGet(chromago.IncludeDocuments, chromago.IncludeMetadatas),
	)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", name, err)
	}
	return toRecords(res)
}

// Query はベクトルに近い順にレコードを返す
func (s *Store) Query(ctx context.Context, name string, vector []float32, limit int) ([]*ingestion.QueryResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	coll, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		if limit, err = coll.Count(ctx); err != nil {
			return nil, fmt.Errorf("count %q: %w", name, err)
		}
		if limit == 0 {
			return nil, nil
		}
	}
	res, err := coll.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(limit),
		chromago.WithIncludeQuery(chromago.IncludeDocuments, chromago.IncludeMetadatas, chromago.IncludeDistances),
	)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", name, err)
	}
	return toQueryResults(res)
}

// Close はクライアントを閉じる
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.collections = make(map[string]chromago.Collection)
	return err
}

func (s *Store) remember(name string, coll chromago.Collection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = coll
}

// resolve はコレクション名からコレクションを引く。存在しなければ作成せず ErrCollectionNotFound を返す
func (s *Store) resolve(ctx context.Context, name string) (chromago.Collection, error) {
	s.mu.Lock()
	coll, ok := s.collections[name]
	s.mu.Unlock()
	if ok {
		return coll, nil
	}

	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	coll, err = client.GetCollection(ctx, name,
		chromago.WithEmbeddingFunctionGet(embeddingFunction{provider: s.embedder}),
	)
	if err != nil {
		if isMissingCollection(err) {
			return nil, fmt.Errorf("%w: %s: %w", ingestion.ErrCollectionNotFound, name, err)
		}
		return nil, fmt.Errorf("get collection %q: %w", name, err)
	}
	s.remember(name, coll)
	return coll, nil
}

// isMissingCollection はサーバーが未知のコレクションを報告したかを判定する
// Chroma はバージョンにより 404 または "does not exist" を含む 400 を返す
func isMissingCollection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "404")
}

// documentMetadata はメタデータを Chroma の属性に変換する。文字列以外は文字列化する
func documentMetadata(m map[string]any) chromago.DocumentMetadata {
	attrs := make([]*chromago.MetaAttribute, 0, len(m))
	for key, value := range m {
		s, ok := value.(string)
		if !ok {
			s = fmt.Sprint(value)
		}
		attrs = append(attrs, chromago.NewStringAttribute(key, s))
	}
	return chromago.NewDocumentMetadata(attrs...)
}

func metadataMap(md chromago.DocumentMetadata) (map[string]any, error) {
	if md == nil {
		return nil, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal chroma metadata: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal chroma metadata: %w", err)
	}
	return m, nil
}

func toRecords(res chromago.GetResult) ([]*ingestion.Record, error) {
	ids := res.GetIDs()
	docs := res.GetDocuments()
	metas := res.GetMetadatas()
	embs := res.GetEmbeddings()

	records := make([]*ingestion.Record, 0, len(ids))
	for i, id := range ids {
		record := &ingestion.Record{ID: string(id)}
		if i < len(docs) && docs[i] != nil {
			record.Document = docs[i].ContentString()
		}
		if i < len(metas) {
			m, err := metadataMap(metas[i])
			if err != nil {
				return nil, err
			}
			record.Metadata = m
		}
		if i < len(embs) && embs[i] != nil {
			record.Embedding = embs[i].ContentAsFloat32()
		}
		records = append(records, record)
	}
	return records, nil
}

func toQueryResults(res chromago.QueryResult) ([]*ingestion.QueryResult, error) {
	idGroups := res.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}
	docGroups := res.GetDocumentsGroups()
	metaGroups := res.GetMetadatasGroups()
	distGroups := res.GetDistancesGroups()

	results := make([]*ingestion.QueryResult, 0, len(idGroups[0]))
	for i, id := range idGroups[0] {
		result := &ingestion.QueryResult{Record: ingestion.Record{ID: string(id)}}
		if len(docGroups) > 0 && i < len(docGroups[0]) && docGroups[0][i] != nil {
			result.Document = docGroups[0][i].ContentString()
		}
		if len(metaGroups) > 0 && i < len(metaGroups[0]) {
			m, err := metadataMap(metaGroups[0][i])
			if err != nil {
				return nil, err
			}
			result.Metadata = m
		}
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			result.Distance = float64(distGroups[0][i])
		}
		results = append(results, result)
	}
	return results, nil
}

// embeddingFunction は EmbeddingProvider を Chroma の埋め込み関数として使うアダプタ
// Store は常にベクトルを渡すため、サーバー側から呼ばれるのはベクトル未指定の操作だけ
type embeddingFunction struct {
	provider ingestion.EmbeddingProvider
}

func (f embeddingFunction) EmbedDocuments(ctx context.Context, texts []string) ([]embeddings.Embedding, error) {
	out := make([]embeddings.Embedding, 0, len(texts))
	for _, text := range texts {
		emb, err := f.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, emb)
	}
	return out, nil
}

func (f embeddingFunction) EmbedQuery(ctx context.Context, text string) (embeddings.Embedding, error) {
	if f.provider == nil {
		return nil, ErrEmbeddingFunctionUnset
	}
	vector, err := f.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbeddingFromFloat32(vector), nil
}

var _ embeddings.EmbeddingFunction = embeddingFunction{}
