package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jinford/paper-rag/internal/core/ingestion"
)

const (
	// DefaultBaseURL はOpenAlex APIのベースURL
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 30 * time.Second

	userAgent = "paper-rag"
)

// Client は OpenAlex API を使用した WorkFetcher 実装
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailto     string
	logger     *slog.Logger
}

type clientOptions struct {
	httpClient *http.Client
	mailto     string
	logger     *slog.Logger
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithMailto は polite pool 用の連絡先メールアドレスを設定する
func WithMailto(mailto string) ClientOption {
	return func(o *clientOptions) {
		o.mailto = mailto
	}
}

// WithTimeout はHTTPクライアントのタイムアウトを設定する。0以下は無視する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient は新しい Client を作成する
func NewClient(baseURL string, opts ...ClientOption) *Client {
	options := clientOptions{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &Client{
		httpClient: options.httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		mailto:     options.mailto,
		logger:     options.logger,
	}
}

type worksResponse struct {
	Results []workJSON `json:"results"`
}

type workJSON struct {
	Title                 *string          `json:"title"`
	Abstract              *string          `json:"abstract"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// WorksURL は DOI で絞り込む works エンドポイントのURLを返す
func (c *Client) WorksURL(identifier string) string {
	query := url.Values{}
	query.Set("filter", "doi:"+identifier)
	if c.mailto != "" {
		query.Set("mailto", c.mailto)
	}
	return c.baseURL + "/works?" + query.Encode()
}

// FetchWork は DOI に一致する最初の論文を取得する
func (c *Client) FetchWork(ctx context.Context, identifier string) (*ingestion.Work, error) {
	endpoint := c.WorksURL(identifier)
	c.logger.Info("OpenAlex APIからデータ取得を開始します", "url", endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ingestion.ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: send request: %w", ingestion.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: openalex status %d: %s", ingestion.ErrFetch, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var works worksResponse
	if err := json.NewDecoder(resp.Body).Decode(&works); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ingestion.ErrFetch, err)
	}

	c.logger.Info("APIレスポンスを受信しました", "results", len(works.Results))

	if len(works.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ingestion.ErrNotFound, identifier)
	}

	first := works.Results[0]
	work := &ingestion.Work{
		Identifier: identifier,
		Title:      deref(first.Title),
		Abstract:   deref(first.Abstract),
	}
	if first.Abstract == nil && len(first.AbstractInvertedIndex) > 0 {
		work.Abstract = RebuildAbstract(first.AbstractInvertedIndex)
	}

	c.logger.Info("論文情報を抽出しました", "title", work.Title, "abstract", work.Abstract)
	return work, nil
}

// RebuildAbstract は転置インデックス形式の要旨を元の語順に戻す
func RebuildAbstract(index map[string][]int) string {
	maxPos := -1
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	if maxPos < 0 {
		return ""
	}

	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 {
				words[p] = word
			}
		}
	}

	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			parts = append(parts, w)
		}
	}
	return strings.Join(parts, " ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// インターフェース実装の確認
var _ ingestion.WorkFetcher = (*Client)(nil)
