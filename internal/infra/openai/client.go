package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/paper-rag/internal/core/ask"
)

const (
	// DefaultModel はデフォルトで使用するチャットモデル
	DefaultModel = "llama3"

	// DefaultChatBaseURL は OpenAI 互換 Chat Completions API のベースURL
	DefaultChatBaseURL = "http://ollama:11434/v1/"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 120 * time.Second

	// DefaultTemperature は生成時の既定温度
	DefaultTemperature = 0.2
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("LLM API key not set: please set LLM_API_KEY environment variable")

	// ErrNoChoices は応答に候補が含まれていない場合のエラー
	ErrNoChoices = errors.New("no completion choices returned")
)

// Client は OpenAI 互換 API を使用した LLM クライアント実装
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
}

type clientOptions struct {
	baseURL     string
	temperature float64
	timeout     time.Duration
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithChatBaseURL は API のベースURLを上書きする
func WithChatBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithTemperature は生成温度を上書きする
func WithTemperature(temperature float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = temperature
	}
}

// WithTimeout はAPIコールのタイムアウトを設定する
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.timeout = timeout
	}
}

// NewClientWithAPIKey はAPIキーとモデルを指定して Client を作成する
func NewClientWithAPIKey(apiKey, model string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	options := clientOptions{
		baseURL:     DefaultChatBaseURL,
		temperature: DefaultTemperature,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if model == "" {
		model = DefaultModel
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(withTrailingSlash(options.baseURL)),
	)

	return &Client{
		client:      client,
		model:       model,
		temperature: options.temperature,
		timeout:     options.timeout,
	}, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion はプロンプトに対する回答全体を返す
func (c *Client) GenerateCompletion(ctx context.Context, prompt string) (string, error) {
	var sb strings.Builder
	err := c.Stream(ctx, prompt, func(token string) error {
		sb.WriteString(token)
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Stream はプロンプトを送信し、生成されたトークンを受信順に onToken へ渡す
// onToken がエラーを返した時点でストリームを閉じる
func (c *Client) Stream(ctx context.Context, prompt string, onToken func(token string) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	received := false
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		received = true
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		if err := onToken(token); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("LLM API call failed: %w", err)
	}
	if !received {
		return ErrNoChoices
	}
	return nil
}

// インターフェース実装の確認
var _ ask.LLMClient = (*Client)(nil)
