package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding は埋め込み入力の概算に使うエンコーディング
const DefaultEncoding = "cl100k_base"

// TokenCounter はトークン数をカウントする機能を提供する
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
// encodingName が空の場合は cl100k_base を使用する
func NewTokenCounter(encodingName string) (*TokenCounter, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		// エンコーディングが初期化されていない場合は推定値を返す
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateCounter は文字数から推定する TokenCounter
// tiktoken のエンコーディングを取得できない環境で使う
type EstimateCounter struct{}

// CountTokens は推定トークン数を返す
func (EstimateCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens はテキストの推定トークン数を返す
// 英語は約4文字、日本語は約1文字で1トークンなので、平均として3文字で1トークンとする
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 2) / 3
}
