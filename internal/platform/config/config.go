package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ストアのバックエンド名
const (
	BackendChroma   = "chroma"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// 取り込み対象の論文
	Paper PaperConfig

	// OpenAlex API設定
	OpenAlex OpenAlexConfig

	// Embedding設定（OpenAI互換サーバー）
	Embedding EmbeddingConfig

	// ストア設定
	Store StoreConfig

	// Chroma設定
	Chroma ChromaConfig

	// Database設定（postgres バックエンド用）
	Database DatabaseConfig

	// SQLite設定
	SQLite SQLiteConfig

	// 回答生成用LLM設定
	LLM LLMConfig

	// HTTPサーバー設定
	Server ServerConfig

	// ログ設定
	Log LogConfig
}

// PaperConfig は取り込む論文の設定
type PaperConfig struct {
	DOI string
}

// OpenAlexConfig はOpenAlex API設定
type OpenAlexConfig struct {
	BaseURL string
	Mailto  string // polite pool 用の連絡先
	Timeout time.Duration
}

// EmbeddingConfig はEmbedding API設定
type EmbeddingConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	MaxTokens int // 入力トークン数の警告しきい値（0以下で無効）
}

// StoreConfig はドキュメントストア設定
type StoreConfig struct {
	Backend    string
	Collection string
	RecordID   string
}

// ChromaConfig はChroma接続設定
type ChromaConfig struct {
	Host     string
	Port     int
	Tenant   string
	Database string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// SQLiteConfig はSQLiteファイル設定
type SQLiteConfig struct {
	Path string
}

// LLMConfig はチャット補完API設定
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port              int
	CORSAllowedOrigin string
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
// 検証は呼び出し側で上書きを適用した後に Validate で行います
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Paper: PaperConfig{
			DOI: getEnv("PAPER_DOI", "https://doi.org/10.2307/2118559"),
		},
		OpenAlex: OpenAlexConfig{
			BaseURL: getEnv("OPENALEX_BASE_URL", "https://api.openalex.org"),
			Mailto:  getEnv("OPENALEX_MAILTO", ""),
			Timeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Embedding: EmbeddingConfig{
			BaseURL:   getEnv("EMBEDDING_BASE_URL", "http://ollama:11434/v1"),
			APIKey:    getEnv("EMBEDDING_API_KEY", "ollama"),
			Model:     getEnv("EMBEDDING_MODEL", "all-minilm"),
			Dimension: getEnvAsInt("EMBEDDING_DIMENSION", 384),
			MaxTokens: getEnvAsInt("EMBEDDING_MAX_TOKENS", 256),
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", BackendChroma),
			Collection: getEnv("STORE_COLLECTION", "fermat"),
			RecordID:   getEnv("STORE_RECORD_ID", "fermat-1"),
		},
		Chroma: ChromaConfig{
			Host:     getEnv("CHROMA_HOST", "chroma-db"),
			Port:     getEnvAsInt("CHROMA_PORT", 8000),
			Tenant:   getEnv("CHROMA_TENANT", "default_tenant"),
			Database: getEnv("CHROMA_DATABASE", "default_database"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "paperrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "paperrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "./data/paper-rag.db"),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("LLM_BASE_URL", "http://ollama:11434/v1"),
			APIKey:      getEnv("LLM_API_KEY", "ollama"),
			Model:       getEnv("LLM_MODEL", "llama3"),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.2),
		},
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:5173"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendChroma, BackendPostgres, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (chroma, postgres, sqlite, memory)", c.Store.Backend)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("EMBEDDING_DIMENSION must be positive: %d", c.Embedding.Dimension)
	}
	if c.Store.Collection == "" {
		return errors.New("STORE_COLLECTION must not be empty")
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
