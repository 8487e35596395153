package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// ErrMissingCredential は必須の認証情報が設定されていない場合のエラー
var ErrMissingCredential = errors.New("missing required credential")

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定
	Database DatabaseConfig

	// OpenAI設定（Vision + Batch API用）
	OpenAI OpenAIConfig

	// Blobストア設定（S3互換）
	Blob BlobConfig

	// HTTPサーバ設定
	Server ServerConfig

	// レート制限設定
	RateLimit RateLimitConfig
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

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey      string
	VisionModel string // タグ生成に使用するVisionモデル名
	ErrorLogDir string // 失敗呼び出しのJSONLログ出力先。空の場合は無効
}

// BlobConfig はS3互換Blobストアの接続設定
type BlobConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ServerConfig はHTTPサーバ設定
type ServerConfig struct {
	Port     int
	APIToken string // 空の場合は認証なしで起動する（開発用）
}

// RateLimitConfig はVision API呼び出しのレート制限設定
type RateLimitConfig struct {
	RequestsPerMinute int
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "storystack"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "storystack"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			VisionModel: getEnv("OPENAI_VISION_MODEL", "gpt-4o-mini"),
			ErrorLogDir: getEnv("OPENAI_ERROR_LOG_DIR", ""),
		},
		Blob: BlobConfig{
			Endpoint:  getEnv("BLOB_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("BLOB_ACCESS_KEY", ""),
			SecretKey: getEnv("BLOB_SECRET_KEY", ""),
			Bucket:    getEnv("BLOB_BUCKET", "assets"),
			UseSSL:    getEnvAsBool("BLOB_USE_SSL", false),
		},
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			APIToken: getEnv("AUTOTAG_API_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("VISION_REQUESTS_PER_MINUTE", 60),
		},
	}

	return cfg, nil
}

// Validate は起動に必須の設定が揃っているかを検証します
// 不足はオペレータが修正すべき設定エラーとして扱う
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingCredential)
	}
	if c.Blob.AccessKey == "" || c.Blob.SecretKey == "" {
		return fmt.Errorf("%w: BLOB_ACCESS_KEY / BLOB_SECRET_KEY", ErrMissingCredential)
	}
	if c.Database.Password == "" {
		return fmt.Errorf("%w: DB_PASSWORD", ErrMissingCredential)
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

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
