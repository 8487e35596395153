package openai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorType はVision API呼び出し失敗の種類を表します
type ErrorType string

const (
	// ErrorTypeParseFailed はモデル応答の解析エラー
	ErrorTypeParseFailed ErrorType = "parse_failed"
	// ErrorTypeRateLimit はレート制限エラー
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeAPI はAPIエラー（認証・クォータ等）
	ErrorTypeAPI ErrorType = "api_error"
	// ErrorTypeUnknown は不明なエラー
	ErrorTypeUnknown ErrorType = "unknown"
)

// ErrorRecord は失敗したVision API呼び出しのログレコードです
type ErrorRecord struct {
	// Timestamp はエラー発生時刻
	Timestamp time.Time `json:"timestamp"`
	// ErrorType はエラーの種類
	ErrorType ErrorType `json:"error_type"`
	// AssetID は対象アセットID（バッチ処理ではcustom_id）
	AssetID string `json:"asset_id"`
	// Response はモデルから返されたレスポンス
	Response string `json:"response"`
	// ErrorMessage はエラーメッセージ
	ErrorMessage string `json:"error_message"`
}

// ErrorLog は失敗したVision API呼び出しをJSONL形式で記録します
type ErrorLog struct {
	logFile  *os.File
	logMutex sync.Mutex
	enabled  bool
}

// NewErrorLog は新しいErrorLogを作成します
// logDirが空の場合は記録を無効化したインスタンスを返す
func NewErrorLog(logDir string) (*ErrorLog, error) {
	if logDir == "" {
		return &ErrorLog{enabled: false}, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// ログファイルは日付でローテーション
	logFileName := fmt.Sprintf("vision_errors_%s.jsonl", time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(logDir, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &ErrorLog{
		logFile: logFile,
		enabled: true,
	}, nil
}

// Close はログファイルを閉じます
func (l *ErrorLog) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Record はエラーをログに記録します
func (l *ErrorLog) Record(record ErrorRecord) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.logMutex.Lock()
	defer l.logMutex.Unlock()

	jsonBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}

	if _, err := l.logFile.Write(append(jsonBytes, '\n')); err != nil {
		return fmt.Errorf("failed to write log: %w", err)
	}

	slog.Warn("vision API error recorded",
		slog.String("error_type", string(record.ErrorType)),
		slog.String("asset_id", record.AssetID),
		slog.String("error", record.ErrorMessage),
	)

	return nil
}

// TruncateString は文字列を指定された長さに切り詰めます（ログ記録用）
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
