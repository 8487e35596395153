package logger

import (
	"io"
	"log/slog"
	"os"
)

// Config はロガーの設定
type Config struct {
	Level   slog.Level
	Format  string // "json" or "text"
	Output  io.Writer
	Service string
}

// DefaultConfig はデフォルトのロガー設定
func DefaultConfig() Config {
	return Config{
		Level:   slog.LevelInfo,
		Format:  "json",
		Service: "autotagd",
	}
}

// New は新しいロガーを作成し、デフォルトロガーとして設定します
// 全レコードにservice属性を付与します
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default: // "json"
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With(slog.String("service", cfg.Service))
	}
	slog.SetDefault(logger)

	return logger
}
