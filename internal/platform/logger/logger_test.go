package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewJSONLogger はJSON出力とservice属性の付与を確認します
func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:   slog.LevelInfo,
		Format:  "json",
		Output:  &buf,
		Service: "autotagd",
	})

	log.Info("batch job reconciled", slog.String("batch_id", "batch_abc"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "batch job reconciled", record["msg"])
	assert.Equal(t, "autotagd", record["service"])
	assert.Equal(t, "batch_abc", record["batch_id"])
}

// TestNewTextLogger はテキスト形式の出力を確認します
func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: slog.LevelWarn, Format: "text", Output: &buf})

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped", "レベル未満のレコードは出力されない")
	assert.True(t, strings.Contains(out, "kept"))
}
