package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSelectStrategy は件数による処理戦略の選択を確認します
func TestSelectStrategy(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  Strategy
	}{
		{"1件は即時処理", 1, StrategyImmediate},
		{"5件は即時処理の上限", 5, StrategyImmediate},
		{"6件からチャンク処理", 6, StrategyChunked},
		{"100件はチャンク処理の上限", 100, StrategyChunked},
		{"101件から非同期バッチ", 101, StrategyBatch},
		{"150件は非同期バッチ", 150, StrategyBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectStrategy(tt.count))
		})
	}
}
