package openai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storystack/autotagd/internal/core/tagging"
)

var testVocab = tagging.Vocabulary{"beach", "sunset", "portrait", "food", "travel", "nature"}

// TestBuildTagPrompt はプロンプトにボキャブラリ全体が埋め込まれることを確認します
func TestBuildTagPrompt(t *testing.T) {
	prompt := buildTagPrompt(testVocab)

	assert.Contains(t, prompt, strings.Join(testVocab, ", "))
	assert.Contains(t, prompt, `{"tags": ["..."]}`)
}

// TestTagSchema はスキーマがボキャブラリのenumに制約されることを確認します
func TestTagSchema(t *testing.T) {
	schema := tagSchema(testVocab)

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	tags, ok := props["tags"].(map[string]any)
	require.True(t, ok)
	items, ok := tags["items"].(map[string]any)
	require.True(t, ok)

	assert.Equal(t, []string(testVocab), items["enum"])
	assert.Equal(t, tagging.MaxTagsPerAsset, tags["maxItems"])
	assert.Equal(t, false, schema["additionalProperties"])
}

// TestParseTagContent はモデル応答の解釈とボキャブラリ検閲を確認します
func TestParseTagContent(t *testing.T) {
	t.Run("正常な応答", func(t *testing.T) {
		tags, err := parseTagContent(`{"tags": ["beach", "sunset"]}`, testVocab)
		require.NoError(t, err)
		assert.Equal(t, []string{"beach", "sunset"}, tags)
	})

	t.Run("ボキャブラリ外のタグは除去される", func(t *testing.T) {
		tags, err := parseTagContent(`{"tags": ["beach", "ocean", "dream"]}`, testVocab)
		require.NoError(t, err)
		assert.Equal(t, []string{"beach"}, tags)
	})

	t.Run("上限を超えるタグは切り詰められる", func(t *testing.T) {
		tags, err := parseTagContent(`{"tags": ["beach", "sunset", "portrait", "food", "travel", "nature"]}`, testVocab)
		require.NoError(t, err)
		assert.Len(t, tags, tagging.MaxTagsPerAsset)
	})

	t.Run("JSONでない応答はErrMalformedResponse", func(t *testing.T) {
		_, err := parseTagContent(`I think this is a beach photo.`, testVocab)
		assert.ErrorIs(t, err, tagging.ErrMalformedResponse)
	})

	t.Run("tagsキーのない応答はErrMalformedResponse", func(t *testing.T) {
		_, err := parseTagContent(`{"labels": ["beach"]}`, testVocab)
		assert.ErrorIs(t, err, tagging.ErrMalformedResponse)
	})

	t.Run("空のtags配列は空タグとして成功する", func(t *testing.T) {
		tags, err := parseTagContent(`{"tags": []}`, testVocab)
		require.NoError(t, err)
		assert.Empty(t, tags)
	})
}
