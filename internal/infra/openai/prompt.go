package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/storystack/autotagd/internal/core/tagging"
)

// buildTagPrompt はボキャブラリ制約付きのタグ生成プロンプトを構築する
func buildTagPrompt(vocab tagging.Vocabulary) string {
	var b strings.Builder
	b.WriteString("You are tagging a photo for an asset library. ")
	b.WriteString("Choose between 1 and ")
	fmt.Fprintf(&b, "%d", tagging.MaxTagsPerAsset)
	b.WriteString(" tags that best describe the image. ")
	b.WriteString("You MUST only use tags from this list, exactly as written: ")
	b.WriteString(strings.Join(vocab, ", "))
	b.WriteString(`. Respond with JSON: {"tags": ["..."]}.`)
	return b.String()
}

// tagSchema はレスポンスをボキャブラリのenumに制約するJSONスキーマを返す
func tagSchema(vocab tagging.Vocabulary) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "string",
					"enum": []string(vocab),
				},
				"minItems": 1,
				"maxItems": tagging.MaxTagsPerAsset,
			},
		},
		"required":             []string{"tags"},
		"additionalProperties": false,
	}
}

// tagResponse はモデル応答のJSON構造
type tagResponse struct {
	Tags []string `json:"tags"`
}

// parseTagContent はモデル応答からタグを取り出し、ボキャブラリ外のタグを除去する
// JSONとして解釈できない、またはtagsキーがない応答はErrMalformedResponseを返す
func parseTagContent(content string, vocab tagging.Vocabulary) ([]string, error) {
	var resp tagResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", tagging.ErrMalformedResponse, err)
	}
	if resp.Tags == nil {
		return nil, fmt.Errorf("%w: missing tags field", tagging.ErrMalformedResponse)
	}

	// スキーマ違反への防衛。ボキャブラリ外のタグは黙って捨てる
	return vocab.Filter(resp.Tags, tagging.MaxTagsPerAsset), nil
}
