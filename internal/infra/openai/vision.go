package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/storystack/autotagd/internal/core/tagging"
)

const (
	// DefaultModel はデフォルトで使用するVisionモデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout はAPI呼び出しのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second

	// DefaultRetryAfter はRetry-Afterヘッダがない場合の再試行待機時間
	DefaultRetryAfter = 60 * time.Second

	// maxCompletionTokens はタグ応答に十分なトークン上限
	maxCompletionTokens = 300
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set: please set OPENAI_API_KEY environment variable")
)

// VisionClient はOpenAI Vision APIを使用したタグ生成クライアント
type VisionClient struct {
	client   openai.Client
	model    string
	timeout  time.Duration
	errorLog *ErrorLog
	logger   *slog.Logger
}

// VisionOption はVisionClient構築時のオプション
type VisionOption func(*VisionClient)

// WithTimeout はAPI呼び出しのタイムアウトを設定する
func WithTimeout(timeout time.Duration) VisionOption {
	return func(c *VisionClient) {
		c.timeout = timeout
	}
}

// WithErrorLog は失敗呼び出しのJSONLログを設定する
func WithErrorLog(log *ErrorLog) VisionOption {
	return func(c *VisionClient) {
		c.errorLog = log
	}
}

// WithVisionLogger はロガーを差し替える
func WithVisionLogger(logger *slog.Logger) VisionOption {
	return func(c *VisionClient) {
		c.logger = logger
	}
}

// NewVisionClient は新しいVisionClientを作成する
func NewVisionClient(apiKey, model string, opts ...VisionOption) (*VisionClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if model == "" {
		model = DefaultModel
	}

	c := &VisionClient{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ModelName はモデル名を返す
func (c *VisionClient) ModelName() string {
	return c.model
}

// GenerateTags は1画像に対してボキャブラリ制約付きのタグを生成する
// 返却タグはvocabの部分集合であることが保証される
func (c *VisionClient) GenerateTags(ctx context.Context, image *tagging.ResolvedImage, vocab tagging.Vocabulary) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(buildTagPrompt(vocab)),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: image.URL,
				}),
			}),
		},
		MaxTokens: openai.Int(maxCompletionTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "asset_tags",
					Strict: openai.Bool(true),
					Schema: tagSchema(vocab),
				},
			},
		},
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapAPIError(err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no completion choices returned", tagging.ErrMalformedResponse)
	}

	content := completion.Choices[0].Message.Content
	tags, err := parseTagContent(content, vocab)
	if err != nil {
		_ = c.errorLog.Record(ErrorRecord{
			Timestamp:    time.Now(),
			ErrorType:    ErrorTypeParseFailed,
			Response:     TruncateString(content, 500),
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	return tags, nil
}

// mapAPIError はOpenAI APIエラーをドメインのエラー分類へ変換する
func mapAPIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("vision API call failed: %w", err)
	}

	switch apiErr.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", tagging.ErrAuth, err)
	case http.StatusTooManyRequests:
		if apiErr.Code == "insufficient_quota" {
			return fmt.Errorf("%w: %v", tagging.ErrQuotaExceeded, err)
		}
		return &tagging.RateLimitError{
			RetryAfter: retryAfterFrom(apiErr),
			Err:        err,
		}
	}

	return fmt.Errorf("vision API call failed: %w", err)
}

// retryAfterFrom はRetry-Afterヘッダから待機時間を取り出す
func retryAfterFrom(apiErr *openai.Error) time.Duration {
	if apiErr.Response != nil {
		if v := apiErr.Response.Header.Get("Retry-After"); v != "" {
			if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	return DefaultRetryAfter
}

// インターフェース実装の確認
var _ tagging.TagGenerator = (*VisionClient)(nil)
