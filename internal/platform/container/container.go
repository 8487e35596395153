package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storystack/autotagd/internal/core/tagging"
	"github.com/storystack/autotagd/internal/infra/blob"
	"github.com/storystack/autotagd/internal/infra/openai"
	"github.com/storystack/autotagd/internal/infra/postgres"
	"github.com/storystack/autotagd/internal/interface/api"
	"github.com/storystack/autotagd/internal/platform/config"
	"github.com/storystack/autotagd/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	TaggingService *tagging.Service
	AssetRepo      tagging.AssetRepository
	VocabularyRepo tagging.VocabularyRepository
	Server         *api.Server

	logger   *slog.Logger
	database *database.Database
	errorLog *openai.ErrorLog
}

type containerOptions struct {
	logger    *slog.Logger
	resolver  tagging.ImageResolver
	generator tagging.TagGenerator
	batches   tagging.BatchJobManager
	limiter   tagging.Limiter
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerImageResolver は ImageResolver を差し替える
func WithContainerImageResolver(resolver tagging.ImageResolver) ContainerOption {
	return func(opts *containerOptions) {
		opts.resolver = resolver
	}
}

// WithContainerTagGenerator は TagGenerator を差し替える
func WithContainerTagGenerator(generator tagging.TagGenerator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerBatchJobManager は BatchJobManager を差し替える
func WithContainerBatchJobManager(batches tagging.BatchJobManager) ContainerOption {
	return func(opts *containerOptions) {
		opts.batches = batches
	}
}

// WithContainerLimiter はレートリミッタを差し替える
func WithContainerLimiter(limiter tagging.Limiter) ContainerOption {
	return func(opts *containerOptions) {
		opts.limiter = limiter
	}
}

// NewContainer は設定からコンテナを生成する。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}

	return NewContainerWithDB(cfg, db, opts...)
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する。
func NewContainerWithDB(cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	// 失敗呼び出しのJSONLログ（ディレクトリ未設定なら無効）
	var errorLog *openai.ErrorLog
	if cfg.OpenAI.ErrorLogDir != "" {
		var err error
		errorLog, err = openai.NewErrorLog(cfg.OpenAI.ErrorLogDir)
		if err != nil {
			return nil, fmt.Errorf("エラーログ初期化に失敗しました: %w", err)
		}
	}

	// Repository (PostgreSQL)
	assetRepo := postgres.NewAssetRepository(db.Pool)
	vocabRepo := postgres.NewVocabularyRepository(db.Pool)

	// ImageResolver (S3互換Blobストア)
	resolver := options.resolver
	if resolver == nil {
		store, err := blob.NewStore(blob.Config{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("Blobストア初期化に失敗しました: %w", err)
		}
		resolver = blob.NewResolver(store, blob.WithResolverLogger(logger))
	}

	// TagGenerator (OpenAI Vision)
	generator := options.generator
	if generator == nil {
		visionClient, err := openai.NewVisionClient(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.VisionModel,
			openai.WithVisionLogger(logger),
			openai.WithErrorLog(errorLog),
		)
		if err != nil {
			return nil, fmt.Errorf("Visionクライアント初期化に失敗しました: %w", err)
		}
		generator = visionClient
	}

	// BatchJobManager (OpenAI Batch API)
	batches := options.batches
	if batches == nil {
		batchManager, err := openai.NewBatchManager(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.VisionModel,
			resolver,
			assetRepo,
			vocabRepo,
			openai.WithBatchLogger(logger),
			openai.WithBatchErrorLog(errorLog),
		)
		if err != nil {
			return nil, fmt.Errorf("バッチマネージャ初期化に失敗しました: %w", err)
		}
		batches = batchManager
	}

	// レートリミッタ（プロセスローカルのトークンバケット）
	limiter := options.limiter
	if limiter == nil {
		if cfg.RateLimit.RequestsPerMinute > 0 {
			limiter = tagging.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerMinute)
		} else {
			limiter = tagging.UnlimitedLimiter{}
		}
	}

	// TaggingService
	taggingService := tagging.NewService(
		resolver,
		generator,
		batches,
		assetRepo,
		vocabRepo,
		limiter,
		tagging.WithLogger(logger),
	)

	// HTTPサーバ
	handler := api.NewHandler(taggingService, assetRepo, logger)
	server := api.NewServer(handler, cfg.Server.APIToken, api.WithServerLogger(logger))

	return &ServiceContainer{
		TaggingService: taggingService,
		AssetRepo:      assetRepo,
		VocabularyRepo: vocabRepo,
		Server:         server,
		logger:         logger,
		database:       db,
		errorLog:       errorLog,
	}, nil
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() {
	if c == nil {
		return
	}
	if c.errorLog != nil {
		_ = c.errorLog.Close()
	}
	if c.database != nil {
		c.database.Close()
	}
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}
