package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server は自動タグ付けAPIのHTTPサーバ
type Server struct {
	echo     *echo.Echo
	handler  *Handler
	apiToken string
	logger   *slog.Logger
}

// ServerOption はServer構築時のオプション
type ServerOption func(*Server)

// WithServerLogger はロガーを差し替える
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer は新しいServerを作成する
// apiTokenが空でない場合、全エンドポイントにBearerトークン認証がかかる
func NewServer(handler *Handler, apiToken string, opts ...ServerOption) *Server {
	s := &Server{
		echo:     echo.New(),
		handler:  handler,
		apiToken: apiToken,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORS())
	s.echo.Use(s.requestLogger())

	v1 := s.echo.Group("/v1")
	if s.apiToken != "" {
		v1.Use(s.bearerAuth())
	}
	v1.POST("/autotag", s.handler.AutoTag)
	v1.GET("/autotag", s.handler.PollBatch)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Echo はテスト用に内部のechoインスタンスを返す
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start は指定アドレスでサーバを起動する
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown はサーバを停止する
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// bearerAuth はAuthorization: Bearer <token> を検証するミドルウェア
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiToken)) != 1 {
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			}
			return next(c)
		}
	}
}

// requestLogger はリクエスト単位の構造化ログを出力するミドルウェア
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
			)
			return nil
		},
	})
}
